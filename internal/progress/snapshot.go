package progress

import (
	"math"
	"strconv"
	"time"

	"github.com/ignite/customer-sync/internal/domain"
)

// Snapshot is the point-in-time view served by GET /customers/progress and
// sent as the first frame of every SSE subscription. It is derived entirely
// from the job row, the clock, and the presentation inputs — never stored.
type Snapshot struct {
	Type   EventType           `json:"type"`
	JobID  string              `json:"jobId,omitempty"`
	Status domain.ImportStatus `json:"status"`

	RowsProcessed string `json:"rowsProcessed"`
	RowsInserted  string `json:"rowsInserted"`
	BytesRead     string `json:"bytesRead"`

	Percent        float64 `json:"percent"`
	RateRowsPerSec float64 `json:"rateRowsPerSec"`
	ElapsedSec     int64   `json:"elapsedSec"`
	EtaSec         *int64  `json:"etaSec"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	Error       string     `json:"error,omitempty"`

	// DisableSync tells the UI to grey out the sync button while a run is
	// live; the server still enforces the singleton on POST.
	DisableSync bool `json:"disableSync"`

	RecentCustomers []domain.Customer `json:"recentCustomers"`

	TS string `json:"ts"`
}

func (Snapshot) Kind() EventType { return EventSnapshot }

// BuildSnapshot derives the progress view. A nil job yields the synthetic
// IDLE snapshot served before the first import ever runs. totalRows is
// presentation-only: it scales percent and ETA, nothing else.
func BuildSnapshot(job *domain.ImportJob, now time.Time, totalRows int64, recent []domain.Customer) Snapshot {
	if recent == nil {
		recent = []domain.Customer{}
	}

	s := Snapshot{
		Type:            EventSnapshot,
		Status:          domain.ImportIdle,
		RowsProcessed:   "0",
		RowsInserted:    "0",
		BytesRead:       "0",
		RecentCustomers: recent,
		TS:              now.UTC().Format(time.RFC3339),
	}
	if job == nil {
		return s
	}

	s.JobID = job.ID
	s.Status = job.Status
	s.RowsProcessed = strconv.FormatInt(job.RowsProcessed, 10)
	s.RowsInserted = strconv.FormatInt(job.RowsInserted, 10)
	s.BytesRead = strconv.FormatInt(job.BytesRead, 10)
	s.Error = job.Error
	s.DisableSync = job.Status == domain.ImportRunning

	if !job.StartedAt.IsZero() {
		t := job.StartedAt
		s.StartedAt = &t
	}
	if !job.UpdatedAt.IsZero() {
		t := job.UpdatedAt
		s.UpdatedAt = &t
	}
	s.CompletedAt = job.CompletedAt

	// Terminal jobs freeze the clock at completion; live jobs keep counting.
	end := now
	if job.Status.Terminal() && job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	if !job.StartedAt.IsZero() && end.After(job.StartedAt) {
		s.ElapsedSec = int64(end.Sub(job.StartedAt).Seconds())
	}

	if s.ElapsedSec > 0 {
		s.RateRowsPerSec = float64(job.RowsProcessed) / float64(s.ElapsedSec)
	}

	if totalRows > 0 {
		pct := float64(job.RowsProcessed) / float64(totalRows) * 100
		s.Percent = math.Min(100, math.Max(0, pct))
	}

	if totalRows > 0 && s.RateRowsPerSec > 0 {
		remaining := totalRows - job.RowsProcessed
		if remaining < 0 {
			remaining = 0
		}
		eta := int64(math.Ceil(float64(remaining) / s.RateRowsPerSec))
		s.EtaSec = &eta
	}

	return s
}
