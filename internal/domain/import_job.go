package domain

import "time"

// ImportStatus enumerates the lifecycle states of an import job.
type ImportStatus string

const (
	ImportIdle      ImportStatus = "IDLE"
	ImportRunning   ImportStatus = "RUNNING"
	ImportCompleted ImportStatus = "COMPLETED"
	ImportFailed    ImportStatus = "FAILED"
)

// Terminal reports whether the status is a final state.
func (s ImportStatus) Terminal() bool {
	return s == ImportCompleted || s == ImportFailed
}

// ImportJob is the durable control record for one end-to-end import run.
// BytesRead, RowsProcessed, RowsInserted, and LastRowHash together form the
// resume checkpoint; they are always written in a single statement so a
// restart never observes a torn checkpoint.
type ImportJob struct {
	ID       string       `json:"id" db:"id"`
	FilePath string       `json:"file_path" db:"file_path"`
	Status   ImportStatus `json:"status" db:"status"`

	// Counters are 64-bit: a 50M-row file at a few hundred bytes per row
	// overflows 32-bit byte offsets almost immediately.
	BytesRead     int64 `json:"bytes_read" db:"bytes_read"`
	RowsProcessed int64 `json:"rows_processed" db:"rows_processed"`
	RowsInserted  int64 `json:"rows_inserted" db:"rows_inserted"`

	// LastRowHash is the fingerprint of the most recently committed input
	// row; empty before the first commit.
	LastRowHash string `json:"last_row_hash,omitempty" db:"last_row_hash"`

	Error string `json:"error,omitempty" db:"error"`

	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
