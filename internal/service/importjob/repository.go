package importjob

import (
	"context"

	"github.com/ignite/customer-sync/internal/domain"
)

// Checkpoint is the consistent progress record written after each admitted
// flush. All four fields land in one UPDATE so a crash between writes can
// never leave the cursor and the marker out of step.
type Checkpoint struct {
	BytesRead     int64
	RowsProcessed int64
	RowsInserted  int64
	LastRowHash   string
}

// Repository defines the data access contract for import jobs.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new job row. The caller assigns the ID.
	Create(ctx context.Context, job *domain.ImportJob) error

	// Get returns a job by ID. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.ImportJob, error)

	// FindLatestRunning returns the most recently started RUNNING job.
	// Returns ErrNotFound when no import is live.
	FindLatestRunning(ctx context.Context) (*domain.ImportJob, error)

	// FindLatest returns the job of record for progress snapshots: the
	// RUNNING job if one exists, otherwise the most recently updated job.
	// Returns ErrNotFound when the table is empty.
	FindLatest(ctx context.Context) (*domain.ImportJob, error)

	// UpdateProgress writes one consistent checkpoint and refreshes
	// updated_at.
	UpdateProgress(ctx context.Context, id string, cp Checkpoint) error

	// MarkCompleted transitions the job to COMPLETED and stamps completed_at.
	MarkCompleted(ctx context.Context, id string) error

	// MarkFailed transitions the job to FAILED with an operator-readable
	// message and stamps completed_at.
	MarkFailed(ctx context.Context, id string, msg string) error
}
