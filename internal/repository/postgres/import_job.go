package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/customer-sync/internal/domain"
	"github.com/ignite/customer-sync/internal/service/importjob"
)

const importJobColumns = `
	id, file_path, status, bytes_read, rows_processed, rows_inserted,
	COALESCE(last_row_hash,''), COALESCE(error,''),
	started_at, completed_at, updated_at`

// ImportJobRepo implements importjob.Repository against PostgreSQL.
type ImportJobRepo struct{ db *sql.DB }

// NewImportJobRepo creates a Postgres-backed import job repository.
func NewImportJobRepo(db *sql.DB) *ImportJobRepo { return &ImportJobRepo{db: db} }

func (r *ImportJobRepo) Create(ctx context.Context, job *domain.ImportJob) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO import_jobs
			(id, file_path, status, bytes_read, rows_processed, rows_inserted,
			 last_row_hash, error, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), NOW(), NOW())
		RETURNING started_at, updated_at
	`, job.ID, job.FilePath, job.Status, job.BytesRead, job.RowsProcessed,
		job.RowsInserted, job.LastRowHash, job.Error).
		Scan(&job.StartedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create import job: %w", err)
	}
	return nil
}

func (r *ImportJobRepo) Get(ctx context.Context, id string) (*domain.ImportJob, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1`, id)
	return scanImportJob(row)
}

func (r *ImportJobRepo) FindLatestRunning(ctx context.Context) (*domain.ImportJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+importJobColumns+`
		FROM import_jobs
		WHERE status = 'RUNNING'
		ORDER BY started_at DESC
		LIMIT 1`)
	return scanImportJob(row)
}

func (r *ImportJobRepo) FindLatest(ctx context.Context) (*domain.ImportJob, error) {
	// A live run always wins; otherwise whatever was touched last.
	row := r.db.QueryRowContext(ctx, `
		SELECT `+importJobColumns+`
		FROM import_jobs
		ORDER BY (status = 'RUNNING') DESC, updated_at DESC
		LIMIT 1`)
	return scanImportJob(row)
}

func (r *ImportJobRepo) UpdateProgress(ctx context.Context, id string, cp importjob.Checkpoint) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET bytes_read = $1, rows_processed = $2, rows_inserted = $3,
		    last_row_hash = NULLIF($4,''), updated_at = NOW()
		WHERE id = $5
	`, cp.BytesRead, cp.RowsProcessed, cp.RowsInserted, cp.LastRowHash, id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return importjob.ErrNotFound
	}
	return nil
}

func (r *ImportJobRepo) MarkCompleted(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET status = 'COMPLETED', error = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return importjob.ErrNotFound
	}
	return nil
}

func (r *ImportJobRepo) MarkFailed(ctx context.Context, id string, msg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET status = 'FAILED', error = $1, completed_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`, msg, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return importjob.ErrNotFound
	}
	return nil
}

func scanImportJob(row *sql.Row) (*domain.ImportJob, error) {
	j := &domain.ImportJob{}
	err := row.Scan(
		&j.ID, &j.FilePath, &j.Status, &j.BytesRead, &j.RowsProcessed,
		&j.RowsInserted, &j.LastRowHash, &j.Error,
		&j.StartedAt, &j.CompletedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, importjob.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan import job: %w", err)
	}
	return j, nil
}
