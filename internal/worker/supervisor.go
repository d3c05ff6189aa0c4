package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/customer-sync/internal/config"
	"github.com/ignite/customer-sync/internal/domain"
	"github.com/ignite/customer-sync/internal/pkg/distlock"
	"github.com/ignite/customer-sync/internal/pkg/logger"
	"github.com/ignite/customer-sync/internal/progress"
	"github.com/ignite/customer-sync/internal/service/importjob"
)

// =============================================================================
// WORKER SUPERVISOR
// =============================================================================
// Guarantees at most one live import worker per process, adopts interrupted
// jobs on boot, bridges worker events into the progress broker, and owns the
// terminal FAILED write on shutdown. The in-process state machine is the
// authority; the distributed lock only guards against a second process being
// pointed at the same database.

// State is the supervisor lifecycle state.
type State string

const (
	StateIdle     State = "IDLE"
	StateSpawning State = "SPAWNING"
	StateRunning  State = "RUNNING"
	StateDraining State = "DRAINING"
)

const (
	importLockKey = "customer-import"
	leaseTTL      = 60 * time.Second
)

var (
	// ErrImportRunning rejects a start while another import is live, either
	// in this process or (via the lease) in a sibling process.
	ErrImportRunning = errors.New("an import is already running")

	// ErrSourceFile rejects a start whose CSV path does not point at a
	// readable regular file.
	ErrSourceFile = errors.New("source file unavailable")

	// ErrSupervisorStopped rejects starts after shutdown has begun.
	ErrSupervisorStopped = errors.New("supervisor is stopped")
)

// StartRequest carries the per-run overrides from the sync endpoint. Zero
// fields fall back to the configured defaults.
type StartRequest struct {
	FilePath      string
	BatchSize     int
	ProgressEvery time.Duration
	TotalRows     int64
}

// Supervisor runs at most one ImportWorker and cleans up after it.
type Supervisor struct {
	jobs    importjob.Repository
	flusher BatchFlusher
	broker  *progress.Broker
	cfg     config.ImportConfig

	mirror *progress.Mirror
	lock   distlock.DistLock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	current *domain.ImportJob
}

// NewSupervisor wires the supervisor to its job store, batch flusher, and
// event broker. Optional collaborators are attached with SetMirror and
// SetLockBackends before the first Start.
func NewSupervisor(jobs importjob.Repository, flusher BatchFlusher, broker *progress.Broker, cfg config.ImportConfig) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		jobs:    jobs,
		flusher: flusher,
		broker:  broker,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateIdle,
	}
}

// SetMirror attaches the optional Redis checkpoint mirror.
func (s *Supervisor) SetMirror(m *progress.Mirror) {
	s.mirror = m
}

// SetLockBackends attaches the distributed import lock. Redis is preferred
// when the client is non-nil; otherwise a Postgres advisory lock is used.
func (s *Supervisor) SetLockBackends(redisClient *redis.Client, db *sql.DB) {
	s.lock = distlock.NewLock(redisClient, db, importLockKey, leaseTTL)
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentJob returns the job owned by the live worker, or nil when idle.
func (s *Supervisor) CurrentJob() *domain.ImportJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Start launches an import. When an interrupted RUNNING job exists it is
// resumed in place under its original id and file; otherwise a fresh job row
// is created. A second start while a worker is live returns the live job
// together with ErrImportRunning so callers can report the conflict.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (*domain.ImportJob, error) {
	select {
	case <-s.ctx.Done():
		return nil, ErrSupervisorStopped
	default:
	}

	path := req.FilePath
	if path == "" {
		path = s.cfg.CSVPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFile, err)
	}
	if err := checkRegularFile(abs); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != StateIdle {
		job := s.current
		s.mu.Unlock()
		return job, ErrImportRunning
	}
	s.state = StateSpawning
	s.mu.Unlock()

	if err := s.acquireLease(ctx); err != nil {
		s.toIdle()
		return nil, err
	}

	job, params, err := s.prepare(ctx, abs, req)
	if err != nil {
		s.releaseLease()
		s.toIdle()
		return nil, err
	}

	s.spawn(job, params)
	return job, nil
}

// ResumeOnBoot adopts an interrupted import left behind by a previous
// process. Called once during startup, before the HTTP listener opens.
func (s *Supervisor) ResumeOnBoot(ctx context.Context) error {
	orphan, err := s.jobs.FindLatestRunning(ctx)
	if errors.Is(err, importjob.ErrNotFound) {
		log.Println("[Supervisor] no interrupted import to resume")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find interrupted import: %w", err)
	}

	if err := checkRegularFile(orphan.FilePath); err != nil {
		// The job can never finish without its source. Retire it rather
		// than blocking every future import behind a dead RUNNING row.
		log.Printf("[Supervisor] cannot resume job %s: %v", orphan.ID, err)
		if ferr := s.jobs.MarkFailed(ctx, orphan.ID, fmt.Sprintf("resume failed: source file %s unavailable", orphan.FilePath)); ferr != nil {
			return fmt.Errorf("retire unresumable job %s: %w", orphan.ID, ferr)
		}
		return nil
	}

	log.Printf("[Supervisor] resuming interrupted job %s: cursor=%d, %d rows committed",
		orphan.ID, orphan.BytesRead, orphan.RowsProcessed)

	_, err = s.Start(ctx, StartRequest{FilePath: orphan.FilePath})
	if errors.Is(err, ErrImportRunning) {
		// A sibling already holds the lease and is resuming it.
		log.Printf("[Supervisor] job %s is owned by another process", orphan.ID)
		return nil
	}
	return err
}

// Shutdown stops the live worker, marks its job FAILED if it is still
// RUNNING, and closes the event stream. Safe to call more than once.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	state := s.state
	job := s.current
	if state == StateRunning || state == StateSpawning {
		s.state = StateDraining
	}
	s.mu.Unlock()

	s.cancel()

	if state == StateRunning || state == StateSpawning {
		if job != nil {
			log.Printf("[Supervisor] draining import worker for job %s", job.ID)
		}

		drained := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			log.Println("[Supervisor] worker did not drain before the shutdown deadline")
		}

		if job != nil {
			s.failInterrupted(ctx, job.ID)
		}
	}

	s.broker.Shutdown()
	log.Println("[Supervisor] stopped")
}

// prepare picks the job this run will execute: the interrupted RUNNING job
// when one exists and its file is still readable, else a fresh row.
func (s *Supervisor) prepare(ctx context.Context, path string, req StartRequest) (*domain.ImportJob, ImportParams, error) {
	params := ImportParams{
		FilePath:      path,
		BatchSize:     s.cfg.BatchSize,
		ProgressEvery: s.cfg.ProgressEvery(),
		TotalRows:     s.cfg.TotalRows,
		BufferSize:    s.cfg.HighWaterMark,
	}
	if req.BatchSize > 0 {
		params.BatchSize = req.BatchSize
	}
	if req.ProgressEvery > 0 {
		params.ProgressEvery = req.ProgressEvery
	}
	if req.TotalRows > 0 {
		params.TotalRows = req.TotalRows
	}

	orphan, err := s.jobs.FindLatestRunning(ctx)
	if err != nil && !errors.Is(err, importjob.ErrNotFound) {
		return nil, params, fmt.Errorf("find running import: %w", err)
	}

	if orphan != nil {
		if fileErr := checkRegularFile(orphan.FilePath); fileErr != nil {
			log.Printf("[Supervisor] job %s is not resumable: %v", orphan.ID, fileErr)
			if err := s.jobs.MarkFailed(ctx, orphan.ID, fmt.Sprintf("resume failed: source file %s unavailable", orphan.FilePath)); err != nil {
				return nil, params, fmt.Errorf("retire unresumable job %s: %w", orphan.ID, err)
			}
		} else {
			// Resume in place: same id, same file, persisted checkpoint.
			params.FilePath = orphan.FilePath
			params.Resume = &Resume{
				StartBytes:    orphan.BytesRead,
				OverlapBytes:  s.cfg.ResumeOverlap,
				LastRowHash:   orphan.LastRowHash,
				RowsProcessed: orphan.RowsProcessed,
				RowsInserted:  orphan.RowsInserted,
			}
			return orphan, params, nil
		}
	}

	job := &domain.ImportJob{
		ID:       uuid.New().String(),
		FilePath: path,
		Status:   domain.ImportRunning,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, params, fmt.Errorf("create import job: %w", err)
	}
	return job, params, nil
}

func (s *Supervisor) spawn(job *domain.ImportJob, params ImportParams) {
	wctx, cancel := context.WithCancel(s.ctx)
	w := NewImportWorker(job, params, s.jobs, s.flusher, s.mirror)

	s.mu.Lock()
	s.state = StateRunning
	s.current = job
	s.mu.Unlock()

	s.wg.Add(1)
	go w.Run(wctx)
	go s.bridge(w, cancel)

	log.Printf("[Supervisor] spawned worker for job %s (file=%s, batch=%d)",
		job.ID, logger.RedactPath(params.FilePath), params.BatchSize)
}

// bridge forwards every worker event to the broker, keeps the lease alive
// while progress flows, and runs the DRAINING → IDLE cleanup once the worker
// closes its channel.
func (s *Supervisor) bridge(w *ImportWorker, cancel context.CancelFunc) {
	defer s.wg.Done()
	defer cancel()

	for ev := range w.Events() {
		s.broker.Publish(ev)
		if ev.Kind() == progress.EventProgress {
			s.extendLease()
		}
	}

	s.mu.Lock()
	s.state = StateDraining
	s.mu.Unlock()

	s.releaseLease()

	s.mu.Lock()
	s.state = StateIdle
	s.current = nil
	s.mu.Unlock()

	log.Printf("[Supervisor] worker for job %s detached", w.JobID())
}

// failInterrupted writes the shutdown FAILED transition. It runs strictly
// after the worker has exited, so it never races the worker's own writes.
func (s *Supervisor) failInterrupted(ctx context.Context, id string) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		log.Printf("[Supervisor] inspect job %s during shutdown: %v", id, err)
		return
	}
	if job.Status != domain.ImportRunning {
		return
	}

	if err := s.jobs.MarkFailed(ctx, id, "application shutdown"); err != nil {
		log.Printf("[Supervisor] mark job %s failed during shutdown: %v", id, err)
		return
	}
	s.broker.Publish(progress.NewErrorEvent(id, "application shutdown"))
	log.Printf("[Supervisor] job %s interrupted by shutdown; it will resume on next boot from its checkpoint", id)
}

func (s *Supervisor) toIdle() {
	s.mu.Lock()
	s.state = StateIdle
	s.current = nil
	s.mu.Unlock()
}

func (s *Supervisor) acquireLease(ctx context.Context) error {
	if s.lock == nil {
		return nil
	}
	ok, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire import lease: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: import lease held by another process", ErrImportRunning)
	}
	return nil
}

func (s *Supervisor) releaseLease() {
	if s.lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.lock.Release(ctx); err != nil {
		log.Printf("[Supervisor] release import lease: %v", err)
	}
}

func (s *Supervisor) extendLease() {
	if s.lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.lock.Extend(ctx, leaseTTL); err != nil {
		log.Printf("[Supervisor] extend import lease: %v", err)
	}
}

func checkRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s does not exist", ErrSourceFile, path)
		}
		return fmt.Errorf("%w: %v", ErrSourceFile, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrSourceFile, path)
	}
	return nil
}
