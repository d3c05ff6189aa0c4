package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/ignite/customer-sync/internal/domain"
	"github.com/ignite/customer-sync/internal/ingest"
	"github.com/ignite/customer-sync/internal/pkg/dbretry"
	"github.com/ignite/customer-sync/internal/pkg/logger"
	"github.com/ignite/customer-sync/internal/progress"
	"github.com/ignite/customer-sync/internal/service/importjob"
)

// =============================================================================
// IMPORT WORKER
// =============================================================================
// Owns one end-to-end import run: stream the CSV from its byte offset, map
// rows to customers, commit batches, checkpoint progress, and report events.
// The worker runs on its own goroutine and talks to the rest of the process
// only through its event channel; the supervisor is the sole consumer.

// Tuning bounds for the import knobs. Out-of-range values are clamped here;
// the HTTP layer rejects them with a 400 before they ever reach the worker.
const (
	MinBatchSize     = 100
	MaxBatchSize     = 10000
	DefaultBatchSize = 1000

	MinProgressEvery     = 200 * time.Millisecond
	MaxProgressEvery     = 30 * time.Second
	DefaultProgressEvery = time.Second

	MinTotalRows     = 1
	MaxTotalRows     = 50_000_000
	DefaultTotalRows = 2_000_000

	// DefaultResumeOverlap is rewound from the persisted cursor on resume so
	// the parser can re-align on a row boundary and find the marker row.
	DefaultResumeOverlap = 1 << 20 // 1 MiB

	// checkpointRetries bounds retry attempts for progress writes; transient
	// failures here must not kill a multi-hour run.
	checkpointRetries = 5
)

// Resume carries the persisted checkpoint of an interrupted run. StartBytes
// is the durable cursor, LastRowHash the fingerprint of the last committed
// row; the counter baselines seed this run's totals.
type Resume struct {
	StartBytes    int64
	OverlapBytes  int64
	LastRowHash   string
	RowsProcessed int64
	RowsInserted  int64
}

// ImportParams are the per-run knobs. Zero values pick up the defaults; the
// rest are clamped into their documented ranges by normalize.
type ImportParams struct {
	FilePath      string
	BatchSize     int
	ProgressEvery time.Duration
	// TotalRows is presentation-only: it scales the percent figures in the
	// worker's own log lines and never affects what gets written.
	TotalRows int64
	// BufferSize is the parser read buffer (the stream high-water mark).
	BufferSize int
	Resume     *Resume
}

func (p ImportParams) normalize() ImportParams {
	if p.BatchSize == 0 {
		p.BatchSize = DefaultBatchSize
	} else if p.BatchSize < MinBatchSize {
		p.BatchSize = MinBatchSize
	} else if p.BatchSize > MaxBatchSize {
		p.BatchSize = MaxBatchSize
	}

	if p.ProgressEvery == 0 {
		p.ProgressEvery = DefaultProgressEvery
	} else if p.ProgressEvery < MinProgressEvery {
		p.ProgressEvery = MinProgressEvery
	} else if p.ProgressEvery > MaxProgressEvery {
		p.ProgressEvery = MaxProgressEvery
	}

	if p.TotalRows == 0 {
		p.TotalRows = DefaultTotalRows
	} else if p.TotalRows < MinTotalRows {
		p.TotalRows = MinTotalRows
	} else if p.TotalRows > MaxTotalRows {
		p.TotalRows = MaxTotalRows
	}

	if p.Resume != nil && p.Resume.OverlapBytes <= 0 {
		p.Resume.OverlapBytes = DefaultResumeOverlap
	}

	return p
}

// BatchFlusher commits one deduplicated batch of customers. *ingest.BatchWriter
// is the production implementation.
type BatchFlusher interface {
	Flush(ctx context.Context, items []ingest.BatchItem) (int64, string, error)
}

// ImportWorker executes a single import job. It is created by the supervisor,
// runs once, and is discarded; the zero of everything below is per-run state.
type ImportWorker struct {
	job     *domain.ImportJob
	params  ImportParams
	jobs    importjob.Repository
	flusher BatchFlusher
	mirror  *progress.Mirror // nil when Redis is not configured

	events  chan progress.Event
	retryer *dbretry.Retryer

	parser *ingest.Parser

	// Absolute counters: baselines from the resume record plus this run's
	// increments. Only the worker goroutine touches them.
	rowsProcessed int64
	rowsInserted  int64
	lastRowHash   string

	baseRowsProcessed int64

	startedAt   time.Time
	lastPersist time.Time
}

// NewImportWorker builds a worker for one job. mirror may be nil.
func NewImportWorker(job *domain.ImportJob, params ImportParams, jobs importjob.Repository, flusher BatchFlusher, mirror *progress.Mirror) *ImportWorker {
	params = params.normalize()

	w := &ImportWorker{
		job:     job,
		params:  params,
		jobs:    jobs,
		flusher: flusher,
		mirror:  mirror,
		events:  make(chan progress.Event, 16),
		retryer: dbretry.New(checkpointRetries),
	}

	if r := params.Resume; r != nil {
		w.rowsProcessed = r.RowsProcessed
		w.rowsInserted = r.RowsInserted
		w.lastRowHash = r.LastRowHash
		w.baseRowsProcessed = r.RowsProcessed
	}

	return w
}

// Events is the worker's only outbound channel. It is closed when the run is
// over; the terminal done/error event (if any) is sent before the close.
func (w *ImportWorker) Events() <-chan progress.Event {
	return w.events
}

// JobID returns the id of the job this worker owns.
func (w *ImportWorker) JobID() string {
	return w.job.ID
}

// Run executes the import to completion and is meant to be launched on its
// own goroutine. Cancellation via ctx stops the run without writing a
// terminal status: on shutdown the supervisor owns the FAILED transition, and
// on restart the persisted checkpoint resumes the job. Every other failure is
// written as FAILED and reported as an error event.
func (w *ImportWorker) Run(ctx context.Context) {
	defer close(w.events)

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("worker exited: %v", r)
			log.Printf("[ImportWorker] job %s PANIC: %v", w.job.ID, r)
			w.failJob(msg)
		}
	}()

	w.startedAt = time.Now()
	w.lastPersist = w.startedAt

	err := w.run(ctx)
	if err == nil {
		w.completeJob(ctx)
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Hard stop. The job row stays RUNNING so the next start (or the
		// supervisor's shutdown path) decides what happens to it.
		log.Printf("[ImportWorker] job %s stopped at %d rows: %v", w.job.ID, w.rowsProcessed, err)
		return
	}

	log.Printf("[ImportWorker] job %s FAILED: %v", w.job.ID, err)
	w.failJob(err.Error())
}

func (w *ImportWorker) run(ctx context.Context) error {
	resume := w.params.Resume

	streamStart := int64(0)
	seenMarker := true
	if resume != nil {
		streamStart = resume.StartBytes - resume.OverlapBytes
		if streamStart < 0 {
			streamStart = 0
		}
		seenMarker = resume.LastRowHash == ""
	}

	opts := ingest.ParserOptions{StartOffset: streamStart, BufferSize: w.params.BufferSize}
	if streamStart > 0 {
		// Column names are stable for the lifetime of a job, so the header
		// captured at offset 0 is simply re-read from the same file.
		header, err := ingest.ReadHeader(w.params.FilePath)
		if err != nil {
			return fmt.Errorf("reload header: %w", err)
		}
		opts.Header = header
	}

	parser, err := ingest.OpenParser(w.params.FilePath, opts)
	if err != nil {
		return err
	}
	defer parser.Close()
	w.parser = parser

	if resume != nil {
		log.Printf("[ImportWorker] job %s resuming: cursor=%d overlap=%d stream=%d baseline=%d rows",
			w.job.ID, resume.StartBytes, resume.OverlapBytes, streamStart, resume.RowsProcessed)
	} else {
		log.Printf("[ImportWorker] job %s starting: file=%s batch=%d",
			w.job.ID, logger.RedactPath(w.params.FilePath), w.params.BatchSize)
	}

	batch := make([]ingest.BatchItem, 0, w.params.BatchSize)

	for {
		record, err := parser.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		customer := ingest.Map(record)
		if customer == nil {
			// No usable identifier: skipped, not counted, never fatal.
			continue
		}
		hash := ingest.Hash(customer)

		if !seenMarker {
			// Replaying the overlap window. Everything before the marker row
			// is already committed, and so is the marker row itself.
			if hash == resume.LastRowHash {
				seenMarker = true
			}
			continue
		}

		w.rowsProcessed++
		batch = append(batch, ingest.BatchItem{Customer: customer, SourceHash: hash})

		if len(batch) >= w.params.BatchSize {
			if err := w.flushBatch(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
			if err := w.maybePersistProgress(ctx, false); err != nil {
				return err
			}
		}
	}

	if !seenMarker {
		// The whole file replayed without matching the marker; nothing was
		// counted. The source almost certainly changed under the checkpoint.
		log.Printf("[ImportWorker] job %s: resume marker never matched; file changed since checkpoint?", w.job.ID)
	}

	if err := w.flushBatch(ctx, batch); err != nil {
		return err
	}
	return w.maybePersistProgress(ctx, true)
}

// flushBatch commits the pending batch and folds the result into the
// counters. The returned lastHash becomes the new resume marker.
func (w *ImportWorker) flushBatch(ctx context.Context, batch []ingest.BatchItem) error {
	if len(batch) == 0 {
		return nil
	}

	affected, lastHash, err := w.flusher.Flush(ctx, batch)
	if err != nil {
		return fmt.Errorf("flush batch of %d: %w", len(batch), err)
	}

	w.rowsInserted += affected
	if lastHash != "" {
		w.lastRowHash = lastHash
	}
	return nil
}

// maybePersistProgress writes the checkpoint and publishes a progress event,
// rate-limited to one write per ProgressEvery. force bypasses the throttle
// for the end-of-stream write. The checkpoint write is retried; if it still
// fails the run is aborted, because a resume cursor that stops advancing
// makes every later crash replay unbounded work.
func (w *ImportWorker) maybePersistProgress(ctx context.Context, force bool) error {
	now := time.Now()
	if !force && now.Sub(w.lastPersist) < w.params.ProgressEvery {
		return nil
	}
	w.lastPersist = now

	cp := importjob.Checkpoint{
		BytesRead:     w.parser.Offset(),
		RowsProcessed: w.rowsProcessed,
		RowsInserted:  w.rowsInserted,
		LastRowHash:   w.lastRowHash,
	}

	err := w.retryer.Do(ctx, "progress checkpoint", func() error {
		return w.jobs.UpdateProgress(ctx, w.job.ID, cp)
	})
	if err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}

	if err := w.mirror.Store(ctx, w.job.ID, cp); err != nil {
		// The mirror is advisory; Postgres already has the checkpoint.
		log.Printf("[ImportWorker] job %s: mirror checkpoint: %v", w.job.ID, err)
	}

	elapsed := int64(now.Sub(w.startedAt).Seconds())
	denom := elapsed
	if denom < 1 {
		denom = 1
	}
	rate := float64(w.rowsProcessed-w.baseRowsProcessed) / float64(denom)

	w.events <- progress.NewProgressEvent(
		w.job.ID, w.rowsProcessed, w.rowsInserted, cp.BytesRead, rate, elapsed, w.lastRowHash)

	if w.params.TotalRows > 0 {
		pct := float64(w.rowsProcessed) / float64(w.params.TotalRows) * 100
		if pct > 100 {
			pct = 100
		}
		log.Printf("[ImportWorker] job %s: %d rows (%.1f%%), %d written, %.0f rows/sec",
			w.job.ID, w.rowsProcessed, pct, w.rowsInserted, rate)
	}

	return nil
}

// completeJob records COMPLETED and emits done. If the terminal write fails
// the job row stays RUNNING — observers get an error frame now and the boot
// reconciliation pass re-runs the (fully committed) tail after a restart,
// where the marker skip makes the replay a no-op.
func (w *ImportWorker) completeJob(ctx context.Context) {
	err := w.retryer.Do(ctx, "mark completed", func() error {
		return w.jobs.MarkCompleted(ctx, w.job.ID)
	})
	if err != nil {
		log.Printf("[ImportWorker] job %s: mark completed: %v", w.job.ID, err)
		w.events <- progress.NewErrorEvent(w.job.ID, fmt.Sprintf("completion write failed: %v", err))
		return
	}

	if err := w.mirror.Clear(ctx, w.job.ID); err != nil {
		log.Printf("[ImportWorker] job %s: clear mirror: %v", w.job.ID, err)
	}

	log.Printf("[ImportWorker] job %s COMPLETED: %d rows processed, %d written in %s",
		w.job.ID, w.rowsProcessed, w.rowsInserted, time.Since(w.startedAt).Round(time.Second))
	w.events <- progress.NewDoneEvent(w.job.ID)
}

// failJob records FAILED best-effort and always emits the error event: a
// broken database must not also silence the live stream.
func (w *ImportWorker) failJob(msg string) {
	// The run context may already be canceled or poisoned; the terminal
	// write gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.jobs.MarkFailed(ctx, w.job.ID, msg); err != nil {
		log.Printf("[ImportWorker] job %s: mark failed: %v", w.job.ID, err)
	}
	w.events <- progress.NewErrorEvent(w.job.ID, msg)
}
