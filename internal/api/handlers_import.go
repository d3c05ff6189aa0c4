package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/customer-sync/internal/config"
	"github.com/ignite/customer-sync/internal/pkg/httputil"
	"github.com/ignite/customer-sync/internal/progress"
	"github.com/ignite/customer-sync/internal/worker"
)

// ImportHandlers exposes the bulk-import surface: starting a run, reading a
// progress snapshot, and streaming live progress over SSE.
type ImportHandlers struct {
	supervisor *worker.Supervisor
	broker     *progress.Broker
	importCfg  config.ImportConfig
	sseCfg     config.SSEConfig
}

// NewImportHandlers wires the import endpoints to the supervisor and broker.
func NewImportHandlers(supervisor *worker.Supervisor, broker *progress.Broker, importCfg config.ImportConfig, sseCfg config.SSEConfig) *ImportHandlers {
	return &ImportHandlers{
		supervisor: supervisor,
		broker:     broker,
		importCfg:  importCfg,
		sseCfg:     sseCfg,
	}
}

// syncRequest is the POST /customers/sync body. All fields are optional;
// pointers distinguish "absent" from a zero value so out-of-range zeros are
// rejected instead of silently defaulted.
type syncRequest struct {
	FilePath              *string `json:"filePath"`
	BatchSize             *int    `json:"batchSize"`
	ProgressUpdateEveryMs *int    `json:"progressUpdateEveryMs"`
	TotalRows             *int64  `json:"totalRows"`
}

func (req *syncRequest) validate() error {
	if req.FilePath != nil && strings.TrimSpace(*req.FilePath) == "" {
		return fmt.Errorf("filePath must not be empty")
	}
	if req.BatchSize != nil && (*req.BatchSize < worker.MinBatchSize || *req.BatchSize > worker.MaxBatchSize) {
		return fmt.Errorf("batchSize must be between %d and %d", worker.MinBatchSize, worker.MaxBatchSize)
	}
	if req.ProgressUpdateEveryMs != nil {
		ms := time.Duration(*req.ProgressUpdateEveryMs) * time.Millisecond
		if ms < worker.MinProgressEvery || ms > worker.MaxProgressEvery {
			return fmt.Errorf("progressUpdateEveryMs must be between %d and %d",
				worker.MinProgressEvery.Milliseconds(), worker.MaxProgressEvery.Milliseconds())
		}
	}
	if req.TotalRows != nil && (*req.TotalRows < worker.MinTotalRows || *req.TotalRows > worker.MaxTotalRows) {
		return fmt.Errorf("totalRows must be between %d and %d", worker.MinTotalRows, worker.MaxTotalRows)
	}
	return nil
}

// HandleSync starts (or resumes) the bulk import and returns immediately with
// the job record; the work itself runs on the worker goroutine.
//
//	POST /api/v1/customers/sync
func (h *ImportHandlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength != 0 {
		if !httputil.Decode(w, r, &req) {
			return
		}
	}
	if err := req.validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	start := worker.StartRequest{}
	if req.FilePath != nil {
		start.FilePath = strings.TrimSpace(*req.FilePath)
	}
	if req.BatchSize != nil {
		start.BatchSize = *req.BatchSize
	}
	if req.ProgressUpdateEveryMs != nil {
		start.ProgressEvery = time.Duration(*req.ProgressUpdateEveryMs) * time.Millisecond
	}
	if req.TotalRows != nil {
		start.TotalRows = *req.TotalRows
	}

	job, err := h.supervisor.Start(r.Context(), start)
	switch {
	case err == nil:
		httputil.OK(w, job)
	case errors.Is(err, worker.ErrImportRunning):
		if job != nil {
			httputil.Conflict(w, "an import is already running", job)
		} else {
			httputil.Conflict(w, err.Error(), nil)
		}
	case errors.Is(err, worker.ErrSourceFile):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, worker.ErrSupervisorStopped):
		httputil.Error(w, http.StatusServiceUnavailable, "server is shutting down")
	default:
		httputil.InternalError(w, err)
	}
}

// HandleProgress serves a one-shot progress snapshot.
//
//	GET /api/v1/customers/progress?totalRows&recentLimit
func (h *ImportHandlers) HandleProgress(w http.ResponseWriter, r *http.Request) {
	totalRows, recentLimit, err := h.presentationParams(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	snap, err := h.broker.Snapshot(r.Context(), totalRows, recentLimit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, snap)
}

// HandleProgressStream serves the live SSE progress feed. Every event is a
// JSON object with a type discriminator; the first frame is always a full
// snapshot, so reconnecting clients never miss terminal state.
//
//	GET /api/v1/customers/progress/stream?totalRows&recentLimit
func (h *ImportHandlers) HandleProgressStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	totalRows, recentLimit, err := h.presentationParams(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	// Subscribe before taking the snapshot: events published in between are
	// queued, so the client sees snapshot state first and never a gap. Frames
	// carry absolute counters, which makes the overlap harmless.
	frames, cancel := h.broker.Subscribe()
	defer cancel()

	snap, err := h.broker.Snapshot(r.Context(), totalRows, recentLimit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// The stream outlives the server-wide write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	first, err := json.Marshal(snap)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if err := writeSSE(w, flusher, first); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.sseCfg.Heartbeat())
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.broker.Done():
			return
		case f := <-frames:
			if err := writeSSE(w, flusher, f.Data); err != nil {
				return
			}
		case now := <-heartbeat.C:
			hb, err := json.Marshal(progress.NewHeartbeatEvent(now))
			if err != nil {
				continue
			}
			if err := writeSSE(w, flusher, hb); err != nil {
				return
			}
		}
	}
}

// writeSSE emits one event and flushes it through any buffering proxy.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, data []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// presentationParams parses the optional totalRows / recentLimit query
// params, falling back to the configured defaults.
func (h *ImportHandlers) presentationParams(r *http.Request) (int64, int, error) {
	totalRows := h.importCfg.TotalRows
	recentLimit := h.importCfg.RecentLimit

	q := r.URL.Query()
	if v := q.Get("totalRows"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("totalRows must be a positive integer")
		}
		totalRows = n
	}
	if v := q.Get("recentLimit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("recentLimit must be a non-negative integer")
		}
		recentLimit = n
	}
	return totalRows, recentLimit, nil
}
