package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ignite/customer-sync/internal/domain"
	"github.com/ignite/customer-sync/internal/service/importjob"
)

// subscriberBuffer bounds each subscriber's queue. A browser that stops
// reading costs at most this many in-flight frames, never publisher blocking.
const subscriberBuffer = 64

// DefaultRecentLimit caps the recent-customer list when the client does not
// ask for a specific size.
const DefaultRecentLimit = 20

const maxRecentLimit = 200

// Frame is one marshaled event ready for the wire.
type Frame struct {
	Type EventType
	Data []byte
}

// JobSource supplies the job of record for snapshots.
type JobSource interface {
	FindLatest(ctx context.Context) (*domain.ImportJob, error)
}

// RecentSource lists customers the importer touched most recently.
type RecentSource interface {
	RecentlyUpdated(ctx context.Context, since time.Time, limit int) ([]domain.Customer, error)
}

// Broker multicasts import events to SSE subscribers and computes progress
// snapshots on demand. Publishers never block: slow subscribers lose
// progress/heartbeat frames, but done/error frames are always enqueued and a
// snapshot on reconnect reflects terminal state regardless.
type Broker struct {
	jobs   JobSource
	recent RecentSource

	mu   sync.RWMutex
	subs map[chan Frame]bool

	done     chan struct{}
	shutdown sync.Once
}

// NewBroker creates a broker reading snapshot state from the given sources.
// recent may be nil; snapshots then omit the recent-customers list.
func NewBroker(jobs JobSource, recent RecentSource) *Broker {
	return &Broker{
		jobs:   jobs,
		recent: recent,
		subs:   make(map[chan Frame]bool),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a new observer. The returned cancel func must be called
// when the observer goes away; it is safe to call more than once. The channel
// is never closed by the broker — select on Done() for shutdown.
func (b *Broker) Subscribe() (<-chan Frame, func()) {
	ch := make(chan Frame, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = true
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish marshals the event once and fans it out to every subscriber in
// publish order.
func (b *Broker) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Broker] marshal %s event: %v", ev.Kind(), err)
		return
	}
	frame := Frame{Type: ev.Kind(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		deliver(ch, frame)
	}
}

// deliver enqueues without ever blocking the publisher. Droppable frames are
// discarded when the subscriber is full; terminal frames evict the oldest
// queued frames until they fit.
func deliver(ch chan Frame, f Frame) {
	select {
	case ch <- f:
		return
	default:
	}

	if f.Type != EventDone && f.Type != EventError {
		return
	}

	for {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- f:
			return
		default:
		}
	}
}

// Snapshot computes the current progress view. totalRows scales percent/ETA;
// recentLimit is clamped to [1, 200] and defaults to DefaultRecentLimit.
func (b *Broker) Snapshot(ctx context.Context, totalRows int64, recentLimit int) (Snapshot, error) {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	if recentLimit > maxRecentLimit {
		recentLimit = maxRecentLimit
	}

	job, err := b.jobs.FindLatest(ctx)
	if errors.Is(err, importjob.ErrNotFound) {
		// Nothing has ever run: synthetic IDLE view.
		return BuildSnapshot(nil, time.Now(), totalRows, nil), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("find latest job: %w", err)
	}

	var recent []domain.Customer
	if b.recent != nil && (job.Status == domain.ImportRunning || job.Status == domain.ImportCompleted) {
		since := job.StartedAt
		if since.IsZero() {
			since = job.UpdatedAt
		}
		recent, err = b.recent.RecentlyUpdated(ctx, since, recentLimit)
		if err != nil {
			return Snapshot{}, fmt.Errorf("recent customers: %w", err)
		}
	}

	return BuildSnapshot(job, time.Now(), totalRows, recent), nil
}

// Subscribers reports the current observer count.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Done is closed when the broker shuts down; long-lived subscribers must
// select on it.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

// Shutdown completes all live subscriptions. Idempotent.
func (b *Broker) Shutdown() {
	b.shutdown.Do(func() { close(b.done) })
}
