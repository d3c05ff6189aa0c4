package progress

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/ignite/customer-sync/internal/domain"
	"github.com/ignite/customer-sync/internal/service/importjob"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fakeJobSource struct {
	job *domain.ImportJob
	err error
}

func (f *fakeJobSource) FindLatest(ctx context.Context) (*domain.ImportJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.job, nil
}

type fakeRecentSource struct {
	customers []domain.Customer
	err       error

	calls int
	since time.Time
	limit int
}

func (f *fakeRecentSource) RecentlyUpdated(ctx context.Context, since time.Time, limit int) ([]domain.Customer, error) {
	f.calls++
	f.since = since
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.customers, nil
}

func recvFrame(t *testing.T, ch <-chan Frame) Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func progressRows(t *testing.T, f Frame) string {
	t.Helper()
	var ev ProgressEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		t.Fatalf("unmarshal progress frame: %v", err)
	}
	return ev.RowsProcessed
}

// =============================================================================
// FAN-OUT TESTS
// =============================================================================

func TestPublishDeliversInOrder(t *testing.T) {
	b := NewBroker(nil, nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 1; i <= 3; i++ {
		b.Publish(NewProgressEvent("job-1", int64(i), int64(i), int64(i*100), 0, 0, ""))
	}

	for i := 1; i <= 3; i++ {
		f := recvFrame(t, ch)
		if f.Type != EventProgress {
			t.Fatalf("frame %d: expected progress, got %s", i, f.Type)
		}
		if got := progressRows(t, f); got != strconv.Itoa(i) {
			t.Errorf("frame %d: expected rowsProcessed %d, got %s", i, i, got)
		}
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker(nil, nil)
	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	if b.Subscribers() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Subscribers())
	}

	b.Publish(NewDoneEvent("job-1"))

	if f := recvFrame(t, ch1); f.Type != EventDone {
		t.Errorf("subscriber 1: expected done, got %s", f.Type)
	}
	if f := recvFrame(t, ch2); f.Type != EventDone {
		t.Errorf("subscriber 2: expected done, got %s", f.Type)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker(nil, nil)
	ch, cancel := b.Subscribe()

	cancel()
	cancel() // safe to call twice

	b.Publish(NewHeartbeatEvent(time.Now()))

	select {
	case f := <-ch:
		t.Fatalf("expected no frame after unsubscribe, got %s", f.Type)
	default:
	}
	if b.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", b.Subscribers())
	}
}

func TestSlowSubscriberDropsProgressFrames(t *testing.T) {
	b := NewBroker(nil, nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	// Publish more than the buffer without reading; Publish must not block
	// and overflow frames must be dropped.
	for i := 1; i <= subscriberBuffer+10; i++ {
		b.Publish(NewProgressEvent("job-1", int64(i), 0, 0, 0, 0, ""))
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != subscriberBuffer {
				t.Errorf("expected exactly %d buffered frames, got %d", subscriberBuffer, received)
			}
			return
		}
	}
}

func TestTerminalFrameNeverDropped(t *testing.T) {
	b := NewBroker(nil, nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 1; i <= subscriberBuffer; i++ {
		b.Publish(NewProgressEvent("job-1", int64(i), 0, 0, 0, 0, ""))
	}
	b.Publish(NewDoneEvent("job-1"))

	var last Frame
	total := 0
	for {
		select {
		case f := <-ch:
			last = f
			total++
		default:
			if total != subscriberBuffer {
				t.Errorf("expected %d frames after eviction, got %d", subscriberBuffer, total)
			}
			if last.Type != EventDone {
				t.Errorf("expected done as the final frame, got %s", last.Type)
			}
			return
		}
	}
}

func TestErrorFrameNeverDropped(t *testing.T) {
	b := NewBroker(nil, nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 1; i <= subscriberBuffer; i++ {
		b.Publish(NewProgressEvent("job-1", int64(i), 0, 0, 0, 0, ""))
	}
	b.Publish(NewErrorEvent("job-1", "flush batch: connection refused"))

	var last Frame
	for {
		select {
		case f := <-ch:
			last = f
		default:
			if last.Type != EventError {
				t.Fatalf("expected error as the final frame, got %s", last.Type)
			}
			var ev ErrorEvent
			if err := json.Unmarshal(last.Data, &ev); err != nil {
				t.Fatalf("unmarshal error frame: %v", err)
			}
			if ev.Error != "flush batch: connection refused" {
				t.Errorf("unexpected error payload %q", ev.Error)
			}
			return
		}
	}
}

// =============================================================================
// SNAPSHOT TESTS
// =============================================================================

func TestSnapshotSyntheticIdle(t *testing.T) {
	jobs := &fakeJobSource{err: importjob.ErrNotFound}
	recent := &fakeRecentSource{}
	b := NewBroker(jobs, recent)

	s, err := b.Snapshot(context.Background(), 2_000_000, 0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.Status != domain.ImportIdle {
		t.Errorf("expected IDLE, got %s", s.Status)
	}
	if recent.calls != 0 {
		t.Errorf("recent customers must not be queried before any job exists, got %d calls", recent.calls)
	}
}

func TestSnapshotRunningIncludesRecent(t *testing.T) {
	started := time.Now().Add(-30 * time.Second)
	jobs := &fakeJobSource{job: &domain.ImportJob{
		ID:            "job-1",
		Status:        domain.ImportRunning,
		RowsProcessed: 1000,
		StartedAt:     started,
		UpdatedAt:     time.Now(),
	}}
	recent := &fakeRecentSource{customers: []domain.Customer{
		{ID: 7, CustomerID: "C007"},
		{ID: 3, CustomerID: "C003"},
	}}
	b := NewBroker(jobs, recent)

	s, err := b.Snapshot(context.Background(), 2_000_000, 0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !s.DisableSync {
		t.Error("running snapshot must disable sync")
	}
	if len(s.RecentCustomers) != 2 {
		t.Fatalf("expected 2 recent customers, got %d", len(s.RecentCustomers))
	}
	if recent.limit != DefaultRecentLimit {
		t.Errorf("expected default limit %d, got %d", DefaultRecentLimit, recent.limit)
	}
	if !recent.since.Equal(started) {
		t.Errorf("expected since=startedAt %v, got %v", started, recent.since)
	}
}

func TestSnapshotClampsRecentLimit(t *testing.T) {
	jobs := &fakeJobSource{job: &domain.ImportJob{
		ID:        "job-1",
		Status:    domain.ImportRunning,
		StartedAt: time.Now().Add(-time.Minute),
	}}
	recent := &fakeRecentSource{}
	b := NewBroker(jobs, recent)

	if _, err := b.Snapshot(context.Background(), 0, 5000); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if recent.limit != 200 {
		t.Errorf("expected limit clamped to 200, got %d", recent.limit)
	}

	if _, err := b.Snapshot(context.Background(), 0, -3); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if recent.limit != DefaultRecentLimit {
		t.Errorf("expected default limit %d, got %d", DefaultRecentLimit, recent.limit)
	}
}

func TestSnapshotFailedJobSkipsRecent(t *testing.T) {
	jobs := &fakeJobSource{job: &domain.ImportJob{
		ID:        "job-1",
		Status:    domain.ImportFailed,
		Error:     "worker exited unexpectedly",
		StartedAt: time.Now().Add(-time.Minute),
	}}
	recent := &fakeRecentSource{}
	b := NewBroker(jobs, recent)

	s, err := b.Snapshot(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if recent.calls != 0 {
		t.Errorf("failed job must not list recent customers, got %d calls", recent.calls)
	}
	if s.RecentCustomers == nil || len(s.RecentCustomers) != 0 {
		t.Errorf("expected empty non-nil recent list, got %#v", s.RecentCustomers)
	}
}

func TestSnapshotJobSourceError(t *testing.T) {
	jobs := &fakeJobSource{err: errors.New("connection refused")}
	b := NewBroker(jobs, &fakeRecentSource{})

	if _, err := b.Snapshot(context.Background(), 0, 0); err == nil {
		t.Fatal("expected error from job source")
	}
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestShutdownSignalsDone(t *testing.T) {
	b := NewBroker(nil, nil)

	select {
	case <-b.Done():
		t.Fatal("done closed before shutdown")
	default:
	}

	b.Shutdown()
	b.Shutdown() // idempotent

	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after shutdown")
	}
}
