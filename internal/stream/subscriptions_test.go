package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"rtsp-bridge/internal/platform/logger"
)

type stopRecorder struct {
	mu      sync.Mutex
	stopped []string
}

func (s *stopRecorder) stop(id string) {
	s.mu.Lock()
	s.stopped = append(s.stopped, id)
	s.mu.Unlock()
}

func (s *stopRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stopped)
}

func newTestTable(t *testing.T, grace time.Duration) (*SubscriptionTable, *Registry, *stopRecorder) {
	t.Helper()
	r := NewRegistry(10)
	rec := &stopRecorder{}
	return NewSubscriptionTable(r, grace, rec.stop, logger.Discard()), r, rec
}

func TestSubscriptionTable_Subscribe_unknown_session(t *testing.T) {
	table, _, _ := newTestTable(t, time.Hour)
	if err := table.Subscribe("conn1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscriptionTable_CountFor(t *testing.T) {
	table, r, _ := newTestTable(t, time.Hour)
	s, _ := r.Create(testRequest("cam"))

	if err := table.Subscribe("conn1", s.ID); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := table.Subscribe("conn2", s.ID); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if n := table.CountFor(s.ID); n != 2 {
		t.Errorf("CountFor = %d, want 2", n)
	}

	table.Unsubscribe("conn1")
	if n := table.CountFor(s.ID); n != 1 {
		t.Errorf("CountFor after unsubscribe = %d, want 1", n)
	}
}

func TestSubscriptionTable_resubscribe_moves_connection(t *testing.T) {
	table, r, _ := newTestTable(t, time.Hour)
	a, _ := r.Create(testRequest("a"))
	b, _ := r.Create(testRequest("b"))

	_ = table.Subscribe("conn1", a.ID)
	_ = table.Subscribe("conn1", b.ID)

	if n := table.CountFor(a.ID); n != 0 {
		t.Errorf("CountFor(a) = %d, want 0 after move", n)
	}
	if n := table.CountFor(b.ID); n != 1 {
		t.Errorf("CountFor(b) = %d, want 1", n)
	}
}

func TestSubscriptionTable_idle_reclamation(t *testing.T) {
	table, r, rec := newTestTable(t, 30*time.Millisecond)
	s, _ := r.Create(testRequest("cam"))

	_ = table.Subscribe("conn1", s.ID)
	table.Unsubscribe("conn1")

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.stopped[0] != s.ID {
		t.Errorf("stopped %q, want %q", rec.stopped[0], s.ID)
	}
}

func TestSubscriptionTable_resubscribe_within_grace_cancels_reclaim(t *testing.T) {
	table, r, rec := newTestTable(t, 50*time.Millisecond)
	s, _ := r.Create(testRequest("cam"))

	_ = table.Subscribe("conn1", s.ID)
	table.Unsubscribe("conn1")
	_ = table.Subscribe("conn2", s.ID)

	time.Sleep(150 * time.Millisecond)
	if rec.count() != 0 {
		t.Error("session with a new subscriber must not be reclaimed")
	}
}

func TestSubscriptionTable_removed_session_is_not_reclaimed(t *testing.T) {
	table, r, rec := newTestTable(t, 30*time.Millisecond)
	s, _ := r.Create(testRequest("cam"))

	_ = table.Subscribe("conn1", s.ID)
	table.Unsubscribe("conn1")
	r.Remove(s.ID) // explicit stop landed during the grace window

	time.Sleep(100 * time.Millisecond)
	if rec.count() != 0 {
		t.Error("reclaim must re-check registry state, not fire for removed sessions")
	}
}

func TestSubscriptionTable_DropSession(t *testing.T) {
	table, r, rec := newTestTable(t, 10*time.Millisecond)
	s, _ := r.Create(testRequest("cam"))

	_ = table.Subscribe("conn1", s.ID)
	_ = table.Subscribe("conn2", s.ID)
	table.DropSession(s.ID)
	r.Remove(s.ID)

	if n := table.CountFor(s.ID); n != 0 {
		t.Errorf("CountFor = %d, want 0", n)
	}
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Error("DropSession is part of explicit teardown and must not schedule reclaim")
	}
}
