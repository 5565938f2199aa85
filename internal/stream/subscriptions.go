package stream

import (
	"log/slog"
	"sync"
	"time"
)

// SubscriptionTable tracks which signaling connection is watching which
// session. It holds (connection id, session id) pairs only, never connection
// objects, so a dead connection is never kept alive through the table.
//
// When the last subscriber of a session leaves, the session is not torn down
// immediately: a recheck is scheduled after a grace delay to absorb viewer
// reconnect churn (page navigation). The recheck reads live state; a
// subscriber that arrived during the delay cancels the reclamation.
type SubscriptionTable struct {
	registry *Registry
	grace    time.Duration
	stop     func(sessionID string)
	log      *slog.Logger

	mu     sync.Mutex
	byConn map[string]string
}

// NewSubscriptionTable builds a table over registry. stop is invoked (on its
// own goroutine) when an idle session survives the grace delay with no
// subscribers; it is typically Orchestrator.StopSession.
func NewSubscriptionTable(registry *Registry, grace time.Duration, stop func(sessionID string), log *slog.Logger) *SubscriptionTable {
	return &SubscriptionTable{
		registry: registry,
		grace:    grace,
		stop:     stop,
		log:      log,
		byConn:   make(map[string]string),
	}
}

// Subscribe registers connID as a viewer of sessionID. A connection watches
// at most one session; re-subscribing moves it. Returns ErrNotFound when the
// session does not exist.
func (t *SubscriptionTable) Subscribe(connID, sessionID string) error {
	if _, err := t.registry.Get(sessionID); err != nil {
		return err
	}

	t.mu.Lock()
	previous, had := t.byConn[connID]
	t.byConn[connID] = sessionID
	t.mu.Unlock()

	if had && previous != sessionID {
		t.scheduleReclaim(previous)
	}
	return nil
}

// Unsubscribe drops connID's subscription, returning the session it was
// watching. Unknown connections return ok false.
func (t *SubscriptionTable) Unsubscribe(connID string) (sessionID string, ok bool) {
	t.mu.Lock()
	sessionID, ok = t.byConn[connID]
	delete(t.byConn, connID)
	t.mu.Unlock()

	if ok {
		t.scheduleReclaim(sessionID)
	}
	return sessionID, ok
}

// CountFor returns the number of connections subscribed to sessionID.
func (t *SubscriptionTable) CountFor(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, sid := range t.byConn {
		if sid == sessionID {
			n++
		}
	}
	return n
}

// DropSession removes every subscription pointing at sessionID. Used during
// explicit teardown, where no reclamation recheck is wanted.
func (t *SubscriptionTable) DropSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for connID, sid := range t.byConn {
		if sid == sessionID {
			delete(t.byConn, connID)
		}
	}
}

// scheduleReclaim arms the delayed idle check for sessionID if it has no
// subscribers right now. The timer callback re-counts instead of trusting
// the count captured here.
func (t *SubscriptionTable) scheduleReclaim(sessionID string) {
	if t.CountFor(sessionID) > 0 {
		return
	}
	if _, err := t.registry.Get(sessionID); err != nil {
		return
	}

	t.log.Info("no viewers left, scheduling idle stop",
		slog.String("stream_id", sessionID),
		slog.Duration("grace", t.grace))

	time.AfterFunc(t.grace, func() {
		if t.CountFor(sessionID) > 0 {
			return
		}
		if _, err := t.registry.Get(sessionID); err != nil {
			return
		}
		t.log.Info("idle grace expired, stopping stream", slog.String("stream_id", sessionID))
		t.stop(sessionID)
	})
}
