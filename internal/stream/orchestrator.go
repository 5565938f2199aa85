package stream

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"rtsp-bridge/internal/platform/metrics"

	"golang.org/x/sync/errgroup"
)

// Notifier receives lifecycle events for fan-out to signaling connections.
// Implementations must not block; delivery is best-effort.
type Notifier interface {
	StreamUpdated(s Session)
	StreamStopped(id string)
}

// Orchestrator composes the registry, supervisor and subscription table into
// the session lifecycle: create, stop, idle reclamation, bulk shutdown. One
// instance owns its collaborators; there is no package-level shared state.
type Orchestrator struct {
	registry  *Registry
	sup       Supervisor
	subs      *SubscriptionTable
	watcher   *SegmentWatcher
	outputDir string
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.RWMutex
	notifier Notifier
}

// NewOrchestrator wires an orchestrator and starts consuming supervisor
// events. watcher and met may be nil (e.g. in tests). idleGrace is how long a
// session with no viewers survives before automatic stop.
func NewOrchestrator(registry *Registry, sup Supervisor, watcher *SegmentWatcher, outputDir string, idleGrace time.Duration, log *slog.Logger, met *metrics.Metrics) *Orchestrator {
	o := &Orchestrator{
		registry:  registry,
		sup:       sup,
		watcher:   watcher,
		outputDir: outputDir,
		log:       log,
		metrics:   met,
	}
	o.subs = NewSubscriptionTable(registry, idleGrace, func(id string) { o.StopSession(id) }, log)

	go o.consumeEvents()
	return o
}

// SetNotifier attaches the signaling fan-out. Called once at startup, after
// the gateway is constructed; events before that are silently dropped.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.mu.Lock()
	o.notifier = n
	o.mu.Unlock()
}

// CreateSession admits a new session and launches its transcoder. Capacity
// exhaustion is returned synchronously; everything that goes wrong after
// admission (spawn failure included) surfaces as session status, so the
// caller can observe why the fresh session failed.
func (o *Orchestrator) CreateSession(req CreateRequest) (Session, error) {
	s, err := o.registry.Create(req)
	if err != nil {
		return Session{}, err
	}

	o.log.Info("stream created",
		slog.String("stream_id", s.ID),
		slog.String("name", s.Name),
		slog.String("source", s.SourceURL),
		slog.String("quality", string(s.Quality)))
	if o.metrics != nil {
		o.metrics.IncSessionsCreated()
	}

	dir := filepath.Join(o.outputDir, s.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.registry.SetStatus(s.ID, StatusError, err.Error())
		return o.registry.Get(s.ID)
	}
	if o.watcher != nil {
		if err := o.watcher.Watch(s.ID); err != nil {
			o.log.Warn("segment watch failed", slog.String("stream_id", s.ID), slog.String("error", err.Error()))
		}
	}

	o.sup.Start(s)
	return s, nil
}

// StopSession tears a session down: kill the transcoder, drop its
// subscriptions, notify prior subscribers, delete its output directory, and
// remove it from the registry. Returns false when the id is unknown.
// Teardown after the kill is best-effort; failures are logged, never
// propagated, since retrying a stop has no better outcome.
func (o *Orchestrator) StopSession(id string) bool {
	if _, err := o.registry.Get(id); err != nil {
		return false
	}

	o.sup.Stop(id)
	o.subs.DropSession(id)

	// Subscribers see the session's final snapshot before the terminal
	// stream-stopped signal; the registry entry itself is removed, never
	// retained in stopped state.
	o.registry.SetStatus(id, StatusStopped, "")
	if s, err := o.registry.Get(id); err == nil {
		o.notify(func(n Notifier) { n.StreamUpdated(s) })
	}
	o.notify(func(n Notifier) { n.StreamStopped(id) })

	if o.watcher != nil {
		o.watcher.Unwatch(id)
	}
	// The transcoder may still hold segment files open for a moment.
	if err := os.RemoveAll(filepath.Join(o.outputDir, id)); err != nil {
		o.log.Warn("output cleanup failed", slog.String("stream_id", id), slog.String("error", err.Error()))
	}

	o.registry.Remove(id)
	if o.metrics != nil {
		o.metrics.IncSessionsStopped()
	}
	o.log.Info("stream stopped", slog.String("stream_id", id))
	return true
}

// StopAll stops every registered session concurrently and waits for all
// teardowns to complete. Used by the shutdown hook so no transcoder is
// orphaned.
func (o *Orchestrator) StopAll() {
	var g errgroup.Group
	for _, s := range o.registry.List() {
		id := s.ID
		g.Go(func() error {
			o.StopSession(id)
			return nil
		})
	}
	_ = g.Wait()
}

// Session returns a snapshot of one session.
func (o *Orchestrator) Session(id string) (Session, error) {
	return o.registry.Get(id)
}

// Sessions returns a snapshot of all sessions.
func (o *Orchestrator) Sessions() []Session {
	return o.registry.List()
}

// StatsFor reports the current viewer count, uptime and on-disk segment
// count for a session.
func (o *Orchestrator) StatsFor(id string) (Stats, error) {
	s, err := o.registry.Get(id)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		StreamID:      id,
		Viewers:       o.subs.CountFor(id),
		UptimeSeconds: time.Since(s.CreatedAt).Seconds(),
	}
	if o.watcher != nil {
		st.Segments = o.watcher.SegmentCount(id)
	}
	return st, nil
}

// Subscribe registers a signaling connection as a viewer and returns the
// current session snapshot.
func (o *Orchestrator) Subscribe(connID, sessionID string) (Session, error) {
	if err := o.subs.Subscribe(connID, sessionID); err != nil {
		return Session{}, err
	}
	return o.registry.Get(sessionID)
}

// Unsubscribe drops a connection's subscription, arming idle reclamation if
// it was the session's last viewer.
func (o *Orchestrator) Unsubscribe(connID string) {
	o.subs.Unsubscribe(connID)
}

// Viewers returns the number of connections subscribed to sessionID.
func (o *Orchestrator) Viewers(sessionID string) int {
	return o.subs.CountFor(sessionID)
}

// consumeEvents applies supervisor transitions to the registry in emission
// order and fans the updated snapshot out. Events for sessions already torn
// down (the expected exit after an explicit stop) are dropped.
func (o *Orchestrator) consumeEvents() {
	for ev := range o.sup.Events() {
		cur, err := o.registry.Get(ev.SessionID)
		if err != nil {
			continue
		}
		// Startup markers seen after an error (or repeated) are not promotions.
		if ev.Status == StatusActive && cur.Status != StatusPending {
			continue
		}

		o.registry.SetStatus(ev.SessionID, ev.Status, ev.Message)
		if ev.Status == StatusError {
			o.log.Warn("stream errored", slog.String("stream_id", ev.SessionID), slog.String("reason", ev.Message))
			if o.metrics != nil {
				o.metrics.IncSessionErrors()
			}
		}

		if s, err := o.registry.Get(ev.SessionID); err == nil {
			o.notify(func(n Notifier) { n.StreamUpdated(s) })
		}
	}
}

func (o *Orchestrator) notify(fn func(Notifier)) {
	o.mu.RLock()
	n := o.notifier
	o.mu.RUnlock()
	if n != nil {
		fn(n)
	}
}
