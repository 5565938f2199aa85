package stream

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SegmentWatcher observes session output directories and keeps a count of
// media segments currently on disk per session. With the transcoder deleting
// old segments, the count staying near the rolling window size is the
// cheapest external confirmation that disk usage stays bounded; it is also
// surfaced through the stats endpoint.
type SegmentWatcher struct {
	root string
	log  *slog.Logger
	fw   *fsnotify.Watcher

	mu    sync.Mutex
	known map[string]map[string]struct{}
}

// NewSegmentWatcher returns a watcher rooted at the HLS output directory.
// Callers must eventually Close it.
func NewSegmentWatcher(root string, log *slog.Logger) (*SegmentWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &SegmentWatcher{
		root:  root,
		log:   log,
		fw:    fw,
		known: make(map[string]map[string]struct{}),
	}
	go w.run()
	return w, nil
}

// Watch begins tracking segments for sessionID. The session's output
// directory must already exist.
func (w *SegmentWatcher) Watch(sessionID string) error {
	dir := filepath.Join(w.root, sessionID)
	if err := w.fw.Add(dir); err != nil {
		return err
	}

	w.mu.Lock()
	w.known[sessionID] = make(map[string]struct{})
	w.mu.Unlock()

	// Segments written between MkdirAll and Add are picked up here.
	matches, _ := filepath.Glob(filepath.Join(dir, "*.ts"))
	w.mu.Lock()
	for _, m := range matches {
		w.known[sessionID][filepath.Base(m)] = struct{}{}
	}
	w.mu.Unlock()

	return nil
}

// Unwatch stops tracking sessionID and discards its state. Safe to call for
// sessions that were never watched.
func (w *SegmentWatcher) Unwatch(sessionID string) {
	_ = w.fw.Remove(filepath.Join(w.root, sessionID))

	w.mu.Lock()
	delete(w.known, sessionID)
	w.mu.Unlock()
}

// SegmentCount returns the number of segments currently known for sessionID.
func (w *SegmentWatcher) SegmentCount(sessionID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.known[sessionID])
}

// Close releases the underlying filesystem watcher.
func (w *SegmentWatcher) Close() error {
	return w.fw.Close()
}

func (w *SegmentWatcher) run() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Debug("segment watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *SegmentWatcher) handle(ev fsnotify.Event) {
	if filepath.Ext(ev.Name) != ".ts" {
		return
	}
	sessionID := filepath.Base(filepath.Dir(ev.Name))
	name := filepath.Base(ev.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	segs, ok := w.known[sessionID]
	if !ok {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		segs[name] = struct{}{}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		delete(segs, name)
	}
}
