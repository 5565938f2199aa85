package stream

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"rtsp-bridge/internal/platform/logger"
)

func newTestWatcher(t *testing.T) (*SegmentWatcher, string) {
	t.Helper()
	root := t.TempDir()
	w, err := NewSegmentWatcher(root, logger.Discard())
	if err != nil {
		t.Fatalf("NewSegmentWatcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w, root
}

func writeSegment(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSegmentWatcher_counts_created_segments(t *testing.T) {
	w, root := newTestWatcher(t)

	dir := filepath.Join(root, "sess1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch("sess1"); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeSegment(t, dir, "segment000.ts")
	writeSegment(t, dir, "segment001.ts")
	writeSegment(t, dir, "index.m3u8") // not a segment

	waitFor(t, 2*time.Second, func() bool { return w.SegmentCount("sess1") == 2 })
}

func TestSegmentWatcher_counts_removed_segments(t *testing.T) {
	w, root := newTestWatcher(t)

	dir := filepath.Join(root, "sess1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch("sess1"); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeSegment(t, dir, "segment000.ts")
	writeSegment(t, dir, "segment001.ts")
	waitFor(t, 2*time.Second, func() bool { return w.SegmentCount("sess1") == 2 })

	if err := os.Remove(filepath.Join(dir, "segment000.ts")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return w.SegmentCount("sess1") == 1 })
}

func TestSegmentWatcher_prescan_picks_up_existing_segments(t *testing.T) {
	w, root := newTestWatcher(t)

	dir := filepath.Join(root, "sess1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeSegment(t, dir, "segment000.ts")

	if err := w.Watch("sess1"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if got := w.SegmentCount("sess1"); got != 1 {
		t.Errorf("SegmentCount = %d, want 1 from pre-scan", got)
	}
}

func TestSegmentWatcher_unwatch_discards_state(t *testing.T) {
	w, root := newTestWatcher(t)

	dir := filepath.Join(root, "sess1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch("sess1"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	writeSegment(t, dir, "segment000.ts")
	waitFor(t, 2*time.Second, func() bool { return w.SegmentCount("sess1") == 1 })

	w.Unwatch("sess1")
	if got := w.SegmentCount("sess1"); got != 0 {
		t.Errorf("SegmentCount after Unwatch = %d, want 0", got)
	}

	// Events for untracked sessions are ignored.
	writeSegment(t, dir, "segment001.ts")
	time.Sleep(50 * time.Millisecond)
	if got := w.SegmentCount("sess1"); got != 0 {
		t.Errorf("SegmentCount = %d, want 0 for untracked session", got)
	}
}

func TestSegmentWatcher_watch_missing_dir(t *testing.T) {
	w, _ := newTestWatcher(t)
	if err := w.Watch("never-created"); err == nil {
		t.Error("expected error watching a missing directory")
	}
}
