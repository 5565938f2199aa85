package stream

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rtsp-bridge/internal/platform/logger"
)

func argsString(args []string) string {
	return strings.Join(args, " ")
}

func TestBuildArgs_rtsp_source(t *testing.T) {
	args := argsString(buildArgs("rtsp://camera.local/1", QualityMedium, "/tmp/out/abc"))

	if !strings.Contains(args, "-rtsp_transport tcp") {
		t.Errorf("rtsp source should force TCP transport: %s", args)
	}
	if !strings.Contains(args, "-reconnect 1") || !strings.Contains(args, "-reconnect_delay_max 2") {
		t.Errorf("rtsp source should also get reconnect flags: %s", args)
	}
}

func TestBuildArgs_http_source(t *testing.T) {
	for _, url := range []string{"http://example/feed", "https://example/feed"} {
		args := argsString(buildArgs(url, QualityMedium, "/tmp/out/abc"))

		if !strings.Contains(args, "-reconnect 1") {
			t.Errorf("%s should get reconnect flags: %s", url, args)
		}
		if strings.Contains(args, "-rtsp_transport") {
			t.Errorf("%s should not get rtsp options: %s", url, args)
		}
	}
}

func TestBuildArgs_quality_ladder(t *testing.T) {
	cases := []struct {
		quality Quality
		scale   string
		bitrate string
	}{
		{QualityLow, "640x480", "500k"},
		{QualityMedium, "1280x720", "1500k"},
		{QualityHigh, "1920x1080", "3000k"},
		{QualityAuto, "1280x720", "2000k"},
	}
	for _, c := range cases {
		args := argsString(buildArgs("rtsp://cam/1", c.quality, "/tmp/out/abc"))
		if !strings.Contains(args, "-s "+c.scale) {
			t.Errorf("%s: expected scale %s in %s", c.quality, c.scale, args)
		}
		if !strings.Contains(args, "-b:v "+c.bitrate) {
			t.Errorf("%s: expected bitrate %s in %s", c.quality, c.bitrate, args)
		}
	}
}

func TestBuildArgs_unknown_quality_falls_back_to_auto(t *testing.T) {
	args := argsString(buildArgs("rtsp://cam/1", Quality("weird"), "/tmp/out/abc"))
	if !strings.Contains(args, "-s 1280x720") || !strings.Contains(args, "-b:v 2000k") {
		t.Errorf("unknown quality should use the auto preset: %s", args)
	}
}

func TestBuildArgs_hls_output(t *testing.T) {
	dir := filepath.Join("/tmp/out", "abc")
	args := argsString(buildArgs("rtsp://cam/1", QualityAuto, dir))

	for _, want := range []string{
		"-f hls",
		"-hls_time 2",
		"-hls_list_size 3",
		"delete_segments+append_list+omit_endlist",
		filepath.Join(dir, "segment%03d.ts"),
		filepath.Join(dir, ManifestName),
	} {
		if !strings.Contains(args, want) {
			t.Errorf("expected %q in args: %s", want, args)
		}
	}
}

func TestFFmpegSupervisor_spawn_failure_emits_error(t *testing.T) {
	sup := NewFFmpegSupervisor("/nonexistent/ffmpeg-binary", t.TempDir(), logger.Discard())

	sup.Start(Session{ID: "s1", SourceURL: "rtsp://cam/1", Quality: QualityAuto})

	select {
	case ev := <-sup.Events():
		if ev.SessionID != "s1" || ev.Status != StatusError {
			t.Errorf("got event %+v, want error for s1", ev)
		}
		if ev.Message == "" {
			t.Error("spawn failure should carry the underlying error text")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after spawn failure")
	}
}

func TestFFmpegSupervisor_abnormal_exit_emits_error(t *testing.T) {
	// /bin/false ignores the arguments and exits 1, standing in for a
	// transcoder that dies right after spawn.
	sup := NewFFmpegSupervisor("/bin/false", t.TempDir(), logger.Discard())

	sup.Start(Session{ID: "s1", SourceURL: "rtsp://cam/1", Quality: QualityAuto})

	select {
	case ev := <-sup.Events():
		if ev.Status != StatusError {
			t.Errorf("got %+v, want error transition", ev)
		}
		if !strings.Contains(ev.Message, "exited with code") {
			t.Errorf("message %q should mention the exit code", ev.Message)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event after abnormal exit")
	}
}

func TestFFmpegSupervisor_exit_after_stop_is_silent(t *testing.T) {
	// A stand-in transcoder that ignores its arguments and runs until killed.
	bin := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 60\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	sup := NewFFmpegSupervisor(bin, t.TempDir(), logger.Discard())

	sup.Start(Session{ID: "s1", SourceURL: "rtsp://cam/1", Quality: QualityAuto})
	time.Sleep(100 * time.Millisecond)
	sup.Stop("s1")

	select {
	case ev := <-sup.Events():
		t.Errorf("requested stop should not produce a transition, got %+v", ev)
	case <-time.After(1 * time.Second):
	}
}

func TestFFmpegSupervisor_stop_unknown_id_is_noop(t *testing.T) {
	sup := NewFFmpegSupervisor("/bin/false", t.TempDir(), logger.Discard())
	sup.Stop("missing")
	sup.Stop("missing")
}

func TestFFmpegSupervisor_stop_before_start_skips_spawn(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 60\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	sup := NewFFmpegSupervisor(bin, t.TempDir(), logger.Discard())

	// A stop that lands before the session's process exists must not leave
	// the subsequent start running an unsupervised transcoder.
	sup.Stop("s1")
	sup.Start(Session{ID: "s1", SourceURL: "rtsp://cam/1", Quality: QualityAuto})

	sup.mu.Lock()
	_, running := sup.procs["s1"]
	_, pending := sup.stopIntents["s1"]
	sup.mu.Unlock()
	if running {
		t.Error("start after stop must not leave a registered process")
	}
	if pending {
		t.Error("the consumed stop intent should be cleared")
	}

	select {
	case ev := <-sup.Events():
		t.Errorf("skipped start should not produce a transition, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFFmpegSupervisor_stop_after_exit_retires_handle(t *testing.T) {
	sup := NewFFmpegSupervisor("/bin/false", t.TempDir(), logger.Discard())

	sup.Start(Session{ID: "s1", SourceURL: "rtsp://cam/1", Quality: QualityAuto})
	select {
	case <-sup.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("no event after abnormal exit")
	}

	// The handle stays until the explicit stop, which must reap it without
	// recording a stop intent for the dead session.
	waitFor(t, time.Second, func() bool {
		sup.mu.Lock()
		defer sup.mu.Unlock()
		p, ok := sup.procs["s1"]
		return ok && p.exited
	})

	sup.Stop("s1")

	sup.mu.Lock()
	_, running := sup.procs["s1"]
	_, pending := sup.stopIntents["s1"]
	sup.mu.Unlock()
	if running {
		t.Error("stop of an exited session should retire its handle")
	}
	if pending {
		t.Error("stop of an exited session should not record an intent")
	}
}
