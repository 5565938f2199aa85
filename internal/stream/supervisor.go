package stream

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
)

// Event is a status transition observed by the supervisor for one session.
type Event struct {
	SessionID string
	Status    Status
	Message   string
}

// Supervisor owns the external transcoding process for each session: spawn,
// health classification from diagnostic output, and termination. Transitions
// are delivered on Events; Start never blocks on process startup.
type Supervisor interface {
	Start(s Session)
	Stop(id string)
	Events() <-chan Event
}

// diagnosticBuffer bounds the queue between the stderr reader and the
// classifier so a slow classifier can never stall the transcoder's pipe.
const diagnosticBuffer = 256

const eventBuffer = 64

// qualityArgs maps each quality preset to its scale and video bitrate.
var qualityArgs = map[Quality][]string{
	QualityLow:    {"-s", "640x480", "-b:v", "500k"},
	QualityMedium: {"-s", "1280x720", "-b:v", "1500k"},
	QualityHigh:   {"-s", "1920x1080", "-b:v", "3000k"},
	QualityAuto:   {"-s", "1280x720", "-b:v", "2000k"},
}

// FFmpegSupervisor runs one ffmpeg process per session and watches it.
type FFmpegSupervisor struct {
	binPath   string
	outputDir string
	log       *slog.Logger

	events chan Event

	mu    sync.Mutex
	procs map[string]*process
	// stopIntents records Stop calls that arrived before the session's
	// process was registered, so a concurrent Start cannot orphan it.
	stopIntents map[string]struct{}
}

type process struct {
	cmd      *exec.Cmd
	stopping bool
	exited   bool
}

// NewFFmpegSupervisor returns a supervisor that spawns binPath and writes
// session output below outputDir. binPath must already be resolved to an
// executable; the supervisor performs no discovery.
func NewFFmpegSupervisor(binPath, outputDir string, log *slog.Logger) *FFmpegSupervisor {
	return &FFmpegSupervisor{
		binPath:     binPath,
		outputDir:   outputDir,
		log:         log,
		events:      make(chan Event, eventBuffer),
		procs:       make(map[string]*process),
		stopIntents: make(map[string]struct{}),
	}
}

// Events returns the channel of status transitions. The channel is never
// closed; consumers run for the life of the process.
func (f *FFmpegSupervisor) Events() <-chan Event {
	return f.events
}

// Start launches the transcoder for s and begins consuming its diagnostic
// output. Spawn failures are reported as an error transition on Events, not
// returned, since the session already exists in the registry.
func (f *FFmpegSupervisor) Start(s Session) {
	f.mu.Lock()
	if _, requested := f.stopIntents[s.ID]; requested {
		delete(f.stopIntents, s.ID)
		f.mu.Unlock()
		f.log.Debug("start skipped, stop already requested", slog.String("stream_id", s.ID))
		return
	}
	f.mu.Unlock()

	dir := filepath.Join(f.outputDir, s.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		f.abortStart(s.ID, err)
		return
	}

	args := buildArgs(s.SourceURL, s.Quality, dir)
	cmd := exec.Command(f.binPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		f.abortStart(s.ID, err)
		return
	}

	f.log.Debug("starting transcoder",
		slog.String("stream_id", s.ID),
		slog.String("bin", f.binPath),
		slog.String("source", s.SourceURL),
		slog.String("quality", string(s.Quality)))

	if err := cmd.Start(); err != nil {
		f.abortStart(s.ID, err)
		return
	}

	// A Stop that raced the spawn left its intent behind; honor it now that
	// there is a process to signal.
	f.mu.Lock()
	p := &process{cmd: cmd}
	_, requested := f.stopIntents[s.ID]
	if requested {
		delete(f.stopIntents, s.ID)
		p.stopping = true
	}
	f.procs[s.ID] = p
	f.mu.Unlock()

	if requested && cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			f.log.Debug("terminate signal failed", slog.String("stream_id", s.ID), slog.String("error", err.Error()))
		}
	}

	lines := make(chan string, diagnosticBuffer)

	go f.readDiagnostics(stderr, lines)
	go f.classifyDiagnostics(s.ID, lines)
	go f.waitForExit(s.ID, cmd)
}

// abortStart reports a failed spawn as an error transition and discards any
// stop intent that landed while the spawn was in flight.
func (f *FFmpegSupervisor) abortStart(id string, err error) {
	f.mu.Lock()
	delete(f.stopIntents, id)
	f.mu.Unlock()
	f.events <- Event{SessionID: id, Status: StatusError, Message: err.Error()}
}

// Stop sends a graceful termination signal and returns without waiting for
// exit; waitForExit removes the handle once the exit is observed. Stopping
// an id whose process has not registered yet records the intent, and the
// in-flight Start skips or kills the spawn. Calling Stop twice is a no-op.
func (f *FFmpegSupervisor) Stop(id string) {
	f.mu.Lock()
	p, ok := f.procs[id]
	if !ok {
		f.stopIntents[id] = struct{}{}
		f.mu.Unlock()
		return
	}
	if p.exited {
		delete(f.procs, id)
		f.mu.Unlock()
		return
	}
	if p.stopping {
		f.mu.Unlock()
		return
	}
	p.stopping = true
	f.mu.Unlock()

	if p.cmd.Process != nil {
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			f.log.Debug("terminate signal failed", slog.String("stream_id", id), slog.String("error", err.Error()))
		}
	}
}

// readDiagnostics drains the transcoder's stderr line by line. Lines are
// handed off on a buffered channel; when the classifier falls behind, lines
// are dropped rather than blocking the pipe.
func (f *FFmpegSupervisor) readDiagnostics(r io.Reader, lines chan<- string) {
	defer close(lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		default:
		}
	}
}

func (f *FFmpegSupervisor) classifyDiagnostics(id string, lines <-chan string) {
	current := StatusPending
	for line := range lines {
		f.log.Debug("transcoder output", slog.String("stream_id", id), slog.String("line", line))

		next, message, ok := Classify(line, current)
		if !ok {
			continue
		}
		current = next
		f.events <- Event{SessionID: id, Status: next, Message: message}
	}
}

// waitForExit reaps the process and reports abnormal exits. An exit observed
// after Stop was requested is expected, produces no transition, and retires
// the handle; an unrequested exit keeps the handle (marked exited) until the
// orchestrator's Stop arrives, so a stop for an already-dead session never
// registers a stray intent.
func (f *FFmpegSupervisor) waitForExit(id string, cmd *exec.Cmd) {
	err := cmd.Wait()

	f.mu.Lock()
	p, ok := f.procs[id]
	stopping := ok && p.stopping
	if ok {
		if stopping {
			delete(f.procs, id)
		} else {
			p.exited = true
		}
	}
	f.mu.Unlock()

	code := 0
	if exitErr, isExit := err.(*exec.ExitError); isExit {
		code = exitErr.ExitCode()
	}

	f.log.Info("transcoder exited",
		slog.String("stream_id", id),
		slog.Int("code", code),
		slog.Bool("requested", stopping))

	if stopping || code == 0 {
		return
	}
	f.events <- Event{
		SessionID: id,
		Status:    StatusError,
		Message:   fmt.Sprintf("transcoder exited with code %d", code),
	}
}

// buildArgs assembles the transcoder command line: protocol-specific input
// options, low-latency x264 with a fixed GOP, the quality preset, AAC audio,
// and rolling HLS output with old-segment deletion.
func buildArgs(sourceURL string, quality Quality, dir string) []string {
	q, ok := qualityArgs[quality]
	if !ok {
		q = qualityArgs[QualityAuto]
	}

	args := make([]string, 0, 48)
	if !isHTTPSource(sourceURL) {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "2",
	)
	args = append(args,
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-i", sourceURL,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-g", "48",
		"-sc_threshold", "0",
	)
	args = append(args, q...)
	args = append(args,
		"-c:a", "aac",
		"-b:a", "128k",
		"-ac", "2",
		"-f", "hls",
		"-hls_time", "2",
		"-hls_list_size", "3",
		"-hls_flags", "delete_segments+append_list+omit_endlist",
		"-hls_allow_cache", "0",
		"-hls_segment_filename", filepath.Join(dir, "segment%03d.ts"),
		filepath.Join(dir, ManifestName),
	)
	return args
}

func isHTTPSource(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
