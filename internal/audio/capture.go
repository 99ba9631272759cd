package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"medivoice/internal/ports"
)

var (
	// ErrDeviceUnavailable means the capture device could not be opened.
	ErrDeviceUnavailable = errors.New("microphone is not available")
	// ErrPermissionDenied means the OS or sound server refused microphone access.
	ErrPermissionDenied = errors.New("microphone access denied")
)

// permissionMarkers are stderr fragments ffmpeg and the sound servers print
// when access to the input device is refused.
var permissionMarkers = []string{
	"permission denied",
	"operation not permitted",
	"access denied",
	"not authorized",
	"eacces",
}

const stderrLimit = 4 << 10

// FFMPEGCapture records the microphone as raw s16le PCM through an ffmpeg
// subprocess.
type FFMPEGCapture struct {
	command     string
	startupWait time.Duration
	stopGrace   time.Duration
	log         zerolog.Logger
}

func NewFFMPEGCapture(command string, log zerolog.Logger) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{
		command:     command,
		startupWait: 250 * time.Millisecond,
		stopGrace:   1200 * time.Millisecond,
		log:         log,
	}
}

// Start acquires the input device. The device is held until Stop returns.
func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withCaptureDefaults(cfg)

	cmd := exec.CommandContext(ctx, c.command, captureArgs(cfg)...)
	stderr := &stderrTail{limit: stderrLimit}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyStartFailure(err, "")
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	select {
	case err := <-exited:
		detail := stderr.String()
		c.log.Warn().Err(err).Str("device", cfg.InputDevice).Str("stderr", detail).Msg("capture exited during startup")
		return nil, classifyStartFailure(err, detail)
	case <-time.After(c.startupWait):
	}

	c.log.Debug().
		Str("format", cfg.InputFormat).
		Str("device", cfg.InputDevice).
		Int("sample_rate", cfg.SampleRate).
		Int("channels", cfg.Channels).
		Msg("capture started")

	return &ffmpegSession{
		stdout: stdout,
		stderr: stderr,
		proc:   cmd.Process,
		exited: exited,
		grace:  c.stopGrace,
	}, nil
}

func withCaptureDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func captureArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// classifyStartFailure maps a failed or premature exit onto the permission or
// availability sentinel, keeping ffmpeg's diagnostics in the message.
func classifyStartFailure(err error, detail string) error {
	kind := ErrDeviceUnavailable
	haystack := strings.ToLower(detail)
	if err != nil {
		haystack += " " + strings.ToLower(err.Error())
	}
	for _, marker := range permissionMarkers {
		if strings.Contains(haystack, marker) {
			kind = ErrPermissionDenied
			break
		}
	}

	switch {
	case err != nil && detail != "":
		return fmt.Errorf("%w: %v: %s", kind, err, detail)
	case err != nil:
		return fmt.Errorf("%w: %v", kind, err)
	case detail != "":
		return fmt.Errorf("%w: capture exited early: %s", kind, detail)
	default:
		return fmt.Errorf("%w: capture exited early", kind)
	}
}

// stderrTail keeps the last limit bytes written by the subprocess.
type stderrTail struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; t.limit > 0 && over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *stderrTail
	proc   *os.Process
	exited <-chan error
	grace  time.Duration

	once sync.Once
	err  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg so it flushes, killing it after the grace period.
func (s *ffmpegSession) Stop() error {
	s.once.Do(func() {
		s.err = s.terminate()
		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.err == nil {
			s.err = closeErr
		}
		if s.err != nil {
			if detail := s.stderr.String(); detail != "" {
				s.err = fmt.Errorf("%w: %s", s.err, detail)
			}
		}
	})
	return s.err
}

func (s *ffmpegSession) terminate() error {
	if s.proc != nil {
		_ = s.proc.Signal(os.Interrupt)
	}
	select {
	case err, ok := <-s.exited:
		if !ok {
			return nil
		}
		return normalizeStopErr(err)
	case <-time.After(s.grace):
	}

	if s.proc != nil {
		_ = s.proc.Kill()
	}
	if err, ok := <-s.exited; ok {
		return normalizeStopErr(err)
	}
	return nil
}

// normalizeStopErr treats a non-zero exit after an interrupt as a clean stop.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
