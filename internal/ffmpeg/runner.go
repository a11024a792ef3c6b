package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/mkang/shadowclip/pkg/log"
	"golang.org/x/sys/unix"
)

const (
	// DefaultTimeout bounds a single encoder invocation.
	DefaultTimeout = 300 * time.Second

	// killGrace is how long a process gets to exit after SIGTERM.
	killGrace = 5 * time.Second

	// stderrTailSize is how much trailing stderr is kept for diagnostics.
	stderrTailSize = 64 * 1024
)

var (
	// ErrNotFound means the encoder binary is not installed.
	ErrNotFound = errors.New("encoder binary not found")

	// ErrTimeout means the invocation exceeded its timeout and was killed.
	ErrTimeout = errors.New("encoder invocation timed out")
)

// Result is the outcome of one encoder invocation.
type Result struct {
	ExitCode int
	Stderr   string
}

// Runner executes encoder commands. It never interprets arguments; callers
// build the full argument vector. All encoder work in this codebase goes
// through Run so that timeouts and process cleanup are uniform.
type Runner struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
}

// NewRunner resolves the ffmpeg/ffprobe binaries and returns a runner.
// A missing binary is fatal for the caller; nothing can be rendered without it.
func NewRunner(ffmpegPath, ffprobePath string, timeout time.Duration) (*Runner, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	resolvedFfmpeg, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ffmpegPath)
	}
	resolvedFfprobe, err := exec.LookPath(ffprobePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ffprobePath)
	}

	return &Runner{
		ffmpegPath:  resolvedFfmpeg,
		ffprobePath: resolvedFfprobe,
		timeout:     timeout,
	}, nil
}

// Timeout returns the per-invocation timeout the runner applies by default.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Run executes ffmpeg with the given arguments and the default timeout.
func (r *Runner) Run(ctx context.Context, args []string) (Result, error) {
	return r.RunWithTimeout(ctx, args, r.timeout)
}

// RunWithTimeout executes ffmpeg with an explicit timeout. On timeout the
// process group receives SIGTERM, then SIGKILL after a short grace period,
// so filter subprocesses do not outlive their parent. The returned Result
// carries the last ~64KB of stderr.
func (r *Runner) RunWithTimeout(ctx context.Context, args []string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = r.timeout
	}

	cmd := exec.Command(r.ffmpegPath, args...)
	tail := newTailBuffer(stderrTailSize)
	cmd.Stderr = tail
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("start ffmpeg: %w", err)
	}
	pgid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return r.finish(err, tail)
	case <-ctx.Done():
		killProcessGroup(pgid, done)
		return Result{ExitCode: -1, Stderr: tail.String()}, ctx.Err()
	case <-timer.C:
		log.Error("ffmpeg timed out after %s, killing process group %d", timeout, pgid)
		killProcessGroup(pgid, done)
		return Result{ExitCode: -1, Stderr: tail.String()}, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

func (r *Runner) finish(waitErr error, tail *tailBuffer) (Result, error) {
	if waitErr == nil {
		return Result{ExitCode: 0, Stderr: tail.String()}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return Result{ExitCode: exitErr.ExitCode(), Stderr: tail.String()}, nil
	}
	return Result{ExitCode: -1, Stderr: tail.String()}, waitErr
}

// killProcessGroup terminates pgid and all its descendants: SIGTERM first,
// SIGKILL once the grace period elapses.
func killProcessGroup(pgid int, done <-chan error) {
	_ = unix.Kill(-pgid, unix.SIGTERM)

	select {
	case <-done:
		return
	case <-time.After(killGrace):
		_ = unix.Kill(-pgid, unix.SIGKILL)
		<-done
	}
}

// tailBuffer keeps the trailing portion of everything written to it.
type tailBuffer struct {
	mu   sync.Mutex
	max  int
	data []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		b.data = b.data[len(b.data)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}
