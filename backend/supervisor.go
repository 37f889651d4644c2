// Package backend supervises the authentication backend process: it locates
// and spawns the executable, streams its stdout line by line, feeds its
// stdin, and reports exits and I/O failures.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// DefaultWriteTimeout bounds how long WriteLine waits for a flush.
	DefaultWriteTimeout = 100 * time.Millisecond

	// DefaultStopGrace bounds how long Stop waits after SIGTERM.
	DefaultStopGrace = time.Second

	// drainTimeout bounds how long the exit monitor waits for stdout and
	// stderr to reach EOF after the process exited. A grandchild that
	// inherited the pipes would otherwise hold the exit report forever.
	drainTimeout = 500 * time.Millisecond

	// writeQueueSize is the number of writes that may be queued behind a
	// stalled pipe.
	writeQueueSize = 16

	// stderrTailLines is how much stderr is kept for crash diagnostics.
	stderrTailLines = 20
)

// ExitStatus tells a normal exit apart from death by signal.
type ExitStatus int

const (
	// ExitNormal means the process called exit.
	ExitNormal ExitStatus = iota
	// ExitCrash means the process was killed by a signal.
	ExitCrash
)

func (s ExitStatus) String() string {
	if s == ExitNormal {
		return "normal"
	}
	return "crash"
}

// ExitInfo describes how the backend terminated.
type ExitInfo struct {
	PID    int
	Code   int
	Status ExitStatus
	Signal string // set when Status is ExitCrash
	Stderr string // last lines of stderr, if any
}

// Clean reports a normal exit with status 0.
func (e ExitInfo) Clean() bool {
	return e.Status == ExitNormal && e.Code == 0
}

// Config holds the configuration for starting the backend.
type Config struct {
	Path string   // Executable, usually from Resolve
	Args []string // Extra arguments
	Env  []string // KEY=VALUE entries appended to the greeter's environment
	Dir  string   // Working directory, empty for the greeter's own

	WriteTimeout   time.Duration // Flush wait for WriteLine (DefaultWriteTimeout if zero)
	StopGrace      time.Duration // Wait after SIGTERM in Stop (DefaultStopGrace if zero)
	KillAfterGrace bool          // SIGKILL a child that outlives StopGrace
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	return c
}

// Callbacks are invoked from the Supervisor's goroutines.
//
// Ordering: every OnLine for a process happens before its OnExit. OnError
// may arrive at any time while the process runs. None of the callbacks fire
// for a process that was terminated through Stop.
type Callbacks struct {
	// OnLine receives each complete stdout line without its terminator.
	OnLine func(line []byte)

	// OnExit is called once when the process terminates on its own.
	OnExit func(info ExitInfo)

	// OnError is called for read and write failures while running.
	OnError func(err *ProcessError)
}

type writeRequest struct {
	data []byte
	done chan error
}

// Supervisor manages the lifecycle of one backend process at a time.
type Supervisor struct {
	config    Config
	callbacks Callbacks
	log       *slog.Logger

	// Process state (protected by mu)
	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      *os.File
	stdout     *os.File
	stderr     *os.File
	stderrTail []string
	readDone   chan struct{}
	stderrDone chan struct{}
	waitDone   chan struct{}
	writes     chan writeRequest
	running    bool

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// NewSupervisor creates a Supervisor. Nothing is spawned until Start.
func NewSupervisor(config Config, callbacks Callbacks, log *slog.Logger) *Supervisor {
	return &Supervisor{
		config:    config.withDefaults(),
		callbacks: callbacks,
		log:       log,
	}
}

// Start spawns the backend. A spawn failure is returned as a
// *ProcessError with Kind FailedToStart.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	startTime := time.Now()
	s.log.Info("starting backend", "path", s.config.Path, "args", s.config.Args)

	cmd := exec.Command(s.config.Path, s.config.Args...)
	cmd.Dir = s.config.Dir
	if len(s.config.Env) > 0 {
		cmd.Env = append(os.Environ(), s.config.Env...)
	}
	// Own process group: a ^C on the greeter's terminal must not reach the
	// backend directly, and Stop can signal the backend's helpers too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return newProcessError(FailedToStart, fmt.Errorf("stdin pipe: %w", err))
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return newProcessError(FailedToStart, fmt.Errorf("stdout pipe: %w", err))
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return newProcessError(FailedToStart, fmt.Errorf("stderr pipe: %w", err))
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		s.log.Error("failed to start backend", "path", s.config.Path, "error", err)
		return newProcessError(FailedToStart, err)
	}
	// The child holds its own copies now.
	closeAll(stdinR, stdoutW, stderrW)

	s.cmd = cmd
	s.stdin = stdinW
	s.stdout = stdoutR
	s.stderr = stderrR
	s.stderrTail = nil
	s.readDone = make(chan struct{})
	s.stderrDone = make(chan struct{})
	s.waitDone = make(chan struct{})
	s.writes = make(chan writeRequest, writeQueueSize)
	s.running = true

	// Cancel any previous context to prevent goroutine leaks from prior runs
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.log.Info("backend started", "elapsed", time.Since(startTime), "pid", cmd.Process.Pid)

	ctx := s.ctx
	s.wg.Add(4)
	go func() {
		defer s.wg.Done()
		s.readOutput(ctx, stdoutR, s.readDone)
	}()
	go func() {
		defer s.wg.Done()
		s.drainStderr(stderrR, s.stderrDone)
	}()
	go func() {
		defer s.wg.Done()
		s.writeLoop(ctx, stdinW, s.writes)
	}()
	go func() {
		defer s.wg.Done()
		s.monitorExit(ctx, cmd)
	}()

	return nil
}

// Stop closes the backend's stdin, sends SIGTERM to its process group and
// waits up to StopGrace. It returns whether or not the process exited; the
// exit monitor keeps reaping in the background. No callbacks fire for a
// stopped process. Safe to call multiple times.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	if !s.running {
		s.mu.Unlock()
		return
	}

	s.log.Debug("stopping backend")
	s.running = false

	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	cmd := s.cmd
	waitDone := s.waitDone
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		// Group already gone or never formed; try the process itself.
		if err := cmd.Process.Signal(unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.log.Debug("failed to send SIGTERM", "pid", pid, "error", err)
		}
	}

	select {
	case <-waitDone:
		s.log.Debug("backend exited gracefully", "pid", pid)
		s.wg.Wait()
		return
	case <-time.After(s.config.StopGrace):
	}

	if !s.config.KillAfterGrace {
		s.log.Warn("backend still running after grace period", "pid", pid, "grace", s.config.StopGrace)
		return
	}

	s.log.Warn("killing backend after grace period", "pid", pid)
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		cmd.Process.Kill()
	}
	select {
	case <-waitDone:
		s.wg.Wait()
	case <-time.After(s.config.StopGrace):
		s.log.Error("backend did not exit after SIGKILL", "pid", pid)
	}
}

// IsRunning returns whether the backend process is currently running.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Pid returns the backend's process ID, or 0 when it is not running.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// WriteLine sends payload to the backend's stdin followed by a single
// newline (unless payload already ends with one). It waits at most
// WriteTimeout for the write to complete:
//
//   - ErrNotRunning: nothing was written
//   - ErrWriteTimeout: the write is queued and will complete in order later
//   - *ProcessError (WriteError): the OS rejected the write; OnError has
//     been or will be called as well
func (s *Supervisor) WriteLine(payload []byte) error {
	s.mu.Lock()
	running := s.running
	writes := s.writes
	ctx := s.ctx
	s.mu.Unlock()

	if !running || writes == nil {
		return ErrNotRunning
	}

	data := make([]byte, 0, len(payload)+1)
	data = append(data, payload...)
	if !bytes.HasSuffix(data, []byte{'\n'}) {
		data = append(data, '\n')
	}
	req := writeRequest{data: data, done: make(chan error, 1)}

	timer := time.NewTimer(s.config.WriteTimeout)
	defer timer.Stop()

	select {
	case writes <- req:
	case <-timer.C:
		s.log.Warn("write queue full", "bytes", len(data))
		return ErrWriteTimeout
	case <-ctx.Done():
		return ErrNotRunning
	}

	select {
	case err := <-req.done:
		return err
	case <-timer.C:
		s.log.Warn("write not flushed in time", "bytes", len(data), "timeout", s.config.WriteTimeout)
		return ErrWriteTimeout
	}
}

// writeLoop serializes writes to stdin so that queued lines keep their order.
func (s *Supervisor) writeLoop(ctx context.Context, stdin *os.File, writes <-chan writeRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-writes:
			_, err := stdin.Write(req.data)
			if err == nil {
				req.done <- nil
				continue
			}
			if ctx.Err() != nil {
				req.done <- ErrNotRunning
				return
			}
			pe := newProcessError(WriteError, err)
			s.log.Error("write to backend failed", "error", err)
			req.done <- pe
			s.reportError(ctx, pe)
		}
	}
}

// readOutput reads stdout line by line until EOF and hands each complete
// line to OnLine. A trailing fragment without a newline is discarded.
func (s *Supervisor) readOutput(ctx context.Context, stdout *os.File, done chan struct{}) {
	defer close(done)
	s.log.Debug("output reader started")

	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			switch {
			case err == io.EOF:
				if len(bytes.TrimSpace(line)) > 0 {
					s.log.Debug("discarding unterminated stdout fragment", "bytes", len(line))
				}
			case errors.Is(err, os.ErrClosed), ctx.Err() != nil:
				s.log.Debug("output reader closed")
			default:
				s.log.Error("error reading backend stdout", "error", err)
				s.reportError(ctx, newProcessError(ReadError, err))
			}
			return
		}

		if ctx.Err() != nil {
			continue
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		if s.callbacks.OnLine != nil {
			s.callbacks.OnLine(line)
		}
	}
}

// drainStderr logs backend stderr line by line and keeps a short tail for
// crash reports.
func (s *Supervisor) drainStderr(stderr *os.File, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		s.log.Debug("backend stderr", "line", line)

		s.mu.Lock()
		s.stderrTail = append(s.stderrTail, line)
		if len(s.stderrTail) > stderrTailLines {
			s.stderrTail = s.stderrTail[len(s.stderrTail)-stderrTailLines:]
		}
		s.mu.Unlock()
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.log.Debug("error reading backend stderr", "error", err)
	}
}

// monitorExit is the sole caller of cmd.Wait. It withholds the exit report
// until stdout has been fully delivered so that a final success line is
// always observed before the exit that follows it.
func (s *Supervisor) monitorExit(ctx context.Context, cmd *exec.Cmd) {
	s.mu.Lock()
	readDone := s.readDone
	stderrDone := s.stderrDone
	waitDone := s.waitDone
	stdout := s.stdout
	stderr := s.stderr
	s.mu.Unlock()

	waitErr := cmd.Wait()
	s.log.Debug("backend exited", "error", waitErr)

	drained := time.NewTimer(drainTimeout)
	defer drained.Stop()
	for _, ch := range []chan struct{}{readDone, stderrDone} {
		select {
		case <-ch:
		case <-drained.C:
			s.log.Warn("backend pipes still open after exit; closing")
			closeAll(stdout, stderr)
			<-ch
		}
	}
	closeAll(stdout, stderr)
	close(waitDone)

	s.handleExit(ctx, cmd, waitErr)
}

// handleExit releases process resources and reports an unsolicited exit.
func (s *Supervisor) handleExit(ctx context.Context, cmd *exec.Cmd, waitErr error) {
	s.mu.Lock()
	if !s.running || s.cmd != cmd || ctx.Err() != nil {
		// Stop() already took ownership of this process.
		s.mu.Unlock()
		return
	}
	s.running = false
	// Stop the write loop before closing stdin so an in-flight write is
	// not mistaken for a write error.
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	info := exitInfo(cmd.ProcessState, waitErr)
	info.Stderr = strings.Join(s.stderrTail, "\n")
	info.PID = cmd.Process.Pid
	s.mu.Unlock()

	if info.Clean() {
		s.log.Info("backend exited", "code", info.Code)
	} else {
		s.log.Warn("backend exited", "code", info.Code, "status", info.Status.String(), "signal", info.Signal, "stderr", info.Stderr)
	}

	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(info)
	}
}

// reportError forwards err to OnError unless the process is being stopped.
func (s *Supervisor) reportError(ctx context.Context, err *ProcessError) {
	if ctx.Err() != nil {
		return
	}
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
}

// exitInfo converts a process state into an ExitInfo.
func exitInfo(state *os.ProcessState, waitErr error) ExitInfo {
	if state == nil {
		return ExitInfo{Code: -1, Status: ExitCrash, Signal: fmt.Sprint(waitErr)}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitInfo{Code: -1, Status: ExitCrash, Signal: unix.SignalName(ws.Signal())}
	}
	return ExitInfo{Code: state.ExitCode(), Status: ExitNormal}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
