package greeter

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zhubert/greeter-core/backend"
	"github.com/zhubert/greeter-core/logger"
	"github.com/zhubert/greeter-core/protocol"
)

// ErrClosed is returned by Greeter methods after Close.
var ErrClosed = errors.New("greeter is closed")

// opQueueSize is the number of operations that may wait for the loop.
const opQueueSize = 64

// Options configures a Greeter.
type Options struct {
	// Backend configures the supervised process. An empty Path is filled
	// in with backend.Resolve(Resolve).
	Backend backend.Config
	Resolve backend.ResolveOptions

	// SendHello announces protocol.UIVersion after every spawn.
	SendHello bool

	// Session supplies the selection for auth and start commands. A new
	// empty SessionConfig is used when nil.
	Session *SessionConfig

	// Logger defaults to the "greeter" component logger.
	Logger *slog.Logger
}

// Greeter connects the UI to the backend: it owns the Supervisor, the
// Machine and the Dispatcher.
//
// All state changes happen on one loop goroutine. Public methods and
// supervisor callbacks post closures to it, so backend events are applied
// in the order the backend wrote them. Command methods return once the
// write was flushed or the flush wait elapsed; failures are reported
// through Events, never as a returned error.
type Greeter struct {
	opts       Options
	log        *slog.Logger
	attemptLog *slog.Logger
	attemptID  string

	sup        *backend.Supervisor
	machine    *Machine
	dispatcher *Dispatcher
	session    *SessionConfig

	// generation mirrors machine.Generation for supervisor goroutines.
	generation atomic.Uint64
	// pid of the backend spawned last, 0 if unknown. Loop only.
	pid int

	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Greeter. The backend is not spawned until Start.
func New(opts Options) *Greeter {
	log := opts.Logger
	if log == nil {
		log = logger.WithComponent("greeter")
	}
	if opts.Backend.Path == "" {
		opts.Backend.Path = backend.Resolve(opts.Resolve)
	}
	session := opts.Session
	if session == nil {
		session = NewSessionConfig()
	}

	g := &Greeter{
		opts:       opts,
		log:        log,
		attemptLog: log,
		machine:    NewMachine(),
		dispatcher: NewDispatcher(),
		session:    session,
		ops:        make(chan func(), opQueueSize),
		done:       make(chan struct{}),
	}
	g.sup = backend.NewSupervisor(opts.Backend, backend.Callbacks{
		OnLine:  g.onLine,
		OnExit:  g.onExit,
		OnError: g.onError,
	}, log.With("subsystem", "supervisor"))

	session.OnChange(func(s SessionSnapshot) {
		g.dispatcher.Dispatch(ConfigChanged{Config: s})
	})

	g.wg.Add(1)
	go g.loop()
	return g
}

// Events returns the notification channel. It is closed by Close.
func (g *Greeter) Events() <-chan Event {
	return g.dispatcher.Events()
}

// Session returns the session selection used for auth and start commands.
func (g *Greeter) Session() *SessionConfig {
	return g.session
}

// BackendPath returns the executable the Greeter spawns.
func (g *Greeter) BackendPath() string {
	return g.opts.Backend.Path
}

// Start spawns the backend. A spawn failure is reported as ErrorReceived
// followed by Crashed. Every new backend starts with a fresh state machine:
// a crash or hand-off of the previous process does not carry over.
func (g *Greeter) Start() error {
	return g.do(g.spawn)
}

// Stop terminates the backend. The Greeter stays usable; Restart or Start
// spawns a new backend.
func (g *Greeter) Stop() error {
	return g.do(g.sup.Stop)
}

// Restart stops the current backend, resets the state machine and spawns a
// fresh backend.
func (g *Greeter) Restart() error {
	return g.do(func() {
		g.sup.Stop()
		g.log.Info("restarting backend")
		g.spawn()
	})
}

// Authenticate starts a login attempt for username with the current
// session selection.
func (g *Greeter) Authenticate(username string) error {
	return g.do(func() {
		g.newAttempt()
		s := g.session.Snapshot()
		g.emit(g.machine.BeginAuth())
		g.generation.Store(g.machine.Generation())
		g.attemptLog.Info("authenticating", "user", username, "sessionID", s.SessionID)
		g.send(protocol.Auth{
			Username:  username,
			SessionID: s.SessionID,
			ProfileID: s.ProfileID,
			Locale:    s.Locale,
			Command:   s.Command,
			Env:       s.Env,
		})
	})
}

// RespondPrompt answers prompt id.
func (g *Greeter) RespondPrompt(id int, response string) error {
	return g.do(func() {
		g.send(protocol.PromptResponse{ID: id, Response: &response})
		g.emit(g.machine.PromptAnswered(id))
	})
}

// AckPrompt acknowledges prompt id without an answer.
func (g *Greeter) AckPrompt(id int) error {
	return g.do(func() {
		g.send(protocol.PromptResponse{ID: id})
		g.emit(g.machine.PromptAnswered(id))
	})
}

// CancelAuth aborts the current attempt.
func (g *Greeter) CancelAuth() error {
	return g.do(func() {
		g.attemptLog.Info("cancelling authentication")
		g.send(protocol.Cancel{})
		g.machine.Cancelled()
	})
}

// StartSession asks the backend to launch command, or the configured
// session command when command is empty.
func (g *Greeter) StartSession(command []string) error {
	return g.do(func() {
		s := g.session.Snapshot()
		if len(command) == 0 {
			command = s.Command
		}
		g.emit(g.machine.BeginStart())
		g.generation.Store(g.machine.Generation())
		g.attemptLog.Info("starting session", "command", command)
		g.send(protocol.Start{Command: command, Env: s.Env})
	})
}

// RequestPower asks the backend to perform a power action.
func (g *Greeter) RequestPower(action string) error {
	return g.do(func() {
		g.log.Info("requesting power action", "action", action)
		g.send(protocol.Power{Action: action})
	})
}

// Phase returns the current phase.
func (g *Greeter) Phase() protocol.Phase {
	var phase protocol.Phase
	g.do(func() { phase = g.machine.Phase() })
	return phase
}

// Busy reports whether an authentication or session start is in progress.
func (g *Greeter) Busy() bool {
	var busy bool
	g.do(func() { busy = g.machine.Busy() })
	return busy
}

// AllowExit reports whether a backend exit right now would be treated as
// the session hand-off.
func (g *Greeter) AllowExit() bool {
	var allow bool
	g.do(func() { allow = g.machine.AllowExit() })
	return allow
}

// Running reports whether the backend process is alive.
func (g *Greeter) Running() bool {
	var running bool
	g.do(func() { running = g.sup.IsRunning() })
	return running
}

// Pid returns the backend's process ID, or 0 when it is not running.
func (g *Greeter) Pid() int {
	var pid int
	g.do(func() { pid = g.sup.Pid() })
	return pid
}

// Pending returns the outstanding prompt, if any.
func (g *Greeter) Pending() (PendingPrompt, bool) {
	var (
		p  PendingPrompt
		ok bool
	)
	g.do(func() { p, ok = g.machine.Pending() })
	return p, ok
}

// Close stops the backend, the loop and event delivery. Safe to call
// multiple times.
func (g *Greeter) Close() {
	g.closeOnce.Do(func() {
		g.do(g.sup.Stop)
		close(g.done)
		g.wg.Wait()
		g.dispatcher.Close()
	})
}

func (g *Greeter) loop() {
	defer g.wg.Done()
	for {
		select {
		case op := <-g.ops:
			op()
		case <-g.done:
			return
		}
	}
}

// do runs fn on the loop and waits for it to finish.
func (g *Greeter) do(fn func()) error {
	finished := make(chan struct{})
	if !g.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-g.done:
		return ErrClosed
	}
}

// post queues fn for the loop without waiting for it.
func (g *Greeter) post(fn func()) bool {
	select {
	case <-g.done:
		return false
	default:
	}
	select {
	case g.ops <- fn:
		return true
	case <-g.done:
		return false
	}
}

func (g *Greeter) spawn() {
	if g.sup.IsRunning() {
		g.log.Debug("backend already running")
		return
	}

	wasIdle := g.machine.Phase() == protocol.PhaseIdle
	g.machine.Reset()
	g.generation.Store(g.machine.Generation())
	if !wasIdle {
		g.emit([]Event{PhaseChanged{Phase: g.machine.Phase()}})
	}

	if err := g.sup.Start(); err != nil {
		if errors.Is(err, backend.ErrAlreadyRunning) {
			g.log.Debug("backend already running")
			return
		}
		var pe *backend.ProcessError
		if !errors.As(err, &pe) {
			pe = &backend.ProcessError{Kind: backend.Classify(err), Err: err}
		}
		g.log.Error("backend failed to start", "path", g.opts.Backend.Path, "error", err)
		g.emit(g.machine.ProcessFailed(pe, g.machine.Generation()))
		return
	}
	g.pid = g.sup.Pid()
	if g.opts.SendHello {
		g.send(protocol.Hello{UIVersion: protocol.UIVersion})
	}
}

// send encodes cmd and writes it to the backend. Write errors are reported
// by the supervisor's OnError callback and are not reported again here.
func (g *Greeter) send(cmd protocol.Command) {
	payload, err := protocol.Encode(cmd)
	if err != nil {
		g.log.Error("failed to encode command", "type", cmd.CommandType(), "error", err)
		return
	}
	err = g.sup.WriteLine(payload)
	switch {
	case err == nil:
		g.attemptLog.Debug("sent command", "type", cmd.CommandType())
	case errors.Is(err, backend.ErrNotRunning):
		g.attemptLog.Warn("backend not running", "type", cmd.CommandType())
		g.emit(g.machine.NotRunning())
	case errors.Is(err, backend.ErrWriteTimeout):
		g.attemptLog.Warn("command write stalled", "type", cmd.CommandType())
		g.emit([]Event{WriteStalled{Command: cmd.CommandType()}})
	default:
		g.attemptLog.Debug("command write failed", "type", cmd.CommandType(), "error", err)
	}
}

func (g *Greeter) emit(events []Event) {
	g.dispatcher.Dispatch(events...)
}

func (g *Greeter) newAttempt() {
	g.attemptID = uuid.New().String()
	if g.opts.Logger == nil {
		g.attemptLog = logger.WithAttempt(g.attemptID).With("component", "greeter")
	} else {
		g.attemptLog = g.log.With("attemptID", g.attemptID)
	}
}

func (g *Greeter) onLine(line []byte) {
	g.post(func() {
		ev, ok := protocol.Decode(line)
		if !ok {
			g.attemptLog.Debug("dropping malformed backend line", "line", truncate(line, 200))
			return
		}
		g.attemptLog.Debug("backend event", "type", ev.EventType())
		g.emit(g.machine.Apply(ev))
	})
}

func (g *Greeter) onExit(info backend.ExitInfo) {
	gen := g.generation.Load()
	g.post(func() {
		if g.pid != 0 && info.PID != g.pid {
			g.log.Debug("ignoring exit of a previous backend", "pid", info.PID)
			return
		}
		g.emit(g.machine.ProcessExited(info, gen))
	})
}

func (g *Greeter) onError(err *backend.ProcessError) {
	gen := g.generation.Load()
	g.post(func() {
		g.emit(g.machine.ProcessFailed(err, gen))
	})
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s... (%d bytes)", b[:n], len(b))
}
