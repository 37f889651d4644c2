package greeter

import (
	"fmt"

	"github.com/zhubert/greeter-core/backend"
	"github.com/zhubert/greeter-core/protocol"
)

// Error codes reported in ErrorReceived.
const (
	// CodePAMError is used when the backend reports an error without a code.
	CodePAMError = "pam_error"

	// CodeBackendCrash is used for unexpected exits and process failures.
	CodeBackendCrash = "backend_crash"
)

// notRunningMessage is the Crashed message for a command sent to a dead
// backend.
const notRunningMessage = "backend is not running"

// Machine tracks the authentication state of one greeter session.
//
// Machine is not safe for concurrent use; the Greeter drives it from a single
// goroutine. Every command that starts a new attempt bumps the generation.
// Success records the generation it arrived in, and a backend exit is only
// treated as the expected session hand-off when it was observed in that same
// generation. The hand-off is consumed by the first such exit.
//
// A pending prompt is only consumed by its answer, by Cancelled or by the
// start of a new attempt; backend errors leave it in place.
type Machine struct {
	phase   protocol.Phase
	pending *PendingPrompt
	queued  []PendingPrompt

	generation   uint64
	exitExpected bool
	exitGen      uint64
	handedOff    bool

	// crashed latches after the first crash notification so that an exit
	// and an I/O error for the same failure are reported once.
	crashed bool
}

// NewMachine returns a Machine in the idle phase.
func NewMachine() *Machine {
	return &Machine{phase: protocol.PhaseIdle}
}

// Phase returns the current phase.
func (m *Machine) Phase() protocol.Phase {
	return m.phase
}

// Busy reports whether an authentication or session start is in progress.
func (m *Machine) Busy() bool {
	return m.phase == protocol.PhaseAuthenticating || m.phase == protocol.PhaseStarting
}

// Pending returns the outstanding prompt, if any.
func (m *Machine) Pending() (PendingPrompt, bool) {
	if m.pending == nil {
		return PendingPrompt{}, false
	}
	return *m.pending, true
}

// Generation returns the current command generation.
func (m *Machine) Generation() uint64 {
	return m.generation
}

// AllowExit reports whether a backend exit right now would be the expected
// hand-off into the user session.
func (m *Machine) AllowExit() bool {
	return m.exitExpected && !m.handedOff && m.exitGen == m.generation
}

// Crashed reports whether a crash has been reported since the last Reset.
func (m *Machine) Crashed() bool {
	return m.crashed
}

// BeginAuth records that an auth command is being sent.
func (m *Machine) BeginAuth() []Event {
	m.generation++
	m.pending = nil
	m.queued = nil
	return m.setPhase(protocol.PhaseAuthenticating)
}

// BeginStart records that a start command is being sent.
func (m *Machine) BeginStart() []Event {
	m.generation++
	return m.setPhase(protocol.PhaseAuthenticating)
}

// PromptAnswered records that a response for id was sent. If another prompt
// arrived in the meantime it becomes pending and is returned for dispatch.
func (m *Machine) PromptAnswered(id int) []Event {
	if m.pending == nil || m.pending.ID != id {
		return nil
	}
	m.pending = nil
	return m.releaseQueued()
}

// Cancelled records that a cancel command was sent.
func (m *Machine) Cancelled() {
	m.pending = nil
	m.queued = nil
}

// Apply folds a decoded backend event into the state and returns the
// notifications it produces.
func (m *Machine) Apply(ev protocol.Event) []Event {
	switch e := ev.(type) {
	case protocol.State:
		m.phase = e.Phase
		return []Event{PhaseChanged{Phase: e.Phase}}

	case protocol.Prompt:
		p := PendingPrompt{ID: e.ID, Kind: e.Kind, Message: e.Message, Echo: e.Echo}
		if m.pending != nil {
			// The backend broke half-duplex; hold the prompt until the
			// outstanding one is answered.
			m.queued = append(m.queued, p)
			return nil
		}
		m.pending = &p
		return []Event{promptEvent(p)}

	case protocol.Error:
		code := e.Code
		if code == "" {
			code = CodePAMError
		}
		return []Event{ErrorReceived{Code: code, Message: e.Message}}

	case protocol.Success:
		m.exitExpected = true
		m.exitGen = m.generation
		m.pending = nil
		m.queued = nil
		m.phase = protocol.PhaseSuccess
		return []Event{PhaseChanged{Phase: protocol.PhaseSuccess}, Succeeded{}}
	}
	return nil
}

// ProcessExited handles a backend exit observed during generation gen.
func (m *Machine) ProcessExited(info backend.ExitInfo, gen uint64) []Event {
	if m.exitSuppressed(gen) && !m.handedOff && info.Clean() {
		m.handedOff = true
		return nil
	}
	return m.crash(fmt.Sprintf("backend exited: code=%d status=%s", info.Code, info.Status))
}

// ProcessFailed handles a backend I/O or spawn failure observed during
// generation gen.
func (m *Machine) ProcessFailed(err *backend.ProcessError, gen uint64) []Event {
	if m.exitSuppressed(gen) {
		return nil
	}
	return m.crash(fmt.Sprintf("backend error: %s (%s)", err.Kind, err.Detail()))
}

// NotRunning handles a command that could not be sent because the backend
// is gone. Unlike exits and failures it is reported every time.
func (m *Machine) NotRunning() []Event {
	m.crashed = true
	return []Event{Crashed{Message: notRunningMessage}}
}

// Reset returns the machine to its initial state for a fresh backend. The
// generation keeps counting so that observations from the old backend can
// never match.
func (m *Machine) Reset() {
	gen := m.generation + 1
	*m = Machine{phase: protocol.PhaseIdle, generation: gen}
}

func (m *Machine) exitSuppressed(gen uint64) bool {
	return m.exitExpected && gen == m.exitGen
}

func (m *Machine) crash(msg string) []Event {
	if m.crashed {
		return nil
	}
	m.crashed = true
	m.pending = nil
	m.queued = nil
	events := m.setPhase(protocol.PhaseError)
	return append(events, ErrorReceived{Code: CodeBackendCrash, Message: msg}, Crashed{Message: msg})
}

func (m *Machine) setPhase(phase protocol.Phase) []Event {
	if m.phase == phase {
		return nil
	}
	m.phase = phase
	return []Event{PhaseChanged{Phase: phase}}
}

func (m *Machine) releaseQueued() []Event {
	if len(m.queued) == 0 {
		return nil
	}
	p := m.queued[0]
	m.queued = m.queued[1:]
	m.pending = &p
	return []Event{promptEvent(p)}
}

func promptEvent(p PendingPrompt) Event {
	if p.Kind == protocol.KindInfo || p.Kind == protocol.KindError {
		return MessageReceived{Prompt: p}
	}
	return PromptReceived{Prompt: p}
}
