package greeter

import (
	"sync"

	"github.com/zhubert/greeter-core/protocol"
)

// Event is a notification delivered to the UI through Greeter.Events.
type Event interface {
	isEvent()
}

// PendingPrompt is the prompt the backend is waiting on.
type PendingPrompt struct {
	ID      int
	Kind    string
	Message string
	Echo    bool
}

// PhaseChanged reports a new phase.
type PhaseChanged struct {
	Phase protocol.Phase
}

// PromptReceived asks the UI for input. Answer with RespondPrompt.
type PromptReceived struct {
	Prompt PendingPrompt
}

// MessageReceived carries an informational or error prompt. The UI shows it
// and acknowledges it with AckPrompt.
type MessageReceived struct {
	Prompt PendingPrompt
}

// ErrorReceived reports an authentication error or a backend failure.
type ErrorReceived struct {
	Code    string
	Message string
}

// Succeeded reports that authentication succeeded.
type Succeeded struct{}

// Crashed reports that the backend is gone when it should not be.
type Crashed struct {
	Message string
}

// ConfigChanged reports that the session selection changed.
type ConfigChanged struct {
	Config SessionSnapshot
}

// WriteStalled reports a command whose write did not flush in time. The
// command is still queued and will reach the backend once the pipe drains.
type WriteStalled struct {
	Command string
}

func (PhaseChanged) isEvent()    {}
func (PromptReceived) isEvent()  {}
func (MessageReceived) isEvent() {}
func (ErrorReceived) isEvent()   {}
func (Succeeded) isEvent()       {}
func (Crashed) isEvent()         {}
func (ConfigChanged) isEvent()   {}
func (WriteStalled) isEvent()    {}

// Dispatcher delivers events to a single consumer in the order they were
// dispatched. Dispatch never blocks: events queue up while the consumer is
// busy.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	out    chan Event
	done   chan struct{}
	closed bool
	once   sync.Once
}

// NewDispatcher creates a Dispatcher and starts its delivery goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

// Events returns the delivery channel. It is closed by Close.
func (d *Dispatcher) Events() <-chan Event {
	return d.out
}

// Dispatch queues events for delivery. Events dispatched after Close are
// dropped.
func (d *Dispatcher) Dispatch(events ...Event) {
	if len(events) == 0 {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, events...)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close stops delivery and closes the Events channel. Undelivered events
// are discarded. Safe to call multiple times.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.queue = nil
		d.mu.Unlock()
		close(d.done)
	})
}

func (d *Dispatcher) run() {
	defer close(d.out)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, ev := range batch {
			select {
			case d.out <- ev:
			case <-d.done:
				return
			}
		}

		select {
		case <-d.wake:
		case <-d.done:
			return
		}
	}
}
