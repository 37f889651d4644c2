package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// UIVersion is the protocol revision announced in the hello handshake.
const UIVersion = 1

// Phase is a backend-reported authentication stage. The backend is
// authoritative for phase labels; unknown labels are carried verbatim.
type Phase string

// Phases produced locally or commonly reported by the backend.
const (
	PhaseIdle           Phase = "idle"
	PhaseAuthenticating Phase = "authenticating"
	PhaseWaitingPrompt  Phase = "waiting-prompt"
	PhaseSuccess        Phase = "success"
	PhaseError          Phase = "error"

	// Labels emitted by the reference backend.
	PhaseAuth     Phase = "auth"
	PhaseWaiting  Phase = "waiting"
	PhaseStarting Phase = "starting"
)

// Prompt kinds sent by the backend.
const (
	KindVisible = "visible"
	KindSecret  = "secret"
	KindInfo    = "info"
	KindError   = "error"
)

// Command is a message sent to the backend.
type Command interface {
	// CommandType returns the value of the "type" field on the wire.
	CommandType() string
}

// Auth starts an authentication attempt for Username.
type Auth struct {
	Username  string
	SessionID string
	ProfileID string
	Locale    string
	Command   []string
	Env       map[string]string
}

// PromptResponse answers the prompt with the given ID. A nil Response is an
// acknowledgment without data (used for info and error prompts).
type PromptResponse struct {
	ID       int
	Response *string
}

// Cancel aborts the authentication attempt in progress.
type Cancel struct{}

// Start asks the backend to launch a session command.
type Start struct {
	Command []string
	Env     map[string]string
}

// Power requests a power action such as "poweroff" or "reboot".
type Power struct {
	Action string
}

// Hello announces the UI protocol version to the backend.
type Hello struct {
	UIVersion int
}

func (Auth) CommandType() string           { return "auth" }
func (PromptResponse) CommandType() string { return "prompt_response" }
func (Cancel) CommandType() string         { return "cancel" }
func (Start) CommandType() string          { return "start" }
func (Power) CommandType() string          { return "power" }
func (Hello) CommandType() string          { return "hello" }

// Wire shapes. Field order here is the field order on the wire.

type authWire struct {
	Type      string            `json:"type"`
	Username  string            `json:"username"`
	SessionID string            `json:"session_id,omitempty"`
	ProfileID string            `json:"profile_id,omitempty"`
	Locale    string            `json:"locale,omitempty"`
	Command   []string          `json:"command,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

type promptResponseWire struct {
	Type     string  `json:"type"`
	ID       int     `json:"id"`
	Response *string `json:"response"`
}

type cancelWire struct {
	Type string `json:"type"`
}

type startWire struct {
	Type    string            `json:"type"`
	Command []string          `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
}

type powerWire struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

type helloWire struct {
	Type      string `json:"type"`
	UIVersion int    `json:"ui_version"`
}

// Encode renders cmd as a single compact JSON object followed by "\n".
func Encode(cmd Command) ([]byte, error) {
	var wire any
	switch c := cmd.(type) {
	case Auth:
		wire = authWire{
			Type:      c.CommandType(),
			Username:  c.Username,
			SessionID: c.SessionID,
			ProfileID: c.ProfileID,
			Locale:    c.Locale,
			Command:   c.Command,
			Env:       c.Env,
		}
	case PromptResponse:
		wire = promptResponseWire{Type: c.CommandType(), ID: c.ID, Response: c.Response}
	case Cancel:
		wire = cancelWire{Type: c.CommandType()}
	case Start:
		command := c.Command
		if command == nil {
			// "command" is mandatory for start; never emit null.
			command = []string{}
		}
		wire = startWire{Type: c.CommandType(), Command: command, Env: c.Env}
	case Power:
		wire = powerWire{Type: c.CommandType(), Action: c.Action}
	case Hello:
		wire = helloWire{Type: c.CommandType(), UIVersion: c.UIVersion}
	case nil:
		return nil, fmt.Errorf("encode: nil command")
	default:
		return nil, fmt.Errorf("encode: unsupported command %T", cmd)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoder.Encode terminates the object with "\n".
	if err := enc.Encode(wire); err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandType(), err)
	}
	return buf.Bytes(), nil
}

// Event is a message received from the backend.
type Event interface {
	// EventType returns the value of the "type" field on the wire.
	EventType() string
}

// State reports the backend's current phase.
type State struct {
	Phase Phase `json:"phase"`
}

// Prompt asks the user for input. Echo reports whether the answer may be
// shown while typing.
type Prompt struct {
	ID      int    `json:"id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Echo    bool   `json:"echo"`
}

// Error reports a recoverable failure. Code may be empty.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success reports that authentication succeeded and the session is being
// started. The backend is expected to exit (or exec) shortly after.
type Success struct{}

func (State) EventType() string   { return "state" }
func (Prompt) EventType() string  { return "prompt" }
func (Error) EventType() string   { return "error" }
func (Success) EventType() string { return "success" }

// fields holds the members of one backend object, decoded on demand.
type fields map[string]json.RawMessage

// text returns the string member key, or "" if it is missing or not a
// string.
func (f fields) text(key string) string {
	var s string
	if err := json.Unmarshal(f[key], &s); err != nil {
		return ""
	}
	return s
}

// number returns the integer member key. Integral floats and numeric
// strings are accepted; anything else yields 0.
func (f fields) number(key string) int {
	var v any
	if err := json.Unmarshal(f[key], &v); err != nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0
		}
		return int(n)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

// flag returns the boolean member key, or false if it is missing or not a
// boolean.
func (f fields) flag(key string) bool {
	var b bool
	if err := json.Unmarshal(f[key], &b); err != nil {
		return false
	}
	return b
}

// Decode parses one line received from the backend. It returns false when
// the line is not a single JSON object or its type is missing or unknown.
// Members of a known event that have the wrong JSON type fall back to
// their zero value instead of dropping the event. It never panics.
func Decode(line []byte) (Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil, false
	}

	var f fields
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, false
	}

	switch f.text("type") {
	case "state":
		return State{Phase: Phase(f.text("phase"))}, true
	case "prompt":
		return Prompt{
			ID:      f.number("id"),
			Kind:    f.text("kind"),
			Message: f.text("message"),
			Echo:    f.flag("echo"),
		}, true
	case "error":
		return Error{Code: f.text("code"), Message: f.text("message")}, true
	case "success":
		return Success{}, true
	default:
		return nil, false
	}
}
