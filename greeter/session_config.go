package greeter

import (
	"maps"
	"slices"
	"sync"
)

// SessionSnapshot is a copy of the session selection at one point in time.
type SessionSnapshot struct {
	Command   []string
	Env       map[string]string
	SessionID string
	ProfileID string
	Locale    string
}

// SessionConfig holds the session selection used to build auth and start
// commands. Setters that do not change the value are no-ops; every real
// change invokes the change callback with a fresh snapshot.
//
// Thread Safety: all methods may be called from any goroutine. The change
// callback runs on the caller's goroutine after the lock is released.
type SessionConfig struct {
	mu        sync.Mutex
	command   []string
	env       map[string]string
	sessionID string
	profileID string
	locale    string

	onChange func(SessionSnapshot)
}

// NewSessionConfig creates an empty SessionConfig.
func NewSessionConfig() *SessionConfig {
	return &SessionConfig{}
}

// OnChange registers the change callback, replacing any previous one.
func (c *SessionConfig) OnChange(fn func(SessionSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// SetCommand sets the session command line.
func (c *SessionConfig) SetCommand(command []string) {
	c.update(func() bool {
		if slices.Equal(c.command, command) {
			return false
		}
		c.command = slices.Clone(command)
		return true
	})
}

// SetEnv sets extra session environment variables.
func (c *SessionConfig) SetEnv(env map[string]string) {
	c.update(func() bool {
		if maps.Equal(c.env, env) {
			return false
		}
		c.env = maps.Clone(env)
		return true
	})
}

// SetSessionID selects a session entry by ID.
func (c *SessionConfig) SetSessionID(id string) {
	c.update(func() bool {
		if c.sessionID == id {
			return false
		}
		c.sessionID = id
		return true
	})
}

// SetProfileID selects a profile by ID.
func (c *SessionConfig) SetProfileID(id string) {
	c.update(func() bool {
		if c.profileID == id {
			return false
		}
		c.profileID = id
		return true
	})
}

// SetLocale selects the session locale.
func (c *SessionConfig) SetLocale(locale string) {
	c.update(func() bool {
		if c.locale == locale {
			return false
		}
		c.locale = locale
		return true
	})
}

// Apply replaces the whole selection, firing at most one change callback.
func (c *SessionConfig) Apply(s SessionSnapshot) {
	c.update(func() bool {
		changed := !slices.Equal(c.command, s.Command) ||
			!maps.Equal(c.env, s.Env) ||
			c.sessionID != s.SessionID ||
			c.profileID != s.ProfileID ||
			c.locale != s.Locale
		if !changed {
			return false
		}
		c.command = slices.Clone(s.Command)
		c.env = maps.Clone(s.Env)
		c.sessionID = s.SessionID
		c.profileID = s.ProfileID
		c.locale = s.Locale
		return true
	})
}

// Snapshot returns a deep copy of the current selection.
func (c *SessionConfig) Snapshot() SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *SessionConfig) snapshotLocked() SessionSnapshot {
	return SessionSnapshot{
		Command:   slices.Clone(c.command),
		Env:       maps.Clone(c.env),
		SessionID: c.sessionID,
		ProfileID: c.profileID,
		Locale:    c.locale,
	}
}

func (c *SessionConfig) update(mutate func() bool) {
	c.mu.Lock()
	if !mutate() {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}
