// Package config loads the greeter configuration: a system file, a user file
// and environment overrides, merged in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/greeter-core/logger"
	"github.com/zhubert/greeter-core/paths"
)

// FileName is the configuration file name inside a config directory.
const FileName = "config.yaml"

// Config holds the greeter configuration.
//
// Zero values mean "not set" so that layers can be merged: strings and
// durations are unset when empty, booleans are unset when nil.
type Config struct {
	Backend      Backend        `yaml:"backend"`
	Login        Login          `yaml:"login"`
	Session      Session        `yaml:"session"`
	Sessions     []SessionEntry `yaml:"sessions"`
	Profiles     []Profile      `yaml:"profiles"`
	Locales      Locales        `yaml:"locales"`
	PowerActions []string       `yaml:"power_actions"`
	Logging      Logging        `yaml:"logging"`
}

// Backend configures the backend process.
type Backend struct {
	Path           string        `yaml:"path"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	StopGrace      time.Duration `yaml:"stop_grace"`
	KillAfterGrace *bool         `yaml:"kill_after_grace"`
	Hello          *bool         `yaml:"hello"`
}

// Login configures the username field.
type Login struct {
	DefaultUser string `yaml:"default_user"`
	LockUser    *bool  `yaml:"lock_user"`
}

// Session is the fallback session used when no session entry is selected.
type Session struct {
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`
}

// SessionEntry is a selectable session.
type SessionEntry struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Command     []string          `yaml:"command" json:"command"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Type        string            `yaml:"type,omitempty" json:"type,omitempty"`
	DesktopFile string            `yaml:"desktop_file,omitempty" json:"desktop_file,omitempty"`
}

// Profile is a selectable user profile passed through to the backend.
type Profile struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Locales lists the locales offered to the user.
type Locales struct {
	Default   string   `yaml:"default"`
	Available []string `yaml:"available"`
}

// Logging configures the log file.
type Logging struct {
	Dir   string `yaml:"dir"`
	Debug *bool  `yaml:"debug"`
}

// LoadOptions controls which layers Load reads.
type LoadOptions struct {
	// SystemPath defaults to /etc/greeter/config.yaml.
	SystemPath string

	// UserPath defaults to paths.ConfigFilePath(). Skipped when it names the
	// same file as SystemPath.
	UserPath string

	// Getenv defaults to os.Getenv.
	Getenv func(string) string

	// Logger defaults to the "config" component logger.
	Logger *slog.Logger
}

func (o LoadOptions) withDefaults() LoadOptions {
	if o.SystemPath == "" {
		o.SystemPath = filepath.Join(paths.SystemConfigDir, FileName)
	}
	if o.UserPath == "" {
		o.UserPath = paths.ConfigFilePath()
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	if o.Logger == nil {
		o.Logger = logger.WithComponent("config")
	}
	return o
}

// Load reads the system file, the user file and the environment and merges
// them, later layers winning. Missing files are skipped and unreadable or
// malformed files are logged and skipped, so a broken user file never keeps
// the greeter from starting. The merged result must pass Validate.
func Load(opts LoadOptions) (*Config, error) {
	opts = opts.withDefaults()
	log := opts.Logger

	cfg := &Config{}
	layers := []string{opts.SystemPath}
	if !samePath(opts.SystemPath, opts.UserPath) {
		layers = append(layers, opts.UserPath)
	}
	for _, path := range layers {
		layer, err := LoadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			log.Debug("config file not found", "path", path)
			continue
		}
		if err != nil {
			log.Warn("ignoring config file", "path", path, "error", err)
			continue
		}
		log.Debug("loaded config file", "path", path)
		cfg = cfg.Merge(layer)
	}

	cfg = cfg.Merge(FromEnv(opts.Getenv, log))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses a single YAML file. An empty file yields an empty Config.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Merge returns a new Config with other layered over c. Set scalars in other
// win, session env maps are merged with other's keys winning, and non-empty
// lists in other replace c's.
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c.clone()
	}
	out := c.clone()

	out.Backend.Path = pick(other.Backend.Path, c.Backend.Path)
	out.Backend.WriteTimeout = pick(other.Backend.WriteTimeout, c.Backend.WriteTimeout)
	out.Backend.StopGrace = pick(other.Backend.StopGrace, c.Backend.StopGrace)
	out.Backend.KillAfterGrace = pickBool(other.Backend.KillAfterGrace, c.Backend.KillAfterGrace)
	out.Backend.Hello = pickBool(other.Backend.Hello, c.Backend.Hello)

	out.Login.DefaultUser = pick(other.Login.DefaultUser, c.Login.DefaultUser)
	out.Login.LockUser = pickBool(other.Login.LockUser, c.Login.LockUser)

	out.Session.Command = pickList(other.Session.Command, c.Session.Command)
	if len(other.Session.Env) > 0 {
		if out.Session.Env == nil {
			out.Session.Env = make(map[string]string, len(other.Session.Env))
		}
		maps.Copy(out.Session.Env, other.Session.Env)
	}

	out.Sessions = pickList(cloneEntries(other.Sessions), out.Sessions)
	out.Profiles = pickList(slices.Clone(other.Profiles), out.Profiles)
	out.Locales.Default = pick(other.Locales.Default, c.Locales.Default)
	out.Locales.Available = pickList(other.Locales.Available, c.Locales.Available)
	out.PowerActions = pickList(other.PowerActions, c.PowerActions)

	out.Logging.Dir = pick(other.Logging.Dir, c.Logging.Dir)
	out.Logging.Debug = pickBool(other.Logging.Debug, c.Logging.Debug)

	return out
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, s := range c.Sessions {
		if s.ID == "" {
			return fmt.Errorf("session with empty ID found (name %q)", s.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate session ID: %s", s.ID)
		}
		seen[s.ID] = true
	}

	seen = make(map[string]bool)
	for _, p := range c.Profiles {
		if p.ID == "" {
			return fmt.Errorf("profile with empty ID found (name %q)", p.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate profile ID: %s", p.ID)
		}
		seen[p.ID] = true
	}

	if c.Backend.WriteTimeout < 0 {
		return fmt.Errorf("backend.write_timeout must not be negative: %s", c.Backend.WriteTimeout)
	}
	if c.Backend.StopGrace < 0 {
		return fmt.Errorf("backend.stop_grace must not be negative: %s", c.Backend.StopGrace)
	}
	return nil
}

// SessionByID returns the session entry with the given ID.
func (c *Config) SessionByID(id string) (SessionEntry, bool) {
	for _, s := range c.Sessions {
		if s.ID == id {
			return s, true
		}
	}
	return SessionEntry{}, false
}

// SessionFor returns the command and environment for session id. Unknown or
// empty ids fall back to the [session] section. The entry's env is layered
// over the [session] env.
func (c *Config) SessionFor(id string) (command []string, env map[string]string) {
	env = maps.Clone(c.Session.Env)
	entry, ok := c.SessionByID(id)
	if !ok || len(entry.Command) == 0 {
		return slices.Clone(c.Session.Command), env
	}
	if len(entry.Env) > 0 {
		if env == nil {
			env = make(map[string]string, len(entry.Env))
		}
		maps.Copy(env, entry.Env)
	}
	return slices.Clone(entry.Command), env
}

// LockUser reports whether the username field is fixed to DefaultUser.
func (c *Config) LockUser() bool {
	return c.Login.LockUser != nil && *c.Login.LockUser && c.Login.DefaultUser != ""
}

// Debug reports whether debug logging is enabled.
func (c *Config) Debug() bool {
	return c.Logging.Debug != nil && *c.Logging.Debug
}

// KillAfterGrace reports whether a backend that ignores SIGTERM is killed.
func (c *Config) KillAfterGrace() bool {
	return c.Backend.KillAfterGrace != nil && *c.Backend.KillAfterGrace
}

// Hello reports whether the hello handshake is sent after spawn.
func (c *Config) Hello() bool {
	return c.Backend.Hello != nil && *c.Backend.Hello
}

func (c *Config) clone() *Config {
	out := *c
	out.Session.Command = slices.Clone(c.Session.Command)
	out.Session.Env = maps.Clone(c.Session.Env)
	out.Sessions = cloneEntries(c.Sessions)
	out.Profiles = slices.Clone(c.Profiles)
	out.Locales.Available = slices.Clone(c.Locales.Available)
	out.PowerActions = slices.Clone(c.PowerActions)
	return &out
}

func cloneEntries(entries []SessionEntry) []SessionEntry {
	if entries == nil {
		return nil
	}
	out := make([]SessionEntry, len(entries))
	for i, e := range entries {
		e.Command = slices.Clone(e.Command)
		e.Env = maps.Clone(e.Env)
		out[i] = e
	}
	return out
}

func pick[T comparable](override, base T) T {
	var zero T
	if override != zero {
		return override
	}
	return base
}

func pickBool(override, base *bool) *bool {
	if override != nil {
		v := *override
		return &v
	}
	return base
}

func pickList[S ~[]E, E any](override, base S) S {
	if len(override) > 0 {
		return slices.Clone(override)
	}
	return base
}

// samePath reports whether a and b refer to the same filesystem entry.
// Falls back to string comparison when either path cannot be stat'd.
func samePath(a, b string) bool {
	if a == b {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}
