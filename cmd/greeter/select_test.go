package main

import (
	"io"
	"reflect"
	"testing"

	"github.com/zhubert/greeter-core/backend"
	"github.com/zhubert/greeter-core/config"
	"github.com/zhubert/greeter-core/greeter"
)

func boolPtr(b bool) *bool { return &b }

func testConfig() *config.Config {
	return &config.Config{
		Login: config.Login{DefaultUser: "guest"},
		Session: config.Session{
			Command: []string{"sh"},
			Env:     map[string]string{"XDG_SESSION_CLASS": "user"},
		},
		Sessions: []config.SessionEntry{
			{ID: "sway", Name: "Sway", Command: []string{"sway"}, Env: map[string]string{"XDG_SESSION_TYPE": "wayland"}},
			{ID: "plasma", Name: "Plasma", Command: []string{"startplasma-wayland"}},
		},
		Profiles: []config.Profile{{ID: "work", Name: "Work"}},
		Locales:  config.Locales{Default: "C.UTF-8", Available: []string{"C.UTF-8", "de_DE.UTF-8"}},
	}
}

func TestChooseBackend(t *testing.T) {
	env := func(v string) func(string) string {
		return func(key string) string {
			if key == backend.OverrideEnv {
				return v
			}
			return ""
		}
	}
	tests := []struct {
		name       string
		flagPath   string
		configPath string
		env        string
		want       string
	}{
		{"flag wins", "/flag/backend", "/config/backend", "/env/backend", "/flag/backend"},
		{"env over config", "", "/config/backend", "/env/backend", "/env/backend"},
		{"config", "", "/config/backend", "", "/config/backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chooseBackend(tt.flagPath, tt.configPath, env(tt.env)); got != tt.want {
				t.Errorf("chooseBackend() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := chooseBackend("", "", env("")); got == "" {
		t.Error("chooseBackend() should fall back to the resolved path")
	}
}

func TestChoose(t *testing.T) {
	tests := []struct {
		name string
		opts options
		last config.LastSelection
		lock bool
		want selection
	}{
		{
			name: "defaults",
			want: selection{User: "guest", SessionID: "sway", Locale: "C.UTF-8"},
		},
		{
			name: "last selection",
			last: config.LastSelection{User: "alice", SessionID: "plasma", ProfileID: "work", Locale: "de_DE.UTF-8"},
			want: selection{User: "alice", SessionID: "plasma", ProfileID: "work", Locale: "de_DE.UTF-8"},
		},
		{
			name: "flags over last selection",
			opts: options{user: "bob", session: "sway", locale: "fr_FR.UTF-8"},
			last: config.LastSelection{User: "alice", SessionID: "plasma"},
			want: selection{User: "bob", SessionID: "sway", Locale: "fr_FR.UTF-8"},
		},
		{
			name: "stale values dropped",
			last: config.LastSelection{SessionID: "gone", ProfileID: "gone", Locale: "xx_XX"},
			want: selection{User: "guest", SessionID: "sway", Locale: "C.UTF-8"},
		},
		{
			name: "unknown session flag falls back to last",
			opts: options{session: "gone"},
			last: config.LastSelection{SessionID: "plasma"},
			want: selection{User: "guest", SessionID: "plasma", Locale: "C.UTF-8"},
		},
		{
			name: "locked user",
			opts: options{user: "bob"},
			last: config.LastSelection{User: "alice"},
			lock: true,
			want: selection{User: "guest", SessionID: "sway", Locale: "C.UTF-8"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.lock {
				cfg.Login.LockUser = boolPtr(true)
			}
			if got := choose(cfg, tt.opts, tt.last); got != tt.want {
				t.Errorf("choose() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestChoose_NoSessions(t *testing.T) {
	got := choose(&config.Config{}, options{}, config.LastSelection{SessionID: "sway"})
	if got != (selection{}) {
		t.Errorf("choose() = %+v, want empty", got)
	}
}

func TestSnapshotFor(t *testing.T) {
	cfg := testConfig()

	got := snapshotFor(cfg, selection{SessionID: "sway", ProfileID: "work", Locale: "C.UTF-8"})
	want := greeter.SessionSnapshot{
		Command:   []string{"sway"},
		Env:       map[string]string{"XDG_SESSION_CLASS": "user", "XDG_SESSION_TYPE": "wayland"},
		SessionID: "sway",
		ProfileID: "work",
		Locale:    "C.UTF-8",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("snapshotFor() = %+v, want %+v", got, want)
	}

	// No session selected: the [session] fallback.
	got = snapshotFor(cfg, selection{})
	if !reflect.DeepEqual(got.Command, []string{"sh"}) || got.SessionID != "" {
		t.Errorf("snapshotFor(empty) = %+v", got)
	}
}

func TestWithSessions(t *testing.T) {
	discovered := []config.SessionEntry{{ID: "awesome", Name: "awesome", Command: []string{"awesome"}}}

	cfg := withSessions(&config.Config{}, discovered)
	if len(cfg.Sessions) != 1 || cfg.Sessions[0].ID != "awesome" {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}

	configured := testConfig()
	if got := withSessions(configured, discovered); got != configured {
		t.Error("configured sessions should not be replaced")
	}
}

func TestSessionName(t *testing.T) {
	cfg := testConfig()
	if got := sessionName(cfg, "sway"); got != "Sway" {
		t.Errorf("sessionName(sway) = %q", got)
	}
	if got := sessionName(cfg, "other"); got != "other" {
		t.Errorf("sessionName(other) = %q", got)
	}
}

func TestPowerAllowed(t *testing.T) {
	if !powerAllowed(&config.Config{}, "reboot") {
		t.Error("any action is allowed when none are configured")
	}
	cfg := &config.Config{PowerActions: []string{"poweroff"}}
	if !powerAllowed(cfg, "poweroff") || powerAllowed(cfg, "reboot") {
		t.Error("only configured actions are allowed")
	}
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-u", "alice", "--session=sway", "--debug", "--backend", "/opt/backend"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if opts.user != "alice" || opts.session != "sway" || !opts.debug || opts.backendPath != "/opt/backend" {
		t.Errorf("parseFlags() = %+v", opts)
	}

	if _, err := parseFlags([]string{"extra"}, io.Discard); err == nil {
		t.Error("expected an error for a positional argument")
	}
	if _, err := parseFlags([]string{"--nope"}, io.Discard); err == nil {
		t.Error("expected an error for an unknown flag")
	}
}
