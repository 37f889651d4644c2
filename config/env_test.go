package config

import (
	"reflect"
	"testing"
)

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		EnvDefaultUser: "  alice ",
		EnvLockUser:    "yes",
		EnvSession:     `["sway", "--debug",]`,
		EnvSessionEnv: `{
			// comments are fine
			"XDG_SESSION_TYPE": "wayland",
		}`,
		EnvSessions:     `[{"id": "sway", "name": "Sway", "command": ["sway"]}]`,
		EnvProfiles:     `[{"id": "work", "name": "Work"}]`,
		EnvLocales:      `["en_US.UTF-8", "fr_FR.UTF-8"]`,
		EnvPowerActions: `["poweroff"]`,
		EnvLogDir:       "/tmp/greeter-logs",
		EnvDebug:        "1",
	}

	cfg := FromEnv(envMap(env), testLogger())

	if cfg.Login.DefaultUser != "alice" || !cfg.LockUser() {
		t.Errorf("Login = %+v", cfg.Login)
	}
	if !reflect.DeepEqual(cfg.Session.Command, []string{"sway", "--debug"}) {
		t.Errorf("Session.Command = %v", cfg.Session.Command)
	}
	if cfg.Session.Env["XDG_SESSION_TYPE"] != "wayland" {
		t.Errorf("Session.Env = %v", cfg.Session.Env)
	}
	if len(cfg.Sessions) != 1 || cfg.Sessions[0].ID != "sway" || cfg.Sessions[0].Command[0] != "sway" {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}
	if len(cfg.Profiles) != 1 || cfg.Profiles[0].Name != "Work" {
		t.Errorf("Profiles = %+v", cfg.Profiles)
	}
	if len(cfg.Locales.Available) != 2 {
		t.Errorf("Locales = %+v", cfg.Locales)
	}
	if !reflect.DeepEqual(cfg.PowerActions, []string{"poweroff"}) {
		t.Errorf("PowerActions = %v", cfg.PowerActions)
	}
	if cfg.Logging.Dir != "/tmp/greeter-logs" || !cfg.Debug() {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestFromEnv_Unset(t *testing.T) {
	cfg := FromEnv(envMap(map[string]string{EnvDefaultUser: "   ", EnvSession: " "}), testLogger())
	if !reflect.DeepEqual(cfg, &Config{}) {
		t.Errorf("FromEnv() = %+v, want empty", cfg)
	}
}

func TestFromEnv_InvalidValuesIgnored(t *testing.T) {
	env := map[string]string{
		EnvSession:    `{"not": "a list"}`,
		EnvSessionEnv: `{"broken"`,
		EnvSessions:   `[{"id": 42}]`,
		EnvLockUser:   "nope",
	}
	cfg := FromEnv(envMap(env), testLogger())

	if cfg.Session.Command != nil || cfg.Session.Env != nil || cfg.Sessions != nil {
		t.Errorf("invalid values should be ignored: %+v", cfg)
	}
	if cfg.Login.LockUser == nil || *cfg.Login.LockUser {
		t.Errorf("unrecognised bool should be an explicit false, got %v", cfg.Login.LockUser)
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "on"} {
		if !parseBool(v) {
			t.Errorf("parseBool(%q) = false", v)
		}
	}
	for _, v := range []string{"0", "false", "no", "off", "2"} {
		if parseBool(v) {
			t.Errorf("parseBool(%q) = true", v)
		}
	}
}
