package config

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tidwall/jsonc"
)

// Environment variables that override the configuration files.
const (
	EnvDefaultUser  = "GREETER_DEFAULT_USER"
	EnvLockUser     = "GREETER_LOCK_USER"
	EnvSession      = "GREETER_SESSION_JSON"
	EnvSessionEnv   = "GREETER_SESSION_ENV_JSON"
	EnvSessions     = "GREETER_SESSIONS_JSON"
	EnvProfiles     = "GREETER_PROFILES_JSON"
	EnvLocales      = "GREETER_LOCALES_JSON"
	EnvPowerActions = "GREETER_POWER_ACTIONS_JSON"
	EnvLogDir       = "GREETER_LOG_DIR"
	EnvDebug        = "GREETER_DEBUG"
)

// FromEnv builds a config layer from GREETER_* variables. Blank variables
// count as unset. *_JSON values may contain comments and trailing commas;
// a value that still fails to parse is logged and ignored.
func FromEnv(getenv func(string) string, log *slog.Logger) *Config {
	get := func(key string) string {
		return strings.TrimSpace(getenv(key))
	}

	cfg := &Config{}
	cfg.Login.DefaultUser = get(EnvDefaultUser)
	cfg.Login.LockUser = envBool(get(EnvLockUser))

	decodeEnv(get, log, EnvSession, &cfg.Session.Command)
	decodeEnv(get, log, EnvSessionEnv, &cfg.Session.Env)
	decodeEnv(get, log, EnvSessions, &cfg.Sessions)
	decodeEnv(get, log, EnvProfiles, &cfg.Profiles)
	decodeEnv(get, log, EnvLocales, &cfg.Locales.Available)
	decodeEnv(get, log, EnvPowerActions, &cfg.PowerActions)

	cfg.Logging.Dir = get(EnvLogDir)
	cfg.Logging.Debug = envBool(get(EnvDebug))
	return cfg
}

// decodeEnv parses the JSONC value of key into dst. dst is left untouched
// when the variable is unset or invalid.
func decodeEnv[T any](get func(string) string, log *slog.Logger, key string, dst *T) {
	raw := get(key)
	if raw == "" {
		return
	}
	var v T
	if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &v); err != nil {
		log.Warn("ignoring invalid environment override", "key", key, "error", err)
		return
	}
	*dst = v
}

func envBool(v string) *bool {
	if v == "" {
		return nil
	}
	b := parseBool(v)
	return &b
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
