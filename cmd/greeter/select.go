package main

import (
	"slices"

	"github.com/zhubert/greeter-core/backend"
	"github.com/zhubert/greeter-core/config"
	"github.com/zhubert/greeter-core/greeter"
)

// selection is what the user logs in with.
type selection struct {
	User      string
	SessionID string
	ProfileID string
	Locale    string
}

// chooseBackend picks the backend executable: the flag, then
// $GREETER_BACKEND, then the config file, then the install locations.
func chooseBackend(flagPath, configPath string, getenv func(string) string) string {
	if flagPath != "" {
		return flagPath
	}
	if override := getenv(backend.OverrideEnv); override != "" {
		return override
	}
	if configPath != "" {
		return configPath
	}
	return backend.Resolve(backend.ResolveOptions{Getenv: getenv})
}

// withSessions returns cfg with discovered sessions filled in when the
// config lists none.
func withSessions(cfg *config.Config, discovered []config.SessionEntry) *config.Config {
	if len(cfg.Sessions) > 0 || len(discovered) == 0 {
		return cfg
	}
	return cfg.Merge(&config.Config{Sessions: discovered})
}

// choose combines flags, the previous login and config into a selection.
// Values that no longer exist in the config are dropped.
func choose(cfg *config.Config, opts options, last config.LastSelection) selection {
	var sel selection

	switch {
	case cfg.LockUser():
		sel.User = cfg.Login.DefaultUser
	case opts.user != "":
		sel.User = opts.user
	case last.User != "":
		sel.User = last.User
	default:
		sel.User = cfg.Login.DefaultUser
	}

	for _, id := range []string{opts.session, last.SessionID} {
		if _, ok := cfg.SessionByID(id); id != "" && ok {
			sel.SessionID = id
			break
		}
	}
	if sel.SessionID == "" && len(cfg.Sessions) > 0 {
		sel.SessionID = cfg.Sessions[0].ID
	}

	if slices.ContainsFunc(cfg.Profiles, func(p config.Profile) bool { return p.ID == last.ProfileID }) {
		sel.ProfileID = last.ProfileID
	}

	switch {
	case opts.locale != "":
		sel.Locale = opts.locale
	case last.Locale != "" && (len(cfg.Locales.Available) == 0 || slices.Contains(cfg.Locales.Available, last.Locale)):
		sel.Locale = last.Locale
	default:
		sel.Locale = cfg.Locales.Default
	}
	return sel
}

// snapshotFor builds the session selection sent with auth and start commands.
func snapshotFor(cfg *config.Config, sel selection) greeter.SessionSnapshot {
	command, env := cfg.SessionFor(sel.SessionID)
	return greeter.SessionSnapshot{
		Command:   command,
		Env:       env,
		SessionID: sel.SessionID,
		ProfileID: sel.ProfileID,
		Locale:    sel.Locale,
	}
}

// sessionName returns the display name of the selected session.
func sessionName(cfg *config.Config, id string) string {
	if entry, ok := cfg.SessionByID(id); ok && entry.Name != "" {
		return entry.Name
	}
	return id
}
