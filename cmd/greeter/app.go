package main

import (
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zhubert/greeter-core/config"
	"github.com/zhubert/greeter-core/greeter"
	"github.com/zhubert/greeter-core/protocol"
)

// handoffTimeout is how long the greeter waits for the backend to exit
// into the session after a successful login.
var handoffTimeout = 30 * time.Second

const (
	handoffPoll = 100 * time.Millisecond

	// powerWait is how long a power request may take to be rejected.
	powerWait = 5 * time.Second
)

type app struct {
	g         *greeter.Greeter
	term      *terminal
	log       *slog.Logger
	cfg       *config.Config
	sel       selection
	statePath string
	// keepPIDs are backends still hosting earlier sessions.
	keepPIDs []int

	handedOff bool
	finished  atomic.Bool
}

// login runs username and prompt exchanges until the backend reports
// success or crashes. A rejected login asks for the username again.
func (a *app) login() int {
	if a.sel.SessionID != "" {
		a.term.printf("Session: %s\n", sessionName(a.cfg, a.sel.SessionID))
	}

	user, err := a.askUser()
	if err != nil {
		return exitFailure
	}
	a.g.Authenticate(user)

	for ev := range a.g.Events() {
		switch ev := ev.(type) {
		case greeter.PhaseChanged:
			a.log.Debug("phase changed", "phase", ev.Phase)

		case greeter.PromptReceived:
			answer, err := a.answer(ev.Prompt)
			if err != nil {
				a.log.Info("prompt abandoned", "error", err)
				a.g.CancelAuth()
				return exitFailure
			}
			a.g.RespondPrompt(ev.Prompt.ID, answer)

		case greeter.MessageReceived:
			if ev.Prompt.Kind == protocol.KindError {
				a.term.printf("Error: %s\n", ev.Prompt.Message)
			} else {
				a.term.printf("%s\n", ev.Prompt.Message)
			}
			a.g.AckPrompt(ev.Prompt.ID)

		case greeter.ErrorReceived:
			if ev.Code == greeter.CodeBackendCrash {
				// Crashed follows.
				continue
			}
			a.term.printf("Login failed: %s\n", ev.Message)
			if user, err = a.askUser(); err != nil {
				return exitFailure
			}
			a.g.Authenticate(user)

		case greeter.Succeeded:
			a.sel.User = user
			a.saveSelection(0)
			a.term.printf("Starting session...\n")
			return a.awaitHandoff()

		case greeter.Crashed:
			a.term.printf("Backend crashed: %s\n", ev.Message)
			return exitFailure

		case greeter.WriteStalled:
			a.log.Warn("backend is not reading commands", "command", ev.Command)

		case greeter.ConfigChanged:
			a.log.Debug("session selection changed", "sessionID", ev.Config.SessionID, "command", ev.Config.Command)
		}
	}
	return exitFailure
}

// power requests action and waits briefly for the backend to refuse it.
func (a *app) power(action string) int {
	if !powerAllowed(a.cfg, action) {
		a.term.printf("Power action %q is not enabled\n", action)
		return exitUsage
	}
	a.g.RequestPower(action)

	timeout := time.After(powerWait)
	for {
		select {
		case ev, ok := <-a.g.Events():
			if !ok {
				return exitFailure
			}
			switch ev := ev.(type) {
			case greeter.ErrorReceived:
				if ev.Code == greeter.CodeBackendCrash {
					continue
				}
				a.term.printf("Power action failed: %s\n", ev.Message)
				return exitFailure
			case greeter.Crashed:
				a.term.printf("Backend crashed: %s\n", ev.Message)
				return exitFailure
			}
		case <-timeout:
			return exitOK
		}
	}
}

// askUser returns the username to authenticate. A locked user is used
// without asking; an empty answer takes the preselected user.
func (a *app) askUser() (string, error) {
	if a.cfg.LockUser() {
		a.term.printf("Login: %s\n", a.sel.User)
		return a.sel.User, nil
	}
	prompt := "Login: "
	if a.sel.User != "" {
		prompt = "Login [" + a.sel.User + "]: "
	}
	for {
		answer, err := a.term.readLine(prompt)
		if err != nil {
			return "", err
		}
		if answer = strings.TrimSpace(answer); answer == "" {
			answer = a.sel.User
		}
		if answer != "" {
			return answer, nil
		}
	}
}

func (a *app) answer(p greeter.PendingPrompt) (string, error) {
	prompt := p.Message
	if prompt != "" && !strings.HasSuffix(prompt, " ") {
		prompt += " "
	}
	if p.Echo || p.Kind == protocol.KindVisible {
		return a.term.readLine(prompt)
	}
	return a.term.readSecret(prompt)
}

// awaitHandoff waits for the backend to exit into the session. A backend
// that keeps running hosts the session itself and is left alone.
func (a *app) awaitHandoff() int {
	deadline := time.Now().Add(handoffTimeout)
	for time.Now().Before(deadline) {
		if !a.g.Running() {
			a.handedOff = true
			a.log.Info("session handed off")
			return exitOK
		}
		select {
		case ev := <-a.g.Events():
			if crash, ok := ev.(greeter.Crashed); ok {
				a.term.printf("Backend crashed: %s\n", crash.Message)
				return exitFailure
			}
		case <-time.After(handoffPoll):
		}
	}
	a.handedOff = true
	pid := a.g.Pid()
	a.log.Info("backend still running after login, leaving it to the session", "pid", pid)
	a.saveSelection(pid)
	return exitOK
}

// saveSelection records the login for the next greeter. A non-zero running
// pid is a backend left hosting the session; the next greeter's orphan
// cleanup skips it.
func (a *app) saveSelection(running int) {
	s := a.g.Session().Snapshot()
	pids := a.keepPIDs
	if running > 0 && !slices.Contains(pids, running) {
		pids = append(slices.Clone(pids), running)
	}
	err := config.SaveLastSelection(a.statePath, config.LastSelection{
		User:        a.sel.User,
		SessionID:   s.SessionID,
		ProfileID:   s.ProfileID,
		Locale:      s.Locale,
		HandoffPIDs: pids,
	})
	if err != nil {
		a.log.Warn("failed to save last selection", "path", a.statePath, "error", err)
	}
}
