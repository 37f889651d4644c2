// Package greeter drives a login attempt against the authentication backend.
//
// A Greeter owns three pieces:
//
//   - a backend.Supervisor running the backend process
//   - a Machine tracking the phase, the outstanding prompt and whether the
//     backend may exit
//   - a Dispatcher delivering Events to the UI in order
//
// Typical use:
//
//	g := greeter.New(greeter.Options{SendHello: true})
//	defer g.Close()
//	g.Start()
//	g.Authenticate("alice")
//	for ev := range g.Events() {
//		switch ev := ev.(type) {
//		case greeter.PromptReceived:
//			g.RespondPrompt(ev.Prompt.ID, readSecret(ev.Prompt.Message))
//		case greeter.MessageReceived:
//			show(ev.Prompt.Message)
//			g.AckPrompt(ev.Prompt.ID)
//		case greeter.Succeeded:
//			return
//		case greeter.Crashed:
//			g.Restart()
//		}
//	}
//
// After a success the backend replaces itself with the user session, which
// looks like a plain exit from here. That exit is swallowed only when it is
// clean and was observed before any later command; every other exit or
// process failure produces exactly one ErrorReceived and Crashed pair.
package greeter
