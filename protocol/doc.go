// Package protocol implements the newline-delimited JSON protocol spoken
// between the greeter and its authentication backend.
//
// # Framing
//
// Every message is one compact JSON object terminated by "\n". Objects never
// span lines and a line never carries more than one object. Commands travel
// over the backend's stdin, events come back over its stdout.
//
// # Commands (greeter → backend)
//
//	{"type":"auth","username":"alice","session_id":"niri"}
//	{"type":"prompt_response","id":7,"response":"secret"}
//	{"type":"prompt_response","id":8,"response":null}
//	{"type":"cancel"}
//	{"type":"start","command":["niri","--session"]}
//	{"type":"power","action":"poweroff"}
//	{"type":"hello","ui_version":1}
//
// Optional fields are omitted entirely when empty; the backend must
// tolerate their absence.
//
// # Events (backend → greeter)
//
//	{"type":"state","phase":"auth"}
//	{"type":"prompt","id":7,"kind":"secret","message":"Password:","echo":false}
//	{"type":"error","code":"auth_failed","message":"Authentication failure"}
//	{"type":"success"}
//
// Decode never fails loudly: malformed lines, non-object values and unknown
// event types are reported as "no event" so that a partially written line or
// a newer backend cannot take the greeter down.
package protocol
