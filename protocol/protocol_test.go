package protocol

import (
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "auth username only",
			cmd:  Auth{Username: "alice"},
			want: `{"type":"auth","username":"alice"}`,
		},
		{
			name: "auth with every optional field",
			cmd: Auth{
				Username:  "alice",
				SessionID: "niri",
				ProfileID: "work",
				Locale:    "de_DE.UTF-8",
				Command:   []string{"niri", "--session"},
				Env:       map[string]string{"XDG_CURRENT_DESKTOP": "niri", "A": "1"},
			},
			want: `{"type":"auth","username":"alice","session_id":"niri","profile_id":"work","locale":"de_DE.UTF-8","command":["niri","--session"],"env":{"A":"1","XDG_CURRENT_DESKTOP":"niri"}}`,
		},
		{
			name: "auth omits empty command and env",
			cmd:  Auth{Username: "bob", Command: []string{}, Env: map[string]string{}},
			want: `{"type":"auth","username":"bob"}`,
		},
		{
			name: "prompt response with data",
			cmd:  PromptResponse{ID: 7, Response: strPtr("secret")},
			want: `{"type":"prompt_response","id":7,"response":"secret"}`,
		},
		{
			name: "prompt acknowledgment",
			cmd:  PromptResponse{ID: 8},
			want: `{"type":"prompt_response","id":8,"response":null}`,
		},
		{
			name: "prompt response with empty string keeps the string",
			cmd:  PromptResponse{ID: 9, Response: strPtr("")},
			want: `{"type":"prompt_response","id":9,"response":""}`,
		},
		{
			name: "cancel",
			cmd:  Cancel{},
			want: `{"type":"cancel"}`,
		},
		{
			name: "start without env",
			cmd:  Start{Command: []string{"sway"}},
			want: `{"type":"start","command":["sway"]}`,
		},
		{
			name: "start with env",
			cmd:  Start{Command: []string{"sway"}, Env: map[string]string{"XDG_SESSION_TYPE": "wayland"}},
			want: `{"type":"start","command":["sway"],"env":{"XDG_SESSION_TYPE":"wayland"}}`,
		},
		{
			name: "start with nil command emits empty array",
			cmd:  Start{},
			want: `{"type":"start","command":[]}`,
		},
		{
			name: "power",
			cmd:  Power{Action: "reboot"},
			want: `{"type":"power","action":"reboot"}`,
		},
		{
			name: "hello",
			cmd:  Hello{UIVersion: UIVersion},
			want: `{"type":"hello","ui_version":1}`,
		},
		{
			name: "html characters are not escaped",
			cmd:  PromptResponse{ID: 1, Response: strPtr("<a&b>")},
			want: `{"type":"prompt_response","id":1,"response":"<a&b>"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.cmd)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(got) != tt.want+"\n" {
				t.Errorf("Encode() = %q, want %q", got, tt.want+"\n")
			}
		})
	}
}

func TestEncode_SingleLine(t *testing.T) {
	got, err := Encode(PromptResponse{ID: 3, Response: strPtr("line1\nline2")})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if strings.Count(string(got), "\n") != 1 || !strings.HasSuffix(string(got), "\n") {
		t.Errorf("Encode() must produce exactly one trailing newline, got %q", got)
	}
}

func TestEncode_Nil(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Error("Encode(nil) should fail")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{"state", `{"type":"state","phase":"auth"}`, State{Phase: PhaseAuth}},
		{"state unknown label verbatim", `{"type":"state","phase":"warming-up"}`, State{Phase: "warming-up"}},
		{
			"prompt",
			`{"type":"prompt","id":7,"kind":"secret","message":"Password:","echo":false}`,
			Prompt{ID: 7, Kind: KindSecret, Message: "Password:", Echo: false},
		},
		{"error with code", `{"type":"error","code":"auth_failed","message":"nope"}`, Error{Code: "auth_failed", Message: "nope"}},
		{"error without code", `{"type":"error","message":"nope"}`, Error{Message: "nope"}},
		{"success", `{"type":"success"}`, Success{}},
		{"trailing newline", "{\"type\":\"success\"}\n", Success{}},
		{"crlf", "{\"type\":\"state\",\"phase\":\"idle\"}\r\n", State{Phase: PhaseIdle}},
		{"extra fields ignored", `{"type":"success","session":"niri"}`, Success{}},
		{"numeric error code", `{"type":"error","code":5,"message":"Authentication failure"}`, Error{Message: "Authentication failure"}},
		{"string prompt id", `{"type":"prompt","id":"7","kind":"secret","message":"x","echo":false}`, Prompt{ID: 7, Kind: KindSecret, Message: "x"}},
		{"float prompt id", `{"type":"prompt","id":7.0,"kind":"visible","message":"x","echo":true}`, Prompt{ID: 7, Kind: KindVisible, Message: "x", Echo: true}},
		{"non-numeric prompt id", `{"type":"prompt","id":"seven","kind":"secret","message":"x","echo":false}`, Prompt{Kind: KindSecret, Message: "x"}},
		{"fractional prompt id", `{"type":"prompt","id":7.5,"kind":"secret","message":"x"}`, Prompt{Kind: KindSecret, Message: "x"}},
		{"string echo", `{"type":"prompt","id":7,"kind":"secret","message":"x","echo":"no"}`, Prompt{ID: 7, Kind: KindSecret, Message: "x"}},
		{"numeric phase", `{"type":"state","phase":3}`, State{}},
		{"null message", `{"type":"error","code":"pam_error","message":null}`, Error{Code: "pam_error"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode([]byte(tt.line))
			if !ok {
				t.Fatalf("Decode(%q) dropped the line", tt.line)
			}
			if got != tt.want {
				t.Errorf("Decode(%q) = %#v, want %#v", tt.line, got, tt.want)
			}
		})
	}
}

func TestDecode_Drops(t *testing.T) {
	lines := []string{
		"",
		"   ",
		"{not json",
		`{"type":"state","phase":"auth"`,
		`[{"type":"success"}]`,
		`"success"`,
		`null`,
		`42`,
		`{}`,
		`{"type":"bogus"}`,
		`{"type":7}`,
		`{"type":null}`,
		`{"type":["prompt"]}`,
		`{"type":"success"} {"type":"success"}`,
	}

	for _, line := range lines {
		if ev, ok := Decode([]byte(line)); ok {
			t.Errorf("Decode(%q) = %#v, want dropped", line, ev)
		}
	}
}

func TestCommandTypes(t *testing.T) {
	cmds := map[string]Command{
		"auth":            Auth{},
		"prompt_response": PromptResponse{},
		"cancel":          Cancel{},
		"start":           Start{},
		"power":           Power{},
		"hello":           Hello{},
	}
	for want, cmd := range cmds {
		if got := cmd.CommandType(); got != want {
			t.Errorf("%T.CommandType() = %q, want %q", cmd, got, want)
		}
	}
}
