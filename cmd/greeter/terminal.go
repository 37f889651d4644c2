package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// terminal reads answers from the controlling terminal. Secret prompts are
// read without echo when stdin is a tty.
type terminal struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool

	saved *term.State
}

func newTerminal(in *os.File, out io.Writer) *terminal {
	fd := int(in.Fd())
	t := &terminal{
		in:  bufio.NewReader(in),
		out: out,
		fd:  fd,
		tty: term.IsTerminal(fd),
	}
	if t.tty {
		if state, err := term.GetState(fd); err == nil {
			t.saved = state
		}
	}
	return t
}

// readLine prints prompt and reads one line without its line ending.
func (t *terminal) readLine(prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readSecret prints prompt and reads one line without echoing it.
func (t *terminal) readSecret(prompt string) (string, error) {
	if !t.tty {
		return t.readLine(prompt)
	}
	fmt.Fprint(t.out, prompt)
	secret, err := term.ReadPassword(t.fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

// restore puts the terminal back into the state it had at startup.
func (t *terminal) restore() {
	if t.saved != nil {
		term.Restore(t.fd, t.saved)
	}
}

func (t *terminal) printf(format string, args ...any) {
	fmt.Fprintf(t.out, format, args...)
}
