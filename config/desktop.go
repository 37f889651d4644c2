package config

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/sys/unix"
)

// SessionDir is a directory of freedesktop session files.
type SessionDir struct {
	Path string
	Type string // "wayland" or "x11"
}

// DefaultSessionDirs are the standard locations of installed sessions.
var DefaultSessionDirs = []SessionDir{
	{Path: "/usr/share/wayland-sessions", Type: "wayland"},
	{Path: "/usr/share/xsessions", Type: "x11"},
}

// DiscoverSessions lists the sessions installed in dirs, sorted by name
// case-insensitively. Hidden entries, entries without Exec and entries whose
// TryExec program is missing are skipped. Unreadable directories are
// skipped silently.
func DiscoverSessions(dirs []SessionDir) []SessionEntry {
	var sessions []SessionEntry
	for _, dir := range dirs {
		sessions = append(sessions, scanSessionDir(dir)...)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return strings.ToLower(sessions[i].Name) < strings.ToLower(sessions[j].Name)
	})
	return sessions
}

func scanSessionDir(dir SessionDir) []SessionEntry {
	entries, err := os.ReadDir(dir.Path)
	if err != nil {
		return nil
	}
	var sessions []SessionEntry
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".desktop" {
			continue
		}
		if s, ok := parseDesktopEntry(filepath.Join(dir.Path, e.Name()), dir.Type); ok {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// parseDesktopEntry reads the [Desktop Entry] group of a session file.
func parseDesktopEntry(path, sessionType string) (SessionEntry, bool) {
	f, err := os.Open(path)
	if err != nil {
		return SessionEntry{}, false
	}
	defer f.Close()

	var (
		inEntry           bool
		name, execLine    string
		tryExec           string
		hidden, noDisplay bool
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inEntry = line == "[Desktop Entry]"
			continue
		}
		if !inEntry {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Name":
			name = value
		case "Exec":
			execLine = value
		case "TryExec":
			tryExec = value
		case "Hidden":
			hidden = parseBool(value)
		case "NoDisplay":
			noDisplay = parseBool(value)
		}
	}
	if scanner.Err() != nil || hidden || noDisplay || execLine == "" {
		return SessionEntry{}, false
	}

	if tryExec != "" {
		if argv := SplitExec(tryExec); len(argv) > 0 && !programExists(argv[0]) {
			return SessionEntry{}, false
		}
	}

	argv := SplitExec(execLine)
	if len(argv) == 0 {
		return SessionEntry{}, false
	}

	id := strings.TrimSuffix(filepath.Base(path), ".desktop")
	if name == "" {
		name = id
	}
	return SessionEntry{
		ID:          id,
		Name:        name,
		Command:     argv,
		Type:        sessionType,
		DesktopFile: path,
	}, true
}

// SplitExec splits a desktop-entry Exec value into arguments. Quotes group
// words, a backslash escapes the next character outside single quotes, and
// field codes such as %f are removed ("%%" becomes "%").
func SplitExec(raw string) []string {
	var (
		tokens  []string
		current strings.Builder
		inToken bool
		single  bool
		double  bool
		escape  bool
	)
	flush := func() {
		if inToken {
			if t := stripFieldCodes(current.String()); t != "" {
				tokens = append(tokens, t)
			}
		}
		current.Reset()
		inToken = false
	}

	for _, r := range raw {
		switch {
		case escape:
			current.WriteRune(r)
			escape = false
		case r == '\\' && !single:
			escape = true
			inToken = true
		case r == '\'' && !double:
			single = !single
			inToken = true
		case r == '"' && !single:
			double = !double
			inToken = true
		case unicode.IsSpace(r) && !single && !double:
			flush()
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	flush()
	return tokens
}

func stripFieldCodes(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' {
			b.WriteRune(runes[i])
			continue
		}
		if i+1 < len(runes) {
			if runes[i+1] == '%' {
				b.WriteRune('%')
			}
			i++
		}
	}
	return b.String()
}

func programExists(name string) bool {
	if strings.Contains(name, "/") {
		info, err := os.Stat(name)
		return err == nil && info.Mode().IsRegular() && unix.Access(name, unix.X_OK) == nil
	}
	_, err := exec.LookPath(name)
	return err == nil
}
