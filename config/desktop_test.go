package config

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestSplitExec(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"sway", []string{"sway"}},
		{"  startplasma-wayland  ", []string{"startplasma-wayland"}},
		{"gnome-session --session=ubuntu", []string{"gnome-session", "--session=ubuntu"}},
		{`sh -c "exec sway --debug"`, []string{"sh", "-c", "exec sway --debug"}},
		{`run 'a b' c`, []string{"run", "a b", "c"}},
		{`run a\ b`, []string{"run", "a b"}},
		{`run 'a\b'`, []string{"run", `a\b`}},
		{"app %U --flag", []string{"app", "--flag"}},
		{"app --pct=50%%", []string{"app", "--pct=50%"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := SplitExec(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitExec(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDiscoverSessions(t *testing.T) {
	root := t.TempDir()
	wayland := filepath.Join(root, "wayland-sessions")
	x11 := filepath.Join(root, "xsessions")

	writeFile(t, filepath.Join(wayland, "sway.desktop"), `[Desktop Entry]
Name=Sway
Exec=sway
Type=Application
`)
	writeFile(t, filepath.Join(wayland, "hidden.desktop"), `[Desktop Entry]
Name=Hidden
Exec=hidden
Hidden=true
`)
	writeFile(t, filepath.Join(wayland, "missing.desktop"), `[Desktop Entry]
Name=Missing
Exec=not-installed-anywhere
TryExec=/nonexistent/not-installed-anywhere
`)
	writeFile(t, filepath.Join(wayland, "noexec.desktop"), `[Desktop Entry]
Name=No Exec
`)
	writeFile(t, filepath.Join(wayland, "README"), "not a session")
	writeFile(t, filepath.Join(x11, "awesome.desktop"), `# comment
[Desktop Action extra]
Name=Wrong group
[Desktop Entry]
Exec=awesome %f
TryExec=sh
`)

	got := DiscoverSessions([]SessionDir{
		{Path: wayland, Type: "wayland"},
		{Path: x11, Type: "x11"},
		{Path: filepath.Join(root, "absent"), Type: "x11"},
	})

	want := []SessionEntry{
		{
			ID:          "awesome",
			Name:        "awesome",
			Command:     []string{"awesome"},
			Type:        "x11",
			DesktopFile: filepath.Join(x11, "awesome.desktop"),
		},
		{
			ID:          "sway",
			Name:        "Sway",
			Command:     []string{"sway"},
			Type:        "wayland",
			DesktopFile: filepath.Join(wayland, "sway.desktop"),
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DiscoverSessions() =\n%+v\nwant\n%+v", got, want)
	}
}
