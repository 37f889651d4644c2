package backend

import (
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	// OverrideEnv names the environment variable that, when set, is used as
	// the backend path without any further checks.
	OverrideEnv = "GREETER_BACKEND"

	// BinaryName is the conventional backend executable name.
	BinaryName = "greeter-backend"
)

// systemCandidates are the install locations checked after the paths
// relative to the greeter binary.
var systemCandidates = []string{
	"/usr/lib/greeter/" + BinaryName,
	"/usr/local/lib/greeter/" + BinaryName,
}

// ResolveOptions lets tests replace the environment and filesystem checks
// used by Resolve. Zero fields fall back to the real implementations.
type ResolveOptions struct {
	Getenv       func(string) string
	Executable   func() (string, error)
	IsExecutable func(string) bool
	LookPath     func(string) (string, error)
}

// Candidates returns the fixed candidate paths in search order for a greeter
// binary located in exeDir.
func Candidates(exeDir string) []string {
	candidates := []string{
		filepath.Join(exeDir, BinaryName),
		filepath.Join(exeDir, "..", "lib", "greeter", BinaryName),
	}
	return append(candidates, systemCandidates...)
}

// Resolve locates the backend executable. First match wins:
//
//  1. $GREETER_BACKEND, verbatim
//  2. <greeter dir>/greeter-backend
//  3. <greeter dir>/../lib/greeter/greeter-backend
//  4. /usr/lib/greeter/greeter-backend, /usr/local/lib/greeter/greeter-backend
//  5. greeter-backend on $PATH
//  6. the bare name, leaving the failure to spawn time
func Resolve(opts ResolveOptions) string {
	opts = opts.withDefaults()

	if override := opts.Getenv(OverrideEnv); override != "" {
		return override
	}

	exeDir := ""
	if exe, err := opts.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}

	for _, candidate := range Candidates(exeDir) {
		// Relative candidates are meaningless without the greeter's own dir.
		if exeDir == "" && !filepath.IsAbs(candidate) {
			continue
		}
		if opts.IsExecutable(candidate) {
			return candidate
		}
	}

	if inPath, err := opts.LookPath(BinaryName); err == nil && inPath != "" {
		return inPath
	}

	return BinaryName
}

func (o ResolveOptions) withDefaults() ResolveOptions {
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	if o.Executable == nil {
		o.Executable = os.Executable
	}
	if o.IsExecutable == nil {
		o.IsExecutable = IsExecutable
	}
	if o.LookPath == nil {
		o.LookPath = exec.LookPath
	}
	return o
}

// IsExecutable reports whether path is an existing regular file the current
// user may execute.
func IsExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}
