// Package cli checks the executables the terminal greeter depends on.
package cli

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/zhubert/greeter-core/backend"
)

// Prerequisite represents an executable the greeter uses.
type Prerequisite struct {
	Name        string // Command name or absolute path
	Required    bool   // Whether the greeter cannot run without it
	Description string // Human-readable description
}

// DefaultPrerequisites returns the executables needed to run against the
// backend at backendPath.
func DefaultPrerequisites(backendPath string) []Prerequisite {
	return []Prerequisite{
		{
			Name:        backendPath,
			Required:    true,
			Description: "greeter backend",
		},
		{
			Name:        "pgrep",
			Required:    false,
			Description: "stale backend detection",
		},
		{
			Name:        "ps",
			Required:    false,
			Description: "stale backend detection",
		},
		{
			Name:        "kill",
			Required:    false,
			Description: "stale backend cleanup",
		},
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Error        error
}

// Check verifies that an executable exists. Names containing a slash are
// checked as paths, anything else is looked up in PATH.
func Check(prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	if strings.Contains(prereq.Name, "/") {
		if !backend.IsExecutable(prereq.Name) {
			result.Error = fmt.Errorf("%s is not an executable file", prereq.Name)
			return result
		}
		result.Found = true
		result.Path = filepath.Clean(prereq.Name)
		return result
	}

	path, err := exec.LookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}
	result.Found = true
	result.Path = path
	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(prereq)
	}
	return results
}

// ValidateRequired returns an error listing every required prerequisite
// that is missing.
func ValidateRequired(prereqs []Prerequisite) error {
	var missing []string

	for _, prereq := range prereqs {
		if !prereq.Required {
			continue
		}
		if result := Check(prereq); !result.Found {
			missing = append(missing, fmt.Sprintf("  - %s (%s)", prereq.Name, prereq.Description))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required executables:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("Greeter prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		fmt.Fprintf(&sb, "  %s %s", status, r.Prerequisite.Name)
		switch {
		case r.Found && r.Path != r.Prerequisite.Name:
			fmt.Fprintf(&sb, " (%s)", r.Path)
		case !r.Found && r.Prerequisite.Required:
			sb.WriteString(" [REQUIRED]")
		case !r.Found:
			sb.WriteString(" [optional]")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
