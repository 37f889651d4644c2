package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// LastSelection is what the user picked at the last successful login. It is
// used to preselect the session, profile and locale at the next start.
type LastSelection struct {
	User      string `json:"last_user,omitempty"`
	SessionID string `json:"last_session_id,omitempty"`
	ProfileID string `json:"last_profile_id,omitempty"`
	Locale    string `json:"last_locale,omitempty"`

	// HandoffPIDs are backends that were still running when their greeter
	// exited after a successful login. They host a session and must not be
	// taken for orphans.
	HandoffPIDs []int `json:"handoff_pids,omitempty"`
}

// LoadLastSelection reads the state file at path. A missing file yields an
// empty selection and no error. Blank values are normalized to empty.
func LoadLastSelection(path string) (LastSelection, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return LastSelection{}, nil
	}
	if err != nil {
		return LastSelection{}, err
	}

	var sel LastSelection
	if err := json.Unmarshal(data, &sel); err != nil {
		return LastSelection{}, fmt.Errorf("parse %s: %w", path, err)
	}
	sel.User = strings.TrimSpace(sel.User)
	sel.SessionID = strings.TrimSpace(sel.SessionID)
	sel.ProfileID = strings.TrimSpace(sel.ProfileID)
	sel.Locale = strings.TrimSpace(sel.Locale)
	sel.HandoffPIDs = slices.DeleteFunc(sel.HandoffPIDs, func(pid int) bool { return pid <= 0 })
	return sel, nil
}

// SaveLastSelection writes sel to path atomically: the data goes to a
// temporary file in the same directory which is then renamed over path.
func SaveLastSelection(path string, sel LastSelection) error {
	data, err := json.MarshalIndent(sel, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(append(data, '\n')); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing state data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing state file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming state file: %w", err)
	}
	success = true
	return nil
}
