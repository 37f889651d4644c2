// Package process finds and cleans up backend processes left behind by a
// greeter that crashed or was killed before it could stop its backend.
package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/zhubert/greeter-core/exec"
	"github.com/zhubert/greeter-core/logger"
)

// commLen is the length the kernel truncates process names to.
const commLen = 15

// BackendProcess represents a running backend process found on the system.
type BackendProcess struct {
	PID     int    // Process ID
	PPID    int    // Parent process ID
	Command string // Full command line
}

// Orphaned reports whether the process has been reparented to init.
func (p BackendProcess) Orphaned() bool {
	return p.PPID == 1
}

// processName returns the name pgrep matches for the backend at path.
func processName(path string) string {
	name := filepath.Base(path)
	if len(name) > commLen {
		name = name[:commLen]
	}
	return name
}

// FindBackendProcesses finds all running processes whose name matches the
// backend executable at path. The calling process is never included.
func FindBackendProcesses(ctx context.Context, executor exec.CommandExecutor, path string) ([]BackendProcess, error) {
	log := logger.WithComponent("process")

	output, err := executor.Output(ctx, "pgrep", "-x", processName(path))
	if err != nil {
		// pgrep returns exit code 1 if no processes found
		if exec.ExitCode(err) == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("pgrep: %w", err)
	}

	self := os.Getpid()
	var processes []BackendProcess
	for _, pidStr := range strings.Fields(string(output)) {
		pid, err := strconv.Atoi(pidStr)
		if err != nil || pid == self {
			continue
		}

		psOutput, err := executor.Output(ctx, "ps", "-o", "ppid=,args=", "-p", pidStr)
		if err != nil {
			// Exited between pgrep and ps.
			continue
		}
		proc, ok := parsePS(pid, string(psOutput))
		if !ok {
			continue
		}
		processes = append(processes, proc)
	}

	log.Debug("found backend processes", "name", processName(path), "count", len(processes))
	return processes, nil
}

// parsePS parses a "ppid args" line as printed by ps -o ppid=,args=.
func parsePS(pid int, line string) (BackendProcess, bool) {
	line = strings.TrimSpace(line)
	ppidStr, args, _ := strings.Cut(line, " ")
	ppid, err := strconv.Atoi(ppidStr)
	if err != nil {
		return BackendProcess{}, false
	}
	return BackendProcess{PID: pid, PPID: ppid, Command: strings.TrimSpace(args)}, true
}

// KillProcess sends SIGTERM to a process so it can close any PAM session it
// still holds.
func KillProcess(ctx context.Context, executor exec.CommandExecutor, pid int) error {
	_, stderr, err := executor.Run(ctx, "kill", "-TERM", strconv.Itoa(pid))
	if err != nil {
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			return fmt.Errorf("kill %d: %s: %w", pid, msg, err)
		}
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	return nil
}

// FindOrphanedBackends returns backend processes that have lost their
// greeter. Processes listed in keep are never reported.
func FindOrphanedBackends(ctx context.Context, executor exec.CommandExecutor, path string, keep ...int) ([]BackendProcess, error) {
	all, err := FindBackendProcesses(ctx, executor, path)
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("process")
	var orphans []BackendProcess
	for _, proc := range all {
		if !proc.Orphaned() {
			continue
		}
		if slices.Contains(keep, proc.PID) {
			log.Debug("keeping handed-off backend", "pid", proc.PID)
			continue
		}
		log.Info("found orphaned backend process", "pid", proc.PID, "command", proc.Command)
		orphans = append(orphans, proc)
	}
	return orphans, nil
}

// CleanupOrphanedBackends terminates every orphaned backend process except
// those in keep. Returns the number of processes signalled.
func CleanupOrphanedBackends(ctx context.Context, executor exec.CommandExecutor, path string, keep ...int) (int, error) {
	orphans, err := FindOrphanedBackends(ctx, executor, path, keep...)
	if err != nil {
		return 0, err
	}

	log := logger.WithComponent("process")
	killed := 0
	for _, proc := range orphans {
		log.Info("terminating orphaned backend process", "pid", proc.PID)
		if err := KillProcess(ctx, executor, proc.PID); err != nil {
			log.Error("failed to terminate process", "pid", proc.PID, "error", err)
			continue
		}
		killed++
	}
	return killed, nil
}
