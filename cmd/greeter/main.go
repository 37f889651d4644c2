// Command greeter is a terminal login greeter. It supervises the greeter
// backend, answers its prompts on the controlling terminal and hands off to
// the user session on success.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/zhubert/greeter-core/backend"
	"github.com/zhubert/greeter-core/cli"
	"github.com/zhubert/greeter-core/config"
	"github.com/zhubert/greeter-core/exec"
	"github.com/zhubert/greeter-core/greeter"
	"github.com/zhubert/greeter-core/logger"
	"github.com/zhubert/greeter-core/paths"
	"github.com/zhubert/greeter-core/process"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// cleanupTimeout bounds the stale backend scan at startup.
const cleanupTimeout = 5 * time.Second

type options struct {
	configPath   string
	backendPath  string
	user         string
	session      string
	locale       string
	power        string
	logFile      string
	debug        bool
	hello        bool
	printBackend bool
	check        bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("greeter", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "user config file (default: "+paths.ConfigFilePath()+")")
	flagSet.StringVar(&opts.backendPath, "backend", "", "backend executable (default: $"+backend.OverrideEnv+", config, then the install locations)")
	flagSet.StringVarP(&opts.user, "user", "u", "", "username to log in as")
	flagSet.StringVarP(&opts.session, "session", "s", "", "session id to start")
	flagSet.StringVar(&opts.locale, "locale", "", "locale passed to the session")
	flagSet.StringVar(&opts.power, "power", "", "request a power action (e.g. poweroff, reboot) and exit")
	flagSet.StringVar(&opts.logFile, "log-file", "", "log file (default: "+logger.DefaultLogPath()+")")
	flagSet.BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")
	flagSet.BoolVar(&opts.hello, "hello", false, "send the hello handshake after spawning the backend")
	flagSet.BoolVar(&opts.printBackend, "print-backend", false, "print the resolved backend path and exit")
	flagSet.BoolVar(&opts.check, "check", false, "check the backend and helper executables and exit")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, nil
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	loadOpts := config.LoadOptions{UserPath: opts.configPath}
	cfg, err := config.Load(loadOpts)
	if err != nil {
		fmt.Fprintf(stderr, "error: invalid configuration: %v\n", err)
		return exitFailure
	}

	logPath := opts.logFile
	if logPath == "" && cfg.Logging.Dir != "" {
		logPath = filepath.Join(cfg.Logging.Dir, "greeter.log")
	}
	if logPath == "" {
		logPath = logger.DefaultLogPath()
	}
	if err := logger.Init(logPath); err != nil {
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}
	defer logger.Close()
	logger.SetDebug(opts.debug || cfg.Debug())
	log := logger.WithComponent("cmd")

	backendPath := chooseBackend(opts.backendPath, cfg.Backend.Path, os.Getenv)
	log.Info("greeter starting", "backend", backendPath, "log", logger.Path())

	if opts.printBackend {
		fmt.Fprintln(stdout, backendPath)
		return exitOK
	}
	if opts.check {
		prereqs := cli.DefaultPrerequisites(backendPath)
		fmt.Fprint(stdout, cli.FormatCheckResults(cli.CheckAll(prereqs)))
		if err := cli.ValidateRequired(prereqs); err != nil {
			fmt.Fprintln(stderr, err)
			return exitFailure
		}
		return exitOK
	}

	discovered := cfg.Sessions
	if len(discovered) == 0 {
		discovered = config.DiscoverSessions(config.DefaultSessionDirs)
		log.Debug("discovered sessions", "count", len(discovered))
	}
	cfg = withSessions(cfg, discovered)

	statePath := paths.StateFilePath()
	last, err := config.LoadLastSelection(statePath)
	if err != nil {
		log.Warn("ignoring last selection", "path", statePath, "error", err)
	}
	sel := choose(cfg, opts, last)
	if opts.session != "" && sel.SessionID != opts.session {
		fmt.Fprintf(stderr, "warning: unknown session %q\n", opts.session)
	}

	session := greeter.NewSessionConfig()
	session.Apply(snapshotFor(cfg, sel))

	keep := livePIDs(last.HandoffPIDs)
	cleanupOrphans(log, exec.GetDefaultExecutor(), backendPath, keep)

	g := greeter.New(greeter.Options{
		Backend: backend.Config{
			Path:           backendPath,
			WriteTimeout:   cfg.Backend.WriteTimeout,
			StopGrace:      cfg.Backend.StopGrace,
			KillAfterGrace: cfg.KillAfterGrace(),
		},
		SendHello: opts.hello || cfg.Hello(),
		Session:   session,
	})

	watcher, err := config.Watch(loadOpts, func(next *config.Config) {
		next = withSessions(next, discovered)
		cur := session.Snapshot()
		session.Apply(snapshotFor(next, selection{
			SessionID: cur.SessionID,
			ProfileID: cur.ProfileID,
			Locale:    cur.Locale,
		}))
	})
	if err != nil {
		log.Warn("config hot reload disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	tty := newTerminal(stdin, stdout)
	a := &app{
		g:         g,
		term:      tty,
		log:       log,
		cfg:       cfg,
		sel:       sel,
		statePath: statePath,
		keepPIDs:  keep,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		if a.finished.Load() {
			return
		}
		tty.restore()
		log.Info("interrupted")
		g.Close()
		logger.Close()
		fmt.Fprintln(stdout)
		os.Exit(exitInterrupted)
	}()

	if err := g.Start(); err != nil {
		log.Error("failed to start greeter", "error", err)
		return exitFailure
	}

	var code int
	if opts.power != "" {
		code = a.power(opts.power)
	} else {
		code = a.login()
	}
	a.finished.Store(true)

	// After a hand-off the backend has become the session, or is about to:
	// it must outlive the greeter.
	if !a.handedOff {
		g.Close()
	}
	return code
}

// cleanupOrphans terminates backends left behind by an earlier greeter.
// Backends in keep were handed a session and are left alone.
func cleanupOrphans(log *slog.Logger, executor exec.CommandExecutor, backendPath string, keep []int) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	killed, err := process.CleanupOrphanedBackends(ctx, executor, backendPath, keep...)
	if err != nil {
		log.Warn("stale backend cleanup failed", "error", err)
		return
	}
	if killed > 0 {
		log.Info("terminated stale backends", "count", killed)
	}
}

// livePIDs returns the entries of pids that still name a process.
func livePIDs(pids []int) []int {
	var live []int
	for _, pid := range pids {
		if err := unix.Kill(pid, 0); err == nil || errors.Is(err, unix.EPERM) {
			live = append(live, pid)
		}
	}
	return live
}

func powerAllowed(cfg *config.Config, action string) bool {
	return len(cfg.PowerActions) == 0 || slices.Contains(cfg.PowerActions, action)
}
