package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval collapses the burst of events an editor produces when it
// saves a file.
const debounceInterval = 250 * time.Millisecond

// Watcher reloads the configuration when a watched file changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	files     map[string]bool
	reload    func() (*Config, error)
	onChange  func(*Config)
	log       *slog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	cancel chan struct{}
	done   chan struct{}
	once   sync.Once

	// fireMu is held for the whole of a reload so Close can wait for it.
	fireMu sync.Mutex
}

// Watch starts watching the configuration files named in opts. Whenever one
// of them is written, created, renamed or removed, Load(opts) is run again
// after a short quiet period and onChange receives the result. A reload that
// fails validation is logged and not delivered.
//
// The parent directories are watched rather than the files so that files
// replaced by rename, or created after startup, are picked up.
func Watch(opts LoadOptions, onChange func(*Config)) (*Watcher, error) {
	opts = opts.withDefaults()
	return watchFiles([]string{opts.SystemPath, opts.UserPath}, func() (*Config, error) {
		return Load(opts)
	}, onChange, opts.Logger)
}

func watchFiles(files []string, reload func() (*Config, error), onChange func(*Config), log *slog.Logger) (*Watcher, error) {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsW,
		files:     make(map[string]bool),
		reload:    reload,
		onChange:  onChange,
		log:       log,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, f := range files {
		f = filepath.Clean(f)
		w.files[f] = true
		dirs[filepath.Dir(f)] = true
	}
	added := 0
	for dir := range dirs {
		if err := fsW.Add(dir); err != nil {
			// The system or user config directory may not exist at all.
			log.Debug("not watching config directory", "dir", dir, "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		log.Debug("no config directory to watch")
	}

	go w.watchLoop()
	return w, nil
}

// Close stops watching. A pending reload is discarded and a reload in
// progress is waited for; onChange is never called once Close returns.
// Close must not be called from onChange. Safe to call multiple times.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.cancel)
		err = w.fsWatcher.Close()
		<-w.done

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		// Wait for a reload that is already running.
		w.fireMu.Lock()
		w.fireMu.Unlock()
	})
	return err
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case <-w.cancel:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			w.log.Debug("config file changed", "path", event.Name, "op", event.Op.String())

			// Debounce: reset timer on each event.
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(debounceInterval, w.fire)
			w.mu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) fire() {
	w.fireMu.Lock()
	defer w.fireMu.Unlock()
	if w.closed() {
		return
	}

	cfg, err := w.reload()
	if err != nil {
		w.log.Warn("config reload rejected", "error", err)
		return
	}
	if w.closed() {
		w.log.Debug("discarding config reload after close")
		return
	}
	w.log.Info("config reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

func (w *Watcher) closed() bool {
	select {
	case <-w.cancel:
		return true
	default:
		return false
	}
}
