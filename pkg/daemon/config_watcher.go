package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/grovetools/trail/config"
	"github.com/grovetools/trail/logging"
	"github.com/sirupsen/logrus"
)

// defaultConfigDebounce coalesces the burst of events editors produce on save.
const defaultConfigDebounce = 100 * time.Millisecond

// ConfigWatcher watches the directories holding trail config files and calls
// onReload once a burst of changes has settled.
type ConfigWatcher struct {
	watcher      *fsnotify.Watcher
	debounce     time.Duration
	logger       *logrus.Entry
	onReload     func(file string)
	targetToLink map[string]string // Maps target file paths to the symlinks pointing at them

	mu      sync.Mutex
	timer   *time.Timer
	pending string
}

// NewConfigWatcher creates a ConfigWatcher for the given directories.
// Directories that do not exist are skipped. It also watches symlink target
// directories so changes to linked config files are detected.
func NewConfigWatcher(dirs []string, debounce time.Duration, onReload func(string)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger("config-watcher")
	watchedDirs := make(map[string]bool)
	targetToLink := make(map[string]string)

	add := func(dir string) {
		if watchedDirs[dir] {
			return
		}
		if err := watcher.Add(dir); err != nil {
			logger.WithError(err).Debugf("Not watching config directory %s", dir)
			return
		}
		watchedDirs[dir] = true
		logger.Debugf("Watching config directory: %s", dir)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		add(dir)
		if !watchedDirs[dir] {
			continue
		}

		// fsnotify doesn't follow symlinks, so we need to watch targets explicitly
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.Type()&os.ModeSymlink == 0 || !config.IsConfigFile(entry.Name()) {
				continue
			}
			fullPath := filepath.Join(dir, entry.Name())
			target, err := filepath.EvalSymlinks(fullPath)
			if err != nil {
				logger.WithError(err).Warnf("Failed to resolve symlink %s", entry.Name())
				continue
			}
			targetToLink[target] = fullPath
			add(filepath.Dir(target))
		}
	}

	if debounce <= 0 {
		debounce = defaultConfigDebounce
	}

	return &ConfigWatcher{
		watcher:      watcher,
		debounce:     debounce,
		logger:       logger,
		onReload:     onReload,
		targetToLink: targetToLink,
	}, nil
}

// Start begins watching for config changes. It blocks until the context is cancelled.
func (w *ConfigWatcher) Start(ctx context.Context) {
	defer w.stopTimer()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := event.Name
			if link, ok := w.targetToLink[name]; ok {
				w.logger.Debugf("Mapped symlink target %s -> %s", name, link)
				name = link
			}
			if config.IsConfigFile(name) {
				w.handleChange(name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Watcher error: %v", err)
		case <-ctx.Done():
			w.watcher.Close()
			return
		}
	}
}

// handleChange (re)arms the debounce timer; the last file wins.
func (w *ConfigWatcher) handleChange(file string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = file
	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *ConfigWatcher) fire() {
	w.mu.Lock()
	file := w.pending
	w.pending = ""
	w.timer = nil
	w.mu.Unlock()

	if file == "" {
		return
	}
	w.logger.Infof("Config changed: %s", filepath.Base(file))
	if w.onReload != nil {
		w.onReload(file)
	}
}

func (w *ConfigWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = ""
}

// Close stops the watcher and releases resources.
func (w *ConfigWatcher) Close() error {
	w.stopTimer()
	return w.watcher.Close()
}
