// Package fswatch turns OS file notifications into bus events.
package fswatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/grovetools/trail/internal/daemon/bus"
	"github.com/grovetools/trail/pkg/models"
	"github.com/sirupsen/logrus"
)

// Source watches individual files and emits a bus.RawFsChange for every
// notification about one of them.
//
// Files are watched through their parent directory so that editors which
// save by renaming a temp file over the original keep being observed.
type Source struct {
	watcher  *fsnotify.Watcher
	out      bus.Sender
	logger   *logrus.Entry
	debounce time.Duration

	mu    sync.RWMutex
	files map[string]struct{}
	dirs  map[string]int
}

// New creates a Source that sends into out. A positive debounce coalesces
// notifications per path over that window.
func New(out bus.Sender, debounce time.Duration, logger *logrus.Entry) (*Source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Source{
		watcher:  w,
		out:      out,
		logger:   logger,
		debounce: debounce,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]int),
	}, nil
}

// Watch starts observing path. Watching an already watched path only
// restores the directory watch if the OS dropped it.
func (s *Source) Watch(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(path)
	if _, ok := s.files[path]; ok {
		return s.ensureDir(dir)
	}

	if err := s.ensureDir(dir); err != nil {
		return err
	}
	s.dirs[dir]++
	s.files[path] = struct{}{}
	return nil
}

// ensureDir adds the OS watch for dir unless it is in place. Removing a
// directory drops its watch silently.
func (s *Source) ensureDir(dir string) error {
	if s.dirs[dir] > 0 && slices.Contains(s.watcher.WatchList(), dir) {
		return nil
	}
	if err := s.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	return nil
}

// Unwatch stops observing path. Unknown paths are ignored.
func (s *Source) Unwatch(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[path]; !ok {
		return nil
	}
	delete(s.files, path)

	dir := filepath.Dir(path)
	s.dirs[dir]--
	if s.dirs[dir] > 0 {
		return nil
	}
	delete(s.dirs, dir)

	// The directory may already be gone, taking the OS watch with it.
	if err := s.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return fmt.Errorf("unwatch %s: %w", dir, err)
	}
	return nil
}

// Watching reports whether path is currently watched.
func (s *Source) Watching(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[path]
	return ok
}

// Run forwards notifications until ctx is done or the watcher is closed.
// Watcher errors are logged and never stop the loop.
func (s *Source) Run(ctx context.Context) {
	pending := make(map[string]models.ChangeKind)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		s.flush(pending)
		pending = make(map[string]models.ChangeKind)
		timer, timerC = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			path := filepath.Clean(event.Name)
			if !s.Watching(path) {
				continue
			}
			kind := KindOf(event.Op)
			s.logger.WithFields(logrus.Fields{"path": path, "op": event.Op.String()}).Trace("fs event")

			if s.debounce <= 0 {
				s.emit([]string{path}, kind)
				continue
			}
			pending[path] = mergeKind(pending[path], kind)
			if timer == nil {
				timer = time.NewTimer(s.debounce)
				timerC = timer.C
			}

		case <-timerC:
			flush()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("File watcher error")
		}
	}
}

// flush emits one event per kind, paths sorted for stable output.
func (s *Source) flush(pending map[string]models.ChangeKind) {
	byKind := make(map[models.ChangeKind][]string)
	for path, kind := range pending {
		byKind[kind] = append(byKind[kind], path)
	}
	kinds := make([]string, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		paths := byKind[models.ChangeKind(k)]
		sort.Strings(paths)
		s.emit(paths, models.ChangeKind(k))
	}
}

func (s *Source) emit(paths []string, kind models.ChangeKind) {
	if err := s.out.Send(bus.RawFsChange{Paths: paths, Kind: kind}); err != nil {
		s.logger.WithError(err).Debug("Dropping fs event")
	}
}

// Close releases the OS watcher and ends Run.
func (s *Source) Close() error {
	return s.watcher.Close()
}

// KindOf maps an fsnotify operation to a ChangeKind. fsnotify has no
// access notification, so ChangeAccessed is never produced.
func KindOf(op fsnotify.Op) models.ChangeKind {
	switch {
	case op.Has(fsnotify.Create):
		return models.ChangeCreated
	case op.Has(fsnotify.Write):
		return models.ChangeModified
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return models.ChangeRemoved
	default:
		return models.ChangeOther
	}
}

// mergeKind folds a new notification into the kind pending for a path.
func mergeKind(prev, next models.ChangeKind) models.ChangeKind {
	switch {
	case prev == "":
		return next
	case next == models.ChangeRemoved:
		return models.ChangeRemoved
	case prev == models.ChangeRemoved && next == models.ChangeCreated:
		// Rename-over saves show up as remove then create.
		return models.ChangeModified
	case prev == models.ChangeCreated || prev == models.ChangeRemoved:
		return prev
	case next == models.ChangeCreated || next == models.ChangeModified:
		return next
	default:
		return prev
	}
}
