// Package engine owns the watch set and processes every bus event.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/grovetools/trail/errors"
	"github.com/grovetools/trail/internal/daemon/bus"
	"github.com/grovetools/trail/internal/daemon/capture"
	"github.com/grovetools/trail/internal/daemon/collector"
	"github.com/grovetools/trail/internal/daemon/store"
	"github.com/grovetools/trail/pkg/models"
	"github.com/sirupsen/logrus"
)

// Watcher registers paths with the OS.
type Watcher interface {
	Watch(path string) error
	Unwatch(path string) error
}

// Emitter delivers named events to UI clients.
type Emitter interface {
	Emit(name string, payload interface{})
}

// Engine is the single consumer of the bus. Everything it owns (the watch
// set, OS registrations, store writes) is touched only from Run.
type Engine struct {
	bus          *bus.Bus
	watcher      Watcher
	store        store.Store
	pipeline     *capture.Pipeline
	emitter      Emitter
	collectors   []collector.Collector
	logger       *logrus.Entry
	historyLimit int
	readFile     func(string) ([]byte, error)

	watched map[string]struct{}
	// unregistered holds watched paths whose OS watch or first snapshot
	// failed. They are retried on the next WatchSetUpdated.
	unregistered map[string]struct{}
}

// New creates a new Engine instance.
func New(b *bus.Bus, w Watcher, st store.Store, emitter Emitter, logger *logrus.Entry) *Engine {
	return &Engine{
		bus:          b,
		watcher:      w,
		store:        st,
		pipeline:     capture.NewPipeline(st, logger),
		emitter:      emitter,
		logger:       logger,
		historyLimit: store.DefaultHistoryLimit,
		readFile:     os.ReadFile,
		watched:      make(map[string]struct{}),
		unregistered: make(map[string]struct{}),
	}
}

// SetHistoryLimit sets how many diffs a SelectFile request returns.
func (e *Engine) SetHistoryLimit(n int) {
	if n > 0 {
		e.historyLimit = n
	}
}

// Register adds a producer that runs alongside the consumer in Start.
func (e *Engine) Register(c collector.Collector) {
	e.collectors = append(e.collectors, c)
}

// Start runs all collectors and the consumer, and blocks until context is
// canceled and every collector has returned.
func (e *Engine) Start(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.Run(ctx); err != nil {
			e.logger.WithError(err).Error("Engine stopped")
		}
	}()

	for _, c := range e.collectors {
		wg.Add(1)
		go func(col collector.Collector) {
			defer wg.Done()
			e.logger.WithField("collector", col.Name()).Info("Starting collector")
			if err := col.Run(ctx); err != nil {
				e.logger.WithField("collector", col.Name()).WithError(err).Error("Collector failed")
			}
		}(c)
	}

	wg.Wait()
}

// Run consumes bus events in order until ctx is done or the bus is closed
// and drained.
func (e *Engine) Run(ctx context.Context) error {
	for {
		ev, err := e.bus.Next(ctx)
		if err != nil {
			if stderrors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		e.handle(ctx, ev)
	}
}

func (e *Engine) handle(ctx context.Context, ev bus.Event) {
	switch ev := ev.(type) {
	case bus.WatchSetUpdated:
		e.handleWatchSet(ev.Desired)
	case bus.PathAddedToWatch:
		e.handleAdd(ctx, ev.Path)
	case bus.PathRemovedFromWatch:
		e.handleRemove(ctx, ev.Path)
	case bus.RawFsChange:
		e.handleChange(ctx, ev)
	case bus.Request:
		e.handleRequest(ctx, ev)
	case bus.Response:
		e.deliver(ev)
	default:
		e.logger.WithField("event", fmt.Sprintf("%T", ev)).Debug("Ignoring unknown event")
	}
}

func (e *Engine) handleWatchSet(desired []string) {
	toAdd, toRemove := Reconcile(desired, sortedKeys(e.watched))
	for _, p := range sortedKeys(e.unregistered) {
		if _, ok := e.watched[p]; ok && slices.Contains(desired, p) {
			toAdd = append(toAdd, p)
		}
	}

	for _, p := range toRemove {
		e.send(bus.PathRemovedFromWatch{Path: p})
	}
	for _, p := range toAdd {
		e.send(bus.PathAddedToWatch{Path: p})
	}
	e.watched = toSet(desired)

	e.logger.WithFields(logrus.Fields{
		"added":   len(toAdd),
		"removed": len(toRemove),
		"total":   len(e.watched),
	}).Info("Watch set updated")

	if e.emitter != nil {
		e.emitter.Emit(models.EventUpdateWatched, sortedKeys(e.watched))
	}
}

func (e *Engine) handleAdd(ctx context.Context, path string) {
	logger := e.logger.WithField("path", path)

	if err := e.watcher.Watch(path); err != nil {
		logger.WithError(err).Warn("Failed to watch path")
		e.addFailed(path, errors.Wrap(err, errors.ErrCodeIO, fmt.Sprintf("failed to watch %s", path)))
		return
	}

	content, err := e.readFile(path)
	if err != nil {
		readErr := errors.ReadFailed(path, err)
		logger.WithError(readErr).Warn("Dropping add, file unreadable")
		if err := e.watcher.Unwatch(path); err != nil {
			logger.WithError(err).Debug("Unwatch after failed read")
		}
		e.addFailed(path, readErr)
		return
	}

	if _, err := e.pipeline.Snapshot(ctx, path, content); err != nil {
		logger.WithError(err).Error("Failed to store snapshot")
		e.addFailed(path, err)
		return
	}
	delete(e.unregistered, path)
	logger.Info("Watching")
}

// addFailed keeps path in the watch set for a later retry and tells UI
// clients it is not being recorded.
func (e *Engine) addFailed(path string, err error) {
	e.unregistered[path] = struct{}{}
	if e.emitter == nil {
		return
	}
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	e.emitter.Emit(models.EventError, models.ErrorPayload{
		Code:    string(code),
		Message: err.Error(),
	})
}

func (e *Engine) handleRemove(ctx context.Context, path string) {
	logger := e.logger.WithField("path", path)

	delete(e.unregistered, path)
	if err := e.watcher.Unwatch(path); err != nil {
		logger.WithError(err).Warn("Failed to unwatch path")
	}

	diffs, snaps, err := e.store.DeleteAllForPath(ctx, path)
	if err != nil {
		logger.WithError(errors.PersistenceFailed(path, "delete_all_for_path", err)).Error("Failed to delete history")
		return
	}
	logger.WithFields(logrus.Fields{
		"diffs":     diffs,
		"snapshots": snaps,
	}).Info("Stopped watching")
}

func (e *Engine) handleChange(ctx context.Context, ev bus.RawFsChange) {
	for _, path := range ev.Paths {
		logger := e.logger.WithFields(logrus.Fields{"path": path, "kind": ev.Kind})

		if _, ok := e.watched[path]; !ok {
			logger.Debug("Ignoring change to unwatched path")
			continue
		}
		if !ev.Kind.Captures() {
			logger.Debug("Change kind not captured")
			continue
		}

		content, err := e.readFile(path)
		if err != nil {
			logger.WithError(errors.ReadFailed(path, err)).Warn("Dropping change, file unreadable")
			continue
		}

		diff, err := e.pipeline.Capture(ctx, path, content, ev.Kind)
		if err != nil {
			if errors.Is(err, errors.ErrCodeMissingSource) {
				logger.WithError(err).Warn("Change without snapshot")
			} else {
				logger.WithError(err).Error("Capture failed")
			}
			continue
		}
		logger.WithField("diff_id", diff.ID).Debug("Change captured")
	}
}

func (e *Engine) handleRequest(ctx context.Context, req bus.Request) {
	resp := bus.Response{Reply: req.Reply}

	switch req.Kind {
	case bus.RequestWatchedFileList:
		resp.Kind = bus.ResponseWatchedFileList
		resp.Paths = sortedKeys(e.watched)
	case bus.RequestSelectFile:
		history, err := capture.History(ctx, e.store, req.Path, e.historyLimit)
		if err != nil {
			resp.Kind = bus.ResponseError
			resp.Err = err.Error()
			break
		}
		resp.Kind = bus.ResponseSelectFile
		resp.History = history
	default:
		resp.Kind = bus.ResponseError
		resp.Err = fmt.Sprintf("unknown request %s", req.Kind)
	}

	if err := e.bus.Send(resp); err != nil {
		// The bus is shutting down; answer directly so the caller is not left waiting.
		e.deliver(resp)
	}
}

func (e *Engine) deliver(resp bus.Response) {
	if resp.Reply == nil {
		e.logger.WithField("kind", resp.Kind).Debug("Response without reply channel")
		return
	}
	select {
	case resp.Reply <- resp:
	default:
		e.logger.WithField("kind", resp.Kind).Debug("Dropping response, requester gone")
	}
}

func (e *Engine) send(ev bus.Event) {
	if err := e.bus.Send(ev); err != nil {
		e.logger.WithError(err).WithField("event", fmt.Sprintf("%T", ev)).Warn("Failed to enqueue event")
	}
}
