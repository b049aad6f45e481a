// Package intake validates client commands and turns them into bus traffic.
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/grovetools/trail/errors"
	"github.com/grovetools/trail/internal/daemon/bus"
	"github.com/grovetools/trail/pkg/models"
	"github.com/sirupsen/logrus"
)

// Querier answers bus requests synchronously.
type Querier interface {
	Query(ctx context.Context, req bus.Request) bus.Response
}

// Emitter delivers named events to UI clients.
type Emitter interface {
	Emit(name string, payload interface{})
}

// Intake is the entry point for every client command. Malformed commands
// are rejected here and never reach the bus.
type Intake struct {
	bus     bus.Sender
	querier Querier
	emitter Emitter
	logger  *logrus.Entry

	mu     sync.RWMutex
	filter *Filter
}

// New creates an Intake. ignore holds .dockerignore-style patterns for
// paths that are dropped from every watch list.
func New(b bus.Sender, q Querier, emitter Emitter, ignore []string, logger *logrus.Entry) (*Intake, error) {
	filter, err := NewFilter(ignore)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid ignore pattern")
	}
	return &Intake{
		bus:     b,
		querier: q,
		emitter: emitter,
		filter:  filter,
		logger:  logger,
	}, nil
}

// SetIgnore swaps the ignore patterns. It applies to watch lists sent
// afterwards; the current watch set is left alone.
func (in *Intake) SetIgnore(patterns []string) error {
	filter, err := NewFilter(patterns)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid ignore pattern")
	}
	in.mu.Lock()
	in.filter = filter
	in.mu.Unlock()
	return nil
}

// wireCommand distinguishes absent fields from empty ones.
type wireCommand struct {
	Cmd          string    `json:"cmd"`
	WatchedFiles *[]string `json:"watchedFiles"`
	SelectFile   *string   `json:"selectFile"`
}

// Decode parses and validates a JSON command.
func Decode(data []byte) (models.Command, error) {
	var w wireCommand
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return models.Command{}, errors.Protocol(fmt.Sprintf("malformed command: %v", err))
	}

	cmd := models.Command{Cmd: w.Cmd}
	switch w.Cmd {
	case models.CmdAddWatchedFiles:
		if w.WatchedFiles == nil {
			return models.Command{}, errors.Protocol("addWatchedFiles requires watchedFiles")
		}
		cmd.WatchedFiles = *w.WatchedFiles
	case models.CmdSelectFile:
		if w.SelectFile == nil {
			return models.Command{}, errors.Protocol("selectFile requires selectFile")
		}
		cmd.SelectFile = *w.SelectFile
	case models.CmdRefreshWatchedFileList:
	case "":
		return models.Command{}, errors.Protocol("command has no cmd")
	default:
		return models.Command{}, errors.Protocol(fmt.Sprintf("unknown command %q", w.Cmd)).
			WithDetail("cmd", w.Cmd)
	}

	if err := Validate(cmd); err != nil {
		return models.Command{}, err
	}
	return cmd, nil
}

// Validate checks the arguments of an already decoded command.
func Validate(cmd models.Command) error {
	switch cmd.Cmd {
	case models.CmdAddWatchedFiles:
		for _, p := range cmd.WatchedFiles {
			if err := checkPath(p); err != nil {
				return err
			}
		}
	case models.CmdSelectFile:
		return checkPath(cmd.SelectFile)
	case models.CmdRefreshWatchedFileList:
	default:
		return errors.Protocol(fmt.Sprintf("unknown command %q", cmd.Cmd)).WithDetail("cmd", cmd.Cmd)
	}
	return nil
}

func checkPath(p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.Protocol("empty path")
	}
	if !filepath.IsAbs(p) {
		return errors.Protocol(fmt.Sprintf("path must be absolute: %s", p)).WithDetail("path", p)
	}
	return nil
}

// HandleRaw decodes data and handles the resulting command. Decode failures
// are reported to clients as an error event as well as returned.
func (in *Intake) HandleRaw(ctx context.Context, data []byte) error {
	cmd, err := Decode(data)
	if err != nil {
		in.emitError(err)
		return err
	}
	return in.Handle(ctx, cmd)
}

// Handle executes a command. Query results are emitted as events.
func (in *Intake) Handle(ctx context.Context, cmd models.Command) error {
	if err := Validate(cmd); err != nil {
		in.emitError(err)
		return err
	}

	switch cmd.Cmd {
	case models.CmdAddWatchedFiles:
		_, err := in.SetWatched(cmd.WatchedFiles)
		return err
	case models.CmdSelectFile:
		_, err := in.SelectFile(ctx, cmd.SelectFile)
		return err
	default:
		_, err := in.WatchedFiles(ctx)
		return err
	}
}

// SetWatched replaces the desired watch set. Paths are cleaned,
// de-duplicated and filtered through the ignore patterns; the effective set
// is returned.
func (in *Intake) SetWatched(paths []string) ([]string, error) {
	in.mu.RLock()
	filter := in.filter
	in.mu.RUnlock()

	desired := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if err := checkPath(p); err != nil {
			in.emitError(err)
			return nil, err
		}
		p = filepath.Clean(p)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}

		ignored, err := filter.Ignored(p)
		if err != nil {
			in.logger.WithError(err).WithField("path", p).Warn("Ignore pattern check failed")
		}
		if ignored {
			in.logger.WithField("path", p).Debug("Path matches ignore pattern, skipping")
			continue
		}
		desired = append(desired, p)
	}

	if err := in.bus.Send(bus.WatchSetUpdated{Desired: desired}); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDaemonUnavailable, "failed to update watch set")
	}
	in.logger.WithField("count", len(desired)).Debug("Watch set requested")
	return desired, nil
}

// WatchedFiles asks the engine for the current watch set and emits it as a
// refreshWatchedFileListResponse.
func (in *Intake) WatchedFiles(ctx context.Context) ([]string, error) {
	resp, err := in.query(ctx, bus.Request{Kind: bus.RequestWatchedFileList}, bus.ResponseWatchedFileList)
	if err != nil {
		return nil, err
	}
	paths := resp.Paths
	if paths == nil {
		paths = []string{}
	}
	in.emit(models.EventRefreshWatchedFileListResponse, paths)
	return paths, nil
}

// SelectFile asks the engine for the recent history of path and emits it as
// a selectFileResponse.
func (in *Intake) SelectFile(ctx context.Context, path string) ([]models.FileDiffResult, error) {
	if err := checkPath(path); err != nil {
		in.emitError(err)
		return nil, err
	}
	req := bus.Request{Kind: bus.RequestSelectFile, Path: filepath.Clean(path)}
	resp, err := in.query(ctx, req, bus.ResponseSelectFile)
	if err != nil {
		return nil, err
	}
	history := resp.History
	if history == nil {
		history = []models.FileDiffResult{}
	}
	in.emit(models.EventSelectFileResponse, history)
	return history, nil
}

func (in *Intake) query(ctx context.Context, req bus.Request, want bus.ResponseKind) (bus.Response, error) {
	resp := in.querier.Query(ctx, req)

	var err error
	switch {
	case resp.Kind == bus.ResponseError && resp.Err == bus.ErrTimeout:
		err = errors.New(errors.ErrCodeTimeout, fmt.Sprintf("no response to %s", req.Kind)).
			WithDetail("request", req.Kind.String())
	case resp.Kind == bus.ResponseError:
		err = errors.New(errors.ErrCodeInternal, resp.Err).WithDetail("request", req.Kind.String())
	case resp.Kind != want:
		err = errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("unexpected %s response to %s", resp.Kind, req.Kind))
	}
	if err != nil {
		in.emitError(err)
		return bus.Response{}, err
	}
	return resp, nil
}

func (in *Intake) emitError(err error) {
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	msg := err.Error()
	if te, ok := err.(*errors.TrailError); ok {
		msg = te.Message
	}
	in.logger.WithError(err).WithField("code", code).Warn("Command failed")
	in.emit(models.EventError, models.ErrorPayload{Code: string(code), Message: msg})
}

func (in *Intake) emit(name string, payload interface{}) {
	if in.emitter != nil {
		in.emitter.Emit(name, payload)
	}
}
