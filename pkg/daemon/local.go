package daemon

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/grovetools/trail/config"
	"github.com/grovetools/trail/errors"
	"github.com/grovetools/trail/internal/daemon/capture"
	"github.com/grovetools/trail/internal/daemon/store"
	"github.com/grovetools/trail/pkg/models"
)

// LocalClient implements Client by reading the store directly.
// This is used when the daemon is not running: recorded history stays
// readable, while everything that needs the live watch set fails with
// DAEMON_UNAVAILABLE.
type LocalClient struct {
	cfg *config.Config

	mu    sync.Mutex
	store store.Store
}

// NewLocalClient creates a new LocalClient. The store is opened on first use.
func NewLocalClient(cfg *config.Config) *LocalClient {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if cfg.Store == nil || cfg.Daemon == nil {
		cfg.SetDefaults()
	}
	return &LocalClient{cfg: cfg}
}

// Health returns an error for LocalClient since there is no daemon to report on.
func (c *LocalClient) Health(ctx context.Context) (*models.Health, error) {
	return nil, errors.DaemonUnavailable("health")
}

// WatchedFiles returns an error for LocalClient since the watch set lives in the daemon.
func (c *LocalClient) WatchedFiles(ctx context.Context) ([]string, error) {
	return nil, errors.DaemonUnavailable("listing watched files")
}

// SetWatched returns an error for LocalClient since nothing would watch the files.
func (c *LocalClient) SetWatched(ctx context.Context, paths []string) ([]string, error) {
	return nil, errors.DaemonUnavailable("watching files")
}

// History reads the recent changes of path straight from the store.
func (c *LocalClient) History(ctx context.Context, path string) ([]models.FileDiffResult, error) {
	if !filepath.IsAbs(path) {
		return nil, errors.Protocol("path must be absolute: " + path).WithDetail("path", path)
	}
	st, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	return capture.History(ctx, st, filepath.Clean(path), c.cfg.Daemon.HistoryLimit)
}

// RunningConfig returns an error for LocalClient since config is only available via daemon.
func (c *LocalClient) RunningConfig(ctx context.Context) (*models.RunningConfig, error) {
	return nil, errors.DaemonUnavailable("viewing the running config")
}

// StreamEvents returns an error for LocalClient since streaming is only available via daemon.
func (c *LocalClient) StreamEvents(ctx context.Context) (<-chan models.Event, error) {
	return nil, errors.DaemonUnavailable("streaming events")
}

// IsRunning always returns false for LocalClient.
func (c *LocalClient) IsRunning() bool {
	return false
}

// Close releases the store if it was opened.
func (c *LocalClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}

func (c *LocalClient) open(ctx context.Context) (store.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store != nil {
		return c.store, nil
	}
	st, err := store.Open(ctx, c.cfg.Store)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistenceFailed, "failed to open store")
	}
	c.store = st
	return st, nil
}

// Ensure LocalClient implements Client interface.
var _ Client = (*LocalClient)(nil)
