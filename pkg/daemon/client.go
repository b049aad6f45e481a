// Package daemon provides a client interface for interacting with the trail
// daemon (traild). It implements a transparent fallback pattern: if the
// daemon is running, use its API; if not, read the store directly.
package daemon

import (
	"context"

	"github.com/grovetools/trail/pkg/models"
)

// Client defines the interface for interacting with the trail daemon.
// Both RemoteClient (API) and LocalClient (direct store access) implement
// this interface.
type Client interface {
	// Health reports the daemon's status.
	Health(ctx context.Context) (*models.Health, error)

	// WatchedFiles returns the paths currently being watched, sorted.
	WatchedFiles(ctx context.Context) ([]string, error)

	// SetWatched replaces the watch set and returns the effective set after
	// ignore patterns were applied.
	SetWatched(ctx context.Context, paths []string) ([]string, error)

	// History returns the most recent changes to path, newest first.
	History(ctx context.Context, path string) ([]models.FileDiffResult, error)

	// RunningConfig returns the settings the daemon was started with.
	RunningConfig(ctx context.Context) (*models.RunningConfig, error)

	// StreamEvents subscribes to the events the daemon emits.
	// The channel is closed when ctx is cancelled or the connection is lost.
	// For LocalClient, this returns an error since streaming is only
	// available via daemon.
	StreamEvents(ctx context.Context) (<-chan models.Event, error)

	// IsRunning returns true if the daemon is available and responding.
	IsRunning() bool

	// Close cleans up any resources used by the client.
	Close() error
}
