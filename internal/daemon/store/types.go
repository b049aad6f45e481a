// Package store persists file snapshots and the diffs captured against them.
package store

import (
	"context"
	"errors"

	"github.com/grovetools/trail/pkg/models"
)

// ErrNotFound is returned when a snapshot lookup has no result.
var ErrNotFound = errors.New("store: not found")

// DefaultHistoryLimit is used by ListRecentDiffs when limit <= 0.
const DefaultHistoryLimit = 5

// Store is durable keyed storage for snapshots and diffs. Implementations
// are safe for concurrent use; callers serialize per-path read-then-write
// sequences themselves.
type Store interface {
	// PutSnapshot records content as the latest snapshot for path and
	// returns its id. Earlier snapshots of the path that no diff references
	// are discarded.
	PutSnapshot(ctx context.Context, path string, content []byte) (int64, error)

	// GetLatestSnapshot returns the most recent snapshot for path, or
	// ErrNotFound.
	GetLatestSnapshot(ctx context.Context, path string) (*models.FileSnapshot, error)

	// GetSnapshot returns the snapshot with the given id, or ErrNotFound.
	GetSnapshot(ctx context.Context, id int64) (*models.FileSnapshot, error)

	// PutDiff appends a diff and returns its id. diff.ID is ignored.
	PutDiff(ctx context.Context, diff models.FileDiff) (int64, error)

	// ListRecentDiffs returns up to limit diffs for path, newest first.
	ListRecentDiffs(ctx context.Context, path string, limit int) ([]models.FileDiff, error)

	// DeleteAllForPath removes every diff and snapshot for path in one
	// transaction.
	DeleteAllForPath(ctx context.Context, path string) (diffsDeleted, snapshotsDeleted int64, err error)

	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
