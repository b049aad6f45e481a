// Package capture turns file contents into snapshots and diffs.
package capture

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/grovetools/trail/errors"
	"github.com/grovetools/trail/internal/daemon/store"
	"github.com/grovetools/trail/pkg/models"
	"github.com/grovetools/trail/pkg/patch"
	"github.com/sirupsen/logrus"
)

// Pipeline records snapshots and computes diffs against them. It performs
// no locking; the engine calls it from a single goroutine.
type Pipeline struct {
	store  store.Store
	logger *logrus.Entry
	now    func() time.Time
}

// NewPipeline creates a Pipeline writing to st.
func NewPipeline(st store.Store, logger *logrus.Entry) *Pipeline {
	return &Pipeline{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// Snapshot records content as the latest snapshot of path, replacing any
// stale one. Used when a path starts being watched.
func (p *Pipeline) Snapshot(ctx context.Context, path string, content []byte) (int64, error) {
	id, err := p.store.PutSnapshot(ctx, path, content)
	if err != nil {
		return 0, errors.PersistenceFailed(path, "put_snapshot", err)
	}
	p.logger.WithFields(logrus.Fields{
		"path":        path,
		"snapshot_id": id,
		"bytes":       len(content),
	}).Debug("Snapshot stored")
	return id, nil
}

// Capture diffs content against the latest snapshot of path and stores the
// result. It fails with MissingSource when the path has no snapshot.
func (p *Pipeline) Capture(ctx context.Context, path string, content []byte, kind models.ChangeKind) (*models.FileDiff, error) {
	src, err := p.store.GetLatestSnapshot(ctx, path)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.MissingSource(path)
		}
		return nil, errors.PersistenceFailed(path, "get_latest_snapshot", err)
	}

	body, err := patch.Create(src.Content, content)
	if err != nil {
		return nil, errors.PatchFailed(path, err)
	}

	diff := models.FileDiff{
		SourceSnapshotID: src.ID,
		Path:             path,
		ChangeKind:       kind,
		Patch:            body,
		CreatedAt:        p.now().UnixMilli(),
	}
	id, err := p.store.PutDiff(ctx, diff)
	if err != nil {
		return nil, errors.PersistenceFailed(path, "put_diff", err)
	}
	diff.ID = id

	p.logger.WithFields(logrus.Fields{
		"path":        path,
		"diff_id":     id,
		"source_id":   src.ID,
		"kind":        kind,
		"patch_bytes": len(body),
	}).Debug("Diff captured")
	return &diff, nil
}
