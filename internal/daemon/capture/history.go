package capture

import (
	"context"
	stderrors "errors"

	"github.com/grovetools/trail/errors"
	"github.com/grovetools/trail/internal/daemon/store"
	"github.com/grovetools/trail/pkg/models"
	"github.com/grovetools/trail/pkg/patch"
)

// History returns up to limit of the most recent changes to path, newest
// first, each with a text preview reconstructed from its source snapshot.
// Entries whose source is gone or whose patch does not apply carry Error
// instead of Data.
func History(ctx context.Context, st store.Store, path string, limit int) ([]models.FileDiffResult, error) {
	diffs, err := st.ListRecentDiffs(ctx, path, limit)
	if err != nil {
		return nil, errors.PersistenceFailed(path, "list_recent_diffs", err)
	}

	sources := make(map[int64][]byte)
	results := make([]models.FileDiffResult, 0, len(diffs))
	for _, d := range diffs {
		r := models.FileDiffResult{
			ID:               d.ID,
			SourceSnapshotID: d.SourceSnapshotID,
			ChangeEvent:      d.ChangeKind,
			Path:             d.Path,
			FilePath:         models.PathSegments(d.Path),
			PatchSize:        len(d.Patch),
			Timestamp:        d.CreatedAt,
		}

		src, ok := sources[d.SourceSnapshotID]
		if !ok {
			snap, err := st.GetSnapshot(ctx, d.SourceSnapshotID)
			switch {
			case stderrors.Is(err, store.ErrNotFound):
				r.Error = errors.MissingSource(d.Path).Message
				results = append(results, r)
				continue
			case err != nil:
				return nil, errors.PersistenceFailed(path, "get_snapshot", err)
			}
			src = snap.Content
			sources[d.SourceSnapshotID] = src
		}

		content, err := patch.Apply(src, d.Patch)
		if err != nil {
			r.Error = errors.PatchFailed(d.Path, err).Error()
			results = append(results, r)
			continue
		}

		if preview, ok := patch.Render(d.Path, src, content); ok {
			r.Data = preview
		} else {
			r.Binary = true
		}
		results = append(results, r)
	}
	return results, nil
}
