package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/grovetools/trail/pkg/models"
)

// MemoryStore is an in-memory Store. It is thread-safe; contents are lost
// when the process exits.
type MemoryStore struct {
	mu             sync.RWMutex
	snapshots      map[int64]*models.FileSnapshot
	diffs          map[int64]models.FileDiff
	nextSnapshotID int64
	nextDiffID     int64
	now            func() time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[int64]*models.FileSnapshot),
		diffs:     make(map[int64]models.FileDiff),
		now:       time.Now,
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneSnapshot(s *models.FileSnapshot) *models.FileSnapshot {
	c := *s
	c.Content = cloneBytes(s.Content)
	return &c
}

// PutSnapshot implements Store.
func (m *MemoryStore) PutSnapshot(_ context.Context, path string, content []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	referenced := make(map[int64]struct{})
	for _, d := range m.diffs {
		if d.Path == path {
			referenced[d.SourceSnapshotID] = struct{}{}
		}
	}
	for id, s := range m.snapshots {
		if s.Path != path {
			continue
		}
		if _, ok := referenced[id]; !ok {
			delete(m.snapshots, id)
		}
	}

	m.nextSnapshotID++
	m.snapshots[m.nextSnapshotID] = &models.FileSnapshot{
		ID:         m.nextSnapshotID,
		Path:       path,
		Content:    cloneBytes(content),
		CapturedAt: m.now().UTC(),
	}
	return m.nextSnapshotID, nil
}

// GetLatestSnapshot implements Store.
func (m *MemoryStore) GetLatestSnapshot(_ context.Context, path string) (*models.FileSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.FileSnapshot
	for _, s := range m.snapshots {
		if s.Path == path && (latest == nil || s.ID > latest.ID) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneSnapshot(latest), nil
}

// GetSnapshot implements Store.
func (m *MemoryStore) GetSnapshot(_ context.Context, id int64) (*models.FileSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSnapshot(s), nil
}

// PutDiff implements Store.
func (m *MemoryStore) PutDiff(_ context.Context, diff models.FileDiff) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.snapshots[diff.SourceSnapshotID]; !ok {
		// Mirrors the foreign key on the SQL store.
		return 0, ErrNotFound
	}

	m.nextDiffID++
	diff.ID = m.nextDiffID
	diff.Patch = cloneBytes(diff.Patch)
	m.diffs[diff.ID] = diff
	return diff.ID, nil
}

// ListRecentDiffs implements Store.
func (m *MemoryStore) ListRecentDiffs(_ context.Context, path string, limit int) ([]models.FileDiff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.FileDiff, 0)
	for _, d := range m.diffs {
		if d.Path == path {
			d.Patch = cloneBytes(d.Patch)
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].ID > result[j].ID
	})

	if n := normalizeLimit(limit); len(result) > n {
		result = result[:n]
	}
	return result, nil
}

// DeleteAllForPath implements Store.
func (m *MemoryStore) DeleteAllForPath(_ context.Context, path string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var diffsDeleted, snapshotsDeleted int64
	for id, d := range m.diffs {
		if d.Path == path {
			delete(m.diffs, id)
			diffsDeleted++
		}
	}
	for id, s := range m.snapshots {
		if s.Path == path {
			delete(m.snapshots, id)
			snapshotsDeleted++
		}
	}
	return diffsDeleted, snapshotsDeleted, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
