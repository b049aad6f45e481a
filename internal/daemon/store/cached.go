package store

import (
	"context"

	"github.com/grovetools/trail/pkg/models"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached wraps a Store with an LRU of snapshots, keyed both by path (latest)
// and by id. Every write through Cached keeps the cache coherent; writes that
// bypass it are not seen.
type Cached struct {
	Store
	latest *lru.Cache[string, *models.FileSnapshot]
	byID   *lru.Cache[int64, *models.FileSnapshot]
}

// NewCached wraps inner with caches holding up to size entries each. A size
// of zero or less returns inner unchanged.
func NewCached(inner Store, size int) (Store, error) {
	if size <= 0 {
		return inner, nil
	}
	latest, err := lru.New[string, *models.FileSnapshot](size)
	if err != nil {
		return nil, err
	}
	byID, err := lru.New[int64, *models.FileSnapshot](size)
	if err != nil {
		return nil, err
	}
	return &Cached{Store: inner, latest: latest, byID: byID}, nil
}

// PutSnapshot implements Store.
func (c *Cached) PutSnapshot(ctx context.Context, path string, content []byte) (int64, error) {
	c.latest.Remove(path)
	id, err := c.Store.PutSnapshot(ctx, path, content)
	if err != nil {
		return 0, err
	}
	// The inner store may have pruned older snapshots of this path.
	c.purgeIDs(path)
	return id, nil
}

// GetLatestSnapshot implements Store.
func (c *Cached) GetLatestSnapshot(ctx context.Context, path string) (*models.FileSnapshot, error) {
	if s, ok := c.latest.Get(path); ok {
		return cloneSnapshot(s), nil
	}
	s, err := c.Store.GetLatestSnapshot(ctx, path)
	if err != nil {
		return nil, err
	}
	c.latest.Add(path, cloneSnapshot(s))
	c.byID.Add(s.ID, cloneSnapshot(s))
	return s, nil
}

// GetSnapshot implements Store.
func (c *Cached) GetSnapshot(ctx context.Context, id int64) (*models.FileSnapshot, error) {
	if s, ok := c.byID.Get(id); ok {
		return cloneSnapshot(s), nil
	}
	s, err := c.Store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	c.byID.Add(id, cloneSnapshot(s))
	return s, nil
}

// DeleteAllForPath implements Store.
func (c *Cached) DeleteAllForPath(ctx context.Context, path string) (int64, int64, error) {
	c.latest.Remove(path)
	c.purgeIDs(path)
	return c.Store.DeleteAllForPath(ctx, path)
}

func (c *Cached) purgeIDs(path string) {
	for _, id := range c.byID.Keys() {
		if s, ok := c.byID.Peek(id); ok && s.Path == path {
			c.byID.Remove(id)
		}
	}
}
