package store

import (
	"context"
	"fmt"

	"github.com/grovetools/trail/config"
)

// Open builds the Store described by cfg, wrapped in the snapshot cache.
func Open(ctx context.Context, cfg *config.StoreConfig) (Store, error) {
	var (
		inner Store
		err   error
	)

	switch cfg.Driver {
	case config.DriverMemory:
		inner = NewMemory()
	case config.DriverSQLite, "":
		inner, err = OpenSQL(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	cached, err := NewCached(inner, cfg.CacheSize)
	if err != nil {
		inner.Close()
		return nil, err
	}
	return cached, nil
}
