// Package collector provides the background producers that feed the daemon's bus.
package collector

import (
	"context"
)

// Collector is a background worker that produces events for the engine.
type Collector interface {
	// Name returns the collector's name for logging.
	Name() string

	// Run starts the collector. It should block until context is canceled,
	// or return early once its work is done.
	Run(ctx context.Context) error
}

type funcCollector struct {
	name string
	run  func(ctx context.Context) error
}

// Func adapts a plain function into a Collector.
func Func(name string, run func(ctx context.Context) error) Collector {
	return &funcCollector{name: name, run: run}
}

func (c *funcCollector) Name() string { return c.name }

func (c *funcCollector) Run(ctx context.Context) error { return c.run(ctx) }
