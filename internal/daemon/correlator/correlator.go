// Package correlator turns bus requests into bounded, synchronous queries.
package correlator

import (
	"context"
	"time"

	"github.com/grovetools/trail/config"
	"github.com/grovetools/trail/internal/daemon/bus"
	"github.com/sirupsen/logrus"
)

// Correlator sends a Request onto the bus and waits a bounded time for the
// engine's answer on a channel private to that request.
type Correlator struct {
	bus     bus.Sender
	timeout time.Duration
	slots   chan struct{}
	logger  *logrus.Entry
}

// New creates a Correlator. At most capacity queries are outstanding at
// once; further callers wait for a free slot.
func New(b bus.Sender, timeout time.Duration, capacity int, logger *logrus.Entry) *Correlator {
	if timeout <= 0 {
		timeout = config.DefaultRequestTimeout
	}
	if capacity <= 0 {
		capacity = config.DefaultRequestCapacity
	}
	return &Correlator{
		bus:     b,
		timeout: timeout,
		slots:   make(chan struct{}, capacity),
		logger:  logger,
	}
}

// Query sends req and returns exactly one Response: the engine's answer, or
// an error Response carrying bus.ErrTimeout when none arrives in time.
func (c *Correlator) Query(ctx context.Context, req bus.Request) bus.Response {
	logger := c.logger.WithField("request", req.Kind)

	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return errorResponse(ctx.Err().Error())
	}
	defer func() { <-c.slots }()

	// Buffered so a late answer never blocks the engine.
	reply := make(chan bus.Response, 1)
	req.Reply = reply
	if err := c.bus.Send(req); err != nil {
		logger.WithError(err).Warn("Failed to send request")
		return errorResponse(err.Error())
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-reply:
		resp.Reply = nil
		return resp
	case <-timer.C:
		logger.WithField("timeout", c.timeout).Warn("Request timed out")
		return errorResponse(bus.ErrTimeout)
	case <-ctx.Done():
		return errorResponse(ctx.Err().Error())
	}
}

// InFlight returns the number of queries currently holding a slot.
func (c *Correlator) InFlight() int {
	return len(c.slots)
}

// Timeout returns the per-query deadline.
func (c *Correlator) Timeout() time.Duration {
	return c.timeout
}

func errorResponse(msg string) bus.Response {
	return bus.Response{Kind: bus.ResponseError, Err: msg}
}
