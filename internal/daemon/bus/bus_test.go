package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFO(t *testing.T) {
	b := New()
	for i := 0; i < 100; i++ {
		require.NoError(t, b.Send(PathAddedToWatch{Path: string(rune('a' + i%26))}))
	}
	assert.Equal(t, 100, b.Len())

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		ev, err := b.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, PathAddedToWatch{Path: string(rune('a' + i%26))}, ev)
	}
	assert.Zero(t, b.Len())
}

func TestNextBlocksUntilSend(t *testing.T) {
	b := New()
	got := make(chan Event, 1)
	go func() {
		ev, err := b.Next(context.Background())
		if err == nil {
			got <- ev
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before any Send")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, b.Send(WatchSetUpdated{Desired: []string{"/a"}}))
	select {
	case ev := <-got:
		assert.Equal(t, WatchSetUpdated{Desired: []string{"/a"}}, ev)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up")
	}
}

func TestConsumerCanReEmit(t *testing.T) {
	b := New()
	ctx := context.Background()
	require.NoError(t, b.Send(WatchSetUpdated{Desired: []string{"/a", "/b"}}))

	// A consumer that fans one event into many must never block on itself.
	ev, err := b.Next(ctx)
	require.NoError(t, err)
	for _, p := range ev.(WatchSetUpdated).Desired {
		for i := 0; i < 1000; i++ {
			require.NoError(t, b.Send(PathAddedToWatch{Path: p}))
		}
	}
	assert.Equal(t, 2000, b.Len())
}

func TestCloseDrainsThenErrors(t *testing.T) {
	b := New()
	require.NoError(t, b.Send(PathRemovedFromWatch{Path: "/a"}))
	b.Close()

	assert.ErrorIs(t, b.Send(PathRemovedFromWatch{Path: "/b"}), ErrClosed)

	ev, err := b.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PathRemovedFromWatch{Path: "/a"}, ev)

	_, err = b.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseWakesBlockedConsumer(t *testing.T) {
	b := New()
	done := make(chan error, 1)
	go func() {
		_, err := b.Next(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake Next")
	}
}

func TestNextHonoursContext(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentProducers(t *testing.T) {
	b := New()
	const producers, perProducer = 8, 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = b.Send(RawFsChange{Paths: []string{"/x"}})
			}
		}()
	}
	wg.Wait()

	ctx := context.Background()
	for i := 0; i < producers*perProducer; i++ {
		_, err := b.Next(ctx)
		require.NoError(t, err)
	}
	assert.Zero(t, b.Len())
}
