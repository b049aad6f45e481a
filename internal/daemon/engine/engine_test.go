package engine

import (
	"context"
	stderrors "errors"
	"os"
	"testing"
	"time"

	"github.com/grovetools/trail/internal/daemon/bus"
	"github.com/grovetools/trail/internal/daemon/collector"
	"github.com/grovetools/trail/internal/daemon/store"
	"github.com/grovetools/trail/pkg/models"
	"github.com/grovetools/trail/pkg/patch"
	"github.com/grovetools/trail/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWatcher struct {
	watching map[string]bool
	watches  map[string]int
	unwatch  []string
	failOn   map[string]bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		watching: make(map[string]bool),
		watches:  make(map[string]int),
		failOn:   make(map[string]bool),
	}
}

func (w *fakeWatcher) Watch(path string) error {
	if w.failOn[path] {
		return stderrors.New("no such directory")
	}
	w.watches[path]++
	w.watching[path] = true
	return nil
}

func (w *fakeWatcher) Unwatch(path string) error {
	w.unwatch = append(w.unwatch, path)
	delete(w.watching, path)
	return nil
}

type harness struct {
	bus     *bus.Bus
	engine  *Engine
	watcher *fakeWatcher
	store   *store.MemoryStore
	emitter *testutil.RecordingEmitter
	files   map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		bus:     bus.New(),
		watcher: newFakeWatcher(),
		store:   store.NewMemory(),
		emitter: &testutil.RecordingEmitter{},
		files:   make(map[string]string),
	}
	h.engine = New(h.bus, h.watcher, h.store, h.emitter, testutil.Logger("engine"))
	h.engine.readFile = func(path string) ([]byte, error) {
		content, ok := h.files[path]
		if !ok {
			return nil, os.ErrNotExist
		}
		return []byte(content), nil
	}
	return h
}

// dispatch handles ev and then everything it re-emits, synchronously.
func (h *harness) dispatch(t *testing.T, ev bus.Event) {
	t.Helper()

	ctx := context.Background()
	h.engine.handle(ctx, ev)
	for h.bus.Len() > 0 {
		next, err := h.bus.Next(ctx)
		require.NoError(t, err)
		h.engine.handle(ctx, next)
	}
}

func (h *harness) query(t *testing.T, req bus.Request) bus.Response {
	t.Helper()

	reply := make(chan bus.Response, 1)
	req.Reply = reply
	h.dispatch(t, req)
	select {
	case resp := <-reply:
		return resp
	default:
		t.Fatal("no response delivered")
		return bus.Response{}
	}
}

func TestHelloWorldScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.files["/a.txt"] = "hello"

	h.dispatch(t, bus.WatchSetUpdated{Desired: []string{"/a.txt"}})

	snap, err := h.store.GetLatestSnapshot(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(snap.Content))
	assert.True(t, h.watcher.watching["/a.txt"])

	h.files["/a.txt"] = "hello world"
	h.dispatch(t, bus.RawFsChange{Paths: []string{"/a.txt"}, Kind: models.ChangeModified})

	diffs, err := h.store.ListRecentDiffs(ctx, "/a.txt", 5)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, snap.ID, diffs[0].SourceSnapshotID)
	assert.Equal(t, models.ChangeModified, diffs[0].ChangeKind)

	got, err := patch.Apply(snap.Content, diffs[0].Patch)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	resp := h.query(t, bus.Request{Kind: bus.RequestSelectFile, Path: "/a.txt"})
	assert.Equal(t, bus.ResponseSelectFile, resp.Kind)
	require.Len(t, resp.History, 1)
	assert.Equal(t, diffs[0].ID, resp.History[0].ID)
	assert.Contains(t, resp.History[0].Data, "+hello world")
}

func TestRemovalScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.files["/a"] = "a"
	h.files["/b"] = "b"

	h.dispatch(t, bus.WatchSetUpdated{Desired: []string{"/a", "/b"}})
	h.dispatch(t, bus.WatchSetUpdated{Desired: []string{"/b"}})

	assert.Equal(t, []string{"/a"}, h.watcher.unwatch)
	assert.False(t, h.watcher.watching["/a"])
	assert.True(t, h.watcher.watching["/b"])

	_, err := h.store.GetLatestSnapshot(ctx, "/a")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.store.GetLatestSnapshot(ctx, "/b")
	assert.NoError(t, err)

	last, ok := h.emitter.Last(models.EventUpdateWatched)
	require.True(t, ok)
	assert.Equal(t, []string{"/b"}, last.Payload)

	resp := h.query(t, bus.Request{Kind: bus.RequestWatchedFileList})
	assert.Equal(t, bus.ResponseWatchedFileList, resp.Kind)
	assert.Equal(t, []string{"/b"}, resp.Paths)
}

func TestRepeatedWatchSetConverges(t *testing.T) {
	h := newHarness(t)
	h.files["/a"] = "a"

	for i := 0; i < 3; i++ {
		h.dispatch(t, bus.WatchSetUpdated{Desired: []string{"/a", "/a"}})
	}

	assert.Equal(t, 1, h.watcher.watches["/a"])
	assert.Empty(t, h.watcher.unwatch)
	assert.Len(t, h.emitter.Named(models.EventUpdateWatched), 3)

	resp := h.query(t, bus.Request{Kind: bus.RequestWatchedFileList})
	assert.Equal(t, []string{"/a"}, resp.Paths)
}

func TestRemovalsQueuedBeforeAdditions(t *testing.T) {
	h := newHarness(t)
	h.files["/a"] = "a"
	h.dispatch(t, bus.WatchSetUpdated{Desired: []string{"/a"}})

	h.engine.handle(context.Background(), bus.WatchSetUpdated{Desired: []string{"/b", "/c"}})

	var queued []bus.Event
	for h.bus.Len() > 0 {
		ev, err := h.bus.Next(context.Background())
		require.NoError(t, err)
		queued = append(queued, ev)
	}
	assert.Equal(t, []bus.Event{
		bus.PathRemovedFromWatch{Path: "/a"},
		bus.PathAddedToWatch{Path: "/b"},
		bus.PathAddedToWatch{Path: "/c"},
	}, queued)
}

func TestAddUnreadableFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.dispatch(t, bus.WatchSetUpdated{Desired: []string{"/missing"}})

	assert.False(t, h.watcher.watching["/missing"])
	_, err := h.store.GetLatestSnapshot(ctx, "/missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The path stays in the watch set; a later change has nothing to diff against.
	resp := h.query(t, bus.Request{Kind: bus.RequestWatchedFileList})
	assert.Equal(t, []string{"/missing"}, resp.Paths)

	last, ok := h.emitter.Last(models.EventError)
	require.True(t, ok, "UI is told the path is not recorded")
	payload := last.Payload.(models.ErrorPayload)
	assert.Equal(t, "IO_ERROR", payload.Code)
	assert.Contains(t, payload.Message, "/missing")

	h.files["/missing"] = "now here"
	h.dispatch(t, bus.RawFsChange{Paths: []string{"/missing"}, Kind: models.ChangeModified})
	diffs, err := h.store.ListRecentDiffs(ctx, "/missing", 5)
	require.NoError(t, err)
	assert.Empty(t, diffs)

	// Sending the same list again retries the registration.
	h.dispatch(t, bus.WatchSetUpdated{Desired: []string{"/missing"}})
	assert.True(t, h.watcher.watching["/missing"])
	snap, err := h.store.GetLatestSnapshot(ctx, "/missing")
	require.NoError(t, err)
	assert.Equal(t, "now here", string(snap.Content))

	// Registered paths are not retried.
	h.dispatch(t, bus.WatchSetUpdated{Desired: []string{"/missing"}})
	assert.Equal(t, 2, h.watcher.watches["/missing"])
}

func TestAddWatchFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.files["/x"] = "x"
	h.watcher.failOn["/x"] = true

	h.dispatch(t, bus.WatchSetUpdated{Desired: []string{"/x"}})

	_, err := h.store.GetLatestSnapshot(ctx, "/x")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, h.emitter.Named(models.EventError), 1)

	// A removed path is forgotten and not retried.
	h.dispatch(t, bus.WatchSetUpdated{Desired: nil})
	delete(h.watcher.failOn, "/x")
	h.dispatch(t, bus.WatchSetUpdated{Desired: nil})
	assert.Zero(t, h.watcher.watches["/x"])
	assert.Empty(t, h.engine.unregistered)
}

func TestChangeFiltering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.files["/a"] = "one"
	h.files["/other"] = "other"
	h.dispatch(t, bus.WatchSetUpdated{Desired: []string{"/a"}})
	h.files["/a"] = "two"

	tests := []struct {
		name string
		ev   bus.RawFsChange
	}{
		{"unwatched path", bus.RawFsChange{Paths: []string{"/other"}, Kind: models.ChangeModified}},
		{"removed", bus.RawFsChange{Paths: []string{"/a"}, Kind: models.ChangeRemoved}},
		{"accessed", bus.RawFsChange{Paths: []string{"/a"}, Kind: models.ChangeAccessed}},
		{"other", bus.RawFsChange{Paths: []string{"/a"}, Kind: models.ChangeOther}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.dispatch(t, tt.ev)
			for _, p := range []string{"/a", "/other"} {
				diffs, err := h.store.ListRecentDiffs(ctx, p, 5)
				require.NoError(t, err)
				assert.Empty(t, diffs)
			}
		})
	}

	h.dispatch(t, bus.RawFsChange{Paths: []string{"/a"}, Kind: models.ChangeCreated})
	diffs, err := h.store.ListRecentDiffs(ctx, "/a", 5)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, models.ChangeCreated, diffs[0].ChangeKind)
}

func TestHistoryLimit(t *testing.T) {
	h := newHarness(t)
	h.engine.SetHistoryLimit(2)
	h.files["/a"] = "v0"
	h.dispatch(t, bus.WatchSetUpdated{Desired: []string{"/a"}})

	for _, v := range []string{"v1", "v2", "v3"} {
		h.files["/a"] = v
		h.dispatch(t, bus.RawFsChange{Paths: []string{"/a"}, Kind: models.ChangeModified})
	}

	resp := h.query(t, bus.Request{Kind: bus.RequestSelectFile, Path: "/a"})
	require.Equal(t, bus.ResponseSelectFile, resp.Kind)
	require.Len(t, resp.History, 2)
	assert.Greater(t, resp.History[0].ID, resp.History[1].ID)
}

func TestLateResponseIsDropped(t *testing.T) {
	h := newHarness(t)
	reply := make(chan bus.Response, 1)
	reply <- bus.Response{Kind: bus.ResponseError, Err: bus.ErrTimeout}

	// A full reply channel must not block the consumer.
	h.dispatch(t, bus.Request{Kind: bus.RequestWatchedFileList, Reply: reply})

	resp := <-reply
	assert.Equal(t, bus.ErrTimeout, resp.Err)
}

func TestUnknownEventIgnored(t *testing.T) {
	h := newHarness(t)
	assert.NotPanics(t, func() {
		h.engine.handle(context.Background(), nil)
	})
	assert.NotPanics(t, func() {
		h.engine.handle(context.Background(), bus.Response{Kind: bus.ResponseWatchedFileList})
	})
}

func TestRunStopsWhenBusClosed(t *testing.T) {
	h := newHarness(t)
	h.files["/a"] = "a"

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(context.Background()) }()

	require.NoError(t, h.bus.Send(bus.WatchSetUpdated{Desired: []string{"/a"}}))
	reply := make(chan bus.Response, 1)
	require.NoError(t, h.bus.Send(bus.Request{Kind: bus.RequestWatchedFileList, Reply: reply}))

	select {
	case resp := <-reply:
		assert.Equal(t, []string{"/a"}, resp.Paths)
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}

	h.bus.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestStartRunsCollectors(t *testing.T) {
	h := newHarness(t)
	h.files["/seed"] = "seed"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{})
	h.engine.Register(collector.Func("seed", func(ctx context.Context) error {
		defer close(ran)
		return h.bus.Send(bus.WatchSetUpdated{Desired: []string{"/seed"}})
	}))

	stopped := make(chan struct{})
	go func() {
		h.engine.Start(ctx)
		close(stopped)
	}()

	<-ran
	testutil.WaitFor(t, 2*time.Second, func() bool {
		return len(h.emitter.Named(models.EventUpdateWatched)) == 1
	}, "watch set update")

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
}
