package fswatch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/grovetools/trail/internal/daemon/bus"
	"github.com/grovetools/trail/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSender chan bus.Event

func (c chanSender) Send(ev bus.Event) error {
	c <- ev
	return nil
}

func newSource(t *testing.T, debounce time.Duration) (*Source, chanSender) {
	t.Helper()
	out := make(chanSender, 64)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := New(out, debounce, logger.WithField("component", "fswatch"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		s.Close()
		<-done
	})
	return s, out
}

func nextChange(t *testing.T, out chanSender, path string) bus.RawFsChange {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-out:
			change := ev.(bus.RawFsChange)
			for _, p := range change.Paths {
				if p == path {
					return change
				}
			}
		case <-deadline:
			t.Fatalf("no event for %s", path)
		}
	}
}

func TestWatchEmitsModified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	s, out := newSource(t, 0)
	require.NoError(t, s.Watch(path))
	require.NoError(t, s.Watch(path), "Watch is idempotent")

	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))
	change := nextChange(t, out, path)
	assert.Equal(t, models.ChangeModified, change.Kind)
	assert.Equal(t, []string{path}, change.Paths)
}

func TestSiblingFilesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "watched.txt")
	other := filepath.Join(dir, "other.txt")
	require.NoError(t, os.WriteFile(watched, []byte("w"), 0644))

	s, out := newSource(t, 0)
	require.NoError(t, s.Watch(watched))

	require.NoError(t, os.WriteFile(other, []byte("noise"), 0644))
	require.NoError(t, os.WriteFile(watched, []byte("signal"), 0644))

	change := nextChange(t, out, watched)
	assert.NotContains(t, change.Paths, other)
	for len(out) > 0 {
		ev := <-out
		assert.NotContains(t, ev.(bus.RawFsChange).Paths, other)
	}
}

func TestDirectoryRefcount(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0644))

	s, out := newSource(t, 0)
	require.NoError(t, s.Watch(a))
	require.NoError(t, s.Watch(b))
	require.NoError(t, s.Unwatch(a))
	assert.False(t, s.Watching(a))
	assert.True(t, s.Watching(b))

	// b is still observed through the shared directory watch.
	require.NoError(t, os.WriteFile(b, []byte("b2"), 0644))
	nextChange(t, out, b)

	require.NoError(t, s.Unwatch(b))
	require.NoError(t, s.Unwatch(b), "Unwatch of an unknown path is a no-op")
	assert.Empty(t, s.dirs)
}

func TestUnwatchAfterDirectoryRemoved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))

	s, _ := newSource(t, 0)
	require.NoError(t, s.Watch(path))
	require.NoError(t, os.RemoveAll(dir))
	time.Sleep(50 * time.Millisecond)

	assert.NoError(t, s.Unwatch(path))
}

func TestWatchRestoresDroppedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, os.MkdirAll(dir, 0755))
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0644))

	tests := []struct {
		name  string
		watch string
	}{
		{name: "same file again", watch: a},
		{name: "sibling file", watch: b},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, out := newSource(t, 0)
			require.NoError(t, s.Watch(a))

			require.NoError(t, os.RemoveAll(dir))
			assert.Eventually(t, func() bool {
				return !slices.Contains(s.watcher.WatchList(), dir)
			}, 3*time.Second, 10*time.Millisecond, "OS watch dropped with the directory")

			require.NoError(t, os.MkdirAll(dir, 0755))
			require.NoError(t, os.WriteFile(a, []byte("a"), 0644))
			require.NoError(t, os.WriteFile(b, []byte("b"), 0644))
			require.NoError(t, s.Watch(tt.watch))
			assert.Contains(t, s.watcher.WatchList(), dir)

			// Drop notifications left over from the removal.
			time.Sleep(50 * time.Millisecond)
			for len(out) > 0 {
				<-out
			}

			require.NoError(t, os.WriteFile(a, []byte("a2"), 0644))
			assert.Equal(t, models.ChangeModified, nextChange(t, out, a).Kind)
		})
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	s, _ := newSource(t, 0)
	err := s.Watch(filepath.Join(t.TempDir(), "missing", "a.txt"))
	assert.Error(t, err)
	assert.False(t, s.Watching(filepath.Join(t.TempDir(), "missing", "a.txt")))
}

func TestDebounceCoalesces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("0"), 0644))

	s, out := newSource(t, 150*time.Millisecond)
	require.NoError(t, s.Watch(path))

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('1' + i)}, 0644))
	}

	change := nextChange(t, out, path)
	assert.Equal(t, models.ChangeModified, change.Kind)

	select {
	case ev := <-out:
		t.Fatalf("expected a single coalesced event, got another: %#v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want models.ChangeKind
	}{
		{fsnotify.Create, models.ChangeCreated},
		{fsnotify.Write, models.ChangeModified},
		{fsnotify.Create | fsnotify.Write, models.ChangeCreated},
		{fsnotify.Remove, models.ChangeRemoved},
		{fsnotify.Rename, models.ChangeRemoved},
		{fsnotify.Chmod, models.ChangeOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.op), tt.op.String())
	}
}

func TestMergeKind(t *testing.T) {
	tests := []struct {
		prev, next, want models.ChangeKind
	}{
		{"", models.ChangeModified, models.ChangeModified},
		{models.ChangeCreated, models.ChangeModified, models.ChangeCreated},
		{models.ChangeModified, models.ChangeRemoved, models.ChangeRemoved},
		{models.ChangeRemoved, models.ChangeCreated, models.ChangeModified},
		{models.ChangeModified, models.ChangeOther, models.ChangeModified},
		{models.ChangeOther, models.ChangeModified, models.ChangeModified},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mergeKind(tt.prev, tt.next), "%s + %s", tt.prev, tt.next)
	}
}
