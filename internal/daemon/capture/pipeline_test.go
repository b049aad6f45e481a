package capture

import (
	"context"
	stderrors "errors"
	"io"
	"testing"
	"time"

	"github.com/grovetools/trail/errors"
	"github.com/grovetools/trail/internal/daemon/store"
	"github.com/grovetools/trail/pkg/models"
	"github.com/grovetools/trail/pkg/patch"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "capture")
}

// flakyStore fails selected operations.
type flakyStore struct {
	*store.MemoryStore
	failGet     bool
	failPutDiff bool
	failPutSnap bool
	failList    bool
}

var errDisk = stderrors.New("disk on fire")

func (f *flakyStore) GetLatestSnapshot(ctx context.Context, path string) (*models.FileSnapshot, error) {
	if f.failGet {
		return nil, errDisk
	}
	return f.MemoryStore.GetLatestSnapshot(ctx, path)
}

func (f *flakyStore) PutDiff(ctx context.Context, d models.FileDiff) (int64, error) {
	if f.failPutDiff {
		return 0, errDisk
	}
	return f.MemoryStore.PutDiff(ctx, d)
}

func (f *flakyStore) PutSnapshot(ctx context.Context, path string, content []byte) (int64, error) {
	if f.failPutSnap {
		return 0, errDisk
	}
	return f.MemoryStore.PutSnapshot(ctx, path, content)
}

func (f *flakyStore) ListRecentDiffs(ctx context.Context, path string, limit int) ([]models.FileDiff, error) {
	if f.failList {
		return nil, errDisk
	}
	return f.MemoryStore.ListRecentDiffs(ctx, path, limit)
}

func TestCaptureRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p := NewPipeline(st, testLogger())
	p.now = func() time.Time { return time.UnixMilli(1_700_000_000_123) }

	snapID, err := p.Snapshot(ctx, "/a.txt", []byte("hello"))
	require.NoError(t, err)

	snap, err := st.GetLatestSnapshot(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), snap.Content)

	diff, err := p.Capture(ctx, "/a.txt", []byte("hello world"), models.ChangeModified)
	require.NoError(t, err)
	assert.NotZero(t, diff.ID)
	assert.Equal(t, snapID, diff.SourceSnapshotID)
	assert.Equal(t, models.ChangeModified, diff.ChangeKind)
	assert.Equal(t, int64(1_700_000_000_123), diff.CreatedAt)

	diffs, err := st.ListRecentDiffs(ctx, "/a.txt", 5)
	require.NoError(t, err)
	require.Len(t, diffs, 1)

	src, err := st.GetSnapshot(ctx, diffs[0].SourceSnapshotID)
	require.NoError(t, err)
	rebuilt, err := patch.Apply(src.Content, diffs[0].Patch)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), rebuilt)
}

func TestCaptureWithoutSnapshot(t *testing.T) {
	p := NewPipeline(store.NewMemory(), testLogger())

	_, err := p.Capture(context.Background(), "/never-added", []byte("x"), models.ChangeModified)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeMissingSource))
}

func TestSnapshotReplacesStale(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p := NewPipeline(st, testLogger())

	_, err := p.Snapshot(ctx, "/a.txt", []byte("stale"))
	require.NoError(t, err)
	fresh, err := p.Snapshot(ctx, "/a.txt", []byte("fresh"))
	require.NoError(t, err)

	latest, err := st.GetLatestSnapshot(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, fresh, latest.ID)
	assert.Equal(t, []byte("fresh"), latest.Content)
}

func TestPersistenceFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(f *flakyStore)
		run   func(p *Pipeline) error
		op    string
	}{
		{
			name:  "snapshot write",
			setup: func(f *flakyStore) { f.failPutSnap = true },
			run: func(p *Pipeline) error {
				_, err := p.Snapshot(ctx, "/a.txt", []byte("a"))
				return err
			},
			op: "put_snapshot",
		},
		{
			name:  "snapshot read",
			setup: func(f *flakyStore) { f.failGet = true },
			run: func(p *Pipeline) error {
				_, err := p.Capture(ctx, "/a.txt", []byte("b"), models.ChangeModified)
				return err
			},
			op: "get_latest_snapshot",
		},
		{
			name:  "diff write",
			setup: func(f *flakyStore) { f.failPutDiff = true },
			run: func(p *Pipeline) error {
				_, err := p.Capture(ctx, "/a.txt", []byte("b"), models.ChangeModified)
				return err
			},
			op: "put_diff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &flakyStore{MemoryStore: store.NewMemory()}
			_, err := f.MemoryStore.PutSnapshot(ctx, "/a.txt", []byte("a"))
			require.NoError(t, err)
			tt.setup(f)

			err = tt.run(NewPipeline(f, testLogger()))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodePersistenceFailed))
			assert.ErrorIs(t, err, errDisk)

			var te *errors.TrailError
			require.True(t, stderrors.As(err, &te))
			assert.Equal(t, tt.op, te.Details["op"])
		})
	}
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p := NewPipeline(st, testLogger())

	clock := int64(1000)
	p.now = func() time.Time { clock += 10; return time.UnixMilli(clock) }

	_, err := p.Snapshot(ctx, "/notes/a.txt", []byte("hello\n"))
	require.NoError(t, err)
	for _, content := range []string{"hello world\n", "hello there\n", "bye\n"} {
		_, err := p.Capture(ctx, "/notes/a.txt", []byte(content), models.ChangeModified)
		require.NoError(t, err)
	}

	results, err := History(ctx, st, "/notes/a.txt", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	newest := results[0]
	assert.Equal(t, []string{"notes", "a.txt"}, newest.FilePath)
	assert.Equal(t, "/notes/a.txt", newest.Path)
	assert.Equal(t, models.ChangeModified, newest.ChangeEvent)
	assert.Contains(t, newest.Data, "+bye")
	assert.Contains(t, newest.Data, "-hello")
	assert.False(t, newest.Binary)
	assert.Empty(t, newest.Error)
	assert.Greater(t, newest.Timestamp, results[1].Timestamp)
	assert.Contains(t, results[1].Data, "+hello there")
}

func TestHistoryBinary(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p := NewPipeline(st, testLogger())

	_, err := p.Snapshot(ctx, "/img.bin", []byte{0x00, 0x01, 0x02})
	require.NoError(t, err)
	_, err = p.Capture(ctx, "/img.bin", []byte{0x00, 0x01, 0x03}, models.ChangeModified)
	require.NoError(t, err)

	results, err := History(ctx, st, "/img.bin", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Binary)
	assert.Empty(t, results[0].Data)
	assert.NotZero(t, results[0].PatchSize)
}

func TestHistoryListFailure(t *testing.T) {
	f := &flakyStore{MemoryStore: store.NewMemory(), failList: true}
	_, err := History(context.Background(), f, "/a.txt", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodePersistenceFailed))
}
