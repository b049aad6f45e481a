package daemon

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/grovetools/trail/config"
	"github.com/grovetools/trail/errors"
	"github.com/grovetools/trail/internal/daemon/capture"
	"github.com/grovetools/trail/internal/daemon/store"
	"github.com/grovetools/trail/pkg/models"
	"github.com/grovetools/trail/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	home := testutil.IsolateHome(t)
	cfg := &config.Config{
		Store: &config.StoreConfig{Driver: config.DriverSQLite, Path: filepath.Join(home, "trail.db")},
	}
	cfg.SetDefaults()
	return cfg
}

func TestLocalHistoryReadsStore(t *testing.T) {
	cfg := sqliteConfig(t)
	ctx := context.Background()
	path := "/projects/app/main.go"

	// Record history the way a previous daemon run would have.
	st, err := store.Open(ctx, cfg.Store)
	require.NoError(t, err)
	p := capture.NewPipeline(st, testutil.Logger("capture"))
	_, err = p.Snapshot(ctx, path, []byte("package main\n"))
	require.NoError(t, err)
	_, err = p.Capture(ctx, path, []byte("package main\n\nfunc main() {}\n"), models.ChangeModified)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	c := NewLocalClient(cfg)
	defer c.Close()

	assert.False(t, c.IsRunning())
	history, err := c.History(ctx, path)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ChangeModified, history[0].ChangeEvent)
	assert.Contains(t, history[0].Data, "+func main() {}")

	empty, err := c.History(ctx, "/projects/app/other.go")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLocalHistoryRejectsRelativePath(t *testing.T) {
	c := NewLocalClient(sqliteConfig(t))
	defer c.Close()

	_, err := c.History(context.Background(), "main.go")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeProtocol))
}

func TestLocalDaemonOnlyOperations(t *testing.T) {
	c := NewLocalClient(nil)
	defer c.Close()
	ctx := context.Background()

	ops := map[string]func() error{
		"health": func() error { _, err := c.Health(ctx); return err },
		"watched": func() error { _, err := c.WatchedFiles(ctx); return err },
		"set watched": func() error {
			_, err := c.SetWatched(ctx, []string{"/a"})
			return err
		},
		"running config": func() error { _, err := c.RunningConfig(ctx); return err },
		"stream":         func() error { _, err := c.StreamEvents(ctx); return err },
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeDaemonUnavailable), "got %v", err)
		})
	}
}

func TestNewFallsBackToLocal(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Daemon.Socket = filepath.Join(t.TempDir(), "missing.sock")

	c := New(cfg)
	defer c.Close()
	_, ok := c.(*LocalClient)
	assert.True(t, ok, "expected LocalClient, got %T", c)
}

func TestNewUsesRunningDaemon(t *testing.T) {
	d := startDaemon(t)
	cfg := &config.Config{Daemon: &config.DaemonConfig{Socket: d.socket}}

	c := New(cfg)
	defer c.Close()
	_, ok := c.(*RemoteClient)
	assert.True(t, ok, "expected RemoteClient, got %T", c)
	assert.True(t, c.IsRunning())
}
