package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sort"
	"syscall"
	"time"

	"github.com/grovetools/trail/cli"
	"github.com/grovetools/trail/config"
	"github.com/grovetools/trail/internal/daemon/bus"
	"github.com/grovetools/trail/internal/daemon/collector"
	"github.com/grovetools/trail/internal/daemon/correlator"
	"github.com/grovetools/trail/internal/daemon/engine"
	"github.com/grovetools/trail/internal/daemon/fswatch"
	"github.com/grovetools/trail/internal/daemon/hub"
	"github.com/grovetools/trail/internal/daemon/intake"
	"github.com/grovetools/trail/internal/daemon/pidfile"
	"github.com/grovetools/trail/internal/daemon/server"
	"github.com/grovetools/trail/internal/daemon/store"
	"github.com/grovetools/trail/logging"
	"github.com/grovetools/trail/pkg/daemon"
	"github.com/grovetools/trail/pkg/models"
	"github.com/grovetools/trail/pkg/paths"
	"github.com/grovetools/trail/pkg/process"
	"github.com/grovetools/trail/pkg/profiling"
	"github.com/grovetools/trail/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

// NewDaemonCmd returns the daemon command with subcommands.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the trail capture daemon",
		Long:  "The daemon watches files, records every change and serves the history over a unix socket.",
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Long:  "Start the trail daemon in foreground mode. It stops on SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			layered, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runDaemon(ctx, daemonOptions{
				Layered: layered,
				Reload:  func() (*config.LayeredConfig, error) { return cli.LoadConfig(cmd) },
				Logger:  logging.NewLogger("traild"),
			})
		},
	}
}

// daemonOptions configures runDaemon.
type daemonOptions struct {
	Layered *config.LayeredConfig
	// Reload re-reads the configuration after a config file changed.
	// Nil disables config watching.
	Reload func() (*config.LayeredConfig, error)
	Logger *logrus.Entry
}

// runDaemon wires the capture pipeline and serves the API until ctx is done.
func runDaemon(ctx context.Context, opts daemonOptions) error {
	logger := opts.Logger
	cfg := opts.Layered.Final
	startup := profiling.Start("daemon.startup")

	// Subsystems share the daemon's log file.
	sub := func(name string) *logrus.Entry {
		return logger.WithField("component", name)
	}

	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create trail directories: %w", err)
	}

	// 1. Acquire Lock
	pidPath := paths.PidFilePath()
	if err := pidfile.Acquire(pidPath); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := pidfile.Release(pidPath); err != nil {
			logger.Errorf("Failed to release pidfile: %v", err)
		}
	}()

	// 2. Store, bus and file source
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	b := bus.New()
	defer b.Close()

	src, err := fswatch.New(b, cfg.Daemon.DebounceWindow(), sub("fswatch"))
	if err != nil {
		return err
	}
	defer src.Close()

	// 3. Engine and the query side
	h := hub.New(sub("hub"))
	eng := engine.New(b, src, st, h, sub("engine"))
	eng.SetHistoryLimit(cfg.Daemon.HistoryLimit)
	eng.Register(collector.Func("fswatch", func(ctx context.Context) error {
		src.Run(ctx)
		return nil
	}))

	corr := correlator.New(b, cfg.Daemon.Timeout(), cfg.Daemon.RequestCapacity, sub("correlator"))
	in, err := intake.New(b, corr, h, cfg.Ignore, sub("intake"))
	if err != nil {
		return err
	}

	reloader := &configReloader{reload: opts.Reload, intake: in, logger: logger}
	if opts.Reload != nil {
		cw, err := daemon.NewConfigWatcher(configDirs(opts.Layered), 0, reloader.apply)
		if err != nil {
			logger.WithError(err).Warn("Config watching disabled")
		} else {
			eng.Register(collector.Func("config-watcher", func(ctx context.Context) error {
				cw.Start(ctx)
				return nil
			}))
		}
	}

	// 4. Server
	srv := server.New(sub("server"))
	srv.SetIntake(in)
	srv.SetHub(h)
	srv.SetRunningConfig(runningConfig(opts.Layered))

	engineCtx, cancelEngine := context.WithCancel(ctx)
	defer cancelEngine()
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Start(engineCtx)
	}()

	if len(cfg.Watch) > 0 {
		watched, err := in.SetWatched(cfg.Watch)
		if err != nil {
			logger.WithError(err).Warn("Failed to seed watch set from config")
		} else {
			reloader.applied = sortedCopy(cfg.Watch)
			logger.WithField("count", len(watched)).Info("Watching configured files")
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(cfg.Daemon.Socket)
	}()
	startup.Stop()
	logger.WithFields(logrus.Fields{
		"pid":     os.Getpid(),
		"socket":  cfg.Daemon.Socket,
		"version": version.GetInfo().Short(),
	}).Info("Starting daemon")

	// 5. Wait for a stop signal or a server failure
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received stop signal")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown error: %v", err)
	}

	cancelEngine()
	<-engineDone
	logger.Info("Daemon stopped")
	return runErr
}

// configReloader applies config file changes to the running daemon.
// Storage and socket settings need a restart; watch list and ignore
// patterns are applied live.
type configReloader struct {
	reload func() (*config.LayeredConfig, error)
	intake *intake.Intake
	logger *logrus.Entry

	// applied is the watch list last sent from config, sorted.
	applied []string
}

// apply re-reads the configuration after file changed. The watch list is
// re-sent only when it is non-empty and differs from the one applied last,
// so paths added through the API stay watched.
func (r *configReloader) apply(file string) {
	layered, err := r.reload()
	if err != nil {
		r.logger.WithError(err).WithField("file", file).Warn("Ignoring invalid config change")
		return
	}
	cfg := layered.Final
	if err := r.intake.SetIgnore(cfg.Ignore); err != nil {
		r.logger.WithError(err).Warn("Keeping previous ignore patterns")
	}

	desired := sortedCopy(cfg.Watch)
	if len(desired) == 0 || slices.Equal(desired, r.applied) {
		r.logger.WithField("file", file).Info("Config reloaded, watch list unchanged")
		return
	}

	watched, err := r.intake.SetWatched(cfg.Watch)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to apply watch list from config")
		return
	}
	r.applied = desired
	r.logger.WithFields(logrus.Fields{
		"file":  file,
		"count": len(watched),
	}).Info("Config reloaded")
}

func sortedCopy(paths []string) []string {
	out := slices.Clone(paths)
	sort.Strings(out)
	return out
}

// configDirs returns the directories whose config files the daemon follows.
func configDirs(layered *config.LayeredConfig) []string {
	dirs := []string{paths.ConfigDir()}
	for _, f := range cli.ConfigFiles(layered) {
		dirs = append(dirs, filepath.Dir(f))
	}
	return dirs
}

func runningConfig(layered *config.LayeredConfig) *models.RunningConfig {
	cfg := layered.Final
	rc := &models.RunningConfig{
		Socket:          cfg.Daemon.Socket,
		StoreDriver:     cfg.Store.Driver,
		CacheSize:       cfg.Store.CacheSize,
		RequestTimeout:  cfg.Daemon.Timeout(),
		RequestCapacity: cfg.Daemon.RequestCapacity,
		HistoryLimit:    cfg.Daemon.HistoryLimit,
		Debounce:        cfg.Daemon.DebounceWindow(),
		Ignore:          cfg.Ignore,
		ConfigFiles:     cli.ConfigFiles(layered),
		StartedAt:       time.Now(),
	}
	if cfg.Store.Driver == config.DriverSQLite {
		rc.StorePath = cfg.Store.Path
	}
	return rc
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}

			if !running {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}

			if err := process.Terminate(pid, shutdownTimeout); err != nil {
				return fmt.Errorf("failed to stop daemon (pid %d): %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped daemon (pid %d)\n", pid)
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			layered, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			client := daemon.New(layered.Final)
			defer client.Close()

			health, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}

			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd.OutOrStdout(), health)
			}

			pretty := logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout())
			pretty.Success(fmt.Sprintf("Running (PID: %d)", health.PID))
			pretty.Path("Socket", layered.Final.Daemon.Socket)
			pretty.Field("Version", health.Version)
			pretty.Field("Uptime", health.Uptime)
			pretty.Field("Watched", health.Watched)
			if !version.GetInfo().Matches(health.Version) {
				pretty.WarnPretty(fmt.Sprintf("daemon runs %s but this binary is %s; restart the daemon",
					health.Version, version.Version))
			}
			return nil
		},
	}
}
