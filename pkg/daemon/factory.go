package daemon

import (
	"net"
	"os"
	"time"

	"github.com/grovetools/trail/config"
	"github.com/grovetools/trail/pkg/paths"
)

// New returns a Client that will use the daemon if available,
// otherwise falls back to LocalClient.
//
// This implements the "transparent daemon" pattern: callers don't need
// to know whether the daemon is running or not. The same API works
// in both modes, minus the operations that need a live watch set.
func New(cfg *config.Config) Client {
	socketPath := paths.SocketPath()
	if cfg != nil && cfg.Daemon != nil && cfg.Daemon.Socket != "" {
		socketPath = cfg.Daemon.Socket
	}

	// Check if socket exists and we can connect
	if _, err := os.Stat(socketPath); err == nil {
		conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			if client, err := NewRemoteClient(socketPath); err == nil {
				return client
			}
		}
	}

	// Fallback: daemon not running, use local client
	return NewLocalClient(cfg)
}
