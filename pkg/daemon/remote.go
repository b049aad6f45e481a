package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/trail/errors"
	"github.com/grovetools/trail/pkg/models"
)

// RemoteClient implements Client by calling the daemon's HTTP API over a Unix socket.
type RemoteClient struct {
	httpClient *http.Client
	socketPath string
}

// NewRemoteClient creates a new RemoteClient connected to the daemon socket.
func NewRemoteClient(socketPath string) (*RemoteClient, error) {
	// Create HTTP client that dials Unix socket
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		DisableKeepAlives: false,
		MaxIdleConns:      10,
		IdleConnTimeout:   90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   10 * time.Second,
	}

	return &RemoteClient{
		httpClient: client,
		socketPath: socketPath,
	}, nil
}

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

// Health returns the daemon's health report.
func (c *RemoteClient) Health(ctx context.Context) (*models.Health, error) {
	var health models.Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// WatchedFiles asks the daemon for its current watch set.
func (c *RemoteClient) WatchedFiles(ctx context.Context) ([]string, error) {
	var out models.WatchList
	if err := c.do(ctx, http.MethodGet, "/api/watched", nil, &out); err != nil {
		return nil, err
	}
	return out.Paths, nil
}

// SetWatched posts a new desired watch set.
func (c *RemoteClient) SetWatched(ctx context.Context, paths []string) ([]string, error) {
	if paths == nil {
		paths = []string{}
	}
	var out models.WatchList
	if err := c.do(ctx, http.MethodPost, "/api/watched", models.WatchList{Paths: paths}, &out); err != nil {
		return nil, err
	}
	return out.Paths, nil
}

// History returns the recent changes the daemon recorded for path.
func (c *RemoteClient) History(ctx context.Context, path string) ([]models.FileDiffResult, error) {
	var history []models.FileDiffResult
	if err := c.do(ctx, http.MethodGet, "/api/history?path="+url.QueryEscape(path), nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// RunningConfig returns the configuration the daemon is running with.
func (c *RemoteClient) RunningConfig(ctx context.Context) (*models.RunningConfig, error) {
	var cfg models.RunningConfig
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsRunning returns true if the daemon is available and responding.
func (c *RemoteClient) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// StreamEvents subscribes to daemon events over the websocket endpoint.
// The channel is closed when the context is cancelled or the connection is lost.
func (c *RemoteClient) StreamEvents(ctx context.Context) (<-chan models.Event, error) {
	dialer := websocket.Dialer{
		NetDialContext: func(dialCtx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(dialCtx, "unix", c.socketPath)
		},
		HandshakeTimeout: 5 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, "ws://unix/api/ws", nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, errors.Wrap(err, errors.ErrCodeDaemonUnavailable, "failed to connect to event stream")
	}

	ch := make(chan models.Event, 10)

	// Unblock the reader when the caller goes away.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})

	go func() {
		defer close(ch)
		defer stop()
		defer conn.Close()

		for {
			var ev models.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Close cleans up any resources used by the client.
func (c *RemoteClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *RemoteClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDaemonUnavailable, "failed to reach daemon")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// decodeError turns a non-2xx daemon response back into a TrailError.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var payload models.ErrorPayload
	if err := json.Unmarshal(data, &payload); err == nil && payload.Code != "" {
		return errors.New(errors.ErrorCode(payload.Code), payload.Message).
			WithDetail("status", resp.StatusCode)
	}

	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	code := errors.ErrCodeInternal
	if resp.StatusCode == http.StatusServiceUnavailable {
		code = errors.ErrCodeDaemonUnavailable
	}
	return errors.New(code, fmt.Sprintf("daemon returned status %d: %s", resp.StatusCode, msg)).
		WithDetail("status", resp.StatusCode)
}

// Ensure RemoteClient implements Client interface.
var _ Client = (*RemoteClient)(nil)
