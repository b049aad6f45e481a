package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Names of events emitted to clients.
const (
	EventUpdateWatched                  = "updateWatched"
	EventRefreshWatchedFileListResponse = "refreshWatchedFileListResponse"
	EventSelectFileResponse             = "selectFileResponse"
	EventError                          = "error"
)

// Event is a named notification pushed from the daemon to its clients.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Time    time.Time       `json:"time"`
}

// NewEvent marshals payload into an Event stamped with the current time.
func NewEvent(name string, payload interface{}) (Event, error) {
	ev := Event{Name: name, Time: time.Now()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Name)
	}
	return json.Unmarshal(e.Payload, v)
}

// ErrorPayload is the payload of an EventError.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Health is returned by the daemon's health endpoint.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	PID     int    `json:"pid"`
	Uptime  string `json:"uptime"`
	Watched int    `json:"watched"`
}

// RunningConfig holds the settings the daemon was started with.
type RunningConfig struct {
	Socket          string        `json:"socket"`
	StoreDriver     string        `json:"store_driver"`
	StorePath       string        `json:"store_path,omitempty"`
	CacheSize       int           `json:"cache_size"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	RequestCapacity int           `json:"request_capacity"`
	HistoryLimit    int           `json:"history_limit"`
	Debounce        time.Duration `json:"debounce"`
	Ignore          []string      `json:"ignore,omitempty"`
	ConfigFiles     []string      `json:"config_files,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
}
