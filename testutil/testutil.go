// Package testutil holds helpers shared by the daemon's package tests.
package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// IsolateHome points TRAIL_HOME at a fresh temp dir so tests never read or
// write the real config, data or state directories.
func IsolateHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("TRAIL_HOME", home)
	t.Setenv("TRAIL_LOG_LEVEL", "")
	return home
}

// WriteFile writes content to name under dir, creating parent directories,
// and returns the absolute path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// RandomString generates a random string of the specified length
func RandomString(length int) string {
	bytes := make([]byte, length/2+1)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)[:length]
}

// Logger returns a logger that discards output, tagged with component.
func Logger(component string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l.WithField("component", component)
}

// WaitFor polls cond until it returns true or timeout passes.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, msg)
}

// Emitted is one event captured by a RecordingEmitter.
type Emitted struct {
	Name    string
	Payload interface{}
}

// RecordingEmitter keeps every emitted event in order.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []Emitted
}

// Emit records the event.
func (r *RecordingEmitter) Emit(name string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Emitted{Name: name, Payload: payload})
}

// Events returns a copy of everything recorded so far.
func (r *RecordingEmitter) Events() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Emitted, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events with the given name.
func (r *RecordingEmitter) Named(name string) []Emitted {
	var out []Emitted
	for _, ev := range r.Events() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the most recent event with the given name.
func (r *RecordingEmitter) Last(name string) (Emitted, bool) {
	named := r.Named(name)
	if len(named) == 0 {
		return Emitted{}, false
	}
	return named[len(named)-1], true
}

// DecodePayload round-trips a recorded payload through JSON into v, the way
// a client would receive it.
func DecodePayload(t *testing.T, ev Emitted, v interface{}) {
	t.Helper()

	data, err := json.Marshal(ev.Payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}
