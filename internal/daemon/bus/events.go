// Package bus carries events from every producer to the engine's single
// consumer.
package bus

import (
	"github.com/grovetools/trail/pkg/models"
)

// Event is one of the event types declared in this file. The set is closed:
// only types in this package implement it.
type Event interface {
	isEvent()
}

// RawFsChange is an OS notification for one or more paths.
type RawFsChange struct {
	Paths []string
	Kind  models.ChangeKind
}

// PathAddedToWatch moves a path from Unwatched to Watching.
type PathAddedToWatch struct {
	Path string
}

// PathRemovedFromWatch moves a path from Watching to Unwatched.
type PathRemovedFromWatch struct {
	Path string
}

// WatchSetUpdated carries the complete desired watch set.
type WatchSetUpdated struct {
	Desired []string
}

// RequestKind identifies what a Request asks for.
type RequestKind int

const (
	RequestWatchedFileList RequestKind = iota
	RequestSelectFile
)

func (k RequestKind) String() string {
	switch k {
	case RequestWatchedFileList:
		return "WatchedFileList"
	case RequestSelectFile:
		return "SelectFile"
	default:
		return "Unknown"
	}
}

// Request is a query from outside the engine. The engine answers by
// sending a Response carrying the same Reply channel.
type Request struct {
	Kind  RequestKind
	Path  string // SelectFile only
	Reply chan<- Response
}

// ResponseKind identifies the payload of a Response.
type ResponseKind int

const (
	ResponseWatchedFileList ResponseKind = iota
	ResponseSelectFile
	ResponseError
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseWatchedFileList:
		return "WatchedFileList"
	case ResponseSelectFile:
		return "SelectFile"
	case ResponseError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Response answers a Request.
type Response struct {
	Kind    ResponseKind
	Paths   []string                // WatchedFileList
	History []models.FileDiffResult // SelectFile
	Err     string                  // Error
	Reply   chan<- Response
}

// ErrTimeout is the Err of a Response synthesized when the engine did not
// answer in time.
const ErrTimeout = "TIMEOUT"

func (RawFsChange) isEvent()          {}
func (PathAddedToWatch) isEvent()     {}
func (PathRemovedFromWatch) isEvent() {}
func (WatchSetUpdated) isEvent()      {}
func (Request) isEvent()              {}
func (Response) isEvent()             {}
