// Package models holds the types shared between the trail daemon, its
// clients, and the wire protocol.
package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ChangeKind classifies a raw file-system notification.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
	ChangeAccessed ChangeKind = "accessed"
	ChangeOther    ChangeKind = "other"
)

// ParseChangeKind maps a stored label back to a ChangeKind. Unknown labels
// become ChangeOther.
func ParseChangeKind(s string) ChangeKind {
	switch k := ChangeKind(strings.ToLower(s)); k {
	case ChangeCreated, ChangeModified, ChangeRemoved, ChangeAccessed:
		return k
	default:
		return ChangeOther
	}
}

// Captures reports whether a change of this kind carries new content worth
// diffing.
func (k ChangeKind) Captures() bool {
	return k == ChangeCreated || k == ChangeModified
}

// FileSnapshot is the full content of a path at the moment it was captured.
type FileSnapshot struct {
	ID         int64     `json:"id"`
	Path       string    `json:"path"`
	Content    []byte    `json:"content"`
	CapturedAt time.Time `json:"captured_at"`
}

// FileDiff is a binary patch from a snapshot to a later observed content.
type FileDiff struct {
	ID               int64      `json:"id"`
	SourceSnapshotID int64      `json:"source_snapshot_id"`
	Path             string     `json:"path"`
	ChangeKind       ChangeKind `json:"change_kind"`
	Patch            []byte     `json:"patch"`
	// CreatedAt is Unix epoch milliseconds.
	CreatedAt int64 `json:"created_at"`
}

// Created returns CreatedAt as a time.Time.
func (d FileDiff) Created() time.Time {
	return time.UnixMilli(d.CreatedAt)
}

// FileDiffResult is one entry of a file's history as shown to clients.
type FileDiffResult struct {
	ID               int64      `json:"id"`
	SourceSnapshotID int64      `json:"original_file_id"`
	ChangeEvent      ChangeKind `json:"change_event"`
	Path             string     `json:"path"`
	// FilePath holds the path's segments so clients need not split paths
	// themselves.
	FilePath  []string `json:"file_path"`
	PatchSize int      `json:"patch_size"`
	// Data is a unified text diff of the change, empty for binary content
	// or when the patch could not be applied.
	Data      string `json:"data"`
	Binary    bool   `json:"binary"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// PathSegments splits an absolute or relative path into its named segments,
// dropping the root and any "." components.
func PathSegments(path string) []string {
	cleaned := filepath.ToSlash(filepath.Clean(path))
	parts := strings.Split(cleaned, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		segments = append(segments, p)
	}
	return segments
}

// String implements fmt.Stringer for log output.
func (r FileDiffResult) String() string {
	return fmt.Sprintf("#%d %s %s (%d bytes)", r.ID, r.ChangeEvent, r.Path, r.PatchSize)
}
