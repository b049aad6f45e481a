// Package patch creates and applies binary patches between file versions and
// renders text previews of them.
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/aymanbagabas/go-udiff"
	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// Patch payloads start with a one-byte format tag.
const (
	formatLiteral byte = 0x00
	formatBSDiff  byte = 0x01
)

// ErrInvalidPatch is returned by Apply for payloads it cannot interpret.
var ErrInvalidPatch = errors.New("patch: invalid payload")

// Create returns a patch that turns old into new. It works on arbitrary
// bytes; content need not be text.
func Create(old, new []byte) (p []byte, err error) {
	// bsdiff needs something to index; an empty side is stored literally.
	if len(old) == 0 || len(new) == 0 {
		return append([]byte{formatLiteral}, new...), nil
	}

	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("bsdiff: %v", r)
		}
	}()

	body, err := bsdiff.Bytes(old, new)
	if err != nil {
		return nil, fmt.Errorf("bsdiff: %w", err)
	}
	return append([]byte{formatBSDiff}, body...), nil
}

// Apply reconstructs the new content from old and a patch made by Create.
func Apply(old, p []byte) (out []byte, err error) {
	if len(p) == 0 {
		return nil, ErrInvalidPatch
	}

	switch p[0] {
	case formatLiteral:
		return append([]byte{}, p[1:]...), nil
	case formatBSDiff:
		defer func() {
			if r := recover(); r != nil {
				out, err = nil, fmt.Errorf("%w: %v", ErrInvalidPatch, r)
			}
		}()
		out, err = bspatch.Bytes(old, p[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown format 0x%02x", ErrInvalidPatch, p[0])
	}
}

// IsText reports whether b looks like text: valid UTF-8 without NUL bytes.
func IsText(b []byte) bool {
	return utf8.Valid(b) && bytes.IndexByte(b, 0) < 0
}

// Render returns a unified diff between old and new labelled with path. ok
// is false when either side is not text.
func Render(path string, old, new []byte) (preview string, ok bool) {
	if !IsText(old) || !IsText(new) {
		return "", false
	}
	return udiff.Unified("a"+path, "b"+path, string(old), string(new)), true
}
