// Package airgaperr defines the error kinds surfaced in events and results
// and their retry classification.
package airgaperr

import (
	"errors"
	"fmt"

	"github.com/a-h/airgap/coordinate"
)

// Kind classifies an error for retry and reporting purposes.
type Kind string

const (
	Network                 Kind = "network"
	HTTP4xx                 Kind = "http-4xx"
	NotFound                Kind = "not-found"
	ParseError               Kind = "parse-error"
	ChecksumMismatch        Kind = "checksum-mismatch"
	ConstraintUnsatisfiable Kind = "constraint-unsatisfiable"
	Cycle                   Kind = "cycle"
	Cancelled               Kind = "cancelled"
	IOError                 Kind = "io-error"
	Internal                Kind = "internal"
)

// Retryable reports whether an error of this kind should be retried
// locally. ChecksumMismatch is retryable exactly once; callers
// enforce that cap themselves (this only says "retry makes sense at all"),
// as the download queue does.
func (k Kind) Retryable() bool {
	switch k {
	case Network, ChecksumMismatch:
		return true
	default:
		return false
	}
}

// Error is a structured error carrying the coordinate, attempted URL (if
// any), and underlying cause, so user-visible messages can always say
// which package and URL were involved.
type Error struct {
	Kind  Kind
	Coord coordinate.Coordinate
	URL   string
	Cause error
}

func New(kind Kind, coord coordinate.Coordinate, url string, cause error) *Error {
	return &Error{Kind: kind, Coord: coord, URL: url, Cause: cause}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Coord)
	if e.URL != "" {
		msg += fmt.Sprintf(" (%s)", e.URL)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, airgaperr.Network) style checks by comparing
// Kind sentinels constructed with no coordinate/cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// Sentinel builds a bare *Error usable as an errors.Is target, e.g.
// errors.Is(err, airgaperr.Sentinel(airgaperr.NotFound)).
func Sentinel(kind Kind) error {
	return &Error{Kind: kind}
}

// ClassifyKind extracts the Kind from err if it (or something it wraps) is
// an *Error, for callers like the download queue that only need the
// retry/terminal classification and not the full structured error.
func ClassifyKind(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
