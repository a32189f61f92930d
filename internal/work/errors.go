package work

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorKind classifies a per-item failure. The kind decides retry behavior
// and whether the failure is fatal to the whole run.
type ErrorKind string

const (
	// KindTransientNetwork covers connect timeouts, resets and 5xx
	// responses. Retried with backoff.
	KindTransientNetwork ErrorKind = "transient_network"

	// KindAuth covers 401/403. The credential is presumed invalid for the
	// whole run, so this is never retried and stops the run early.
	KindAuth ErrorKind = "auth"

	// KindNotFound covers 404 and other permanent per-item rejections.
	KindNotFound ErrorKind = "not_found"

	// KindMalformedName marks sources with no parseable tile code. Such
	// items are dropped before dispatch.
	KindMalformedName ErrorKind = "malformed_name"

	// KindNoMatchingMember means an archive held zero wanted members.
	KindNoMatchingMember ErrorKind = "no_matching_member"

	// KindAmbiguousMember means an archive held more than one wanted
	// member. A data-integrity signal, never silently resolved.
	KindAmbiguousMember ErrorKind = "ambiguous_member"

	// KindDiskWrite covers local write failures. Retried once unless the
	// filesystem is out of space, which is fatal to the run.
	KindDiskWrite ErrorKind = "disk_write"
)

// Error tags an underlying error with its classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a classification.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf is NewError with formatting.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify returns the kind for err. Unclassified errors default to
// KindTransientNetwork for network-shaped failures handled upstream; here
// anything untagged is treated as a disk/IO problem since every other error
// source tags its failures at the point of classification.
func Classify(err error) ErrorKind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindDiskWrite
}

// FatalToRun reports whether a failure of this kind should stop the whole
// run: an invalid credential or exhausted storage will fail every remaining
// item identically.
func FatalToRun(kind ErrorKind, err error) bool {
	if kind == KindAuth {
		return true
	}
	return kind == KindDiskWrite && errors.Is(err, syscall.ENOSPC)
}
