// Package errors defines the typed error used across the download
// pipeline. The planner, resolvers, resume scanner, worker pool, HTTP
// primitive and assembler report failures as a *DownloadError so callers
// (and the retry loop) can branch on Kind instead of matching error
// strings. The sentinel errors below, the registry and the cleanup
// utility return plain errors.
package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
)

// ErrorKind classifies a DownloadError. The kinds are those named by the
// error handling design (redirect-loop, bad-status, length-mismatch,
// range-not-honored, invalid-destination, filesystem, exhausted and
// on-disk-inconsistency) plus network, for transport failures, and
// cancelled, for work cut short by destroy or a cancelled context.
type ErrorKind string

const (
	KindRedirectLoop        ErrorKind = "REDIRECT_LOOP"
	KindBadStatus           ErrorKind = "BAD_STATUS"
	KindLengthMismatch      ErrorKind = "LENGTH_MISMATCH"
	KindRangeNotHonored     ErrorKind = "RANGE_NOT_HONORED"
	KindInvalidDestination  ErrorKind = "INVALID_DESTINATION"
	KindFilesystem          ErrorKind = "FILESYSTEM"
	KindExhausted           ErrorKind = "EXHAUSTED"
	KindOnDiskInconsistency ErrorKind = "ON_DISK_INCONSISTENCY"
	KindNetwork             ErrorKind = "NETWORK"
	KindCancelled           ErrorKind = "CANCELLED"
)

// DownloadError wraps an underlying cause with the classification the
// coordinator and worker pool need to decide whether to retry.
type DownloadError struct {
	Err        error
	Kind       ErrorKind
	Retryable  bool
	Timestamp  time.Time
	Resource   string // URL, path, or chunk identifier the error concerns
	StatusCode int    // HTTP status code, 0 if not applicable
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("[%s] %s (status %d): %v", e.Kind, e.Resource, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Resource, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Sentinel errors for cases that don't carry chunk/resource context.
var (
	ErrInvalidURL    = New("invalid URL")
	ErrDestroyed     = New("session already destroyed")
	ErrAlreadyActive = New("download already started")
)

func newErr(kind ErrorKind, err error, resource string, retryable bool) *DownloadError {
	return &DownloadError{
		Err:       err,
		Kind:      kind,
		Retryable: retryable,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

func NewRedirectLoopError(resource string) *DownloadError {
	return newErr(KindRedirectLoop, fmt.Errorf("redirect loop detected at %s", resource), resource, false)
}

// NewBadStatusError classifies an unexpected HTTP status. 429 and every
// 5xx except 501 are retryable; everything else is not retried.
func NewBadStatusError(resource string, statusCode int) *DownloadError {
	retryable := statusCode == 429 || (statusCode >= 500 && statusCode != 501)
	e := newErr(KindBadStatus, fmt.Errorf("unexpected status %d", statusCode), resource, retryable)
	e.StatusCode = statusCode
	return e
}

func NewLengthMismatchError(resource string, want, got int64) *DownloadError {
	return newErr(KindLengthMismatch, fmt.Errorf("content-length mismatch: want %d got %d", want, got), resource, true)
}

func NewRangeNotHonoredError(resource string, statusCode int) *DownloadError {
	e := newErr(KindRangeNotHonored, fmt.Errorf("server did not honor range request (status %d)", statusCode), resource, true)
	e.StatusCode = statusCode
	return e
}

func NewInvalidDestinationError(resource string, cause error) *DownloadError {
	return newErr(KindInvalidDestination, cause, resource, false)
}

func NewFilesystemError(resource string, cause error) *DownloadError {
	return newErr(KindFilesystem, cause, resource, false)
}

func NewExhaustedError(resource string, attempts int, cause error) *DownloadError {
	return newErr(KindExhausted, fmt.Errorf("failed after %d attempts: %w", attempts, cause), resource, false)
}

func NewOnDiskInconsistencyError(resource string, fileSize, rangeLen int64) *DownloadError {
	return newErr(KindOnDiskInconsistency,
		fmt.Errorf("on-disk chunk size %d exceeds planned range length %d", fileSize, rangeLen), resource, false)
}

func NewNetworkError(resource string, cause error) *DownloadError {
	return newErr(KindNetwork, cause, resource, true)
}

func NewCancelledError(resource string, cause error) *DownloadError {
	return newErr(KindCancelled, cause, resource, false)
}

// IsRetryable reports whether err (or a DownloadError it wraps) should be
// retried by the chunk worker's attempt loop.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var de *DownloadError
	if As(err, &de) {
		return de.Retryable
	}
	return false
}

// Kind extracts the ErrorKind from err, if any.
func Kind(err error) (ErrorKind, bool) {
	var de *DownloadError
	if As(err, &de) {
		return de.Kind, true
	}
	return "", false
}
