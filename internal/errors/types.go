package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// The orchestrator distinguishes two terminal failure classes from three
// recoverable ones. Terminal errors end the request with an error event;
// recoverable ones degrade and let the state machine continue.

// PermissionError reports a forced mode that conflicts with the caller's
// capability set. Always terminal.
type PermissionError struct {
	Capability string // capability the caller lacks
	Mode       string // mode that was requested
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: mode %q requires capability %q", e.Mode, e.Capability)
}

// DegradedError reports a recoverable failure of a retrieval or evaluation
// sub-call. The engine records a warning and continues with reduced inputs.
type DegradedError struct {
	Source string // "internet_search", "local_search", "evaluation", ...
	Err    error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("%s degraded: %v", e.Source, e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// GenerationError reports failure of final answer generation. Terminal.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// CachePersistError reports a failed cache write. Logged, never surfaced.
type CachePersistError struct {
	Err error
}

func (e *CachePersistError) Error() string {
	return fmt.Sprintf("cache persist failed: %v", e.Err)
}

func (e *CachePersistError) Unwrap() error { return e.Err }

// IsPermission reports whether err is a PermissionError.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsDegraded reports whether err is recoverable degradation.
func IsDegraded(err error) bool {
	var de *DegradedError
	return errors.As(err, &de)
}

// IsTerminal reports whether err must end the request.
func IsTerminal(err error) bool {
	var ge *GenerationError
	return IsPermission(err) || errors.As(err, &ge)
}

// IsTransient reports whether err is worth a bounded retry: network timeouts,
// rate limits and upstream 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return false
}

// StatusError carries an upstream HTTP status for transient classification.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("upstream status %d", e.Code)
}
