package analyzer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"
)

// Analysis errors fall into two classes.
//
// Design decision: We classify with wrapper types rather than sentinel values
// because:
//  1. The original cause must survive for logs and the manifest
//  2. errors.As lets the scheduler decide without string matching
//  3. Analyzers outside this module can opt in without importing internals
var (
	// ErrTransient is matched by errors.Is for every TransientError.
	ErrTransient = errors.New("transient analysis error")

	// ErrPermanent is matched by errors.Is for every PermanentError.
	ErrPermanent = errors.New("permanent analysis error")
)

// TransientError marks a failure worth retrying: timeouts, rate limits,
// dropped connections.
type TransientError struct {
	Err error
}

// NewTransientError wraps err as transient. A nil err stays nil.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

// Unwrap returns the wrapped cause.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransient) succeed.
func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

// PermanentError marks a failure that retrying cannot fix: malformed input,
// the analyzer rejecting the address, or exhausted retries.
type PermanentError struct {
	Err error
}

// NewPermanentError wraps err as permanent. A nil err stays nil.
func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

// Unwrap returns the wrapped cause.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrPermanent) succeed.
func (e *PermanentError) Is(target error) bool {
	return target == ErrPermanent
}

// classified is implemented by both wrapper types. errors.As stops at the
// outermost one, so a PermanentError wrapping a TransientError (exhausted
// retries) is permanent.
type classified interface {
	error
	retryable() bool
}

func (e *TransientError) retryable() bool { return true }
func (e *PermanentError) retryable() bool { return false }

// IsTransient reports whether err should be retried.
// Unwrapped errors are classified with Classify. Only the outermost
// classification counts.
func IsTransient(err error) bool {
	var c classified
	return errors.As(Classify(err), &c) && c.retryable()
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err)
}

// JSON-RPC error codes that indicate an overloaded or rate-limited node.
const (
	rpcCodeLimitExceeded = -32005
	rpcCodeInternal      = -32603
)

// transientMessages are substrings providers use for throttling responses
// that arrive without a dedicated status or code.
var transientMessages = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"eof",
	"try again",
}

// Classify returns err unchanged when it is already a TransientError or
// PermanentError, and otherwise wraps it according to its shape.
// context.Canceled is always permanent: the caller asked to stop.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var c classified
	if errors.As(err, &c) {
		return err
	}

	if isTransientCause(err) {
		return &TransientError{Err: err}
	}
	return &PermanentError{Err: err}
}

// isTransientCause inspects an unclassified error.
func isTransientCause(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode == http.StatusRequestTimeout ||
			httpErr.StatusCode >= http.StatusInternalServerError
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case rpcCodeLimitExceeded, rpcCodeInternal:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
