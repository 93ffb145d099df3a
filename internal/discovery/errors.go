package discovery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/nao1215/chainscan/internal/model"
)

// Option validation and run errors.
var (
	// ErrNoBlockNumber is returned when the options carry no pinned block.
	ErrNoBlockNumber = errors.New("invalid options: block number is required")

	// ErrInvalidConcurrency is returned when MaxConcurrency is below one.
	ErrInvalidConcurrency = errors.New("invalid options: max concurrency must be at least 1")

	// ErrInvalidAttempts is returned when the retry policy allows no calls.
	ErrInvalidAttempts = errors.New("invalid options: max attempts must be at least 1")

	// ErrInvalidBackoff is returned for negative or inverted backoff bounds.
	ErrInvalidBackoff = errors.New("invalid options: backoff bounds must be non-negative and min <= max")

	// ErrUnknownFailureMode is returned for failure modes other than
	// fail-fast and best-effort.
	ErrUnknownFailureMode = errors.New("invalid options: unknown failure mode")

	// ErrInvalidAddressLimit is returned when MaxAddresses is negative.
	ErrInvalidAddressLimit = errors.New("invalid options: max addresses must be non-negative")

	// ErrInvalidRunTimeout is returned when RunTimeout is negative.
	ErrInvalidRunTimeout = errors.New("invalid options: run timeout must be non-negative")

	// ErrNoProjectName is returned when a run is started without a project name.
	ErrNoProjectName = errors.New("project name is required")

	// ErrNoSeeds is returned when no analyzable seed address remains.
	ErrNoSeeds = errors.New("no seed addresses to discover from")

	// ErrAddressLimitExceeded is returned when the reachable set grows past
	// MaxAddresses. It aborts the run in every failure mode.
	ErrAddressLimitExceeded = errors.New("discovery exceeded the configured address limit")

	// ErrRetriesExhausted wraps the last transient error once MaxAttempts
	// calls have failed.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrNilResult is returned when an analyzer reports success without a result.
	ErrNilResult = errors.New("analyzer returned no result")

	// ErrDuplicateRecord is returned by the assembler when two results share
	// an address.
	ErrDuplicateRecord = errors.New("duplicate analysis result")

	// ErrNotInFlight is returned when completing an address that was not
	// handed out by NextBatch.
	ErrNotInFlight = errors.New("address is not in flight")

	// ErrSchedulerFull is returned when dispatching beyond the worker limit.
	ErrSchedulerFull = errors.New("scheduler has no free worker")
)

// RunAbortedError is returned by a fail-fast run that hit a permanent
// analysis failure. No manifest is produced.
type RunAbortedError struct {
	// Project is the project being discovered.
	Project string

	// Address is the address whose analysis failed.
	Address model.Address

	// Attempts is how many analyzer calls were made for Address.
	Attempts int

	// Cause is the final analysis error.
	Cause error
}

// Error implements the error interface.
func (e *RunAbortedError) Error() string {
	return fmt.Sprintf("discovery of %s aborted at %s after %d attempt(s): %v",
		e.Project, e.Address.Checksum(), e.Attempts, e.Cause)
}

// Unwrap returns the analysis error.
func (e *RunAbortedError) Unwrap() error {
	return e.Cause
}

// PartialResultWarning accompanies a manifest from a best-effort run that
// left some addresses unresolved. The manifest is still valid; callers decide
// whether the gaps are acceptable.
type PartialResultWarning struct {
	// Project is the project that was discovered.
	Project string

	// Unresolved lists the addresses that could not be analyzed, in
	// discovery order.
	Unresolved []model.UnresolvedAddress

	// Causes aggregates the underlying errors.
	Causes *multierror.Error

	// Cancelled is set when the run was interrupted and the manifest was
	// assembled from whatever had resolved. Causes alone cannot tell this
	// apart from analyses that timed out on their own.
	Cancelled bool
}

// newPartialResultWarning builds a warning from unresolved entries.
func newPartialResultWarning(project string, unresolved []model.UnresolvedAddress, causes []error, cancelled bool) *PartialResultWarning {
	var merr *multierror.Error
	for _, c := range causes {
		merr = multierror.Append(merr, c)
	}
	if merr != nil {
		merr.ErrorFormat = func(errs []error) string {
			parts := make([]string, len(errs))
			for i, e := range errs {
				parts[i] = e.Error()
			}
			return strings.Join(parts, "; ")
		}
	}
	return &PartialResultWarning{
		Project:    project,
		Unresolved: unresolved,
		Causes:     merr,
		Cancelled:  cancelled,
	}
}

// Error implements the error interface.
func (w *PartialResultWarning) Error() string {
	return fmt.Sprintf("discovery of %s completed with %d unresolved address(es)", w.Project, len(w.Unresolved))
}

// Unwrap exposes the aggregated causes to errors.Is and errors.As.
func (w *PartialResultWarning) Unwrap() error {
	if w.Causes == nil {
		return nil
	}
	return w.Causes.ErrorOrNil()
}

// IsPartial reports whether err is (or wraps) a PartialResultWarning.
// Callers use it to keep the manifest returned alongside the error.
func IsPartial(err error) bool {
	var w *PartialResultWarning
	return errors.As(err, &w)
}
