package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and ToDiscoveryOptions.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrNoProject is returned when no project name is given.
	ErrNoProject = errors.New("no project specified: provide a project name")

	// ErrNoRPCURL is returned when the RPC endpoint is empty.
	ErrNoRPCURL = errors.New("no RPC endpoint specified: use --rpc")

	// ErrInvalidTimeout is returned when the request timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidRunTimeout is returned when the run timeout is negative.
	// Use 0 for no limit.
	ErrInvalidRunTimeout = errors.New("invalid run timeout: must be non-negative")

	// ErrInvalidConcurrency is returned when concurrency is below one.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be at least 1")

	// ErrInvalidMaxAttempts is returned when max attempts is below one.
	ErrInvalidMaxAttempts = errors.New("invalid max attempts: must be at least 1")

	// ErrInvalidRateLimit is returned when the rate limit or burst is negative.
	// Use 0 to disable limiting.
	ErrInvalidRateLimit = errors.New("invalid rate limit: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrNoOutputDir is returned when the manifest directory is empty.
	ErrNoOutputDir = errors.New("no output directory specified")

	// ErrNoSeeds is returned when neither the project file nor the command
	// line provides an address.
	ErrNoSeeds = errors.New("no addresses to discover: add them to the project file or pass them as arguments")

	// ErrInvalidMaxAddresses is returned for a negative maxAddresses.
	ErrInvalidMaxAddresses = errors.New("invalid maxAddresses: must be non-negative")
)
