package discovery

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/jpillora/backoff"

	"github.com/nao1215/chainscan/internal/analyzer"
	"github.com/nao1215/chainscan/internal/model"
)

// Default option values.
const (
	// DefaultMaxConcurrency keeps well under the request bursts most hosted
	// RPC plans allow while still overlapping network latency.
	DefaultMaxConcurrency = 8

	// DefaultMaxAttempts is the total number of analyzer calls per address,
	// including the first one.
	DefaultMaxAttempts = 4

	// DefaultMinBackoff is the wait before the first retry.
	DefaultMinBackoff = 500 * time.Millisecond

	// DefaultMaxBackoff caps the wait between retries.
	DefaultMaxBackoff = 10 * time.Second

	// DefaultBackoffFactor is the multiplier applied after each retry.
	DefaultBackoffFactor = 2.0
)

// FailureMode decides what a permanent analysis failure does to the run.
type FailureMode int

const (
	// FailFast aborts the whole run on the first permanent failure and
	// emits no manifest.
	FailFast FailureMode = iota

	// BestEffort records failed addresses as unresolved and keeps going.
	// The manifest is emitted together with a PartialResultWarning.
	BestEffort
)

// String returns the configuration name of the mode.
func (m FailureMode) String() string {
	switch m {
	case FailFast:
		return "fail-fast"
	case BestEffort:
		return "best-effort"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m FailureMode) MarshalText() ([]byte, error) {
	if m != FailFast && m != BestEffort {
		return nil, ErrUnknownFailureMode
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so the mode can be read
// from YAML and flags.
func (m *FailureMode) UnmarshalText(text []byte) error {
	parsed, err := ParseFailureMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseFailureMode parses "fail-fast" or "best-effort".
func ParseFailureMode(s string) (FailureMode, error) {
	switch s {
	case "fail-fast", "":
		return FailFast, nil
	case "best-effort":
		return BestEffort, nil
	default:
		return FailFast, fmt.Errorf("%w: %q", ErrUnknownFailureMode, s)
	}
}

// RetryPolicy bounds how transient analyzer failures are retried.
//
// Design decision: We use exponential backoff with jitter because many
// discovery runs may hit the same rate-limited provider at once; jitter keeps
// their retries from synchronising.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls per address, first included.
	MaxAttempts int

	// MinBackoff is the wait before the first retry.
	MinBackoff time.Duration

	// MaxBackoff caps any single wait.
	MaxBackoff time.Duration

	// Factor multiplies the wait after each retry.
	Factor float64

	// Jitter randomises each wait between MinBackoff and the computed value.
	Jitter bool
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		MinBackoff:  DefaultMinBackoff,
		MaxBackoff:  DefaultMaxBackoff,
		Factor:      DefaultBackoffFactor,
		Jitter:      true,
	}
}

// validate checks the policy bounds.
func (p RetryPolicy) validate() error {
	if p.MaxAttempts < 1 {
		return ErrInvalidAttempts
	}
	if p.MinBackoff < 0 || p.MaxBackoff < 0 || (p.MaxBackoff > 0 && p.MaxBackoff < p.MinBackoff) {
		return ErrInvalidBackoff
	}
	return nil
}

// newBackoff returns a fresh backoff counter for one address.
func (p RetryPolicy) newBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    p.MinBackoff,
		Max:    p.MaxBackoff,
		Factor: p.Factor,
		Jitter: p.Jitter,
	}
}

// DiscoveryOptions configures one discovery run. The engine copies it on
// entry, so callers may reuse or mutate their value afterwards.
type DiscoveryOptions struct {
	// BlockNumber is the pinned height every analysis reads from. Required.
	BlockNumber uint64

	// MaxConcurrency is the maximum number of outstanding analyzer calls.
	MaxConcurrency int

	// Retry bounds transient failure retries.
	Retry RetryPolicy

	// FailureMode decides whether a permanent failure aborts the run.
	FailureMode FailureMode

	// Defaults is the analyzer configuration applied to every address.
	Defaults analyzer.Config

	// Overrides holds per-address analyzer configuration, merged over Defaults.
	Overrides map[model.Address]analyzer.Config

	// SkipAddresses are never analyzed, even when referenced or seeded.
	SkipAddresses []model.Address

	// MaxAddresses caps the number of distinct addresses a run may reach.
	// Zero means no limit.
	MaxAddresses int

	// RunTimeout bounds the whole run. Zero means no limit.
	RunTimeout time.Duration

	// PartialOnCancel lets a cancelled best-effort run still assemble a
	// manifest from what was resolved. Ignored in fail-fast mode.
	PartialOnCancel bool
}

// DefaultDiscoveryOptions returns options pinned to blockNumber with default
// concurrency and retry settings.
func DefaultDiscoveryOptions(blockNumber uint64) DiscoveryOptions {
	return DiscoveryOptions{
		BlockNumber:    blockNumber,
		MaxConcurrency: DefaultMaxConcurrency,
		Retry:          DefaultRetryPolicy(),
		FailureMode:    FailFast,
	}
}

// Validate checks the options. It returns the first problem found.
func (o DiscoveryOptions) Validate() error {
	if o.BlockNumber == 0 {
		return ErrNoBlockNumber
	}
	if o.MaxConcurrency < 1 {
		return ErrInvalidConcurrency
	}
	if err := o.Retry.validate(); err != nil {
		return err
	}
	if o.FailureMode != FailFast && o.FailureMode != BestEffort {
		return ErrUnknownFailureMode
	}
	if o.MaxAddresses < 0 {
		return ErrInvalidAddressLimit
	}
	if o.RunTimeout < 0 {
		return ErrInvalidRunTimeout
	}
	return nil
}

// clone returns a deep copy so a running discovery never observes caller
// mutations.
func (o DiscoveryOptions) clone() DiscoveryOptions {
	c := o
	c.Overrides = maps.Clone(o.Overrides)
	c.SkipAddresses = slices.Clone(o.SkipAddresses)
	c.Defaults.IgnoreRelatives = slices.Clone(o.Defaults.IgnoreRelatives)
	c.Defaults.IgnoreMethods = slices.Clone(o.Defaults.IgnoreMethods)
	return c
}

// configFor returns the effective analyzer configuration for addr.
func (o DiscoveryOptions) configFor(addr model.Address) analyzer.Config {
	if override, ok := o.Overrides[addr]; ok {
		return o.Defaults.Merge(override)
	}
	return o.Defaults
}
