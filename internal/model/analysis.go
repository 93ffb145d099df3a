package model

import (
	"errors"
	"fmt"
)

// Kind classifies an analyzed address.
type Kind int

const (
	// KindUnknown is the zero value. Analyzers must never return it.
	KindUnknown Kind = iota
	// KindContract marks an address that has code at the pinned block.
	KindContract
	// KindEOA marks an externally-owned account (no code).
	KindEOA
)

// ErrUnknownKind is returned when parsing an unrecognised kind string.
var ErrUnknownKind = errors.New("unknown address kind")

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindContract:
		return "contract"
	case KindEOA:
		return "eoa"
	default:
		return unknownStr
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "contract":
		*k = KindContract
	case "eoa":
		*k = KindEOA
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(text))
	}
	return nil
}

// unknownStr is the string representation for unknown values.
const unknownStr = "unknown"

// Upgradeability describes how a contract delegates its logic.
type Upgradeability struct {
	// Type names the proxy pattern, e.g. "immutable" or "EIP1967 proxy".
	Type string `json:"type"`

	// Implementations lists the logic contracts the proxy delegates to.
	Implementations []Address `json:"implementations,omitempty"`

	// Admin is the account allowed to upgrade the proxy, if any.
	Admin *Address `json:"admin,omitempty"`

	// Beacon is the upgrade beacon for beacon proxies.
	Beacon *Address `json:"beacon,omitempty"`
}

// Relative is an address referenced by an analysis, together with the field
// that referenced it. Fields are used for per-address ignore rules and are
// carried into ContractRecord references.
type Relative struct {
	Field   string  `json:"field"`
	Address Address `json:"address"`
}

// AnalysisResult is the output of analyzing one address at a pinned block.
// Once handed to the frontier it must not be modified.
type AnalysisResult struct {
	// Address is the analyzed address.
	Address Address `json:"address"`

	// Kind is the contract/EOA classification.
	Kind Kind `json:"kind"`

	// Name is a human-readable name, if the analyzer could derive one.
	Name string `json:"name,omitempty"`

	// Upgradeability describes proxy structure. Nil for EOAs.
	Upgradeability *Upgradeability `json:"upgradeability,omitempty"`

	// TemplateMatch names a known bytecode template the contract matched.
	TemplateMatch string `json:"templateMatch,omitempty"`

	// Values holds raw named values read during analysis.
	// encoding/json sorts map keys, so output is stable.
	Values map[string]any `json:"values,omitempty"`

	// Errors holds per-field read errors that did not fail the analysis.
	Errors map[string]string `json:"errors,omitempty"`

	// Relatives is the ordered list of referenced addresses.
	Relatives []Relative `json:"relatives,omitempty"`
}

// IsEOA reports whether the result classifies an externally-owned account.
func (r *AnalysisResult) IsEOA() bool {
	return r.Kind == KindEOA
}

// Validate checks the invariants a result must satisfy before it is accepted.
func (r *AnalysisResult) Validate(expected Address) error {
	if r.Address != expected {
		return fmt.Errorf("analysis result for %s returned for %s", r.Address, expected)
	}
	if r.Kind != KindContract && r.Kind != KindEOA {
		return fmt.Errorf("analysis result for %s: %w", expected, ErrUnknownKind)
	}
	return nil
}
