package analyzer

import (
	"context"

	"github.com/nao1215/chainscan/internal/model"
)

// AddressAnalyzer classifies one address at a pinned block and reports the
// addresses it references.
//
// Implementations must be deterministic for a given (address, blockNumber)
// pair on unchanged chain state and must be safe for concurrent use: the
// discovery scheduler calls Analyze from several goroutines at once.
//
// Errors should be wrapped with NewTransientError or NewPermanentError.
// Unwrapped errors are classified with Classify.
type AddressAnalyzer interface {
	Analyze(ctx context.Context, addr model.Address, blockNumber uint64, cfg Config) (*model.AnalysisResult, error)
}

// Func adapts an ordinary function to the AddressAnalyzer interface.
type Func func(ctx context.Context, addr model.Address, blockNumber uint64, cfg Config) (*model.AnalysisResult, error)

// Analyze calls f(ctx, addr, blockNumber, cfg).
func (f Func) Analyze(ctx context.Context, addr model.Address, blockNumber uint64, cfg Config) (*model.AnalysisResult, error) {
	return f(ctx, addr, blockNumber, cfg)
}

// Config holds per-address analysis overrides.
// The zero value means "analyze normally and follow every relative".
type Config struct {
	// Name overrides the display name reported for the address.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// IgnoreDiscovery analyzes the address but never follows its relatives.
	IgnoreDiscovery bool `yaml:"ignoreDiscovery,omitempty" json:"ignoreDiscovery,omitempty"`

	// IgnoreRelatives lists fields whose addresses are not followed.
	IgnoreRelatives []string `yaml:"ignoreRelatives,omitempty" json:"ignoreRelatives,omitempty"`

	// IgnoreMethods lists fields the analyzer must not read at all.
	IgnoreMethods []string `yaml:"ignoreMethods,omitempty" json:"ignoreMethods,omitempty"`
}

// IgnoresRelative reports whether addresses found in field are not followed.
func (c Config) IgnoresRelative(field string) bool {
	if c.IgnoreDiscovery {
		return true
	}
	return contains(c.IgnoreRelatives, field)
}

// IgnoresMethod reports whether field must not be read.
func (c Config) IgnoresMethod(field string) bool {
	return contains(c.IgnoreMethods, field)
}

// Merge returns c with non-zero fields of override applied on top.
// Slices from override replace those in c.
func (c Config) Merge(override Config) Config {
	result := c
	if override.Name != "" {
		result.Name = override.Name
	}
	if override.IgnoreDiscovery {
		result.IgnoreDiscovery = true
	}
	if len(override.IgnoreRelatives) > 0 {
		result.IgnoreRelatives = override.IgnoreRelatives
	}
	if len(override.IgnoreMethods) > 0 {
		result.IgnoreMethods = override.IgnoreMethods
	}
	return result
}

// FilterRelatives drops the relatives cfg says must not be followed.
// The input slice is not modified.
func FilterRelatives(rels []model.Relative, cfg Config) []model.Relative {
	if cfg.IgnoreDiscovery {
		return nil
	}
	out := make([]model.Relative, 0, len(rels))
	for _, r := range rels {
		if cfg.IgnoresRelative(r.Field) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
