package report

import (
	"maps"
	"slices"

	"github.com/nao1215/chainscan/internal/chain"
	"github.com/nao1215/chainscan/internal/model"
)

// Summary is a condensed view of a manifest for quick display.
type Summary struct {
	// Project is the project name.
	Project string `json:"project"`

	// BlockNumber is the pinned block.
	BlockNumber uint64 `json:"blockNumber"`

	// Contracts is the number of contracts in the manifest.
	Contracts int `json:"contracts"`

	// Proxies is the number of contracts with a non-immutable upgradeability.
	Proxies int `json:"proxies"`

	// Unresolved is the number of addresses that could not be analyzed.
	Unresolved int `json:"unresolved"`

	// ByType counts contracts per upgradeability type.
	ByType map[string]int `json:"byType"`

	// Admins lists the distinct upgrade admins, in manifest order.
	Admins []model.Address `json:"admins,omitempty"`
}

// NewSummary computes a Summary from a manifest.
func NewSummary(m *model.ProjectManifest) *Summary {
	s := &Summary{
		Project:     m.Name,
		BlockNumber: m.BlockNumber,
		Contracts:   len(m.Contracts),
		Unresolved:  len(m.Unresolved),
		ByType:      make(map[string]int),
	}

	seenAdmin := make(map[model.Address]bool)
	for _, c := range m.Contracts {
		t := upgradeabilityType(c)
		s.ByType[t]++
		if t != chain.TypeImmutable {
			s.Proxies++
		}
		if c.Upgradeability != nil && c.Upgradeability.Admin != nil {
			admin := *c.Upgradeability.Admin
			if !seenAdmin[admin] {
				seenAdmin[admin] = true
				s.Admins = append(s.Admins, admin)
			}
		}
	}
	return s
}

// IsPartial reports whether some addresses were left unresolved.
func (s *Summary) IsPartial() bool {
	return s.Unresolved > 0
}

// Types returns the upgradeability types present, sorted.
func (s *Summary) Types() []string {
	return slices.Sorted(maps.Keys(s.ByType))
}

// upgradeabilityType returns the type of c, treating a missing
// upgradeability as immutable.
func upgradeabilityType(c model.ContractRecord) string {
	if c.Upgradeability == nil || c.Upgradeability.Type == "" {
		return chain.TypeImmutable
	}
	return c.Upgradeability.Type
}
