package model

// ContractRecord is the public representation of one discovered contract.
// It intentionally has no Kind field: EOAs never reach a manifest.
type ContractRecord struct {
	// Name is the contract name, if known.
	Name string `json:"name,omitempty"`

	// Address is the contract address.
	Address Address `json:"address"`

	// Upgradeability describes proxy structure.
	Upgradeability *Upgradeability `json:"upgradeability,omitempty"`

	// TemplateMatch names a known bytecode template the contract matched.
	TemplateMatch string `json:"templateMatch,omitempty"`

	// Values holds raw named values read during analysis.
	Values map[string]any `json:"values,omitempty"`

	// Errors holds per-field read errors reported by the analyzer.
	Errors map[string]string `json:"errors,omitempty"`

	// References are edges to other addresses discovered in the same run.
	References []Relative `json:"references,omitempty"`
}

// UnresolvedAddress is an address a best-effort run could not analyze.
type UnresolvedAddress struct {
	// Address is the address that failed.
	Address Address `json:"address"`

	// Reason is the final error message.
	Reason string `json:"reason"`

	// Attempts is how many analyzer calls were made.
	Attempts int `json:"attempts"`
}

// ProjectManifest is the final artifact of a discovery run.
// For unchanged chain state its JSON encoding is byte-identical across runs.
type ProjectManifest struct {
	// Name is the project name.
	Name string `json:"name"`

	// BlockNumber is the pinned block height of the run.
	BlockNumber uint64 `json:"blockNumber"`

	// Contracts is the deterministically ordered list of contracts.
	Contracts []ContractRecord `json:"contracts"`

	// Unresolved lists addresses that failed in best-effort mode.
	Unresolved []UnresolvedAddress `json:"unresolved,omitempty"`
}

// IsPartial reports whether some addresses were left unresolved.
func (m *ProjectManifest) IsPartial() bool {
	return len(m.Unresolved) > 0
}

// Contract returns the record for addr, or nil.
func (m *ProjectManifest) Contract(addr Address) *ContractRecord {
	for i := range m.Contracts {
		if m.Contracts[i].Address == addr {
			return &m.Contracts[i]
		}
	}
	return nil
}

// Addresses returns the contract addresses in manifest order.
func (m *ProjectManifest) Addresses() []Address {
	out := make([]Address, len(m.Contracts))
	for i, c := range m.Contracts {
		out[i] = c.Address
	}
	return out
}
