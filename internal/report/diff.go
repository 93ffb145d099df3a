package report

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/chainscan/internal/chain"
	"github.com/nao1215/chainscan/internal/model"
)

// Compared fields of a contract.
const (
	FieldName           = "name"
	FieldUpgradeability = "upgradeability"
	FieldImplementation = "implementation"
	FieldAdmin          = "admin"
	FieldBeacon         = "beacon"
	FieldTemplate       = "template"
	FieldCodeHash       = "code hash"
)

// FieldChange is one changed field of a contract.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// ContractChange lists the changed fields of a contract present in both
// manifests.
type ContractChange struct {
	Address model.Address `json:"address"`
	Name    string        `json:"name,omitempty"`
	Changes []FieldChange `json:"changes"`
}

// Diff is the difference between two manifests of the same project.
// Every list follows the manifest order of the side it comes from, so a
// diff of two deterministic manifests is deterministic too.
type Diff struct {
	Project   string                 `json:"project"`
	OldBlock  uint64                 `json:"oldBlock"`
	NewBlock  uint64                 `json:"newBlock"`
	Added     []model.ContractRecord `json:"added,omitempty"`
	Removed   []model.ContractRecord `json:"removed,omitempty"`
	Changed   []ContractChange       `json:"changed,omitempty"`
	Unchanged int                    `json:"unchanged"`
}

// HasChanges reports whether the manifests differ in any contract.
func (d *Diff) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Changed) > 0
}

// Compare computes the Diff from old to new.
func Compare(old, new *model.ProjectManifest) *Diff {
	d := &Diff{
		Project:  new.Name,
		OldBlock: old.BlockNumber,
		NewBlock: new.BlockNumber,
	}

	oldByAddr := make(map[model.Address]model.ContractRecord, len(old.Contracts))
	for _, c := range old.Contracts {
		oldByAddr[c.Address] = c
	}
	newByAddr := make(map[model.Address]bool, len(new.Contracts))

	for _, c := range new.Contracts {
		newByAddr[c.Address] = true
		prev, ok := oldByAddr[c.Address]
		if !ok {
			d.Added = append(d.Added, c)
			continue
		}
		if changes := compareContract(prev, c); len(changes) > 0 {
			d.Changed = append(d.Changed, ContractChange{Address: c.Address, Name: c.Name, Changes: changes})
		} else {
			d.Unchanged++
		}
	}
	for _, c := range old.Contracts {
		if !newByAddr[c.Address] {
			d.Removed = append(d.Removed, c)
		}
	}
	return d
}

// compareContract returns the changed fields in a fixed order.
func compareContract(old, new model.ContractRecord) []FieldChange {
	var changes []FieldChange
	add := func(field, o, n string) {
		if o != n {
			changes = append(changes, FieldChange{Field: field, Old: o, New: n})
		}
	}

	add(FieldName, old.Name, new.Name)
	add(FieldUpgradeability, upgradeabilityType(old), upgradeabilityType(new))
	add(FieldImplementation, implementations(old), implementations(new))
	add(FieldAdmin, admin(old), admin(new))
	add(FieldBeacon, beacon(old), beacon(new))
	add(FieldTemplate, old.TemplateMatch, new.TemplateMatch)
	add(FieldCodeHash, value(old, chain.FieldCodeHash), value(new, chain.FieldCodeHash))
	return changes
}

func implementations(c model.ContractRecord) string {
	if c.Upgradeability == nil {
		return ""
	}
	parts := make([]string, len(c.Upgradeability.Implementations))
	for i, a := range c.Upgradeability.Implementations {
		parts[i] = a.Checksum()
	}
	return strings.Join(parts, ", ")
}

func admin(c model.ContractRecord) string {
	if c.Upgradeability == nil || c.Upgradeability.Admin == nil {
		return ""
	}
	return c.Upgradeability.Admin.Checksum()
}

func beacon(c model.ContractRecord) string {
	if c.Upgradeability == nil || c.Upgradeability.Beacon == nil {
		return ""
	}
	return c.Upgradeability.Beacon.Checksum()
}

func value(c model.ContractRecord, key string) string {
	v, ok := c.Values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

// fieldTitle renders a field or manifest key for display: "$implementation"
// becomes "Implementation".
func fieldTitle(field string) string {
	return cases.Title(language.English).String(strings.TrimPrefix(field, "$"))
}

// orDash returns "-" for empty strings.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
