package discovery

import (
	"fmt"
	"maps"
	"slices"

	"github.com/nao1215/chainscan/internal/model"
)

// AssemblyInput is everything the assembler needs to build a manifest.
// Results and Unresolved may be in any order.
type AssemblyInput struct {
	Name        string
	BlockNumber uint64

	// Seeds are the canonical, deduplicated seeds in caller order.
	Seeds []model.Address

	// Results are the resolved analyses, EOAs included.
	Results []*model.AnalysisResult

	// Unresolved are addresses a best-effort run could not analyze.
	Unresolved []model.UnresolvedAddress

	// Follow returns the relatives a result was expanded into. When nil,
	// every relative is followed.
	Follow func(*model.AnalysisResult) []model.Relative
}

// Assemble builds the manifest for a converged (or partially resolved) run.
//
// Design decision: Contract order is recomputed here with a breadth-first
// walk over the results instead of being taken from the frontier, because
// the frontier's first-seen order depends on which analyses finished first.
// The walk visits seeds in caller order, then each node's relatives in the
// order the analyzer reported them. That order is a pure function of the
// results, so concurrent runs over the same chain state agree byte for byte.
func Assemble(in AssemblyInput) (*model.ProjectManifest, error) {
	follow := in.Follow
	if follow == nil {
		follow = func(r *model.AnalysisResult) []model.Relative { return r.Relatives }
	}

	results := make(map[model.Address]*model.AnalysisResult, len(in.Results))
	for _, r := range in.Results {
		if r == nil {
			return nil, ErrNilResult
		}
		if _, dup := results[r.Address]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRecord, r.Address.Checksum())
		}
		results[r.Address] = r
	}
	unresolved := make(map[model.Address]model.UnresolvedAddress, len(in.Unresolved))
	for _, u := range in.Unresolved {
		_, dupResult := results[u.Address]
		_, dupUnresolved := unresolved[u.Address]
		if dupResult || dupUnresolved {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRecord, u.Address.Checksum())
		}
		unresolved[u.Address] = u
	}

	known := func(a model.Address) bool {
		_, r := results[a]
		_, u := unresolved[a]
		return r || u
	}

	ranked := rank(in.Seeds, results, known, follow)

	// Anything not reachable from the seeds goes last in address order.
	var stragglers []model.Address
	for a := range results {
		if _, ok := ranked[a]; !ok {
			stragglers = append(stragglers, a)
		}
	}
	for a := range unresolved {
		if _, ok := ranked[a]; !ok {
			stragglers = append(stragglers, a)
		}
	}
	model.SortAddresses(stragglers)
	order := make([]model.Address, len(ranked), len(ranked)+len(stragglers))
	for a, i := range ranked {
		order[i] = a
	}
	order = append(order, stragglers...)

	// References point only at entries of this manifest.
	listed := func(a model.Address) bool {
		if r, ok := results[a]; ok {
			return !r.IsEOA()
		}
		_, ok := unresolved[a]
		return ok
	}

	manifest := &model.ProjectManifest{
		Name:        in.Name,
		BlockNumber: in.BlockNumber,
		Contracts:   make([]model.ContractRecord, 0, len(results)),
	}
	for _, a := range order {
		if u, ok := unresolved[a]; ok {
			manifest.Unresolved = append(manifest.Unresolved, u)
			continue
		}
		r := results[a]
		if r.IsEOA() {
			continue
		}
		manifest.Contracts = append(manifest.Contracts, toRecord(r, listed))
	}
	return manifest, nil
}

// rank assigns breadth-first positions starting from seeds.
func rank(
	seeds []model.Address,
	results map[model.Address]*model.AnalysisResult,
	known func(model.Address) bool,
	follow func(*model.AnalysisResult) []model.Relative,
) map[model.Address]int {
	ranked := make(map[model.Address]int, len(results))
	queue := make([]model.Address, 0, len(results))

	visit := func(a model.Address) {
		if _, ok := ranked[a]; ok || !known(a) {
			return
		}
		ranked[a] = len(queue)
		queue = append(queue, a)
	}

	for _, s := range seeds {
		visit(s)
	}
	for head := 0; head < len(queue); head++ {
		r, ok := results[queue[head]]
		if !ok {
			continue
		}
		for _, rel := range follow(r) {
			visit(rel.Address)
		}
	}
	return ranked
}

// toRecord copies the public fields of r. Maps and slices are cloned so the
// manifest shares nothing with the analysis result.
func toRecord(r *model.AnalysisResult, listed func(model.Address) bool) model.ContractRecord {
	rec := model.ContractRecord{
		Name:          r.Name,
		Address:       r.Address,
		TemplateMatch: r.TemplateMatch,
		Values:        maps.Clone(r.Values),
		Errors:        maps.Clone(r.Errors),
	}
	if r.Upgradeability != nil {
		u := *r.Upgradeability
		u.Implementations = slices.Clone(u.Implementations)
		if u.Admin != nil {
			admin := *u.Admin
			u.Admin = &admin
		}
		if u.Beacon != nil {
			beacon := *u.Beacon
			u.Beacon = &beacon
		}
		rec.Upgradeability = &u
	}

	seen := make(map[model.Relative]bool, len(r.Relatives))
	for _, rel := range r.Relatives {
		if rel.Address == r.Address || seen[rel] || !listed(rel.Address) {
			continue
		}
		seen[rel] = true
		rec.References = append(rec.References, rel)
	}
	return rec
}
