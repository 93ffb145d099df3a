package discovery

import (
	"fmt"

	"github.com/nao1215/chainscan/internal/model"
)

// EntryState is the lifecycle state of a frontier entry.
type EntryState int

const (
	// EntryPending entries wait for a free worker.
	EntryPending EntryState = iota
	// EntryInFlight entries have been handed to the scheduler.
	EntryInFlight
	// EntryResolved entries have an analysis result.
	EntryResolved
	// EntryFailed entries could not be analyzed (best-effort runs only keep
	// going past these).
	EntryFailed
)

// String returns a short name for logs.
func (s EntryState) String() string {
	switch s {
	case EntryPending:
		return "pending"
	case EntryInFlight:
		return "in-flight"
	case EntryResolved:
		return "resolved"
	case EntryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Provenance records how an address was first reached.
type Provenance struct {
	// Referrer is the address whose analysis referenced this one.
	// Zero for seeds.
	Referrer model.Address

	// Field is the analysis field that held the reference.
	Field string

	// Depth is the number of hops from the seed. Seeds have depth 0.
	Depth int

	// SeedIndex is the position of the originating seed.
	SeedIndex int
}

// IsSeed reports whether the provenance describes a seed address.
func (p Provenance) IsSeed() bool {
	return p.Referrer.IsZero()
}

// Entry is one address tracked by the frontier.
type Entry struct {
	Address    model.Address
	Provenance Provenance
	State      EntryState

	// Order is the first-seen position within the run.
	Order int

	// Result is set once the entry is resolved.
	Result *model.AnalysisResult

	// Err and Attempts are set once the entry has failed.
	Err      error
	Attempts int
}

// Edge is a reference from one analyzed address to another.
type Edge struct {
	From  model.Address
	To    model.Address
	Field string

	// Revisit is true when To had already been seen, i.e. the edge closes a
	// cycle or joins a diamond.
	Revisit bool
}

// FrontierStats summarises a frontier.
type FrontierStats struct {
	Seen     int
	Pending  int
	InFlight int
	Resolved int
	Failed   int
	Edges    int
	Revisits int
}

// Frontier tracks every address of one run: which are queued, which are
// being analyzed and which are done.
//
// Design decision: The frontier is an explicit queue plus a visited map
// rather than recursion over analysis results because:
//  1. Cycles (A -> B -> A) terminate by construction: an address is
//     enqueued at most once per run
//  2. Recursion depth is bounded by nothing on chain; the queue is bounded
//     by the number of distinct addresses
//  3. Concurrency reduces to a single goroutine mutating plain data
//
// A Frontier is not safe for concurrent use. The engine's coordinating
// goroutine is its only writer; workers never see it.
type Frontier struct {
	entries map[model.Address]*Entry
	order   []*Entry
	queue   []model.Address
	edges   []Edge

	inFlight int
	resolved int
	failed   int
	revisits int
}

// NewFrontier creates an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		entries: make(map[model.Address]*Entry),
	}
}

// Enqueue adds addr as pending if it has never been seen in this run and
// reports whether it did. The first provenance wins. Every call with a
// non-seed provenance records an edge, including calls for addresses that
// are already known; those never trigger another analysis.
func (f *Frontier) Enqueue(addr model.Address, prov Provenance) bool {
	_, seen := f.entries[addr]

	if !prov.IsSeed() {
		f.edges = append(f.edges, Edge{
			From:    prov.Referrer,
			To:      addr,
			Field:   prov.Field,
			Revisit: seen,
		})
	}

	if seen {
		f.revisits++
		return false
	}

	e := &Entry{
		Address:    addr,
		Provenance: prov,
		State:      EntryPending,
		Order:      len(f.order),
	}
	f.entries[addr] = e
	f.order = append(f.order, e)
	f.queue = append(f.queue, addr)
	return true
}

// NextBatch returns up to n pending entries in first-seen order and marks
// them in flight. The returned values are copies.
func (f *Frontier) NextBatch(n int) []Entry {
	if n <= 0 || len(f.queue) == 0 {
		return nil
	}
	if n > len(f.queue) {
		n = len(f.queue)
	}

	batch := make([]Entry, 0, n)
	for _, addr := range f.queue[:n] {
		e := f.entries[addr]
		e.State = EntryInFlight
		batch = append(batch, *e)
	}
	f.queue = f.queue[n:]
	f.inFlight += n
	return batch
}

// Complete marks an in-flight address resolved and stores its result.
func (f *Frontier) Complete(addr model.Address, result *model.AnalysisResult) error {
	if result == nil {
		return fmt.Errorf("complete %s: %w", addr, ErrNilResult)
	}
	e, err := f.takeInFlight(addr)
	if err != nil {
		return err
	}
	e.State = EntryResolved
	e.Result = result
	f.resolved++
	return nil
}

// Fail marks an in-flight address as failed.
func (f *Frontier) Fail(addr model.Address, cause error, attempts int) error {
	e, err := f.takeInFlight(addr)
	if err != nil {
		return err
	}
	e.State = EntryFailed
	e.Err = cause
	e.Attempts = attempts
	f.failed++
	return nil
}

// takeInFlight looks up addr and checks that it is in flight.
func (f *Frontier) takeInFlight(addr model.Address) (*Entry, error) {
	e, ok := f.entries[addr]
	if !ok || e.State != EntryInFlight {
		return nil, fmt.Errorf("%s: %w", addr, ErrNotInFlight)
	}
	f.inFlight--
	return e, nil
}

// IsConverged reports whether nothing is pending or in flight.
func (f *Frontier) IsConverged() bool {
	return len(f.queue) == 0 && f.inFlight == 0
}

// Entry returns a copy of the entry for addr.
func (f *Frontier) Entry(addr model.Address) (Entry, bool) {
	e, ok := f.entries[addr]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of distinct addresses seen.
func (f *Frontier) Len() int {
	return len(f.order)
}

// Entries returns copies of all entries in first-seen order.
func (f *Frontier) Entries() []Entry {
	out := make([]Entry, len(f.order))
	for i, e := range f.order {
		out[i] = *e
	}
	return out
}

// Results returns the analysis results of resolved entries in first-seen
// order.
func (f *Frontier) Results() []*model.AnalysisResult {
	out := make([]*model.AnalysisResult, 0, f.resolved)
	for _, e := range f.order {
		if e.State == EntryResolved {
			out = append(out, e.Result)
		}
	}
	return out
}

// Unfinished returns copies of entries that are still pending or in flight.
func (f *Frontier) Unfinished() []Entry {
	var out []Entry
	for _, e := range f.order {
		if e.State == EntryPending || e.State == EntryInFlight {
			out = append(out, *e)
		}
	}
	return out
}

// BackEdges returns the references that reached an already known address
// (cycles, diamonds and self references), in recording order.
func (f *Frontier) BackEdges() []Edge {
	out := make([]Edge, 0, f.revisits)
	for _, e := range f.edges {
		if e.Revisit {
			out = append(out, e)
		}
	}
	return out
}

// Stats returns current counters.
func (f *Frontier) Stats() FrontierStats {
	return FrontierStats{
		Seen:     len(f.order),
		Pending:  len(f.queue),
		InFlight: f.inFlight,
		Resolved: f.resolved,
		Failed:   f.failed,
		Edges:    len(f.edges),
		Revisits: f.revisits,
	}
}
