package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nao1215/chainscan/internal/analyzer"
	"github.com/nao1215/chainscan/internal/model"
)

// fakeNode describes one address of a fake chain.
type fakeNode struct {
	eoa   bool
	name  string
	links []model.Address

	// fail returns the error for the given 1-based attempt, or nil.
	fail func(attempt int) error
}

// fakeChain is an AddressAnalyzer over a fixed graph. It records call counts
// and the peak number of concurrent calls.
type fakeChain struct {
	nodes map[model.Address]fakeNode

	// maxDelay adds a random sleep to every call to shuffle completion order.
	maxDelay time.Duration

	// block, when set, makes every call for that address wait for ctx.
	block map[model.Address]bool

	// started is closed when the first blocked call begins.
	started     chan struct{}
	startedOnce sync.Once

	mu    sync.Mutex
	calls map[model.Address]int
	peak  int32

	current atomic.Int32
}

func newFakeChain(nodes map[model.Address]fakeNode) *fakeChain {
	return &fakeChain{
		nodes:   nodes,
		calls:   make(map[model.Address]int),
		block:   make(map[model.Address]bool),
		started: make(chan struct{}),
	}
}

func (f *fakeChain) Analyze(ctx context.Context, a model.Address, _ uint64, cfg analyzer.Config) (*model.AnalysisResult, error) {
	cur := f.current.Add(1)
	defer f.current.Add(-1)

	f.mu.Lock()
	f.calls[a]++
	attempt := f.calls[a]
	if cur > f.peak {
		f.peak = cur
	}
	node, ok := f.nodes[a]
	blocked := f.block[a]
	f.mu.Unlock()

	if blocked {
		f.startedOnce.Do(func() { close(f.started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.maxDelay > 0 {
		time.Sleep(rand.N(f.maxDelay))
	}

	if !ok {
		return nil, analyzer.NewPermanentError(fmt.Errorf("no node at %s", a))
	}
	if node.fail != nil {
		if err := node.fail(attempt); err != nil {
			return nil, err
		}
	}

	res := &model.AnalysisResult{Address: a, Kind: model.KindContract, Name: node.name}
	if cfg.Name != "" {
		res.Name = cfg.Name
	}
	if node.eoa {
		res.Kind = model.KindEOA
		res.Name = ""
		return res, nil
	}
	res.Values = map[string]any{"links": len(node.links)}
	for i, l := range node.links {
		res.Relatives = append(res.Relatives, model.Relative{Field: fmt.Sprintf("link%d", i), Address: l})
	}
	return res, nil
}

func (f *fakeChain) callsFor(a model.Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[a]
}

func (f *fakeChain) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeChain) peakConcurrency() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// testOptions returns options with fast retries.
func testOptions() DiscoveryOptions {
	opts := DefaultDiscoveryOptions(100)
	opts.Retry = fastRetry(3)
	return opts
}

// contract builds a contract node.
func contract(name string, links ...model.Address) fakeNode {
	return fakeNode{name: name, links: links}
}

// TestEngineNoReanalysis tests that every address is analyzed once.
func TestEngineNoReanalysis(t *testing.T) {
	t.Parallel()

	t.Run("cycle A->B->A", func(t *testing.T) {
		t.Parallel()

		a, b := addr(0xa), addr(0xb)
		chain := newFakeChain(map[model.Address]fakeNode{
			a: contract("A", b),
			b: contract("B", a),
		})

		m, err := NewEngine(chain).Run(context.Background(), "cycle", []model.Address{a}, testOptions())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if chain.callsFor(a) != 1 || chain.callsFor(b) != 1 {
			t.Errorf("expected one call each, got A=%d B=%d", chain.callsFor(a), chain.callsFor(b))
		}
		if diff := cmp.Diff([]model.Address{a, b}, m.Addresses(), cmp.AllowUnexported(model.Address{})); diff != "" {
			t.Errorf("contract order mismatch (-want +got):\n%s", diff)
		}
		if refs := m.Contract(b).References; len(refs) != 1 || refs[0].Address != a {
			t.Errorf("expected back reference B->A to be kept, got %v", refs)
		}
	})

	t.Run("diamond", func(t *testing.T) {
		t.Parallel()

		a, b, c, d := addr(1), addr(2), addr(3), addr(4)
		chain := newFakeChain(map[model.Address]fakeNode{
			a: contract("A", b, c),
			b: contract("B", d),
			c: contract("C", d),
			d: contract("D"),
		})

		m, err := NewEngine(chain).Run(context.Background(), "diamond", []model.Address{a}, testOptions())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if chain.callsFor(d) != 1 {
			t.Errorf("expected D analyzed once, got %d", chain.callsFor(d))
		}
		if diff := cmp.Diff([]model.Address{a, b, c, d}, m.Addresses(), cmp.AllowUnexported(model.Address{})); diff != "" {
			t.Errorf("contract order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("duplicate seeds", func(t *testing.T) {
		t.Parallel()

		a := addr(1)
		chain := newFakeChain(map[model.Address]fakeNode{a: contract("A")})

		m, err := NewEngine(chain).Run(context.Background(), "dup", []model.Address{a, a, a}, testOptions())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if chain.callsFor(a) != 1 || len(m.Contracts) != 1 {
			t.Errorf("expected one call and one contract, got %d calls, %d contracts", chain.callsFor(a), len(m.Contracts))
		}
	})
}

// TestEngineEOAExclusion tests that EOAs never reach the manifest.
func TestEngineEOAExclusion(t *testing.T) {
	t.Parallel()

	a, b, owner := addr(1), addr(2), addr(0xee)
	chain := newFakeChain(map[model.Address]fakeNode{
		a:     contract("A", owner, b),
		b:     contract("B", owner),
		owner: {eoa: true},
	})

	m, err := NewEngine(chain).Run(context.Background(), "eoa", []model.Address{a, owner}, testOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if chain.callsFor(owner) != 1 {
		t.Errorf("expected EOA analyzed once, got %d", chain.callsFor(owner))
	}
	if m.Contract(owner) != nil {
		t.Error("expected EOA to be excluded from contracts")
	}
	if len(m.Contracts) != 2 {
		t.Errorf("expected 2 contracts, got %d", len(m.Contracts))
	}
	for _, c := range m.Contracts {
		for _, ref := range c.References {
			if ref.Address == owner {
				t.Errorf("expected no reference to EOA from %s", c.Address)
			}
		}
	}
}

// TestEngineConvergence tests that a finite cyclic closure terminates and
// resolves every address exactly once.
func TestEngineConvergence(t *testing.T) {
	t.Parallel()

	const n = 60
	nodes := make(map[model.Address]fakeNode, n)
	for i := range n {
		// Each node links forward, back to the start and to itself.
		nodes[addr(i+1)] = contract(fmt.Sprintf("C%d", i),
			addr((i+1)%n+1), addr(1), addr(i+1), addr((i*7)%n+1))
	}
	chain := newFakeChain(nodes)

	opts := testOptions()
	opts.MaxConcurrency = 5

	m, err := NewEngine(chain).Run(context.Background(), "ring", []model.Address{addr(1)}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Contracts) != n {
		t.Errorf("expected %d contracts, got %d", n, len(m.Contracts))
	}
	if chain.totalCalls() != n {
		t.Errorf("expected %d analyzer calls, got %d", n, chain.totalCalls())
	}
}

// TestEngineConcurrencyBound tests that MaxConcurrency is never exceeded.
func TestEngineConcurrencyBound(t *testing.T) {
	t.Parallel()

	for _, limit := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			t.Parallel()

			root := addr(1)
			var children []model.Address
			nodes := map[model.Address]fakeNode{}
			for i := 2; i < 42; i++ {
				children = append(children, addr(i))
				nodes[addr(i)] = contract("", addr(i+100))
				nodes[addr(i+100)] = contract("")
			}
			nodes[root] = contract("root", children...)

			chain := newFakeChain(nodes)
			chain.maxDelay = 2 * time.Millisecond

			opts := testOptions()
			opts.MaxConcurrency = limit

			if _, err := NewEngine(chain).Run(context.Background(), "wide", []model.Address{root}, opts); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if peak := chain.peakConcurrency(); peak > int32(limit) {
				t.Errorf("peak concurrency %d exceeds limit %d", peak, limit)
			}
		})
	}
}

// fiveAddressChain returns a graph of five contracts where the fourth fails
// permanently.
func fiveAddressChain() (*fakeChain, []model.Address) {
	a := []model.Address{addr(1), addr(2), addr(3), addr(4), addr(5)}
	chain := newFakeChain(map[model.Address]fakeNode{
		a[0]: contract("Root", a[1], a[2]),
		a[1]: contract("B", a[3]),
		a[2]: contract("C", a[4]),
		a[3]: {fail: func(int) error { return analyzer.NewPermanentError(errors.New("analyzer rejected address")) }},
		a[4]: contract("E"),
	})
	return chain, a
}

// TestEngineFailureModes tests fail-fast and best-effort behaviour.
func TestEngineFailureModes(t *testing.T) {
	t.Parallel()

	t.Run("fail-fast aborts without manifest", func(t *testing.T) {
		t.Parallel()

		chain, a := fiveAddressChain()
		m, err := NewEngine(chain).Run(context.Background(), "five", a[:1], testOptions())

		if m != nil {
			t.Errorf("expected no manifest, got %+v", m)
		}
		var aborted *RunAbortedError
		if !errors.As(err, &aborted) {
			t.Fatalf("expected RunAbortedError, got %v", err)
		}
		if aborted.Address != a[3] || aborted.Project != "five" {
			t.Errorf("unexpected abort details: %+v", aborted)
		}
		if !errors.Is(err, analyzer.ErrPermanent) {
			t.Error("expected cause to be reachable")
		}
	})

	t.Run("best-effort emits partial manifest", func(t *testing.T) {
		t.Parallel()

		chain, a := fiveAddressChain()
		opts := testOptions()
		opts.FailureMode = BestEffort

		m, err := NewEngine(chain).Run(context.Background(), "five", a[:1], opts)

		if !IsPartial(err) {
			t.Fatalf("expected PartialResultWarning, got %v", err)
		}
		if m == nil {
			t.Fatal("expected manifest")
		}
		if diff := cmp.Diff([]model.Address{a[0], a[1], a[2], a[4]}, m.Addresses(), cmp.AllowUnexported(model.Address{})); diff != "" {
			t.Errorf("contracts mismatch (-want +got):\n%s", diff)
		}
		if len(m.Unresolved) != 1 || m.Unresolved[0].Address != a[3] || m.Unresolved[0].Attempts != 1 {
			t.Errorf("unexpected unresolved: %+v", m.Unresolved)
		}

		var w *PartialResultWarning
		if !errors.As(err, &w) || len(w.Unresolved) != 1 {
			t.Errorf("expected warning to list the unresolved address, got %v", err)
		}
		if !errors.Is(err, analyzer.ErrPermanent) {
			t.Error("expected warning to expose the cause")
		}
	})

	t.Run("best-effort keeps exhausted retries as unresolved", func(t *testing.T) {
		t.Parallel()

		a, b := addr(1), addr(2)
		chain := newFakeChain(map[model.Address]fakeNode{
			a: contract("A", b),
			b: {fail: func(int) error { return errors.New("503 service unavailable: try again") }},
		})
		opts := testOptions()
		opts.FailureMode = BestEffort
		opts.Retry = fastRetry(2)

		m, err := NewEngine(chain).Run(context.Background(), "retry", []model.Address{a}, opts)
		if !IsPartial(err) || m == nil {
			t.Fatalf("expected partial manifest, got %v", err)
		}
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Errorf("expected ErrRetriesExhausted, got %v", err)
		}
		if len(m.Unresolved) != 1 || m.Unresolved[0].Attempts != 2 {
			t.Errorf("unexpected unresolved: %+v", m.Unresolved)
		}
	})
}

// TestEngineRetry tests that transient failures are invisible when a retry
// succeeds.
func TestEngineRetry(t *testing.T) {
	t.Parallel()

	a, b := addr(1), addr(2)
	chain := newFakeChain(map[model.Address]fakeNode{
		a: contract("A", b),
		b: {name: "B", fail: func(attempt int) error {
			if attempt <= 2 {
				return analyzer.NewTransientError(errors.New("rate limited"))
			}
			return nil
		}},
	})

	opts := testOptions()
	opts.Retry = fastRetry(3)

	m, err := NewEngine(chain).Run(context.Background(), "retry", []model.Address{a}, opts)
	if err != nil {
		t.Fatalf("expected no visible error, got %v", err)
	}
	if chain.callsFor(b) != 3 {
		t.Errorf("expected 3 calls for B, got %d", chain.callsFor(b))
	}
	if m.IsPartial() || m.Contract(b) == nil {
		t.Errorf("expected B resolved, got %+v", m)
	}
}

// randomGraph builds a reproducible graph of n contracts with a few EOAs.
func randomGraph(n int, seed uint64) map[model.Address]fakeNode {
	r := rand.New(rand.NewPCG(seed, seed))
	nodes := make(map[model.Address]fakeNode, n)
	for i := 1; i <= n; i++ {
		if i%9 == 0 {
			nodes[addr(i)] = fakeNode{eoa: true}
			continue
		}
		var links []model.Address
		for range r.IntN(4) {
			links = append(links, addr(r.IntN(n)+1))
		}
		nodes[addr(i)] = contract(fmt.Sprintf("Contract%d", i), links...)
	}
	return nodes
}

// TestEngineDeterminism tests that manifests do not depend on completion order.
func TestEngineDeterminism(t *testing.T) {
	t.Parallel()

	nodes := randomGraph(80, 42)
	seeds := []model.Address{addr(1), addr(17), addr(33), addr(2)}

	var (
		first     *model.ProjectManifest
		firstJSON []byte
	)
	for run := range 5 {
		chain := newFakeChain(nodes)
		chain.maxDelay = 3 * time.Millisecond

		opts := testOptions()
		opts.MaxConcurrency = 1 + run*2

		m, err := NewEngine(chain).Run(context.Background(), "determinism", seeds, opts)
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", run, err)
		}
		data, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("run %d: marshal: %v", run, err)
		}

		if first == nil {
			first, firstJSON = m, data
			continue
		}
		if diff := cmp.Diff(first, m, cmp.AllowUnexported(model.Address{})); diff != "" {
			t.Errorf("run %d differs (-first +got):\n%s", run, diff)
		}
		if !bytes.Equal(firstJSON, data) {
			t.Errorf("run %d: JSON not byte-identical", run)
		}
	}
}

// TestEngineCancellation tests caller cancellation and run timeouts.
func TestEngineCancellation(t *testing.T) {
	t.Parallel()

	t.Run("cancelled run emits no manifest", func(t *testing.T) {
		t.Parallel()

		a, b := addr(1), addr(2)
		chain := newFakeChain(map[model.Address]fakeNode{a: contract("A", b), b: contract("B")})
		chain.block[b] = true

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-chain.started
			cancel()
		}()

		m, err := NewEngine(chain).Run(ctx, "cancel", []model.Address{a}, testOptions())
		if m != nil {
			t.Errorf("expected no manifest, got %+v", m)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("run timeout", func(t *testing.T) {
		t.Parallel()

		a := addr(1)
		chain := newFakeChain(map[model.Address]fakeNode{a: contract("A")})
		chain.block[a] = true

		opts := testOptions()
		opts.RunTimeout = 20 * time.Millisecond

		_, err := NewEngine(chain).Run(context.Background(), "timeout", []model.Address{a}, opts)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
		if chain.callsFor(a) != 1 {
			t.Errorf("expected cancelled call not to be retried, got %d calls", chain.callsFor(a))
		}
	})

	t.Run("best-effort partial on cancel", func(t *testing.T) {
		t.Parallel()

		a, b, c := addr(1), addr(2), addr(3)
		chain := newFakeChain(map[model.Address]fakeNode{
			a: contract("A", b, c),
			b: contract("B"),
			c: contract("C"),
		})
		chain.block[b] = true
		chain.block[c] = true

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-chain.started
			cancel()
		}()

		opts := testOptions()
		opts.FailureMode = BestEffort
		opts.PartialOnCancel = true

		m, err := NewEngine(chain).Run(ctx, "partial", []model.Address{a}, opts)
		if !IsPartial(err) || !errors.Is(err, context.Canceled) {
			t.Fatalf("expected partial warning wrapping context.Canceled, got %v", err)
		}
		var warning *PartialResultWarning
		if errors.As(err, &warning) && !warning.Cancelled {
			t.Error("expected warning to be marked cancelled")
		}
		if m == nil || len(m.Contracts) != 1 || m.Contracts[0].Address != a {
			t.Fatalf("expected only A resolved, got %+v", m)
		}
		var got []model.Address
		for _, u := range m.Unresolved {
			got = append(got, u.Address)
		}
		if diff := cmp.Diff([]model.Address{b, c}, got, cmp.AllowUnexported(model.Address{})); diff != "" {
			t.Errorf("unresolved mismatch (-want +got):\n%s", diff)
		}
	})
}

// TestEngineOptions tests skip lists, overrides and the address limit.
func TestEngineOptions(t *testing.T) {
	t.Parallel()

	t.Run("skip addresses are never analyzed", func(t *testing.T) {
		t.Parallel()

		a, b, c := addr(1), addr(2), addr(3)
		chain := newFakeChain(map[model.Address]fakeNode{
			a: contract("A", b, c),
			b: contract("B"),
			c: contract("C"),
		})
		opts := testOptions()
		opts.SkipAddresses = []model.Address{b}

		m, err := NewEngine(chain).Run(context.Background(), "skip", []model.Address{a, b}, opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if chain.callsFor(b) != 0 {
			t.Error("expected skipped address not to be analyzed")
		}
		if m.Contract(b) != nil || len(m.Contracts) != 2 {
			t.Errorf("unexpected contracts: %v", m.Addresses())
		}
	})

	t.Run("override stops discovery and renames", func(t *testing.T) {
		t.Parallel()

		a, b := addr(1), addr(2)
		chain := newFakeChain(map[model.Address]fakeNode{a: contract("A", b), b: contract("B")})
		opts := testOptions()
		opts.Overrides = map[model.Address]analyzer.Config{
			a: {IgnoreDiscovery: true, Name: "Vault"},
		}

		m, err := NewEngine(chain).Run(context.Background(), "override", []model.Address{a}, opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if chain.callsFor(b) != 0 {
			t.Error("expected relatives of ignored address not to be followed")
		}
		if len(m.Contracts) != 1 || m.Contracts[0].Name != "Vault" {
			t.Errorf("unexpected manifest: %+v", m.Contracts)
		}
	})

	t.Run("ignore relatives by field", func(t *testing.T) {
		t.Parallel()

		a, b, c := addr(1), addr(2), addr(3)
		chain := newFakeChain(map[model.Address]fakeNode{a: contract("A", b, c), b: contract("B"), c: contract("C")})
		opts := testOptions()
		opts.Defaults = analyzer.Config{IgnoreRelatives: []string{"link0"}}

		m, err := NewEngine(chain).Run(context.Background(), "fields", []model.Address{a}, opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff([]model.Address{a, c}, m.Addresses(), cmp.AllowUnexported(model.Address{})); diff != "" {
			t.Errorf("contracts mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("address limit", func(t *testing.T) {
		t.Parallel()

		nodes := map[model.Address]fakeNode{}
		for i := 1; i <= 10; i++ {
			nodes[addr(i)] = contract("", addr(i+1))
		}
		nodes[addr(11)] = contract("")
		opts := testOptions()
		opts.MaxAddresses = 5

		m, err := NewEngine(newFakeChain(nodes)).Run(context.Background(), "limit", []model.Address{addr(1)}, opts)
		if m != nil || !errors.Is(err, ErrAddressLimitExceeded) {
			t.Errorf("expected ErrAddressLimitExceeded, got %v", err)
		}
	})

	t.Run("caller mutations do not leak into the run", func(t *testing.T) {
		t.Parallel()

		a, b := addr(1), addr(2)
		opts := testOptions()
		opts.SkipAddresses = []model.Address{b}

		var chain *fakeChain
		mutating := analyzer.Func(func(ctx context.Context, got model.Address, block uint64, cfg analyzer.Config) (*model.AnalysisResult, error) {
			opts.SkipAddresses[0] = addr(99)
			return chain.Analyze(ctx, got, block, cfg)
		})
		chain = newFakeChain(map[model.Address]fakeNode{a: contract("A", b), b: contract("B")})

		m, err := NewEngine(mutating).Run(context.Background(), "mutate", []model.Address{a}, opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.Contract(b) != nil || chain.callsFor(b) != 0 {
			t.Errorf("expected B to stay skipped, got %v", m.Addresses())
		}
	})
}

// TestEngineValidation tests input validation.
func TestEngineValidation(t *testing.T) {
	t.Parallel()

	chain := newFakeChain(map[model.Address]fakeNode{addr(1): contract("A")})
	seeds := []model.Address{addr(1)}

	tests := []struct {
		name    string
		project string
		seeds   []model.Address
		mutate  func(*DiscoveryOptions)
		want    error
	}{
		{name: "missing block", project: "p", seeds: seeds, mutate: func(o *DiscoveryOptions) { o.BlockNumber = 0 }, want: ErrNoBlockNumber},
		{name: "zero concurrency", project: "p", seeds: seeds, mutate: func(o *DiscoveryOptions) { o.MaxConcurrency = 0 }, want: ErrInvalidConcurrency},
		{name: "zero attempts", project: "p", seeds: seeds, mutate: func(o *DiscoveryOptions) { o.Retry.MaxAttempts = 0 }, want: ErrInvalidAttempts},
		{name: "inverted backoff", project: "p", seeds: seeds, mutate: func(o *DiscoveryOptions) { o.Retry.MinBackoff = time.Second; o.Retry.MaxBackoff = time.Millisecond }, want: ErrInvalidBackoff},
		{name: "unknown failure mode", project: "p", seeds: seeds, mutate: func(o *DiscoveryOptions) { o.FailureMode = 7 }, want: ErrUnknownFailureMode},
		{name: "negative limit", project: "p", seeds: seeds, mutate: func(o *DiscoveryOptions) { o.MaxAddresses = -1 }, want: ErrInvalidAddressLimit},
		{name: "negative timeout", project: "p", seeds: seeds, mutate: func(o *DiscoveryOptions) { o.RunTimeout = -time.Second }, want: ErrInvalidRunTimeout},
		{name: "no seeds", project: "p", seeds: nil, mutate: func(*DiscoveryOptions) {}, want: ErrNoSeeds},
		{name: "only zero seed", project: "p", seeds: []model.Address{model.ZeroAddress}, mutate: func(*DiscoveryOptions) {}, want: ErrNoSeeds},
		{name: "no project name", project: "", seeds: seeds, mutate: func(*DiscoveryOptions) {}, want: ErrNoProjectName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := testOptions()
			tt.mutate(&opts)
			m, err := NewEngine(chain).Run(context.Background(), tt.project, tt.seeds, opts)
			if m != nil || !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got manifest=%v err=%v", tt.want, m, err)
			}
		})
	}

	if chain.totalCalls() != 0 {
		t.Errorf("expected invalid runs not to call the analyzer, got %d calls", chain.totalCalls())
	}
}

// recordingObserver counts observer events.
type recordingObserver struct {
	mu         sync.Mutex
	started    int
	finished   []State
	discovered int
	analyses   map[string]int
	retries    int
}

func (o *recordingObserver) RunStarted(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) RunFinished(_ string, s State, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, s)
}

func (o *recordingObserver) AddressDiscovered(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.discovered++
}

func (o *recordingObserver) AnalysisStarted() {}

func (o *recordingObserver) AnalysisFinished(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.analyses == nil {
		o.analyses = make(map[string]int)
	}
	o.analyses[outcome]++
}

func (o *recordingObserver) RetryScheduled(time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

// TestEngineObserver tests that run and analysis events are reported.
func TestEngineObserver(t *testing.T) {
	t.Parallel()

	a, b := addr(1), addr(2)
	chain := newFakeChain(map[model.Address]fakeNode{
		a: contract("A", b),
		b: {fail: func(attempt int) error {
			if attempt == 1 {
				return analyzer.NewTransientError(errors.New("timeout"))
			}
			return nil
		}},
	})

	obs := &recordingObserver{}
	if _, err := NewEngine(chain, WithObserver(obs)).Run(context.Background(), "obs", []model.Address{a}, testOptions()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if obs.started != 1 {
		t.Errorf("expected 1 run started, got %d", obs.started)
	}
	if diff := cmp.Diff([]State{StateConverged}, obs.finished); diff != "" {
		t.Errorf("finished states mismatch (-want +got):\n%s", diff)
	}
	if obs.discovered != 2 {
		t.Errorf("expected 2 discovered, got %d", obs.discovered)
	}
	if obs.analyses[OutcomeSuccess] != 2 || obs.analyses[OutcomeTransient] != 1 {
		t.Errorf("unexpected analysis outcomes: %v", obs.analyses)
	}
	if obs.retries != 1 {
		t.Errorf("expected 1 retry, got %d", obs.retries)
	}
}

// TestEngineConcurrentRuns tests that runs sharing an Engine are isolated.
func TestEngineConcurrentRuns(t *testing.T) {
	t.Parallel()

	nodes := randomGraph(40, 7)
	chain := newFakeChain(nodes)
	chain.maxDelay = time.Millisecond
	e := NewEngine(chain)

	want, err := NewEngine(newFakeChain(nodes)).Run(context.Background(), "shared", []model.Address{addr(1)}, testOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]*model.ProjectManifest, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = e.Run(context.Background(), "shared", []model.Address{addr(1)}, testOptions())
		}()
	}
	wg.Wait()

	for i, got := range results {
		if diff := cmp.Diff(want, got, cmp.AllowUnexported(model.Address{})); diff != "" {
			t.Errorf("run %d differs (-want +got):\n%s", i, diff)
		}
	}
}

// callTimeout is what an analyzer returns when its own RPC call timed out.
var callTimeout = analyzer.NewTransientError(fmt.Errorf("eth_getCode: %w", context.DeadlineExceeded))

// TestEngineAnalyzerTimeouts tests that per-call timeouts are analysis
// failures, not run cancellation.
func TestEngineAnalyzerTimeouts(t *testing.T) {
	t.Parallel()

	t.Run("exhausted timeouts leave a converged partial run", func(t *testing.T) {
		t.Parallel()

		a, b := addr(0xaa), addr(0xbb)
		chain := newFakeChain(map[model.Address]fakeNode{
			a: {name: "A", fail: func(int) error { return callTimeout }},
			b: contract("B"),
		})

		opts := testOptions()
		opts.Retry = fastRetry(2)
		opts.FailureMode = BestEffort

		m, err := NewEngine(chain).Run(context.Background(), "timeouts", []model.Address{a, b}, opts)
		var warning *PartialResultWarning
		if !errors.As(err, &warning) {
			t.Fatalf("expected PartialResultWarning, got %v", err)
		}
		if warning.Cancelled {
			t.Error("analyzer timeouts must not mark the run cancelled")
		}
		if m == nil || len(m.Contracts) != 1 || m.Contracts[0].Address != b {
			t.Fatalf("expected only B resolved, got %+v", m)
		}
		if len(m.Unresolved) != 1 || m.Unresolved[0].Address != a || m.Unresolved[0].Attempts != 2 {
			t.Errorf("unexpected unresolved %+v", m.Unresolved)
		}
	})

	t.Run("drained failure keeps its own cause on cancel", func(t *testing.T) {
		t.Parallel()

		a := addr(0xaa)
		chain := newFakeChain(map[model.Address]fakeNode{
			a: {name: "A", fail: func(int) error { return callTimeout }},
		})

		opts := testOptions()
		opts.Retry = fastRetry(1)
		opts.FailureMode = BestEffort
		opts.PartialOnCancel = true

		r, err := NewEngine(chain).newRun("drain", []model.Address{a}, opts)
		if err != nil {
			t.Fatal(err)
		}
		// Workers keep a live context so the outcome is a real analysis
		// failure waiting to be drained when the run is cancelled.
		r.cancel = func() {}
		r.frontier = NewFrontier()
		r.sched = NewScheduler(chain, opts.BlockNumber, opts.MaxConcurrency, opts.Retry)
		r.frontier.Enqueue(a, Provenance{})
		for _, entry := range r.frontier.NextBatch(1) {
			if err := r.sched.Dispatch(context.Background(), Job{Address: entry.Address}); err != nil {
				t.Fatal(err)
			}
		}

		runCtx, cancel := context.WithCancel(context.Background())
		cancel()
		m, err := r.cancelled(runCtx)

		var warning *PartialResultWarning
		if !errors.As(err, &warning) || !warning.Cancelled {
			t.Fatalf("expected cancelled partial warning, got %v", err)
		}
		if m == nil || len(m.Unresolved) != 1 {
			t.Fatalf("expected one unresolved address, got %+v", m)
		}
		u := m.Unresolved[0]
		if u.Address != a || u.Attempts != 1 || !strings.Contains(u.Reason, ErrRetriesExhausted.Error()) {
			t.Errorf("expected retries-exhausted failure for A, got %+v", u)
		}
		if entry, _ := r.frontier.Entry(a); entry.State != EntryFailed {
			t.Errorf("expected A to be failed, got %s", entry.State)
		}
	})
}

// TestEngineLogsRevisits tests that back edges are logged at debug level.
func TestEngineLogsRevisits(t *testing.T) {
	t.Parallel()

	a, b := addr(0xa), addr(0xb)
	chain := newFakeChain(map[model.Address]fakeNode{
		a: contract("A", b),
		b: contract("B", a),
	})

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if _, err := NewEngine(chain, WithLogger(logger)).Run(context.Background(), "cycle", []model.Address{a}, testOptions()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"revisited address", "from=" + b.Checksum(), "to=" + a.Checksum(), "field=link0"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected log to contain %q\n%s", want, output)
		}
	}
}

// TestRunDiscovery tests the package-level entry point.
func TestRunDiscovery(t *testing.T) {
	t.Parallel()

	a, b := addr(1), addr(2)
	chain := newFakeChain(map[model.Address]fakeNode{a: contract("A", b), b: contract("B")})

	m, err := RunDiscovery(context.Background(), chain, "entry", []model.Address{a}, testOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Name != "entry" || m.BlockNumber != 100 {
		t.Errorf("unexpected manifest header %+v", m)
	}
	if diff := cmp.Diff([]model.Address{a, b}, m.Addresses(), cmp.AllowUnexported(model.Address{})); diff != "" {
		t.Errorf("contracts mismatch (-want +got):\n%s", diff)
	}
}
