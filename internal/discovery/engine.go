package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/chainscan/internal/analyzer"
	"github.com/nao1215/chainscan/internal/model"
)

// State is the lifecycle state of one discovery run.
type State int

const (
	// StateIdle runs have validated options and seeds but dispatched nothing.
	StateIdle State = iota
	// StateRunning runs are dispatching analyses and expanding the frontier.
	StateRunning
	// StateConverged runs have nothing pending or in flight.
	StateConverged
	// StateFailed runs were aborted, cancelled or exceeded a limit.
	StateFailed
)

// String returns the state name used in logs and metrics labels.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateConverged:
		return "converged"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Engine runs discovery against one AddressAnalyzer.
//
// Design decision: The Engine holds no per-run state. Every call to Run
// builds its own frontier and scheduler, so one Engine can serve several
// concurrent runs (e.g. different projects) against the same analyzer.
type Engine struct {
	analyzer analyzer.AddressAnalyzer
	logger   *slog.Logger
	observer Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. If not set, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithObserver sets the observer notified of run and analysis events.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// NewEngine creates an Engine that analyzes addresses with a.
func NewEngine(a analyzer.AddressAnalyzer, opts ...Option) *Engine {
	e := &Engine{analyzer: a}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	return e
}

// RunDiscovery is a shorthand for NewEngine(a).Run(ctx, name, seeds, opts).
func RunDiscovery(ctx context.Context, a analyzer.AddressAnalyzer, name string, seeds []model.Address, opts DiscoveryOptions) (*model.ProjectManifest, error) {
	return NewEngine(a).Run(ctx, name, seeds, opts)
}

// Run discovers every contract reachable from seeds at opts.BlockNumber and
// returns the assembled manifest.
//
// On success the error is nil. A best-effort run that left addresses
// unresolved returns both a manifest and a *PartialResultWarning. Every other
// error comes with a nil manifest: a *RunAbortedError for a fail-fast abort,
// ErrAddressLimitExceeded, option validation errors, or the context error
// when the run was cancelled.
func (e *Engine) Run(ctx context.Context, name string, seeds []model.Address, opts DiscoveryOptions) (*model.ProjectManifest, error) {
	r, err := e.newRun(name, seeds, opts)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx)
}

// run is the state of one Run call. Only the goroutine executing it touches
// its fields; workers communicate through the scheduler.
type run struct {
	engine *Engine
	logger *slog.Logger

	name     string
	seeds    []model.Address
	opts     DiscoveryOptions
	skip     map[model.Address]bool
	state    State
	frontier *Frontier
	sched    *Scheduler
	cancel   context.CancelFunc

	failures []Entry
}

// newRun validates the inputs and builds an idle run.
func (e *Engine) newRun(name string, seeds []model.Address, opts DiscoveryOptions) (*run, error) {
	if name == "" {
		return nil, ErrNoProjectName
	}
	opts = opts.clone()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	skip := make(map[model.Address]bool, len(opts.SkipAddresses))
	for _, a := range opts.SkipAddresses {
		skip[a] = true
	}

	// Canonical addresses compare with ==, so dedup keeps the first
	// occurrence and preserves caller order.
	unique := make([]model.Address, 0, len(seeds))
	seen := make(map[model.Address]bool, len(seeds))
	for _, s := range seeds {
		if s.IsZero() || skip[s] || seen[s] {
			continue
		}
		seen[s] = true
		unique = append(unique, s)
	}
	if len(unique) == 0 {
		return nil, ErrNoSeeds
	}

	return &run{
		engine: e,
		logger: e.logger.With("project", name, "block", opts.BlockNumber),
		name:   name,
		seeds:  unique,
		opts:   opts,
		skip:   skip,
		state:  StateIdle,
	}, nil
}

// execute drives the run from Idle to Converged or Failed.
func (r *run) execute(parent context.Context) (_ *model.ProjectManifest, err error) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if r.opts.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, r.opts.RunTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	r.cancel = cancel
	defer cancel()

	start := time.Now()
	r.frontier = NewFrontier()
	r.sched = NewScheduler(r.engine.analyzer, r.opts.BlockNumber, r.opts.MaxConcurrency, r.opts.Retry,
		WithSchedulerLogger(r.logger),
		WithSchedulerObserver(r.engine.observer),
	)

	r.setState(StateRunning)
	r.engine.observer.RunStarted(r.name)
	defer func() {
		elapsed := time.Since(start)
		r.engine.observer.RunFinished(r.name, r.state, elapsed)
		stats := r.frontier.Stats()
		r.logger.Info("discovery finished",
			"state", r.state.String(),
			"seen", stats.Seen,
			"resolved", stats.Resolved,
			"failed", stats.Failed,
			"revisits", stats.Revisits,
			"elapsed", elapsed,
			"error", err,
		)
		for _, e := range r.frontier.BackEdges() {
			r.logger.Debug("revisited address",
				"from", e.From.Checksum(),
				"to", e.To.Checksum(),
				"field", e.Field,
			)
		}
	}()

	for i, s := range r.seeds {
		if r.frontier.Enqueue(s, Provenance{SeedIndex: i}) {
			r.engine.observer.AddressDiscovered(r.name)
		}
	}
	if err := r.checkLimit(); err != nil {
		return nil, r.abort(err)
	}

	for !r.frontier.IsConverged() {
		for _, entry := range r.frontier.NextBatch(r.sched.Capacity()) {
			job := Job{Address: entry.Address, Config: r.opts.configFor(entry.Address)}
			if err := r.sched.Dispatch(ctx, job); err != nil {
				return nil, r.abort(err)
			}
		}

		out, err := r.sched.Next(ctx)
		if err != nil {
			return r.cancelled(ctx)
		}
		if out.Err != nil && isCancellation(out.Err) && ctx.Err() != nil {
			// The frontier entry stays in flight and is reported as unfinished.
			return r.cancelled(ctx)
		}

		if err := r.apply(out); err != nil {
			return nil, r.abort(err)
		}
	}

	r.setState(StateConverged)
	return r.assemble(nil)
}

// apply folds one outcome into the frontier and expands it.
// It returns an error only when the run must stop.
func (r *run) apply(out Outcome) error {
	if out.Err != nil {
		if err := r.frontier.Fail(out.Address, out.Err, out.Attempts); err != nil {
			return err
		}
		if r.opts.FailureMode == FailFast {
			return &RunAbortedError{
				Project:  r.name,
				Address:  out.Address,
				Attempts: out.Attempts,
				Cause:    out.Err,
			}
		}
		r.logger.Warn("address left unresolved",
			"address", out.Address.Checksum(),
			"attempts", out.Attempts,
			"error", out.Err,
		)
		entry, _ := r.frontier.Entry(out.Address)
		r.failures = append(r.failures, entry)
		return nil
	}

	entry, _ := r.frontier.Entry(out.Address)
	if err := r.frontier.Complete(out.Address, out.Result); err != nil {
		return err
	}
	r.logger.Debug("address analyzed",
		"address", out.Address.Checksum(),
		"kind", out.Result.Kind.String(),
		"attempts", out.Attempts,
		"elapsed", out.Elapsed,
	)

	for _, rel := range r.follow(out.Result) {
		prov := Provenance{
			Referrer:  out.Address,
			Field:     rel.Field,
			Depth:     entry.Provenance.Depth + 1,
			SeedIndex: entry.Provenance.SeedIndex,
		}
		if r.frontier.Enqueue(rel.Address, prov) {
			r.engine.observer.AddressDiscovered(r.name)
		}
	}
	return r.checkLimit()
}

// follow returns the relatives of res that the run expands into, in result
// order. The assembler walks the same list, so ranks match what the run
// actually traversed.
func (r *run) follow(res *model.AnalysisResult) []model.Relative {
	rels := analyzer.FilterRelatives(res.Relatives, r.opts.configFor(res.Address))
	out := rels[:0]
	for _, rel := range rels {
		if rel.Address.IsZero() || r.skip[rel.Address] {
			continue
		}
		out = append(out, rel)
	}
	return out
}

// checkLimit enforces MaxAddresses.
func (r *run) checkLimit() error {
	if r.opts.MaxAddresses > 0 && r.frontier.Len() > r.opts.MaxAddresses {
		return fmt.Errorf("discovery of %s: %w (%d)", r.name, ErrAddressLimitExceeded, r.opts.MaxAddresses)
	}
	return nil
}

// abort stops the workers and moves the run to Failed.
func (r *run) abort(cause error) error {
	r.cancel()
	r.sched.Drain()
	r.setState(StateFailed)

	var aborted *RunAbortedError
	if errors.As(cause, &aborted) {
		r.logger.Error("discovery aborted",
			"address", aborted.Address.Checksum(),
			"attempts", aborted.Attempts,
			"error", aborted.Cause,
		)
	}
	return cause
}

// cancelled handles a cancelled or timed-out run. In-flight work is
// abandoned. Best-effort runs with PartialOnCancel still assemble whatever
// resolved, flagging everything else as unresolved.
func (r *run) cancelled(ctx context.Context) (*model.ProjectManifest, error) {
	cause := ctx.Err()
	r.cancel()
	for _, out := range r.sched.Drain() {
		switch {
		case out.Err == nil:
			_ = r.frontier.Complete(out.Address, out.Result) //nolint:errcheck // address is in flight
		case !isCancellation(out.Err):
			if err := r.frontier.Fail(out.Address, out.Err, out.Attempts); err == nil {
				entry, _ := r.frontier.Entry(out.Address)
				r.failures = append(r.failures, entry)
			}
		}
	}
	r.setState(StateFailed)
	r.logger.Warn("discovery cancelled", "reason", cause)

	if r.opts.FailureMode == BestEffort && r.opts.PartialOnCancel {
		return r.assemble(cause)
	}
	return nil, fmt.Errorf("discovery of %s cancelled: %w", r.name, cause)
}

// assemble builds the manifest from the frontier. A non-nil cancelCause marks
// every unfinished entry unresolved with that cause.
func (r *run) assemble(cancelCause error) (*model.ProjectManifest, error) {
	var (
		unresolved []model.UnresolvedAddress
		causes     []error
	)
	for _, f := range r.failures {
		unresolved = append(unresolved, model.UnresolvedAddress{
			Address:  f.Address,
			Reason:   f.Err.Error(),
			Attempts: f.Attempts,
		})
		causes = append(causes, fmt.Errorf("%s: %w", f.Address.Checksum(), f.Err))
	}
	if cancelCause != nil {
		for _, u := range r.frontier.Unfinished() {
			unresolved = append(unresolved, model.UnresolvedAddress{
				Address: u.Address,
				Reason:  cancelCause.Error(),
			})
		}
		causes = append(causes, cancelCause)
	}

	manifest, err := Assemble(AssemblyInput{
		Name:        r.name,
		BlockNumber: r.opts.BlockNumber,
		Seeds:       r.seeds,
		Results:     r.frontier.Results(),
		Unresolved:  unresolved,
		Follow:      r.follow,
	})
	if err != nil {
		r.setState(StateFailed)
		return nil, err
	}

	if len(manifest.Unresolved) > 0 || cancelCause != nil {
		return manifest, newPartialResultWarning(r.name, manifest.Unresolved, causes, cancelCause != nil)
	}
	return manifest, nil
}

// setState records and logs a state transition.
func (r *run) setState(s State) {
	r.logger.Debug("discovery state changed", "from", r.state.String(), "to", s.String())
	r.state = s
}
