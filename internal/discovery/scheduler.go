package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/chainscan/internal/analyzer"
	"github.com/nao1215/chainscan/internal/model"
)

// Job is one address to analyze together with its effective configuration.
type Job struct {
	Address model.Address
	Config  analyzer.Config
}

// Outcome is the result of analyzing one Job, after retries.
type Outcome struct {
	Address model.Address

	// Result is set on success.
	Result *model.AnalysisResult

	// Err is set on failure. It is a *analyzer.PermanentError, or the
	// context error when the run was cancelled.
	Err error

	// Attempts is the number of analyzer calls made.
	Attempts int

	// Elapsed covers all attempts and backoff waits.
	Elapsed time.Duration
}

// Scheduler runs analyzer calls on a bounded worker pool and retries
// transient failures.
//
// Design decision: We use errgroup.SetLimit rather than a hand-rolled pool
// of long-lived workers because each job is independent and short, and the
// coordinator already knows when a slot is free. The coordinator only calls
// Dispatch while InFlight() < Workers(), so Dispatch never blocks, and the
// completion channel is buffered to the worker count so a finishing worker
// never blocks either.
//
// Dispatch, Next, Drain and the counters must be called from a single
// goroutine (the engine's coordinator). Only analyze runs concurrently.
type Scheduler struct {
	analyzer    analyzer.AddressAnalyzer
	blockNumber uint64
	workers     int
	retry       RetryPolicy
	logger      *slog.Logger
	observer    Observer

	group    errgroup.Group
	results  chan Outcome
	inFlight int
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger used for retry messages.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSchedulerObserver sets the observer notified of every analyzer call.
func WithSchedulerObserver(o Observer) SchedulerOption {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// NewScheduler creates a Scheduler that analyzes addresses at blockNumber
// with at most workers outstanding calls. A non-positive worker count is
// treated as one.
func NewScheduler(a analyzer.AddressAnalyzer, blockNumber uint64, workers int, retry RetryPolicy, opts ...SchedulerOption) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	s := &Scheduler{
		analyzer:    a,
		blockNumber: blockNumber,
		workers:     workers,
		retry:       retry,
		results:     make(chan Outcome, workers),
	}
	s.group.SetLimit(workers)

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}

	return s
}

// Workers returns the configured worker count.
func (s *Scheduler) Workers() int {
	return s.workers
}

// InFlight returns the number of dispatched jobs whose outcome has not been
// received yet.
func (s *Scheduler) InFlight() int {
	return s.inFlight
}

// Capacity returns how many more jobs can be dispatched right now.
func (s *Scheduler) Capacity() int {
	return s.workers - s.inFlight
}

// Dispatch starts analyzing job in the background.
// It returns ErrSchedulerFull instead of blocking when no worker is free.
func (s *Scheduler) Dispatch(ctx context.Context, job Job) error {
	if s.inFlight >= s.workers {
		return ErrSchedulerFull
	}
	s.inFlight++

	s.group.Go(func() error {
		s.results <- s.analyze(ctx, job)
		return nil
	})
	return nil
}

// Next waits for the next outcome. It returns ctx.Err() if ctx is done first.
func (s *Scheduler) Next(ctx context.Context) (Outcome, error) {
	select {
	case out := <-s.results:
		s.inFlight--
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Drain waits for every dispatched job to finish and returns the outcomes
// that were not received with Next. Callers cancel the jobs' context first
// when they want to abandon in-flight work.
func (s *Scheduler) Drain() []Outcome {
	_ = s.group.Wait() //nolint:errcheck // workers always return nil

	var outs []Outcome
	for s.inFlight > 0 {
		outs = append(outs, <-s.results)
		s.inFlight--
	}
	return outs
}

// analyze calls the analyzer for one job, retrying transient failures with
// exponential backoff until the policy is exhausted.
func (s *Scheduler) analyze(ctx context.Context, job Job) Outcome {
	start := time.Now()
	b := s.retry.newBackoff()

	out := Outcome{Address: job.Address}
	for {
		out.Attempts++

		s.observer.AnalysisStarted()
		callStart := time.Now()
		res, err := s.call(ctx, job)
		callElapsed := time.Since(callStart)

		if err == nil {
			s.observer.AnalysisFinished(OutcomeSuccess, callElapsed)
			out.Result = res
			out.Elapsed = time.Since(start)
			return out
		}

		if ctx.Err() != nil {
			s.observer.AnalysisFinished(OutcomeCancelled, callElapsed)
			out.Err = ctx.Err()
			out.Elapsed = time.Since(start)
			return out
		}

		if !analyzer.IsTransient(err) {
			s.observer.AnalysisFinished(OutcomePermanent, callElapsed)
			out.Err = analyzer.Classify(err)
			out.Elapsed = time.Since(start)
			return out
		}
		s.observer.AnalysisFinished(OutcomeTransient, callElapsed)

		if out.Attempts >= s.retry.MaxAttempts {
			out.Err = analyzer.NewPermanentError(fmt.Errorf("%w after %d attempt(s): %w", ErrRetriesExhausted, out.Attempts, err))
			out.Elapsed = time.Since(start)
			return out
		}

		wait := b.Duration()
		s.observer.RetryScheduled(wait)
		s.logger.Debug("retrying analysis",
			"address", job.Address.Checksum(),
			"attempt", out.Attempts,
			"maxAttempts", s.retry.MaxAttempts,
			"wait", wait,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			out.Err = ctx.Err()
			out.Elapsed = time.Since(start)
			return out
		case <-timer.C:
		}
	}
}

// call performs one analyzer call and checks the result invariants.
func (s *Scheduler) call(ctx context.Context, job Job) (*model.AnalysisResult, error) {
	res, err := s.analyzer.Analyze(ctx, job.Address, s.blockNumber, job.Config)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, analyzer.NewPermanentError(ErrNilResult)
	}
	if err := res.Validate(job.Address); err != nil {
		return nil, analyzer.NewPermanentError(err)
	}
	return res, nil
}

// isCancellation reports whether an outcome error comes from the run
// context rather than the analyzer. analyze returns the bare ctx.Err() in
// that case; an analyzer timeout that exhausted its retries is wrapped and
// stays a failure.
func isCancellation(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded //nolint:errorlint // only the unwrapped run context error counts
}
