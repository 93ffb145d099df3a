package discovery

import "time"

// Outcome labels reported to observers for each analyzer call.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
	OutcomeCancelled = "cancelled"
)

// Observer receives run and analysis events, typically to export metrics.
// Implementations must be safe for concurrent use: analysis events arrive
// from scheduler workers.
type Observer interface {
	// RunStarted is called when a run enters the Running state.
	RunStarted(project string)

	// RunFinished is called once per run with its terminal state.
	RunFinished(project string, state State, elapsed time.Duration)

	// AddressDiscovered is called for each newly enqueued address.
	AddressDiscovered(project string)

	// AnalysisStarted is called before every analyzer call, retries included.
	AnalysisStarted()

	// AnalysisFinished is called after every analyzer call.
	AnalysisFinished(outcome string, elapsed time.Duration)

	// RetryScheduled is called when a transient failure will be retried.
	RetryScheduled(wait time.Duration)
}

// nopObserver discards every event.
type nopObserver struct{}

func (nopObserver) RunStarted(string) {}
func (nopObserver) RunFinished(string, State, time.Duration) {}
func (nopObserver) AddressDiscovered(string) {}
func (nopObserver) AnalysisStarted() {}
func (nopObserver) AnalysisFinished(string, time.Duration) {}
func (nopObserver) RetryScheduled(time.Duration) {}
