// Package discovery crawls the contract graph reachable from a set of seed
// addresses at a pinned block and assembles it into a manifest.
//
// A run is split into four parts:
//   - Frontier: the queue and visited set of one run
//   - Scheduler: a bounded worker pool that calls the AddressAnalyzer and
//     retries transient failures with exponential backoff
//   - Engine: the coordinating loop that dispatches pending addresses,
//     folds outcomes back into the frontier and expands it
//   - Assemble: turns the resolved results into a deterministic manifest
//
// Design decision: Only analyzer calls run concurrently. The frontier is
// owned by the goroutine that called Engine.Run, and workers hand outcomes
// back over a channel, so the traversal state needs no locks. Ordering of
// the manifest does not depend on which analysis finished first; see
// Assemble.
package discovery
