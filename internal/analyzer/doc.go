// Package analyzer defines the AddressAnalyzer capability consumed by the
// discovery engine, the per-address configuration passed to it, and the
// transient/permanent error taxonomy used to decide on retries.
//
// The engine never interprets contract storage itself. Anything that can
// turn (address, block) into an AnalysisResult can be plugged in: the chain
// package provides one backed by an Ethereum JSON-RPC node, and tests use
// Func with in-memory graphs.
package analyzer
