// Package main provides the entry point for the chainscan CLI.
//
// chainscan discovers every smart contract reachable from a few seed
// addresses at a pinned block and writes a deterministic manifest.
//
// Usage:
//
//	chainscan discover <project> [seed-address...]
//	chainscan compare <project>
//
// See --help for all available options.
package main

// main is the entry point for chainscan.
func main() {
	Execute()
}
