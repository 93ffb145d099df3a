// Package model defines the core data structures used throughout chainscan.
//
// This package contains the following main types:
//   - Address: A canonical, case-normalised chain address
//   - AnalysisResult: The output of analyzing one address at a pinned block
//   - ContractRecord: The public, EOA-free record of one discovered contract
//   - ProjectManifest: The final deterministic artifact of a discovery run
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. The analyzer, discovery, database and report packages all use
// these types, so centralizing them prevents import cycles.
//
// The models are designed to be serializable to JSON for manifest output and
// database storage. Addresses are written in EIP-55 checksum form.
package model
