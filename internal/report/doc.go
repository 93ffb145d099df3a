// Package report renders discovery manifests and manifest diffs.
//
// This package contains writers for different output formats:
//   - SimpleWriter: Human-readable text output for terminal display
//   - JSONWriter: The manifest itself, or a Diff, as JSON
//   - FullJSONWriter: The manifest wrapped with a version and a Summary
//   - MarkdownWriter: Tables and a mermaid chart for documentation
//
// Design decision: We separate report writing from the manifest (which is
// in the model package) so new output formats never touch the manifest
// file format.
//
// Compare computes a Diff between two manifests of the same project, used
// to review what changed on chain between two discovery runs.
package report
