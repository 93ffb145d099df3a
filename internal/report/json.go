package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/chainscan/internal/model"
)

// JSONWriter outputs reports in JSON format.
// This format is designed for tool integration and programmatic processing.
//
// Design decision: We use standard encoding/json rather than a third-party
// JSON library because the manifest's byte-stable encoding is defined in
// terms of encoding/json (sorted map keys, fixed field order).
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	// When false, output is compact (no extra whitespace).
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string (typically "  " or "\t").
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with default indentation.
// This is a convenience wrapper for WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the manifest itself in JSON format.
func (w *JSONWriter) Write(m *model.ProjectManifest) (int, error) {
	return w.writeJSON(m)
}

// WriteDiff outputs the diff in JSON format.
func (w *JSONWriter) WriteDiff(d *Diff) (int, error) {
	return w.writeJSON(d)
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	// Add trailing newline for better terminal output
	data = append(data, '\n')

	return w.output.Write(data)
}

// JSONReport wraps a manifest with tool metadata and a summary.
//
// Design decision: We wrap the manifest rather than adding fields to
// ProjectManifest because the manifest file format is consumed by other
// tools and must stay exactly as specified.
type JSONReport struct {
	// Version is the chainscan version that generated this report.
	Version string `json:"version"`

	// Summary is the condensed view for quick access.
	Summary *Summary `json:"summary"`

	// Manifest is the full manifest.
	Manifest *model.ProjectManifest `json:"manifest"`
}

// FullJSONWriter outputs manifests with the metadata wrapper.
type FullJSONWriter struct {
	*JSONWriter

	// version is the chainscan version string.
	version string
}

// NewFullJSONWriter creates a writer for wrapped reports.
func NewFullJSONWriter(output io.Writer, version string, opts ...JSONWriterOption) *FullJSONWriter {
	return &FullJSONWriter{
		JSONWriter: NewJSONWriter(output, opts...),
		version:    version,
	}
}

// Write outputs the manifest wrapped with metadata.
func (w *FullJSONWriter) Write(m *model.ProjectManifest) (int, error) {
	return w.writeJSON(&JSONReport{
		Version:  w.version,
		Summary:  NewSummary(m),
		Manifest: m,
	})
}
