package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/nao1215/chainscan/internal/model"
)

// ruleWidth is the width of the horizontal rules in text output.
const ruleWidth = 70

// SimpleWriter outputs human-readable text reports.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors because:
// 1. It works in all terminals without compatibility issues
// 2. It's easier to pipe to files or other tools
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether sections with no entries are shown.
	showEmpty bool

	// verbose adds raw values, field errors and references per contract.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the manifest in human-readable format.
func (w *SimpleWriter) Write(m *model.ProjectManifest) (int, error) {
	var sb strings.Builder
	summary := NewSummary(m)

	w.writeHeader(&sb, summary)
	w.writeSummary(&sb, summary)
	w.writeContracts(&sb, m)
	w.writeUnresolved(&sb, m)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

// WriteDiff outputs the diff in human-readable format.
func (w *SimpleWriter) WriteDiff(d *Diff) (int, error) {
	var sb strings.Builder

	sb.WriteString("\n")
	writeRule(&sb, "=")
	sb.WriteString("                      CHAINSCAN MANIFEST DIFF\n")
	writeRule(&sb, "=")
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Project:   %s\n", d.Project)
	fmt.Fprintf(&sb, "Blocks:    %d -> %d\n", d.OldBlock, d.NewBlock)
	fmt.Fprintf(&sb, "Unchanged: %d\n\n", d.Unchanged)

	if !d.HasChanges() {
		sb.WriteString("  No changes\n\n")
		w.writeFooter(&sb)
		return w.output.Write([]byte(sb.String()))
	}

	if len(d.Added) > 0 || w.showEmpty {
		writeSection(&sb, "ADDED")
		for _, c := range d.Added {
			fmt.Fprintf(&sb, "  [+] %s\n", contractLabel(c))
		}
		sb.WriteString("\n")
	}
	if len(d.Removed) > 0 || w.showEmpty {
		writeSection(&sb, "REMOVED")
		for _, c := range d.Removed {
			fmt.Fprintf(&sb, "  [-] %s\n", contractLabel(c))
		}
		sb.WriteString("\n")
	}
	if len(d.Changed) > 0 || w.showEmpty {
		writeSection(&sb, "CHANGED")
		for _, c := range d.Changed {
			fmt.Fprintf(&sb, "  [~] %s\n", contractLabel(model.ContractRecord{Name: c.Name, Address: c.Address}))
			for _, fc := range c.Changes {
				fmt.Fprintf(&sb, "      %s: %s -> %s\n", fieldTitle(fc.Field), orDash(fc.Old), orDash(fc.New))
			}
		}
		sb.WriteString("\n")
	}

	w.writeFooter(&sb)
	return w.output.Write([]byte(sb.String()))
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, s *Summary) {
	sb.WriteString("\n")
	writeRule(sb, "=")
	sb.WriteString("                      CHAINSCAN DISCOVERY REPORT\n")
	writeRule(sb, "=")
	sb.WriteString("\n")

	fmt.Fprintf(sb, "Project:     %s\n", s.Project)
	fmt.Fprintf(sb, "Block:       %d\n", s.BlockNumber)
	if s.IsPartial() {
		fmt.Fprintf(sb, "Status:      PARTIAL (%d unresolved)\n", s.Unresolved)
	} else {
		sb.WriteString("Status:      Complete\n")
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeSummary(sb *strings.Builder, s *Summary) {
	writeSection(sb, "SUMMARY")

	fmt.Fprintf(sb, "  Contracts:  %d\n", s.Contracts)
	fmt.Fprintf(sb, "  Proxies:    %d\n", s.Proxies)
	fmt.Fprintf(sb, "  Unresolved: %d\n", s.Unresolved)
	sb.WriteString("\n")
	for _, t := range s.Types() {
		fmt.Fprintf(sb, "  %-20s %d\n", t+":", s.ByType[t])
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeContracts(sb *strings.Builder, m *model.ProjectManifest) {
	if len(m.Contracts) == 0 && !w.showEmpty {
		return
	}
	writeSection(sb, "CONTRACTS")

	if len(m.Contracts) == 0 {
		sb.WriteString("  No contracts discovered\n\n")
		return
	}

	for _, c := range m.Contracts {
		fmt.Fprintf(sb, "  * %s\n", contractLabel(c))
		fmt.Fprintf(sb, "    Type: %s\n", upgradeabilityType(c))
		if impl := implementations(c); impl != "" {
			fmt.Fprintf(sb, "    Implementation: %s\n", impl)
		}
		if a := admin(c); a != "" {
			fmt.Fprintf(sb, "    Admin: %s\n", a)
		}
		if b := beacon(c); b != "" {
			fmt.Fprintf(sb, "    Beacon: %s\n", b)
		}
		if c.TemplateMatch != "" {
			fmt.Fprintf(sb, "    Template: %s\n", c.TemplateMatch)
		}
		if w.verbose {
			w.writeDetails(sb, c)
		}
	}
	sb.WriteString("\n")
}

// writeDetails writes values, field errors and references of one contract.
func (w *SimpleWriter) writeDetails(sb *strings.Builder, c model.ContractRecord) {
	for _, k := range sortedKeys(c.Values) {
		fmt.Fprintf(sb, "    %s = %v\n", k, c.Values[k])
	}
	for _, k := range sortedKeys(c.Errors) {
		fmt.Fprintf(sb, "    %s ! %s\n", k, c.Errors[k])
	}
	for _, ref := range c.References {
		fmt.Fprintf(sb, "    -> %s (%s)\n", ref.Address.Checksum(), ref.Field)
	}
}

func (w *SimpleWriter) writeUnresolved(sb *strings.Builder, m *model.ProjectManifest) {
	if len(m.Unresolved) == 0 && !w.showEmpty {
		return
	}
	writeSection(sb, "UNRESOLVED")

	if len(m.Unresolved) == 0 {
		sb.WriteString("  None\n\n")
		return
	}
	for _, u := range m.Unresolved {
		fmt.Fprintf(sb, "  [!] %s after %d attempts: %s\n", u.Address.Checksum(), u.Attempts, u.Reason)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	writeRule(sb, "=")
	sb.WriteString("Report generated by chainscan\n")
	sb.WriteString("https://github.com/nao1215/chainscan\n")
	writeRule(sb, "=")
}

func writeRule(sb *strings.Builder, ch string) {
	sb.WriteString(strings.Repeat(ch, ruleWidth))
	sb.WriteString("\n")
}

func writeSection(sb *strings.Builder, title string) {
	writeRule(sb, "-")
	sb.WriteString(title)
	sb.WriteString("\n")
	writeRule(sb, "-")
	sb.WriteString("\n")
}

// contractLabel renders "Name (0xChecksum)" or just the address.
func contractLabel(c model.ContractRecord) string {
	if c.Name == "" {
		return c.Address.Checksum()
	}
	return fmt.Sprintf("%s (%s)", c.Name, c.Address.Checksum())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
