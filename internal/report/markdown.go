package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/chainscan/internal/model"
)

// reasonWidth bounds the unresolved reason column.
const reasonWidth = 60

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and pull request comments.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the manifest in Markdown format.
func (w *MarkdownWriter) Write(m *model.ProjectManifest) (int, error) {
	md := markdown.NewMarkdown(w.output)
	summary := NewSummary(m)

	w.writeHeader(md, summary)
	w.writeSummary(md, summary)
	w.writeContracts(md, m)
	w.writeUnresolved(md, m)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// WriteDiff outputs the diff in Markdown format.
func (w *MarkdownWriter) WriteDiff(d *Diff) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Manifest Diff: " + d.Project)
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Old Block", strconv.FormatUint(d.OldBlock, 10)},
			{"New Block", strconv.FormatUint(d.NewBlock, 10)},
			{"Added", strconv.Itoa(len(d.Added))},
			{"Removed", strconv.Itoa(len(d.Removed))},
			{"Changed", strconv.Itoa(len(d.Changed))},
			{"Unchanged", strconv.Itoa(d.Unchanged)},
		},
	})
	md.PlainText("")

	if !d.HasChanges() {
		md.Tip("No changes between the two manifests.")
		md.PlainText("")
		w.writeFooter(md)
		return len(md.String()), md.Build()
	}

	if len(d.Removed) > 0 {
		md.Warningf("%d contract(s) disappeared from the project.", len(d.Removed))
		md.PlainText("")
	}

	if len(d.Added) > 0 {
		md.H2("Added")
		md.PlainText("")
		w.writeContractTable(md, d.Added)
	}
	if len(d.Removed) > 0 {
		md.H2("Removed")
		md.PlainText("")
		w.writeContractTable(md, d.Removed)
	}
	if len(d.Changed) > 0 {
		md.H2("Changed")
		md.PlainText("")
		rows := make([][]string, 0, len(d.Changed))
		for _, c := range d.Changed {
			for _, fc := range c.Changes {
				rows = append(rows, []string{
					code(c.Address.Checksum()),
					orDash(c.Name),
					fieldTitle(fc.Field),
					orDash(fc.Old),
					orDash(fc.New),
				})
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Address", "Name", "Field", "Old", "New"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	w.writeFooter(md)
	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, s *Summary) {
	md.H1("Chainscan Discovery Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Project", "`" + s.Project + "`"},
			{"Block", strconv.FormatUint(s.BlockNumber, 10)},
			{"Status", statusText(s)},
		},
	})
	md.PlainText("")
}

// statusText returns the status text based on manifest state.
func statusText(s *Summary) string {
	if s.IsPartial() {
		return fmt.Sprintf("⚠️ Partial (%d unresolved)", s.Unresolved)
	}
	return "✅ Complete"
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, s *Summary) {
	md.H2("Summary")
	md.PlainText("")

	rows := make([][]string, 0, len(s.ByType)+2)
	for _, t := range s.Types() {
		rows = append(rows, []string{t, strconv.Itoa(s.ByType[t])})
	}
	rows = append(rows,
		[]string{"Unresolved", strconv.Itoa(s.Unresolved)},
		[]string{"**Total**", "**" + strconv.Itoa(s.Contracts) + "**"},
	)
	md.Table(markdown.TableSet{
		Header: []string{"Upgradeability", "Count"},
		Rows:   rows,
	})
	md.PlainText("")

	if s.Contracts > 0 {
		w.writePieChart(md, s)
	}

	if s.IsPartial() {
		md.Warningf(
			"Discovery is partial. %d address(es) could not be analyzed and their relatives were not explored.",
			s.Unresolved,
		)
		md.PlainText("")
	}
}

// writePieChart writes a mermaid pie chart of upgradeability types.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, s *Summary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Upgradeability Distribution"),
		piechart.WithShowData(true),
	)
	for _, t := range s.Types() {
		chart.LabelAndIntValue(t, uint64(s.ByType[t])) //nolint:gosec // counts are never negative
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeContracts(md *markdown.Markdown, m *model.ProjectManifest) {
	md.H2("Contracts")
	md.PlainText("")

	if len(m.Contracts) == 0 {
		md.PlainText("No contracts discovered.")
		md.PlainText("")
		return
	}
	w.writeContractTable(md, m.Contracts)

	for _, c := range m.Contracts {
		if len(c.Errors) == 0 {
			continue
		}
		var lines []string
		for _, k := range sortedKeys(c.Errors) {
			lines = append(lines, fmt.Sprintf("- `%s`: %s", k, c.Errors[k]))
		}
		md.Details(contractLabel(c)+" read errors", strings.Join(lines, "\n"))
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeContractTable(md *markdown.Markdown, contracts []model.ContractRecord) {
	rows := make([][]string, len(contracts))
	for i, c := range contracts {
		rows[i] = []string{
			orDash(c.Name),
			code(c.Address.Checksum()),
			upgradeabilityType(c),
			orDash(implementations(c)),
			orDash(admin(c)),
			orDash(c.TemplateMatch),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Name", "Address", "Type", "Implementation", "Admin", "Template"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeUnresolved(md *markdown.Markdown, m *model.ProjectManifest) {
	if len(m.Unresolved) == 0 {
		return
	}
	md.H2("Unresolved")
	md.PlainText("")

	rows := make([][]string, len(m.Unresolved))
	for i, u := range m.Unresolved {
		rows[i] = []string{
			code(u.Address.Checksum()),
			strconv.Itoa(u.Attempts),
			truncateString(u.Reason, reasonWidth),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Address", "Attempts", "Reason"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [chainscan](https://github.com/nao1215/chainscan)*")
}

func code(s string) string {
	return "`" + s + "`"
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
