package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/chainscan/internal/config"
	"github.com/nao1215/chainscan/internal/database"
	"github.com/nao1215/chainscan/internal/manifest"
	"github.com/nao1215/chainscan/internal/model"
	"github.com/nao1215/chainscan/internal/report"
)

// compareOptions selects the two manifests to compare and the output format.
type compareOptions struct {
	project        string
	withRunID      int64
	againstFile    bool
	outputDir      string
	jsonOutput     bool
	markdownOutput bool
}

// NewCompareCmd creates the compare command.
// This command compares discovery runs stored in the history database.
func NewCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [project]",
		Short: "Compare discovery runs of a project",
		Long: `Compare displays what changed between two discovery runs of a project:
- Contracts that appeared or disappeared
- Upgraded implementations and changed admins or beacons
- Renamed contracts and changed bytecode

By default the latest two recorded runs are compared. Use 'chainscan discover'
to record runs.

Examples:
  # Compare the latest two runs of a project
  chainscan compare lido

  # Compare the latest run with a specific earlier run
  chainscan compare --with-run-id 5 lido

  # Compare the latest recorded run with the manifest on disk
  chainscan compare --against-file lido

  # List the recorded runs of a project
  chainscan compare --list lido

  # Show the reference edges of the latest run
  chainscan compare --edges --field '$admin' lido

  # Find every project and run an address appeared in
  chainscan compare --find 0x1f98431c8ad98523631ae4a59f267346ea31f984

  # List all recorded projects
  chainscan compare --list-projects`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCompareCmd,
	}

	// History listing flags
	cmd.Flags().BoolP("list", "l", false,
		"List recorded runs of the project")
	cmd.Flags().BoolP("list-projects", "L", false,
		"List all recorded projects")
	cmd.Flags().String("find", "",
		"List every recorded run containing this address")
	cmd.Flags().Bool("edges", false,
		"List the reference edges of the latest run")
	cmd.Flags().String("field", "",
		"With --edges, only show edges created by this field (e.g., $implementation)")

	// Comparison target flags
	cmd.Flags().Int64P("with-run-id", "i", 0,
		"Compare the latest run with this run (use --list to see IDs)")
	cmd.Flags().Bool("against-file", false,
		"Compare the latest recorded run with <output-dir>/<project>/discovered.json")
	cmd.Flags().StringP("output-dir", "d", config.DefaultOutputDir,
		"Directory holding <project>/discovered.json")

	// Output format flags
	cmd.Flags().BoolP("json", "j", false,
		"Output comparison result in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output comparison result in Markdown format")

	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")

	return cmd
}

// runCompareCmd executes the compare command.
func runCompareCmd(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	listProjects, err := flags.GetBool("list-projects")
	if err != nil {
		return err
	}
	find, err := flags.GetString("find")
	if err != nil {
		return err
	}

	// Validate arguments before opening the database.
	var findAddr model.Address
	if find != "" {
		if findAddr, err = model.NewAddress(find); err != nil {
			return fmt.Errorf("invalid address %q: %w", find, err)
		}
	}
	opts := compareOptions{}
	if !listProjects && find == "" {
		if len(args) == 0 {
			return errors.New("project name is required (use --list-projects to see recorded projects)")
		}
		opts.project = args[0]
		if err := manifest.ValidateProjectName(opts.project); err != nil {
			return err
		}
	}

	dbDir, err := flags.GetString("db-dir")
	if err != nil {
		return err
	}
	db, err := database.Open(dbDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	switch {
	case listProjects:
		return listRecordedProjects(ctx, db, out)
	case find != "":
		return findAddress(ctx, db, findAddr, out)
	}

	if list, err := flags.GetBool("list"); err != nil {
		return err
	} else if list {
		return listRunHistory(ctx, db, opts.project, out)
	}
	if edges, err := flags.GetBool("edges"); err != nil {
		return err
	} else if edges {
		field, err := flags.GetString("field")
		if err != nil {
			return err
		}
		return listEdges(ctx, db, opts.project, field, out)
	}

	if opts.withRunID, err = flags.GetInt64("with-run-id"); err != nil {
		return err
	}
	if opts.againstFile, err = flags.GetBool("against-file"); err != nil {
		return err
	}
	if opts.outputDir, err = flags.GetString("output-dir"); err != nil {
		return err
	}
	if opts.jsonOutput, err = flags.GetBool("json"); err != nil {
		return err
	}
	if opts.markdownOutput, err = flags.GetBool("markdown"); err != nil {
		return err
	}
	if opts.jsonOutput && opts.markdownOutput {
		return config.ErrConflictingReportFormats
	}

	return runComparison(ctx, db, opts, out)
}

// listRecordedProjects lists all projects with recorded runs.
func listRecordedProjects(ctx context.Context, db *database.HistoryDB, out io.Writer) error {
	projects, err := db.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	if len(projects) == 0 {
		fmt.Fprintln(out, "No recorded projects found in the database.")
		fmt.Fprintln(out, "\nUse 'chainscan discover <project>' to record a run.")
		return nil
	}

	fmt.Fprintf(out, "Recorded projects (%d):\n\n", len(projects))
	for _, p := range projects {
		fmt.Fprintf(out, "  • %s\n", p)
	}
	fmt.Fprintln(out, "\nUse 'chainscan compare --list <project>' to see the runs of a project.")
	return nil
}

// listRunHistory lists the recorded runs of a project, newest first.
func listRunHistory(ctx context.Context, db *database.HistoryDB, project string, out io.Writer) error {
	runs, err := db.GetRunHistory(ctx, project)
	if err != nil {
		return fmt.Errorf("failed to get run history: %w", err)
	}

	if len(runs) == 0 {
		fmt.Fprintf(out, "No recorded runs found for %s\n", project)
		fmt.Fprintln(out, "\nUse 'chainscan discover' to record a run.")
		return nil
	}

	fmt.Fprintf(out, "Run history for %s (%d runs):\n\n", project, len(runs))
	fmt.Fprintf(out, "  %-6s  %-19s  %-10s  %-9s  %-9s  %s\n",
		"ID", "Date", "Block", "State", "Contracts", "Unresolved")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 70))
	for _, r := range runs {
		fmt.Fprintf(out, "  %-6d  %-19s  %-10d  %-9s  %-9d  %d\n",
			r.ID,
			r.Timestamp.Format("2006-01-02 15:04:05"),
			r.BlockNumber,
			r.State,
			r.ContractCount,
			r.UnresolvedCount,
		)
	}

	fmt.Fprintf(out, "\nUse 'chainscan compare %s' to compare the latest two runs.\n", project)
	fmt.Fprintf(out, "Use 'chainscan compare --with-run-id <id> %s' to compare with a specific run.\n", project)
	return nil
}

// findAddress lists every recorded run an address appears in.
func findAddress(ctx context.Context, db *database.HistoryDB, addr model.Address, out io.Writer) error {
	sightings, err := db.FindAddress(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to search address: %w", err)
	}

	if len(sightings) == 0 {
		fmt.Fprintf(out, "%s does not appear in any recorded run\n", addr.Checksum())
		return nil
	}

	fmt.Fprintf(out, "%s appears in %d run(s):\n\n", addr.Checksum(), len(sightings))
	for _, s := range sightings {
		name := s.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(out, "  %-20s  run %-6d  block %-10d  %-20s  %s\n",
			s.Project, s.RunID, s.BlockNumber, name, s.Upgradeability)
	}
	return nil
}

// listEdges lists the reference edges of the latest run of a project.
func listEdges(ctx context.Context, db *database.HistoryDB, project, field string, out io.Writer) error {
	runs, err := db.GetRunHistory(ctx, project)
	if err != nil {
		return fmt.Errorf("failed to get run history: %w", err)
	}
	if len(runs) == 0 {
		return fmt.Errorf("no recorded runs found for %s", project)
	}

	latest := runs[0]
	edges, err := db.QueryRelationships(ctx, latest.ID, field)
	if err != nil {
		return fmt.Errorf("failed to query edges: %w", err)
	}

	fmt.Fprintf(out, "Edges of %s run %d at block %d (%d):\n\n", project, latest.ID, latest.BlockNumber, len(edges))
	for _, e := range edges {
		fmt.Fprintf(out, "  %s --%s--> %s\n", checksum(e.From), e.Field, checksum(e.To))
	}
	return nil
}

// checksum renders a stored address in EIP-55 form, or as-is if it does not
// parse.
func checksum(raw string) string {
	addr, err := model.NewAddress(raw)
	if err != nil {
		return raw
	}
	return addr.Checksum()
}

// runComparison loads the two manifests selected by opts and writes their
// diff.
func runComparison(ctx context.Context, db *database.HistoryDB, opts compareOptions, out io.Writer) error {
	runs, err := db.GetRunHistory(ctx, opts.project)
	if err != nil {
		return fmt.Errorf("failed to get run history: %w", err)
	}
	if len(runs) == 0 {
		return fmt.Errorf("no recorded runs found for %s", opts.project)
	}

	latest, err := loadRun(ctx, db, runs[0].ID)
	if err != nil {
		return err
	}

	var previous, current *model.ProjectManifest
	switch {
	case opts.againstFile:
		previous = latest
		current, err = manifest.NewStore(opts.outputDir).Load(opts.project)
		if err != nil {
			return fmt.Errorf("failed to load manifest: %w", err)
		}
	case opts.withRunID > 0:
		current = latest
		previous, err = loadRun(ctx, db, opts.withRunID)
		if err != nil {
			return err
		}
		if previous.Name != opts.project {
			return fmt.Errorf("run %d belongs to %s, not %s", opts.withRunID, previous.Name, opts.project)
		}
	default:
		if len(runs) < 2 {
			return fmt.Errorf("at least 2 runs are required for comparison (found %d)", len(runs))
		}
		current = latest
		previous, err = loadRun(ctx, db, runs[1].ID)
		if err != nil {
			return err
		}
	}

	w := newReportWriter(out, opts.jsonOutput, opts.markdownOutput, false)
	_, err = w.WriteDiff(report.Compare(previous, current))
	return err
}

// loadRun loads the manifest of a recorded run.
func loadRun(ctx context.Context, db *database.HistoryDB, id int64) (*model.ProjectManifest, error) {
	m, err := db.GetRunByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %d: %w", id, err)
	}
	if m == nil {
		return nil, fmt.Errorf("run %d not found", id)
	}
	return m, nil
}
