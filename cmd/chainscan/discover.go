package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nao1215/chainscan/internal/chain"
	"github.com/nao1215/chainscan/internal/config"
	"github.com/nao1215/chainscan/internal/database"
	"github.com/nao1215/chainscan/internal/discovery"
	"github.com/nao1215/chainscan/internal/log"
	"github.com/nao1215/chainscan/internal/manifest"
	"github.com/nao1215/chainscan/internal/metrics"
	"github.com/nao1215/chainscan/internal/model"
)

// NewDiscoverCmd creates the discover command.
func NewDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover <project> [seed-address...]",
		Short: "Discover the contracts of a project at a pinned block",
		Long: `Discover analyzes the seed addresses of a project and follows every
reference it finds (proxy implementations, upgrade admins, beacons) until no
new address appears. Every read is pinned to one block, so the resulting
manifest is identical across runs for the same block.

Seeds come from the project file (.chainscan) and from the command line.
The manifest is written to <output-dir>/<project>/discovered.json and each
run is recorded in the history database used by 'chainscan compare'.

Examples:
  # Discover a project configured in .chainscan at the latest block
  chainscan discover lido --rpc https://mainnet.infura.io/v3/KEY

  # Discover from ad-hoc seeds at a fixed block
  chainscan discover vault 0x1f98431c8ad98523631ae4a59f267346ea31f984 --block 19000000

  # Keep going past failing addresses and emit a partial manifest
  chainscan discover lido --best-effort

  # Output the summary as Markdown and serve Prometheus metrics
  chainscan discover lido --markdown --metrics-addr :9102`,
		Args: cobra.MinimumNArgs(1),
		RunE: runDiscoverCmd,
	}

	// Node connection flags
	cmd.Flags().StringP("rpc", "r", config.DefaultRPCURL,
		"JSON-RPC endpoint (http, https, ws or wss)")
	cmd.Flags().Uint64P("block", "b", 0,
		"Block number to pin the run to (0 = latest, resolved once)")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each RPC request")
	cmd.Flags().Float64("rate-limit", config.DefaultRateLimit,
		"Maximum RPC requests per second (0 = unlimited)")
	cmd.Flags().Int("rate-burst", config.DefaultRateBurst,
		"RPC requests allowed above the rate limit")
	cmd.Flags().String("proxy", "",
		"SOCKS5 proxy for HTTP RPC (e.g., 127.0.0.1:9050)")

	// Discovery behavior flags
	cmd.Flags().IntP("concurrency", "n", config.DefaultConcurrency,
		"Maximum number of addresses analyzed at once")
	cmd.Flags().Int("max-attempts", config.DefaultMaxAttempts,
		"Analyzer calls per address before a transient error becomes permanent")
	cmd.Flags().Bool("best-effort", false,
		"Record failing addresses as unresolved instead of aborting")
	cmd.Flags().Bool("partial-on-cancel", false,
		"With --best-effort, emit a partial manifest when interrupted")
	cmd.Flags().Duration("run-timeout", 0,
		"Timeout for the whole run (0 = none)")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Project file path (default: .chainscan in current or home directory)")

	// Output flags
	cmd.Flags().StringP("output-dir", "d", config.DefaultOutputDir,
		"Directory holding <project>/discovered.json")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON summary (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown summary (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write the summary to the specified file path")
	cmd.Flags().String("metrics-addr", "",
		"Serve Prometheus metrics on this address during the run (e.g., :9102)")

	// History flags
	cmd.Flags().Bool("no-db", false,
		"Do not record the run in the history database")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")

	return cmd
}

// runDiscoverCmd executes the discover command.
func runDiscoverCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := log.NewSecureLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chain.Dial(ctx, cfg.RPCURL, chain.DialOptions{
		ProxyAddress: cfg.ProxyAddress,
		Timeout:      cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", log.RedactURL(cfg.RPCURL), err)
	}
	defer client.Close()

	return runDiscover(ctx, cfg, client, logger, cmd.OutOrStdout())
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from cobra command flags.
// args[0] is the project name; the rest are seed addresses.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	if cfg.RPCURL, err = flags.GetString("rpc"); err != nil {
		return nil, err
	}
	if cfg.BlockNumber, err = flags.GetUint64("block"); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = flags.GetFloat64("rate-limit"); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = flags.GetInt("rate-burst"); err != nil {
		return nil, err
	}
	if cfg.ProxyAddress, err = flags.GetString("proxy"); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = flags.GetInt("concurrency"); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = flags.GetInt("max-attempts"); err != nil {
		return nil, err
	}
	if cfg.BestEffort, err = flags.GetBool("best-effort"); err != nil {
		return nil, err
	}
	if cfg.PartialOnCancel, err = flags.GetBool("partial-on-cancel"); err != nil {
		return nil, err
	}
	if cfg.RunTimeout, err = flags.GetDuration("run-timeout"); err != nil {
		return nil, err
	}
	if cfg.OutputDir, err = flags.GetString("output-dir"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return nil, err
	}
	if cfg.MetricsAddr, err = flags.GetString("metrics-addr"); err != nil {
		return nil, err
	}
	noDB, err := flags.GetBool("no-db")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noDB
	if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
		return nil, err
	}
	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}
	cfg.Verbose = getVerboseFlag(cmd)

	// An explicitly named project file must exist. Otherwise a missing file
	// just means every seed comes from the command line.
	if configPath := config.FindConfigFile(cfg.ConfigFilePath); configPath != "" {
		cfg.ProjectFile, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load project file %s: %w", configPath, err)
		}
	} else if cfg.ConfigFilePath != "" {
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}

	if len(args) > 0 {
		cfg.Project = args[0]
		cfg.Seeds = args[1:]
	}
	return cfg, nil
}

// runDiscover pins the block, runs discovery and writes the manifest, the
// history record and the summary report.
func runDiscover(ctx context.Context, cfg *config.Config, client chain.Client, logger *slog.Logger, out io.Writer) error {
	if err := manifest.ValidateProjectName(cfg.Project); err != nil {
		return err
	}

	block, err := chain.ResolveBlock(ctx, client, cfg.BlockNumber)
	if err != nil {
		return err
	}
	opts, seeds, err := cfg.ToDiscoveryOptions(block)
	if err != nil {
		return err
	}

	var templates map[string]string
	if cfg.ProjectFile != nil {
		templates = cfg.ProjectFile.Templates
	}
	analyzer, err := chain.NewAnalyzer(client,
		chain.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		chain.WithTemplates(templates),
		chain.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	observer := metrics.NewDiscoveryMetrics()
	registry := prometheus.NewRegistry()
	if err := observer.Register(registry); err != nil {
		return err
	}
	if cfg.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, registry, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	logger.Info("starting discovery",
		"project", cfg.Project,
		"block", block,
		"seeds", len(seeds),
		"mode", opts.FailureMode,
		"concurrency", opts.MaxConcurrency,
	)
	fmt.Fprintf(out, "Discovering %s at block %d from %d seed(s)...\n", cfg.Project, block, len(seeds))

	engine := discovery.NewEngine(analyzer,
		discovery.WithLogger(logger),
		discovery.WithObserver(observer),
	)
	start := time.Now()
	m, runErr := engine.Run(ctx, cfg.Project, seeds, opts)
	elapsed := time.Since(start)
	if m == nil {
		return runErr
	}
	fmt.Fprintf(out, "Discovery completed in %s\n\n", elapsed.Round(time.Millisecond))

	path, err := manifest.NewStore(cfg.OutputDir).Save(m)
	if err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	logger.Info("manifest written", "path", path)

	if err := saveRun(ctx, cfg, m, runState(runErr), elapsed, logger); err != nil {
		logger.Error("failed to record run", "project", cfg.Project, "error", err)
	}

	if err := outputReport(cfg, m, out); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nManifest: %s\n", path)

	if runErr != nil {
		// Only a partial result reaches this point.
		logger.Warn("partial manifest", "project", cfg.Project, "unresolved", len(m.Unresolved), "error", runErr)
		fmt.Fprintf(out, "Warning: %v\n", runErr)
	}
	return nil
}

// runState names the terminal state recorded in the history database.
// runErr is nil or a *discovery.PartialResultWarning, since only those come
// with a manifest. A partial manifest from an interrupted run is recorded as
// failed; analyses that timed out on their own do not count.
func runState(runErr error) string {
	var partial *discovery.PartialResultWarning
	if errors.As(runErr, &partial) && partial.Cancelled {
		return discovery.StateFailed.String()
	}
	return discovery.StateConverged.String()
}

// saveRun records the run in the history database if enabled.
func saveRun(ctx context.Context, cfg *config.Config, m *model.ProjectManifest, state string, elapsed time.Duration, logger *slog.Logger) error {
	if !cfg.SaveToDB {
		return nil
	}

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// The run context may already be cancelled for a partial manifest.
	id, err := db.SaveRun(context.WithoutCancel(ctx), m, state, elapsed)
	if err != nil {
		return err
	}
	logger.Info("run recorded", "project", m.Name, "run", id, "db", db.Path())
	return nil
}
