package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/chainscan/internal/chain"
	"github.com/nao1215/chainscan/internal/discovery"
)

// Default configuration values.
const (
	// DefaultRPCURL is a local node's HTTP endpoint. Hosted providers need
	// an explicit --rpc.
	DefaultRPCURL = "http://127.0.0.1:8545"

	// DefaultTimeout bounds a single JSON-RPC request. Archive reads on
	// hosted nodes occasionally take several seconds.
	DefaultTimeout = chain.DefaultRequestTimeout

	// DefaultConcurrency is the number of addresses analyzed at once.
	DefaultConcurrency = discovery.DefaultMaxConcurrency

	// DefaultMaxAttempts is the number of calls per address, first included.
	DefaultMaxAttempts = discovery.DefaultMaxAttempts

	// DefaultRateLimit is the number of RPC requests per second. Free tiers
	// of the common providers allow roughly this much sustained traffic.
	DefaultRateLimit = 25.0

	// DefaultRateBurst is the number of requests allowed above the rate.
	DefaultRateBurst = 10

	// DefaultOutputDir is where manifests are written, relative to the
	// working directory: <dir>/<project>/discovered.json.
	DefaultOutputDir = "discovery"

	// AppName is the application name used for XDG directory paths.
	AppName = "chainscan"
)

// Config holds all configuration options for a chainscan invocation.
// It is populated from CLI flags and the project file, and passed through
// the application via dependency injection rather than global state.
//
// Design decision: We use a single flat struct instead of nested structs
// for simplicity. Project-level settings that belong in version control
// (addresses, overrides, templates) live in the project file instead.
type Config struct {
	// Project is the name of the project to discover. It selects the entry
	// in the project file and names the manifest directory.
	Project string

	// RPCURL is the JSON-RPC endpoint (http, https, ws or wss).
	RPCURL string

	// BlockNumber pins the run. Zero means "latest", resolved once before
	// the run starts.
	BlockNumber uint64

	// Timeout bounds each JSON-RPC request.
	Timeout time.Duration

	// RunTimeout bounds the whole discovery run. Zero means no limit.
	RunTimeout time.Duration

	// Concurrency is the maximum number of addresses analyzed at once.
	Concurrency int

	// MaxAttempts is the number of analyzer calls per address before a
	// transient failure becomes permanent.
	MaxAttempts int

	// BestEffort keeps going after permanent failures and emits a partial
	// manifest. When false, the first permanent failure aborts the run.
	BestEffort bool

	// PartialOnCancel emits a partial manifest when a best-effort run is
	// interrupted.
	PartialOnCancel bool

	// RateLimit is the maximum number of RPC requests per second.
	// Zero disables limiting.
	RateLimit float64

	// RateBurst is the number of requests allowed above RateLimit.
	RateBurst int

	// ProxyAddress is an optional SOCKS5 proxy ("host:port") for HTTP RPC.
	ProxyAddress string

	// Verbose enables detailed log output using slog.LevelDebug.
	// When false, only warnings and errors are logged.
	Verbose bool

	// ConfigFilePath is the path to the project file.
	// If empty, the tool searches for .chainscan in the current directory
	// and then in the user's home directory.
	ConfigFilePath string

	// ProjectFile holds the parsed project file, if one was found.
	ProjectFile *File

	// Seeds are addresses given on the command line. They are appended to
	// the project's configured addresses.
	Seeds []string

	// OutputDir is the root directory for manifests.
	OutputDir string

	// JSONReport prints the summary as JSON instead of text.
	// Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport prints the summary as Markdown instead of text.
	// Mutually exclusive with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path for the summary. Empty means stdout.
	ReportFile string

	// DBDir is the directory holding the history database.
	// Defaults to the XDG data directory (~/.local/share/chainscan on Linux).
	DBDir string

	// SaveToDB records each run in the history database.
	SaveToDB bool

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string
}

// NewConfig creates a new Config with default values.
//
// Design decision: We use a constructor function instead of relying on
// zero values because many defaults are non-zero (e.g., timeout, rate limit).
// This also serves as documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		RPCURL:      DefaultRPCURL,
		Timeout:     DefaultTimeout,
		Concurrency: DefaultConcurrency,
		MaxAttempts: DefaultMaxAttempts,
		RateLimit:   DefaultRateLimit,
		RateBurst:   DefaultRateBurst,
		OutputDir:   DefaultOutputDir,
		DBDir:       XDGDataDir(),
		SaveToDB:    true,
	}
}

// XDGDataDir returns the XDG data directory for chainscan.
// On Linux: ~/.local/share/chainscan
// On macOS: ~/Library/Application Support/chainscan
// On Windows: %LOCALAPPDATA%\chainscan
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for chainscan.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for chainscan.
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns a specific error describing what is invalid.
//
// Design decision: We validate at the config level rather than at each
// point of use to fail fast and provide clear error messages upfront.
// We return the first error found because fixing one error often makes
// others irrelevant.
func (c *Config) Validate() error {
	if c.Project == "" {
		return ErrNoProject
	}
	if c.RPCURL == "" {
		return ErrNoRPCURL
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.RunTimeout < 0 {
		return ErrInvalidRunTimeout
	}
	if c.Concurrency < 1 {
		return ErrInvalidConcurrency
	}
	if c.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return ErrInvalidRateLimit
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.OutputDir == "" {
		return ErrNoOutputDir
	}
	return nil
}

// FailureMode returns the failure mode selected by BestEffort.
func (c *Config) FailureMode() discovery.FailureMode {
	if c.BestEffort {
		return discovery.BestEffort
	}
	return discovery.FailFast
}
