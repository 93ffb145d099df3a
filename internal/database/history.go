package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/chainscan/internal/model"
)

// FileName is the database file name inside the database directory.
const FileName = "chainscan.db"

// HistoryDB provides SQLite-based storage for discovery runs.
// Each run stores the full manifest as JSON plus one row per contract and
// per reference, so address lookups do not need to decode manifests.
//
// Design decision: We use a single database file for all projects rather
// than one per project. This lets one query answer "which projects contain
// this address" and keeps backup to a single file.
type HistoryDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures HistoryDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a HistoryDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*HistoryDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite: mode=rw refuses to create a new file, mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	hdb := &HistoryDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.ExecContext(context.Background(), "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := hdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return hdb, nil
}

// Path returns the database file path.
func (hdb *HistoryDB) Path() string {
	return hdb.dbPath
}

// Close closes the database connection.
func (hdb *HistoryDB) Close() error {
	return hdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (hdb *HistoryDB) createTables() error {
	schema := `
	-- One row per finished discovery run
	CREATE TABLE IF NOT EXISTS discovery_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project TEXT NOT NULL,
		block_number INTEGER NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		state TEXT NOT NULL,
		contract_count INTEGER NOT NULL,
		unresolved_count INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		manifest_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_project ON discovery_runs(project);
	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON discovery_runs(timestamp);

	-- Contracts of each run, for address lookups
	CREATE TABLE IF NOT EXISTS contracts (
		run_id INTEGER NOT NULL REFERENCES discovery_runs(id) ON DELETE CASCADE,
		address TEXT NOT NULL,
		name TEXT,
		upgradeability TEXT,
		PRIMARY KEY (run_id, address)
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_address ON contracts(address);

	-- Relationships are the reference edges of each run
	CREATE TABLE IF NOT EXISTS relationships (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES discovery_runs(id) ON DELETE CASCADE,
		from_address TEXT NOT NULL,
		to_address TEXT NOT NULL,
		field TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rel_run ON relationships(run_id);
	CREATE INDEX IF NOT EXISTS idx_rel_to ON relationships(to_address);
	`

	_, err := hdb.db.ExecContext(context.Background(), schema)
	return err
}

// RunMetadata contains summary information about a stored run.
// This is used for displaying history without loading the full manifest.
type RunMetadata struct {
	// ID is the unique identifier of the run in the database.
	ID int64

	// Project is the project name.
	Project string

	// BlockNumber is the pinned block of the run.
	BlockNumber uint64

	// Timestamp is when the run was saved.
	Timestamp time.Time

	// State is the terminal run state ("converged", or "failed" for a
	// cancelled best-effort run that still produced a manifest).
	State string

	// ContractCount is the number of contracts in the manifest.
	ContractCount int

	// UnresolvedCount is the number of unresolved addresses.
	UnresolvedCount int

	// Duration is the wall time of the run.
	Duration time.Duration
}

// SaveRun stores a manifest and its contracts and references in one
// transaction. It returns the run ID.
func (hdb *HistoryDB) SaveRun(ctx context.Context, m *model.ProjectManifest, state string, duration time.Duration) (_ int64, err error) {
	manifestJSON, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize manifest: %w", err)
	}

	tx, err := hdb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
	INSERT INTO discovery_runs (project, block_number, state, contract_count, unresolved_count, duration_ms, manifest_json)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		m.Name,
		int64(m.BlockNumber), //nolint:gosec // block heights fit in int64
		state,
		len(m.Contracts),
		len(m.Unresolved),
		duration.Milliseconds(),
		string(manifestJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save run: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}

	for _, c := range m.Contracts {
		upType := ""
		if c.Upgradeability != nil {
			upType = c.Upgradeability.Type
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO contracts (run_id, address, name, upgradeability) VALUES (?, ?, ?, ?)`,
			runID, c.Address.String(), c.Name, upType,
		); err != nil {
			return 0, fmt.Errorf("failed to save contract %s: %w", c.Address, err)
		}
		for _, ref := range c.References {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO relationships (run_id, from_address, to_address, field) VALUES (?, ?, ?, ?)`,
				runID, c.Address.String(), ref.Address.String(), ref.Field,
			); err != nil {
				return 0, fmt.Errorf("failed to save relationship: %w", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}
	return runID, nil
}

// GetLatestRun retrieves the most recent manifest of a project.
// It returns nil when the project has no runs.
func (hdb *HistoryDB) GetLatestRun(ctx context.Context, project string) (*model.ProjectManifest, error) {
	query := `
	SELECT manifest_json FROM discovery_runs
	WHERE project = ?
	ORDER BY timestamp DESC, id DESC
	LIMIT 1
	`
	return hdb.queryManifest(ctx, query, project)
}

// GetRunByID retrieves a manifest by its run ID.
// It returns nil when no such run exists.
func (hdb *HistoryDB) GetRunByID(ctx context.Context, id int64) (*model.ProjectManifest, error) {
	return hdb.queryManifest(ctx, `SELECT manifest_json FROM discovery_runs WHERE id = ?`, id)
}

func (hdb *HistoryDB) queryManifest(ctx context.Context, query string, args ...any) (*model.ProjectManifest, error) {
	var manifestJSON string
	err := hdb.db.QueryRowContext(ctx, query, args...).Scan(&manifestJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var m model.ProjectManifest
	if err := json.Unmarshal([]byte(manifestJSON), &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// ListProjects returns every project with at least one stored run.
func (hdb *HistoryDB) ListProjects(ctx context.Context) ([]string, error) {
	rows, err := hdb.db.QueryContext(ctx, `SELECT DISTINCT project FROM discovery_runs ORDER BY project`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var project string
		if err := rows.Scan(&project); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// GetRunHistory retrieves run metadata for a project, newest first.
func (hdb *HistoryDB) GetRunHistory(ctx context.Context, project string) ([]RunMetadata, error) {
	query := `
	SELECT id, project, block_number, timestamp, state, contract_count, unresolved_count, duration_ms
	FROM discovery_runs
	WHERE project = ?
	ORDER BY timestamp DESC, id DESC
	`

	rows, err := hdb.db.QueryContext(ctx, query, project)
	if err != nil {
		return nil, fmt.Errorf("failed to get run history: %w", err)
	}
	defer rows.Close()

	var results []RunMetadata
	for rows.Next() {
		var (
			meta      RunMetadata
			block     int64
			timestamp string
			duration  int64
		)
		if err := rows.Scan(&meta.ID, &meta.Project, &block, &timestamp, &meta.State,
			&meta.ContractCount, &meta.UnresolvedCount, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		meta.BlockNumber = uint64(block) //nolint:gosec // stored from a uint64
		meta.Timestamp = parseTimestamp(timestamp)
		meta.Duration = time.Duration(duration) * time.Millisecond
		results = append(results, meta)
	}
	return results, rows.Err()
}

// Relationship is one stored reference edge.
type Relationship struct {
	RunID int64
	From  string
	To    string
	Field string
}

// QueryRelationships returns the edges of a run, optionally filtered by
// field, in insertion order.
func (hdb *HistoryDB) QueryRelationships(ctx context.Context, runID int64, field string) ([]Relationship, error) {
	query := `
	SELECT run_id, from_address, to_address, field
	FROM relationships
	WHERE run_id = ?
	`
	args := []any{runID}
	if field != "" {
		query += " AND field = ?"
		args = append(args, field)
	}
	query += " ORDER BY id"

	rows, err := hdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var results []Relationship
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.RunID, &rel.From, &rel.To, &rel.Field); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		results = append(results, rel)
	}
	return results, rows.Err()
}

// Sighting records that an address appeared in a project's run.
type Sighting struct {
	Project        string
	RunID          int64
	BlockNumber    uint64
	Name           string
	Upgradeability string
}

// FindAddress returns the runs whose manifest contains addr, newest first.
func (hdb *HistoryDB) FindAddress(ctx context.Context, addr model.Address) ([]Sighting, error) {
	query := `
	SELECT r.project, r.id, r.block_number, c.name, c.upgradeability
	FROM contracts c
	JOIN discovery_runs r ON r.id = c.run_id
	WHERE c.address = ?
	ORDER BY r.timestamp DESC, r.id DESC
	`

	rows, err := hdb.db.QueryContext(ctx, query, addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to find address: %w", err)
	}
	defer rows.Close()

	var results []Sighting
	for rows.Next() {
		var (
			s            Sighting
			block        int64
			name, upType sql.NullString
		)
		if err := rows.Scan(&s.Project, &s.RunID, &block, &name, &upType); err != nil {
			return nil, fmt.Errorf("failed to scan sighting: %w", err)
		}
		s.BlockNumber = uint64(block) //nolint:gosec // stored from a uint64
		s.Name = name.String
		s.Upgradeability = upType.String
		results = append(results, s)
	}
	return results, rows.Err()
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	time.RFC3339Nano,          // RFC3339 with nanoseconds
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
