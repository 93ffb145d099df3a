// Package database provides SQLite-based storage of discovery history.
//
// The HistoryDB stores:
//   - Every saved run with its manifest, pinned block and outcome
//   - The contracts of each run, indexed by address
//   - The reference edges between contracts
//
// Design decision: We use SQLite (via modernc.org/sqlite) instead of other
// databases because:
// 1. No external dependencies - the database is a single file
// 2. CGO-free implementation allows easy cross-compilation
// 3. Sufficient performance for our use case
// 4. WAL mode provides good concurrent read performance
package database
