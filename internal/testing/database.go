// Package testing provides shared test database helpers.
package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/taku247/long-trader-sub006/ledger"
)

// CreateTestDB creates an in-memory SQLite test database.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// LedgerDBs bundles the two physically separate ledger stores for tests.
// Paths are exposed because the integrity guard attaches the runs store by
// file path for its federated read.
type LedgerDBs struct {
	RunDB     *sql.DB
	TaskDB    *sql.DB
	RunsPath  string
	TasksPath string
}

// CreateLedgerDBs opens and migrates both ledger stores under a per-test
// temp directory. File-backed (not :memory:) so ATTACH-based federated reads
// work exactly as in production. Cleanup is automatic via t.Cleanup().
func CreateLedgerDBs(t *testing.T) LedgerDBs {
	t.Helper()

	dir := t.TempDir()
	runsPath := filepath.Join(dir, "execution_runs.db")
	tasksPath := filepath.Join(dir, "strategy_tasks.db")

	runDB, err := ledger.OpenRunDB(runsPath, nil)
	if err != nil {
		t.Fatalf("Failed to open run store: %v", err)
	}
	t.Cleanup(func() { runDB.Close() })

	taskDB, err := ledger.OpenTaskDB(tasksPath, nil)
	if err != nil {
		t.Fatalf("Failed to open task store: %v", err)
	}
	t.Cleanup(func() { taskDB.Close() })

	return LedgerDBs{RunDB: runDB, TaskDB: taskDB, RunsPath: runsPath, TasksPath: tasksPath}
}
