package ledger

import (
	"database/sql"
	"embed"

	"go.uber.org/zap"

	"github.com/taku247/long-trader-sub006/db"
)

//go:embed migrations/runs/*.sql migrations/tasks/*.sql
var migrations embed.FS

// OpenRunDB opens and migrates the ExecutionRun store.
func OpenRunDB(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	conn, err := db.Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn, migrations, "migrations/runs", logger); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// OpenTaskDB opens and migrates the StrategyTask/metrics store.
func OpenTaskDB(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	conn, err := db.Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn, migrations, "migrations/tasks", logger); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
