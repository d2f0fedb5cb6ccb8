package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	_ "github.com/mattn/go-sqlite3"
)

var log = logging.Logger("db")

// ConnectToSQLite initializes and returns a SQLite connection
func ConnectToSQLite(dbPath string) (*sql.DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for SQLite: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	log.Infow("Connected to SQLite database", "path", dbPath)
	return db, nil
}

// InitializeSchema creates all the necessary tables if they don't exist
func InitializeSchema(db *sql.DB) error {
	// uuid is stored as 32 hex characters without dashes
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS identities (
		uuid TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		iplist TEXT NOT NULL,
		update_name INTEGER NOT NULL,
		update_iplist INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create identities table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_identities_name ON identities (name COLLATE NOCASE)`)
	if err != nil {
		return fmt.Errorf("failed to create identities name index: %w", err)
	}

	log.Info("Database schema initialized successfully")
	return nil
}
