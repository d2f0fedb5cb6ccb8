package testutils

import (
	"database/sql"
	"path/filepath"
	"testing"

	"playerident/db"
	"playerident/internal/config"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// SetupTestDatabase opens a schema-initialized SQLite database in a temp dir.
// The database is closed when the test ends.
func SetupTestDatabase(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	testDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=10000")
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })

	err = db.InitializeSchema(testDB)
	require.NoError(t, err)

	return testDB
}

func SetupTestRepositoryFactory(t *testing.T) *db.RepositoryFactory {
	t.Helper()
	return db.NewRepositoryFactory(SetupTestDatabase(t), "playerident_test")
}

func GetTestConfig() *config.Config {
	return &config.Config{
		SQLitePath:     ":memory:",
		DatabaseName:   "playerident_test",
		LogLevel:       "info",
		JwtKey:         []byte("test_jwt_secret_key_for_testing_only"),
		Username:       "test_admin",
		Password:       "test_password",
		OnlineMode:     true,
		WriteQueueSize: 16,
		Fetchers:       config.DefaultFetcherConfig(),
		Endpoints:      config.DefaultEndpoints(),
	}
}
