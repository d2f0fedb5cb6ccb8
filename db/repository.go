package db

import (
	"context"
	"database/sql"
	"errors"

	"playerident/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Repository defines a common interface for all repositories
type Repository interface {
	Close() error
}

// IdentityRepository defines the interface for identity persistence
type IdentityRepository interface {
	Repository
	FindAll(ctx context.Context) ([]*models.IdentityRow, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.IdentityRow, error)
	// Exec runs the statements in order inside one transaction
	Exec(ctx context.Context, stmts ...Statement) error
}

// RepositoryFactory creates repositories on top of one database handle
type RepositoryFactory struct {
	SQLiteDB *sql.DB
	DBName   string
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(sqliteDB *sql.DB, dbName string) *RepositoryFactory {
	return &RepositoryFactory{
		SQLiteDB: sqliteDB,
		DBName:   dbName,
	}
}

// NewIdentityRepository creates a new identity repository
func (f *RepositoryFactory) NewIdentityRepository() IdentityRepository {
	return NewSQLiteIdentityRepository(f.SQLiteDB)
}
