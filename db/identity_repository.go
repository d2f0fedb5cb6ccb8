package db

import (
	"context"
	"database/sql"
	"fmt"

	"playerident/models"

	"github.com/google/uuid"
)

// SQLiteIdentityRepository implements the IdentityRepository interface for SQLite
type SQLiteIdentityRepository struct {
	db *sql.DB
}

// NewSQLiteIdentityRepository creates a new SQLiteIdentityRepository
func NewSQLiteIdentityRepository(db *sql.DB) *SQLiteIdentityRepository {
	return &SQLiteIdentityRepository{db: db}
}

// Close closes the database connection
func (r *SQLiteIdentityRepository) Close() error {
	return r.db.Close()
}

// FindAll returns every stored identity row. Identifiers are returned as
// stored and are not validated here.
func (r *SQLiteIdentityRepository) FindAll(ctx context.Context) ([]*models.IdentityRow, error) {
	query := `SELECT uuid, name, iplist, update_name, update_iplist FROM identities`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying identities: %w", err)
	}
	defer rows.Close()

	var identities []*models.IdentityRow
	for rows.Next() {
		row, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identities: %w", err)
	}

	return identities, nil
}

// FindByID finds an identity row by its identifier
func (r *SQLiteIdentityRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.IdentityRow, error) {
	query := `SELECT uuid, name, iplist, update_name, update_iplist FROM identities WHERE uuid = ?`
	row, err := scanIdentity(r.db.QueryRowContext(ctx, query, CompactUUID(id)))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return row, err
}

// Exec runs stmts in order inside a single transaction
func (r *SQLiteIdentityRepository) Exec(ctx context.Context, stmts ...Statement) error {
	if len(stmts) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt.Query, stmt.Args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("error executing identity statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing identity statements: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(s rowScanner) (*models.IdentityRow, error) {
	var row models.IdentityRow
	var name, ipList sql.NullString
	var nameAt, ipListAt sql.NullInt64

	err := s.Scan(&row.UUID, &name, &ipList, &nameAt, &ipListAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("error scanning identity: %w", err)
	}

	if name.Valid {
		row.Name = name.String
	}
	row.IPList = models.EmptyIPList
	if ipList.Valid && ipList.String != "" {
		row.IPList = ipList.String
	}
	if nameAt.Valid {
		row.NameUpdatedAt = nameAt.Int64
	}
	if ipListAt.Valid {
		row.IPListUpdatedAt = ipListAt.Int64
	}

	return &row, nil
}
