package db

import (
	"strings"

	"github.com/google/uuid"
)

// Statement is a single parameterized write against the identities table
type Statement struct {
	Query string
	Args  []any
}

// CompactUUID renders id the way it is stored: 32 hex digits, no dashes
func CompactUUID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// InsertIdentity creates the row for a newly seen identity. A row left over
// from an earlier run is overwritten.
func InsertIdentity(id uuid.UUID, name, ipList string, nameAt, ipListAt int64) Statement {
	return Statement{
		Query: `INSERT INTO identities (uuid, name, iplist, update_name, update_iplist) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET name = excluded.name, iplist = excluded.iplist,
			update_name = excluded.update_name, update_iplist = excluded.update_iplist`,
		Args: []any{CompactUUID(id), name, ipList, nameAt, ipListAt},
	}
}

// UpdateName changes only the display name
func UpdateName(id uuid.UUID, name string, nameAt int64) Statement {
	return Statement{
		Query: `UPDATE identities SET name = ?, update_name = ? WHERE uuid = ?`,
		Args:  []any{name, nameAt, CompactUUID(id)},
	}
}

// UpdateIPList replaces the stored address list
func UpdateIPList(id uuid.UUID, ipList string, ipListAt int64) Statement {
	return Statement{
		Query: `UPDATE identities SET iplist = ?, update_iplist = ? WHERE uuid = ?`,
		Args:  []any{ipList, ipListAt, CompactUUID(id)},
	}
}

// UpdateNameAndIPList changes both fields in one statement
func UpdateNameAndIPList(id uuid.UUID, name, ipList string, nameAt, ipListAt int64) Statement {
	return Statement{
		Query: `UPDATE identities SET name = ?, iplist = ?, update_name = ?, update_iplist = ? WHERE uuid = ?`,
		Args:  []any{name, ipList, nameAt, ipListAt, CompactUUID(id)},
	}
}
