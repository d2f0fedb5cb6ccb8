package testutils

import (
	"time"

	"playerident/db"
	"playerident/models"

	"github.com/google/uuid"
)

func CreateTestIdentityRow(name string, addresses ...string) *models.IdentityRow {
	now := time.Now().Unix()
	return &models.IdentityRow{
		UUID:            db.CompactUUID(uuid.New()),
		Name:            name,
		IPList:          models.EncodeIPList(addresses),
		NameUpdatedAt:   now,
		IPListUpdatedAt: now,
	}
}

// InsertStatement turns a row into the statement that stores it
func InsertStatement(row *models.IdentityRow) db.Statement {
	return db.InsertIdentity(uuid.MustParse(row.UUID), row.Name, row.IPList, row.NameUpdatedAt, row.IPListUpdatedAt)
}
