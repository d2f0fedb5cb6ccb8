package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is a player currently connected to the server
type Session struct {
	ID       uuid.UUID `json:"uuid"`
	Name     string    `json:"name"`
	Address  string    `json:"address,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}
