package models

import "time"

// ServiceStatus reports the rate-limit state of one external service
type ServiceStatus struct {
	Name           string     `json:"name"`
	Available      bool       `json:"available"`
	Cooldown       string     `json:"cooldown"`
	AvailableAgain *time.Time `json:"available_again,omitempty"`
}
