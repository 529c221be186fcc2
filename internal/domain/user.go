package domain

import "time"

// User is the domain model for everyone interacting with the desk.
// Administrators triage tickets; regular users file them.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
