package domain

import "time"

// StatusHistory is an immutable audit record of one realized transition.
// Entries are written only by the status engine and never updated or
// deleted. From is nil only for the ticket's implicit creation state;
// ActorID is nil for system-originated changes.
type StatusHistory struct {
	ID        string
	TicketID  string
	ActorID   *string
	From      *TicketStatus
	To        TicketStatus
	CreatedAt time.Time

	Actor *User
}
