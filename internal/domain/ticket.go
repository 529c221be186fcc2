package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets. The workflow is
// monotonic: a ticket only moves forward along OPEN -> IN_PROGRESS ->
// RESOLVED, and RESOLVED is terminal.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
)

// statusRank totally orders the workflow states.
var statusRank = map[TicketStatus]int{
	TicketStatusOpen:       0,
	TicketStatusInProgress: 1,
	TicketStatusResolved:   2,
}

var statusLabels = map[TicketStatus]string{
	TicketStatusOpen:       "Open",
	TicketStatusInProgress: "In progress",
	TicketStatusResolved:   "Resolved",
}

// Rank returns the position of the status in the workflow order.
func (s TicketStatus) Rank() int {
	return statusRank[s]
}

// Valid reports whether the value is a known status.
func (s TicketStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Label returns the human-readable form of the status.
func (s TicketStatus) Label() string {
	return statusLabels[s]
}

// Terminal reports whether no further transition is permitted.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusResolved
}

// TicketPriority enumerates urgency, orthogonal to the workflow.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
)

var priorityLabels = map[TicketPriority]string{
	TicketPriorityLow:    "Low",
	TicketPriorityMedium: "Medium",
	TicketPriorityHigh:   "High",
}

// Valid reports whether the value is a known priority.
func (p TicketPriority) Valid() bool {
	_, ok := priorityLabels[p]
	return ok
}

// Label returns the human-readable form of the priority.
func (p TicketPriority) Label() string {
	return priorityLabels[p]
}

// Ticket is the aggregate for support requests. Requester, Assignee and
// History are populated only when the ticket is loaded with relations.
type Ticket struct {
	ID          string
	Title       string
	Description string
	Status      TicketStatus
	Priority    TicketPriority
	RequesterID string
	AssigneeID  *string
	ResolvedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time

	Requester *User
	Assignee  *User
	History   []StatusHistory
}

// HasAssignee reports whether a responsible user is set.
func (t *Ticket) HasAssignee() bool {
	return t.AssigneeID != nil
}

// Deleted reports whether the ticket is soft-deleted.
func (t *Ticket) Deleted() bool {
	return t.DeletedAt != nil
}
