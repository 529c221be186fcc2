package dto

import (
	"encoding/json"
	"time"
)

// EnumValue renders an enum with its human-readable label.
type EnumValue struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// UserRef is the embedded user shape on ticket payloads.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateTicketRequest payload. Status, ids and timestamps are ignored by
// design; a new ticket always starts OPEN.
type CreateTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// UpdateTicketRequest carries optional non-status changes. AssigneeID is a
// raw message so an explicit null (unassign) can be told apart from an
// absent field.
type UpdateTicketRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Priority    *string         `json:"priority"`
	AssigneeID  json.RawMessage `json:"assignee_id"`
}

// ChangeStatusRequest payload for the admin-only status endpoint.
type ChangeStatusRequest struct {
	Status string `json:"status"`
}

// StatusHistoryResponse is one audit entry. From and Actor are null for the
// creation state and system-originated changes respectively.
type StatusHistoryResponse struct {
	ID        string     `json:"id"`
	From      *EnumValue `json:"from"`
	To        EnumValue  `json:"to"`
	Actor     *UserRef   `json:"actor"`
	CreatedAt time.Time  `json:"created_at"`
}

// TicketResponse provides the full ticket shape.
type TicketResponse struct {
	ID          string                  `json:"id"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Status      EnumValue               `json:"status"`
	Priority    EnumValue               `json:"priority"`
	Requester   *UserRef                `json:"requester"`
	Assignee    *UserRef                `json:"assignee"`
	ResolvedAt  *time.Time              `json:"resolved_at"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
	DeletedAt   *time.Time              `json:"deleted_at"`
	History     []StatusHistoryResponse `json:"status_history,omitempty"`
}
