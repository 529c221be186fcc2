package authz

import "github.com/spec-kit/ticket-desk/internal/domain"

// TicketPolicy decides what an authenticated user may do with a ticket.
// Handlers consult the policy before invoking a service operation; the
// status engine trusts the decision and focuses on workflow correctness.
type TicketPolicy struct{}

// NewTicketPolicy returns the policy.
func NewTicketPolicy() *TicketPolicy {
	return &TicketPolicy{}
}

// CanView permits the requester, the assignee, or any admin.
func (p *TicketPolicy) CanView(actor *domain.User, ticket *domain.Ticket) bool {
	if actor == nil || ticket == nil {
		return false
	}
	if actor.IsAdmin {
		return true
	}
	if ticket.RequesterID == actor.ID {
		return true
	}
	return ticket.AssigneeID != nil && *ticket.AssigneeID == actor.ID
}

// CanCreate permits any authenticated user.
func (p *TicketPolicy) CanCreate(actor *domain.User) bool {
	return actor != nil
}

// CanUpdate permits the requester, the assignee, or an admin, and only while
// the ticket is still OPEN. Once the workflow has moved forward the
// non-status fields are frozen, which keeps this path from racing the
// status engine.
func (p *TicketPolicy) CanUpdate(actor *domain.User, ticket *domain.Ticket) bool {
	if !p.CanView(actor, ticket) {
		return false
	}
	return ticket.Status == domain.TicketStatusOpen
}

// CanDelete permits the requester or an admin.
func (p *TicketPolicy) CanDelete(actor *domain.User, ticket *domain.Ticket) bool {
	if actor == nil || ticket == nil {
		return false
	}
	return actor.IsAdmin || ticket.RequesterID == actor.ID
}

// CanRestore permits only admins to recover a soft-deleted ticket.
func (p *TicketPolicy) CanRestore(actor *domain.User, ticket *domain.Ticket) bool {
	if actor == nil || ticket == nil {
		return false
	}
	return actor.IsAdmin
}

// CanChangeStatus permits only admins to drive the workflow.
func (p *TicketPolicy) CanChangeStatus(actor *domain.User, ticket *domain.Ticket) bool {
	if actor == nil || ticket == nil {
		return false
	}
	return actor.IsAdmin
}
