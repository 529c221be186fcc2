package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-desk/internal/domain"
	"github.com/spec-kit/ticket-desk/internal/events"
	"github.com/spec-kit/ticket-desk/internal/repository"
	apperrors "github.com/spec-kit/ticket-desk/pkg/util"
)

// TicketService coordinates the ticket workflow: CRUD on the aggregate and
// the status transition engine that is the sole mutator of status, assignee
// derivation and resolved_at.
type TicketService struct {
	tickets    repository.TicketRepository
	history    repository.StatusHistoryRepository
	users      repository.UserRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.StatusHistoryRepository
	UserRepo    repository.UserRepository
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// TicketCreateInput describes ticket creation payload. Status, identifiers
// and timestamps are never accepted from the caller.
type TicketCreateInput struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
}

// TicketUpdateInput carries optional non-status field changes. Nil pointers
// leave the field untouched; SetAssignee gates the assignee change so a nil
// AssigneeID can clear it.
type TicketUpdateInput struct {
	Title       *string
	Description *string
	Priority    *domain.TicketPriority
	AssigneeID  *string
	SetAssignee bool
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	Statuses       []domain.TicketStatus
	Priorities     []domain.TicketPriority
	SearchTerm     *string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		history:    deps.HistoryRepo,
		users:      deps.UserRepo,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateTicket files a new ticket for the requester. The ticket always
// starts OPEN with no history entry; creation is not a transition.
func (s *TicketService) CreateTicket(ctx context.Context, requester *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	if requester == nil {
		return nil, apperrors.NewUnauthorized("requester required")
	}

	ticket := &domain.Ticket{
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Status:      domain.TicketStatusOpen,
		Priority:    input.Priority,
		RequesterID: requester.ID,
	}
	if ticket.Priority == "" {
		ticket.Priority = domain.TicketPriorityMedium
	}
	if !ticket.Priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"field": "priority"})
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, err
	}
	ticket.Requester = requester

	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("requester_id", ticket.RequesterID))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		ActorID:  &requester.ID,
		Payload: events.TicketCreatedPayload{
			Title:       ticket.Title,
			Priority:    ticket.Priority,
			RequesterID: ticket.RequesterID,
		},
	})
	return ticket, nil
}

// GetTicket loads a live ticket with requester, assignee and chronological
// history.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketError(err, ticketID)
	}
	return s.withRelations(ctx, ticket)
}

// GetTicketIncludeDeleted also resolves soft-deleted tickets. Used by the
// administrative recovery path.
func (s *TicketService) GetTicketIncludeDeleted(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByIDAny(ctx, ticketID)
	if err != nil {
		return nil, mapTicketError(err, ticketID)
	}
	return s.withRelations(ctx, ticket)
}

// ListTickets returns tickets visible to the actor: admins see everything,
// regular users only tickets they requested or are assigned to. Deleted
// tickets are included only for admins asking for them.
func (s *TicketService) ListTickets(ctx context.Context, actor *domain.User, filter TicketListFilter) ([]domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	repoFilter := repository.TicketFilter{
		Statuses:       filter.Statuses,
		Priorities:     filter.Priorities,
		SearchTerm:     filter.SearchTerm,
		IncludeDeleted: filter.IncludeDeleted && actor.IsAdmin,
		Limit:          filter.Limit,
		Offset:         filter.Offset,
	}
	if !actor.IsAdmin {
		repoFilter.InvolvedUserID = &actor.ID
	}
	tickets, err := s.tickets.ListWithFilter(ctx, repoFilter)
	if err != nil {
		return nil, err
	}
	if err := s.attachUsers(ctx, tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// UpdateTicket changes title, description, priority or assignee. The caller
// has already passed the policy gate (ticket OPEN, actor involved or admin);
// the repository re-checks the OPEN predicate atomically.
func (s *TicketService) UpdateTicket(ctx context.Context, actor *domain.User, ticket *domain.Ticket, input TicketUpdateInput) (*domain.Ticket, error) {
	updated := *ticket
	if input.Title != nil {
		updated.Title = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil {
		updated.Description = strings.TrimSpace(*input.Description)
	}
	if input.Priority != nil {
		if !input.Priority.Valid() {
			return nil, apperrors.NewValidationError("invalid priority", map[string]any{"field": "priority"})
		}
		updated.Priority = *input.Priority
	}
	if input.SetAssignee {
		if input.AssigneeID != nil {
			if _, err := s.users.GetByID(ctx, *input.AssigneeID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, apperrors.NewValidationError("assignee does not exist", map[string]any{"field": "assignee_id"})
				}
				return nil, err
			}
		}
		updated.AssigneeID = input.AssigneeID
	}

	if err := s.tickets.Update(ctx, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewConflict("ticket is no longer open", map[string]any{"ticket_id": ticket.ID})
		}
		return nil, err
	}

	s.logger.Info("ticket updated",
		zap.String("ticket_id", ticket.ID),
		zap.String("updated_by", actorID(actor)))
	return s.GetTicket(ctx, ticket.ID)
}

// DeleteTicket soft-deletes the ticket; the row and its history survive for
// administrative recovery.
func (s *TicketService) DeleteTicket(ctx context.Context, actor *domain.User, ticket *domain.Ticket) error {
	if err := s.tickets.SoftDelete(ctx, ticket.ID); err != nil {
		return mapTicketError(err, ticket.ID)
	}
	s.logger.Info("ticket deleted",
		zap.String("ticket_id", ticket.ID),
		zap.String("deleted_by", actorID(actor)))
	return nil
}

// RestoreTicket lifts the soft-delete marker.
func (s *TicketService) RestoreTicket(ctx context.Context, actor *domain.User, ticket *domain.Ticket) (*domain.Ticket, error) {
	if err := s.tickets.Restore(ctx, ticket.ID); err != nil {
		return nil, mapTicketError(err, ticket.ID)
	}
	s.logger.Info("ticket restored",
		zap.String("ticket_id", ticket.ID),
		zap.String("restored_by", actorID(actor)))
	return s.GetTicket(ctx, ticket.ID)
}

// ChangeStatus drives the workflow forward. Authorization (admins only) has
// already been decided by the policy gate; this method owns the state
// machine: RESOLVED is terminal, backward moves are rejected, a same-status
// request is an idempotent no-op, and a realized transition writes exactly
// one history entry plus its derived side effects in one transaction. When
// the transition newly reaches RESOLVED the requester is notified after
// commit, best-effort.
func (s *TicketService) ChangeStatus(ctx context.Context, actor *domain.User, ticketID string, requested domain.TicketStatus) (*domain.Ticket, error) {
	if !requested.Valid() {
		return nil, apperrors.NewValidationError("invalid status, use OPEN, IN_PROGRESS or RESOLVED", map[string]any{"field": "status"})
	}

	var previous domain.TicketStatus
	_, entry, err := s.tickets.Transition(ctx, ticketID, func(current *domain.Ticket) (*domain.StatusHistory, error) {
		previous = current.Status
		if current.Status.Terminal() {
			return nil, apperrors.NewTerminalStatus()
		}
		if requested.Rank() < current.Status.Rank() {
			return nil, apperrors.NewInvalidTransition(string(current.Status), string(requested))
		}
		if requested == current.Status {
			return nil, nil
		}

		from := current.Status
		entry := &domain.StatusHistory{
			TicketID: current.ID,
			From:     &from,
			To:       requested,
		}
		if actor != nil {
			id := actor.ID
			entry.ActorID = &id
		}

		current.Status = requested
		if requested == domain.TicketStatusInProgress && !current.HasAssignee() && actor != nil {
			id := actor.ID
			current.AssigneeID = &id
		}
		if requested == domain.TicketStatusResolved && current.ResolvedAt == nil {
			resolvedAt := s.now()
			current.ResolvedAt = &resolvedAt
		}
		return entry, nil
	})
	if err != nil {
		return nil, mapTicketError(err, ticketID)
	}

	detail, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return detail, nil
	}

	s.logger.Info("ticket status changed",
		zap.String("ticket_id", ticketID),
		zap.String("old_status", string(previous)),
		zap.String("new_status", string(requested)),
		zap.String("changed_by", actorID(actor)))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticketID,
		ActorID:  entry.ActorID,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: previous,
			NewStatus: requested,
		},
	})

	resolvedNow := requested == domain.TicketStatusResolved && previous != domain.TicketStatusResolved
	if resolvedNow && detail.Requester != nil {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketResolved,
			TicketID: ticketID,
			ActorID:  entry.ActorID,
			Payload: events.TicketResolvedPayload{
				Title:          detail.Title,
				RequesterID:    detail.Requester.ID,
				RequesterName:  detail.Requester.Name,
				RequesterEmail: detail.Requester.Email,
			},
		})
	}
	return detail, nil
}

func (s *TicketService) withRelations(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error) {
	tickets := []domain.Ticket{*ticket}
	if err := s.attachUsers(ctx, tickets); err != nil {
		return nil, err
	}
	detail := tickets[0]

	history, err := s.history.ListByTicket(ctx, detail.ID)
	if err != nil {
		return nil, err
	}
	detail.History = history
	return &detail, nil
}

func (s *TicketService) attachUsers(ctx context.Context, tickets []domain.Ticket) error {
	ids := make([]string, 0, len(tickets)*2)
	seen := map[string]struct{}{}
	for i := range tickets {
		for _, id := range []string{tickets[i].RequesterID, deref(tickets[i].AssigneeID)} {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for i := range tickets {
		if user, ok := users[tickets[i].RequesterID]; ok {
			u := user
			tickets[i].Requester = &u
		}
		if tickets[i].AssigneeID != nil {
			if user, ok := users[*tickets[i].AssigneeID]; ok {
				u := user
				tickets[i].Assignee = &u
			}
		}
	}
	return nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func mapTicketError(err error, ticketID string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return err
}

func actorID(actor *domain.User) string {
	if actor == nil {
		return "system"
	}
	return actor.ID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
