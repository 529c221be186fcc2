package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-desk/internal/api/dto"
	"github.com/spec-kit/ticket-desk/internal/auth"
	"github.com/spec-kit/ticket-desk/internal/authz"
	"github.com/spec-kit/ticket-desk/internal/domain"
	"github.com/spec-kit/ticket-desk/internal/service"
	apperrors "github.com/spec-kit/ticket-desk/pkg/util"
)

// TicketsHandler manages ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
	policy  *authz.TicketPolicy
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, policy *authz.TicketPolicy) *TicketsHandler {
	return &TicketsHandler{service: ticketService, policy: policy}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	if !h.policy.CanCreate(actor) {
		return apperrors.NewForbidden("not allowed to create tickets")
	}

	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Description) == "" {
		return apperrors.NewValidationError("title and description required", nil)
	}

	ticket, err := h.service.CreateTicket(c.Context(), actor, service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    domain.TicketPriority(req.Priority),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketResponse(ticket, false)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	tickets, err := h.service.ListTickets(c.Context(), actor, parseTicketListQuery(c))
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketResponse(&tickets[i], false))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if !h.policy.CanView(actor, ticket) {
		return apperrors.NewForbidden("not allowed to view this ticket")
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket, true)})
}

// UpdateTicket PATCH /tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if !h.policy.CanUpdate(actor, ticket) {
		return apperrors.NewForbidden("only open tickets can be updated by involved users")
	}

	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	input := service.TicketUpdateInput{
		Title:       req.Title,
		Description: req.Description,
	}
	if req.Priority != nil {
		priority := domain.TicketPriority(*req.Priority)
		input.Priority = &priority
	}
	if len(req.AssigneeID) > 0 {
		input.SetAssignee = true
		if string(req.AssigneeID) != "null" {
			var assigneeID string
			if err := json.Unmarshal(req.AssigneeID, &assigneeID); err != nil {
				return apperrors.NewValidationError("invalid assignee_id", map[string]any{"field": "assignee_id"})
			}
			input.AssigneeID = &assigneeID
		}
	}

	updated, err := h.service.UpdateTicket(c.Context(), actor, ticket, input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(updated, true)})
}

// DeleteTicket DELETE /tickets/:id.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if !h.policy.CanDelete(actor, ticket) {
		return apperrors.NewForbidden("only the requester or an admin can delete a ticket")
	}
	if err := h.service.DeleteTicket(c.Context(), actor, ticket); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// RestoreTicket POST /tickets/:id/restore.
func (h *TicketsHandler) RestoreTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicketIncludeDeleted(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if !h.policy.CanRestore(actor, ticket) {
		return apperrors.NewForbidden("only admins can restore tickets")
	}
	if !ticket.Deleted() {
		return apperrors.NewValidationError("ticket is not deleted", map[string]any{"ticket_id": ticket.ID})
	}
	restored, err := h.service.RestoreTicket(c.Context(), actor, ticket)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(restored, true)})
}

// ChangeStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) ChangeStatus(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if !h.policy.CanChangeStatus(actor, ticket) {
		return apperrors.NewForbidden("only admins can change ticket status")
	}

	var req dto.ChangeStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Status) == "" {
		return apperrors.NewValidationError("status required", map[string]any{"field": "status"})
	}

	updated, err := h.service.ChangeStatus(c.Context(), actor, ticket.ID, domain.TicketStatus(req.Status))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(updated, true)})
}

func requireActor(c *fiber.Ctx) (*domain.User, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal.User, nil
}

func parseTicketListQuery(c *fiber.Ctx) service.TicketListFilter {
	filter := service.TicketListFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			filter.Statuses = append(filter.Statuses, domain.TicketStatus(strings.TrimSpace(part)))
		}
	}
	if priorityStr := c.Query("priority"); priorityStr != "" {
		for _, part := range strings.Split(priorityStr, ",") {
			filter.Priorities = append(filter.Priorities, domain.TicketPriority(strings.TrimSpace(part)))
		}
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		filter.SearchTerm = &q
	}
	filter.IncludeDeleted = c.Query("include_deleted") == "true"
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func ticketResponse(ticket *domain.Ticket, includeHistory bool) dto.TicketResponse {
	resp := dto.TicketResponse{
		ID:          ticket.ID,
		Title:       ticket.Title,
		Description: ticket.Description,
		Status:      statusValue(ticket.Status),
		Priority:    dto.EnumValue{Value: string(ticket.Priority), Label: ticket.Priority.Label()},
		Requester:   userRef(ticket.Requester),
		Assignee:    userRef(ticket.Assignee),
		ResolvedAt:  ticket.ResolvedAt,
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
		DeletedAt:   ticket.DeletedAt,
	}
	if includeHistory {
		resp.History = make([]dto.StatusHistoryResponse, 0, len(ticket.History))
		for _, entry := range ticket.History {
			item := dto.StatusHistoryResponse{
				ID:        entry.ID,
				To:        statusValue(entry.To),
				Actor:     userRef(entry.Actor),
				CreatedAt: entry.CreatedAt,
			}
			if entry.From != nil {
				from := statusValue(*entry.From)
				item.From = &from
			}
			resp.History = append(resp.History, item)
		}
	}
	return resp
}

func statusValue(status domain.TicketStatus) dto.EnumValue {
	return dto.EnumValue{Value: string(status), Label: status.Label()}
}

func userRef(user *domain.User) *dto.UserRef {
	if user == nil {
		return nil
	}
	return &dto.UserRef{ID: user.ID, Name: user.Name, Email: user.Email}
}
