package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-desk/internal/api/http/handlers"
	"github.com/spec-kit/ticket-desk/internal/auth"
	"github.com/spec-kit/ticket-desk/internal/authz"
	"github.com/spec-kit/ticket-desk/internal/config"
	"github.com/spec-kit/ticket-desk/internal/domain"
	"github.com/spec-kit/ticket-desk/internal/events"
	"github.com/spec-kit/ticket-desk/internal/persistence"
	"github.com/spec-kit/ticket-desk/internal/repository"
	"github.com/spec-kit/ticket-desk/internal/service"
)

// stubStore is a map-backed stand-in for the Postgres repositories, honoring
// their contracts: pgx.ErrNoRows for missing rows, the status=OPEN predicate
// on Update, and the Transition callback protocol.
type stubStore struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
	history []domain.StatusHistory
	users   map[string]*domain.User
}

func newStubStore() *stubStore {
	return &stubStore{tickets: map[string]*domain.Ticket{}, users: map[string]*domain.User{}}
}

func (s *stubStore) seedUser(name, email string, admin bool) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := &domain.User{ID: uuid.NewString(), Name: name, Email: email, IsAdmin: admin}
	s.users[user.ID] = user
	return user
}

func (s *stubStore) seedTicket(requesterID string, status domain.TicketStatus) *domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket := &domain.Ticket{
		ID:          uuid.NewString(),
		Title:       "Broken keyboard",
		Description: "Keys are sticking",
		Status:      status,
		Priority:    domain.TicketPriorityMedium,
		RequesterID: requesterID,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	s.tickets[ticket.ID] = ticket
	return ticket
}

func copyTicket(t *domain.Ticket) *domain.Ticket {
	c := *t
	c.Requester, c.Assignee, c.History = nil, nil, nil
	return &c
}

func (s *stubStore) Create(_ context.Context, ticket *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = time.Now()
	ticket.UpdatedAt = ticket.CreatedAt
	s.tickets[ticket.ID] = copyTicket(ticket)
	return nil
}

func (s *stubStore) Update(_ context.Context, ticket *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tickets[ticket.ID]
	if !ok || stored.DeletedAt != nil || stored.Status != domain.TicketStatusOpen {
		return pgx.ErrNoRows
	}
	stored.Title = ticket.Title
	stored.Description = ticket.Description
	stored.Priority = ticket.Priority
	stored.AssigneeID = ticket.AssigneeID
	return nil
}

func (s *stubStore) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tickets[id]
	if !ok || stored.DeletedAt != nil {
		return nil, pgx.ErrNoRows
	}
	return copyTicket(stored), nil
}

func (s *stubStore) GetByIDAny(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyTicket(stored), nil
}

func (s *stubStore) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Ticket
	for _, stored := range s.tickets {
		if stored.DeletedAt != nil && !filter.IncludeDeleted {
			continue
		}
		if filter.InvolvedUserID != nil {
			involved := stored.RequesterID == *filter.InvolvedUserID ||
				(stored.AssigneeID != nil && *stored.AssigneeID == *filter.InvolvedUserID)
			if !involved {
				continue
			}
		}
		result = append(result, *copyTicket(stored))
	}
	return result, nil
}

func (s *stubStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tickets[id]
	if !ok || stored.DeletedAt != nil {
		return pgx.ErrNoRows
	}
	now := time.Now()
	stored.DeletedAt = &now
	return nil
}

func (s *stubStore) Restore(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tickets[id]
	if !ok || stored.DeletedAt == nil {
		return pgx.ErrNoRows
	}
	stored.DeletedAt = nil
	return nil
}

func (s *stubStore) Transition(_ context.Context, id string, apply repository.TransitionFunc) (*domain.Ticket, *domain.StatusHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tickets[id]
	if !ok || stored.DeletedAt != nil {
		return nil, nil, pgx.ErrNoRows
	}
	working := copyTicket(stored)
	entry, err := apply(working)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return working, nil, nil
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()
	s.history = append(s.history, *entry)
	s.tickets[id] = copyTicket(working)
	return working, entry, nil
}

func (s *stubStore) ListByTicket(_ context.Context, ticketID string) ([]domain.StatusHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.StatusHistory
	for _, entry := range s.history {
		if entry.TicketID == ticketID {
			result = append(result, entry)
		}
	}
	return result, nil
}

type stubUserRepo struct{ store *stubStore }

func (r stubUserRepo) Create(_ context.Context, user *domain.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.store.users[user.ID] = user
	return nil
}

func (r stubUserRepo) Update(_ context.Context, user *domain.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.users[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	r.store.users[user.ID] = user
	return nil
}

func (r stubUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	user, ok := r.store.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	u := *user
	return &u, nil
}

func (r stubUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, user := range r.store.users {
		if user.Email == email {
			u := *user
			return &u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r stubUserRepo) GetByIDs(_ context.Context, ids []string) (map[string]domain.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	result := make(map[string]domain.User, len(ids))
	for _, id := range ids {
		if user, ok := r.store.users[id]; ok {
			result[id] = *user
		}
	}
	return result, nil
}

type apiFixture struct {
	app     *fiber.App
	store   *stubStore
	authSvc *service.AuthService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := newStubStore()
	users := stubUserRepo{store: store}
	logger := zap.NewNop()

	cfg := config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.AccessTokenTTLMinutes = 30
	cfg.Auth.BcryptCost = 4

	authSvc := service.NewAuthService(cfg, users)
	ticketSvc := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  store,
		HistoryRepo: store,
		UserRepo:    users,
		Dispatcher:  events.NewInMemoryDispatcher(),
		Logger:      logger,
	})

	app := fiber.New()
	RegisterMiddlewares(app, logger, nil, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("test", "dev", &persistence.Postgres{}, &persistence.Redis{}),
		Auth:           handlers.NewAuthHandler(authSvc),
		Tickets:        handlers.NewTicketsHandler(ticketSvc, authz.NewTicketPolicy()),
		AuthMiddleware: auth.NewAuthMiddleware(authSvc.TokenManager(), users),
		RateLimiter:    NewRateLimiter(nil, logger),
		RateLimits:     cfg.RateLimit,
	})
	return &apiFixture{app: app, store: store, authSvc: authSvc}
}

func (f *apiFixture) token(t *testing.T, user *domain.User) string {
	t.Helper()
	token, _, err := f.authSvc.TokenManager().GenerateToken(user.ID, user.IsAdmin)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func (f *apiFixture) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestUnauthenticatedRequests(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodGet, "/tickets", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if code := errorCode(t, decodeBody(t, resp)); code != "UNAUTHORIZED" {
		t.Fatalf("code = %s, want UNAUTHORIZED", code)
	}

	resp = f.request(t, http.MethodGet, "/health/live", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("liveness status = %d, want 200", resp.StatusCode)
	}
}

func TestStatusRouteRequiresAdmin(t *testing.T) {
	f := newAPIFixture(t)
	user := f.store.seedUser("Riley", "riley@example.com", false)
	ticket := f.store.seedTicket(user.ID, domain.TicketStatusOpen)

	resp := f.request(t, http.MethodPatch, "/tickets/"+ticket.ID+"/status", f.token(t, user),
		map[string]string{"status": "IN_PROGRESS"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if code := errorCode(t, decodeBody(t, resp)); code != "FORBIDDEN" {
		t.Fatalf("code = %s, want FORBIDDEN", code)
	}
}

func TestStatusRouteHappyPath(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.store.seedUser("Admin", "admin@example.com", true)
	requester := f.store.seedUser("Riley", "riley@example.com", false)
	ticket := f.store.seedTicket(requester.ID, domain.TicketStatusOpen)

	resp := f.request(t, http.MethodPatch, "/tickets/"+ticket.ID+"/status", f.token(t, admin),
		map[string]string{"status": "IN_PROGRESS"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("no data object in %v", body)
	}
	status, _ := data["status"].(map[string]any)
	if status["value"] != "IN_PROGRESS" || status["label"] != "In progress" {
		t.Fatalf("status = %v, want IN_PROGRESS / In progress", status)
	}
	history, _ := data["status_history"].([]any)
	if len(history) != 1 {
		t.Fatalf("status_history entries = %d, want 1", len(history))
	}
}

func TestStatusRouteWorkflowErrors(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.store.seedUser("Admin", "admin@example.com", true)
	requester := f.store.seedUser("Riley", "riley@example.com", false)
	token := f.token(t, admin)

	inProgress := f.store.seedTicket(requester.ID, domain.TicketStatusInProgress)
	resp := f.request(t, http.MethodPatch, "/tickets/"+inProgress.ID+"/status", token,
		map[string]string{"status": "OPEN"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("backward move status = %d, want 422", resp.StatusCode)
	}
	if code := errorCode(t, decodeBody(t, resp)); code != "INVALID_TRANSITION" {
		t.Fatalf("code = %s, want INVALID_TRANSITION", code)
	}

	resolved := f.store.seedTicket(requester.ID, domain.TicketStatusResolved)
	resp = f.request(t, http.MethodPatch, "/tickets/"+resolved.ID+"/status", token,
		map[string]string{"status": "IN_PROGRESS"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("terminal move status = %d, want 422", resp.StatusCode)
	}
	if code := errorCode(t, decodeBody(t, resp)); code != "TICKET_RESOLVED" {
		t.Fatalf("code = %s, want TICKET_RESOLVED", code)
	}

	resp = f.request(t, http.MethodPatch, fmt.Sprintf("/tickets/%s/status", uuid.NewString()), token,
		map[string]string{"status": "RESOLVED"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing ticket status = %d, want 404", resp.StatusCode)
	}
}

func TestTicketVisibilityOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	requester := f.store.seedUser("Riley", "riley@example.com", false)
	stranger := f.store.seedUser("Sam", "sam@example.com", false)
	ticket := f.store.seedTicket(requester.ID, domain.TicketStatusOpen)

	resp := f.request(t, http.MethodGet, "/tickets/"+ticket.ID, f.token(t, stranger), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger view status = %d, want 403", resp.StatusCode)
	}

	resp = f.request(t, http.MethodGet, "/tickets/"+ticket.ID, f.token(t, requester), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("requester view status = %d, want 200", resp.StatusCode)
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/auth/register", "",
		map[string]string{"name": "Riley", "email": "riley@example.com", "password": "hunter2-but-longer"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.request(t, http.MethodPost, "/auth/login", "",
		map[string]string{"email": "riley@example.com", "password": "hunter2-but-longer"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	data, _ := body["data"].(map[string]any)
	authData, _ := data["auth"].(map[string]any)
	token, _ := authData["token"].(string)
	if token == "" {
		t.Fatalf("login response missing token")
	}

	resp = f.request(t, http.MethodGet, "/auth/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d, want 200", resp.StatusCode)
	}
	me := decodeBody(t, resp)
	meData, _ := me["data"].(map[string]any)
	if meData["email"] != "riley@example.com" {
		t.Fatalf("me email = %v", meData["email"])
	}
}

func TestCreateTicketOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	user := f.store.seedUser("Riley", "riley@example.com", false)

	resp := f.request(t, http.MethodPost, "/tickets", f.token(t, user),
		map[string]string{"title": "VPN down", "description": "Cannot reach the office network", "priority": "HIGH"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	data, _ := body["data"].(map[string]any)
	status, _ := data["status"].(map[string]any)
	if status["value"] != "OPEN" {
		t.Fatalf("new ticket status = %v, want OPEN", status["value"])
	}
	priority, _ := data["priority"].(map[string]any)
	if priority["value"] != "HIGH" {
		t.Fatalf("priority = %v, want HIGH", priority["value"])
	}
}
