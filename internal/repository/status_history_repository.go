package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-desk/internal/domain"
)

// StatusHistoryRepository reads the append-only transition audit trail.
// Entries are written exclusively by TicketRepository.Transition inside the
// same transaction as the ticket mutation.
type StatusHistoryRepository interface {
	ListByTicket(ctx context.Context, ticketID string) ([]domain.StatusHistory, error)
}

type statusHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewStatusHistoryRepository builds repository.
func NewStatusHistoryRepository(pool *pgxpool.Pool) StatusHistoryRepository {
	return &statusHistoryRepository{pool: pool}
}

// ListByTicket returns entries chronologically, oldest first, with the
// acting user joined in when one exists.
func (r *statusHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.StatusHistory, error) {
	const query = `
        SELECT h.id, h.ticket_id, h.actor_id, h.from_status, h.to_status, h.created_at,
               u.id, u.name, u.email
        FROM ticket_status_history h
        LEFT JOIN users u ON u.id = h.actor_id
        WHERE h.ticket_id=$1
        ORDER BY h.created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.StatusHistory
	for rows.Next() {
		var entry domain.StatusHistory
		var actorID, actorName, actorEmail *string
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.ActorID,
			&entry.From,
			&entry.To,
			&entry.CreatedAt,
			&actorID,
			&actorName,
			&actorEmail,
		); err != nil {
			return nil, err
		}
		if actorID != nil {
			entry.Actor = &domain.User{ID: *actorID, Name: *actorName, Email: *actorEmail}
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
