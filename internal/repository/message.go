package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/garland/internal/logger"
	"github.com/garland/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *model.ChatMessage) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, sender_id, sender_name, receiver_id, body_html, file_url, file_name, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.SenderID, m.SenderName, m.ReceiverID, m.BodyHTML, m.FileURL, m.FileName, m.SentAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// History returns a user's messages oldest first. With a counterparty it is
// one conversation; with an empty counterparty it is everything the user sent
// or received, which is how a provider loads all conversations at once.
func (r *MessageRepository) History(ctx context.Context, userID, counterpartyID string, limit int) ([]model.ChatMessage, error) {
	defer logger.DeferLogDuration("msg.History", time.Now())()
	sql := `SELECT id, sender_id, sender_name, receiver_id, body_html, file_url, file_name, sent_at
		 FROM messages
		 WHERE (sender_id = $1 OR receiver_id = $1)`
	args := []any{userID}
	if counterpartyID != "" {
		sql += ` AND (sender_id = $2 OR receiver_id = $2)`
		args = append(args, counterpartyID)
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY sent_at ASC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.History query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.ChatMessage, 0, limit)
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.ReceiverID, &m.BodyHTML, &m.FileURL, &m.FileName, &m.SentAt); err != nil {
			return nil, fmt.Errorf("msgRepo.History scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.History rows: %w", err)
	}
	return msgs, nil
}
