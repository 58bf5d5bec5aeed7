package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Append inserts a message. Duplicate ids are ignored so that a message
// delivered both via the REST response and the socket relay is stored once.
func (r *MessageRepository) Append(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("message.Append", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, session_id, sender, text, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		m.ID, m.RoomID, m.Sender, m.Text, m.Status, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.Append: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.GetByID", time.Now())()
	m := &model.Message{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, sender, text, status, created_at
		 FROM chat_messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.RoomID, &m.Sender, &m.Text, &m.Status, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messageRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListBySession returns a session's messages in chronological order.
func (r *MessageRepository) ListBySession(ctx context.Context, sessionID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.ListBySession", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, sender, text, status, created_at
		 FROM chat_messages WHERE session_id = $1 ORDER BY created_at, id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListBySession query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, 32)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Text, &m.Status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("messageRepo.ListBySession scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.ListBySession rows: %w", err)
	}
	return msgs, nil
}

// UpdateStatusMonotonic advances a message's status and reports whether a row
// changed. Status only moves forward (sent -> delivered -> read); a receipt
// arriving late never regresses what is already recorded.
func (r *MessageRepository) UpdateStatusMonotonic(ctx context.Context, id string, status model.MessageStatus) (bool, error) {
	defer logger.DeferLogDuration("message.UpdateStatusMonotonic", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_messages SET status = $2
		 WHERE id = $1
		   AND CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END
		     < CASE $2     WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`,
		id, status,
	)
	if err != nil {
		return false, fmt.Errorf("messageRepo.UpdateStatusMonotonic: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSessionRead marks every user-authored message in a session as read.
// Used when the staff surface opens a conversation.
func (r *MessageRepository) MarkSessionRead(ctx context.Context, sessionID string) ([]string, error) {
	defer logger.DeferLogDuration("message.MarkSessionRead", time.Now())()
	rows, err := r.pool.Query(ctx,
		`UPDATE chat_messages SET status = 'read'
		 WHERE session_id = $1 AND sender = 'user' AND status != 'read'
		 RETURNING id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.MarkSessionRead: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("messageRepo.MarkSessionRead scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.MarkSessionRead rows: %w", err)
	}
	return ids, nil
}
