package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

type SessionRepository struct {
	pool    *pgxpool.Pool
	msgRepo *MessageRepository
}

func NewSessionRepository(pool *pgxpool.Pool, msgRepo *MessageRepository) *SessionRepository {
	return &SessionRepository{pool: pool, msgRepo: msgRepo}
}

// GetByID loads a session with its participant and full message history.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.ChatSession, error) {
	defer logger.DeferLogDuration("session.GetByID", time.Now())()
	s := &model.ChatSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT s.id, s.is_closed, s.created_at, p.id, COALESCE(p.name,''), p.is_online
		 FROM chat_sessions s
		 JOIN participants p ON p.id = s.participant_id
		 WHERE s.id = $1`, id,
	).Scan(&s.ID, &s.IsClosed, &s.CreatedAt, &s.Participant.ID, &s.Participant.Name, &s.Participant.Online)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", err)
	}
	msgs, err := r.msgRepo.ListBySession(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.Messages = msgs
	return s, nil
}

// GetByParticipant finds the single session owned by a user.
func (r *SessionRepository) GetByParticipant(ctx context.Context, userID string) (*model.ChatSession, error) {
	defer logger.DeferLogDuration("session.GetByParticipant", time.Now())()
	var id string
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM chat_sessions WHERE participant_id = $1`, userID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.GetByParticipant: %w", err)
	}
	return r.GetByID(ctx, id)
}

// GetOrCreateForUser returns the user's session, creating the participant row
// and the session on first contact.
func (r *SessionRepository) GetOrCreateForUser(ctx context.Context, userID, name string) (*model.ChatSession, error) {
	defer logger.DeferLogDuration("session.GetOrCreateForUser", time.Now())()
	s, err := r.GetByParticipant(ctx, userID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx,
		`INSERT INTO participants (id, name, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		userID, name, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.GetOrCreateForUser participant: %w", err)
	}
	sessionID := uuid.New().String()
	_, err = r.pool.Exec(ctx,
		`INSERT INTO chat_sessions (id, participant_id, is_closed, created_at)
		 VALUES ($1, $2, false, $3) ON CONFLICT (participant_id) DO NOTHING`,
		sessionID, userID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.GetOrCreateForUser session: %w", err)
	}
	// Re-read instead of assuming our insert won: a concurrent first contact
	// may have created the session between the lookup and the insert.
	return r.GetByParticipant(ctx, userID)
}

// ListAll returns every session with its messages, newest session first.
func (r *SessionRepository) ListAll(ctx context.Context) ([]model.ChatSession, error) {
	defer logger.DeferLogDuration("session.ListAll", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.is_closed, s.created_at, p.id, COALESCE(p.name,''), p.is_online
		 FROM chat_sessions s
		 JOIN participants p ON p.id = s.participant_id
		 ORDER BY s.created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.ListAll query: %w", err)
	}
	defer rows.Close()

	sessions := make([]model.ChatSession, 0, 16)
	for rows.Next() {
		var s model.ChatSession
		if err := rows.Scan(&s.ID, &s.IsClosed, &s.CreatedAt, &s.Participant.ID, &s.Participant.Name, &s.Participant.Online); err != nil {
			return nil, fmt.Errorf("sessionRepo.ListAll scan: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionRepo.ListAll rows: %w", err)
	}
	for i := range sessions {
		msgs, err := r.msgRepo.ListBySession(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Messages = msgs
	}
	return sessions, nil
}

// SetClosed flips the closed flag. Unknown ids are a silent no-op.
func (r *SessionRepository) SetClosed(ctx context.Context, id string, closed bool) error {
	defer logger.DeferLogDuration("session.SetClosed", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_sessions SET is_closed = $1 WHERE id = $2`, closed, id,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.SetClosed: %w", err)
	}
	return nil
}

// SetParticipantOnline updates the presence flag for a user.
func (r *SessionRepository) SetParticipantOnline(ctx context.Context, userID string, online bool) error {
	defer logger.DeferLogDuration("session.SetParticipantOnline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE participants SET is_online = $1 WHERE id = $2`, online, userID,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.SetParticipantOnline: %w", err)
	}
	return nil
}
