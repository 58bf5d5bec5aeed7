package model

import "time"

// Participant is the end user on the customer side of a session.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// ChatSession is one support conversation between a customer and the staff
// pool. Messages are append-only and ordered by CreatedAt non-decreasing.
// IsClosed changes only through explicit close/continue actions.
type ChatSession struct {
	ID          string      `json:"id"`
	Participant Participant `json:"participant"`
	Messages    []Message   `json:"messages"`
	IsClosed    bool        `json:"is_closed"`
	CreatedAt   time.Time   `json:"created_at"`
}

// HasMessage reports whether a message with the given id is already present.
func (s *ChatSession) HasMessage(id string) bool {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to callers outside the store lock.
func (s *ChatSession) Clone() *ChatSession {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return &cp
}
