package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender identifies which side of a support conversation authored a message.
// Bot escalation replies are tagged SenderAdmin so both surfaces render them
// as staff messages.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAdmin Sender = "admin"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Rank orders statuses for monotonic updates: sent < delivered < read.
// Unknown statuses rank below sent and therefore never overwrite anything.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	default:
		return 0
	}
}

type Message struct {
	ID        string        `json:"id"`
	RoomID    string        `json:"room_id"`
	Sender    Sender        `json:"sender"`
	Text      string        `json:"text"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// syntheticIDPrefix marks message ids minted on a client (bot escalation
// replies) as opposed to server-issued ids.
const syntheticIDPrefix = "bot-"

// NewSyntheticID returns a client-generated message id, distinguishable from
// server-issued ids by its prefix.
func NewSyntheticID() string {
	return syntheticIDPrefix + uuid.New().String()
}

// IsSynthetic reports whether the message id was minted on a client.
func (m *Message) IsSynthetic() bool {
	return strings.HasPrefix(m.ID, syntheticIDPrefix)
}
