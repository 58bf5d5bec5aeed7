package ws

import "github.com/supportchat/internal/model"

type EventType string

// Wire vocabulary of the support chat channel. Inbound events are emitted by
// the user and admin surfaces; outbound events fan out to room members.
const (
	// inbound
	EventJoinRoom     EventType = "joinRoom"
	EventSendMessage  EventType = "sendMessage"
	EventUserStatus   EventType = "userStatus"
	EventUpdateStatus EventType = "updateStatus"

	// inbound and outbound
	EventChatClosed    EventType = "chatClosed"
	EventChatContinued EventType = "chatContinued"

	// outbound
	EventReceiveMessage   EventType = "receiveMessage"
	EventUserStatusUpdate EventType = "userStatusUpdate"
	EventError            EventType = "error"
)

// IncomingEvent is what a surface sends to the server.
type IncomingEvent struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id,omitempty"`

	// For sendMessage: the full message (REST-confirmed or client-synthetic).
	Message *model.Message `json:"message,omitempty"`

	// For userStatus
	Online bool `json:"online,omitempty"`

	// For updateStatus
	MessageID string              `json:"message_id,omitempty"`
	Status    model.MessageStatus `json:"status,omitempty"`

	// For chatClosed / chatContinued
	ChatID string `json:"chat_id,omitempty"`
}

// OutgoingEvent is what the server sends to a surface.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// StatusPayload is broadcast when a delivery/read receipt advances. RoomID
// lets multi-room consumers (the staff console) route the receipt.
type StatusPayload struct {
	RoomID    string              `json:"room_id"`
	MessageID string              `json:"message_id"`
	Status    model.MessageStatus `json:"status"`
}

// UserStatusPayload is broadcast when a participant goes online or offline.
type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// ChatStatePayload is broadcast on close/continue transitions.
type ChatStatePayload struct {
	ChatID string `json:"chat_id"`
}
