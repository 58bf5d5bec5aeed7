package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/supportchat/internal/middleware"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/push"
	"github.com/supportchat/internal/repository"
	"github.com/supportchat/internal/ws"
)

type ChatHandler struct {
	sessionRepo *repository.SessionRepository
	msgRepo     *repository.MessageRepository
	hub         *ws.Hub
	pushClient  ws.PushNotifier
}

func NewChatHandler(sessionRepo *repository.SessionRepository, msgRepo *repository.MessageRepository, hub *ws.Hub, pushClient ws.PushNotifier) *ChatHandler {
	return &ChatHandler{sessionRepo: sessionRepo, msgRepo: msgRepo, hub: hub, pushClient: pushClient}
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

// GetMine returns the caller's session, creating it on first contact.
func (h *ChatHandler) GetMine(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	session, err := h.sessionRepo.GetOrCreateForUser(r.Context(), userID, middleware.GetUserName(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get chat")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// GetAll returns every session for the staff console.
func (h *ChatHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessionRepo.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// SendUser appends a customer message to the caller's own session.
func (h *ChatHandler) SendUser(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	session, err := h.sessionRepo.GetOrCreateForUser(r.Context(), userID, middleware.GetUserName(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get chat")
		return
	}
	h.send(w, r, session, model.SenderUser)
}

// SendAdmin appends a staff reply to any session.
func (h *ChatHandler) SendAdmin(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessionRepo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get chat")
		return
	}
	h.send(w, r, session, model.SenderAdmin)
}

func (h *ChatHandler) send(w http.ResponseWriter, r *http.Request, session *model.ChatSession, sender model.Sender) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if session.IsClosed {
		writeError(w, http.StatusConflict, "chat is closed")
		return
	}

	m := &model.Message{
		ID:        uuid.New().String(),
		RoomID:    session.ID,
		Sender:    sender,
		Text:      text,
		Status:    model.MessageStatusSent,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.msgRepo.Append(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	session.Messages = append(session.Messages, *m)

	h.hub.BroadcastToRoom(session.ID, ws.OutgoingEvent{Type: ws.EventReceiveMessage, Payload: m})

	if h.pushClient != nil && sender == model.SenderAdmin && !session.Participant.Online {
		body := push.Preview(m.Text)
		data := map[string]string{"chat_id": session.ID, "message_id": m.ID}
		go h.pushClient.Notify(context.Background(), session.Participant.ID, "Customer Support", body, data)
	}

	writeJSON(w, http.StatusOK, session)
}

// Close ends a session. Staff only; the route enforces it.
func (h *ChatHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.setClosed(w, r, true)
}

// Continue reopens a closed session. The customer may reopen their own
// session; staff may reopen any.
func (h *ChatHandler) Continue(w http.ResponseWriter, r *http.Request) {
	h.setClosed(w, r, false)
}

func (h *ChatHandler) setClosed(w http.ResponseWriter, r *http.Request, closed bool) {
	id := chi.URLParam(r, "id")
	session, err := h.sessionRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get chat")
		return
	}
	ctx := r.Context()
	if !middleware.IsAdmin(ctx) && session.Participant.ID != middleware.GetUserID(ctx) {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}
	if err := h.sessionRepo.SetClosed(ctx, id, closed); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update chat")
		return
	}

	evType := ws.EventChatContinued
	if closed {
		evType = ws.EventChatClosed
	}
	h.hub.BroadcastToRoom(id, ws.OutgoingEvent{Type: evType, Payload: ws.ChatStatePayload{ChatID: id}})

	writeJSON(w, http.StatusOK, map[string]bool{"is_closed": closed})
}

// MarkRead marks every customer message in a session as read and fans out the
// receipts. Called by the staff console when it opens a conversation.
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ids, err := h.msgRepo.MarkSessionRead(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	for _, msgID := range ids {
		h.hub.BroadcastToRoom(id, ws.OutgoingEvent{
			Type:    ws.EventUpdateStatus,
			Payload: ws.StatusPayload{RoomID: id, MessageID: msgID, Status: model.MessageStatusRead},
		})
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(ids)})
}
