package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/push"
	"github.com/supportchat/internal/repository"
)

// PushNotifier sends push notifications. If nil, pushes are disabled.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// Hub routes support chat events between user and admin surfaces. One room
// per session; admins join rooms on demand and may be in many rooms over one
// connection, users only ever join their own session's room.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	rooms    map[string]map[*Client]struct{}
	total    int
	maxConns int

	sessionRepo *repository.SessionRepository
	msgRepo     *repository.MessageRepository
	pushClient  PushNotifier

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(sessionRepo *repository.SessionRepository, msgRepo *repository.MessageRepository, maxConns int, pushClient PushNotifier) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		rooms:       make(map[string]map[*Client]struct{}),
		maxConns:    maxConns,
		sessionRepo: sessionRepo,
		msgRepo:     msgRepo,
		pushClient:  pushClient,
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		done:        make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	// Staff consoles do not appear in the customer-facing presence roster.
	if c.isAdmin {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.sessionRepo.SetParticipantOnline(ctx, c.userID, true); err != nil {
		logger.Errorf("ws set online user=%s: %v", c.userID, err)
	}
	h.broadcastUserStatus(c.userID, true)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	for roomID, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if c.isAdmin || !lastClient {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.sessionRepo.SetParticipantOnline(ctx, c.userID, false); err != nil {
		logger.Errorf("ws set offline user=%s: %v", c.userID, err)
	}
	h.broadcastUserStatus(c.userID, false)
}

// HandleEvent dispatches incoming WebSocket events.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev IncomingEvent) {
	switch ev.Type {
	case EventJoinRoom:
		h.handleJoinRoom(ctx, c, ev)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, ev)
	case EventUpdateStatus:
		h.handleUpdateStatus(ctx, c, ev)
	case EventUserStatus:
		h.handleUserStatus(ctx, c, ev)
	case EventChatClosed:
		h.handleChatState(ctx, c, ev, true)
	case EventChatContinued:
		h.handleChatState(ctx, c, ev, false)
	default:
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleJoinRoom(ctx context.Context, c *Client, ev IncomingEvent) {
	if ev.RoomID == "" {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "room_id required"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	session, err := h.sessionRepo.GetByID(ctx, ev.RoomID)
	if err != nil {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "room not found"})
		return
	}
	if !c.isAdmin && session.Participant.ID != c.userID {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "not a member"})
		return
	}

	h.mu.Lock()
	if _, ok := h.rooms[ev.RoomID]; !ok {
		h.rooms[ev.RoomID] = make(map[*Client]struct{})
	}
	h.rooms[ev.RoomID][c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, ev IncomingEvent) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	if ev.RoomID == "" || ev.Message == nil || strings.TrimSpace(ev.Message.Text) == "" {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "room_id and message required"})
		return
	}
	if !h.inRoom(ev.RoomID, c) {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "not a member"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m := *ev.Message
	m.RoomID = ev.RoomID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	// REST-confirmed messages are already persisted by the handler; only
	// client-synthetic bot replies reach the store through the socket.
	// Append is idempotent, so a duplicate relay is harmless either way.
	if m.IsSynthetic() {
		if err := h.msgRepo.Append(ctx, &m); err != nil {
			logger.Errorf("ws save bot message room=%s: %v", ev.RoomID, err)
			h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "failed to save message"})
			return
		}
	}

	h.broadcastToRoom(ev.RoomID, c, OutgoingEvent{Type: EventReceiveMessage, Payload: &m})

	// Push the customer when staff replies while they are away.
	if h.pushClient != nil && m.Sender == model.SenderAdmin {
		session, err := h.sessionRepo.GetByID(ctx, ev.RoomID)
		if err != nil {
			return
		}
		if h.isConnected(session.Participant.ID) {
			return
		}
		body := push.Preview(m.Text)
		data := map[string]string{"chat_id": ev.RoomID, "message_id": m.ID}
		go h.pushClient.Notify(context.Background(), session.Participant.ID, "Customer Support", body, data)
	}
}

func (h *Hub) handleUpdateStatus(ctx context.Context, c *Client, ev IncomingEvent) {
	if ev.MessageID == "" || ev.Status == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg, err := h.msgRepo.GetByID(ctx, ev.MessageID)
	if err != nil {
		// Receipt for an unknown (possibly client-synthetic) message: drop.
		return
	}
	if !h.inRoom(msg.RoomID, c) {
		return
	}
	advanced, err := h.msgRepo.UpdateStatusMonotonic(ctx, ev.MessageID, ev.Status)
	if err != nil {
		logger.Errorf("ws update status msg=%s: %v", ev.MessageID, err)
		return
	}
	if !advanced {
		return
	}
	h.broadcastToRoom(msg.RoomID, c, OutgoingEvent{
		Type:    EventUpdateStatus,
		Payload: StatusPayload{RoomID: msg.RoomID, MessageID: ev.MessageID, Status: ev.Status},
	})
}

func (h *Hub) handleUserStatus(ctx context.Context, c *Client, ev IncomingEvent) {
	if c.isAdmin {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.sessionRepo.SetParticipantOnline(ctx, c.userID, ev.Online); err != nil {
		logger.Errorf("ws user status user=%s: %v", c.userID, err)
		return
	}
	h.broadcastUserStatus(c.userID, ev.Online)
}

func (h *Hub) handleChatState(ctx context.Context, c *Client, ev IncomingEvent, closed bool) {
	chatID := ev.ChatID
	if chatID == "" {
		chatID = ev.RoomID
	}
	if chatID == "" {
		return
	}
	// Only staff may end a conversation; either side may continue it.
	if closed && !c.isAdmin {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "forbidden"})
		return
	}
	if !h.inRoom(chatID, c) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.sessionRepo.SetClosed(ctx, chatID, closed); err != nil {
		logger.Errorf("ws chat state chat=%s: %v", chatID, err)
		return
	}

	evType := EventChatContinued
	if closed {
		evType = EventChatClosed
	}
	h.broadcastToRoom(chatID, c, OutgoingEvent{Type: evType, Payload: ChatStatePayload{ChatID: chatID}})
}

// BroadcastToRoom sends an event to every member of a room. Used by the REST
// handlers to fan out state changes performed over HTTP.
func (h *Hub) BroadcastToRoom(roomID string, ev OutgoingEvent) {
	h.broadcastToRoom(roomID, nil, ev)
}

func (h *Hub) broadcastToRoom(roomID string, except *Client, ev OutgoingEvent) {
	h.mu.RLock()
	members, ok := h.rooms[roomID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(members))
	for c := range members {
		if c == except {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

// broadcastUserStatus tells every staff console about a presence change.
func (h *Hub) broadcastUserStatus(userID string, online bool) {
	ev := OutgoingEvent{
		Type:    EventUserStatusUpdate,
		Payload: UserStatusPayload{UserID: userID, Online: online},
	}

	h.mu.RLock()
	targets := make([]*Client, 0, 8)
	for _, clients := range h.clients {
		for c := range clients {
			if c.isAdmin {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

func (h *Hub) inRoom(roomID string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = members[c]
	return ok
}

func (h *Hub) isConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) sendToClient(c *Client, ev OutgoingEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
