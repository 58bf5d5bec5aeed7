// Package chatclient implements the client core of the support chat: a
// replay-safe session store, the two-stage bot escalation timer and a
// controller that drives the REST backend and the realtime channel. The
// customer widget and the staff console embed the same controller with
// different roles.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

// Role selects which side of the conversation the controller drives.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Event names of the realtime channel.
const (
	EventJoinRoom         = "joinRoom"
	EventSendMessage      = "sendMessage"
	EventUserStatus       = "userStatus"
	EventUpdateStatus     = "updateStatus"
	EventReceiveMessage   = "receiveMessage"
	EventUserStatusUpdate = "userStatusUpdate"
	EventChatClosed       = "chatClosed"
	EventChatContinued    = "chatContinued"
)

// Backend is the REST surface of the support chat service.
type Backend interface {
	FetchMine(ctx context.Context) (*model.ChatSession, error)
	FetchAll(ctx context.Context) ([]*model.ChatSession, error)
	SendUser(ctx context.Context, text string) (*model.ChatSession, error)
	SendAdmin(ctx context.Context, chatID, text string) (*model.ChatSession, error)
	Close(ctx context.Context, chatID string) error
	Continue(ctx context.Context, chatID string) error
	MarkRead(ctx context.Context, chatID string) error
}

// Channel is the realtime surface. Emit payloads are flattened into the wire
// event next to the type field; On handlers receive the raw event payload.
type Channel interface {
	JoinRoom(roomID string) error
	Emit(event string, payload any) error
	On(event string, fn func(payload json.RawMessage))
	Off(event string)
	Close() error
}

// Wire payload shapes, matching the server's event vocabulary.

type sendMessageEvent struct {
	RoomID  string         `json:"room_id"`
	Message *model.Message `json:"message"`
}

type statusEvent struct {
	RoomID    string              `json:"room_id,omitempty"`
	MessageID string              `json:"message_id"`
	Status    model.MessageStatus `json:"status"`
}

type userStatusEvent struct {
	UserID string `json:"user_id,omitempty"`
	Online bool   `json:"online"`
}

type chatStateEvent struct {
	ChatID string `json:"chat_id"`
}

// Options configures a Controller.
type Options struct {
	Role    Role
	Backend Backend
	Channel Channel

	// Bot escalation windows. Zero values use the defaults (2 and 5 minutes).
	FirstReplyAfter time.Duration
	FinalReplyAfter time.Duration

	// OnError receives asynchronous failures (channel emits, inbound decode
	// errors). Nil logs them.
	OnError func(error)
}

// Controller glues the store, the escalator, the backend and the channel
// together. All methods are safe for concurrent use.
type Controller struct {
	role    Role
	backend Backend
	channel Channel
	store   *Store
	esc     *Escalator
	onError func(error)

	mu      sync.Mutex
	started bool
	mineID  string
}

func NewController(opts Options) *Controller {
	c := &Controller{
		role:    opts.Role,
		backend: opts.Backend,
		channel: opts.Channel,
		store:   NewStore(),
		onError: opts.OnError,
	}
	if c.onError == nil {
		c.onError = func(err error) { logger.Errorf("chatclient: %v", err) }
	}
	c.esc = NewEscalator(opts.FirstReplyAfter, opts.FinalReplyAfter, c.botReply)
	return c
}

// Store exposes the session cache for rendering and change subscriptions.
func (c *Controller) Store() *Store { return c.store }

// SessionID returns the customer's own session id. Empty before Start and
// for RoleAdmin.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mineID
}

// Start loads the initial state, joins the relevant rooms and wires the
// inbound event handlers. RoleUser loads (or creates) the caller's own
// session; RoleAdmin loads every session.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("%w: already started", ErrInvalidOperation)
	}
	c.started = true
	c.mu.Unlock()

	var roomIDs []string
	switch c.role {
	case RoleUser:
		sess, err := c.backend.FetchMine(ctx)
		if err != nil {
			return err
		}
		c.store.Put(sess)
		c.mu.Lock()
		c.mineID = sess.ID
		c.mu.Unlock()
		roomIDs = []string{sess.ID}
	case RoleAdmin:
		sessions, err := c.backend.FetchAll(ctx)
		if err != nil {
			return err
		}
		c.store.Seed(sessions)
		for _, sess := range sessions {
			roomIDs = append(roomIDs, sess.ID)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidOperation, c.role)
	}

	if c.channel != nil {
		c.channel.On(EventReceiveMessage, c.handleReceiveMessage)
		c.channel.On(EventUpdateStatus, c.handleUpdateStatus)
		c.channel.On(EventUserStatusUpdate, c.handleUserStatusUpdate)
		c.channel.On(EventChatClosed, func(p json.RawMessage) { c.handleChatState(p, true) })
		c.channel.On(EventChatContinued, func(p json.RawMessage) { c.handleChatState(p, false) })
		for _, id := range roomIDs {
			if err := c.channel.JoinRoom(id); err != nil {
				return err
			}
		}
		if c.role == RoleUser {
			if err := c.channel.Emit(EventUserStatus, userStatusEvent{Online: true}); err != nil {
				c.onError(err)
			}
		}
	}
	return nil
}

// Stop cancels the pending bot replies and detaches from the channel.
func (c *Controller) Stop() {
	c.esc.Stop()
	if c.channel == nil {
		return
	}
	if c.role == RoleUser {
		if err := c.channel.Emit(EventUserStatus, userStatusEvent{Online: false}); err != nil {
			c.onError(err)
		}
	}
	c.channel.Off(EventReceiveMessage)
	c.channel.Off(EventUpdateStatus)
	c.channel.Off(EventUserStatusUpdate)
	c.channel.Off(EventChatClosed)
	c.channel.Off(EventChatContinued)
	if err := c.channel.Close(); err != nil {
		c.onError(err)
	}
}

// Send appends a message to a conversation. RoleUser sends to its own
// session (chatID may be empty) and arms the bot escalation; RoleAdmin sends
// to the given session and cancels its pending escalation.
func (c *Controller) Send(ctx context.Context, chatID, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidOperation)
	}

	var (
		sess *model.ChatSession
		err  error
	)
	switch c.role {
	case RoleUser:
		if chatID == "" {
			chatID = c.SessionID()
		}
	case RoleAdmin:
		if chatID == "" {
			return nil, fmt.Errorf("%w: chat id is required", ErrInvalidOperation)
		}
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidOperation, c.role)
	}
	cached, ok := c.store.Session(chatID)
	if !ok {
		return nil, fmt.Errorf("%w: no session loaded", ErrInvalidOperation)
	}
	if cached.IsClosed {
		return nil, fmt.Errorf("%w: chat is closed", ErrInvalidOperation)
	}

	switch c.role {
	case RoleUser:
		sess, err = c.backend.SendUser(ctx, text)
	case RoleAdmin:
		sess, err = c.backend.SendAdmin(ctx, chatID, text)
	}
	if err != nil {
		return nil, err
	}
	c.store.Put(sess)

	switch c.role {
	case RoleUser:
		c.esc.Arm(sess.ID)
	case RoleAdmin:
		c.esc.Cancel(sess.ID)
	}

	if len(sess.Messages) == 0 {
		return nil, nil
	}
	last := sess.Messages[len(sess.Messages)-1]
	return &last, nil
}

// Close ends a conversation. Staff only.
func (c *Controller) Close(ctx context.Context, chatID string) error {
	if c.role != RoleAdmin {
		return fmt.Errorf("%w: only staff can close a chat", ErrInvalidOperation)
	}
	if err := c.backend.Close(ctx, chatID); err != nil {
		return err
	}
	// Pending bot replies survive a close on purpose: only a staff reply
	// answers the customer.
	c.store.SetClosed(chatID, true)
	return nil
}

// Continue reopens a closed conversation. Either side may do it.
func (c *Controller) Continue(ctx context.Context, chatID string) error {
	if chatID == "" {
		chatID = c.SessionID()
	}
	if chatID == "" {
		return fmt.Errorf("%w: chat id is required", ErrInvalidOperation)
	}
	if err := c.backend.Continue(ctx, chatID); err != nil {
		return err
	}
	c.store.SetClosed(chatID, false)
	return nil
}

// MarkRead marks every customer message in a conversation as read. Called by
// the staff console when it focuses a conversation.
func (c *Controller) MarkRead(ctx context.Context, chatID string) error {
	if c.role != RoleAdmin {
		return fmt.Errorf("%w: only staff mark chats read", ErrInvalidOperation)
	}
	if err := c.backend.MarkRead(ctx, chatID); err != nil {
		return err
	}
	if sess, ok := c.store.Session(chatID); ok {
		for _, m := range sess.Messages {
			if m.Sender == model.SenderUser {
				c.store.UpdateMessageStatus(chatID, m.ID, model.MessageStatusRead)
			}
		}
	}
	return nil
}

// botReply is the escalator's emit hook: append the synthetic message locally
// and push it over the channel so the other surface sees it and the server
// persists it.
func (c *Controller) botReply(sessionID string, m model.Message) {
	if !c.store.AppendMessage(sessionID, m) {
		return
	}
	if c.channel == nil {
		return
	}
	if err := c.channel.Emit(EventSendMessage, sendMessageEvent{RoomID: sessionID, Message: &m}); err != nil {
		c.onError(err)
	}
}

func (c *Controller) handleReceiveMessage(payload json.RawMessage) {
	var m model.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		c.onError(fmt.Errorf("decode receiveMessage: %w", err))
		return
	}
	if m.ID == "" || m.RoomID == "" {
		return
	}
	if c.role == RoleAdmin {
		if _, ok := c.store.Session(m.RoomID); !ok {
			// First message of a brand new session: fetch it and join the room.
			// The refetch must not stall the channel's dispatch loop.
			go c.adoptSession(m)
			return
		}
	}
	if !c.store.AppendMessage(m.RoomID, m) {
		return
	}

	if m.Sender == model.SenderUser {
		// Every surface measures the response window from the latest customer
		// message, so whichever one is still up answers first.
		c.esc.Arm(m.RoomID)
	}

	if m.Sender == model.SenderAdmin {
		// Any reply on the staff side, human or bot, settles the pending
		// escalation everywhere. Without this, two armed surfaces would each
		// inject their own pair of auto-replies.
		c.esc.Cancel(m.RoomID)
		if c.role == RoleUser {
			if c.channel != nil && !m.IsSynthetic() {
				ev := statusEvent{MessageID: m.ID, Status: model.MessageStatusDelivered}
				if err := c.channel.Emit(EventUpdateStatus, ev); err != nil {
					c.onError(err)
				}
			}
			c.store.UpdateMessageStatus(m.RoomID, m.ID, model.MessageStatusDelivered)
		}
	}
}

// adoptSession pulls an unknown session into the store. Only the staff
// console hits this path, when a customer opens their first conversation
// after the console loaded. Runs outside the channel dispatch goroutine.
func (c *Controller) adoptSession(m model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sessions, err := c.backend.FetchAll(ctx)
	if err != nil {
		c.onError(fmt.Errorf("adopt session %s: %w", m.RoomID, err))
		return
	}
	c.store.Seed(sessions)
	if c.channel != nil {
		if err := c.channel.JoinRoom(m.RoomID); err != nil {
			c.onError(err)
		}
	}
	// The refetch usually brings the triggering message along; the append is
	// idempotent either way.
	c.store.AppendMessage(m.RoomID, m)
	if m.Sender == model.SenderUser {
		c.esc.Arm(m.RoomID)
	}
}

func (c *Controller) handleUpdateStatus(payload json.RawMessage) {
	var ev statusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.onError(fmt.Errorf("decode updateStatus: %w", err))
		return
	}
	if ev.RoomID != "" {
		c.store.UpdateMessageStatus(ev.RoomID, ev.MessageID, ev.Status)
		return
	}
	// Older payloads carry no room id; RoleUser has a single session anyway.
	if id := c.SessionID(); id != "" {
		c.store.UpdateMessageStatus(id, ev.MessageID, ev.Status)
	}
}

func (c *Controller) handleUserStatusUpdate(payload json.RawMessage) {
	var ev userStatusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.onError(fmt.Errorf("decode userStatusUpdate: %w", err))
		return
	}
	if ev.UserID == "" {
		return
	}
	c.store.SetPresenceByUser(ev.UserID, ev.Online)
}

func (c *Controller) handleChatState(payload json.RawMessage, closed bool) {
	var ev chatStateEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.onError(fmt.Errorf("decode chat state: %w", err))
		return
	}
	if ev.ChatID == "" {
		return
	}
	c.store.SetClosed(ev.ChatID, closed)
}
