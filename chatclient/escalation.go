package chatclient

import (
	"sync"
	"time"

	"github.com/supportchat/internal/model"
)

// Canned bot replies shown while staff is unresponsive.
const (
	firstBotReply = "We are still working on your query, please wait..."
	finalBotReply = "We are offline, we will contact you shortly"
)

const (
	defaultFirstReplyAfter = 2 * time.Minute
	defaultFinalReplyAfter = 5 * time.Minute
)

type escalationTimers struct {
	first *time.Timer
	final *time.Timer
}

// Escalator schedules the two-stage bot auto-reply for unanswered customer
// messages. Arm starts (or restarts) a session's pair of timers; Cancel stops
// them. The contract follows the support flow exactly: only a staff reply
// cancels the pending pair. Closing a conversation does not.
type Escalator struct {
	mu         sync.Mutex
	firstAfter time.Duration
	finalAfter time.Duration
	pending    map[string]*escalationTimers
	emit       func(sessionID string, m model.Message)
	stopped    bool
}

// NewEscalator creates an escalator firing emit with a synthetic bot message
// when a window elapses. Non-positive or inverted windows fall back to the
// defaults (2 and 5 minutes).
func NewEscalator(firstAfter, finalAfter time.Duration, emit func(sessionID string, m model.Message)) *Escalator {
	if firstAfter <= 0 {
		firstAfter = defaultFirstReplyAfter
	}
	if finalAfter <= firstAfter {
		// Keep the default spacing between the two replies.
		finalAfter = firstAfter + (defaultFinalReplyAfter - defaultFirstReplyAfter)
	}
	return &Escalator{
		firstAfter: firstAfter,
		finalAfter: finalAfter,
		pending:    make(map[string]*escalationTimers),
		emit:       emit,
	}
}

// Arm schedules the bot replies for a session. An already armed session gets
// its pair replaced, so the windows always measure from the latest customer
// message.
func (e *Escalator) Arm(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || sessionID == "" {
		return
	}
	if t, ok := e.pending[sessionID]; ok {
		t.first.Stop()
		t.final.Stop()
	}
	t := &escalationTimers{}
	t.first = time.AfterFunc(e.firstAfter, func() { e.fire(sessionID, firstBotReply, false) })
	t.final = time.AfterFunc(e.finalAfter, func() { e.fire(sessionID, finalBotReply, true) })
	e.pending[sessionID] = t
}

// Cancel stops the pending bot replies for a session, if any.
func (e *Escalator) Cancel(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.pending[sessionID]; ok {
		t.first.Stop()
		t.final.Stop()
		delete(e.pending, sessionID)
	}
}

// Pending reports whether a session has bot replies scheduled.
func (e *Escalator) Pending(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[sessionID]
	return ok
}

// Stop cancels every pending reply and rejects further Arm calls.
func (e *Escalator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	for id, t := range e.pending {
		t.first.Stop()
		t.final.Stop()
		delete(e.pending, id)
	}
}

// fire runs on the timer goroutine. A Cancel that won the race removes the
// pending entry first, which turns the late fire into a no-op.
func (e *Escalator) fire(sessionID, text string, last bool) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	if _, ok := e.pending[sessionID]; !ok {
		e.mu.Unlock()
		return
	}
	if last {
		delete(e.pending, sessionID)
	}
	emit := e.emit
	e.mu.Unlock()

	emit(sessionID, model.Message{
		ID:        model.NewSyntheticID(),
		RoomID:    sessionID,
		Sender:    model.SenderAdmin,
		Text:      text,
		Status:    model.MessageStatusSent,
		CreatedAt: time.Now().UTC(),
	})
}
