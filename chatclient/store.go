package chatclient

import (
	"sort"
	"sync"

	"github.com/supportchat/internal/model"
)

// Store is the client-side session cache shared by the customer widget and
// the staff console. Every mutation is safe to replay: appends are idempotent
// by message id, receipt updates are monotonic, and updates referencing an
// unknown session or message are silent no-ops. This makes the store immune
// to the REST-response-plus-socket-echo double delivery.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*model.ChatSession

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*model.ChatSession),
		subs:     make(map[int]func()),
	}
}

// Subscribe registers a change listener and returns its cancel func.
// Listeners are invoked after every mutation that changed state, outside the
// store lock, so they may call back into the store.
func (s *Store) Subscribe(fn func()) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Seed replaces the cached copy of each given session. Sessions already in
// the store that are not in the slice are left untouched.
func (s *Store) Seed(sessions []*model.ChatSession) {
	s.mu.Lock()
	for _, sess := range sessions {
		if sess == nil || sess.ID == "" {
			continue
		}
		s.sessions[sess.ID] = sess.Clone()
	}
	s.mu.Unlock()
	s.notify()
}

// Put stores one session, replacing any cached copy.
func (s *Store) Put(sess *model.ChatSession) {
	if sess == nil || sess.ID == "" {
		return
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess.Clone()
	s.mu.Unlock()
	s.notify()
}

// Session returns a deep copy of the session, or false if it is unknown.
func (s *Store) Session(id string) (*model.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Sessions returns deep copies of all cached sessions, newest first.
func (s *Store) Sessions() []*model.ChatSession {
	s.mu.RLock()
	out := make([]*model.ChatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AppendMessage appends a message to a session. Returns false without
// mutating anything when the session is unknown or a message with the same id
// is already present.
func (s *Store) AppendMessage(sessionID string, m model.Message) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.HasMessage(m.ID) {
		s.mu.Unlock()
		return false
	}
	sess.Messages = append(sess.Messages, m)
	s.mu.Unlock()
	s.notify()
	return true
}

// UpdateMessageStatus advances a message's receipt status. Regressions
// (read back to delivered, delivered back to sent) and unknown statuses are
// dropped. Returns true only when the status actually advanced.
func (s *Store) UpdateMessageStatus(sessionID, messageID string, status model.MessageStatus) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	advanced := false
	for i := range sess.Messages {
		if sess.Messages[i].ID != messageID {
			continue
		}
		if status.Rank() > sess.Messages[i].Status.Rank() {
			sess.Messages[i].Status = status
			advanced = true
		}
		break
	}
	s.mu.Unlock()
	if advanced {
		s.notify()
	}
	return advanced
}

// SetClosed marks a session closed or reopened. Returns false when the
// session is unknown or already in the requested state.
func (s *Store) SetClosed(sessionID string, closed bool) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.IsClosed == closed {
		s.mu.Unlock()
		return false
	}
	sess.IsClosed = closed
	s.mu.Unlock()
	s.notify()
	return true
}

// SetPresenceByUser flips the online flag of the session whose participant
// has the given user id.
func (s *Store) SetPresenceByUser(userID string, online bool) bool {
	s.mu.Lock()
	changed := false
	for _, sess := range s.sessions {
		if sess.Participant.ID == userID && sess.Participant.Online != online {
			sess.Participant.Online = online
			changed = true
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return changed
}
