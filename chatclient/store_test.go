package chatclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportchat/internal/model"
)

func newTestSession(id string) *model.ChatSession {
	return &model.ChatSession{
		ID:          id,
		Participant: model.Participant{ID: "u-" + id, Name: "Customer " + id},
		CreatedAt:   time.Now().UTC(),
	}
}

func TestStoreAppendIsIdempotent(t *testing.T) {
	s := NewStore()
	s.Put(newTestSession("c1"))

	m := model.Message{ID: "m1", RoomID: "c1", Sender: model.SenderUser, Text: "hi", Status: model.MessageStatusSent}
	assert.True(t, s.AppendMessage("c1", m))
	assert.False(t, s.AppendMessage("c1", m), "replaying the same message must be a no-op")

	sess, ok := s.Session("c1")
	require.True(t, ok)
	assert.Len(t, sess.Messages, 1)
}

func TestStoreAppendUnknownSessionIsNoop(t *testing.T) {
	s := NewStore()
	assert.False(t, s.AppendMessage("nope", model.Message{ID: "m1"}))
}

func TestStoreStatusIsMonotonic(t *testing.T) {
	s := NewStore()
	s.Put(newTestSession("c1"))
	require.True(t, s.AppendMessage("c1", model.Message{ID: "m1", Status: model.MessageStatusSent}))

	assert.True(t, s.UpdateMessageStatus("c1", "m1", model.MessageStatusRead))
	assert.False(t, s.UpdateMessageStatus("c1", "m1", model.MessageStatusDelivered), "read must not regress to delivered")
	assert.False(t, s.UpdateMessageStatus("c1", "m1", model.MessageStatusRead), "same status is not an advance")
	assert.False(t, s.UpdateMessageStatus("c1", "m1", "banana"), "unknown status never applies")

	sess, _ := s.Session("c1")
	assert.Equal(t, model.MessageStatusRead, sess.Messages[0].Status)
}

func TestStoreStatusUnknownMessageIsNoop(t *testing.T) {
	s := NewStore()
	s.Put(newTestSession("c1"))
	assert.False(t, s.UpdateMessageStatus("c1", "ghost", model.MessageStatusRead))
	assert.False(t, s.UpdateMessageStatus("ghost", "m1", model.MessageStatusRead))
}

func TestStoreSetClosed(t *testing.T) {
	s := NewStore()
	s.Put(newTestSession("c1"))

	assert.True(t, s.SetClosed("c1", true))
	assert.False(t, s.SetClosed("c1", true), "already closed")
	sess, _ := s.Session("c1")
	assert.True(t, sess.IsClosed)

	assert.True(t, s.SetClosed("c1", false))
	assert.False(t, s.SetClosed("unknown", true))
}

func TestStorePresenceByUser(t *testing.T) {
	s := NewStore()
	s.Put(newTestSession("c1"))
	s.Put(newTestSession("c2"))

	assert.True(t, s.SetPresenceByUser("u-c1", true))
	assert.False(t, s.SetPresenceByUser("u-c1", true), "unchanged")
	assert.False(t, s.SetPresenceByUser("stranger", true))

	sess, _ := s.Session("c1")
	assert.True(t, sess.Participant.Online)
	other, _ := s.Session("c2")
	assert.False(t, other.Participant.Online)
}

func TestStoreSessionsNewestFirst(t *testing.T) {
	s := NewStore()
	old := newTestSession("old")
	old.CreatedAt = time.Now().Add(-time.Hour)
	recent := newTestSession("recent")
	s.Seed([]*model.ChatSession{old, recent})

	out := s.Sessions()
	require.Len(t, out, 2)
	assert.Equal(t, "recent", out[0].ID)
	assert.Equal(t, "old", out[1].ID)
}

func TestStoreReturnsCopies(t *testing.T) {
	s := NewStore()
	s.Put(newTestSession("c1"))
	require.True(t, s.AppendMessage("c1", model.Message{ID: "m1", Text: "hi"}))

	sess, _ := s.Session("c1")
	sess.Messages[0].Text = "mutated"
	sess.IsClosed = true

	fresh, _ := s.Session("c1")
	assert.Equal(t, "hi", fresh.Messages[0].Text)
	assert.False(t, fresh.IsClosed)
}

func TestStoreSubscribe(t *testing.T) {
	s := NewStore()
	s.Put(newTestSession("c1"))

	var fired int
	cancel := s.Subscribe(func() { fired++ })

	s.AppendMessage("c1", model.Message{ID: "m1"})
	assert.Equal(t, 1, fired)

	// A replay changes nothing and must not notify.
	s.AppendMessage("c1", model.Message{ID: "m1"})
	assert.Equal(t, 1, fired)

	cancel()
	s.AppendMessage("c1", model.Message{ID: "m2"})
	assert.Equal(t, 1, fired)
}
