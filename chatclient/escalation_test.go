package chatclient

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportchat/internal/model"
)

type botReplyRecorder struct {
	mu      sync.Mutex
	replies []model.Message
	ch      chan model.Message
}

func newBotReplyRecorder() *botReplyRecorder {
	return &botReplyRecorder{ch: make(chan model.Message, 8)}
}

func (r *botReplyRecorder) emit(sessionID string, m model.Message) {
	r.mu.Lock()
	r.replies = append(r.replies, m)
	r.mu.Unlock()
	r.ch <- m
}

func (r *botReplyRecorder) all() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Message, len(r.replies))
	copy(out, r.replies)
	return out
}

func (r *botReplyRecorder) waitOne(t *testing.T) model.Message {
	t.Helper()
	select {
	case m := <-r.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a bot reply")
		return model.Message{}
	}
}

func TestEscalatorFiresBothRepliesInOrder(t *testing.T) {
	rec := newBotReplyRecorder()
	e := NewEscalator(20*time.Millisecond, 60*time.Millisecond, rec.emit)
	defer e.Stop()

	e.Arm("c1")

	first := rec.waitOne(t)
	assert.Equal(t, firstBotReply, first.Text)
	assert.Equal(t, model.SenderAdmin, first.Sender)
	assert.Equal(t, "c1", first.RoomID)
	assert.True(t, first.IsSynthetic())

	final := rec.waitOne(t)
	assert.Equal(t, finalBotReply, final.Text)
	assert.True(t, final.IsSynthetic())

	// The pair is spent after the final reply.
	assert.False(t, e.Pending("c1"))
}

func TestEscalatorCancelStopsBothReplies(t *testing.T) {
	rec := newBotReplyRecorder()
	e := NewEscalator(40*time.Millisecond, 80*time.Millisecond, rec.emit)
	defer e.Stop()

	e.Arm("c1")
	require.True(t, e.Pending("c1"))
	e.Cancel("c1")
	assert.False(t, e.Pending("c1"))

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, rec.all(), "a cancelled pair must never fire")
}

func TestEscalatorCancelBetweenReplies(t *testing.T) {
	rec := newBotReplyRecorder()
	e := NewEscalator(20*time.Millisecond, 500*time.Millisecond, rec.emit)
	defer e.Stop()

	e.Arm("c1")
	first := rec.waitOne(t)
	assert.Equal(t, firstBotReply, first.Text)

	// A staff reply after the first bot message still stops the second.
	e.Cancel("c1")
	time.Sleep(600 * time.Millisecond)
	assert.Len(t, rec.all(), 1)
}

func TestEscalatorRearmReplacesPendingPair(t *testing.T) {
	rec := newBotReplyRecorder()
	e := NewEscalator(60*time.Millisecond, 500*time.Millisecond, rec.emit)
	defer e.Stop()

	e.Arm("c1")
	time.Sleep(40 * time.Millisecond)
	e.Arm("c1")

	// The first pair was replaced; its window has not expired yet.
	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, rec.all())

	first := rec.waitOne(t)
	assert.Equal(t, firstBotReply, first.Text)
}

func TestEscalatorSessionsAreIndependent(t *testing.T) {
	rec := newBotReplyRecorder()
	e := NewEscalator(20*time.Millisecond, 500*time.Millisecond, rec.emit)
	defer e.Stop()

	e.Arm("c1")
	e.Arm("c2")
	e.Cancel("c1")

	first := rec.waitOne(t)
	assert.Equal(t, "c2", first.RoomID)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.all(), 1)
}

func TestEscalatorStopRejectsFurtherArms(t *testing.T) {
	rec := newBotReplyRecorder()
	e := NewEscalator(10*time.Millisecond, 20*time.Millisecond, rec.emit)

	e.Arm("c1")
	e.Stop()
	e.Arm("c2")

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.all())
	assert.False(t, e.Pending("c2"))
}

func TestEscalatorDefaultWindows(t *testing.T) {
	e := NewEscalator(0, 0, func(string, model.Message) {})
	defer e.Stop()
	assert.Equal(t, defaultFirstReplyAfter, e.firstAfter)
	assert.Equal(t, defaultFinalReplyAfter, e.finalAfter)

	// An inverted pair keeps the default spacing after the first window.
	e2 := NewEscalator(10*time.Minute, time.Minute, func(string, model.Message) {})
	defer e2.Stop()
	assert.Greater(t, e2.finalAfter, e2.firstAfter)
}
