package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/chatlink/models"
)

var (
	streamT1 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	streamT2 = streamT1.Add(time.Minute)
	streamT3 = streamT1.Add(2 * time.Minute)
)

func msgAt(id, key string, at time.Time) models.Message {
	return models.Message{ID: id, ConversationKey: key, Body: "body-" + id, CreatedAt: at}
}

func loadedStream(t *testing.T, svc *fakeService, key string) *Stream {
	t.Helper()
	s := NewStream(svc, zap.NewNop())
	require.NoError(t, s.Load(context.Background(), key))
	return s
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestStreamLoad(t *testing.T) {
	svc := newFakeService()
	svc.history["c1"] = []models.Message{
		msgAt("m2", "c1", streamT2),
		msgAt("m1", "c1", streamT1),
	}

	s := loadedStream(t, svc, "c1")
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages()))

	// Empty history is an empty buffer, not an error.
	require.NoError(t, s.Load(context.Background(), "c2"))
	assert.Empty(t, s.Messages())
	assert.Equal(t, "c2", s.Active())
}

func TestStreamDuplicateDelivery(t *testing.T) {
	svc := newFakeService()
	svc.history["c1"] = []models.Message{
		msgAt("m1", "c1", streamT1),
		msgAt("m2", "c1", streamT2),
	}
	s := loadedStream(t, svc, "c1")

	// The transport redelivers m1 unchanged: no duplicate, no reorder.
	assert.False(t, s.AppendIfRelevant(msgAt("m1", "c1", streamT1)))
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages()))
}

func TestStreamOutOfOrderPush(t *testing.T) {
	svc := newFakeService()
	svc.history["c1"] = []models.Message{msgAt("m1", "c1", streamT1)}
	s := loadedStream(t, svc, "c1")

	// m3 lands before m2; the buffer ends up chronological anyway.
	assert.True(t, s.AppendIfRelevant(msgAt("m3", "c1", streamT3)))
	assert.True(t, s.AppendIfRelevant(msgAt("m2", "c1", streamT2)))
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Messages()))
}

func TestStreamIgnoresOtherConversations(t *testing.T) {
	svc := newFakeService()
	s := loadedStream(t, svc, "c1")

	assert.False(t, s.AppendIfRelevant(msgAt("m9", "c2", streamT1)))
	assert.Empty(t, s.Messages())
}

func TestStreamStaleLoadDiscarded(t *testing.T) {
	svc := newFakeService()
	svc.history["c1"] = []models.Message{msgAt("m1", "c1", streamT1)}
	svc.history["c2"] = []models.Message{msgAt("x1", "c2", streamT1)}
	svc.historyDelay["c1"] = 60 * time.Millisecond

	s := NewStream(svc, zap.NewNop())

	// The user switches to c2 while c1's fetch is still in flight. The
	// slow c1 result must be discarded, not clobber c2's buffer.
	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background(), "c1") }()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Load(context.Background(), "c2"))
	require.NoError(t, <-done)

	assert.Equal(t, "c2", s.Active())
	assert.Equal(t, []string{"x1"}, ids(s.Messages()))
}

func TestStreamKeepsAppendsDuringLoad(t *testing.T) {
	svc := newFakeService()
	svc.history["c1"] = []models.Message{msgAt("m1", "c1", streamT1)}
	svc.historyDelay["c1"] = 50 * time.Millisecond

	s := NewStream(svc, zap.NewNop())
	s.SetActive("c1")

	done := make(chan error, 1)
	go func() { done <- s.fetch(context.Background(), "c1") }()

	// The active key flipped synchronously, so a push arriving mid-fetch
	// is accepted...
	require.True(t, s.AppendIfRelevant(msgAt("m2", "c1", streamT2)))
	require.NoError(t, <-done)

	// ...and survives the history landing.
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages()))
}

func TestStreamResolve(t *testing.T) {
	svc := newFakeService()
	s := loadedStream(t, svc, "c1")

	local := msgAt("tmp-1", "c1", streamT1)
	local.Pending = true
	require.True(t, s.AppendIfRelevant(local))

	t.Run("server copy replaces pending", func(t *testing.T) {
		s.Resolve("tmp-1", msgAt("srv-1", "c1", streamT1))
		assert.Equal(t, []string{"srv-1"}, ids(s.Messages()))
	})

	t.Run("push already delivered the server copy", func(t *testing.T) {
		local2 := msgAt("tmp-2", "c1", streamT2)
		require.True(t, s.AppendIfRelevant(local2))
		// Push beat the HTTP response.
		require.True(t, s.AppendIfRelevant(msgAt("srv-2", "c1", streamT2)))

		s.Resolve("tmp-2", msgAt("srv-2", "c1", streamT2))
		assert.Equal(t, []string{"srv-1", "srv-2"}, ids(s.Messages()))
	})
}

func TestStreamMarkFailed(t *testing.T) {
	svc := newFakeService()
	s := loadedStream(t, svc, "c1")

	local := msgAt("tmp-1", "c1", streamT1)
	local.Pending = true
	require.True(t, s.AppendIfRelevant(local))

	s.MarkFailed("tmp-1")
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Failed)
	assert.False(t, msgs[0].Pending)

	got, ok := s.Take("tmp-1")
	require.True(t, ok)
	assert.Equal(t, "tmp-1", got.ID)
	assert.Empty(t, s.Messages())
}
