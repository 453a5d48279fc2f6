package timeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/store/memstore"
)

func TestHub_BroadcastDeliversToAllSubscribers(t *testing.T) {
	h := NewHub()
	id1, ch1 := h.Subscribe()
	id2, ch2 := h.Subscribe()
	defer h.Unsubscribe(id1)
	defer h.Unsubscribe(id2)

	h.Broadcast([]byte("hello"))

	require.Equal(t, "hello", string(<-ch1))
	require.Equal(t, "hello", string(<-ch2))
}

func TestHub_SlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		h.Broadcast([]byte("x"))
	}

	require.Equal(t, 0, h.SubscriberCount(), "a subscriber whose buffer fills must be dropped")
	_ = ch
	h.Unsubscribe(id)
}

func TestHub_UnsubscribeIsANoOpOnUnknownID(t *testing.T) {
	h := NewHub()
	h.Unsubscribe("does-not-exist")
}

func TestRingBuffer_DropsOldestOnOverflow(t *testing.T) {
	b := NewRingBuffer()
	for i := 0; i < BufferCapacity+5; i++ {
		b.Push(model.TimelineEvent{ID: string(rune('a' + i%26))})
	}
	require.Equal(t, BufferCapacity, b.Len())

	drained := b.Drain()
	require.Len(t, drained, BufferCapacity)
	require.Equal(t, 0, b.Len())
}

func TestLogger_PersistsBuffersAndBroadcasts(t *testing.T) {
	s := memstore.New()
	hub := NewHub()
	buf := NewRingBuffer()
	l := New(s, hub, buf, nil)

	id, ch := hub.Subscribe()
	defer hub.Unsubscribe(id)

	require.NoError(t, l.LogEvent(context.Background(), "inc-1", "cam-1", model.EventTriggerReceived, map[string]interface{}{
		"trigger": "FALL",
	}))

	stored, err := s.ListTimelineEvents(context.Background(), "inc-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, model.EventTriggerReceived, stored[0].Kind)

	require.Equal(t, 1, buf.Len())

	raw := <-ch
	var decoded model.TimelineEvent
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "inc-1", decoded.IncidentID)
	require.Equal(t, model.EventTriggerReceived, decoded.Kind)
}
