package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence/backend/model"
)

func newTestHub() *Hub {
	logger := zerolog.Nop()
	return NewHub(&logger)
}

func recvEvent(t *testing.T, w *model.Wire) model.Event {
	t.Helper()
	select {
	case b := <-w.TX:
		var ev model.Event
		require.NoError(t, json.Unmarshal(b, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event on wire")
		return model.Event{}
	}
}

func TestBroadcastReachesAllButExcluded(t *testing.T) {
	h := newTestHub()
	a := model.NewWire(8)
	b := model.NewWire(8)
	c := model.NewWire(8)
	h.Register(a)
	h.Register(b)
	h.Register(c)

	h.Broadcast(model.LeaveEvent("gone"), a)

	for _, w := range []*model.Wire{b, c} {
		ev := recvEvent(t, w)
		assert.Equal(t, model.EventTypeLeave, ev.Type)
		assert.Equal(t, "gone", ev.ID)
	}
	assert.Empty(t, a.TX)
}

func TestBroadcastSurvivesStalledWire(t *testing.T) {
	h := newTestHub()
	stalled := model.NewWire(1)
	stalled.TX <- []byte("{}") // buffer full, nobody draining
	healthy := model.NewWire(8)
	h.Register(stalled)
	h.Register(healthy)

	h.Broadcast(model.LeaveEvent("x"), nil)

	ev := recvEvent(t, healthy)
	assert.Equal(t, model.EventTypeLeave, ev.Type)

	select {
	case <-stalled.Dropped():
	case <-time.After(time.Second):
		t.Fatal("stalled wire was not dropped")
	}
}

func TestSendSingleWire(t *testing.T) {
	h := newTestHub()
	a := model.NewWire(8)
	b := model.NewWire(8)
	h.Register(a)
	h.Register(b)

	user := &model.Participant{ID: "u1", Label: "User 1"}
	h.Send(a, model.SelfEvent(user))

	ev := recvEvent(t, a)
	assert.Equal(t, model.EventTypeSelf, ev.Type)
	require.NotNil(t, ev.User)
	assert.Equal(t, "u1", ev.User.ID)
	assert.Empty(t, b.TX)
}

func TestBroadcastOrderingPerSource(t *testing.T) {
	h := newTestHub()
	w := model.NewWire(8)
	h.Register(w)

	user := &model.Participant{ID: "u1"}
	h.Broadcast(model.JoinEvent(user), nil)
	h.Broadcast(model.MoveEvent("u1", 1, 2), nil)
	h.Broadcast(model.LeaveEvent("u1"), nil)

	assert.Equal(t, model.EventTypeJoin, recvEvent(t, w).Type)
	assert.Equal(t, model.EventTypeMove, recvEvent(t, w).Type)
	assert.Equal(t, model.EventTypeLeave, recvEvent(t, w).Type)
}

func TestUnregisterIdempotent(t *testing.T) {
	h := newTestHub()
	w := model.NewWire(8)
	h.Register(w)
	h.Unregister(w)
	h.Unregister(w) // no-op

	h.Broadcast(model.LeaveEvent("x"), nil)
	assert.Empty(t, w.TX)
}
