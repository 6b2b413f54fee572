package hub

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"presence/backend/model"
)

// Hub fans out events to every registered wire. Wires have bounded buffers;
// a wire whose buffer is full gets dropped asynchronously so one stalled
// consumer never delays delivery to the rest.
type Hub struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	wires  map[*model.Wire]struct{}
}

func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("component", "hub").Logger(),
		mx:     &sync.RWMutex{},
		wires:  make(map[*model.Wire]struct{}),
	}
}

func (h *Hub) Register(w *model.Wire) {
	h.mx.Lock()
	h.wires[w] = struct{}{}
	n := len(h.wires)
	h.mx.Unlock()
	h.logger.Debug().Int("wires", n).Msg("wire registered")
}

// Unregister is idempotent, removing an already-removed wire is a no-op.
func (h *Hub) Unregister(w *model.Wire) {
	h.mx.Lock()
	delete(h.wires, w)
	n := len(h.wires)
	h.mx.Unlock()
	h.logger.Debug().Int("wires", n).Msg("wire unregistered")
}

// Send delivers one event to a single wire, bypassing the fan-out. Used for
// the self and snapshot events at admission.
func (h *Hub) Send(w *model.Wire, ev model.Event) {
	b, err := json.Marshal(&ev)
	if err != nil {
		h.logger.Error().Err(err).Str("type", ev.Type).Msg("failed to marshal event")
		return
	}
	h.enqueue(w, b, ev.Type)
}

// Broadcast marshals the event once and enqueues it to every registered
// wire except exclude. Enqueuing happens under the hub lock, so two
// broadcasts from one goroutine reach every wire in the same relative order.
func (h *Hub) Broadcast(ev model.Event, exclude *model.Wire) {
	b, err := json.Marshal(&ev)
	if err != nil {
		h.logger.Error().Err(err).Str("type", ev.Type).Msg("failed to marshal event")
		return
	}

	h.mx.RLock()
	defer h.mx.RUnlock()

	for w := range h.wires {
		if w == exclude {
			continue
		}
		h.enqueue(w, b, ev.Type)
	}
}

func (h *Hub) enqueue(w *model.Wire, b []byte, evType string) {
	select {
	case w.TX <- b:
	default:
		h.logger.Warn().Str("type", evType).Msg("wire buffer full, dropping consumer")
		go w.Drop()
	}
}
