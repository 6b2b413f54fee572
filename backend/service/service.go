package service

import (
	"context"

	"github.com/rs/zerolog"

	"presence/backend/model"
)

type (
	Registry interface {
		Admit(remoteIP string) *model.Participant
		UpdatePosition(id string, x, y float64) bool
		SetLocation(id string, loc model.Location) (*model.Participant, bool)
		Remove(id string) bool
		Snapshot() []*model.Participant
	}

	Hub interface {
		Register(w *model.Wire)
		Unregister(w *model.Wire)
		Send(w *model.Wire, ev model.Event)
		Broadcast(ev model.Event, exclude *model.Wire)
	}

	Resolver interface {
		Resolve(ctx context.Context, addr string) model.Location
	}

	// Presence orchestrates session lifecycle: admission, state sync,
	// position ingestion, location propagation, and teardown.
	Presence struct {
		reg      Registry
		hub      Hub
		resolver Resolver
		logger   zerolog.Logger
	}

	Config struct {
		Registry Registry
		Hub      Hub
		Resolver Resolver
		Logger   *zerolog.Logger
	}
)

func NewPresence(cfg Config) *Presence {
	return &Presence{
		reg:      cfg.Registry,
		hub:      cfg.Hub,
		resolver: cfg.Resolver,
		logger:   cfg.Logger.With().Str("component", "presence").Logger(),
	}
}

// Join admits a new participant: registers its wire, syncs initial state
// (self then snapshot), announces the join to everyone else, and kicks off
// asynchronous location resolution. Resolution never delays admission.
func (p *Presence) Join(ctx context.Context, remoteIP string, wire *model.Wire) *model.Participant {
	user := p.reg.Admit(remoteIP)
	p.hub.Register(wire)

	p.hub.Send(wire, model.SelfEvent(user))
	p.hub.Send(wire, model.SnapshotEvent(p.reg.Snapshot()))
	p.hub.Broadcast(model.JoinEvent(user), wire)

	p.logger.Debug().
		Str("userID", user.ID).
		Str("label", user.Label).
		Msg("participant joined")

	// The lookup outlives the request context: a disconnect must not turn
	// a resolvable address into a cached unknown.
	go p.resolveLocation(context.WithoutCancel(ctx), user.ID, remoteIP)
	return user
}

// Leave tears the session down. Idempotent against repeated close signals:
// only the call that actually removes the registry entry broadcasts leave.
func (p *Presence) Leave(id string, wire *model.Wire) {
	p.hub.Unregister(wire)
	if !p.reg.Remove(id) {
		return
	}
	p.hub.Broadcast(model.LeaveEvent(id), nil)
	p.logger.Debug().Str("userID", id).Msg("participant left")
}

// Move applies a validated position update and fans it out. Returns false
// when the participant is unknown; no state changes and nothing is sent.
func (p *Presence) Move(id string, x, y float64) bool {
	if !p.reg.UpdatePosition(id, x, y) {
		return false
	}
	p.hub.Broadcast(model.MoveEvent(id, x, y), nil)
	return true
}

// ReportLocation applies a participant-submitted location through the same
// propagation path the resolver uses.
func (p *Presence) ReportLocation(id string, loc model.Location) bool {
	updated, ok := p.reg.SetLocation(id, loc)
	if !ok {
		return false
	}
	p.hub.Broadcast(model.UserUpdateEvent(updated), nil)
	return true
}

func (p *Presence) resolveLocation(ctx context.Context, id, remoteIP string) {
	loc := p.resolver.Resolve(ctx, remoteIP)

	// The participant may have disconnected while the lookup was in
	// flight; the registry check makes a late result a no-op.
	updated, ok := p.reg.SetLocation(id, loc)
	if !ok {
		p.logger.Debug().Str("userID", id).Msg("participant gone before resolution completed")
		return
	}
	p.hub.Broadcast(model.UserUpdateEvent(updated), nil)
	p.logger.Debug().
		Str("userID", id).
		Str("kind", loc.Kind).
		Msg("location resolved")
}
