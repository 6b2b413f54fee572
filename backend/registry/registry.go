package registry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"presence/backend/model"
)

// Registry is the authoritative in-memory mapping of participant id to its
// current state. All mutation goes through its methods; callers only ever
// see copies of the stored records.
type Registry struct {
	mx *sync.Mutex
	db map[string]*model.Participant
}

func New() *Registry {
	return &Registry{
		mx: &sync.Mutex{},
		db: make(map[string]*model.Participant),
	}
}

// Admit allocates a new participant for a connection originating from
// remoteIP. The label is ordinal over the current roster size and the color
// is derived deterministically from the id and origin address.
func (r *Registry) Admit(remoteIP string) *model.Participant {
	id := uuid.NewString()

	r.mx.Lock()
	defer r.mx.Unlock()

	p := &model.Participant{
		ID:       id,
		Label:    fmt.Sprintf("User %d", len(r.db)+1),
		Color:    colorFor(id + "-" + remoteIP),
		Location: model.UnknownLocation(false),
	}
	r.db[id] = p
	return clone(p)
}

// UpdatePosition overwrites the participant's position. It returns false
// when the id is not present, which is not an error: the participant may
// have disconnected between submission and processing.
func (r *Registry) UpdatePosition(id string, x, y float64) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	p, ok := r.db[id]
	if !ok {
		return false
	}
	p.X = &x
	p.Y = &y
	return true
}

// SetLocation overwrites the participant's location and returns a copy of
// the updated record for broadcast. Returns false when the participant is
// gone, so a late-arriving resolution is a safe no-op.
func (r *Registry) SetLocation(id string, loc model.Location) (*model.Participant, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()

	p, ok := r.db[id]
	if !ok {
		return nil, false
	}
	p.Location = loc
	return clone(p), true
}

// Remove deletes the participant. It reports whether an entry was actually
// removed, so repeated close signals for one session stay idempotent.
func (r *Registry) Remove(id string) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.db[id]; !ok {
		return false
	}
	delete(r.db, id)
	return true
}

// Snapshot returns a consistent copy of every current participant.
// Order is not significant.
func (r *Registry) Snapshot() []*model.Participant {
	r.mx.Lock()
	defer r.mx.Unlock()

	users := make([]*model.Participant, 0, len(r.db))
	for _, p := range r.db {
		users = append(users, clone(p))
	}
	return users
}

func clone(p *model.Participant) *model.Participant {
	c := *p
	if p.X != nil {
		x := *p.X
		c.X = &x
	}
	if p.Y != nil {
		y := *p.Y
		c.Y = &y
	}
	return &c
}

// colorFor hashes the seed into a hue. Identical seeds always reproduce the
// same color; this is a display aid, not a security property.
func colorFor(seed string) string {
	var hash int32
	for _, c := range seed {
		hash = hash<<5 - hash + int32(c)
	}
	hue := int64(hash)
	if hue < 0 {
		hue = -hue
	}
	return fmt.Sprintf("hsl(%d 85%% 55%%)", hue%360)
}
