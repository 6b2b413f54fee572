package model

import "sync"

// Event types sent by the server.
const (
	EventTypeSelf       = "self"
	EventTypeSnapshot   = "snapshot"
	EventTypeJoin       = "join"
	EventTypeLeave      = "leave"
	EventTypeMove       = "move"
	EventTypeUserUpdate = "user_update"
)

// Location kinds.
const (
	LocationKindUnknown = "unknown"
	LocationKindCountry = "country"
	LocationKindUSState = "us_state"
)

type Participant struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Color    string   `json:"color"`
	X        *float64 `json:"x,omitempty"` // absent until the client reports a position
	Y        *float64 `json:"y,omitempty"`
	Location Location `json:"location"`
}

// Location is a tagged variant discriminated by Kind. Fields that do not
// belong to the active variant stay zero and are omitted from JSON.
type Location struct {
	Kind         string `json:"kind"`
	Resolved     bool   `json:"resolved,omitempty"` // unknown only: resolution was attempted
	CountryCode  string `json:"countryCode,omitempty"`
	CountryName  string `json:"countryName,omitempty"`
	CountryEmoji string `json:"countryEmoji,omitempty"`
	StateCode    string `json:"stateCode,omitempty"`
	StateName    string `json:"stateName,omitempty"`
	FlagURL      string `json:"flagUrl,omitempty"`
}

func UnknownLocation(resolved bool) Location {
	return Location{
		Kind:     LocationKindUnknown,
		Resolved: resolved,
	}
}

// Valid reports whether a client-submitted location matches one of the
// defined variants closely enough to be applied.
func (l Location) Valid() bool {
	switch l.Kind {
	case LocationKindUnknown:
		return true
	case LocationKindCountry:
		return len(l.CountryCode) == 2
	case LocationKindUSState:
		return l.CountryCode == "US" && l.StateCode != ""
	}
	return false
}

type Event struct {
	Type  string         `json:"type"`
	User  *Participant   `json:"user,omitempty"`
	Users []*Participant `json:"users,omitempty"`
	ID    string         `json:"id,omitempty"`
	X     *float64       `json:"x,omitempty"`
	Y     *float64       `json:"y,omitempty"`
}

func SelfEvent(user *Participant) Event {
	return Event{Type: EventTypeSelf, User: user}
}

func SnapshotEvent(users []*Participant) Event {
	return Event{Type: EventTypeSnapshot, Users: users}
}

func JoinEvent(user *Participant) Event {
	return Event{Type: EventTypeJoin, User: user}
}

func LeaveEvent(id string) Event {
	return Event{Type: EventTypeLeave, ID: id}
}

func MoveEvent(id string, x, y float64) Event {
	return Event{Type: EventTypeMove, ID: id, X: &x, Y: &y}
}

func UserUpdateEvent(user *Participant) Event {
	return Event{Type: EventTypeUserUpdate, User: user}
}

// Wire is one session's outbound event queue. The hub enqueues marshaled
// events into TX; the transport drains it. A wire that cannot keep up gets
// dropped: Drop is safe to call multiple times and from any goroutine.
type Wire struct {
	TX      chan []byte
	dropped chan struct{}
	once    *sync.Once
}

const DefaultWireBuffer = 64

func NewWire(buffer int) *Wire {
	if buffer <= 0 {
		buffer = DefaultWireBuffer
	}
	return &Wire{
		TX:      make(chan []byte, buffer),
		dropped: make(chan struct{}),
		once:    &sync.Once{},
	}
}

func (w *Wire) Drop() {
	w.once.Do(func() {
		close(w.dropped)
	})
}

// Dropped is closed once the wire has been marked dead.
func (w *Wire) Dropped() <-chan struct{} {
	return w.dropped
}
