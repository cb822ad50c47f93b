package core

import "time"

// Body identifies one tracked person. IDs are assigned by the external
// joint source and are stable for the lifetime of the body; they are
// never reused across bodies within a session.
type Body struct {
	ID    int    `json:"id"`
	Label string `json:"label"` // ordinal label, e.g. "Player 1"
}

// BodyEventKind enumerates the body lifecycle notifications delivered
// by the external source.
type BodyEventKind string

const (
	BodyAttached BodyEventKind = "attached"
	BodyDetached BodyEventKind = "detached"
)

// BodyEvent is a body attach/detach notification. Events may arrive on
// any goroutine; the coordinator queues them and drains the queue only
// at the start of a tick.
type BodyEvent struct {
	Kind BodyEventKind
	Body Body
	Time time.Time
}
