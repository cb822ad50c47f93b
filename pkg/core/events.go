package core

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Side distinguishes left/right limbs.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// StepPhase is the contact phase of a step event.
type StepPhase string

const (
	FootDown StepPhase = "down"
	FootUp   StepPhase = "up"
)

// StepEvent records a foot contact transition during gait analysis.
type StepEvent struct {
	BodyID   int        `json:"bodyId"`
	Side     Side       `json:"side"`
	Phase    StepPhase  `json:"phase"`
	Time     time.Time  `json:"time"`
	Position mgl64.Vec3 `json:"position"`
}

// BalanceEventKind enumerates balance edge transitions.
type BalanceEventKind string

const (
	BalanceLost     BalanceEventKind = "lost"
	BalanceRegained BalanceEventKind = "regained"
)

// BalanceEvent records a balanced-state edge with the sway context at
// the moment of the transition.
type BalanceEvent struct {
	BodyID        int              `json:"bodyId"`
	Kind          BalanceEventKind `json:"kind"`
	Time          time.Time        `json:"time"`
	SwayMagnitude float64          `json:"swayMagnitude"`
	CoMVelocity   float64          `json:"comVelocity"`
}
