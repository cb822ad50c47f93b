package core

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// OutputRecord is the flat per-body, per-tick record of every derived
// signal. Discrete signals are encoded as 0.0/1.0 so the record can be
// delivered to the host input layer as a uniform float surface.
// Exactly one record is produced per body per tick; modules each fill
// in their own fields during the update pass.
type OutputRecord struct {
	BodyID int       `json:"bodyId"`
	Tick   uint64    `json:"tick"`
	Time   time.Time `json:"time"`

	// Torso
	WeightShiftX     float64    `json:"weightShiftX"` // normalized [-1, 1]
	WeightShiftLeft  float64    `json:"weightShiftLeft"`
	WeightShiftRight float64    `json:"weightShiftRight"`
	TorsoMovement    mgl64.Vec3 `json:"torsoMovement"`
	BentOver         float64    `json:"bentOver"`
	Upright          float64    `json:"upright"`

	// Foot / gait
	FootRaised        float64    `json:"footRaised"`
	FootLowered       float64    `json:"footLowered"` // one-tick pulse
	HipAbductionLeft  float64    `json:"hipAbductionLeft"`
	HipAbductionRight float64    `json:"hipAbductionRight"`
	LeftFootPosition  mgl64.Vec3 `json:"leftFootPosition"`
	RightFootPosition mgl64.Vec3 `json:"rightFootPosition"`
	IsWalking         float64    `json:"isWalking"`
	WalkStarted       float64    `json:"walkStarted"` // one-tick pulse
	WalkStopped       float64    `json:"walkStopped"` // one-tick pulse
	WalkSpeed         float64    `json:"walkSpeed"`   // m/s
	Cadence           float64    `json:"cadence"`     // steps/min
	StepAsymmetry     float64    `json:"stepAsymmetry"`
	GaitConsistency   float64    `json:"gaitConsistency"`

	// Arms
	LeftHandPosition  mgl64.Vec3 `json:"leftHandPosition"`
	RightHandPosition mgl64.Vec3 `json:"rightHandPosition"`
	LeftHandRaised    float64    `json:"leftHandRaised"`
	RightHandRaised   float64    `json:"rightHandRaised"`

	// Head
	HeadPosition mgl64.Vec3 `json:"headPosition"`
	HeadRotation mgl64.Vec3 `json:"headRotation"`
	HeadNod      float64    `json:"headNod"`
	HeadShake    float64    `json:"headShake"`
	HeadUp       float64    `json:"headUp"`
	HeadDown     float64    `json:"headDown"`
	HeadLeft     float64    `json:"headLeft"`
	HeadRight    float64    `json:"headRight"`

	// Balance
	CenterOfMass          mgl64.Vec3 `json:"centerOfMass"`
	SwayLateral           float64    `json:"swayLateral"`
	SwayAnteriorPosterior float64    `json:"swayAnteriorPosterior"`
	SwayMagnitude         float64    `json:"swayMagnitude"`
	Swaying               float64    `json:"swaying"`
	CoMVelocity           float64    `json:"comVelocity"` // m/s
	IsBalanced            float64    `json:"isBalanced"`
	BalanceLost           float64    `json:"balanceLost"`     // one-tick pulse
	BalanceRegained       float64    `json:"balanceRegained"` // one-tick pulse
}

// Bool converts a discrete state to its 0.0/1.0 output encoding.
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
