package tracker

import (
	"log/slog"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/internal/kinematics"
	"github.com/kinetrack/extension/pkg/core"
)

// displacementEpsilon is the minimum axis displacement considered for
// the whole-body-movement ratio. Below it the ratio is numerically
// meaningless and is not evaluated.
const displacementEpsilon = 0.01

// TorsoModule detects lateral weight shifts and bent-over posture from
// pelvis and spine offsets relative to the calibrated neutral pose.
type TorsoModule struct {
	cfg    config.TorsoConfig
	joints config.JointNames
	logger *slog.Logger

	// Calibration state, replaced wholesale on recalibration.
	calibrated       bool
	neutralPelvisPos mgl64.Vec3
	neutralPelvisRot mgl64.Vec3
	neutralSpinePos  mgl64.Vec3
	neutralOffset    mgl64.Vec3 // spine-to-pelvis at calibration

	// Runtime hysteresis state.
	shiftLeft  bool
	shiftRight bool
	bentOver   bool
	shiftX     float64
	movement   mgl64.Vec3
}

// NewTorsoModule creates a torso module from configuration.
func NewTorsoModule(cfg config.TorsoConfig, joints config.JointNames, logger *slog.Logger) *TorsoModule {
	return &TorsoModule{
		cfg:    cfg,
		joints: joints,
		logger: logger.With("module", "torso"),
	}
}

func (m *TorsoModule) Name() string         { return "torso" }
func (m *TorsoModule) Enabled() bool        { return m.cfg.Enabled }
func (m *TorsoModule) Sensitivity() float64 { return m.cfg.Sensitivity }
func (m *TorsoModule) Calibrated() bool     { return m.calibrated }

func (m *TorsoModule) RequiredJointNames() []string {
	return []string{m.joints.Pelvis, m.joints.Spine}
}

func (m *TorsoModule) HasRequiredJoints(snap core.JointSnapshot) bool {
	return snap.HasAll(m.RequiredJointNames()...)
}

// Calibrate stores the neutral pelvis/spine geometry.
func (m *TorsoModule) Calibrate(snap core.JointSnapshot, now time.Time) error {
	if missing := snap.Missing(m.RequiredJointNames()...); len(missing) > 0 {
		return missingErr(m.Name(), missing)
	}

	pelvis, _ := snap.Get(m.joints.Pelvis)
	spine, _ := snap.Get(m.joints.Spine)

	m.neutralPelvisPos = pelvis.Position
	m.neutralPelvisRot = pelvis.Rotation
	m.neutralSpinePos = spine.Position
	m.neutralOffset = spine.Position.Sub(pelvis.Position)

	m.shiftLeft = false
	m.shiftRight = false
	m.bentOver = false
	m.shiftX = 0
	m.movement = mgl64.Vec3{}
	m.calibrated = true

	m.logger.Debug("calibrated",
		"neutralPelvis", m.neutralPelvisPos,
		"neutralOffset", m.neutralOffset)
	return nil
}

// Update derives the weight-shift and bent-over signals for this tick.
func (m *TorsoModule) Update(snap core.JointSnapshot, now time.Time, out *core.OutputRecord) {
	if !m.cfg.Enabled || !m.calibrated {
		return
	}

	pelvis, okP := snap.Get(m.joints.Pelvis)
	spine, okS := snap.Get(m.joints.Spine)
	if !okP || !okS {
		// Transient gap: hold the previous discrete states.
		m.emit(out)
		return
	}

	pelvisDisp := pelvis.Position.Sub(m.neutralPelvisPos)
	spineDisp := spine.Position.Sub(m.neutralSpinePos)
	currentOffset := spine.Position.Sub(pelvis.Position)
	relativeMovement := currentOffset.Sub(m.neutralOffset)

	// A sideways step moves spine and pelvis by the same amount; only a
	// true shift rotates the trunk over the hips. When the displacement
	// ratio says the whole body translated, suppress the shift signal
	// for this tick.
	wholeBody := false
	if math.Abs(pelvisDisp.X()) > displacementEpsilon && math.Abs(spineDisp.X()) > displacementEpsilon {
		ratio := math.Abs(spineDisp.X() / pelvisDisp.X())
		wholeBody = ratio > m.cfg.WholeBodyMovementThreshold
	}

	if wholeBody {
		m.shiftX = 0
	} else {
		m.shiftX = kinematics.Clamp(
			relativeMovement.X()*m.cfg.Sensitivity/m.cfg.WeightShiftThreshold, -1, 1)
	}

	// Hysteresis: enter at the neutral-zone edge, leave only once the
	// amount is back inside the zone.
	zone := m.cfg.NeutralZoneWidth
	if m.shiftRight {
		if math.Abs(m.shiftX) < zone {
			m.shiftRight = false
		}
	} else if m.shiftX > zone {
		m.shiftRight = true
	}
	if m.shiftLeft {
		if math.Abs(m.shiftX) < zone {
			m.shiftLeft = false
		}
	} else if m.shiftX < -zone {
		m.shiftLeft = true
	}

	rotDelta := kinematics.AngleDelta(pelvis.Rotation, m.neutralPelvisRot)
	m.bentOver = math.Abs(rotDelta.X()) > m.cfg.BentOverAngleThreshold

	m.movement = kinematics.Scale(relativeMovement, m.cfg.Sensitivity)

	m.emit(out)
}

func (m *TorsoModule) emit(out *core.OutputRecord) {
	out.WeightShiftX = m.shiftX
	out.WeightShiftLeft = core.Bool(m.shiftLeft)
	out.WeightShiftRight = core.Bool(m.shiftRight)
	out.TorsoMovement = m.movement
	out.BentOver = core.Bool(m.bentOver)
	out.Upright = core.Bool(!m.bentOver)
}
