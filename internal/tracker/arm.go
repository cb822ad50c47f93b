package tracker

import (
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/internal/kinematics"
	"github.com/kinetrack/extension/pkg/core"
)

// armSide holds one arm's calibration and runtime state. Left and right
// are fully independent mirrors of each other.
type armSide struct {
	handJoint     string
	shoulderJoint string

	neutralHand   mgl64.Vec3
	neutralOffset mgl64.Vec3 // hand-to-shoulder at calibration

	raised   bool
	position mgl64.Vec3
}

// ArmModule detects hand raises and tracks relative hand positions.
type ArmModule struct {
	cfg    config.ArmConfig
	joints config.JointNames
	logger *slog.Logger

	calibrated bool
	left       armSide
	right      armSide
}

// NewArmModule creates an arm module from configuration.
func NewArmModule(cfg config.ArmConfig, joints config.JointNames, logger *slog.Logger) *ArmModule {
	return &ArmModule{
		cfg:    cfg,
		joints: joints,
		logger: logger.With("module", "arm"),
		left:   armSide{handJoint: joints.LeftHand, shoulderJoint: joints.LeftShoulder},
		right:  armSide{handJoint: joints.RightHand, shoulderJoint: joints.RightShoulder},
	}
}

func (m *ArmModule) Name() string         { return "arm" }
func (m *ArmModule) Enabled() bool        { return m.cfg.Enabled }
func (m *ArmModule) Sensitivity() float64 { return m.cfg.Sensitivity }
func (m *ArmModule) Calibrated() bool     { return m.calibrated }

func (m *ArmModule) RequiredJointNames() []string {
	return []string{
		m.joints.LeftHand, m.joints.RightHand,
		m.joints.LeftShoulder, m.joints.RightShoulder,
	}
}

func (m *ArmModule) HasRequiredJoints(snap core.JointSnapshot) bool {
	return snap.HasAll(m.RequiredJointNames()...)
}

// Calibrate stores each side's neutral hand and offset geometry.
func (m *ArmModule) Calibrate(snap core.JointSnapshot, now time.Time) error {
	if missing := snap.Missing(m.RequiredJointNames()...); len(missing) > 0 {
		return missingErr(m.Name(), missing)
	}

	m.left.calibrate(snap)
	m.right.calibrate(snap)
	m.calibrated = true

	m.logger.Debug("calibrated",
		"leftOffset", m.left.neutralOffset,
		"rightOffset", m.right.neutralOffset)
	return nil
}

func (s *armSide) calibrate(snap core.JointSnapshot) {
	hand, _ := snap.Get(s.handJoint)
	shoulder, _ := snap.Get(s.shoulderJoint)

	s.neutralHand = hand.Position
	s.neutralOffset = hand.Position.Sub(shoulder.Position)
	s.raised = false
	s.position = mgl64.Vec3{}
}

// Update derives both sides' raise and position signals for this tick.
func (m *ArmModule) Update(snap core.JointSnapshot, now time.Time, out *core.OutputRecord) {
	if !m.cfg.Enabled || !m.calibrated {
		return
	}

	m.left.update(snap, &m.cfg)
	m.right.update(snap, &m.cfg)

	out.LeftHandPosition = m.left.position
	out.RightHandPosition = m.right.position
	out.LeftHandRaised = core.Bool(m.left.raised)
	out.RightHandRaised = core.Bool(m.right.raised)
}

func (s *armSide) update(snap core.JointSnapshot, cfg *config.ArmConfig) {
	hand, okH := snap.Get(s.handJoint)
	shoulder, okS := snap.Get(s.shoulderJoint)
	if !okH || !okS {
		// Hold the previous side state for this tick.
		return
	}

	if cfg.RelativeTracking {
		offset := hand.Position.Sub(shoulder.Position)
		s.position = kinematics.Scale(offset.Sub(s.neutralOffset), cfg.Sensitivity)
	} else {
		s.position = hand.Position
	}

	// Both conditions must hold: relative height above the shoulder and
	// absolute gain over the neutral hand height. A shrugged shoulder
	// alone satisfies neither.
	relHeight := hand.Position.Y() - shoulder.Position.Y()
	heightGain := hand.Position.Y() - s.neutralHand.Y()
	s.raised = relHeight > cfg.HandRaiseThreshold && heightGain > cfg.HandRaiseMinHeight
}
