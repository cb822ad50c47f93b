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

// gestureKind tags the discrete head gesture in progress.
type gestureKind string

const (
	gestureNone  gestureKind = ""
	gestureNod   gestureKind = "nod"
	gestureShake gestureKind = "shake"
)

// HeadModule tracks relative head position/rotation and detects head
// gestures in one of two configuration-selectable designs: a discrete
// nod/shake detector measured against the calibrated neutral rotation,
// or a neck-relative directional level comparison.
type HeadModule struct {
	cfg    config.HeadConfig
	joints config.JointNames
	logger *slog.Logger

	calibrated bool
	neutralPos mgl64.Vec3
	neutralRot mgl64.Vec3

	// Directional mode: neutral head-to-neck offsets.
	neutralNeckPosOffset mgl64.Vec3
	neutralNeckRotOffset mgl64.Vec3

	// Continuous outputs.
	position mgl64.Vec3
	rotation mgl64.Vec3

	// Gesture mode runtime state.
	gesture   gestureKind
	gestureAt time.Time

	// Directional mode runtime state.
	up, down, left, right bool
}

// NewHeadModule creates a head module from configuration.
func NewHeadModule(cfg config.HeadConfig, joints config.JointNames, logger *slog.Logger) *HeadModule {
	return &HeadModule{
		cfg:    cfg,
		joints: joints,
		logger: logger.With("module", "head", "mode", string(cfg.Mode)),
	}
}

func (m *HeadModule) Name() string         { return "head" }
func (m *HeadModule) Enabled() bool        { return m.cfg.Enabled }
func (m *HeadModule) Sensitivity() float64 { return m.cfg.Sensitivity }
func (m *HeadModule) Calibrated() bool     { return m.calibrated }

func (m *HeadModule) RequiredJointNames() []string {
	if m.cfg.Mode == config.HeadModeDirectional {
		return []string{m.joints.Head, m.joints.Neck}
	}
	return []string{m.joints.Head}
}

func (m *HeadModule) HasRequiredJoints(snap core.JointSnapshot) bool {
	return snap.HasAll(m.RequiredJointNames()...)
}

// Calibrate stores the neutral head pose and, in directional mode, the
// neutral head-to-neck offsets.
func (m *HeadModule) Calibrate(snap core.JointSnapshot, now time.Time) error {
	if missing := snap.Missing(m.RequiredJointNames()...); len(missing) > 0 {
		return missingErr(m.Name(), missing)
	}

	head, _ := snap.Get(m.joints.Head)
	m.neutralPos = head.Position
	m.neutralRot = kinematics.NormalizeAngles(head.Rotation)

	if m.cfg.Mode == config.HeadModeDirectional {
		neck, _ := snap.Get(m.joints.Neck)
		m.neutralNeckPosOffset = head.Position.Sub(neck.Position)
		m.neutralNeckRotOffset = kinematics.AngleDelta(head.Rotation, neck.Rotation)
	}

	m.position = mgl64.Vec3{}
	m.rotation = mgl64.Vec3{}
	m.gesture = gestureNone
	m.up, m.down, m.left, m.right = false, false, false, false
	m.calibrated = true

	m.logger.Debug("calibrated", "neutralRot", m.neutralRot)
	return nil
}

// Update derives the head signals for this tick.
func (m *HeadModule) Update(snap core.JointSnapshot, now time.Time, out *core.OutputRecord) {
	if !m.cfg.Enabled || !m.calibrated {
		return
	}

	head, ok := snap.Get(m.joints.Head)
	if !ok {
		m.emit(out)
		return
	}

	switch m.cfg.Mode {
	case config.HeadModeDirectional:
		neck, okN := snap.Get(m.joints.Neck)
		if !okN {
			m.emit(out)
			return
		}
		m.updateDirectional(head, neck)
	default:
		m.updateGesture(head, now)
	}

	m.emit(out)
}

// updateGesture measures against the calibrated neutral rotation and
// runs the discrete nod/shake state machine.
func (m *HeadModule) updateGesture(head core.JointPose, now time.Time) {
	rel := kinematics.AngleDelta(head.Rotation, m.neutralRot)
	m.position = kinematics.Scale(head.Position.Sub(m.neutralPos), m.cfg.Sensitivity)
	m.rotation = kinematics.Scale(rel, m.cfg.Sensitivity)

	pitch, yaw := rel.X(), rel.Y()

	if m.gesture == gestureNone {
		switch {
		case math.Abs(pitch) > m.cfg.NodThreshold:
			m.gesture = gestureNod
			m.gestureAt = now
		case math.Abs(yaw) > m.cfg.ShakeThreshold:
			m.gesture = gestureShake
			m.gestureAt = now
		}
		return
	}

	angle, active, speed := math.Abs(pitch), m.cfg.NodThreshold, m.cfg.NodSpeed
	if m.gesture == gestureShake {
		angle, active, speed = math.Abs(yaw), m.cfg.ShakeThreshold, m.cfg.ShakeSpeed
	}

	elapsed := now.Sub(m.gestureAt)
	switch {
	case angle < m.cfg.NeutralReturnThreshold:
		// Returned to neutral: normal completion.
		m.gesture = gestureNone
	case elapsed >= m.cfg.GestureTimeout:
		// Stuck away from neutral too long, force the end.
		m.gesture = gestureNone
	case angle < active && elapsed >= speed:
		// Left the active band but never made it back to neutral within
		// the per-axis window.
		m.gesture = gestureNone
	}
}

// updateDirectional measures against the neck and drives four
// independent level comparisons, no hysteresis.
func (m *HeadModule) updateDirectional(head, neck core.JointPose) {
	posOffset := head.Position.Sub(neck.Position)
	rotOffset := kinematics.AngleDelta(head.Rotation, neck.Rotation)

	rel := kinematics.NormalizeAngles(rotOffset.Sub(m.neutralNeckRotOffset))
	m.position = kinematics.Scale(posOffset.Sub(m.neutralNeckPosOffset), m.cfg.Sensitivity)
	m.rotation = kinematics.Scale(rel, m.cfg.Sensitivity)

	pitch, yaw := rel.X(), rel.Y()
	m.down = pitch > m.cfg.DownThreshold
	m.up = pitch < -m.cfg.UpThreshold
	m.right = yaw > m.cfg.RightThreshold
	m.left = yaw < -m.cfg.LeftThreshold
}

func (m *HeadModule) emit(out *core.OutputRecord) {
	out.HeadPosition = m.position
	out.HeadRotation = m.rotation
	out.HeadNod = core.Bool(m.gesture == gestureNod)
	out.HeadShake = core.Bool(m.gesture == gestureShake)
	out.HeadUp = core.Bool(m.up)
	out.HeadDown = core.Bool(m.down)
	out.HeadLeft = core.Bool(m.left)
	out.HeadRight = core.Bool(m.right)
}
