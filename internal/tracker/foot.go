package tracker

import (
	"log/slog"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/stat"

	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/internal/kinematics"
	"github.com/kinetrack/extension/pkg/core"
)

// WalkState is the walk detector's finite state machine state.
type WalkState string

const (
	WalkIdle       WalkState = "idle"
	WalkInitiating WalkState = "initiating"
	WalkWalking    WalkState = "walking"
	WalkStopping   WalkState = "stopping"
)

const (
	// speedWindowSize is the number of reference-joint samples the speed
	// estimate spans.
	speedWindowSize = 30

	// stoppingGracePeriod is how long the detector lingers in Stopping
	// before declaring the walk over. A brief pause mid-stride resumes
	// without re-initiation.
	stoppingGracePeriod = time.Second

	// maxStepSamples caps the consistency buffer of accepted step times.
	maxStepSamples = 20
)

type speedSample struct {
	pos  mgl64.Vec3
	time time.Time
}

// footSide holds the per-side gait contact state.
type footSide struct {
	side        core.Side
	inContact   bool
	lastContact time.Time
	stepTime    float64 // seconds, last accepted step interval
}

// FootModule tracks foot raises, hip abduction, foot positions, the walk
// state machine, and step-event gait statistics.
type FootModule struct {
	cfg    config.FootConfig
	joints config.JointNames
	logger *slog.Logger

	calibrated      bool
	neutralLeft     mgl64.Vec3
	neutralRight    mgl64.Vec3
	neutralDistance float64 // planar foot-to-foot at calibration
	groundHeight    float64

	// Foot raise / abduction runtime state.
	footRaised     bool
	footLowered    bool // one-tick pulse
	abductionLeft  bool
	abductionRight bool
	leftPosition   mgl64.Vec3
	rightPosition  mgl64.Vec3

	// Walk detector runtime state.
	walkState    WalkState
	speedWindow  []speedSample
	speed        float64
	initiatedAt  time.Time
	stoppingAt   time.Time
	walkStarted  bool // one-tick pulse
	walkStopped  bool // one-tick pulse

	// Gait analysis runtime state.
	left          footSide
	right         footSide
	stepSamples   []float64
	cadence       float64
	asymmetry     float64
	consistency   float64
	eventHistory  []core.StepEvent
	pendingEvents []core.StepEvent
	bodyID        int
}

// NewFootModule creates a foot/gait module from configuration.
func NewFootModule(cfg config.FootConfig, joints config.JointNames, logger *slog.Logger) *FootModule {
	return &FootModule{
		cfg:       cfg,
		joints:    joints,
		logger:    logger.With("module", "foot"),
		walkState: WalkIdle,
		left:      footSide{side: core.SideLeft},
		right:     footSide{side: core.SideRight},
	}
}

func (m *FootModule) Name() string         { return "foot" }
func (m *FootModule) Enabled() bool        { return m.cfg.Enabled }
func (m *FootModule) Sensitivity() float64 { return m.cfg.Sensitivity }
func (m *FootModule) Calibrated() bool     { return m.calibrated }

// State returns the walk detector's current state.
func (m *FootModule) State() WalkState { return m.walkState }

// SetBodyID tags emitted step events with the owning body.
func (m *FootModule) SetBodyID(id int) { m.bodyID = id }

func (m *FootModule) RequiredJointNames() []string {
	names := []string{m.joints.LeftFoot, m.joints.RightFoot}
	if m.cfg.Walk.Enabled || m.cfg.Gait.Enabled {
		names = append(names, m.joints.WalkReference)
	}
	return names
}

func (m *FootModule) HasRequiredJoints(snap core.JointSnapshot) bool {
	return snap.HasAll(m.RequiredJointNames()...)
}

// Calibrate stores neutral foot geometry and the ground height.
func (m *FootModule) Calibrate(snap core.JointSnapshot, now time.Time) error {
	if missing := snap.Missing(m.RequiredJointNames()...); len(missing) > 0 {
		return missingErr(m.Name(), missing)
	}

	left, _ := snap.Get(m.joints.LeftFoot)
	right, _ := snap.Get(m.joints.RightFoot)

	m.neutralLeft = left.Position
	m.neutralRight = right.Position
	m.neutralDistance = kinematics.PlanarDistance(left.Position, right.Position)
	m.groundHeight = (left.Position.Y() + right.Position.Y()) / 2

	m.footRaised = false
	m.footLowered = false
	m.abductionLeft = false
	m.abductionRight = false
	m.leftPosition = mgl64.Vec3{}
	m.rightPosition = mgl64.Vec3{}

	m.walkState = WalkIdle
	m.speedWindow = m.speedWindow[:0]
	m.speed = 0
	m.walkStarted = false
	m.walkStopped = false

	m.left = footSide{side: core.SideLeft}
	m.right = footSide{side: core.SideRight}
	m.stepSamples = m.stepSamples[:0]
	m.cadence = 0
	m.asymmetry = 0
	m.consistency = 0
	m.eventHistory = m.eventHistory[:0]
	m.pendingEvents = m.pendingEvents[:0]

	m.calibrated = true
	m.logger.Debug("calibrated",
		"groundHeight", m.groundHeight,
		"neutralDistance", m.neutralDistance)
	return nil
}

// Update advances the foot, walk and gait detectors for this tick.
func (m *FootModule) Update(snap core.JointSnapshot, now time.Time, out *core.OutputRecord) {
	if !m.cfg.Enabled || !m.calibrated {
		return
	}

	// Pulses live for exactly one tick.
	m.footLowered = false
	m.walkStarted = false
	m.walkStopped = false

	left, okL := snap.Get(m.joints.LeftFoot)
	right, okR := snap.Get(m.joints.RightFoot)
	if !okL || !okR {
		m.emit(out)
		return
	}

	leftHeight := left.Position.Y() - m.groundHeight
	rightHeight := right.Position.Y() - m.groundHeight

	m.updateRaise(leftHeight, rightHeight)
	m.updateAbduction(left.Position, right.Position, leftHeight, rightHeight)
	m.updatePositions(left.Position, right.Position)

	if m.cfg.Walk.Enabled || m.cfg.Gait.Enabled {
		if ref, ok := snap.Get(m.joints.WalkReference); ok {
			m.updateSpeed(ref.Position, now)
			if m.cfg.Walk.Enabled {
				m.updateWalkState(now)
			}
		}
	}
	if m.cfg.Gait.Enabled {
		m.updateGait(&m.left, left.Position, leftHeight, now)
		m.updateGait(&m.right, right.Position, rightHeight, now)
	}

	m.emit(out)
}

func (m *FootModule) updateRaise(leftHeight, rightHeight float64) {
	raised := math.Abs(leftHeight-rightHeight) > m.cfg.FootRaiseThreshold
	if m.footRaised && !raised {
		m.footLowered = true
	}
	m.footRaised = raised
}

func (m *FootModule) updateAbduction(left, right mgl64.Vec3, leftHeight, rightHeight float64) {
	spread := kinematics.PlanarDistance(left, right) - m.neutralDistance
	abducted := spread > m.cfg.MinAbductionDistance
	m.abductionLeft = abducted && leftHeight > m.cfg.MinLiftHeight
	m.abductionRight = abducted && rightHeight > m.cfg.MinLiftHeight
}

func (m *FootModule) updatePositions(left, right mgl64.Vec3) {
	if m.cfg.RelativeTracking {
		m.leftPosition = kinematics.Scale(left.Sub(m.neutralLeft), m.cfg.Sensitivity)
		m.rightPosition = kinematics.Scale(right.Sub(m.neutralRight), m.cfg.Sensitivity)
	} else {
		m.leftPosition = left
		m.rightPosition = right
	}
}

// updateSpeed maintains the reference-joint sample window and refreshes
// the planar speed estimate spanning it.
func (m *FootModule) updateSpeed(pos mgl64.Vec3, now time.Time) {
	m.speedWindow = append(m.speedWindow, speedSample{pos: pos, time: now})
	if len(m.speedWindow) > speedWindowSize {
		m.speedWindow = m.speedWindow[1:]
	}
	if len(m.speedWindow) < 2 {
		m.speed = 0
		return
	}

	first := m.speedWindow[0]
	last := m.speedWindow[len(m.speedWindow)-1]
	span := last.time.Sub(first.time).Seconds()
	if span <= 0 {
		m.speed = 0
		return
	}
	m.speed = kinematics.PlanarDistance(first.pos, last.pos) / span
}

func (m *FootModule) updateWalkState(now time.Time) {
	switch m.walkState {
	case WalkIdle:
		if m.speed > m.cfg.Walk.SpeedThreshold {
			m.walkState = WalkInitiating
			m.initiatedAt = now
		}

	case WalkInitiating:
		if m.speed < m.cfg.Walk.StopThreshold {
			// False start, discarded without a pulse.
			m.walkState = WalkIdle
		} else if now.Sub(m.initiatedAt) >= m.cfg.Walk.MinimumDuration {
			m.walkState = WalkWalking
			m.walkStarted = true
			m.logger.Debug("walk started", "speed", m.speed)
		}

	case WalkWalking:
		if m.speed < m.cfg.Walk.StopThreshold {
			m.walkState = WalkStopping
			m.stoppingAt = now
		}

	case WalkStopping:
		if m.speed > m.cfg.Walk.SpeedThreshold {
			// Resume mid-stride, no re-initiation and no pulse.
			m.walkState = WalkWalking
		} else if now.Sub(m.stoppingAt) >= stoppingGracePeriod {
			m.walkState = WalkIdle
			m.walkStopped = true
			m.logger.Debug("walk stopped")
		}
	}
}

// updateGait runs the contact edge detector for one foot and feeds the
// step statistics on accepted foot-down intervals.
func (m *FootModule) updateGait(foot *footSide, pos mgl64.Vec3, height float64, now time.Time) {
	contact := height < m.cfg.MinLiftHeight/2
	if contact == foot.inContact {
		return
	}
	foot.inContact = contact

	phase := core.FootUp
	if contact {
		phase = core.FootDown
	}
	m.recordStepEvent(core.StepEvent{
		BodyID:   m.bodyID,
		Side:     foot.side,
		Phase:    phase,
		Time:     now,
		Position: pos,
	})

	if !contact {
		return
	}

	if !foot.lastContact.IsZero() {
		interval := now.Sub(foot.lastContact)
		if interval >= m.cfg.Gait.MinReasonableStepTime && interval <= m.cfg.Gait.MaxReasonableStepTime {
			foot.stepTime = interval.Seconds()
			m.acceptStepSample(foot.stepTime)
			m.updateStepStatistics()
		}
	}
	foot.lastContact = now
}

func (m *FootModule) recordStepEvent(ev core.StepEvent) {
	m.eventHistory = append(m.eventHistory, ev)
	if size := m.cfg.Gait.EventHistorySize; size > 0 && len(m.eventHistory) > size {
		m.eventHistory = m.eventHistory[len(m.eventHistory)-size:]
	}
	m.pendingEvents = append(m.pendingEvents, ev)
}

func (m *FootModule) acceptStepSample(seconds float64) {
	m.stepSamples = append(m.stepSamples, seconds)
	if len(m.stepSamples) > maxStepSamples {
		m.stepSamples = m.stepSamples[len(m.stepSamples)-maxStepSamples:]
	}
}

func (m *FootModule) updateStepStatistics() {
	l, r := m.left.stepTime, m.right.stepTime
	if l > 0 && r > 0 {
		avg := (l + r) / 2
		m.cadence = 60 / avg
		m.asymmetry = math.Abs(l-r) / avg
	}

	if len(m.stepSamples) >= m.cfg.Gait.MinimumCycles*2 {
		mean, std := stat.MeanStdDev(m.stepSamples, nil)
		if mean > 0 {
			m.consistency = kinematics.Clamp01(1 - std/mean)
		}
	}
}

// StepEvents returns the bounded foot-down/foot-up history.
func (m *FootModule) StepEvents() []core.StepEvent {
	return m.eventHistory
}

// TakeStepEvents drains the step events generated since the last call.
func (m *FootModule) TakeStepEvents() []core.StepEvent {
	if len(m.pendingEvents) == 0 {
		return nil
	}
	events := m.pendingEvents
	m.pendingEvents = nil
	return events
}

func (m *FootModule) emit(out *core.OutputRecord) {
	out.FootRaised = core.Bool(m.footRaised)
	out.FootLowered = core.Bool(m.footLowered)
	out.HipAbductionLeft = core.Bool(m.abductionLeft)
	out.HipAbductionRight = core.Bool(m.abductionRight)
	out.LeftFootPosition = m.leftPosition
	out.RightFootPosition = m.rightPosition

	out.IsWalking = core.Bool(m.walkState == WalkWalking)
	out.WalkStarted = core.Bool(m.walkStarted)
	out.WalkStopped = core.Bool(m.walkStopped)
	out.WalkSpeed = m.speed

	out.Cadence = m.cadence
	out.StepAsymmetry = m.asymmetry
	out.GaitConsistency = m.consistency
}
