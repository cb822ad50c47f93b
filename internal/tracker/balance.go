package tracker

import (
	"log/slog"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/internal/kinematics"
	"github.com/kinetrack/extension/pkg/core"
)

// Segment mass fractions from anthropometric tables. Fixed constants,
// not configuration.
const (
	trunkMassFraction    = 0.497
	forearmMassFraction  = 0.016
	lowerLegMassFraction = 0.0465
)

// swayBaseFraction is the fraction of the base-of-support half-width at
// which the sway magnitude counts as swaying.
const swayBaseFraction = 0.6

// balancedBaseFraction is the fraction of the base width the center of
// mass may drift from the base center while still counting as balanced.
const balancedBaseFraction = 0.4

type comSample struct {
	pos  mgl64.Vec3
	time time.Time
}

// BalanceModule estimates a weighted center of mass and derives sway
// and stability signals, optionally against a dynamic base of support
// spanned by the toe-base joints.
type BalanceModule struct {
	cfg    config.BalanceConfig
	joints config.JointNames
	logger *slog.Logger

	calibrated   bool
	neutralCoM   mgl64.Vec3
	groundHeight float64

	history  []comSample
	lastCoM  comSample
	haveLast bool

	swayLateral   float64
	swayAP        float64
	swayMagnitude float64
	swaying       bool
	velocity      float64
	balanced      bool
	balanceLost   bool // one-tick pulse
	balanceGained bool // one-tick pulse
	relativeCoM   mgl64.Vec3

	pendingEvents []core.BalanceEvent
	bodyID        int
}

// NewBalanceModule creates a balance module from configuration.
func NewBalanceModule(cfg config.BalanceConfig, joints config.JointNames, logger *slog.Logger) *BalanceModule {
	return &BalanceModule{
		cfg:    cfg,
		joints: joints,
		logger: logger.With("module", "balance"),
	}
}

func (m *BalanceModule) Name() string         { return "balance" }
func (m *BalanceModule) Enabled() bool        { return m.cfg.Enabled }
func (m *BalanceModule) Sensitivity() float64 { return m.cfg.Sensitivity }
func (m *BalanceModule) Calibrated() bool     { return m.calibrated }

// SetBodyID tags emitted balance events with the owning body.
func (m *BalanceModule) SetBodyID(id int) { m.bodyID = id }

func (m *BalanceModule) RequiredJointNames() []string {
	names := []string{
		m.joints.Trunk,
		m.joints.LeftForeArm, m.joints.RightForeArm,
		m.joints.LeftLeg, m.joints.RightLeg,
	}
	if m.cfg.UseBaseOfSupport {
		names = append(names, m.joints.LeftToeBase, m.joints.RightToeBase)
	}
	return names
}

func (m *BalanceModule) HasRequiredJoints(snap core.JointSnapshot) bool {
	return snap.HasAll(m.RequiredJointNames()...)
}

// Calibrate stores the neutral center of mass and ground height.
func (m *BalanceModule) Calibrate(snap core.JointSnapshot, now time.Time) error {
	if missing := snap.Missing(m.RequiredJointNames()...); len(missing) > 0 {
		return missingErr(m.Name(), missing)
	}

	m.neutralCoM = m.centerOfMass(snap)

	if m.cfg.UseBaseOfSupport {
		lt, _ := snap.Get(m.joints.LeftToeBase)
		rt, _ := snap.Get(m.joints.RightToeBase)
		m.groundHeight = (lt.Position.Y() + rt.Position.Y()) / 2
	} else {
		ll, _ := snap.Get(m.joints.LeftLeg)
		rl, _ := snap.Get(m.joints.RightLeg)
		m.groundHeight = (ll.Position.Y() + rl.Position.Y()) / 2
	}

	m.history = m.history[:0]
	m.haveLast = false
	m.swayLateral = 0
	m.swayAP = 0
	m.swayMagnitude = 0
	m.swaying = false
	m.velocity = 0
	m.balanced = true
	m.balanceLost = false
	m.balanceGained = false
	m.relativeCoM = mgl64.Vec3{}
	m.pendingEvents = m.pendingEvents[:0]

	m.calibrated = true
	m.logger.Debug("calibrated",
		"neutralCoM", m.neutralCoM,
		"groundHeight", m.groundHeight)
	return nil
}

// centerOfMass is the mass-weighted average of the tracked segments.
func (m *BalanceModule) centerOfMass(snap core.JointSnapshot) mgl64.Vec3 {
	trunk, _ := snap.Get(m.joints.Trunk)
	lf, _ := snap.Get(m.joints.LeftForeArm)
	rf, _ := snap.Get(m.joints.RightForeArm)
	ll, _ := snap.Get(m.joints.LeftLeg)
	rl, _ := snap.Get(m.joints.RightLeg)

	total := trunkMassFraction + 2*forearmMassFraction + 2*lowerLegMassFraction
	sum := kinematics.Scale(trunk.Position, trunkMassFraction)
	sum = sum.Add(kinematics.Scale(lf.Position.Add(rf.Position), forearmMassFraction))
	sum = sum.Add(kinematics.Scale(ll.Position.Add(rl.Position), lowerLegMassFraction))
	return kinematics.Scale(sum, 1/total)
}

// baseOfSupport builds the ground-plane segment between the toe bases
// and returns its center and width.
func baseOfSupport(left, right mgl64.Vec3) (center geom.XY, width float64) {
	seq := geom.NewSequence([]float64{
		left.X(), left.Z(),
		right.X(), right.Z(),
	}, geom.DimXY)
	ls := geom.NewLineString(seq)

	if pt, ok := ls.Centroid().XY(); ok {
		center = pt
	}
	return center, ls.Length()
}

// Update derives the balance signals for this tick.
func (m *BalanceModule) Update(snap core.JointSnapshot, now time.Time, out *core.OutputRecord) {
	if !m.cfg.Enabled || !m.calibrated {
		return
	}

	m.balanceLost = false
	m.balanceGained = false

	if !m.HasRequiredJoints(snap) {
		m.emit(out)
		return
	}

	com := m.centerOfMass(snap)
	m.relativeCoM = kinematics.Scale(com.Sub(m.neutralCoM), m.cfg.Sensitivity)

	m.history = append(m.history, comSample{pos: com, time: now})
	if size := m.cfg.HistorySize; size > 0 && len(m.history) > size {
		m.history = m.history[len(m.history)-size:]
	}

	// Velocity uses only the immediately preceding sample.
	m.velocity = 0
	if m.haveLast {
		dt := now.Sub(m.lastCoM.time).Seconds()
		if dt > 0 {
			m.velocity = com.Sub(m.lastCoM.pos).Len() / dt
		}
	}
	m.lastCoM = comSample{pos: com, time: now}
	m.haveLast = true

	inBase := true
	if m.cfg.UseBaseOfSupport {
		lt, _ := snap.Get(m.joints.LeftToeBase)
		rt, _ := snap.Get(m.joints.RightToeBase)
		center, width := baseOfSupport(lt.Position, rt.Position)

		m.swayLateral = com.X() - center.X
		m.swayAP = com.Z() - center.Y
		m.swayMagnitude = math.Hypot(m.swayLateral, m.swayAP)
		if halfWidth := width / 2; halfWidth > 0 {
			m.swaying = m.swayMagnitude/halfWidth > swayBaseFraction
		} else {
			m.swaying = false
		}
		inBase = m.swayMagnitude < balancedBaseFraction*width
	} else {
		m.swayLateral = com.X() - m.neutralCoM.X()
		m.swayAP = com.Z() - m.neutralCoM.Z()
		m.swayMagnitude = math.Hypot(m.swayLateral, m.swayAP)
		m.swaying = m.swayMagnitude > m.cfg.SwayThreshold
	}

	balanced := m.velocity < m.cfg.StabilityThreshold && inBase
	if balanced != m.balanced {
		if balanced {
			m.balanceGained = true
			m.record(core.BalanceRegained, now)
		} else {
			m.balanceLost = true
			m.record(core.BalanceLost, now)
		}
		m.balanced = balanced
	}

	m.emit(out)
}

func (m *BalanceModule) record(kind core.BalanceEventKind, now time.Time) {
	m.logger.Debug("balance edge", "kind", string(kind),
		"sway", m.swayMagnitude, "velocity", m.velocity)
	m.pendingEvents = append(m.pendingEvents, core.BalanceEvent{
		BodyID:        m.bodyID,
		Kind:          kind,
		Time:          now,
		SwayMagnitude: m.swayMagnitude,
		CoMVelocity:   m.velocity,
	})
}

// TakeBalanceEvents drains the balance edge events generated since the
// last call.
func (m *BalanceModule) TakeBalanceEvents() []core.BalanceEvent {
	if len(m.pendingEvents) == 0 {
		return nil
	}
	events := m.pendingEvents
	m.pendingEvents = nil
	return events
}

func (m *BalanceModule) emit(out *core.OutputRecord) {
	out.CenterOfMass = m.relativeCoM
	out.SwayLateral = m.swayLateral
	out.SwayAnteriorPosterior = m.swayAP
	out.SwayMagnitude = m.swayMagnitude
	out.Swaying = core.Bool(m.swaying)
	out.CoMVelocity = m.velocity
	out.IsBalanced = core.Bool(m.balanced)
	out.BalanceLost = core.Bool(m.balanceLost)
	out.BalanceRegained = core.Bool(m.balanceGained)
}
