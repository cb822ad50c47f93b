package tracker

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/pkg/core"
)

// balanceSnapshot places the trunk at the given lateral offset over a
// symmetric stance. Toe bases sit 0.3 apart on the ground.
func balanceSnapshot(joints config.JointNames, trunkX float64) core.JointSnapshot {
	return core.JointSnapshot{
		joints.Trunk:        {Position: mgl64.Vec3{trunkX, 1.2, 0}},
		joints.LeftForeArm:  {Position: mgl64.Vec3{trunkX - 0.25, 1.0, 0}},
		joints.RightForeArm: {Position: mgl64.Vec3{trunkX + 0.25, 1.0, 0}},
		joints.LeftLeg:      {Position: mgl64.Vec3{-0.1, 0.4, 0}},
		joints.RightLeg:     {Position: mgl64.Vec3{0.1, 0.4, 0}},
		joints.LeftToeBase:  {Position: mgl64.Vec3{-0.15, 0, 0}},
		joints.RightToeBase: {Position: mgl64.Vec3{0.15, 0, 0}},
	}
}

func newCalibratedBalance(t *testing.T, useBase bool) (*BalanceModule, config.JointNames, time.Time) {
	t.Helper()
	t.Cleanup(viper.Reset)

	cfg := config.GetTrackingConfig()
	cfg.Balance.UseBaseOfSupport = useBase
	m := NewBalanceModule(cfg.Balance, cfg.Joints, testLogger())

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.Calibrate(balanceSnapshot(cfg.Joints, 0), start))
	return m, cfg.Joints, start
}

func TestBalance_UpdateBeforeCalibrateIsNoOp(t *testing.T) {
	t.Cleanup(viper.Reset)

	cfg := config.GetTrackingConfig()
	m := NewBalanceModule(cfg.Balance, cfg.Joints, testLogger())

	var out core.OutputRecord
	m.Update(balanceSnapshot(cfg.Joints, 0), time.Now(), &out)
	assert.Equal(t, core.OutputRecord{}, out)
}

func TestBalance_IdenticalSamplesAreStill(t *testing.T) {
	m, joints, now := newCalibratedBalance(t, true)

	var out core.OutputRecord
	snap := balanceSnapshot(joints, 0)

	m.Update(snap, now, &out)
	m.Update(snap, now.Add(50*time.Millisecond), &out)

	// Two identical consecutive samples: velocity exactly zero and the
	// balanced state never edges.
	assert.Equal(t, 0.0, out.CoMVelocity)
	assert.Equal(t, 1.0, out.IsBalanced)
	assert.Zero(t, out.BalanceLost)
	assert.Zero(t, out.BalanceRegained)
	assert.Nil(t, m.TakeBalanceEvents())
}

func TestBalance_CenterOfMassWeighting(t *testing.T) {
	m, joints, now := newCalibratedBalance(t, true)

	// Shift only the trunk: the CoM moves by the trunk's share of the
	// total tracked mass (0.497 / 0.622).
	var out core.OutputRecord
	snap := balanceSnapshot(joints, 0)
	trunk := snap[joints.Trunk]
	trunk.Position = mgl64.Vec3{0.1, 1.2, 0}
	snap[joints.Trunk] = trunk
	// Keep the forearms where calibration saw them.
	snap[joints.LeftForeArm] = core.JointPose{Position: mgl64.Vec3{-0.25, 1.0, 0}}
	snap[joints.RightForeArm] = core.JointPose{Position: mgl64.Vec3{0.25, 1.0, 0}}

	m.Update(snap, now.Add(50*time.Millisecond), &out)
	assert.InDelta(t, 0.1*0.497/0.622, out.CenterOfMass.X(), 1e-9)
}

func TestBalance_SwayAgainstBaseOfSupport(t *testing.T) {
	m, joints, now := newCalibratedBalance(t, true)

	// Neutral stance: CoM sits over the base center, no sway.
	var out core.OutputRecord
	m.Update(balanceSnapshot(joints, 0), now, &out)
	assert.InDelta(t, 0.0, out.SwayLateral, 1e-9)
	assert.Zero(t, out.Swaying)

	// Lean the whole upper body far to the right. Base half-width is
	// 0.15, so a lateral CoM offset past 0.09 counts as swaying.
	out = core.OutputRecord{}
	m.Update(balanceSnapshot(joints, 0.2), now.Add(50*time.Millisecond), &out)
	assert.Greater(t, out.SwayLateral, 0.09)
	assert.Equal(t, 1.0, out.Swaying)
}

func TestBalance_LostAndRegainedPulses(t *testing.T) {
	m, joints, now := newCalibratedBalance(t, true)

	var out core.OutputRecord
	m.Update(balanceSnapshot(joints, 0), now, &out)
	require.Equal(t, 1.0, out.IsBalanced)

	// A hard lateral lurch: the CoM leaves the base and moves fast.
	now = now.Add(50 * time.Millisecond)
	out = core.OutputRecord{}
	m.Update(balanceSnapshot(joints, 0.3), now, &out)
	assert.Zero(t, out.IsBalanced)
	assert.Equal(t, 1.0, out.BalanceLost)
	assert.Zero(t, out.BalanceRegained)

	// Staying out of balance does not pulse again.
	now = now.Add(50 * time.Millisecond)
	out = core.OutputRecord{}
	m.Update(balanceSnapshot(joints, 0.3), now, &out)
	assert.Zero(t, out.BalanceLost)

	// Settle back over the base: one regained pulse.
	now = now.Add(50 * time.Millisecond)
	m.Update(balanceSnapshot(joints, 0.01), now, &out)
	now = now.Add(50 * time.Millisecond)
	out = core.OutputRecord{}
	m.Update(balanceSnapshot(joints, 0), now, &out)
	assert.Equal(t, 1.0, out.IsBalanced)

	events := m.TakeBalanceEvents()
	require.Len(t, events, 2)
	assert.Equal(t, core.BalanceLost, events[0].Kind)
	assert.Equal(t, core.BalanceRegained, events[1].Kind)
	assert.Nil(t, m.TakeBalanceEvents())
}

func TestBalance_SimpleModeUsesFlatThreshold(t *testing.T) {
	m, joints, now := newCalibratedBalance(t, false)

	var out core.OutputRecord
	m.Update(balanceSnapshot(joints, 0), now, &out)
	assert.Zero(t, out.Swaying)

	// A 0.17 lateral CoM drift is past the flat 0.1 sway threshold.
	out = core.OutputRecord{}
	m.Update(balanceSnapshot(joints, 0.2), now.Add(50*time.Millisecond), &out)
	assert.Greater(t, out.SwayMagnitude, 0.1)
	assert.Equal(t, 1.0, out.Swaying)
}

func TestBalance_SimpleModeSkipsToeJoints(t *testing.T) {
	t.Cleanup(viper.Reset)

	cfg := config.GetTrackingConfig()
	cfg.Balance.UseBaseOfSupport = false
	m := NewBalanceModule(cfg.Balance, cfg.Joints, testLogger())

	snap := balanceSnapshot(cfg.Joints, 0)
	delete(snap, cfg.Joints.LeftToeBase)
	delete(snap, cfg.Joints.RightToeBase)

	assert.NoError(t, m.Calibrate(snap, time.Now()))
}

func TestBalance_HistoryBounded(t *testing.T) {
	m, joints, now := newCalibratedBalance(t, true)

	var out core.OutputRecord
	for i := 0; i < m.cfg.HistorySize+40; i++ {
		now = now.Add(50 * time.Millisecond)
		m.Update(balanceSnapshot(joints, 0), now, &out)
	}
	assert.Len(t, m.history, m.cfg.HistorySize)
}

func TestBalance_MissingJointHoldsState(t *testing.T) {
	m, joints, now := newCalibratedBalance(t, true)

	var out core.OutputRecord
	m.Update(balanceSnapshot(joints, 0.3), now, &out)
	require.Zero(t, out.IsBalanced)

	gap := balanceSnapshot(joints, 0)
	delete(gap, joints.Trunk)

	out = core.OutputRecord{}
	m.Update(gap, now.Add(50*time.Millisecond), &out)
	assert.Zero(t, out.IsBalanced)
	assert.Zero(t, out.BalanceLost)
	assert.Zero(t, out.BalanceRegained)
}
