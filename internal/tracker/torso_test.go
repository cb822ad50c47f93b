package tracker

import (
	"log/slog"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func neutralTorsoSnapshot(joints config.JointNames) core.JointSnapshot {
	return core.JointSnapshot{
		joints.Pelvis: {Position: mgl64.Vec3{0, 1.0, 0}},
		joints.Spine:  {Position: mgl64.Vec3{0, 1.5, 0.1}},
	}
}

func newCalibratedTorso(t *testing.T) (*TorsoModule, config.JointNames) {
	t.Helper()
	t.Cleanup(viper.Reset)

	cfg := config.GetTrackingConfig()
	m := NewTorsoModule(cfg.Torso, cfg.Joints, testLogger())
	require.NoError(t, m.Calibrate(neutralTorsoSnapshot(cfg.Joints), time.Now()))
	return m, cfg.Joints
}

// shiftedSnapshot moves only the spine laterally by dx, keeping the
// pelvis planted at its neutral position.
func shiftedSnapshot(joints config.JointNames, dx float64) core.JointSnapshot {
	return core.JointSnapshot{
		joints.Pelvis: {Position: mgl64.Vec3{0, 1.0, 0}},
		joints.Spine:  {Position: mgl64.Vec3{dx, 1.5, 0.1}},
	}
}

func TestTorso_UpdateBeforeCalibrateIsNoOp(t *testing.T) {
	t.Cleanup(viper.Reset)

	cfg := config.GetTrackingConfig()
	m := NewTorsoModule(cfg.Torso, cfg.Joints, testLogger())

	var out core.OutputRecord
	m.Update(neutralTorsoSnapshot(cfg.Joints), time.Now(), &out)

	assert.False(t, m.Calibrated())
	assert.Equal(t, core.OutputRecord{}, out)
}

func TestTorso_CalibrateMissingJoint(t *testing.T) {
	t.Cleanup(viper.Reset)

	cfg := config.GetTrackingConfig()
	m := NewTorsoModule(cfg.Torso, cfg.Joints, testLogger())

	snap := core.JointSnapshot{
		cfg.Joints.Pelvis: {Position: mgl64.Vec3{0, 1.0, 0}},
	}
	err := m.Calibrate(snap, time.Now())
	require.ErrorIs(t, err, ErrMissingJoints)
	assert.False(t, m.Calibrated())
}

func TestTorso_NeutralSnapshotYieldsZeroOutputs(t *testing.T) {
	m, joints := newCalibratedTorso(t)

	var out core.OutputRecord
	m.Update(neutralTorsoSnapshot(joints), time.Now(), &out)

	assert.Zero(t, out.WeightShiftX)
	assert.Zero(t, out.WeightShiftLeft)
	assert.Zero(t, out.WeightShiftRight)
	assert.Zero(t, out.BentOver)
	assert.Equal(t, 1.0, out.Upright)
	assert.Equal(t, mgl64.Vec3{}, out.TorsoMovement)
}

func TestTorso_ShiftAmountScalesAndClamps(t *testing.T) {
	m, joints := newCalibratedTorso(t)

	var out core.OutputRecord
	// Half the threshold displacement gives half amplitude.
	m.Update(shiftedSnapshot(joints, 0.075), time.Now(), &out)
	assert.InDelta(t, 0.5, out.WeightShiftX, 1e-9)

	// Far beyond the threshold clamps at full scale.
	m.Update(shiftedSnapshot(joints, 1.0), time.Now(), &out)
	assert.Equal(t, 1.0, out.WeightShiftX)

	m.Update(shiftedSnapshot(joints, -1.0), time.Now(), &out)
	assert.Equal(t, -1.0, out.WeightShiftX)
}

func TestTorso_HysteresisSequence(t *testing.T) {
	m, joints := newCalibratedTorso(t)

	var out core.OutputRecord

	// Enter the right shift past the neutral zone edge.
	m.Update(shiftedSnapshot(joints, 0.12), time.Now(), &out)
	assert.Equal(t, 1.0, out.WeightShiftRight)
	assert.Zero(t, out.WeightShiftLeft)

	// Easing back but still outside the zone keeps the state latched.
	m.Update(shiftedSnapshot(joints, 0.012), time.Now(), &out)
	assert.Greater(t, out.WeightShiftX, m.cfg.NeutralZoneWidth)
	assert.Equal(t, 1.0, out.WeightShiftRight)

	// Returning inside the zone releases it.
	m.Update(shiftedSnapshot(joints, 0.004), time.Now(), &out)
	assert.Zero(t, out.WeightShiftRight)

	// And a shift the other way latches left.
	m.Update(shiftedSnapshot(joints, -0.12), time.Now(), &out)
	assert.Equal(t, 1.0, out.WeightShiftLeft)
	assert.Zero(t, out.WeightShiftRight)
}

func TestTorso_WholeBodyMovementSuppressesShift(t *testing.T) {
	m, joints := newCalibratedTorso(t)

	// Both joints translate by the same lateral amount: a sidestep, not
	// a weight shift. The ratio is 1.0, above the 0.8 threshold.
	snap := core.JointSnapshot{
		joints.Pelvis: {Position: mgl64.Vec3{0.2, 1.0, 0.1}},
		joints.Spine:  {Position: mgl64.Vec3{0.2, 1.5, 0.2}},
	}

	var out core.OutputRecord
	m.Update(snap, time.Now(), &out)

	assert.Zero(t, out.WeightShiftX)
	assert.Zero(t, out.WeightShiftLeft)
	assert.Zero(t, out.WeightShiftRight)
}

func TestTorso_BentOverFromPelvisPitch(t *testing.T) {
	m, joints := newCalibratedTorso(t)

	snap := neutralTorsoSnapshot(joints)
	pelvis := snap[joints.Pelvis]
	pelvis.Rotation = mgl64.Vec3{45, 0, 0}
	snap[joints.Pelvis] = pelvis

	var out core.OutputRecord
	m.Update(snap, time.Now(), &out)
	assert.Equal(t, 1.0, out.BentOver)
	assert.Zero(t, out.Upright)

	// Pitch wrap: 350 degrees is -10 relative to 0, inside the threshold.
	pelvis.Rotation = mgl64.Vec3{350, 0, 0}
	snap[joints.Pelvis] = pelvis
	m.Update(snap, time.Now(), &out)
	assert.Zero(t, out.BentOver)
	assert.Equal(t, 1.0, out.Upright)
}

func TestTorso_MissingJointHoldsState(t *testing.T) {
	m, joints := newCalibratedTorso(t)

	var out core.OutputRecord
	m.Update(shiftedSnapshot(joints, 0.12), time.Now(), &out)
	require.Equal(t, 1.0, out.WeightShiftRight)
	prevX := out.WeightShiftX

	// Spine drops out for one tick: the latched state holds verbatim.
	gap := core.JointSnapshot{
		joints.Pelvis: {Position: mgl64.Vec3{0, 1.0, 0}},
	}
	out = core.OutputRecord{}
	m.Update(gap, time.Now(), &out)
	assert.Equal(t, 1.0, out.WeightShiftRight)
	assert.Equal(t, prevX, out.WeightShiftX)
}

func TestTorso_RecalibrateClearsRuntimeState(t *testing.T) {
	m, joints := newCalibratedTorso(t)

	var out core.OutputRecord
	m.Update(shiftedSnapshot(joints, 0.12), time.Now(), &out)
	require.Equal(t, 1.0, out.WeightShiftRight)

	// Recalibrating at the shifted pose makes it the new neutral.
	require.NoError(t, m.Calibrate(shiftedSnapshot(joints, 0.12), time.Now()))

	out = core.OutputRecord{}
	m.Update(shiftedSnapshot(joints, 0.12), time.Now(), &out)
	assert.Zero(t, out.WeightShiftX)
	assert.Zero(t, out.WeightShiftRight)
}
