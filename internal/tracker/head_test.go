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

func headSnapshot(joints config.JointNames, pitch, yaw float64) core.JointSnapshot {
	return core.JointSnapshot{
		joints.Head: {
			Position: mgl64.Vec3{0, 1.7, 0},
			Rotation: mgl64.Vec3{pitch, yaw, 0},
		},
		joints.Neck: {
			Position: mgl64.Vec3{0, 1.5, 0},
			Rotation: mgl64.Vec3{0, 0, 0},
		},
	}
}

func newCalibratedHead(t *testing.T, mode config.HeadMode) (*HeadModule, config.JointNames, time.Time) {
	t.Helper()
	t.Cleanup(viper.Reset)

	cfg := config.GetTrackingConfig()
	cfg.Head.Mode = mode
	m := NewHeadModule(cfg.Head, cfg.Joints, testLogger())

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.Calibrate(headSnapshot(cfg.Joints, 0, 0), start))
	return m, cfg.Joints, start
}

func TestHead_UpdateBeforeCalibrateIsNoOp(t *testing.T) {
	t.Cleanup(viper.Reset)

	cfg := config.GetTrackingConfig()
	m := NewHeadModule(cfg.Head, cfg.Joints, testLogger())

	var out core.OutputRecord
	m.Update(headSnapshot(cfg.Joints, 20, 0), time.Now(), &out)
	assert.Equal(t, core.OutputRecord{}, out)
}

func TestHead_GestureNodLifecycle(t *testing.T) {
	m, joints, now := newCalibratedHead(t, config.HeadModeGesture)

	var out core.OutputRecord

	// Pitch past the nod threshold starts the gesture.
	m.Update(headSnapshot(joints, 20, 0), now, &out)
	assert.Equal(t, 1.0, out.HeadNod)
	assert.Zero(t, out.HeadShake)

	// Still in the active band: the gesture continues.
	now = now.Add(100 * time.Millisecond)
	m.Update(headSnapshot(joints, 18, 0), now, &out)
	assert.Equal(t, 1.0, out.HeadNod)

	// Back within the neutral return threshold: clean completion.
	now = now.Add(100 * time.Millisecond)
	m.Update(headSnapshot(joints, 2, 0), now, &out)
	assert.Zero(t, out.HeadNod)
}

func TestHead_GesturePerAxisTimeout(t *testing.T) {
	m, joints, now := newCalibratedHead(t, config.HeadModeGesture)

	var out core.OutputRecord
	m.Update(headSnapshot(joints, 20, 0), now, &out)
	require.Equal(t, 1.0, out.HeadNod)

	// Hovering between neutral and the active band keeps the gesture
	// alive only until nodSpeed elapses.
	now = now.Add(300 * time.Millisecond)
	m.Update(headSnapshot(joints, 8, 0), now, &out)
	assert.Equal(t, 1.0, out.HeadNod)

	now = now.Add(400 * time.Millisecond)
	m.Update(headSnapshot(joints, 8, 0), now, &out)
	assert.Zero(t, out.HeadNod)
}

func TestHead_GestureGlobalTimeout(t *testing.T) {
	m, joints, now := newCalibratedHead(t, config.HeadModeGesture)

	var out core.OutputRecord
	m.Update(headSnapshot(joints, 20, 0), now, &out)
	require.Equal(t, 1.0, out.HeadNod)

	// Staying pitched deep in the active band outlasts the global
	// gesture timeout.
	now = now.Add(2500 * time.Millisecond)
	m.Update(headSnapshot(joints, 20, 0), now, &out)
	assert.Zero(t, out.HeadNod)
}

func TestHead_GestureShake(t *testing.T) {
	m, joints, now := newCalibratedHead(t, config.HeadModeGesture)

	var out core.OutputRecord
	m.Update(headSnapshot(joints, 0, 25), now, &out)
	assert.Equal(t, 1.0, out.HeadShake)
	assert.Zero(t, out.HeadNod)

	now = now.Add(200 * time.Millisecond)
	m.Update(headSnapshot(joints, 0, 1), now, &out)
	assert.Zero(t, out.HeadShake)
}

func TestHead_GestureRotationWraps(t *testing.T) {
	m, joints, now := newCalibratedHead(t, config.HeadModeGesture)

	// 350 degrees is -10 relative to the zero neutral: no nod and a
	// negative relative pitch output.
	var out core.OutputRecord
	m.Update(headSnapshot(joints, 350, 0), now, &out)
	assert.Zero(t, out.HeadNod)
	assert.InDelta(t, -10, out.HeadRotation.X(), 1e-9)
}

func TestHead_DirectionalLevels(t *testing.T) {
	m, joints, now := newCalibratedHead(t, config.HeadModeDirectional)

	var out core.OutputRecord

	// Down and left at once: directional states are independent levels.
	m.Update(headSnapshot(joints, 15, -12), now, &out)
	assert.Equal(t, 1.0, out.HeadDown)
	assert.Equal(t, 1.0, out.HeadLeft)
	assert.Zero(t, out.HeadUp)
	assert.Zero(t, out.HeadRight)

	// No hysteresis: dipping back under the threshold clears instantly.
	m.Update(headSnapshot(joints, 9, 0), now, &out)
	assert.Zero(t, out.HeadDown)
	assert.Zero(t, out.HeadLeft)

	m.Update(headSnapshot(joints, -15, 12), now, &out)
	assert.Equal(t, 1.0, out.HeadUp)
	assert.Equal(t, 1.0, out.HeadRight)
}

func TestHead_DirectionalRequiresNeck(t *testing.T) {
	t.Cleanup(viper.Reset)

	cfg := config.GetTrackingConfig()
	cfg.Head.Mode = config.HeadModeDirectional
	m := NewHeadModule(cfg.Head, cfg.Joints, testLogger())

	snap := headSnapshot(cfg.Joints, 0, 0)
	delete(snap, cfg.Joints.Neck)

	err := m.Calibrate(snap, time.Now())
	require.ErrorIs(t, err, ErrMissingJoints)

	// Gesture mode needs only the head joint.
	m = NewHeadModule(config.GetTrackingConfig().Head, cfg.Joints, testLogger())
	assert.NoError(t, m.Calibrate(snap, time.Now()))
}

func TestHead_MissingHeadHoldsGesture(t *testing.T) {
	m, joints, now := newCalibratedHead(t, config.HeadModeGesture)

	var out core.OutputRecord
	m.Update(headSnapshot(joints, 20, 0), now, &out)
	require.Equal(t, 1.0, out.HeadNod)

	out = core.OutputRecord{}
	m.Update(core.JointSnapshot{}, now.Add(50*time.Millisecond), &out)
	assert.Equal(t, 1.0, out.HeadNod)
}
