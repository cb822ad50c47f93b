package coordinator

import (
	"log/slog"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinetrack/extension/internal/channel"
	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

// fullSnapshot covers every joint the default module set requires, in a
// plausible neutral standing pose.
func fullSnapshot(j config.JointNames) core.JointSnapshot {
	return core.JointSnapshot{
		j.Pelvis:        {Position: mgl64.Vec3{0, 1.0, 0}},
		j.Spine:         {Position: mgl64.Vec3{0, 1.3, 0}},
		j.WalkReference: {Position: mgl64.Vec3{0, 1.2, 0}},
		j.Trunk:         {Position: mgl64.Vec3{0, 1.4, 0}},
		j.Head:          {Position: mgl64.Vec3{0, 1.7, 0}},
		j.Neck:          {Position: mgl64.Vec3{0, 1.55, 0}},
		j.LeftShoulder:  {Position: mgl64.Vec3{-0.2, 1.45, 0}},
		j.RightShoulder: {Position: mgl64.Vec3{0.2, 1.45, 0}},
		j.LeftHand:      {Position: mgl64.Vec3{-0.25, 0.9, 0}},
		j.RightHand:     {Position: mgl64.Vec3{0.25, 0.9, 0}},
		j.LeftFoot:      {Position: mgl64.Vec3{-0.1, 0.05, 0}},
		j.RightFoot:     {Position: mgl64.Vec3{0.1, 0.05, 0}},
		j.LeftForeArm:   {Position: mgl64.Vec3{-0.25, 1.1, 0}},
		j.RightForeArm:  {Position: mgl64.Vec3{0.25, 1.1, 0}},
		j.LeftLeg:       {Position: mgl64.Vec3{-0.1, 0.45, 0}},
		j.RightLeg:      {Position: mgl64.Vec3{0.1, 0.45, 0}},
		j.LeftToeBase:   {Position: mgl64.Vec3{-0.12, 0, 0.1}},
		j.RightToeBase:  {Position: mgl64.Vec3{0.12, 0, 0.1}},
	}
}

func immediateConfig(t *testing.T) *config.TrackingConfig {
	t.Helper()
	t.Cleanup(viper.Reset)

	cfg := config.GetTrackingConfig()
	cfg.Calibration.SettleDelay = 0
	cfg.Calibration.BodyStagger = 0
	return cfg
}

func newTestCoordinator(t *testing.T) (*Coordinator, *config.TrackingConfig, channel.Channel[core.OutputRecord]) {
	t.Helper()

	cfg := immediateConfig(t)
	records := channel.NewBuffered[core.OutputRecord](64)
	c := New(cfg, Outputs{Records: records}, testLogger())
	t.Cleanup(c.Close)
	return c, cfg, records
}

func TestCoordinator_BodyEventsDrainAtTickBoundary(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	now := time.Now()

	c.AttachBody(1, "player-1")
	assert.Equal(t, 0, c.BodyCount(), "attach must not apply mid-tick")

	c.Tick(now)
	assert.Equal(t, 1, c.BodyCount())

	c.DetachBody(1)
	assert.Equal(t, 1, c.BodyCount())

	c.Tick(now.Add(50 * time.Millisecond))
	assert.Equal(t, 0, c.BodyCount())
}

func TestCoordinator_DuplicateAndUnknownBodiesIgnored(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	now := time.Now()

	c.AttachBody(1, "player-1")
	c.AttachBody(1, "player-1-again")
	c.DetachBody(99)
	c.Tick(now)

	assert.Equal(t, 1, c.BodyCount())
}

func TestCoordinator_CalibratesOnceFramesArrive(t *testing.T) {
	c, cfg, records := newTestCoordinator(t)
	now := time.Now()

	c.AttachBody(1, "player-1")
	c.Tick(now)
	// The immediate calibration found no snapshot and deferred.
	assert.Equal(t, 0, c.CalibratedModules())

	c.UpdateJoints(1, fullSnapshot(cfg.Joints))
	c.Tick(now.Add(50 * time.Millisecond))
	assert.Equal(t, 5, c.CalibratedModules())

	c.Tick(now.Add(100 * time.Millisecond))

	var got []core.OutputRecord
	for len(records.Receive()) > 0 {
		got = append(got, <-records.Receive())
	}
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, 1, last.BodyID)
	assert.Equal(t, uint64(3), last.Tick)
	assert.Equal(t, 1.0, last.Upright, "calibrated torso reports upright at neutral")
}

func TestCoordinator_JointFrameForUnknownBodyDropped(t *testing.T) {
	c, cfg, records := newTestCoordinator(t)

	c.UpdateJoints(7, fullSnapshot(cfg.Joints))
	c.Tick(time.Now())

	assert.Equal(t, 0, c.BodyCount())
	assert.Equal(t, 0, records.Len())
}

func TestCoordinator_DetachCancelsScheduledCalibration(t *testing.T) {
	t.Cleanup(viper.Reset)

	cfg := config.GetTrackingConfig()
	cfg.Calibration.SettleDelay = 20 * time.Millisecond
	cfg.Calibration.BodyStagger = 0

	c := New(cfg, Outputs{}, testLogger())
	t.Cleanup(c.Close)
	now := time.Now()

	c.AttachBody(1, "player-1")
	c.Tick(now)
	c.UpdateJoints(1, fullSnapshot(cfg.Joints))
	c.DetachBody(1)
	c.Tick(now.Add(10 * time.Millisecond))

	// Let the (cancelled) timer window pass, then tick again: the stale
	// request must not resurrect the body or panic.
	time.Sleep(50 * time.Millisecond)
	c.Tick(now.Add(100 * time.Millisecond))
	assert.Equal(t, 0, c.BodyCount())
	assert.Equal(t, 0, c.CalibratedModules())
}

func TestCoordinator_ManualRecalibration(t *testing.T) {
	c, cfg, _ := newTestCoordinator(t)
	now := time.Now()

	c.AttachBody(1, "player-1")
	c.Tick(now)
	c.UpdateJoints(1, fullSnapshot(cfg.Joints))
	c.Tick(now.Add(50 * time.Millisecond))
	require.Equal(t, 5, c.CalibratedModules())

	// A shifted pose becomes the new neutral after manual recalibration.
	shifted := fullSnapshot(cfg.Joints)
	spine := shifted[cfg.Joints.Spine]
	spine.Position = mgl64.Vec3{0.3, 1.3, 0}
	shifted[cfg.Joints.Spine] = spine
	c.UpdateJoints(1, shifted)

	c.Calibrate()
	c.Tick(now.Add(100 * time.Millisecond))
	assert.Equal(t, 5, c.CalibratedModules())
}

func TestCoordinator_ReloadConfigRebuildsModules(t *testing.T) {
	c, cfg, _ := newTestCoordinator(t)
	now := time.Now()

	c.AttachBody(1, "player-1")
	c.Tick(now)
	c.UpdateJoints(1, fullSnapshot(cfg.Joints))
	c.Tick(now.Add(50 * time.Millisecond))
	require.Equal(t, 5, c.CalibratedModules())

	next := *cfg
	next.Torso.Enabled = false
	require.NoError(t, c.ReloadConfig(&next))

	// Rebuilt modules start uncalibrated; the immediate recalibration
	// lands on the next tick.
	assert.Equal(t, 0, c.CalibratedModules())
	c.Tick(now.Add(100 * time.Millisecond))
	assert.Equal(t, 4, c.CalibratedModules())
}

func TestCoordinator_ReloadRejectsJointCollision(t *testing.T) {
	c, cfg, _ := newTestCoordinator(t)

	bad := *cfg
	bad.Joints.WalkReference = bad.Joints.Spine
	err := c.ReloadConfig(&bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claimed by both")
}

func TestCoordinator_MultiBodyIsolation(t *testing.T) {
	c, cfg, records := newTestCoordinator(t)
	now := time.Now()

	c.AttachBody(2, "player-2")
	c.AttachBody(1, "player-1")
	c.Tick(now)
	c.UpdateJoints(1, fullSnapshot(cfg.Joints))
	c.UpdateJoints(2, fullSnapshot(cfg.Joints))
	c.Tick(now.Add(50 * time.Millisecond))
	require.Equal(t, 10, c.CalibratedModules())

	// Drain whatever was produced so far, then take one clean tick.
	for len(records.Receive()) > 0 {
		<-records.Receive()
	}
	c.Tick(now.Add(100 * time.Millisecond))

	require.Equal(t, 2, records.Len())
	first := <-records.Receive()
	second := <-records.Receive()
	assert.Equal(t, 1, first.BodyID, "records emitted in ascending body order")
	assert.Equal(t, 2, second.BodyID)
	assert.Equal(t, first.Tick, second.Tick)
}
