// Package coordinator owns the tracked bodies and drives the per-tick
// update pass. External notifications (body attach/detach, calibration
// triggers) are queued and drained only at tick boundaries, so the
// update pass never iterates a body set that is mutating under it.
package coordinator

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kinetrack/extension/internal/channel"
	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/internal/queue"
	"github.com/kinetrack/extension/internal/tracker"
	"github.com/kinetrack/extension/pkg/core"
)

// bodyTagger is implemented by modules that stamp emitted events with
// the owning body id.
type bodyTagger interface {
	SetBodyID(int)
}

// Outputs collects the delivery channels for derived data. Nil fields
// discard their stream.
type Outputs struct {
	Records       channel.Sender[core.OutputRecord]
	StepEvents    channel.Sender[core.StepEvent]
	BalanceEvents channel.Sender[core.BalanceEvent]
}

// calibrationRequest asks for one body's module set to be calibrated.
// The generation guards against a request outliving a teardown or a
// superseding recalibration.
type calibrationRequest struct {
	bodyID     int
	generation uint64
}

// trackedBody groups one body's identity, snapshot, module set and
// calibration bookkeeping.
type trackedBody struct {
	core.Body
	modules    []tracker.Module
	snapshot   core.JointSnapshot
	generation uint64
	timer      *time.Timer
}

// cancelScheduled invalidates any in-flight calibration for the body.
func (b *trackedBody) cancelScheduled() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.generation++
}

// Coordinator drives calibration and the per-tick module updates for
// every tracked body.
type Coordinator struct {
	mu     sync.Mutex
	cfg    *config.TrackingConfig
	logger *slog.Logger
	out    Outputs

	bodies        map[int]*trackedBody
	bodyEvents    *queue.Queue[core.BodyEvent]
	calibrations  *queue.Queue[calibrationRequest]
	tick          uint64
	staggerIndex  int
}

// New creates a coordinator. The configuration must already have passed
// config.ValidateJointClaims.
func New(cfg *config.TrackingConfig, out Outputs, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:          cfg,
		logger:       logger.With("component", "coordinator"),
		out:          out,
		bodies:       make(map[int]*trackedBody),
		bodyEvents:   queue.New[core.BodyEvent](),
		calibrations: queue.New[calibrationRequest](),
	}
}

// AttachBody queues a new-body notification. Safe from any goroutine;
// the body becomes live at the next tick boundary.
func (c *Coordinator) AttachBody(id int, label string) {
	c.bodyEvents.Push(core.BodyEvent{
		Kind: core.BodyAttached,
		Body: core.Body{ID: id, Label: label},
		Time: time.Now(),
	})
}

// DetachBody queues a lost-body notification.
func (c *Coordinator) DetachBody(id int) {
	c.bodyEvents.Push(core.BodyEvent{
		Kind: core.BodyDetached,
		Body: core.Body{ID: id},
		Time: time.Now(),
	})
}

// UpdateJoints replaces a body's live joint snapshot. Frames for a body
// that is not yet (or no longer) tracked are dropped with a warning.
func (c *Coordinator) UpdateJoints(id int, snap core.JointSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, ok := c.bodies[id]
	if !ok {
		c.logger.Warn("joint frame for unknown body", "bodyID", id)
		return
	}
	body.snapshot = snap
}

// BodyCount returns the number of live bodies.
func (c *Coordinator) BodyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

// CalibratedModules returns how many modules across all bodies hold a
// neutral reference. Used by the status monitor.
func (c *Coordinator) CalibratedModules() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, body := range c.bodies {
		for _, m := range body.modules {
			if m.Calibrated() {
				n++
			}
		}
	}
	return n
}

// Calibrate requests recalibration of every tracked body at the next
// tick. Any previously scheduled calibration is superseded.
func (c *Coordinator) Calibrate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.bodies {
		c.requestCalibration(c.bodies[id])
	}
}

// CalibrateBody requests recalibration of one body at the next tick.
func (c *Coordinator) CalibrateBody(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, ok := c.bodies[id]
	if !ok {
		c.logger.Warn("calibration request for unknown body", "bodyID", id)
		return
	}
	c.requestCalibration(body)
}

// requestCalibration supersedes any scheduled calibration and queues an
// immediate request. Caller holds the lock.
func (c *Coordinator) requestCalibration(body *trackedBody) {
	body.cancelScheduled()
	c.calibrations.Push(calibrationRequest{bodyID: body.ID, generation: body.generation})
}

// ReloadConfig swaps the module configuration wholesale: every body's
// module set is rebuilt and recalibrated. Field-by-field updates are
// not supported while modules run.
func (c *Coordinator) ReloadConfig(cfg *config.TrackingConfig) error {
	if err := config.ValidateJointClaims(cfg); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg = cfg
	for _, body := range c.bodies {
		body.cancelScheduled()
		body.modules = c.buildModules(body.ID)
		c.scheduleCalibration(body, c.cfg.Calibration.SettleDelay)
	}
	c.logger.Info("configuration reloaded", "bodies", len(c.bodies))
	return nil
}

// Tick drains the pending body and calibration events and then runs the
// per-tick update pass, emitting one output record per body. Bodies are
// processed in ascending id order so the pass is deterministic.
func (c *Coordinator) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	c.drainBodyEvents()
	c.drainCalibrations(now)

	ids := make([]int, 0, len(c.bodies))
	for id := range c.bodies {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		c.updateBody(c.bodies[id], now)
	}
}

func (c *Coordinator) drainBodyEvents() {
	for _, ev := range c.bodyEvents.DrainAll() {
		switch ev.Kind {
		case core.BodyAttached:
			c.attach(ev.Body)
		case core.BodyDetached:
			c.detach(ev.Body.ID)
		}
	}
}

func (c *Coordinator) attach(b core.Body) {
	if _, exists := c.bodies[b.ID]; exists {
		c.logger.Warn("duplicate body ignored", "bodyID", b.ID)
		return
	}

	body := &trackedBody{
		Body:    b,
		modules: c.buildModules(b.ID),
	}
	c.bodies[b.ID] = body

	// Stagger calibration so simultaneously detected bodies do not all
	// calibrate on the same tick.
	delay := c.cfg.Calibration.SettleDelay +
		time.Duration(c.staggerIndex)*c.cfg.Calibration.BodyStagger
	c.staggerIndex++
	c.scheduleCalibration(body, delay)

	c.logger.Info("body attached", "bodyID", b.ID, "label", b.Label,
		"modules", len(body.modules), "calibrationDelay", delay)
}

func (c *Coordinator) detach(id int) {
	body, ok := c.bodies[id]
	if !ok {
		c.logger.Warn("unknown body ignored", "bodyID", id)
		return
	}
	body.cancelScheduled()
	delete(c.bodies, id)
	c.logger.Info("body detached", "bodyID", id)
}

func (c *Coordinator) buildModules(bodyID int) []tracker.Module {
	modules := tracker.BuildModules(c.cfg, c.logger.With("bodyID", bodyID))
	for _, m := range modules {
		if tagger, ok := m.(bodyTagger); ok {
			tagger.SetBodyID(bodyID)
		}
	}
	return modules
}

// scheduleCalibration arms a timer that pushes a calibration request
// onto the queue. The request carries the body's current generation;
// teardown or a superseding recalibration bumps the generation and the
// stale request is dropped at drain time. Caller holds the lock.
func (c *Coordinator) scheduleCalibration(body *trackedBody, delay time.Duration) {
	req := calibrationRequest{bodyID: body.ID, generation: body.generation}
	if delay <= 0 {
		c.calibrations.Push(req)
		return
	}
	body.timer = time.AfterFunc(delay, func() {
		c.calibrations.Push(req)
	})
}

func (c *Coordinator) drainCalibrations(now time.Time) {
	for _, req := range c.calibrations.DrainAll() {
		body, ok := c.bodies[req.bodyID]
		if !ok || body.generation != req.generation {
			// Body torn down or calibration superseded after the
			// request was queued.
			continue
		}
		c.calibrateBody(body, now)
	}
}

// calibrateBody calibrates every module that has its joints. A module
// whose joints are absent stays uncalibrated; the failure is logged and
// the sibling modules proceed.
func (c *Coordinator) calibrateBody(body *trackedBody, now time.Time) {
	if body.snapshot == nil {
		// No frame received yet. Retry at the next tick; the request
		// keeps its generation so a teardown still invalidates it.
		c.logger.Debug("no joint snapshot yet, deferring calibration", "bodyID", body.ID)
		c.calibrations.Push(calibrationRequest{bodyID: body.ID, generation: body.generation})
		return
	}

	for _, m := range body.modules {
		if err := m.Calibrate(body.snapshot, now); err != nil {
			c.logger.Error("module calibration failed",
				"bodyID", body.ID, "module", m.Name(), "error", err)
		}
	}
	c.logger.Info("body calibrated", "bodyID", body.ID)
}

// updateBody runs every calibrated module against the body's latest
// snapshot and ships the assembled record. Modules run in build order
// and never see each other's contribution for the current tick.
func (c *Coordinator) updateBody(body *trackedBody, now time.Time) {
	if body.snapshot == nil {
		return
	}

	record := core.OutputRecord{
		BodyID: body.ID,
		Tick:   c.tick,
		Time:   now,
	}
	for _, m := range body.modules {
		m.Update(body.snapshot, now, &record)
	}

	if c.out.Records != nil {
		if !c.out.Records.TrySend(record) {
			c.logger.Warn("record channel full, dropping", "bodyID", body.ID, "tick", c.tick)
		}
	}

	for _, m := range body.modules {
		if src, ok := m.(tracker.StepEventSource); ok && c.out.StepEvents != nil {
			for _, ev := range src.TakeStepEvents() {
				c.out.StepEvents.TrySend(ev)
			}
		}
		if src, ok := m.(tracker.BalanceEventSource); ok && c.out.BalanceEvents != nil {
			for _, ev := range src.TakeBalanceEvents() {
				c.out.BalanceEvents.TrySend(ev)
			}
		}
	}
}

// Close cancels all scheduled calibrations and clears the body set.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, body := range c.bodies {
		body.cancelScheduled()
	}
	c.bodies = make(map[int]*trackedBody)
	c.bodyEvents.Clear()
	c.calibrations.Clear()
}
