// Package tracker implements the per-body-region tracking modules:
// torso, foot/gait, arm, head, and balance. Every module follows the
// same lifecycle: it is built from configuration, calibrated once
// against a neutral-pose snapshot, and then updated once per tick,
// writing its derived signals into the shared OutputRecord.
//
// Modules never observe each other's output for the same tick; they
// read only the joint snapshot and their own state. A joint that goes
// missing for a single tick after calibration is a no-op for the
// affected signals: the previously emitted discrete states hold, so a
// single bad frame cannot flicker gesture state.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/pkg/core"
)

// ErrMissingJoints is returned by Calibrate when the snapshot lacks a
// required joint. The module stays uncalibrated; the failure is fatal
// to that module's contribution for the session, not to the process.
var ErrMissingJoints = errors.New("missing required joints")

// Module is the contract every tracking module implements.
type Module interface {
	// Name identifies the module in logs and status output.
	Name() string

	// Enabled reflects the module's configuration flag. Disabled
	// modules are never constructed by BuildModules, but the accessor
	// is part of the contract for callers holding a module directly.
	Enabled() bool

	// Sensitivity is the multiplier applied to continuous outputs.
	Sensitivity() float64

	// RequiredJointNames lists the joints the module needs, in a
	// stable order.
	RequiredJointNames() []string

	// HasRequiredJoints is a pure membership check with no state change.
	HasRequiredJoints(snap core.JointSnapshot) bool

	// Calibrated reports whether the module holds a neutral reference.
	Calibrated() bool

	// Calibrate captures the neutral reference geometry from the
	// snapshot. On missing joints it returns ErrMissingJoints and the
	// module stays uncalibrated. Calibrating again fully replaces the
	// neutral reference and clears all runtime state.
	Calibrate(snap core.JointSnapshot, now time.Time) error

	// Update derives this tick's signals into out. It is a strict
	// no-op, including no state mutation, when the module is not
	// calibrated.
	Update(snap core.JointSnapshot, now time.Time, out *core.OutputRecord)
}

// StepEventSource is implemented by modules that produce step events
// (currently the foot module). TakeStepEvents drains the events
// generated since the previous call.
type StepEventSource interface {
	TakeStepEvents() []core.StepEvent
}

// BalanceEventSource is implemented by modules that produce balance
// edge events. TakeBalanceEvents drains the events generated since the
// previous call.
type BalanceEventSource interface {
	TakeBalanceEvents() []core.BalanceEvent
}

// missingErr builds the ErrMissingJoints error for a module.
func missingErr(module string, missing []string) error {
	return fmt.Errorf("%s: %w: %v", module, ErrMissingJoints, missing)
}

// BuildModules instantiates one module per enabled flag in cfg.
// Disabled modules are simply absent from the returned slice.
func BuildModules(cfg *config.TrackingConfig, logger *slog.Logger) []Module {
	if logger == nil {
		logger = slog.Default()
	}

	var modules []Module
	if cfg.Torso.Enabled {
		modules = append(modules, NewTorsoModule(cfg.Torso, cfg.Joints, logger))
	}
	if cfg.Foot.Enabled {
		modules = append(modules, NewFootModule(cfg.Foot, cfg.Joints, logger))
	}
	if cfg.Arm.Enabled {
		modules = append(modules, NewArmModule(cfg.Arm, cfg.Joints, logger))
	}
	if cfg.Head.Enabled {
		modules = append(modules, NewHeadModule(cfg.Head, cfg.Joints, logger))
	}
	if cfg.Balance.Enabled {
		modules = append(modules, NewBalanceModule(cfg.Balance, cfg.Joints, logger))
	}
	return modules
}
