// Package handlers parses the capture host's extension commands and
// drives the coordinator, session lifecycle, and sink from them.
package handlers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/internal/coordinator"
	"github.com/kinetrack/extension/internal/logging"
	"github.com/kinetrack/extension/internal/session"
	"github.com/kinetrack/extension/internal/sink"
	"github.com/kinetrack/extension/pkg/core"
)

// SessionContext holds the currently active session, if any.
type SessionContext struct {
	mu      sync.RWMutex
	session *core.Session
}

// NewSessionContext creates an empty SessionContext.
func NewSessionContext() *SessionContext {
	return &SessionContext{}
}

// Get returns the active session, or nil between sessions.
func (sc *SessionContext) Get() *core.Session {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.session
}

// Set replaces the active session. Pass nil to clear it.
func (sc *SessionContext) Set(s *core.Session) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.session = s
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Coordinator      *coordinator.Coordinator
	LogManager       *logging.SlogManager
	ConfigDir        string
	ExtensionName    string
	ExtensionVersion string
	TickRate         float64
}

// Service provides handler methods for processing host commands.
type Service struct {
	deps    Dependencies
	ctx     *SessionContext
	backend sink.Backend
}

// NewService creates a new handler service.
func NewService(deps Dependencies, ctx *SessionContext) *Service {
	return &Service{
		deps: deps,
		ctx:  ctx,
	}
}

// GetSessionContext returns the session context.
func (s *Service) GetSessionContext() *SessionContext {
	return s.ctx
}

// SetBackend sets the sink backend for session start/end handling.
func (s *Service) SetBackend(b sink.Backend) {
	s.backend = b
}

// cleanArgs strips the host's argument quoting in place: surrounding
// quotes first, then doubled inner quotes.
func cleanArgs(data []string) {
	for i, v := range data {
		v = strings.TrimPrefix(v, `"`)
		v = strings.TrimSuffix(v, `"`)
		data[i] = strings.ReplaceAll(v, `""`, `"`)
	}
}

func parseBodyID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid body id %q: %w", arg, err)
	}
	return id, nil
}

// jointPoseWire is the per-joint JSON shape in a :JOINT:FRAME: payload.
type jointPoseWire struct {
	Position [3]float64 `json:"position"`
	Rotation [3]float64 `json:"rotation"`
}

// parseJointFrame decodes a joint frame JSON payload into a snapshot.
func parseJointFrame(payload string) (core.JointSnapshot, error) {
	wire := map[string]jointPoseWire{}
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, fmt.Errorf("invalid joint frame payload: %w", err)
	}

	snap := make(core.JointSnapshot, len(wire))
	for name, p := range wire {
		snap[name] = core.JointPose{
			Position: mgl64.Vec3{p.Position[0], p.Position[1], p.Position[2]},
			Rotation: mgl64.Vec3{p.Rotation[0], p.Rotation[1], p.Rotation[2]},
		}
	}
	return snap, nil
}

// HandleNewBody processes :NEW:BODY: with args [bodyID, label].
func (s *Service) HandleNewBody(data []string) error {
	cleanArgs(data)
	if len(data) < 2 {
		return fmt.Errorf("new body: expected [bodyID, label], got %d args", len(data))
	}

	id, err := parseBodyID(data[0])
	if err != nil {
		return err
	}

	s.deps.Coordinator.AttachBody(id, data[1])
	return nil
}

// HandleLostBody processes :LOST:BODY: with args [bodyID].
func (s *Service) HandleLostBody(data []string) error {
	cleanArgs(data)
	if len(data) < 1 {
		return fmt.Errorf("lost body: expected [bodyID], got %d args", len(data))
	}

	id, err := parseBodyID(data[0])
	if err != nil {
		return err
	}

	s.deps.Coordinator.DetachBody(id)
	return nil
}

// HandleJointFrame processes :JOINT:FRAME: with args [bodyID, jointsJSON].
func (s *Service) HandleJointFrame(data []string) error {
	cleanArgs(data)
	if len(data) < 2 {
		return fmt.Errorf("joint frame: expected [bodyID, jointsJSON], got %d args", len(data))
	}

	id, err := parseBodyID(data[0])
	if err != nil {
		return err
	}

	snap, err := parseJointFrame(data[1])
	if err != nil {
		return err
	}

	s.deps.Coordinator.UpdateJoints(id, snap)
	return nil
}

// HandleTick processes :TICK:. An optional first arg carries the host's
// tick time as unix nanoseconds; otherwise wall clock time is used.
func (s *Service) HandleTick(data []string) error {
	cleanArgs(data)

	now := time.Now()
	if len(data) > 0 && data[0] != "" {
		nanos, err := strconv.ParseInt(data[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid tick timestamp %q: %w", data[0], err)
		}
		now = time.Unix(0, nanos)
	}

	s.deps.Coordinator.Tick(now)
	return nil
}

// HandleCalibrate processes :CALIBRATE:, recalibrating every body.
func (s *Service) HandleCalibrate(data []string) error {
	s.deps.Coordinator.Calibrate()
	return nil
}

// HandleCalibrateBody processes :CALIBRATE:BODY: with args [bodyID].
func (s *Service) HandleCalibrateBody(data []string) error {
	cleanArgs(data)
	if len(data) < 1 {
		return fmt.Errorf("calibrate body: expected [bodyID], got %d args", len(data))
	}

	id, err := parseBodyID(data[0])
	if err != nil {
		return err
	}

	s.deps.Coordinator.CalibrateBody(id)
	return nil
}

// HandleConfigReload processes :CONFIG:RELOAD:, re-reading the config
// file and swapping the coordinator's module configuration.
func (s *Service) HandleConfigReload(data []string) error {
	logger := s.deps.LogManager.Logger()

	if err := config.Load(s.deps.ConfigDir); err != nil {
		logger.Warn("Config file not reloaded, keeping defaults", "error", err)
	}

	cfg := config.GetTrackingConfig()
	if err := s.deps.Coordinator.ReloadConfig(cfg); err != nil {
		return fmt.Errorf("config reload rejected: %w", err)
	}

	logger.Info("Configuration reloaded")
	return nil
}

// HandleSessionStart processes :SESSION:START: with args [sessionName].
// It creates the session, announces it to the sink, and makes it
// current.
func (s *Service) HandleSessionStart(data []string) error {
	cleanArgs(data)

	name := "unnamed session"
	if len(data) > 0 && data[0] != "" {
		name = data[0]
	}

	sess := session.New(name, s.deps.ExtensionVersion, s.deps.TickRate)

	if s.backend != nil {
		if err := s.backend.StartSession(sess); err != nil {
			return fmt.Errorf("failed to start session in sink: %w", err)
		}
	}

	s.ctx.Set(sess)
	s.deps.LogManager.Logger().Info("Session started", "sessionId", sess.ID, "name", sess.Name)
	return nil
}

// HandleSessionEnd processes :SESSION:END:, finalizing the sink's
// session and clearing the context.
func (s *Service) HandleSessionEnd(data []string) error {
	sess := s.ctx.Get()
	if sess == nil {
		return fmt.Errorf("no active session")
	}

	if s.backend != nil {
		if err := s.backend.EndSession(); err != nil {
			return fmt.Errorf("failed to end session in sink: %w", err)
		}
	}

	s.ctx.Set(nil)
	s.deps.LogManager.Logger().Info("Session ended", "sessionId", sess.ID)
	return nil
}

// Status summarizes the extension state for :STATUS:.
type Status struct {
	ExtensionName     string `json:"extensionName"`
	ExtensionVersion  string `json:"extensionVersion"`
	SessionID         string `json:"sessionId"`
	SessionName       string `json:"sessionName"`
	TrackedBodies     int    `json:"trackedBodies"`
	CalibratedModules int    `json:"calibratedModules"`
}

// HandleStatus processes :STATUS: and returns the current status as a
// JSON string.
func (s *Service) HandleStatus(data []string) (string, error) {
	st := Status{
		ExtensionName:     s.deps.ExtensionName,
		ExtensionVersion:  s.deps.ExtensionVersion,
		TrackedBodies:     s.deps.Coordinator.BodyCount(),
		CalibratedModules: s.deps.Coordinator.CalibratedModules(),
	}
	if sess := s.ctx.Get(); sess != nil {
		st.SessionID = sess.ID
		st.SessionName = sess.Name
	}

	out, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(out), nil
}
