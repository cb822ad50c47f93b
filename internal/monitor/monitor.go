// Package monitor runs a 1 Hz status reporter that mirrors the
// extension's live state into a status file for the capture host.
package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kinetrack/extension/internal/logging"
	"github.com/kinetrack/extension/pkg/core"
)

const reportInterval = time.Second

// TrackerSource exposes the coordinator state the monitor reports.
type TrackerSource interface {
	BodyCount() int
	CalibratedModules() int
}

// Dependencies holds everything the monitor needs.
type Dependencies struct {
	LogManager *logging.SlogManager
	Tracker    TrackerSource
	Session    func() *core.Session // nil result means no active session
	StatusDir  string
}

// Status is the snapshot written to the status file each interval.
type Status struct {
	Time              time.Time `json:"time"`
	SessionID         string    `json:"sessionId,omitempty"`
	SessionName       string    `json:"sessionName,omitempty"`
	TrackedBodies     int       `json:"trackedBodies"`
	CalibratedModules int       `json:"calibratedModules"`
}

// Service manages the status monitor goroutine.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service.
func NewService(deps Dependencies) *Service {
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Snapshot builds the current status.
func (s *Service) Snapshot() Status {
	st := Status{
		Time:              time.Now(),
		TrackedBodies:     s.deps.Tracker.BodyCount(),
		CalibratedModules: s.deps.Tracker.CalibratedModules(),
	}
	if s.deps.Session != nil {
		if sess := s.deps.Session(); sess != nil {
			st.SessionID = sess.ID
			st.SessionName = sess.Name
		}
	}
	return st
}

// StatusFilePath returns where the monitor writes its report.
func (s *Service) StatusFilePath() string {
	return filepath.Join(s.deps.StatusDir, "status.txt")
}

// Start starts the status monitor goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	logger := s.deps.LogManager.Logger()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger.Debug("Starting status monitor goroutine")

		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				if err := s.writeStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// writeStatus replaces the status file with the current snapshot.
func (s *Service) writeStatus() error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.StatusFilePath(), append(data, '\n'), 0644)
}

// Stop stops the status monitor.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}
