// Package memory buffers a whole session in memory and exports it to a
// JSON file (optionally gzipped) when the session ends.
package memory

import (
	"sync"

	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/pkg/core"
)

// BodySeries groups one body's time-series data.
type BodySeries struct {
	BodyID        int                 `json:"bodyId"`
	Records       []core.OutputRecord `json:"records"`
	StepEvents    []core.StepEvent    `json:"stepEvents"`
	BalanceEvents []core.BalanceEvent `json:"balanceEvents"`
}

// Backend stores session data in memory and exports to JSON.
type Backend struct {
	cfg     config.MemoryConfig
	session *core.Session

	bodies map[int]*BodySeries

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend.
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:    cfg,
		bodies: make(map[int]*BodySeries),
	}
}

// Init initializes the backend.
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources.
func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording a new session, discarding any buffered
// data from a previous one.
func (b *Backend) StartSession(session *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = session
	b.bodies = make(map[int]*BodySeries)
	return nil
}

// EndSession finalizes and exports the session data.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	return b.exportJSON()
}

// series returns the body's series, creating it on first touch. Caller
// holds the write lock.
func (b *Backend) series(bodyID int) *BodySeries {
	s, ok := b.bodies[bodyID]
	if !ok {
		s = &BodySeries{BodyID: bodyID}
		b.bodies[bodyID] = s
	}
	return s
}

// RecordOutput appends a per-tick output record.
func (b *Backend) RecordOutput(r *core.OutputRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.series(r.BodyID)
	s.Records = append(s.Records, *r)
	return nil
}

// RecordStepEvent appends a step event.
func (b *Backend) RecordStepEvent(e *core.StepEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.series(e.BodyID)
	s.StepEvents = append(s.StepEvents, *e)
	return nil
}

// RecordBalanceEvent appends a balance event.
func (b *Backend) RecordBalanceEvent(e *core.BalanceEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.series(e.BodyID)
	s.BalanceEvents = append(s.BalanceEvents, *e)
	return nil
}

// BodyCount returns how many bodies have buffered data.
func (b *Backend) BodyCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bodies)
}

// ExportedFilePath returns the path of the last exported session file.
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
