// Package sink defines the storage backends that persist or forward
// the derived tracking data: in-memory with JSON export, database via
// gorm, and websocket streaming.
package sink

import (
	"github.com/kinetrack/extension/pkg/core"
)

// Backend is the interface all sink implementations must satisfy.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(session *core.Session) error
	EndSession() error

	// Per-tick and event recording
	RecordOutput(r *core.OutputRecord) error
	RecordStepEvent(e *core.StepEvent) error
	RecordBalanceEvent(e *core.BalanceEvent) error
}

// Exportable is an optional interface for backends that produce a file
// on session end.
type Exportable interface {
	ExportedFilePath() string
}
