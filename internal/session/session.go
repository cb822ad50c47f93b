// Package session creates session descriptors for the sinks.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/kinetrack/extension/pkg/core"
)

// New creates a session with a fresh UUID and the current start time.
func New(name, extensionVersion string, tickRate float64) *core.Session {
	return &core.Session{
		ID:               uuid.NewString(),
		Name:             name,
		StartTime:        time.Now(),
		ExtensionVersion: extensionVersion,
		TickRate:         tickRate,
	}
}
