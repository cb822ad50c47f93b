package gormsink

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/kinetrack/extension/pkg/core"
)

// Session is the database row for one tracking session.
type Session struct {
	ID               uint   `gorm:"primarykey"`
	SessionUID       string `gorm:"index"`
	Name             string
	StartTime        time.Time
	EndTime          *time.Time
	ExtensionVersion string
	TickRate         float64
}

// OutputRow stores one per-tick output record. The handful of signals
// queried by dashboards get real columns; the full record rides along
// as JSON.
type OutputRow struct {
	ID        uint `gorm:"primarykey"`
	SessionID uint `gorm:"index"`
	BodyID    int  `gorm:"index"`
	Tick      uint64
	Time      time.Time

	IsWalking  float64
	IsBalanced float64
	Cadence    float64
	WalkSpeed  float64

	Record core.OutputRecord `gorm:"serializer:json"`
}

// StepRow stores one gait step event.
type StepRow struct {
	ID        uint `gorm:"primarykey"`
	SessionID uint `gorm:"index"`
	BodyID    int  `gorm:"index"`
	Side      string
	Phase     string
	Time      time.Time
	Position  mgl64.Vec3 `gorm:"serializer:json"`
}

// BalanceRow stores one balance edge event.
type BalanceRow struct {
	ID            uint `gorm:"primarykey"`
	SessionID     uint `gorm:"index"`
	BodyID        int  `gorm:"index"`
	Kind          string
	Time          time.Time
	SwayMagnitude float64
	CoMVelocity   float64
}

// databaseModels lists every table for schema migration.
var databaseModels = []any{
	&Session{},
	&OutputRow{},
	&StepRow{},
	&BalanceRow{},
}
