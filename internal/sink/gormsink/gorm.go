// Package gormsink persists session data to a relational database
// through GORM. Records are queued in memory and written in batches by
// a background writer so the tick loop never waits on the database.
package gormsink

import (
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/internal/queue"
	"github.com/kinetrack/extension/pkg/core"
)

const (
	writerInterval = 1 * time.Second
	writeBatchSize = 500
)

// Backend writes session data to a database via GORM.
type Backend struct {
	cfg config.GormConfig
	db  *gorm.DB

	outputs  *queue.Queue[OutputRow]
	steps    *queue.Queue[StepRow]
	balances *queue.Queue[BalanceRow]

	mu        sync.Mutex
	sessionID uint

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new database backend.
func New(cfg config.GormConfig) *Backend {
	return &Backend{
		cfg:      cfg,
		outputs:  queue.New[OutputRow](),
		steps:    queue.New[StepRow](),
		balances: queue.New[BalanceRow](),
		stopChan: make(chan struct{}),
	}
}

// Init opens the database, migrates the schema and starts the batch
// writer.
func (b *Backend) Init() error {
	dialector, err := b.dialector()
	if err != nil {
		return err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	b.db = db

	if err := db.AutoMigrate(databaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	b.wg.Add(1)
	go b.writerLoop()
	return nil
}

func (b *Backend) dialector() (gorm.Dialector, error) {
	switch b.cfg.Driver {
	case "sqlite":
		return sqlite.Open(b.cfg.Path), nil
	case "postgres":
		return postgres.Open(b.cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unknown gorm driver: %s", b.cfg.Driver)
	}
}

// Close stops the writer, flushes pending rows and closes the database.
func (b *Backend) Close() error {
	close(b.stopChan)
	b.wg.Wait()

	if b.db == nil {
		return nil
	}
	b.flush()

	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartSession inserts the session row and makes it current.
func (b *Backend) StartSession(session *core.Session) error {
	row := Session{
		SessionUID:       session.ID,
		Name:             session.Name,
		StartTime:        session.StartTime,
		ExtensionVersion: session.ExtensionVersion,
		TickRate:         session.TickRate,
	}
	if err := b.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	b.mu.Lock()
	b.sessionID = row.ID
	b.mu.Unlock()
	return nil
}

// EndSession flushes pending rows and stamps the session's end time.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	sessionID := b.sessionID
	b.sessionID = 0
	b.mu.Unlock()

	if sessionID == 0 {
		return nil
	}
	b.flush()

	now := time.Now()
	return b.db.Model(&Session{}).Where("id = ?", sessionID).
		Update("end_time", &now).Error
}

func (b *Backend) currentSessionID() uint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

// RecordOutput queues a per-tick output record for batch writing.
func (b *Backend) RecordOutput(r *core.OutputRecord) error {
	b.outputs.Push(OutputRow{
		SessionID:  b.currentSessionID(),
		BodyID:     r.BodyID,
		Tick:       r.Tick,
		Time:       r.Time,
		IsWalking:  r.IsWalking,
		IsBalanced: r.IsBalanced,
		Cadence:    r.Cadence,
		WalkSpeed:  r.WalkSpeed,
		Record:     *r,
	})
	return nil
}

// RecordStepEvent queues a step event for batch writing.
func (b *Backend) RecordStepEvent(e *core.StepEvent) error {
	b.steps.Push(StepRow{
		SessionID: b.currentSessionID(),
		BodyID:    e.BodyID,
		Side:      string(e.Side),
		Phase:     string(e.Phase),
		Time:      e.Time,
		Position:  e.Position,
	})
	return nil
}

// RecordBalanceEvent queues a balance event for batch writing.
func (b *Backend) RecordBalanceEvent(e *core.BalanceEvent) error {
	b.balances.Push(BalanceRow{
		SessionID:     b.currentSessionID(),
		BodyID:        e.BodyID,
		Kind:          string(e.Kind),
		Time:          e.Time,
		SwayMagnitude: e.SwayMagnitude,
		CoMVelocity:   e.CoMVelocity,
	})
	return nil
}

func (b *Backend) writerLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(writerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.stopChan:
			return
		}
	}
}

// flush drains the queues and writes each batch in one statement.
func (b *Backend) flush() {
	if rows := b.outputs.DrainAll(); len(rows) > 0 {
		b.db.CreateInBatches(rows, writeBatchSize)
	}
	if rows := b.steps.DrainAll(); len(rows) > 0 {
		b.db.CreateInBatches(rows, writeBatchSize)
	}
	if rows := b.balances.DrainAll(); len(rows) > 0 {
		b.db.CreateInBatches(rows, writeBatchSize)
	}
}
