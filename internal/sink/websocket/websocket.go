// Package websocket streams session data live to a collector server.
// Per-tick records are fire-and-forget; session boundaries wait for a
// server acknowledgement.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kinetrack/extension/pkg/core"
	"github.com/kinetrack/extension/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend streams session data over WebSocket. It implements
// sink.Backend but not sink.Exportable.
type Backend struct {
	conn *connection
	cfg  Config
}

// New creates a new WebSocket sink backend.
func New(cfg Config) *Backend {
	return &Backend{
		conn: newConnection(slog.Default()),
		cfg:  cfg,
	}
}

// Init connects to the collector server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the collector server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type
// and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it to
// the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// StartSession sends the session descriptor and waits for server ack.
// The message is cached so a reconnect can replay it before any further
// records flow.
func (b *Backend) StartSession(session *core.Session) error {
	data, err := marshalEnvelope(streaming.TypeStartSession, streaming.StartSessionPayload{Session: session})
	if err != nil {
		return err
	}

	b.conn.mu.Lock()
	b.conn.startSessionMsg = data
	b.conn.mu.Unlock()

	return b.conn.sendAndWait(data, streaming.TypeStartSession, ackTimeout)
}

// EndSession sends end_session and waits for server ack.
func (b *Backend) EndSession() error {
	data, err := marshalEnvelope(streaming.TypeEndSession, nil)
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndSession, ackTimeout)

	// Clear cached state regardless of error.
	b.conn.mu.Lock()
	b.conn.startSessionMsg = nil
	b.conn.mu.Unlock()

	return err
}

// RecordOutput streams a per-tick output record.
func (b *Backend) RecordOutput(r *core.OutputRecord) error {
	return b.sendEnvelope(streaming.TypeOutputRecord, r)
}

// RecordStepEvent streams a step event.
func (b *Backend) RecordStepEvent(e *core.StepEvent) error {
	return b.sendEnvelope(streaming.TypeStepEvent, e)
}

// RecordBalanceEvent streams a balance event.
func (b *Backend) RecordBalanceEvent(e *core.BalanceEvent) error {
	return b.sendEnvelope(streaming.TypeBalanceEvent, e)
}
