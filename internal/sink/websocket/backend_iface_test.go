package websocket_test

import (
	"github.com/kinetrack/extension/internal/sink"
	"github.com/kinetrack/extension/internal/sink/websocket"
)

// Compile-time interface check.
var _ sink.Backend = (*websocket.Backend)(nil)
