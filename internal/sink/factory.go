package sink

import (
	"fmt"

	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/internal/sink/gormsink"
	"github.com/kinetrack/extension/internal/sink/memory"
	"github.com/kinetrack/extension/internal/sink/websocket"
)

// NewBackend creates a sink backend based on configuration.
func NewBackend(cfg config.StorageConfig) (Backend, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(cfg.Memory), nil
	case "gorm":
		return gormsink.New(cfg.Gorm), nil
	case "websocket":
		return websocket.New(websocket.Config{
			URL:    cfg.Websocket.URL,
			Secret: cfg.Websocket.Secret,
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
