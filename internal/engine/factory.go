package engine

import (
	"fmt"

	"torrentsready/internal/config"
	"torrentsready/internal/trd"
)

// NewEngineFromConfig creates an Engine based on the engine config type.
// Remote engines are wrapped so expired sessions are renewed transparently.
func NewEngineFromConfig(cfg config.EngineConfig, logger trd.Logger) (trd.Engine, error) {
	switch cfg.Type {
	case "qbittorrent":
		if cfg.Host == "" {
			return nil, fmt.Errorf("host required for qbittorrent engine")
		}
		return trd.NewReauthEngine(NewQBittorrentEngine(cfg, logger), logger), nil
	case "embedded":
		e, err := NewEmbeddedEngine(cfg, logger)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "memory":
		return NewMemoryEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine type: %s", cfg.Type)
	}
}
