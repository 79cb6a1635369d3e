package outbound

import (
	"context"
	"fmt"

	"torrentsready/internal/config"
	"torrentsready/internal/trd"
)

// NewOutboundFromConfig creates an Outbound based on the outbound config type.
// When cfg.Encrypt is set the channel is wrapped so every artifact is sealed
// with encryptor first.
func NewOutboundFromConfig(ctx context.Context, cfg config.OutboundConfig, encryptor trd.Encryptor, tmpDir string) (trd.Outbound, error) {
	var out trd.Outbound
	switch cfg.Type {
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem outbound requires root to be set")
		}
		fs, err := NewFileSystemOutbound(cfg.Root)
		if err != nil {
			return nil, err
		}
		out = fs
	case "s3":
		s, err := NewS3Outbound(ctx, cfg)
		if err != nil {
			return nil, err
		}
		out = s
	case "memory":
		out = NewMemoryOutbound()
	default:
		return nil, fmt.Errorf("unknown outbound type: %s", cfg.Type)
	}

	if cfg.Encrypt {
		if encryptor == nil || !encryptor.IsConfigured() {
			return nil, fmt.Errorf("outbound encryption enabled but no key pair is configured")
		}
		out = NewSealedOutbound(out, encryptor, tmpDir)
	}
	return out, nil
}
