package keystore

import (
	"fmt"

	"github.com/albeach/DIVE-V3-sub010/internal/config"
)

// NewProvider creates a key provider from configuration.
func NewProvider(cfg config.KeysConfig) (Provider, error) {
	switch cfg.Mode {
	case "file":
		return NewFileProvider(cfg.File.SigningKey, cfg.File.KEKDir, cfg.File.ActiveKEK)
	case "memory":
		return NewMemoryProvider(cfg.File.ActiveKEK)
	default:
		return nil, fmt.Errorf("unsupported keystore mode: %s", cfg.Mode)
	}
}
