package containerdb

import (
	"fmt"
	"os"
	"path/filepath"

	"csync-go/internal/config"
	"csync-go/internal/csync"
)

// NewStoreFromConfig creates a container store based on the config type.
func NewStoreFromConfig(cfg config.ContainerStoreConfig, clock csync.Clock, idgen csync.IDGenerator) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite container store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, "containers.db"), clock, idgen)
	case "memory":
		return NewSQLiteStore(":memory:", clock, idgen)
	default:
		return nil, fmt.Errorf("unknown container store type: %s", cfg.Type)
	}
}
