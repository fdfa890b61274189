package store

import (
	"context"
	"fmt"

	"csync-go/internal/config"
	"csync-go/internal/csync"
)

// NewContentStoreFromConfig creates a ContentStore implementation based on
// the store config type.
func NewContentStoreFromConfig(ctx context.Context, cfg config.ContentStoreConfig) (csync.ContentStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem store requires fs_root to be set")
		}
		return NewFileSystemStore(cfg.FSRoot)
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown content store type: %s", cfg.Type)
	}
}
