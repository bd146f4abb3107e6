package storage

import (
	"context"
	"fmt"

	"github.com/Open-Course-Factory/ocf-coursegen/internal/storage/filesystem"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/storage/garage"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/storage/gcs"
	"github.com/Open-Course-Factory/ocf-coursegen/pkg/storage"
)

// NewStorage crée une nouvelle instance de storage basée sur la configuration
func NewStorage(ctx context.Context, config *storage.StorageConfig) (storage.Storage, error) {
	switch config.Type {
	case "filesystem":
		return filesystem.NewFilesystemStorage(config.BasePath, config.PublicURL)
	case "garage":
		return garage.NewGarageStorage(ctx, config)
	case "gcs":
		return gcs.NewGCSStorage(ctx, config)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", config.Type)
	}
}
