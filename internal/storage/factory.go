package storage

import (
	"context"
	"fmt"

	"github.com/chunkvault/chunkvault/pkg/config"
)

// StorageFactory creates blob store instances based on configuration
type StorageFactory struct {
	config *config.StorageConfig
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(config *config.StorageConfig) *StorageFactory {
	return &StorageFactory{config: config}
}

// CreateBlobStore creates a blob store instance based on the configured type
func (sf *StorageFactory) CreateBlobStore(ctx context.Context) (BlobStore, error) {
	switch sf.config.Type {
	case "minio", "s3":
		return NewMinioStore(ctx, sf.config)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", sf.config.Type)
	}
}
