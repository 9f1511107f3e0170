package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkvault/chunkvault/pkg/config"
)

func TestStorageFactory_UnsupportedType(t *testing.T) {
	factory := NewStorageFactory(&config.StorageConfig{Type: "carrier-pigeon"})

	store, err := factory.CreateBlobStore(context.Background())

	require.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "unsupported storage type")
}
