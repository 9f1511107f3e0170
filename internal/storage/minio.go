package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/chunkvault/chunkvault/pkg/config"
)

// MinioStore implements BlobStore against a MinIO or S3-compatible endpoint
type MinioStore struct {
	client *minio.Client
	core   *minio.Core
	bucket string
}

// NewMinioStore connects to the endpoint and ensures the bucket exists
func NewMinioStore(ctx context.Context, cfg *config.StorageConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	log.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.Bucket).Msg("blob storage initialized")

	return &MinioStore{
		client: client,
		core:   &minio.Core{Client: client},
		bucket: cfg.Bucket,
	}, nil
}

// CreateMultipartUpload starts a multipart upload for the given object key
func (m *MinioStore) CreateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	}

	uploadID, err := m.core.NewMultipartUpload(ctx, m.bucket, key, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload for %s: %w", key, err)
	}

	log.Debug().Str("key", key).Str("upload_id", uploadID).Msg("multipart upload created")
	return uploadID, nil
}

// PresignPartUpload returns a presigned PUT URL for one part
func (m *MinioStore) PresignPartUpload(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error) {
	reqParams := make(url.Values)
	reqParams.Set("partNumber", strconv.Itoa(partNumber))
	reqParams.Set("uploadId", uploadID)

	presignedURL, err := m.client.PresignHeader(ctx, http.MethodPut, m.bucket, key, ttl, reqParams, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign part %d for %s: %w", partNumber, key, err)
	}

	return presignedURL.String(), nil
}

// CompleteMultipartUpload assembles the object. Parts must already be
// sorted in ascending part order.
func (m *MinioStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (*CompletedObject, error) {
	completeParts := make([]minio.CompletePart, 0, len(parts))
	for _, part := range parts {
		completeParts = append(completeParts, minio.CompletePart{
			PartNumber: part.PartNumber,
			ETag:       strings.Trim(part.ETag, "\""),
		})
	}

	info, err := m.core.CompleteMultipartUpload(ctx, m.bucket, key, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload for %s: %w", key, err)
	}

	log.Info().
		Str("key", key).
		Str("upload_id", uploadID).
		Int("parts", len(parts)).
		Msg("multipart upload completed")

	return &CompletedObject{
		Location: info.Location,
		ETag:     info.ETag,
	}, nil
}

// AbortMultipartUpload discards an unfinished multipart upload
func (m *MinioStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := m.core.AbortMultipartUpload(ctx, m.bucket, key, uploadID); err != nil {
		return fmt.Errorf("failed to abort multipart upload for %s: %w", key, err)
	}

	log.Info().Str("key", key).Str("upload_id", uploadID).Msg("multipart upload aborted")
	return nil
}

// ListIncompleteUploads returns unfinished multipart uploads under the prefix
func (m *MinioStore) ListIncompleteUploads(ctx context.Context, prefix string) ([]RemoteUpload, error) {
	var uploads []RemoteUpload
	for info := range m.client.ListIncompleteUploads(ctx, m.bucket, prefix, true) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list incomplete uploads: %w", info.Err)
		}
		uploads = append(uploads, RemoteUpload{
			Key:         info.Key,
			UploadID:    info.UploadID,
			InitiatedAt: info.Initiated,
		})
	}
	return uploads, nil
}
