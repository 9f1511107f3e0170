package storage

import (
	"context"
	"time"
)

// CompletedPart identifies one uploaded part when finalizing an object
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// CompletedObject describes the assembled remote object
type CompletedObject struct {
	Location string
	ETag     string
}

// RemoteUpload is an unfinished multipart upload as reported by the blob store
type RemoteUpload struct {
	Key         string
	UploadID    string
	InitiatedAt time.Time
}

// BlobStore defines the interface for the remote multipart upload backend
type BlobStore interface {
	// CreateMultipartUpload starts a multipart upload and returns its remote upload ID
	CreateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (string, error)

	// PresignPartUpload returns a time-limited URL for uploading one part
	PresignPartUpload(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error)

	// CompleteMultipartUpload assembles the object from parts, which must be in ascending part order
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (*CompletedObject, error)

	// AbortMultipartUpload discards an unfinished multipart upload
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error

	// ListIncompleteUploads returns unfinished multipart uploads under the prefix
	ListIncompleteUploads(ctx context.Context, prefix string) ([]RemoteUpload, error)
}
