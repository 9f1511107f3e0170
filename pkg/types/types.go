package types

import (
	"time"
)

// UploadStatus is the lifecycle state of an upload session
type UploadStatus string

const (
	StatusPending   UploadStatus = "pending"
	StatusUploading UploadStatus = "uploading"
	StatusPaused    UploadStatus = "paused"
	StatusCompleted UploadStatus = "completed"
	StatusFailed    UploadStatus = "failed"
	StatusCancelled UploadStatus = "cancelled"
)

// IsTerminal reports whether no further transition is permitted out of s
func (s UploadStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// PartRecord tracks one successfully uploaded chunk
type PartRecord struct {
	PartNumber int       `json:"part_number"`
	ETag       string    `json:"etag"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// UploadSession represents one resumable multipart upload
type UploadSession struct {
	ID             string       `json:"id"`
	Filename       string       `json:"filename"`
	ContentType    string       `json:"content_type"`
	StorageKey     string       `json:"storage_key"`
	RemoteUploadID string       `json:"remote_upload_id"`
	FileSize       int64        `json:"file_size"`
	ChunkSize      int64        `json:"chunk_size"`
	Status         UploadStatus `json:"status"`
	UploadedParts  []PartRecord `json:"uploaded_parts"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	ExpiresAt      time.Time    `json:"expires_at"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	RetryCount     int          `json:"retry_count"`
	// Version increments on every write; the session store rejects
	// writes whose version does not match the stored record.
	Version int64 `json:"version"`
}

// ExpectedParts returns ceil(FileSize / ChunkSize)
func (s *UploadSession) ExpectedParts() int {
	if s.ChunkSize <= 0 {
		return 0
	}
	return int((s.FileSize + s.ChunkSize - 1) / s.ChunkSize)
}

// IsExpired reports whether the session is past its expiry time
func (s *UploadSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Part returns the recorded part with the given number, or nil
func (s *UploadSession) Part(partNumber int) *PartRecord {
	for i := range s.UploadedParts {
		if s.UploadedParts[i].PartNumber == partNumber {
			return &s.UploadedParts[i]
		}
	}
	return nil
}

// RecordPart upserts a part record by part number. Re-recording an
// existing part number overwrites the previous record in place.
func (s *UploadSession) RecordPart(part PartRecord) {
	for i := range s.UploadedParts {
		if s.UploadedParts[i].PartNumber == part.PartNumber {
			s.UploadedParts[i] = part
			return
		}
	}
	s.UploadedParts = append(s.UploadedParts, part)
}

// MissingParts returns the part numbers in 1..ExpectedParts not yet recorded
func (s *UploadSession) MissingParts() []int {
	recorded := make(map[int]bool, len(s.UploadedParts))
	for _, part := range s.UploadedParts {
		recorded[part.PartNumber] = true
	}

	missing := []int{}
	for n := 1; n <= s.ExpectedParts(); n++ {
		if !recorded[n] {
			missing = append(missing, n)
		}
	}
	return missing
}

// UploadedBytes returns the sum of recorded part sizes
func (s *UploadSession) UploadedBytes() int64 {
	var total int64
	for _, part := range s.UploadedParts {
		total += part.Size
	}
	return total
}

// InitiateUploadRequest starts a new upload session
type InitiateUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	ChunkSize   int64  `json:"chunk_size"`
}

// PresignedURLRequest asks for a part-upload URL
type PresignedURLRequest struct {
	SessionID  string `json:"session_id" binding:"required"`
	PartNumber int    `json:"part_number" binding:"required"`
}

// PartCompleteRequest reports a part the client finished uploading
type PartCompleteRequest struct {
	SessionID  string `json:"session_id" binding:"required"`
	PartNumber int    `json:"part_number" binding:"required"`
	ETag       string `json:"etag" binding:"required"`
	Size       int64  `json:"size" binding:"required"`
	Checksum   string `json:"checksum"`
}

// CompletePart identifies one part in a completion request
type CompletePart struct {
	PartNumber int    `json:"part_number" binding:"required"`
	ETag       string `json:"etag"`
}

// CompleteUploadRequest finalizes the remote object
type CompleteUploadRequest struct {
	SessionID string         `json:"session_id" binding:"required"`
	Parts     []CompletePart `json:"parts" binding:"required"`
}

// SessionRequest addresses an existing session
type SessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// ValidationReport is the result of a session consistency check
type ValidationReport struct {
	Valid         bool   `json:"valid"`
	Reason        string `json:"reason,omitempty"`
	CanRecover    bool   `json:"can_recover"`
	MissingParts  []int  `json:"missing_parts,omitempty"`
	UploadedBytes int64  `json:"uploaded_bytes,omitempty"`
	TotalBytes    int64  `json:"total_bytes,omitempty"`
}

// CompletedObject describes the finalized remote object
type CompletedObject struct {
	Location string `json:"location"`
	ETag     string `json:"etag"`
}

// APIResponse is a standard API response wrapper
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
