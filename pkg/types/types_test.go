package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpectedParts(t *testing.T) {
	tests := []struct {
		name      string
		fileSize  int64
		chunkSize int64
		expected  int
	}{
		{"exact multiple", 20_000_000, 10_000_000, 2},
		{"with remainder", 25_000_000, 10_000_000, 3},
		{"single part", 1_000, 10_000_000, 1},
		{"file equals chunk", 10_000_000, 10_000_000, 1},
		{"zero chunk size", 10_000_000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &UploadSession{FileSize: tt.fileSize, ChunkSize: tt.chunkSize}
			assert.Equal(t, tt.expected, session.ExpectedParts())
		})
	}
}

func TestRecordPart_UpsertsByPartNumber(t *testing.T) {
	session := &UploadSession{FileSize: 25_000_000, ChunkSize: 10_000_000}

	session.RecordPart(PartRecord{PartNumber: 1, ETag: "a", Size: 10_000_000})
	session.RecordPart(PartRecord{PartNumber: 2, ETag: "b", Size: 10_000_000})
	session.RecordPart(PartRecord{PartNumber: 1, ETag: "c", Size: 10_000_000})

	assert.Len(t, session.UploadedParts, 2)
	assert.Equal(t, "c", session.Part(1).ETag, "re-recording overwrites in place")
	assert.Equal(t, 1, session.UploadedParts[0].PartNumber, "insertion order preserved")
}

func TestMissingParts(t *testing.T) {
	session := &UploadSession{FileSize: 25_000_000, ChunkSize: 10_000_000}
	session.RecordPart(PartRecord{PartNumber: 1, Size: 10_000_000})
	session.RecordPart(PartRecord{PartNumber: 3, Size: 5_000_000})

	assert.Equal(t, []int{2}, session.MissingParts())
	assert.Equal(t, int64(15_000_000), session.UploadedBytes())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusUploading.IsTerminal())
	assert.False(t, StatusPaused.IsTerminal())
}

func TestIsExpired(t *testing.T) {
	now := time.Now().UTC()
	session := &UploadSession{ExpiresAt: now.Add(time.Hour)}

	assert.False(t, session.IsExpired(now))
	assert.True(t, session.IsExpired(now.Add(2*time.Hour)))
}
