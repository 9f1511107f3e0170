package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkvault/chunkvault/internal/common"
	"github.com/chunkvault/chunkvault/internal/coordinator"
	"github.com/chunkvault/chunkvault/internal/storage"
	"github.com/chunkvault/chunkvault/pkg/config"
	"github.com/chunkvault/chunkvault/pkg/types"
)

type fakeSessionStore struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	keysErr error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (f *fakeSessionStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.data[key]
	if !ok {
		return nil, common.ErrKeyNotFound
	}
	return data, nil
}

func (f *fakeSessionStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.data[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeSessionStore) Delete(ctx context.Context, key string) error {
	delete(f.data, key)
	delete(f.ttls, key)
	return nil
}

func (f *fakeSessionStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for key := range f.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeSessionStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if _, ok := f.data[key]; !ok {
		return -2, nil
	}
	if ttl, ok := f.ttls[key]; ok {
		return ttl, nil
	}
	return -1, nil
}

func (f *fakeSessionStore) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, time.Duration, error)) error {
	next, ttl, err := fn(f.data[key])
	if err != nil {
		return err
	}
	f.data[key] = next
	f.ttls[key] = ttl
	return nil
}

type fakeBlobStore struct {
	uploads  []storage.RemoteUpload
	listErr  error
	abortErr error
	aborted  []string
}

func (f *fakeBlobStore) CreateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	return "remote-upload-1", nil
}

func (f *fakeBlobStore) PresignPartUpload(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error) {
	return "https://blob.example/" + key, nil
}

func (f *fakeBlobStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []storage.CompletedPart) (*storage.CompletedObject, error) {
	return &storage.CompletedObject{}, nil
}

func (f *fakeBlobStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if f.abortErr != nil {
		return f.abortErr
	}
	f.aborted = append(f.aborted, uploadID)
	return nil
}

func (f *fakeBlobStore) ListIncompleteUploads(ctx context.Context, prefix string) ([]storage.RemoteUpload, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.uploads, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{KeyPrefix: "uploads/"},
		Upload: config.UploadConfig{
			SweepInterval:   6 * time.Hour,
			SweepRetryDelay: time.Minute,
			TerminalGrace:   48 * time.Hour,
			HardCeiling:     7 * 24 * time.Hour,
		},
	}
}

func setupTestSweeper(t *testing.T) (*Sweeper, *fakeSessionStore, *fakeBlobStore) {
	t.Helper()
	sessions := newFakeSessionStore()
	blobs := &fakeBlobStore{}
	return NewSweeper(sessions, blobs, testConfig()), sessions, blobs
}

func seedAgedSession(t *testing.T, store *fakeSessionStore, id string, status types.UploadStatus, age time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	session := &types.UploadSession{
		ID:             id,
		Filename:       "video.mp4",
		StorageKey:     "uploads/" + id + "_video.mp4",
		RemoteUploadID: "remote-" + id,
		FileSize:       1000,
		ChunkSize:      1000,
		Status:         status,
		CreatedAt:      now.Add(-age),
		ExpiresAt:      now.Add(7*24*time.Hour - age),
		Version:        1,
	}
	data, err := json.Marshal(session)
	require.NoError(t, err)
	store.data[coordinator.SessionKey(id)] = data
	store.ttls[coordinator.SessionKey(id)] = 7*24*time.Hour - age
}

func hasSession(store *fakeSessionStore, id string) bool {
	_, ok := store.data[coordinator.SessionKey(id)]
	return ok
}

func TestSweep_SessionRetention(t *testing.T) {
	sweeper, sessions, _ := setupTestSweeper(t)
	ctx := context.Background()

	// Finished 3 days ago: past the 2-day grace, inside the 7-day ceiling.
	seedAgedSession(t, sessions, "finished", types.StatusCompleted, 3*24*time.Hour)
	// Paused 3 days ago: non-terminal sessions survive until the ceiling.
	seedAgedSession(t, sessions, "paused", types.StatusPaused, 3*24*time.Hour)
	// Anything 8 days old goes regardless of status.
	seedAgedSession(t, sessions, "ancient", types.StatusUploading, 8*24*time.Hour)
	// Fresh terminal session stays inside the grace window.
	seedAgedSession(t, sessions, "recent", types.StatusCancelled, time.Hour)

	require.NoError(t, sweeper.Sweep(ctx))

	assert.False(t, hasSession(sessions, "finished"))
	assert.True(t, hasSession(sessions, "paused"))
	assert.False(t, hasSession(sessions, "ancient"))
	assert.True(t, hasSession(sessions, "recent"))
}

func TestSweep_CorruptRecordExpiringSoon(t *testing.T) {
	sweeper, sessions, _ := setupTestSweeper(t)
	key := coordinator.SessionKey("corrupt")
	sessions.data[key] = []byte("{not json")
	sessions.ttls[key] = 30 * time.Minute

	require.NoError(t, sweeper.Sweep(context.Background()))

	_, ok := sessions.data[key]
	assert.False(t, ok)
}

func TestSweep_CorruptRecordWithFreshTTLRetained(t *testing.T) {
	sweeper, sessions, _ := setupTestSweeper(t)
	key := coordinator.SessionKey("corrupt")
	sessions.data[key] = []byte("{not json")
	sessions.ttls[key] = 6 * 24 * time.Hour

	require.NoError(t, sweeper.Sweep(context.Background()))

	_, ok := sessions.data[key]
	assert.True(t, ok, "record might be mid-write, leave it for a later cycle")
}

func TestSweep_CorruptRecordWithoutTTL(t *testing.T) {
	sweeper, sessions, _ := setupTestSweeper(t)
	key := coordinator.SessionKey("corrupt")
	sessions.data[key] = []byte("{not json")
	// No TTL entry: the fake reports -1, mirroring a key with no expiry.

	require.NoError(t, sweeper.Sweep(context.Background()))

	_, ok := sessions.data[key]
	assert.False(t, ok)
}

func TestSweep_OrphanedRemoteUploads(t *testing.T) {
	sweeper, _, blobs := setupTestSweeper(t)
	now := time.Now()

	blobs.uploads = []storage.RemoteUpload{
		// No session record anywhere, initiated 10 days ago.
		{Key: "uploads/lost_video.mp4", UploadID: "orphan-old", InitiatedAt: now.Add(-10 * 24 * time.Hour)},
		// Still inside the ceiling, must be left alone.
		{Key: "uploads/active_video.mp4", UploadID: "orphan-new", InitiatedAt: now.Add(-24 * time.Hour)},
	}

	require.NoError(t, sweeper.Sweep(context.Background()))

	assert.Equal(t, []string{"orphan-old"}, blobs.aborted)
}

func TestSweep_OrphanPassRunsDespiteSessionPassFailure(t *testing.T) {
	sweeper, sessions, blobs := setupTestSweeper(t)
	sessions.keysErr = errors.New("redis down")
	blobs.uploads = []storage.RemoteUpload{
		{Key: "uploads/lost_video.mp4", UploadID: "orphan-old", InitiatedAt: time.Now().Add(-10 * 24 * time.Hour)},
	}

	err := sweeper.Sweep(context.Background())

	require.Error(t, err, "total session-store outage is reported for backoff")
	assert.Equal(t, []string{"orphan-old"}, blobs.aborted, "independent passes")
}

func TestSweep_AbortFailureContinues(t *testing.T) {
	sweeper, _, blobs := setupTestSweeper(t)
	blobs.abortErr = errors.New("access denied")
	blobs.uploads = []storage.RemoteUpload{
		{Key: "uploads/lost_video.mp4", UploadID: "orphan-old", InitiatedAt: time.Now().Add(-10 * 24 * time.Hour)},
	}

	assert.NoError(t, sweeper.Sweep(context.Background()), "per-item failures are logged, not fatal")
}

func TestRun_StopsOnCancel(t *testing.T) {
	sweeper, _, _ := setupTestSweeper(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}
