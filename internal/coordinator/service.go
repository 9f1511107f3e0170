package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chunkvault/chunkvault/internal/common"
	"github.com/chunkvault/chunkvault/internal/storage"
	"github.com/chunkvault/chunkvault/pkg/config"
	"github.com/chunkvault/chunkvault/pkg/types"
)

// SessionKeyPrefix prefixes every persisted session record key
const SessionKeyPrefix = "upload_session:"

// Service owns the upload session state machine. It is the only component
// that mutates session records.
type Service struct {
	sessions common.SessionStore
	blobs    storage.BlobStore
	config   *config.Config
}

// NewService creates a new upload coordinator
func NewService(sessions common.SessionStore, blobs storage.BlobStore, cfg *config.Config) *Service {
	return &Service{
		sessions: sessions,
		blobs:    blobs,
		config:   cfg,
	}
}

// SessionKey returns the persisted record key for a session ID
func SessionKey(id string) string {
	return SessionKeyPrefix + id
}

// CreateSession starts a remote multipart upload and persists a new
// session in the Pending state.
func (s *Service) CreateSession(ctx context.Context, req *types.InitiateUploadRequest) (*types.UploadSession, error) {
	if req.FileSize <= 0 {
		return nil, validationFailure("file_size must be positive, got %d", req.FileSize)
	}

	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.config.Upload.DefaultChunkSize
	}
	if chunkSize <= 0 {
		return nil, validationFailure("chunk_size must be positive, got %d", chunkSize)
	}

	id := uuid.New().String()
	storageKey := fmt.Sprintf("%s%s_%s", s.config.Storage.KeyPrefix, id, req.Filename)

	uploadID, err := s.blobs.CreateMultipartUpload(ctx, storageKey, req.ContentType, map[string]string{
		"session-id":        id,
		"original-filename": req.Filename,
		"file-size":         fmt.Sprintf("%d", req.FileSize),
	})
	if err != nil {
		return nil, storageBackend("failed to create remote multipart upload", err)
	}

	now := time.Now().UTC()
	session := &types.UploadSession{
		ID:             id,
		Filename:       req.Filename,
		ContentType:    req.ContentType,
		StorageKey:     storageKey,
		RemoteUploadID: uploadID,
		FileSize:       req.FileSize,
		ChunkSize:      chunkSize,
		Status:         types.StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.config.Upload.SessionTTL),
		Version:        1,
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, storageBackend("failed to encode session", err)
	}

	if err := s.sessions.Put(ctx, SessionKey(id), data, s.config.Upload.SessionTTL); err != nil {
		// The remote upload would otherwise linger until the sweeper
		// reclaims it.
		if abortErr := s.blobs.AbortMultipartUpload(ctx, storageKey, uploadID); abortErr != nil {
			log.Warn().Err(abortErr).Str("key", storageKey).Msg("failed to abort remote upload after store failure")
		}
		return nil, storageBackend("failed to store session", err)
	}

	log.Info().
		Str("session_id", id).
		Str("key", storageKey).
		Int64("file_size", req.FileSize).
		Int("expected_parts", session.ExpectedParts()).
		Msg("upload session created")

	return session, nil
}

// GetSession retrieves a session by ID
func (s *Service) GetSession(ctx context.Context, sessionID string) (*types.UploadSession, error) {
	data, err := s.sessions.Get(ctx, SessionKey(sessionID))
	if err != nil {
		if errors.Is(err, common.ErrKeyNotFound) {
			return nil, notFound("session %s not found", sessionID)
		}
		return nil, storageBackend("failed to read session", err)
	}

	session, err := decodeSession(data)
	if err != nil {
		return nil, storageBackend("corrupt session record", err)
	}
	return session, nil
}

// IssuePartUploadURL returns a time-limited URL the client can use to
// upload one part directly to the blob store. The session is not mutated.
func (s *Service) IssuePartUploadURL(ctx context.Context, sessionID string, partNumber int) (string, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if session.Status.IsTerminal() {
		return "", invalidTransition("cannot issue part URL for %s session", session.Status)
	}
	if session.IsExpired(time.Now().UTC()) {
		return "", expiredSession("session %s expired at %s", sessionID, session.ExpiresAt.Format(time.RFC3339))
	}
	if partNumber < 1 || partNumber > session.ExpectedParts() {
		return "", validationFailure("part number %d out of range 1..%d", partNumber, session.ExpectedParts())
	}

	url, err := s.blobs.PresignPartUpload(ctx, session.StorageKey, session.RemoteUploadID, partNumber, s.config.Upload.PartURLTTL)
	if err != nil {
		return "", storageBackend("failed to presign part upload", err)
	}
	return url, nil
}

// RecordPartComplete upserts a part record by part number. Recording the
// same part twice overwrites the earlier record. The first part recorded
// against a Pending session advances it to Uploading.
func (s *Service) RecordPartComplete(ctx context.Context, sessionID string, part *types.PartRecord) (*types.UploadSession, error) {
	return s.updateSession(ctx, sessionID, func(session *types.UploadSession) error {
		if session.Status.IsTerminal() {
			return invalidTransition("cannot record part on %s session", session.Status)
		}
		if session.IsExpired(time.Now().UTC()) {
			return expiredSession("session %s expired", sessionID)
		}

		expected := session.ExpectedParts()
		if part.PartNumber < 1 || part.PartNumber > expected {
			return validationFailure("part number %d out of range 1..%d", part.PartNumber, expected)
		}
		if part.Size <= 0 || part.Size > session.ChunkSize {
			return validationFailure("part %d size %d exceeds chunk size %d", part.PartNumber, part.Size, session.ChunkSize)
		}
		if part.PartNumber == expected {
			remainder := session.FileSize - int64(expected-1)*session.ChunkSize
			if part.Size > remainder {
				return validationFailure("final part size %d exceeds remaining %d bytes", part.Size, remainder)
			}
		}

		record := *part
		record.UploadedAt = time.Now().UTC()
		session.RecordPart(record)

		if session.Status == types.StatusPending {
			session.Status = types.StatusUploading
		}
		return nil
	})
}

// CompleteUpload finalizes the remote object from the caller-supplied part
// list. The supplied parts must cover exactly 1..ExpectedParts with no gaps
// or duplicates; ETags missing from the request are resolved from the
// session's recorded parts. On backend failure the session is unchanged and
// the call may be retried.
func (s *Service) CompleteUpload(ctx context.Context, sessionID string, parts []types.CompletePart) (*types.CompletedObject, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status.IsTerminal() {
		return nil, invalidTransition("cannot complete %s session", session.Status)
	}
	if session.IsExpired(time.Now().UTC()) {
		return nil, expiredSession("session %s expired", sessionID)
	}

	ordered, err := resolveParts(session, parts)
	if err != nil {
		return nil, err
	}

	object, err := s.blobs.CompleteMultipartUpload(ctx, session.StorageKey, session.RemoteUploadID, ordered)
	if err != nil {
		return nil, storageBackend("failed to complete remote multipart upload", err)
	}

	updated, err := s.updateSession(ctx, sessionID, func(session *types.UploadSession) error {
		if session.Status.IsTerminal() {
			return common.ErrNoChange
		}
		now := time.Now().UTC()
		session.Status = types.StatusCompleted
		session.CompletedAt = &now
		return nil
	})
	if err != nil {
		// The remote object is already assembled; surface the store
		// failure but log the inconsistency for the sweeper to resolve.
		log.Error().Err(err).Str("session_id", sessionID).Msg("object completed but session update failed")
		return nil, err
	}

	log.Info().
		Str("session_id", sessionID).
		Str("key", updated.StorageKey).
		Str("etag", object.ETag).
		Msg("upload completed")

	return &types.CompletedObject{Location: object.Location, ETag: object.ETag}, nil
}

// PauseUpload transitions an Uploading session to Paused
func (s *Service) PauseUpload(ctx context.Context, sessionID string) (*types.UploadSession, error) {
	return s.updateSession(ctx, sessionID, func(session *types.UploadSession) error {
		if session.Status != types.StatusUploading {
			return invalidTransition("cannot pause %s session", session.Status)
		}
		session.Status = types.StatusPaused
		return nil
	})
}

// ResumeUpload transitions a Paused or Failed session back to Uploading.
// Resuming a session that is already Uploading or Completed is a no-op
// reporting the current status. Resuming from Failed clears the error
// message and counts a retry.
func (s *Service) ResumeUpload(ctx context.Context, sessionID string) (*types.UploadSession, error) {
	return s.updateSession(ctx, sessionID, func(session *types.UploadSession) error {
		switch session.Status {
		case types.StatusPaused:
			session.Status = types.StatusUploading
			return nil
		case types.StatusFailed:
			session.Status = types.StatusUploading
			session.ErrorMessage = ""
			session.RetryCount++
			return nil
		case types.StatusUploading, types.StatusCompleted:
			return common.ErrNoChange
		default:
			return invalidTransition("cannot resume %s session", session.Status)
		}
	})
}

// AbortUpload aborts the remote multipart upload (best effort) and marks
// the session Cancelled. An absent session is treated as already cancelled
// and returns a nil session with no error; an already cancelled session is
// returned unchanged.
func (s *Service) AbortUpload(ctx context.Context, sessionID string) (*types.UploadSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return nil, nil
		}
		return nil, err
	}

	if session.Status == types.StatusCancelled {
		return session, nil
	}
	if session.Status.IsTerminal() {
		return nil, invalidTransition("cannot abort %s session", session.Status)
	}

	if err := s.blobs.AbortMultipartUpload(ctx, session.StorageKey, session.RemoteUploadID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to abort remote upload, cancelling session anyway")
	}

	return s.updateSession(ctx, sessionID, func(session *types.UploadSession) error {
		if session.Status == types.StatusCancelled {
			return common.ErrNoChange
		}
		session.Status = types.StatusCancelled
		return nil
	})
}

// ValidateSession reports the consistency of a session without mutating it.
// The remote upload listing is authoritative for bytes; the session record
// is only a cache of progress.
func (s *Service) ValidateSession(ctx context.Context, sessionID string) (*types.ValidationReport, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return &types.ValidationReport{Valid: false, Reason: "Session not found"}, nil
		}
		return nil, err
	}

	report := &types.ValidationReport{
		MissingParts:  session.MissingParts(),
		UploadedBytes: session.UploadedBytes(),
		TotalBytes:    session.FileSize,
	}

	if session.IsExpired(time.Now().UTC()) {
		report.Reason = "Session expired"
		return report, nil
	}

	switch session.Status {
	case types.StatusCompleted:
		report.Valid = true
		return report, nil
	case types.StatusCancelled:
		report.Reason = "Session cancelled"
		return report, nil
	}

	// Cross-check that the remote upload still exists. A listing failure
	// degrades to a local-only check rather than failing validation.
	uploads, err := s.blobs.ListIncompleteUploads(ctx, session.StorageKey)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("remote upload listing unavailable during validation")
	} else {
		found := false
		for _, upload := range uploads {
			if upload.UploadID == session.RemoteUploadID {
				found = true
				break
			}
		}
		if !found {
			report.Reason = "Remote upload not found"
			return report, nil
		}
	}

	report.Valid = true
	report.CanRecover = len(report.MissingParts) > 0
	return report, nil
}

// ListActiveSessions returns all sessions that are neither Completed nor
// Cancelled. Unreadable records are skipped.
func (s *Service) ListActiveSessions(ctx context.Context) ([]*types.UploadSession, error) {
	keys, err := s.sessions.Keys(ctx, SessionKeyPrefix+"*")
	if err != nil {
		return nil, storageBackend("failed to list sessions", err)
	}

	sessions := make([]*types.UploadSession, 0, len(keys))
	for _, key := range keys {
		data, err := s.sessions.Get(ctx, key)
		if err != nil {
			if errors.Is(err, common.ErrKeyNotFound) {
				continue
			}
			return nil, storageBackend("failed to read session", err)
		}

		session, err := decodeSession(data)
		if err != nil {
			log.Warn().Str("key", key).Err(err).Msg("skipping unreadable session record")
			continue
		}
		if session.Status == types.StatusCompleted || session.Status == types.StatusCancelled {
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// updateSession runs a compare-and-swap transition on one session record.
// The mutate callback may return ErrNoChange to report success without a
// write (idempotent no-ops).
func (s *Service) updateSession(ctx context.Context, sessionID string, mutate func(*types.UploadSession) error) (*types.UploadSession, error) {
	var result *types.UploadSession

	err := s.sessions.Update(ctx, SessionKey(sessionID), func(current []byte) ([]byte, time.Duration, error) {
		if current == nil {
			return nil, 0, notFound("session %s not found", sessionID)
		}

		session, err := decodeSession(current)
		if err != nil {
			return nil, 0, storageBackend("corrupt session record", err)
		}

		if err := mutate(session); err != nil {
			if errors.Is(err, common.ErrNoChange) {
				result = session
			}
			return nil, 0, err
		}

		session.Version++
		data, err := json.Marshal(session)
		if err != nil {
			return nil, 0, storageBackend("failed to encode session", err)
		}

		// Records keep the TTL remaining from creation. Sessions written
		// right at the expiry edge get a short floor so the caller can
		// still read back the result.
		ttl := time.Until(session.ExpiresAt)
		if ttl < time.Minute {
			ttl = time.Minute
		}

		result = session
		return data, ttl, nil
	})

	if err != nil {
		var coordErr *Error
		if errors.As(err, &coordErr) {
			return nil, coordErr
		}
		if errors.Is(err, common.ErrUpdateConflict) {
			return nil, concurrencyConflict("session update kept conflicting with concurrent writers")
		}
		return nil, storageBackend("failed to update session", err)
	}
	return result, nil
}

// resolveParts validates that the supplied parts cover exactly 1..N and
// returns them ordered by ascending part number with ETags resolved.
func resolveParts(session *types.UploadSession, parts []types.CompletePart) ([]storage.CompletedPart, error) {
	expected := session.ExpectedParts()
	if len(parts) != expected {
		return nil, validationFailure("expected %d parts, got %d", expected, len(parts))
	}

	seen := make(map[int]bool, len(parts))
	ordered := make([]storage.CompletedPart, 0, len(parts))
	for _, part := range parts {
		if part.PartNumber < 1 || part.PartNumber > expected {
			return nil, validationFailure("part number %d out of range 1..%d", part.PartNumber, expected)
		}
		if seen[part.PartNumber] {
			return nil, validationFailure("duplicate part number %d", part.PartNumber)
		}
		seen[part.PartNumber] = true

		etag := part.ETag
		if etag == "" {
			if recorded := session.Part(part.PartNumber); recorded != nil {
				etag = recorded.ETag
			}
		}
		if etag == "" {
			return nil, validationFailure("no etag for part %d", part.PartNumber)
		}

		ordered = append(ordered, storage.CompletedPart{PartNumber: part.PartNumber, ETag: etag})
	}

	// Remote byte layout depends on ascending part order.
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].PartNumber < ordered[j].PartNumber
	})
	return ordered, nil
}

func decodeSession(data []byte) (*types.UploadSession, error) {
	var session types.UploadSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("session record missing id")
	}
	return &session, nil
}
