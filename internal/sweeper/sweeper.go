package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chunkvault/chunkvault/internal/common"
	"github.com/chunkvault/chunkvault/internal/coordinator"
	"github.com/chunkvault/chunkvault/internal/storage"
	"github.com/chunkvault/chunkvault/pkg/config"
	"github.com/chunkvault/chunkvault/pkg/types"
)

// corruptTTLThreshold is how little time-to-live a record that fails to
// parse may have left before the sweeper deletes it. Records above the
// threshold might be mid-write and are left for a later cycle.
const corruptTTLThreshold = time.Hour

// Sweeper periodically reclaims stale sessions and orphaned remote
// uploads. It never blocks the request path; every pass is best effort.
type Sweeper struct {
	sessions common.SessionStore
	blobs    storage.BlobStore
	config   *config.Config
}

// NewSweeper creates a cleanup sweeper
func NewSweeper(sessions common.SessionStore, blobs storage.BlobStore, cfg *config.Config) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		blobs:    blobs,
		config:   cfg,
	}
}

// Run executes sweep cycles until the context is cancelled. A failed cycle
// is retried after a short delay instead of waiting the full interval.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().
		Dur("interval", s.config.Upload.SweepInterval).
		Msg("cleanup sweeper started")

	for {
		delay := s.config.Upload.SweepInterval
		if err := s.Sweep(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("sweep cycle failed")
			delay = s.config.Upload.SweepRetryDelay
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("cleanup sweeper stopped")
			return
		case <-time.After(delay):
		}
	}
}

// Sweep runs one cleanup cycle: the session pass and the orphan pass are
// independent, so a failure in one does not skip the other.
func (s *Sweeper) Sweep(ctx context.Context) error {
	sessionErr := s.sweepSessions(ctx)
	orphanErr := s.sweepOrphans(ctx)
	return errors.Join(sessionErr, orphanErr)
}

// sweepSessions deletes terminal sessions older than the grace window and
// any session older than the hard ceiling regardless of status.
func (s *Sweeper) sweepSessions(ctx context.Context) error {
	keys, err := s.sessions.Keys(ctx, coordinator.SessionKeyPrefix+"*")
	if err != nil {
		return err
	}

	deleted := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		data, err := s.sessions.Get(ctx, key)
		if err != nil {
			if errors.Is(err, common.ErrKeyNotFound) {
				continue
			}
			log.Warn().Err(err).Str("key", key).Msg("failed to read session during sweep")
			continue
		}

		var session types.UploadSession
		if err := json.Unmarshal(data, &session); err != nil || session.ID == "" {
			if s.reapCorrupt(ctx, key) {
				deleted++
			}
			continue
		}

		age := time.Since(session.CreatedAt)
		remove := false
		switch {
		case age > s.config.Upload.HardCeiling:
			remove = true
			log.Info().Str("key", key).Dur("age", age).Msg("removing session past hard ceiling")
		case age > s.config.Upload.TerminalGrace && session.Status.IsTerminal():
			remove = true
			log.Info().Str("key", key).Str("status", string(session.Status)).Dur("age", age).Msg("removing finished session past grace window")
		}

		if remove {
			if err := s.sessions.Delete(ctx, key); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to delete session during sweep")
				continue
			}
			deleted++
		}
	}

	log.Info().Int("checked", len(keys)).Int("deleted", deleted).Msg("session sweep finished")
	return nil
}

// reapCorrupt deletes an unparseable record only when its remaining TTL is
// absent or nearly gone, so a record caught mid-write survives.
func (s *Sweeper) reapCorrupt(ctx context.Context, key string) bool {
	ttl, err := s.sessions.TTL(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to check TTL of corrupt session record")
		return false
	}

	if ttl < 0 {
		if err := s.sessions.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to delete corrupt session record")
			return false
		}
		log.Info().Str("key", key).Msg("deleted corrupt session record with no expiry")
		return true
	}
	if ttl < corruptTTLThreshold {
		if err := s.sessions.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to delete corrupt session record")
			return false
		}
		log.Info().Str("key", key).Dur("ttl", ttl).Msg("deleted corrupt session record expiring soon")
		return true
	}

	log.Warn().Str("key", key).Dur("ttl", ttl).Msg("corrupt session record retained, TTL still fresh")
	return false
}

// sweepOrphans aborts remote multipart uploads older than the hard
// ceiling, listed directly from the blob store. This recovers storage even
// when the corresponding session record is already gone.
func (s *Sweeper) sweepOrphans(ctx context.Context) error {
	uploads, err := s.blobs.ListIncompleteUploads(ctx, s.config.Storage.KeyPrefix)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.config.Upload.HardCeiling)
	aborted := 0
	for _, upload := range uploads {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !upload.InitiatedAt.Before(cutoff) {
			continue
		}

		if err := s.blobs.AbortMultipartUpload(ctx, upload.Key, upload.UploadID); err != nil {
			log.Warn().Err(err).Str("key", upload.Key).Str("upload_id", upload.UploadID).Msg("failed to abort stale remote upload")
			continue
		}
		aborted++
		log.Info().Str("key", upload.Key).Time("initiated", upload.InitiatedAt).Msg("aborted stale remote upload")
	}

	log.Info().Int("checked", len(uploads)).Int("aborted", aborted).Msg("orphan sweep finished")
	return nil
}
