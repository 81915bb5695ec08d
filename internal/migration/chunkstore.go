package migration

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"
	"github.com/rpattn/datamigrate/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxChunkRows bounds how many rows a single chunk may carry.
const DefaultMaxChunkRows = 5000

// ChunkStore accepts raw row batches for a session and assigns them their
// position. Chunk indices per (session, entity type) are handed out
// contiguously from zero in upload order.
type ChunkStore struct {
	sessions repository.SessionRepository
	chunks   repository.ChunkRepository
	locks    *LockTable
	logger   *zap.Logger
	maxRows  int
}

// NewChunkStore wires a chunk store. A zero maxRows falls back to
// DefaultMaxChunkRows.
func NewChunkStore(sessions repository.SessionRepository, chunks repository.ChunkRepository, locks *LockTable, logger *zap.Logger, maxRows int) *ChunkStore {
	if maxRows <= 0 {
		maxRows = DefaultMaxChunkRows
	}
	return &ChunkStore{
		sessions: sessions,
		chunks:   chunks,
		locks:    locks,
		logger:   logger,
		maxRows:  maxRows,
	}
}

// appendableStatuses lists the session states that accept further uploads.
// Validated is included so operators can add data and re-validate.
func appendableStatuses() []domain.SessionStatus {
	return []domain.SessionStatus{
		domain.SessionStatusCreated,
		domain.SessionStatusUploading,
		domain.SessionStatusValidated,
	}
}

// AppendChunk stores one batch of raw rows for an entity type and returns the
// persisted chunk. The first append moves the session into Uploading; an
// append after validation moves it back so stale results cannot be imported.
func (s *ChunkStore) AppendChunk(ctx context.Context, tenantID, sessionID uuid.UUID, entityType string, rows []domain.Record) (domain.MigrationChunk, error) {
	if len(rows) == 0 {
		return domain.MigrationChunk{}, NewError(KindInvalidConfiguration, "chunk must contain at least one row")
	}
	if len(rows) > s.maxRows {
		return domain.MigrationChunk{}, NewError(KindInvalidConfiguration, "chunk of %d rows exceeds the %d row limit", len(rows), s.maxRows)
	}

	session, err := loadSession(ctx, s.sessions, tenantID, sessionID)
	if err != nil {
		return domain.MigrationChunk{}, err
	}
	if !session.HasEntityType(entityType) {
		return domain.MigrationChunk{}, NewError(KindInvalidConfiguration, "entity type %s is not part of session %s", entityType, sessionID)
	}

	release := s.locks.acquire(sessionID.String())
	if release == nil {
		return domain.MigrationChunk{}, NewError(KindConflict, "session %s has an operation in progress", sessionID)
	}
	defer release()

	allowed := false
	for _, status := range appendableStatuses() {
		if session.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.MigrationChunk{}, NewError(KindInvalidState, "session %s is %s and no longer accepts uploads", sessionID, session.Status)
	}

	index, err := s.chunks.CountByEntityType(ctx, sessionID, entityType)
	if err != nil {
		return domain.MigrationChunk{}, err
	}

	chunk := domain.NewMigrationChunk(sessionID, entityType, index, rows)
	created, err := s.chunks.Create(ctx, chunk)
	if err != nil {
		return domain.MigrationChunk{}, err
	}

	if session.Status != domain.SessionStatusUploading {
		moved, err := s.sessions.UpdateStatus(ctx, sessionID,
			[]domain.SessionStatus{domain.SessionStatusCreated, domain.SessionStatusValidated},
			domain.SessionStatusUploading, "")
		if err != nil {
			return domain.MigrationChunk{}, err
		}
		if !moved {
			return domain.MigrationChunk{}, NewError(KindInvalidState, "session %s changed state concurrently", sessionID)
		}
	}

	if err := s.sessions.AddCounts(ctx, sessionID, repository.CountDelta{Total: created.RecordCount}); err != nil {
		return domain.MigrationChunk{}, err
	}
	if err := s.sessions.TouchActivity(ctx, sessionID, time.Now().UTC()); err != nil {
		return domain.MigrationChunk{}, err
	}

	s.logger.Debug("chunk appended",
		zap.String("session_id", sessionID.String()),
		zap.String("entity_type", entityType),
		zap.Int("chunk_index", created.ChunkIndex),
		zap.Int("record_count", created.RecordCount),
	)
	return created, nil
}

// FinalizeUpload declares the expected chunk counts per entity type and
// verifies them against what was actually stored. A mismatch means a lost or
// duplicated upload and fails the finalize without changing session state.
func (s *ChunkStore) FinalizeUpload(ctx context.Context, tenantID, sessionID uuid.UUID, declared map[string]int) error {
	session, err := loadSession(ctx, s.sessions, tenantID, sessionID)
	if err != nil {
		return err
	}
	if session.Status != domain.SessionStatusUploading {
		return NewError(KindInvalidState, "session %s is %s; finalize requires an upload in progress", sessionID, session.Status)
	}

	release := s.locks.acquire(sessionID.String())
	if release == nil {
		return NewError(KindConflict, "session %s has an operation in progress", sessionID)
	}
	defer release()

	for _, entityType := range session.EntityTypes {
		actual, err := s.chunks.CountByEntityType(ctx, sessionID, entityType)
		if err != nil {
			return err
		}
		expected, ok := declared[entityType]
		if !ok {
			expected = actual
		}
		if expected != actual {
			return NewError(KindInvalidConfiguration, "entity type %s declares %d chunks but %d were uploaded", entityType, expected, actual)
		}
		if err := s.chunks.SetDeclaredTotal(ctx, sessionID, entityType, actual); err != nil {
			return err
		}
	}

	if err := s.sessions.TouchActivity(ctx, sessionID, time.Now().UTC()); err != nil {
		return err
	}
	s.logger.Info("upload finalized", zap.String("session_id", sessionID.String()))
	return nil
}

// GetChunk loads one chunk scoped to the tenant's session.
func (s *ChunkStore) GetChunk(ctx context.Context, tenantID, chunkID uuid.UUID) (domain.MigrationChunk, error) {
	chunk, err := s.chunks.GetByID(ctx, chunkID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.MigrationChunk{}, NewError(KindNotFound, "chunk %s not found", chunkID)
		}
		return domain.MigrationChunk{}, err
	}
	if _, err := loadSession(ctx, s.sessions, tenantID, chunk.SessionID); err != nil {
		return domain.MigrationChunk{}, NewError(KindNotFound, "chunk %s not found", chunkID)
	}
	return chunk, nil
}

// ListChunks returns the session's chunks in upload order.
func (s *ChunkStore) ListChunks(ctx context.Context, tenantID, sessionID uuid.UUID) ([]domain.MigrationChunk, error) {
	if _, err := loadSession(ctx, s.sessions, tenantID, sessionID); err != nil {
		return nil, err
	}
	return s.chunks.ListBySession(ctx, sessionID)
}
