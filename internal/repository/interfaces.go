package repository

import (
	"context"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"

	"github.com/google/uuid"
)

// CountDelta adjusts session aggregate counters by atomic increments. Counts
// are never written by read-modify-write on a loaded session; every component
// goes through SessionRepository.AddCounts or SetCounts.
type CountDelta struct {
	Total        int
	Valid        int
	Warning      int
	Error        int
	Imported     int
	Skipped      int
	ImportFailed int
}

// SessionRepository defines persistence for migration sessions
type SessionRepository interface {
	Create(ctx context.Context, session domain.MigrationSession) (domain.MigrationSession, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.MigrationSession, error)
	List(ctx context.Context, tenantID uuid.UUID, filter domain.SessionFilter) ([]domain.MigrationSession, error)
	// UpdateStatus performs a guarded transition: the row is only updated when
	// its current status is in from. Returns false when the guard missed.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []domain.SessionStatus, to domain.SessionStatus, lastError string) (bool, error)
	SetValidatedAt(ctx context.Context, id uuid.UUID, at time.Time) error
	SetImportStarted(ctx context.Context, id uuid.UUID, at time.Time, jobID *uuid.UUID) error
	SetCompletedAt(ctx context.Context, id uuid.UUID, at time.Time) error
	TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error
	AddCounts(ctx context.Context, id uuid.UUID, delta CountDelta) error
	SetCounts(ctx context.Context, id uuid.UUID, counts domain.SessionCounts) error
	// ListExpirable returns non-terminal sessions whose expiration horizon has
	// passed.
	ListExpirable(ctx context.Context, now time.Time) ([]domain.MigrationSession, error)
}

// ChunkRepository defines persistence for raw row batches
type ChunkRepository interface {
	Create(ctx context.Context, chunk domain.MigrationChunk) (domain.MigrationChunk, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.MigrationChunk, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.MigrationChunk, error)
	ListByEntityType(ctx context.Context, sessionID uuid.UUID, entityType string) ([]domain.MigrationChunk, error)
	CountByEntityType(ctx context.Context, sessionID uuid.UUID, entityType string) (int, error)
	SetDeclaredTotal(ctx context.Context, sessionID uuid.UUID, entityType string, totalChunks int) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ChunkStatus, at time.Time) error
	// DeletePayloads frees raw row data for an expired session while keeping
	// chunk metadata for audit.
	DeletePayloads(ctx context.Context, sessionID uuid.UUID) error
}

// ResultRepository defines persistence for per-row validation outcomes
type ResultRepository interface {
	// ReplaceForChunk removes prior results for the chunk and stores the new
	// set, keeping re-validation idempotent.
	ReplaceForChunk(ctx context.Context, chunkID uuid.UUID, results []domain.MigrationValidationResult) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.MigrationValidationResult, error)
	List(ctx context.Context, sessionID uuid.UUID, filter domain.ResultFilter) ([]domain.MigrationValidationResult, error)
	// ListImportable streams rows of one entity type that are still eligible
	// for import, in ascending GlobalRowIndex order.
	ListImportable(ctx context.Context, sessionID uuid.UUID, entityType string) ([]domain.MigrationValidationResult, error)
	CountByStatus(ctx context.Context, sessionID uuid.UUID) (map[domain.RowStatus]int, error)
	SetFix(ctx context.Context, id uuid.UUID, status domain.RowStatus, fixed domain.Record, errs, warnings []domain.RowIssue, note string) error
	SetSkipped(ctx context.Context, id uuid.UUID, reason string) error
	SetIgnored(ctx context.Context, id uuid.UUID) error
	SetImported(ctx context.Context, id uuid.UUID, at time.Time) error
	SetImportFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// EntityRepository defines the persistence surface the importer and the
// validation rules need from the destination domain layer.
type EntityRepository interface {
	// Upsert persists an entity keyed by (tenant, entity type, business key).
	// Re-importing the same logical row updates in place instead of
	// duplicating.
	Upsert(ctx context.Context, entity domain.Entity) (domain.Entity, error)
	// ListBusinessKeys returns the existing keys for duplicate and reference
	// checks during validation.
	ListBusinessKeys(ctx context.Context, tenantID uuid.UUID, entityType string) (map[string]bool, error)
}
