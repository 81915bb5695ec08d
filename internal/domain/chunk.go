package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChunkStatus is the processing state of one raw row batch.
type ChunkStatus string

const (
	ChunkStatusPending   ChunkStatus = "pending"
	ChunkStatusValidated ChunkStatus = "validated"
	ChunkStatusImported  ChunkStatus = "imported"
	ChunkStatusFailed    ChunkStatus = "failed"
)

// CanTransition reports whether moving from s to next is allowed. Failed is
// reachable from any state short of Imported; re-validation keeps a chunk in
// Validated. Services enforce the table through status checks before their
// updates; this method is the reference those checks must stay consistent
// with.
func (s ChunkStatus) CanTransition(next ChunkStatus) bool {
	if next == ChunkStatusFailed {
		return s != ChunkStatusImported
	}
	switch s {
	case ChunkStatusPending:
		return next == ChunkStatusValidated
	case ChunkStatusValidated:
		return next == ChunkStatusValidated || next == ChunkStatusImported
	case ChunkStatusFailed:
		return next == ChunkStatusValidated
	}
	return false
}

// MigrationChunk is a bounded partition of raw rows for exactly one entity
// type within a session. Chunk indices for a (session, entity type) pair are
// contiguous integers starting at zero.
type MigrationChunk struct {
	ID          uuid.UUID   `json:"id"`
	SessionID   uuid.UUID   `json:"session_id"`
	EntityType  string      `json:"entity_type"`
	ChunkIndex  int         `json:"chunk_index"`
	TotalChunks int         `json:"total_chunks"` // zero until FinalizeUpload declares the count
	RecordCount int         `json:"record_count"`
	Rows        []Record    `json:"rows"`
	Status      ChunkStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	ValidatedAt *time.Time  `json:"validated_at,omitempty"`
	ImportedAt  *time.Time  `json:"imported_at,omitempty"`
}

// NewMigrationChunk creates a Pending chunk for the given slot.
func NewMigrationChunk(sessionID uuid.UUID, entityType string, chunkIndex int, rows []Record) MigrationChunk {
	copied := make([]Record, len(rows))
	for i, row := range rows {
		copied[i] = row.Clone()
	}
	return MigrationChunk{
		ID:          uuid.New(),
		SessionID:   sessionID,
		EntityType:  entityType,
		ChunkIndex:  chunkIndex,
		RecordCount: len(copied),
		Rows:        copied,
		Status:      ChunkStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}
