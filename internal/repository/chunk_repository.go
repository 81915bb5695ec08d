package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type chunkRepository struct {
	pool *pgxpool.Pool
}

// NewChunkRepository wires a chunk repository backed by pgxpool.
func NewChunkRepository(pool *pgxpool.Pool) ChunkRepository {
	return &chunkRepository{pool: pool}
}

const chunkColumns = `id, session_id, entity_type, chunk_index, total_chunks, record_count,
	rows_payload, status, created_at, validated_at, imported_at`

func (r *chunkRepository) Create(ctx context.Context, chunk domain.MigrationChunk) (domain.MigrationChunk, error) {
	payload, err := json.Marshal(chunk.Rows)
	if err != nil {
		return domain.MigrationChunk{}, fmt.Errorf("failed to marshal chunk rows: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO migration_chunks (
			id, session_id, entity_type, chunk_index, total_chunks, record_count,
			rows_payload, status, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		chunk.ID,
		chunk.SessionID,
		chunk.EntityType,
		chunk.ChunkIndex,
		chunk.TotalChunks,
		chunk.RecordCount,
		payload,
		string(chunk.Status),
		chunk.CreatedAt,
	)
	if err != nil {
		return domain.MigrationChunk{}, fmt.Errorf("failed to create chunk: %w", err)
	}

	return chunk, nil
}

func (r *chunkRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.MigrationChunk, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+chunkColumns+` FROM migration_chunks WHERE id = $1`,
		id,
	)
	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MigrationChunk{}, ErrNotFound
		}
		return domain.MigrationChunk{}, fmt.Errorf("failed to get chunk: %w", err)
	}
	return chunk, nil
}

func (r *chunkRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.MigrationChunk, error) {
	return r.list(
		ctx,
		`SELECT `+chunkColumns+`
		 FROM migration_chunks
		 WHERE session_id = $1
		 ORDER BY entity_type, chunk_index`,
		sessionID,
	)
}

func (r *chunkRepository) ListByEntityType(ctx context.Context, sessionID uuid.UUID, entityType string) ([]domain.MigrationChunk, error) {
	return r.list(
		ctx,
		`SELECT `+chunkColumns+`
		 FROM migration_chunks
		 WHERE session_id = $1 AND entity_type = $2
		 ORDER BY chunk_index`,
		sessionID,
		entityType,
	)
}

func (r *chunkRepository) list(ctx context.Context, query string, args ...any) ([]domain.MigrationChunk, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	chunks := []domain.MigrationChunk{}
	for rows.Next() {
		chunk, scanErr := scanChunk(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", scanErr)
		}
		chunks = append(chunks, chunk)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", rowsErr)
	}

	return chunks, nil
}

func (r *chunkRepository) CountByEntityType(ctx context.Context, sessionID uuid.UUID, entityType string) (int, error) {
	var count int
	err := r.pool.QueryRow(
		ctx,
		`SELECT count(*) FROM migration_chunks WHERE session_id = $1 AND entity_type = $2`,
		sessionID,
		entityType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

func (r *chunkRepository) SetDeclaredTotal(ctx context.Context, sessionID uuid.UUID, entityType string, totalChunks int) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE migration_chunks
		 SET total_chunks = $1
		 WHERE session_id = $2 AND entity_type = $3`,
		totalChunks,
		sessionID,
		entityType,
	)
	if err != nil {
		return fmt.Errorf("failed to set declared chunk total: %w", err)
	}
	return nil
}

func (r *chunkRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ChunkStatus, at time.Time) error {
	var column string
	switch status {
	case domain.ChunkStatusValidated:
		column = "validated_at"
	case domain.ChunkStatusImported:
		column = "imported_at"
	}

	query := `UPDATE migration_chunks SET status = $1 WHERE id = $2`
	args := []any{string(status), id}
	if column != "" {
		query = `UPDATE migration_chunks SET status = $1, ` + column + ` = $3 WHERE id = $2`
		args = append(args, at)
	}

	_, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update chunk status: %w", err)
	}
	return nil
}

func (r *chunkRepository) DeletePayloads(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE migration_chunks SET rows_payload = '[]'::jsonb WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete chunk payloads: %w", err)
	}
	return nil
}

func scanChunk(row pgx.Row) (domain.MigrationChunk, error) {
	var (
		chunk       domain.MigrationChunk
		status      string
		payload     []byte
		validatedAt pgtype.Timestamptz
		importedAt  pgtype.Timestamptz
	)

	err := row.Scan(
		&chunk.ID,
		&chunk.SessionID,
		&chunk.EntityType,
		&chunk.ChunkIndex,
		&chunk.TotalChunks,
		&chunk.RecordCount,
		&payload,
		&status,
		&chunk.CreatedAt,
		&validatedAt,
		&importedAt,
	)
	if err != nil {
		return domain.MigrationChunk{}, err
	}

	chunk.Status = domain.ChunkStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &chunk.Rows); err != nil {
			return domain.MigrationChunk{}, fmt.Errorf("failed to unmarshal chunk rows: %w", err)
		}
	}
	if validatedAt.Valid {
		t := validatedAt.Time
		chunk.ValidatedAt = &t
	}
	if importedAt.Valid {
		t := importedAt.Time
		chunk.ImportedAt = &t
	}

	return chunk, nil
}
