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

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository wires a session repository backed by pgxpool.
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

const sessionColumns = `id, tenant_id, creator_id, source_type, source_name, status, entity_types,
	total_records, valid_records, warning_records, error_records,
	imported_records, skipped_records, import_failed_records,
	options, field_mapping, last_error, import_job_id,
	created_at, last_activity_at, validated_at, import_started_at, completed_at, expires_at`

func (r *sessionRepository) Create(ctx context.Context, session domain.MigrationSession) (domain.MigrationSession, error) {
	optionsJSON, err := json.Marshal(session.Options)
	if err != nil {
		return domain.MigrationSession{}, fmt.Errorf("failed to marshal session options: %w", err)
	}
	mappingJSON, err := json.Marshal(session.FieldMapping)
	if err != nil {
		return domain.MigrationSession{}, fmt.Errorf("failed to marshal field mapping: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO migration_sessions (
			id, tenant_id, creator_id, source_type, source_name, status, entity_types,
			options, field_mapping, created_at, last_activity_at, expires_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		session.ID,
		session.TenantID,
		session.CreatorID,
		session.SourceType,
		session.SourceName,
		string(session.Status),
		session.EntityTypes,
		optionsJSON,
		mappingJSON,
		session.CreatedAt,
		session.LastActivityAt,
		session.ExpiresAt,
	)
	if err != nil {
		return domain.MigrationSession{}, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.MigrationSession, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+sessionColumns+` FROM migration_sessions WHERE id = $1`,
		id,
	)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MigrationSession{}, ErrNotFound
		}
		return domain.MigrationSession{}, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (r *sessionRepository) List(ctx context.Context, tenantID uuid.UUID, filter domain.SessionFilter) ([]domain.MigrationSession, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+sessionColumns+`
		 FROM migration_sessions
		 WHERE tenant_id = $1
		   AND ($2 = '' OR status = $2)
		   AND ($3 = '' OR source_type = $3)
		 ORDER BY created_at DESC
		 LIMIT $4 OFFSET $5`,
		tenantID,
		string(filter.Status),
		filter.SourceType,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.MigrationSession{}
	for rows.Next() {
		session, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan session: %w", scanErr)
		}
		sessions = append(sessions, session)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", rowsErr)
	}

	return sessions, nil
}

func (r *sessionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []domain.SessionStatus, to domain.SessionStatus, lastError string) (bool, error) {
	guard := make([]string, len(from))
	for i, status := range from {
		guard[i] = string(status)
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE migration_sessions
		 SET status = $1,
		     last_error = CASE WHEN $2 = '' THEN last_error ELSE $2 END,
		     last_activity_at = now()
		 WHERE id = $3 AND status = ANY($4)`,
		string(to),
		lastError,
		id,
		guard,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update session status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *sessionRepository) SetValidatedAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE migration_sessions SET validated_at = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set validated_at: %w", err)
	}
	return nil
}

func (r *sessionRepository) SetImportStarted(ctx context.Context, id uuid.UUID, at time.Time, jobID *uuid.UUID) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE migration_sessions SET import_started_at = $1, import_job_id = $2 WHERE id = $3`,
		at, jobID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set import_started_at: %w", err)
	}
	return nil
}

func (r *sessionRepository) SetCompletedAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE migration_sessions SET completed_at = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set completed_at: %w", err)
	}
	return nil
}

func (r *sessionRepository) TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE migration_sessions SET last_activity_at = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session activity: %w", err)
	}
	return nil
}

func (r *sessionRepository) AddCounts(ctx context.Context, id uuid.UUID, delta CountDelta) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE migration_sessions
		 SET total_records = total_records + $1,
		     valid_records = valid_records + $2,
		     warning_records = warning_records + $3,
		     error_records = error_records + $4,
		     imported_records = imported_records + $5,
		     skipped_records = skipped_records + $6,
		     import_failed_records = import_failed_records + $7
		 WHERE id = $8`,
		delta.Total,
		delta.Valid,
		delta.Warning,
		delta.Error,
		delta.Imported,
		delta.Skipped,
		delta.ImportFailed,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to add session counts: %w", err)
	}
	return nil
}

func (r *sessionRepository) SetCounts(ctx context.Context, id uuid.UUID, counts domain.SessionCounts) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE migration_sessions
		 SET total_records = $1,
		     valid_records = $2,
		     warning_records = $3,
		     error_records = $4,
		     imported_records = $5,
		     skipped_records = $6,
		     import_failed_records = $7
		 WHERE id = $8`,
		counts.TotalRecords,
		counts.ValidRecords,
		counts.WarningRecords,
		counts.ErrorRecords,
		counts.ImportedRecords,
		counts.SkippedRecords,
		counts.ImportFailedRecords,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to set session counts: %w", err)
	}
	return nil
}

func (r *sessionRepository) ListExpirable(ctx context.Context, now time.Time) ([]domain.MigrationSession, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+sessionColumns+`
		 FROM migration_sessions
		 WHERE expires_at < $1
		   AND status NOT IN ('completed', 'failed', 'expired')
		 ORDER BY expires_at`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expirable sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.MigrationSession{}
	for rows.Next() {
		session, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan session: %w", scanErr)
		}
		sessions = append(sessions, session)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", rowsErr)
	}

	return sessions, nil
}

func scanSession(row pgx.Row) (domain.MigrationSession, error) {
	var (
		session     domain.MigrationSession
		status      string
		optionsJSON []byte
		mappingJSON []byte
		lastError   pgtype.Text
		importJobID pgtype.UUID
		validatedAt pgtype.Timestamptz
		importAt    pgtype.Timestamptz
		completedAt pgtype.Timestamptz
	)

	err := row.Scan(
		&session.ID,
		&session.TenantID,
		&session.CreatorID,
		&session.SourceType,
		&session.SourceName,
		&status,
		&session.EntityTypes,
		&session.Counts.TotalRecords,
		&session.Counts.ValidRecords,
		&session.Counts.WarningRecords,
		&session.Counts.ErrorRecords,
		&session.Counts.ImportedRecords,
		&session.Counts.SkippedRecords,
		&session.Counts.ImportFailedRecords,
		&optionsJSON,
		&mappingJSON,
		&lastError,
		&importJobID,
		&session.CreatedAt,
		&session.LastActivityAt,
		&validatedAt,
		&importAt,
		&completedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		return domain.MigrationSession{}, err
	}

	session.Status = domain.SessionStatus(status)
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &session.Options); err != nil {
			return domain.MigrationSession{}, fmt.Errorf("failed to unmarshal session options: %w", err)
		}
	}
	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &session.FieldMapping); err != nil {
			return domain.MigrationSession{}, fmt.Errorf("failed to unmarshal field mapping: %w", err)
		}
	}
	if lastError.Valid {
		session.LastError = lastError.String
	}
	if importJobID.Valid {
		id := uuid.UUID(importJobID.Bytes)
		session.ImportJobID = &id
	}
	if validatedAt.Valid {
		t := validatedAt.Time
		session.ValidatedAt = &t
	}
	if importAt.Valid {
		t := importAt.Time
		session.ImportStartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		session.CompletedAt = &t
	}

	return session, nil
}
