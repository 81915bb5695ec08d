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

type resultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository wires a validation result repository backed by pgxpool.
func NewResultRepository(pool *pgxpool.Pool) ResultRepository {
	return &resultRepository{pool: pool}
}

const resultColumns = `id, session_id, chunk_id, entity_type, row_index, global_row_index,
	row_data, transformed_data, fixed_data, status, errors, warnings,
	operator_action, operator_note, import_error,
	created_at, validated_at, imported_at`

func (r *resultRepository) ReplaceForChunk(ctx context.Context, chunkID uuid.UUID, results []domain.MigrationValidationResult) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM migration_validation_results WHERE chunk_id = $1`, chunkID); err != nil {
		return fmt.Errorf("failed to clear prior results: %w", err)
	}

	for _, result := range results {
		rowJSON, err := json.Marshal(result.RowData)
		if err != nil {
			return fmt.Errorf("failed to marshal row data: %w", err)
		}
		transformedJSON, err := marshalNullableRecord(result.TransformedData)
		if err != nil {
			return fmt.Errorf("failed to marshal transformed data: %w", err)
		}
		fixedJSON, err := marshalNullableRecord(result.FixedData)
		if err != nil {
			return fmt.Errorf("failed to marshal fixed data: %w", err)
		}
		errorsJSON, err := json.Marshal(result.Errors)
		if err != nil {
			return fmt.Errorf("failed to marshal errors: %w", err)
		}
		warningsJSON, err := json.Marshal(result.Warnings)
		if err != nil {
			return fmt.Errorf("failed to marshal warnings: %w", err)
		}

		_, err = tx.Exec(
			ctx,
			`INSERT INTO migration_validation_results (
				id, session_id, chunk_id, entity_type, row_index, global_row_index,
				row_data, transformed_data, fixed_data, status, errors, warnings,
				created_at, validated_at
			 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			result.ID,
			result.SessionID,
			result.ChunkID,
			result.EntityType,
			result.RowIndex,
			result.GlobalRowIndex,
			rowJSON,
			transformedJSON,
			fixedJSON,
			string(result.Status),
			errorsJSON,
			warningsJSON,
			result.CreatedAt,
			result.ValidatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert validation result: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit validation results: %w", err)
	}
	return nil
}

func (r *resultRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.MigrationValidationResult, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+resultColumns+` FROM migration_validation_results WHERE id = $1`,
		id,
	)
	result, err := scanResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MigrationValidationResult{}, ErrNotFound
		}
		return domain.MigrationValidationResult{}, fmt.Errorf("failed to get validation result: %w", err)
	}
	return result, nil
}

func (r *resultRepository) List(ctx context.Context, sessionID uuid.UUID, filter domain.ResultFilter) ([]domain.MigrationValidationResult, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+resultColumns+`
		 FROM migration_validation_results
		 WHERE session_id = $1
		   AND ($2 = '' OR status = $2)
		   AND ($3 = '' OR entity_type = $3)
		   AND ($4 = '' OR errors @> jsonb_build_array(jsonb_build_object('code', $4::text))
		              OR warnings @> jsonb_build_array(jsonb_build_object('code', $4::text)))
		 ORDER BY entity_type, global_row_index
		 LIMIT $5 OFFSET $6`,
		sessionID,
		string(filter.Status),
		filter.EntityType,
		string(filter.IssueCode),
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation results: %w", err)
	}
	defer rows.Close()

	return collectResults(rows)
}

func (r *resultRepository) ListImportable(ctx context.Context, sessionID uuid.UUID, entityType string) ([]domain.MigrationValidationResult, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+resultColumns+`
		 FROM migration_validation_results
		 WHERE session_id = $1
		   AND entity_type = $2
		   AND status IN ('valid', 'warning', 'fixed', 'import_failed')
		 ORDER BY global_row_index`,
		sessionID,
		entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list importable rows: %w", err)
	}
	defer rows.Close()

	return collectResults(rows)
}

func (r *resultRepository) CountByStatus(ctx context.Context, sessionID uuid.UUID) (map[domain.RowStatus]int, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT status, count(*)
		 FROM migration_validation_results
		 WHERE session_id = $1
		 GROUP BY status`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count results by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.RowStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", scanErr)
		}
		counts[domain.RowStatus(status)] = count
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", rowsErr)
	}

	return counts, nil
}

func (r *resultRepository) SetFix(ctx context.Context, id uuid.UUID, status domain.RowStatus, fixed domain.Record, errs, warnings []domain.RowIssue, note string) error {
	fixedJSON, err := marshalNullableRecord(fixed)
	if err != nil {
		return fmt.Errorf("failed to marshal fixed data: %w", err)
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`UPDATE migration_validation_results
		 SET status = $1, fixed_data = $2, errors = $3, warnings = $4, operator_action = 'fix', operator_note = $5
		 WHERE id = $6`,
		string(status),
		fixedJSON,
		errorsJSON,
		warningsJSON,
		note,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to store fix: %w", err)
	}
	return nil
}

func (r *resultRepository) SetSkipped(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE migration_validation_results
		 SET status = 'skipped', operator_action = 'skip', operator_note = $1
		 WHERE id = $2`,
		reason,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to skip row: %w", err)
	}
	return nil
}

func (r *resultRepository) SetIgnored(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE migration_validation_results
		 SET operator_action = 'ignore'
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to acknowledge warning: %w", err)
	}
	return nil
}

func (r *resultRepository) SetImported(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE migration_validation_results
		 SET status = 'imported', import_error = NULL, imported_at = $1
		 WHERE id = $2`,
		at,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark row imported: %w", err)
	}
	return nil
}

func (r *resultRepository) SetImportFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE migration_validation_results
		 SET status = 'import_failed', import_error = $1
		 WHERE id = $2`,
		reason,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark row import failed: %w", err)
	}
	return nil
}

func collectResults(rows pgx.Rows) ([]domain.MigrationValidationResult, error) {
	results := []domain.MigrationValidationResult{}
	for rows.Next() {
		result, scanErr := scanResult(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan validation result: %w", scanErr)
		}
		results = append(results, result)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate validation results: %w", rowsErr)
	}
	return results, nil
}

func scanResult(row pgx.Row) (domain.MigrationValidationResult, error) {
	var (
		result          domain.MigrationValidationResult
		status          string
		rowJSON         []byte
		transformedJSON []byte
		fixedJSON       []byte
		errorsJSON      []byte
		warningsJSON    []byte
		operatorAction  pgtype.Text
		operatorNote    pgtype.Text
		importError     pgtype.Text
		importedAt      pgtype.Timestamptz
	)

	err := row.Scan(
		&result.ID,
		&result.SessionID,
		&result.ChunkID,
		&result.EntityType,
		&result.RowIndex,
		&result.GlobalRowIndex,
		&rowJSON,
		&transformedJSON,
		&fixedJSON,
		&status,
		&errorsJSON,
		&warningsJSON,
		&operatorAction,
		&operatorNote,
		&importError,
		&result.CreatedAt,
		&result.ValidatedAt,
		&importedAt,
	)
	if err != nil {
		return domain.MigrationValidationResult{}, err
	}

	result.Status = domain.RowStatus(status)
	if err := json.Unmarshal(rowJSON, &result.RowData); err != nil {
		return domain.MigrationValidationResult{}, fmt.Errorf("failed to unmarshal row data: %w", err)
	}
	if len(transformedJSON) > 0 {
		if err := json.Unmarshal(transformedJSON, &result.TransformedData); err != nil {
			return domain.MigrationValidationResult{}, fmt.Errorf("failed to unmarshal transformed data: %w", err)
		}
	}
	if len(fixedJSON) > 0 {
		if err := json.Unmarshal(fixedJSON, &result.FixedData); err != nil {
			return domain.MigrationValidationResult{}, fmt.Errorf("failed to unmarshal fixed data: %w", err)
		}
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &result.Errors); err != nil {
			return domain.MigrationValidationResult{}, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
	}
	if len(warningsJSON) > 0 {
		if err := json.Unmarshal(warningsJSON, &result.Warnings); err != nil {
			return domain.MigrationValidationResult{}, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	if operatorAction.Valid {
		result.OperatorAction = domain.OperatorAction(operatorAction.String)
	}
	if operatorNote.Valid {
		result.OperatorNote = operatorNote.String
	}
	if importError.Valid {
		result.ImportError = importError.String
	}
	if importedAt.Valid {
		t := importedAt.Time
		result.ImportedAt = &t
	}

	return result, nil
}

func marshalNullableRecord(record domain.Record) ([]byte, error) {
	if len(record) == 0 {
		return nil, nil
	}
	return json.Marshal(record)
}
