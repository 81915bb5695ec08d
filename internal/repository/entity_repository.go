package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rpattn/datamigrate/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type entityRepository struct {
	pool *pgxpool.Pool
}

// NewEntityRepository wires the destination entity store backed by pgxpool.
func NewEntityRepository(pool *pgxpool.Pool) EntityRepository {
	return &entityRepository{pool: pool}
}

func (r *entityRepository) Upsert(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	propertiesJSON, err := json.Marshal(entity.Properties)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to marshal entity properties: %w", err)
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO entities (id, tenant_id, entity_type, business_key, properties, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, entity_type, business_key)
		 DO UPDATE SET properties = EXCLUDED.properties, updated_at = now()
		 RETURNING id, created_at, updated_at`,
		entity.ID,
		entity.TenantID,
		entity.EntityType,
		entity.BusinessKey,
		propertiesJSON,
		entity.CreatedAt,
		entity.UpdatedAt,
	)

	if err := row.Scan(&entity.ID, &entity.CreatedAt, &entity.UpdatedAt); err != nil {
		return domain.Entity{}, fmt.Errorf("failed to upsert entity: %w", err)
	}

	return entity, nil
}

func (r *entityRepository) ListBusinessKeys(ctx context.Context, tenantID uuid.UUID, entityType string) (map[string]bool, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT business_key FROM entities WHERE tenant_id = $1 AND entity_type = $2`,
		tenantID,
		entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list business keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var key string
		if scanErr := rows.Scan(&key); scanErr != nil {
			return nil, fmt.Errorf("failed to scan business key: %w", scanErr)
		}
		keys[key] = true
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate business keys: %w", rowsErr)
	}

	return keys, nil
}
