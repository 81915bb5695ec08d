package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entity is one persisted business object produced by importing a row. The
// pipeline itself only ever creates entities through the importer; reads are
// limited to the key lookups that back duplicate and reference checks.
type Entity struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	EntityType  string    `json:"entity_type"`
	BusinessKey string    `json:"business_key"`
	Properties  Record    `json:"properties"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewEntity creates an entity from an imported record.
func NewEntity(tenantID uuid.UUID, entityType, businessKey string, properties Record) Entity {
	now := time.Now().UTC()
	return Entity{
		ID:          uuid.New(),
		TenantID:    tenantID,
		EntityType:  entityType,
		BusinessKey: businessKey,
		Properties:  properties.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// BusinessKeyFor derives the logical key of a record from the named key
// fields. Imports are idempotent per business key, so the derivation must be
// stable across runs.
func BusinessKeyFor(record Record, keyFields []string) string {
	parts := make([]string, len(keyFields))
	for i, field := range keyFields {
		if value, ok := record.Get(field); ok {
			parts[i] = value.String()
		}
	}
	return strings.Join(parts, "\x1f")
}
