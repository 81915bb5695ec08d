package importer

import (
	"context"
	"fmt"

	"github.com/rpattn/datamigrate/internal/domain"
	"github.com/rpattn/datamigrate/internal/migration/rules"
	"github.com/rpattn/datamigrate/internal/repository"

	"github.com/google/uuid"
)

// EntityImporter is the default importer: it derives the business key from
// the entity type's rule set and upserts the record as a generic entity. Entity
// types needing bespoke persistence register their own Importer on top.
type EntityImporter struct {
	entities repository.EntityRepository
	registry *rules.Registry
}

// NewEntityImporter wires the generic upsert importer.
func NewEntityImporter(entities repository.EntityRepository, registry *rules.Registry) *EntityImporter {
	return &EntityImporter{entities: entities, registry: registry}
}

func (i *EntityImporter) ImportRow(ctx context.Context, tenantID uuid.UUID, entityType string, record domain.Record) error {
	ruleSet, ok := i.registry.Get(entityType)
	if !ok {
		return fmt.Errorf("no rules registered for entity type %s", entityType)
	}
	key := ruleSet.BusinessKey(record)
	if key == "" {
		return fmt.Errorf("record has no business key")
	}

	entity := domain.NewEntity(tenantID, entityType, key, record)
	if _, err := i.entities.Upsert(ctx, entity); err != nil {
		return fmt.Errorf("failed to upsert %s %q: %w", entityType, key, err)
	}
	return nil
}
