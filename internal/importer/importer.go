// Package importer commits validated rows into the destination domain. The
// import executor walks staged rows and hands each one to the importer
// registered for its entity type; a row level failure is reported back as an
// error and never aborts the rest of the run.
package importer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rpattn/datamigrate/internal/domain"

	"github.com/google/uuid"
)

// Importer persists one staged record. Implementations must be idempotent per
// business key: importing the same logical row twice updates in place.
type Importer interface {
	ImportRow(ctx context.Context, tenantID uuid.UUID, entityType string, record domain.Record) error
}

// ImporterFunc adapts a function to the Importer interface.
type ImporterFunc func(ctx context.Context, tenantID uuid.UUID, entityType string, record domain.Record) error

func (f ImporterFunc) ImportRow(ctx context.Context, tenantID uuid.UUID, entityType string, record domain.Record) error {
	return f(ctx, tenantID, entityType, record)
}

// Registry maps entity types to importers, with an optional fallback used for
// types without a dedicated implementation.
type Registry struct {
	mu        sync.RWMutex
	importers map[string]Importer
	fallback  Importer
}

// NewRegistry creates a registry with the given fallback importer. A nil
// fallback means unregistered entity types cannot be imported.
func NewRegistry(fallback Importer) *Registry {
	return &Registry{
		importers: make(map[string]Importer),
		fallback:  fallback,
	}
}

// Register installs a dedicated importer for an entity type.
func (r *Registry) Register(entityType string, imp Importer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.importers[entityType] = imp
}

// For returns the importer responsible for an entity type.
func (r *Registry) For(entityType string) (Importer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if imp, ok := r.importers[entityType]; ok {
		return imp, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no importer registered for entity type %s", entityType)
}
