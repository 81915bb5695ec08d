package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"
	"github.com/rpattn/datamigrate/internal/migration/rules"
	"github.com/rpattn/datamigrate/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultValidationWorkers bounds how many chunks validate concurrently.
const DefaultValidationWorkers = 4

// Validator runs the rule sets over every staged chunk of a session and
// materializes one validation result per row. Re-running replaces prior
// results wholesale, so validation is idempotent.
type Validator struct {
	sessions repository.SessionRepository
	chunks   repository.ChunkRepository
	results  repository.ResultRepository
	entities repository.EntityRepository
	registry *rules.Registry
	locks    *LockTable
	logger   *zap.Logger
	workers  int
}

// NewValidator wires a validation engine. A zero workers falls back to
// DefaultValidationWorkers.
func NewValidator(
	sessions repository.SessionRepository,
	chunks repository.ChunkRepository,
	results repository.ResultRepository,
	entities repository.EntityRepository,
	registry *rules.Registry,
	locks *LockTable,
	logger *zap.Logger,
	workers int,
) *Validator {
	if workers <= 0 {
		workers = DefaultValidationWorkers
	}
	return &Validator{
		sessions: sessions,
		chunks:   chunks,
		results:  results,
		entities: entities,
		registry: registry,
		locks:    locks,
		logger:   logger,
		workers:  workers,
	}
}

// validatableStatuses lists the session states a validation run may start
// from. Validated is included so re-validation after corrections or further
// uploads works.
func validatableStatuses() []domain.SessionStatus {
	return []domain.SessionStatus{
		domain.SessionStatusCreated,
		domain.SessionStatusUploading,
		domain.SessionStatusValidated,
	}
}

// entityBatch is the per-entity-type working set of one validation run.
type entityBatch struct {
	ruleSet rules.RuleSet
	chunks  []domain.MigrationChunk
	// firstRowIndex maps a chunk index to the global index of its first row.
	firstRowIndex map[int]int
	// existingKeys holds business keys already persisted for the tenant.
	existingKeys map[string]bool
	// batchFirstIndex maps each staged business key to the lowest global row
	// index carrying it.
	batchFirstIndex map[string]int
	// stagedKeys holds every business key staged in this batch, for resolving
	// references to rows that have not been imported yet.
	stagedKeys map[string]bool
}

// ValidateSession evaluates every chunk of the session and moves it to
// Validated. Chunk failures are isolated: a chunk whose results cannot be
// produced is marked Failed, the rest still validate, and the session ends up
// Failed with the failure recorded.
func (v *Validator) ValidateSession(ctx context.Context, tenantID, sessionID uuid.UUID) (domain.MigrationSession, error) {
	session, err := loadSession(ctx, v.sessions, tenantID, sessionID)
	if err != nil {
		return domain.MigrationSession{}, err
	}

	release := v.locks.acquire(sessionID.String())
	if release == nil {
		return domain.MigrationSession{}, NewError(KindConflict, "session %s has an operation in progress", sessionID)
	}
	defer release()

	moved, err := v.sessions.UpdateStatus(ctx, sessionID, validatableStatuses(), domain.SessionStatusValidating, "")
	if err != nil {
		return domain.MigrationSession{}, err
	}
	if !moved {
		return domain.MigrationSession{}, NewError(KindInvalidState, "session %s is %s and cannot be validated", sessionID, session.Status)
	}

	batches, err := v.prepareBatches(ctx, session)
	if err != nil {
		// Setup problems are the caller's, not the session's: report them
		// synchronously and put the session back in its prior state.
		v.restoreStatus(ctx, sessionID, session.Status)
		return domain.MigrationSession{}, err
	}

	start := time.Now()
	var failedChunks int
	resolver := v.referenceResolver(ctx, session, batches)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(v.workers)
	failures := make(chan string, totalChunks(batches))

	for _, batch := range batches {
		for _, chunk := range batch.chunks {
			batch, chunk := batch, chunk
			group.Go(func() error {
				if err := v.validateChunk(groupCtx, session, batch, chunk, resolver); err != nil {
					v.logger.Warn("chunk validation failed",
						zap.String("session_id", sessionID.String()),
						zap.String("chunk_id", chunk.ID.String()),
						zap.Error(err),
					)
					if statusErr := v.chunks.UpdateStatus(groupCtx, chunk.ID, domain.ChunkStatusFailed, time.Now().UTC()); statusErr != nil {
						v.logger.Error("unable to mark chunk failed", zap.String("chunk_id", chunk.ID.String()), zap.Error(statusErr))
					}
					failures <- fmt.Sprintf("chunk %d of %s: %v", chunk.ChunkIndex, chunk.EntityType, err)
				}
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return domain.MigrationSession{}, err
	}
	close(failures)

	var lastFailure string
	for failure := range failures {
		failedChunks++
		lastFailure = failure
	}

	if err := v.recomputeCounts(ctx, sessionID); err != nil {
		return domain.MigrationSession{}, err
	}

	now := time.Now().UTC()
	if failedChunks > 0 {
		v.failSession(ctx, sessionID, fmt.Sprintf("%d chunk(s) failed validation, last: %s", failedChunks, lastFailure))
		return domain.MigrationSession{}, NewError(KindInvalidState, "validation failed for %d chunk(s) of session %s", failedChunks, sessionID)
	}

	if err := v.sessions.SetValidatedAt(ctx, sessionID, now); err != nil {
		return domain.MigrationSession{}, err
	}
	moved, err = v.sessions.UpdateStatus(ctx, sessionID,
		[]domain.SessionStatus{domain.SessionStatusValidating},
		domain.SessionStatusValidated, "")
	if err != nil {
		return domain.MigrationSession{}, err
	}
	if !moved {
		return domain.MigrationSession{}, NewError(KindInvalidState, "session %s left the validating state concurrently", sessionID)
	}
	if err := v.sessions.TouchActivity(ctx, sessionID, now); err != nil {
		return domain.MigrationSession{}, err
	}

	v.logger.Info("session validated",
		zap.String("session_id", sessionID.String()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return loadSession(ctx, v.sessions, tenantID, sessionID)
}

// prepareBatches loads chunks and builds the evaluation context per entity
// type: existing tenant keys, the in-batch duplicate index, and global row
// offsets. The pre-scan runs single threaded; the maps it builds are read-only
// during the parallel phase.
func (v *Validator) prepareBatches(ctx context.Context, session domain.MigrationSession) (map[string]*entityBatch, error) {
	batches := make(map[string]*entityBatch, len(session.EntityTypes))
	anyChunks := false

	for _, entityType := range session.EntityTypes {
		ruleSet, ok := v.registry.Get(entityType)
		if !ok {
			return nil, NewError(KindInvalidConfiguration, "no validation rules registered for entity type %s", entityType)
		}

		chunks, err := v.chunks.ListByEntityType(ctx, session.ID, entityType)
		if err != nil {
			return nil, err
		}
		if len(chunks) > 0 {
			anyChunks = true
		}

		existing, err := v.entities.ListBusinessKeys(ctx, session.TenantID, entityType)
		if err != nil {
			return nil, err
		}

		batch := &entityBatch{
			ruleSet:         ruleSet,
			chunks:          chunks,
			firstRowIndex:   make(map[int]int, len(chunks)),
			existingKeys:    existing,
			batchFirstIndex: make(map[string]int),
			stagedKeys:      make(map[string]bool),
		}

		transformCtx := rules.EvalContext{
			Mapping: session.FieldMapping[entityType],
			Options: session.Options,
		}
		global := 0
		for _, chunk := range chunks {
			batch.firstRowIndex[chunk.ChunkIndex] = global
			for _, row := range chunk.Rows {
				key := ruleSet.BusinessKey(ruleSet.Transform(row, transformCtx))
				if key != "" {
					if _, seen := batch.batchFirstIndex[key]; !seen {
						batch.batchFirstIndex[key] = global
					}
					batch.stagedKeys[key] = true
				}
				global++
			}
		}
		batches[entityType] = batch
	}

	if !anyChunks {
		return nil, NewError(KindInvalidState, "session %s has no uploaded chunks to validate", session.ID)
	}
	return batches, nil
}

// validateChunk evaluates one chunk and replaces its stored results.
func (v *Validator) validateChunk(ctx context.Context, session domain.MigrationSession, batch *entityBatch, chunk domain.MigrationChunk, resolver rules.ReferenceResolver) error {
	base, ok := batch.firstRowIndex[chunk.ChunkIndex]
	if !ok {
		return fmt.Errorf("chunk index %d has no row offset", chunk.ChunkIndex)
	}

	now := time.Now().UTC()
	results := make([]domain.MigrationValidationResult, 0, len(chunk.Rows))

	for i, row := range chunk.Rows {
		evalCtx := rules.EvalContext{
			Mapping:          session.FieldMapping[chunk.EntityType],
			Options:          session.Options,
			ResolveReference: resolver,
			ExistingKeys:     batch.existingKeys,
			BatchFirstIndex:  batch.batchFirstIndex,
			GlobalRowIndex:   base + i,
		}
		transformed, errs, warnings := batch.ruleSet.Evaluate(row, evalCtx)

		status := domain.RowStatusValid
		if len(errs) > 0 {
			status = domain.RowStatusError
		} else if len(warnings) > 0 {
			status = domain.RowStatusWarning
		}

		results = append(results, domain.MigrationValidationResult{
			ID:              uuid.New(),
			SessionID:       session.ID,
			ChunkID:         chunk.ID,
			EntityType:      chunk.EntityType,
			RowIndex:        i,
			GlobalRowIndex:  base + i,
			RowData:         row,
			TransformedData: transformed,
			Status:          status,
			Errors:          errs,
			Warnings:        warnings,
			CreatedAt:       now,
			ValidatedAt:     now,
		})
	}

	if err := v.results.ReplaceForChunk(ctx, chunk.ID, results); err != nil {
		return fmt.Errorf("failed to store results: %w", err)
	}
	if err := v.chunks.UpdateStatus(ctx, chunk.ID, domain.ChunkStatusValidated, now); err != nil {
		return fmt.Errorf("failed to mark chunk validated: %w", err)
	}
	return nil
}

// referenceResolver resolves business keys against persisted tenant data and
// rows staged anywhere in the same session, so cross-entity references within
// one batch validate before anything is imported. The resolver is shared by
// all chunk workers and guards its lazy cache with a mutex.
func (v *Validator) referenceResolver(ctx context.Context, session domain.MigrationSession, batches map[string]*entityBatch) rules.ReferenceResolver {
	var mu sync.Mutex
	// Key sets for the session's own entity types are known up front;
	// referenced types outside the session load lazily on first use.
	cache := make(map[string]map[string]bool, len(batches))
	staged := make(map[string]map[string]bool, len(batches))
	for entityType, batch := range batches {
		cache[entityType] = batch.existingKeys
		staged[entityType] = batch.stagedKeys
	}

	return func(entityType, key string) bool {
		mu.Lock()
		defer mu.Unlock()
		if keys, ok := staged[entityType]; ok && keys[key] {
			return true
		}
		keys, ok := cache[entityType]
		if !ok {
			loaded, err := v.entities.ListBusinessKeys(ctx, session.TenantID, entityType)
			if err != nil {
				v.logger.Warn("reference lookup failed",
					zap.String("entity_type", entityType),
					zap.Error(err),
				)
				loaded = map[string]bool{}
			}
			cache[entityType] = loaded
			keys = loaded
		}
		return keys[key]
	}
}

// recomputeCounts rebuilds the session aggregates from the stored results.
func (v *Validator) recomputeCounts(ctx context.Context, sessionID uuid.UUID) error {
	byStatus, err := v.results.CountByStatus(ctx, sessionID)
	if err != nil {
		return err
	}
	counts := domain.SessionCounts{
		ValidRecords:        byStatus[domain.RowStatusValid] + byStatus[domain.RowStatusFixed],
		WarningRecords:      byStatus[domain.RowStatusWarning],
		ErrorRecords:        byStatus[domain.RowStatusError],
		ImportedRecords:     byStatus[domain.RowStatusImported],
		SkippedRecords:      byStatus[domain.RowStatusSkipped],
		ImportFailedRecords: byStatus[domain.RowStatusImportFailed],
	}
	for _, n := range byStatus {
		counts.TotalRecords += n
	}
	return v.sessions.SetCounts(ctx, sessionID, counts)
}

func (v *Validator) failSession(ctx context.Context, sessionID uuid.UUID, reason string) {
	if _, err := v.sessions.UpdateStatus(ctx, sessionID, nonTerminalStatuses(), domain.SessionStatusFailed, reason); err != nil {
		v.logger.Error("unable to fail session", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
}

// restoreStatus undoes the move into Validating after a setup failure.
func (v *Validator) restoreStatus(ctx context.Context, sessionID uuid.UUID, prior domain.SessionStatus) {
	moved, err := v.sessions.UpdateStatus(ctx, sessionID,
		[]domain.SessionStatus{domain.SessionStatusValidating}, prior, "")
	if err != nil || !moved {
		v.logger.Error("unable to restore session status",
			zap.String("session_id", sessionID.String()),
			zap.String("status", string(prior)),
			zap.Error(err),
		)
	}
}

func totalChunks(batches map[string]*entityBatch) int {
	n := 0
	for _, batch := range batches {
		n += len(batch.chunks)
	}
	return n
}
