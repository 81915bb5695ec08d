package migration

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"
	"github.com/rpattn/datamigrate/internal/importer"
	"github.com/rpattn/datamigrate/internal/migration/rules"
	"github.com/rpattn/datamigrate/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type stubSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]domain.MigrationSession
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{sessions: make(map[uuid.UUID]domain.MigrationSession)}
}

func (r *stubSessionRepo) Create(_ context.Context, session domain.MigrationSession) (domain.MigrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return session, nil
}

func (r *stubSessionRepo) GetByID(_ context.Context, id uuid.UUID) (domain.MigrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return domain.MigrationSession{}, repository.ErrNotFound
	}
	return session, nil
}

func (r *stubSessionRepo) List(_ context.Context, tenantID uuid.UUID, filter domain.SessionFilter) ([]domain.MigrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.MigrationSession
	for _, session := range r.sessions {
		if session.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && session.Status != filter.Status {
			continue
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *stubSessionRepo) UpdateStatus(_ context.Context, id uuid.UUID, from []domain.SessionStatus, to domain.SessionStatus, lastError string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	matched := false
	for _, status := range from {
		if session.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	session.Status = to
	session.LastError = lastError
	r.sessions[id] = session
	return true, nil
}

func (r *stubSessionRepo) SetValidatedAt(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.sessions[id]
	session.ValidatedAt = &at
	r.sessions[id] = session
	return nil
}

func (r *stubSessionRepo) SetImportStarted(_ context.Context, id uuid.UUID, at time.Time, jobID *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.sessions[id]
	session.ImportStartedAt = &at
	session.ImportJobID = jobID
	r.sessions[id] = session
	return nil
}

func (r *stubSessionRepo) SetCompletedAt(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.sessions[id]
	session.CompletedAt = &at
	r.sessions[id] = session
	return nil
}

func (r *stubSessionRepo) TouchActivity(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.sessions[id]
	session.LastActivityAt = at
	r.sessions[id] = session
	return nil
}

func (r *stubSessionRepo) AddCounts(_ context.Context, id uuid.UUID, delta repository.CountDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.sessions[id]
	session.Counts.TotalRecords += delta.Total
	session.Counts.ValidRecords += delta.Valid
	session.Counts.WarningRecords += delta.Warning
	session.Counts.ErrorRecords += delta.Error
	session.Counts.ImportedRecords += delta.Imported
	session.Counts.SkippedRecords += delta.Skipped
	session.Counts.ImportFailedRecords += delta.ImportFailed
	r.sessions[id] = session
	return nil
}

func (r *stubSessionRepo) SetCounts(_ context.Context, id uuid.UUID, counts domain.SessionCounts) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.sessions[id]
	session.Counts = counts
	r.sessions[id] = session
	return nil
}

func (r *stubSessionRepo) ListExpirable(_ context.Context, now time.Time) ([]domain.MigrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.MigrationSession
	for _, session := range r.sessions {
		if !session.Status.IsTerminal() && session.IsExpired(now) {
			out = append(out, session)
		}
	}
	return out, nil
}

type stubChunkRepo struct {
	mu     sync.Mutex
	chunks []domain.MigrationChunk
}

func newStubChunkRepo() *stubChunkRepo {
	return &stubChunkRepo{}
}

func (r *stubChunkRepo) Create(_ context.Context, chunk domain.MigrationChunk) (domain.MigrationChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
	return chunk, nil
}

func (r *stubChunkRepo) GetByID(_ context.Context, id uuid.UUID) (domain.MigrationChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, chunk := range r.chunks {
		if chunk.ID == id {
			return chunk, nil
		}
	}
	return domain.MigrationChunk{}, repository.ErrNotFound
}

func (r *stubChunkRepo) ListBySession(_ context.Context, sessionID uuid.UUID) ([]domain.MigrationChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.MigrationChunk
	for _, chunk := range r.chunks {
		if chunk.SessionID == sessionID {
			out = append(out, chunk)
		}
	}
	return out, nil
}

func (r *stubChunkRepo) ListByEntityType(_ context.Context, sessionID uuid.UUID, entityType string) ([]domain.MigrationChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.MigrationChunk
	for _, chunk := range r.chunks {
		if chunk.SessionID == sessionID && chunk.EntityType == entityType {
			out = append(out, chunk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (r *stubChunkRepo) CountByEntityType(_ context.Context, sessionID uuid.UUID, entityType string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, chunk := range r.chunks {
		if chunk.SessionID == sessionID && chunk.EntityType == entityType {
			count++
		}
	}
	return count, nil
}

func (r *stubChunkRepo) SetDeclaredTotal(_ context.Context, sessionID uuid.UUID, entityType string, totalChunks int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, chunk := range r.chunks {
		if chunk.SessionID == sessionID && chunk.EntityType == entityType {
			r.chunks[i].TotalChunks = totalChunks
		}
	}
	return nil
}

func (r *stubChunkRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.ChunkStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, chunk := range r.chunks {
		if chunk.ID != id {
			continue
		}
		r.chunks[i].Status = status
		switch status {
		case domain.ChunkStatusValidated:
			r.chunks[i].ValidatedAt = &at
		case domain.ChunkStatusImported:
			r.chunks[i].ImportedAt = &at
		}
		return nil
	}
	return repository.ErrNotFound
}

func (r *stubChunkRepo) DeletePayloads(_ context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, chunk := range r.chunks {
		if chunk.SessionID == sessionID {
			r.chunks[i].Rows = nil
		}
	}
	return nil
}

type stubResultRepo struct {
	mu      sync.Mutex
	results map[uuid.UUID]domain.MigrationValidationResult
	// replaceErr fails ReplaceForChunk for the given chunk, simulating a
	// storage failure during validation.
	replaceErr map[uuid.UUID]error
}

func newStubResultRepo() *stubResultRepo {
	return &stubResultRepo{
		results:    make(map[uuid.UUID]domain.MigrationValidationResult),
		replaceErr: make(map[uuid.UUID]error),
	}
}

func (r *stubResultRepo) ReplaceForChunk(_ context.Context, chunkID uuid.UUID, results []domain.MigrationValidationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.replaceErr[chunkID]; err != nil {
		return err
	}
	for id, result := range r.results {
		if result.ChunkID == chunkID {
			delete(r.results, id)
		}
	}
	for _, result := range results {
		r.results[result.ID] = result
	}
	return nil
}

func (r *stubResultRepo) GetByID(_ context.Context, id uuid.UUID) (domain.MigrationValidationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[id]
	if !ok {
		return domain.MigrationValidationResult{}, repository.ErrNotFound
	}
	return result, nil
}

func (r *stubResultRepo) List(_ context.Context, sessionID uuid.UUID, filter domain.ResultFilter) ([]domain.MigrationValidationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.MigrationValidationResult
	for _, result := range r.results {
		if result.SessionID != sessionID {
			continue
		}
		if filter.Status != "" && result.Status != filter.Status {
			continue
		}
		if filter.EntityType != "" && result.EntityType != filter.EntityType {
			continue
		}
		if filter.IssueCode != "" && !hasIssueCode(result, filter.IssueCode) {
			continue
		}
		out = append(out, result)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].GlobalRowIndex < out[j].GlobalRowIndex
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func hasIssueCode(result domain.MigrationValidationResult, code domain.IssueCode) bool {
	for _, issue := range result.Errors {
		if issue.Code == code {
			return true
		}
	}
	for _, issue := range result.Warnings {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func (r *stubResultRepo) ListImportable(_ context.Context, sessionID uuid.UUID, entityType string) ([]domain.MigrationValidationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.MigrationValidationResult
	for _, result := range r.results {
		if result.SessionID == sessionID && result.EntityType == entityType && result.Status.Importable() {
			out = append(out, result)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GlobalRowIndex < out[j].GlobalRowIndex })
	return out, nil
}

func (r *stubResultRepo) CountByStatus(_ context.Context, sessionID uuid.UUID) (map[domain.RowStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.RowStatus]int)
	for _, result := range r.results {
		if result.SessionID == sessionID {
			counts[result.Status]++
		}
	}
	return counts, nil
}

func (r *stubResultRepo) SetFix(_ context.Context, id uuid.UUID, status domain.RowStatus, fixed domain.Record, errs, warnings []domain.RowIssue, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[id]
	if !ok {
		return repository.ErrNotFound
	}
	result.Status = status
	result.FixedData = fixed
	result.Errors = errs
	result.Warnings = warnings
	result.OperatorAction = domain.OperatorActionFix
	result.OperatorNote = note
	r.results[id] = result
	return nil
}

func (r *stubResultRepo) SetSkipped(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[id]
	if !ok {
		return repository.ErrNotFound
	}
	result.Status = domain.RowStatusSkipped
	result.OperatorAction = domain.OperatorActionSkip
	result.OperatorNote = reason
	r.results[id] = result
	return nil
}

func (r *stubResultRepo) SetIgnored(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[id]
	if !ok {
		return repository.ErrNotFound
	}
	result.OperatorAction = domain.OperatorActionIgnore
	r.results[id] = result
	return nil
}

func (r *stubResultRepo) SetImported(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[id]
	if !ok {
		return repository.ErrNotFound
	}
	result.Status = domain.RowStatusImported
	result.ImportedAt = &at
	result.ImportError = ""
	r.results[id] = result
	return nil
}

func (r *stubResultRepo) SetImportFailed(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[id]
	if !ok {
		return repository.ErrNotFound
	}
	result.Status = domain.RowStatusImportFailed
	result.ImportError = reason
	r.results[id] = result
	return nil
}

type stubEntityRepo struct {
	mu       sync.Mutex
	entities map[string]domain.Entity
}

func newStubEntityRepo() *stubEntityRepo {
	return &stubEntityRepo{entities: make(map[string]domain.Entity)}
}

func entityKey(tenantID uuid.UUID, entityType, businessKey string) string {
	return tenantID.String() + "/" + entityType + "/" + businessKey
}

func (r *stubEntityRepo) Upsert(_ context.Context, entity domain.Entity) (domain.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[entityKey(entity.TenantID, entity.EntityType, entity.BusinessKey)] = entity
	return entity, nil
}

func (r *stubEntityRepo) ListBusinessKeys(_ context.Context, tenantID uuid.UUID, entityType string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make(map[string]bool)
	for _, entity := range r.entities {
		if entity.TenantID == tenantID && entity.EntityType == entityType {
			keys[entity.BusinessKey] = true
		}
	}
	return keys, nil
}

func (r *stubEntityRepo) seed(tenantID uuid.UUID, entityType, businessKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[entityKey(tenantID, entityType, businessKey)] = domain.NewEntity(tenantID, entityType, businessKey, nil)
}

// pipeline bundles every service wired onto the same stub repositories.
type pipeline struct {
	sessions *stubSessionRepo
	chunks   *stubChunkRepo
	results  *stubResultRepo
	entities *stubEntityRepo
	registry *rules.Registry
	locks    *LockTable

	manager   *SessionManager
	store     *ChunkStore
	validator *Validator
	workbench *Workbench
	executor  *Executor
	sweeper   *Sweeper
}

func newPipeline() *pipeline {
	sessions := newStubSessionRepo()
	chunks := newStubChunkRepo()
	results := newStubResultRepo()
	entities := newStubEntityRepo()
	registry := rules.DefaultRegistry()
	locks := NewLockTable()
	logger := zap.NewNop()

	importers := importer.NewRegistry(importer.NewEntityImporter(entities, registry))

	return &pipeline{
		sessions:  sessions,
		chunks:    chunks,
		results:   results,
		entities:  entities,
		registry:  registry,
		locks:     locks,
		manager:   NewSessionManager(sessions, registry, locks, logger, 0),
		store:     NewChunkStore(sessions, chunks, locks, logger, 0),
		validator: NewValidator(sessions, chunks, results, entities, registry, locks, logger, 2),
		workbench: NewWorkbench(sessions, results, entities, registry, locks, logger),
		executor:  NewExecutor(sessions, chunks, results, importers, locks, logger),
		sweeper:   NewSweeper(sessions, chunks, locks, logger, 0),
	}
}

func str(name, value string) domain.Field {
	return domain.Field{Name: name, Value: domain.StringValue(value)}
}

func customerRow(number, name string) domain.Record {
	return domain.Record{str("customer_number", number), str("name", name)}
}

func productRow(sku, name, price string) domain.Record {
	return domain.Record{str("sku", sku), str("name", name), str("price", price)}
}
