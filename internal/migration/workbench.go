package migration

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"
	"github.com/rpattn/datamigrate/internal/migration/rules"
	"github.com/rpattn/datamigrate/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Workbench is the correction surface operators use between validation and
// import: inspect per-row issues, fix rows, skip rows, acknowledge warnings.
// All mutations require the session to be in the Validated state; once an
// import has started the staged rows are frozen.
type Workbench struct {
	sessions repository.SessionRepository
	results  repository.ResultRepository
	entities repository.EntityRepository
	registry *rules.Registry
	locks    *LockTable
	logger   *zap.Logger
}

// NewWorkbench wires a correction workbench.
func NewWorkbench(sessions repository.SessionRepository, results repository.ResultRepository, entities repository.EntityRepository, registry *rules.Registry, locks *LockTable, logger *zap.Logger) *Workbench {
	return &Workbench{
		sessions: sessions,
		results:  results,
		entities: entities,
		registry: registry,
		locks:    locks,
		logger:   logger,
	}
}

// ListResults returns the session's validation results, filtered and ordered
// by position in the batch.
func (w *Workbench) ListResults(ctx context.Context, tenantID, sessionID uuid.UUID, filter domain.ResultFilter) ([]domain.MigrationValidationResult, error) {
	if _, err := loadSession(ctx, w.sessions, tenantID, sessionID); err != nil {
		return nil, err
	}
	if filter.IssueCode != "" && !domain.ValidIssueCode(filter.IssueCode) {
		return nil, NewError(KindInvalidConfiguration, "unknown issue code %q", filter.IssueCode)
	}
	return w.results.List(ctx, sessionID, filter)
}

// GetResult loads one validation result scoped to the tenant's session.
func (w *Workbench) GetResult(ctx context.Context, tenantID, sessionID, resultID uuid.UUID) (domain.MigrationValidationResult, error) {
	if _, err := loadSession(ctx, w.sessions, tenantID, sessionID); err != nil {
		return domain.MigrationValidationResult{}, err
	}
	return w.loadResult(ctx, sessionID, resultID)
}

// ApplyFix replaces a failing row with operator corrected values and re-runs
// the entity type's rules over them. A clean evaluation moves the row to
// Fixed; remaining blockers keep it in Error with the new issue list. The
// re-run checks the corrected row against persisted tenant data only, not
// against the original in-batch duplicate index.
func (w *Workbench) ApplyFix(ctx context.Context, tenantID, sessionID, resultID uuid.UUID, fixedRow domain.Record, note string) (domain.MigrationValidationResult, error) {
	session, result, release, err := w.beginMutation(ctx, tenantID, sessionID, resultID)
	if err != nil {
		return domain.MigrationValidationResult{}, err
	}
	defer release()

	if result.Status != domain.RowStatusError && result.Status != domain.RowStatusFixed {
		return domain.MigrationValidationResult{}, NewError(KindInvalidState, "row %s is %s; only failing or previously fixed rows can be fixed", resultID, result.Status)
	}
	if len(fixedRow) == 0 {
		return domain.MigrationValidationResult{}, NewError(KindInvalidConfiguration, "fix must contain at least one field")
	}

	ruleSet, ok := w.registry.Get(result.EntityType)
	if !ok {
		return domain.MigrationValidationResult{}, NewError(KindInvalidConfiguration, "no validation rules registered for entity type %s", result.EntityType)
	}
	existing, err := w.entities.ListBusinessKeys(ctx, session.TenantID, result.EntityType)
	if err != nil {
		return domain.MigrationValidationResult{}, err
	}

	evalCtx := rules.EvalContext{
		Mapping:      session.FieldMapping[result.EntityType],
		Options:      session.Options,
		ExistingKeys: existing,
		ResolveReference: func(entityType, key string) bool {
			keys, err := w.entities.ListBusinessKeys(ctx, session.TenantID, entityType)
			if err != nil {
				w.logger.Warn("reference lookup failed", zap.String("entity_type", entityType), zap.Error(err))
				return false
			}
			return keys[key]
		},
		GlobalRowIndex: result.GlobalRowIndex,
	}
	transformed, errs, warnings := ruleSet.Evaluate(fixedRow, evalCtx)

	newStatus := domain.RowStatusFixed
	if len(errs) > 0 {
		newStatus = domain.RowStatusError
	}
	if !result.Status.CanTransition(newStatus) {
		return domain.MigrationValidationResult{}, NewError(KindInvalidState, "row %s cannot move from %s to %s", resultID, result.Status, newStatus)
	}

	if err := w.results.SetFix(ctx, resultID, newStatus, transformed, errs, warnings, note); err != nil {
		return domain.MigrationValidationResult{}, err
	}
	if result.Status == domain.RowStatusError && newStatus == domain.RowStatusFixed {
		if err := w.sessions.AddCounts(ctx, sessionID, repository.CountDelta{Error: -1, Valid: 1}); err != nil {
			return domain.MigrationValidationResult{}, err
		}
	}
	if err := w.sessions.TouchActivity(ctx, sessionID, time.Now().UTC()); err != nil {
		return domain.MigrationValidationResult{}, err
	}

	w.logger.Info("row fix applied",
		zap.String("session_id", sessionID.String()),
		zap.String("result_id", resultID.String()),
		zap.String("status", string(newStatus)),
		zap.Int("remaining_errors", len(errs)),
	)
	return w.loadResult(ctx, sessionID, resultID)
}

// SkipRow excludes a row from import. Skipping is terminal for the row but
// does not touch the rest of the batch.
func (w *Workbench) SkipRow(ctx context.Context, tenantID, sessionID, resultID uuid.UUID, reason string) (domain.MigrationValidationResult, error) {
	_, result, release, err := w.beginMutation(ctx, tenantID, sessionID, resultID)
	if err != nil {
		return domain.MigrationValidationResult{}, err
	}
	defer release()

	if !result.Status.CanTransition(domain.RowStatusSkipped) {
		return domain.MigrationValidationResult{}, NewError(KindInvalidState, "row %s is %s and cannot be skipped", resultID, result.Status)
	}

	if err := w.results.SetSkipped(ctx, resultID, reason); err != nil {
		return domain.MigrationValidationResult{}, err
	}

	delta := repository.CountDelta{Skipped: 1}
	switch result.Status {
	case domain.RowStatusValid, domain.RowStatusFixed:
		delta.Valid = -1
	case domain.RowStatusWarning:
		delta.Warning = -1
	case domain.RowStatusError:
		delta.Error = -1
	}
	if err := w.sessions.AddCounts(ctx, sessionID, delta); err != nil {
		return domain.MigrationValidationResult{}, err
	}
	if err := w.sessions.TouchActivity(ctx, sessionID, time.Now().UTC()); err != nil {
		return domain.MigrationValidationResult{}, err
	}

	w.logger.Info("row skipped",
		zap.String("session_id", sessionID.String()),
		zap.String("result_id", resultID.String()),
		zap.String("reason", reason),
	)
	return w.loadResult(ctx, sessionID, resultID)
}

// IgnoreWarning records that the operator saw a warning row and chose to
// proceed. Warnings never block import; the acknowledgment is an audit marker
// and leaves status and counts untouched.
func (w *Workbench) IgnoreWarning(ctx context.Context, tenantID, sessionID, resultID uuid.UUID) (domain.MigrationValidationResult, error) {
	_, result, release, err := w.beginMutation(ctx, tenantID, sessionID, resultID)
	if err != nil {
		return domain.MigrationValidationResult{}, err
	}
	defer release()

	if result.Status != domain.RowStatusWarning {
		return domain.MigrationValidationResult{}, NewError(KindInvalidState, "row %s is %s; only warning rows can be acknowledged", resultID, result.Status)
	}
	if err := w.results.SetIgnored(ctx, resultID); err != nil {
		return domain.MigrationValidationResult{}, err
	}
	if err := w.sessions.TouchActivity(ctx, sessionID, time.Now().UTC()); err != nil {
		return domain.MigrationValidationResult{}, err
	}
	return w.loadResult(ctx, sessionID, resultID)
}

// beginMutation runs the shared preamble of every workbench mutation: tenant
// scoped loads, the Validated state gate, and the session lock.
func (w *Workbench) beginMutation(ctx context.Context, tenantID, sessionID, resultID uuid.UUID) (domain.MigrationSession, domain.MigrationValidationResult, func(), error) {
	session, err := loadSession(ctx, w.sessions, tenantID, sessionID)
	if err != nil {
		return domain.MigrationSession{}, domain.MigrationValidationResult{}, nil, err
	}
	if session.Status != domain.SessionStatusValidated {
		return domain.MigrationSession{}, domain.MigrationValidationResult{}, nil,
			NewError(KindInvalidState, "session %s is %s; corrections require a validated session", sessionID, session.Status)
	}

	release := w.locks.acquire(sessionID.String())
	if release == nil {
		return domain.MigrationSession{}, domain.MigrationValidationResult{}, nil,
			NewError(KindConflict, "session %s has an operation in progress", sessionID)
	}

	result, err := w.loadResult(ctx, sessionID, resultID)
	if err != nil {
		release()
		return domain.MigrationSession{}, domain.MigrationValidationResult{}, nil, err
	}
	return session, result, release, nil
}

func (w *Workbench) loadResult(ctx context.Context, sessionID, resultID uuid.UUID) (domain.MigrationValidationResult, error) {
	result, err := w.results.GetByID(ctx, resultID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.MigrationValidationResult{}, NewError(KindNotFound, "row %s not found", resultID)
		}
		return domain.MigrationValidationResult{}, err
	}
	if result.SessionID != sessionID {
		return domain.MigrationValidationResult{}, NewError(KindNotFound, "row %s not found", resultID)
	}
	return result, nil
}
