package migration

import (
	"context"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"
	"github.com/rpattn/datamigrate/internal/importer"
	"github.com/rpattn/datamigrate/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Executor commits importable rows into the destination domain, one entity
// type at a time in the session's declared order. Failures are row isolated:
// a failing row is recorded and the run continues, ending in
// CompletedWithErrors instead of aborting. Re-running an import only touches
// rows that are still eligible, so retries are safe.
type Executor struct {
	sessions  repository.SessionRepository
	chunks    repository.ChunkRepository
	results   repository.ResultRepository
	importers *importer.Registry
	locks     *LockTable
	logger    *zap.Logger
}

// NewExecutor wires an import executor.
func NewExecutor(sessions repository.SessionRepository, chunks repository.ChunkRepository, results repository.ResultRepository, importers *importer.Registry, locks *LockTable, logger *zap.Logger) *Executor {
	return &Executor{
		sessions:  sessions,
		chunks:    chunks,
		results:   results,
		importers: importers,
		locks:     locks,
		logger:    logger,
	}
}

// importableStatuses lists the session states an import may start from.
// Importing is included so a run orphaned by a crash can be resumed, and
// CompletedWithErrors so failed rows can be retried.
func importableStatuses() []domain.SessionStatus {
	return []domain.SessionStatus{
		domain.SessionStatusValidated,
		domain.SessionStatusImporting,
		domain.SessionStatusCompletedWithErrors,
	}
}

// StartImport runs the import synchronously and returns the finished session.
func (e *Executor) StartImport(ctx context.Context, tenantID, sessionID uuid.UUID) (domain.MigrationSession, error) {
	session, release, err := e.begin(ctx, tenantID, sessionID)
	if err != nil {
		return domain.MigrationSession{}, err
	}
	defer release()

	if err := e.run(ctx, session); err != nil {
		return domain.MigrationSession{}, err
	}
	return loadSession(ctx, e.sessions, tenantID, sessionID)
}

// StartImportAsync starts the import in the background and returns the job
// handle recorded on the session. The background run detaches from the
// caller's context; progress is observable through the session itself.
func (e *Executor) StartImportAsync(ctx context.Context, tenantID, sessionID uuid.UUID) (uuid.UUID, error) {
	session, release, err := e.begin(ctx, tenantID, sessionID)
	if err != nil {
		return uuid.Nil, err
	}

	jobID := *session.ImportJobID
	go func() {
		defer release()
		runCtx := context.Background()
		if err := e.run(runCtx, session); err != nil {
			e.logger.Error("background import failed",
				zap.String("session_id", session.ID.String()),
				zap.String("import_job_id", jobID.String()),
				zap.Error(err),
			)
			return
		}
		e.logger.Info("background import finished",
			zap.String("session_id", session.ID.String()),
			zap.String("import_job_id", jobID.String()),
		)
	}()
	return jobID, nil
}

// begin runs the shared preamble of both entry points: tenant scoping, the
// blocking-issue gate, the session lock, and the move into Importing. On
// success the returned session reflects the Importing state and carries a
// fresh import job id.
func (e *Executor) begin(ctx context.Context, tenantID, sessionID uuid.UUID) (domain.MigrationSession, func(), error) {
	session, err := loadSession(ctx, e.sessions, tenantID, sessionID)
	if err != nil {
		return domain.MigrationSession{}, nil, err
	}

	allowed := false
	for _, status := range importableStatuses() {
		if session.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.MigrationSession{}, nil, NewError(KindInvalidState, "session %s is %s and cannot be imported", sessionID, session.Status)
	}

	byStatus, err := e.results.CountByStatus(ctx, sessionID)
	if err != nil {
		return domain.MigrationSession{}, nil, err
	}
	if blocked := byStatus[domain.RowStatusError]; blocked > 0 {
		return domain.MigrationSession{}, nil, NewError(KindBlockingIssues, "%d row(s) still have blocking errors; fix or skip them before importing", blocked)
	}
	total := 0
	for _, n := range byStatus {
		total += n
	}
	if total == 0 {
		return domain.MigrationSession{}, nil, NewError(KindInvalidState, "session %s has no validated rows to import", sessionID)
	}

	release := e.locks.acquire(sessionID.String())
	if release == nil {
		return domain.MigrationSession{}, nil, NewError(KindConflict, "session %s has an operation in progress", sessionID)
	}

	moved, err := e.sessions.UpdateStatus(ctx, sessionID, importableStatuses(), domain.SessionStatusImporting, "")
	if err != nil {
		release()
		return domain.MigrationSession{}, nil, err
	}
	if !moved {
		release()
		return domain.MigrationSession{}, nil, NewError(KindInvalidState, "session %s changed state concurrently", sessionID)
	}

	now := time.Now().UTC()
	jobID := uuid.New()
	if err := e.sessions.SetImportStarted(ctx, sessionID, now, &jobID); err != nil {
		release()
		return domain.MigrationSession{}, nil, err
	}

	session.Status = domain.SessionStatusImporting
	session.ImportJobID = &jobID
	session.ImportStartedAt = &now
	return session, release, nil
}

// run walks the import order and commits every still-eligible row. The caller
// holds the session lock.
func (e *Executor) run(ctx context.Context, session domain.MigrationSession) error {
	start := time.Now()
	var imported, failed int
	failedChunks := make(map[uuid.UUID]bool)

	for _, entityType := range session.ImportOrder() {
		imp, err := e.importers.For(entityType)
		if err != nil {
			e.failSession(ctx, session.ID, err.Error())
			return WrapError(KindInvalidConfiguration, err, "session %s cannot import %s", session.ID, entityType)
		}

		rows, err := e.results.ListImportable(ctx, session.ID, entityType)
		if err != nil {
			e.failSession(ctx, session.ID, err.Error())
			return err
		}

		for _, row := range rows {
			wasRetry := row.Status == domain.RowStatusImportFailed
			if err := imp.ImportRow(ctx, session.TenantID, entityType, row.ImportRecord()); err != nil {
				failed++
				failedChunks[row.ChunkID] = true
				if markErr := e.results.SetImportFailed(ctx, row.ID, err.Error()); markErr != nil {
					e.failSession(ctx, session.ID, markErr.Error())
					return markErr
				}
				if !wasRetry {
					if countErr := e.sessions.AddCounts(ctx, session.ID, repository.CountDelta{ImportFailed: 1}); countErr != nil {
						return countErr
					}
				}
				e.logger.Warn("row import failed",
					zap.String("session_id", session.ID.String()),
					zap.String("entity_type", entityType),
					zap.Int("global_row_index", row.GlobalRowIndex),
					zap.Error(err),
				)
				continue
			}

			if err := e.results.SetImported(ctx, row.ID, time.Now().UTC()); err != nil {
				e.failSession(ctx, session.ID, err.Error())
				return err
			}
			delta := repository.CountDelta{Imported: 1}
			if wasRetry {
				delta.ImportFailed = -1
			}
			if err := e.sessions.AddCounts(ctx, session.ID, delta); err != nil {
				return err
			}
			imported++
		}
	}

	if err := e.markImportedChunks(ctx, session.ID, failedChunks); err != nil {
		return err
	}

	now := time.Now().UTC()
	final := domain.SessionStatusCompleted
	if failed > 0 {
		final = domain.SessionStatusCompletedWithErrors
	}
	moved, err := e.sessions.UpdateStatus(ctx, session.ID, []domain.SessionStatus{domain.SessionStatusImporting}, final, "")
	if err != nil {
		return err
	}
	if !moved {
		return NewError(KindInvalidState, "session %s left the importing state concurrently", session.ID)
	}
	if err := e.sessions.SetCompletedAt(ctx, session.ID, now); err != nil {
		return err
	}
	if err := e.sessions.TouchActivity(ctx, session.ID, now); err != nil {
		return err
	}

	e.logger.Info("import run finished",
		zap.String("session_id", session.ID.String()),
		zap.String("status", string(final)),
		zap.Int("imported", imported),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// markImportedChunks moves every fully committed chunk to Imported. A chunk
// with at least one failed row keeps its current status so a retry run can
// still see it.
func (e *Executor) markImportedChunks(ctx context.Context, sessionID uuid.UUID, failedChunks map[uuid.UUID]bool) error {
	chunks, err := e.chunks.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, chunk := range chunks {
		if failedChunks[chunk.ID] || !chunk.Status.CanTransition(domain.ChunkStatusImported) {
			continue
		}
		if err := e.chunks.UpdateStatus(ctx, chunk.ID, domain.ChunkStatusImported, now); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) failSession(ctx context.Context, sessionID uuid.UUID, reason string) {
	if _, err := e.sessions.UpdateStatus(ctx, sessionID, nonTerminalStatuses(), domain.SessionStatusFailed, reason); err != nil {
		e.logger.Error("unable to fail session", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
}
