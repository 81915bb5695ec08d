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

// DefaultSessionTTL is how long an idle session survives before the sweeper
// expires it.
const DefaultSessionTTL = 48 * time.Hour

// SessionManager owns the session lifecycle: creation, lookup, cancellation
// and activity tracking. All lookups are tenant scoped; a session belonging to
// another tenant is indistinguishable from a missing one.
type SessionManager struct {
	sessions repository.SessionRepository
	registry *rules.Registry
	locks    *LockTable
	logger   *zap.Logger
	ttl      time.Duration
}

// NewSessionManager wires a session manager. A zero ttl falls back to
// DefaultSessionTTL.
func NewSessionManager(sessions repository.SessionRepository, registry *rules.Registry, locks *LockTable, logger *zap.Logger, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		sessions: sessions,
		registry: registry,
		locks:    locks,
		logger:   logger,
		ttl:      ttl,
	}
}

// CreateSessionInput carries the caller supplied parameters of a new session.
type CreateSessionInput struct {
	SourceType   string                `json:"source_type"`
	SourceName   string                `json:"source_name"`
	EntityTypes  []string              `json:"entity_types"`
	Options      domain.SessionOptions `json:"options"`
	FieldMapping domain.FieldMapping   `json:"field_mapping,omitempty"`
}

// CreateSession validates the input and persists a session in the Created
// state. Every requested entity type must have a registered rule set, and a
// declared import order must cover the entity types exactly.
func (m *SessionManager) CreateSession(ctx context.Context, tenantID, creatorID uuid.UUID, input CreateSessionInput) (domain.MigrationSession, error) {
	if len(input.EntityTypes) == 0 {
		return domain.MigrationSession{}, NewError(KindInvalidConfiguration, "session requires at least one entity type")
	}
	seen := make(map[string]bool, len(input.EntityTypes))
	for _, entityType := range input.EntityTypes {
		if entityType == "" {
			return domain.MigrationSession{}, NewError(KindInvalidConfiguration, "entity type must not be empty")
		}
		if seen[entityType] {
			return domain.MigrationSession{}, NewError(KindInvalidConfiguration, "entity type %s listed twice", entityType)
		}
		seen[entityType] = true
		if _, ok := m.registry.Get(entityType); !ok {
			return domain.MigrationSession{}, NewError(KindInvalidConfiguration, "no validation rules registered for entity type %s", entityType)
		}
	}

	session := domain.NewMigrationSession(tenantID, creatorID, input.SourceType, input.SourceName, input.EntityTypes, input.Options, m.ttl)
	session.FieldMapping = input.FieldMapping
	if err := session.ValidateImportOrder(); err != nil {
		return domain.MigrationSession{}, WrapError(KindInvalidConfiguration, err, "invalid import order")
	}

	created, err := m.sessions.Create(ctx, session)
	if err != nil {
		return domain.MigrationSession{}, err
	}

	m.logger.Info("migration session created",
		zap.String("session_id", created.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.Strings("entity_types", created.EntityTypes),
		zap.String("source_type", created.SourceType),
	)
	return created, nil
}

// GetSession loads a session scoped to the tenant.
func (m *SessionManager) GetSession(ctx context.Context, tenantID, sessionID uuid.UUID) (domain.MigrationSession, error) {
	return loadSession(ctx, m.sessions, tenantID, sessionID)
}

// ListSessions returns the tenant's sessions, newest first.
func (m *SessionManager) ListSessions(ctx context.Context, tenantID uuid.UUID, filter domain.SessionFilter) ([]domain.MigrationSession, error) {
	if filter.Status != "" && !domain.ValidSessionStatus(filter.Status) {
		return nil, NewError(KindInvalidConfiguration, "unknown session status %q", filter.Status)
	}
	return m.sessions.List(ctx, tenantID, filter)
}

// CancelSession moves a non-terminal session to Failed. A running import
// cannot be cancelled; it finishes or fails on its own. Imported rows stay
// imported either way, cancellation only stops further pipeline work.
func (m *SessionManager) CancelSession(ctx context.Context, tenantID, sessionID uuid.UUID, reason string) (domain.MigrationSession, error) {
	session, err := loadSession(ctx, m.sessions, tenantID, sessionID)
	if err != nil {
		return domain.MigrationSession{}, err
	}
	if session.Status.IsTerminal() {
		return domain.MigrationSession{}, NewError(KindInvalidState, "session %s is already %s", sessionID, session.Status)
	}
	if session.Status == domain.SessionStatusImporting {
		return domain.MigrationSession{}, NewError(KindInvalidState, "session %s has an import in progress and cannot be cancelled", sessionID)
	}

	release := m.locks.acquire(sessionID.String())
	if release == nil {
		return domain.MigrationSession{}, NewError(KindConflict, "session %s has an operation in progress", sessionID)
	}
	defer release()

	if reason == "" {
		reason = "cancelled by user"
	}
	moved, err := m.sessions.UpdateStatus(ctx, sessionID, cancellableStatuses(), domain.SessionStatusFailed, reason)
	if err != nil {
		return domain.MigrationSession{}, err
	}
	if !moved {
		return domain.MigrationSession{}, NewError(KindInvalidState, "session %s changed state concurrently and can no longer be cancelled", sessionID)
	}

	m.logger.Info("migration session cancelled",
		zap.String("session_id", sessionID.String()),
		zap.String("reason", reason),
	)
	return loadSession(ctx, m.sessions, tenantID, sessionID)
}

// TouchActivity refreshes the session's activity timestamp so the sweeper
// does not expire a session an operator is actively working.
func (m *SessionManager) TouchActivity(ctx context.Context, tenantID, sessionID uuid.UUID) error {
	if _, err := loadSession(ctx, m.sessions, tenantID, sessionID); err != nil {
		return err
	}
	return m.sessions.TouchActivity(ctx, sessionID, time.Now().UTC())
}

// loadSession fetches a session and enforces tenant scoping. Sessions of other
// tenants report NotFound rather than a permission error.
func loadSession(ctx context.Context, sessions repository.SessionRepository, tenantID, sessionID uuid.UUID) (domain.MigrationSession, error) {
	session, err := sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.MigrationSession{}, NewError(KindNotFound, "session %s not found", sessionID)
		}
		return domain.MigrationSession{}, err
	}
	if session.TenantID != tenantID {
		return domain.MigrationSession{}, NewError(KindNotFound, "session %s not found", sessionID)
	}
	return session, nil
}

// cancellableStatuses lists the states an operator cancel may act on. The
// guard is enforced in the status update itself, so a session that starts
// importing between the load and the update still refuses the cancel.
func cancellableStatuses() []domain.SessionStatus {
	return []domain.SessionStatus{
		domain.SessionStatusCreated,
		domain.SessionStatusUploading,
		domain.SessionStatusValidating,
		domain.SessionStatusValidated,
		domain.SessionStatusCompletedWithErrors,
	}
}

func nonTerminalStatuses() []domain.SessionStatus {
	return []domain.SessionStatus{
		domain.SessionStatusCreated,
		domain.SessionStatusUploading,
		domain.SessionStatusValidating,
		domain.SessionStatusValidated,
		domain.SessionStatusImporting,
		domain.SessionStatusCompletedWithErrors,
	}
}
