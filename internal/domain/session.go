package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a migration session.
type SessionStatus string

const (
	SessionStatusCreated             SessionStatus = "created"
	SessionStatusUploading           SessionStatus = "uploading"
	SessionStatusValidating          SessionStatus = "validating"
	SessionStatusValidated           SessionStatus = "validated"
	SessionStatusImporting           SessionStatus = "importing"
	SessionStatusCompleted           SessionStatus = "completed"
	SessionStatusCompletedWithErrors SessionStatus = "completed_with_errors"
	SessionStatusFailed              SessionStatus = "failed"
	SessionStatusExpired             SessionStatus = "expired"
)

// sessionTransitions is the closed transition table. Failed and Expired are
// additionally reachable from every non-terminal state; see CanTransition.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusCreated:    {SessionStatusUploading, SessionStatusValidating},
	SessionStatusUploading:  {SessionStatusValidating},
	SessionStatusValidating: {SessionStatusValidated},
	// Validated -> Validating covers re-validation after further uploads.
	SessionStatusValidated: {SessionStatusUploading, SessionStatusValidating, SessionStatusImporting},
	SessionStatusImporting: {SessionStatusCompleted, SessionStatusCompletedWithErrors},
	// CompletedWithErrors -> Importing covers re-running rows that failed at
	// import time.
	SessionStatusCompletedWithErrors: {SessionStatusImporting},
}

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed by the
// lifecycle table. Persistence enforces the same table through the guarded
// from-lists passed to UpdateStatus; this method is the reference those
// guards must stay consistent with.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == SessionStatusFailed || next == SessionStatusExpired {
		return true
	}
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidSessionStatus reports whether status is a known lifecycle state.
func ValidSessionStatus(status SessionStatus) bool {
	switch status {
	case SessionStatusCreated, SessionStatusUploading, SessionStatusValidating,
		SessionStatusValidated, SessionStatusImporting, SessionStatusCompleted,
		SessionStatusCompletedWithErrors, SessionStatusFailed, SessionStatusExpired:
		return true
	}
	return false
}

// SessionCounts aggregates per-row outcomes for a session. Fixed rows are
// folded into ValidRecords once the operator resolves them; import-time
// failures are tracked separately from pre-import errors.
type SessionCounts struct {
	TotalRecords        int `json:"total_records"`
	ValidRecords        int `json:"valid_records"`
	WarningRecords      int `json:"warning_records"`
	ErrorRecords        int `json:"error_records"`
	ImportedRecords     int `json:"imported_records"`
	SkippedRecords      int `json:"skipped_records"`
	ImportFailedRecords int `json:"import_failed_records"`
}

// SessionOptions carries caller supplied configuration for one session:
// parsing hints for the raw data plus the entity type commit order.
type SessionOptions struct {
	// DateFormat is an optional Go layout tried before the built-in layouts
	// when coercing date cells.
	DateFormat string `json:"date_format,omitempty"`
	// DecimalComma interprets "1.234,56" style numbers when set.
	DecimalComma bool `json:"decimal_comma,omitempty"`
	// ImportOrder lists entity types in commit order. Types with references
	// must come after the types they reference. Defaults to the session's
	// entity type list.
	ImportOrder []string `json:"import_order,omitempty"`
}

// FieldMapping maps source column names to target field names per entity type.
type FieldMapping map[string]map[string]string

// MigrationSession is one bulk import job for one tenant.
type MigrationSession struct {
	ID              uuid.UUID      `json:"id"`
	TenantID        uuid.UUID      `json:"tenant_id"`
	CreatorID       uuid.UUID      `json:"creator_id"`
	SourceType      string         `json:"source_type"`
	SourceName      string         `json:"source_name"`
	Status          SessionStatus  `json:"status"`
	EntityTypes     []string       `json:"entity_types"`
	Counts          SessionCounts  `json:"counts"`
	Options         SessionOptions `json:"options"`
	FieldMapping    FieldMapping   `json:"field_mapping,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	ImportJobID     *uuid.UUID     `json:"import_job_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	LastActivityAt  time.Time      `json:"last_activity_at"`
	ValidatedAt     *time.Time     `json:"validated_at,omitempty"`
	ImportStartedAt *time.Time     `json:"import_started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	ExpiresAt       time.Time      `json:"expires_at"`
}

// NewMigrationSession creates a session in the Created state with the given
// expiration horizon.
func NewMigrationSession(tenantID, creatorID uuid.UUID, sourceType, sourceName string, entityTypes []string, options SessionOptions, ttl time.Duration) MigrationSession {
	now := time.Now().UTC()
	types := make([]string, len(entityTypes))
	copy(types, entityTypes)
	return MigrationSession{
		ID:             uuid.New(),
		TenantID:       tenantID,
		CreatorID:      creatorID,
		SourceType:     sourceType,
		SourceName:     sourceName,
		Status:         SessionStatusCreated,
		EntityTypes:    types,
		Options:        options,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
	}
}

// HasEntityType reports whether the session includes the entity type.
func (s MigrationSession) HasEntityType(entityType string) bool {
	for _, t := range s.EntityTypes {
		if t == entityType {
			return true
		}
	}
	return false
}

// ImportOrder returns the entity type commit order: the caller declared order
// when present, otherwise the session's entity type list.
func (s MigrationSession) ImportOrder() []string {
	if len(s.Options.ImportOrder) > 0 {
		return s.Options.ImportOrder
	}
	return s.EntityTypes
}

// ValidateImportOrder checks that a declared order covers every entity type
// exactly once.
func (s MigrationSession) ValidateImportOrder() error {
	order := s.Options.ImportOrder
	if len(order) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(order))
	for _, entityType := range order {
		if seen[entityType] {
			return fmt.Errorf("entity type %s listed twice in import order", entityType)
		}
		if !s.HasEntityType(entityType) {
			return fmt.Errorf("entity type %s in import order is not part of the session", entityType)
		}
		seen[entityType] = true
	}
	if len(seen) != len(s.EntityTypes) {
		return fmt.Errorf("import order covers %d of %d entity types", len(seen), len(s.EntityTypes))
	}
	return nil
}

// IsExpired reports whether the session is past its expiration horizon.
func (s MigrationSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionFilter narrows ListSessions queries.
type SessionFilter struct {
	Status     SessionStatus
	SourceType string
	Limit      int
	Offset     int
}
