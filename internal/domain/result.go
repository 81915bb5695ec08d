package domain

import (
	"time"

	"github.com/google/uuid"
)

// RowStatus is the per-row outcome state.
type RowStatus string

const (
	RowStatusValid        RowStatus = "valid"
	RowStatusWarning      RowStatus = "warning"
	RowStatusError        RowStatus = "error"
	RowStatusFixed        RowStatus = "fixed"
	RowStatusSkipped      RowStatus = "skipped"
	RowStatusImported     RowStatus = "imported"
	RowStatusImportFailed RowStatus = "import_failed"
)

// rowTransitions is the closed per-row transition table. A row only reaches
// Imported from Valid, Warning, Fixed or a retried ImportFailed; an
// unresolved Error row never does.
var rowTransitions = map[RowStatus][]RowStatus{
	RowStatusValid:   {RowStatusImported, RowStatusImportFailed, RowStatusSkipped},
	RowStatusWarning: {RowStatusWarning, RowStatusImported, RowStatusImportFailed, RowStatusSkipped},
	// Error -> Error covers a failed fix attempt that replaces the issue list.
	RowStatusError:        {RowStatusError, RowStatusFixed, RowStatusSkipped},
	RowStatusFixed:        {RowStatusFixed, RowStatusImported, RowStatusImportFailed, RowStatusSkipped},
	RowStatusImportFailed: {RowStatusImported, RowStatusImportFailed},
	RowStatusSkipped:      {},
	RowStatusImported:     {},
}

// CanTransition reports whether moving from s to next is allowed.
func (s RowStatus) CanTransition(next RowStatus) bool {
	for _, allowed := range rowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Importable reports whether a row in this status is eligible for import.
// Warnings are advisory and do not block import.
func (s RowStatus) Importable() bool {
	switch s {
	case RowStatusValid, RowStatusWarning, RowStatusFixed, RowStatusImportFailed:
		return true
	}
	return false
}

// OperatorAction records the correction decision taken on a row.
type OperatorAction string

const (
	OperatorActionAccept OperatorAction = "accept"
	OperatorActionFix    OperatorAction = "fix"
	OperatorActionSkip   OperatorAction = "skip"
	OperatorActionIgnore OperatorAction = "ignore"
)

// MigrationValidationResult is the validation and import outcome for exactly
// one row. GlobalRowIndex positions the row across all chunks of the same
// entity type; values for one (session, entity type) form a dense strictly
// increasing sequence independent of chunk boundaries.
type MigrationValidationResult struct {
	ID              uuid.UUID      `json:"id"`
	SessionID       uuid.UUID      `json:"session_id"`
	ChunkID         uuid.UUID      `json:"chunk_id"`
	EntityType      string         `json:"entity_type"`
	RowIndex        int            `json:"row_index"`
	GlobalRowIndex  int            `json:"global_row_index"`
	RowData         Record         `json:"row_data"`
	TransformedData Record         `json:"transformed_data,omitempty"`
	FixedData       Record         `json:"fixed_data,omitempty"`
	Status          RowStatus      `json:"status"`
	Errors          []RowIssue     `json:"errors,omitempty"`
	Warnings        []RowIssue     `json:"warnings,omitempty"`
	OperatorAction  OperatorAction `json:"operator_action,omitempty"`
	OperatorNote    string         `json:"operator_note,omitempty"`
	ImportError     string         `json:"import_error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ValidatedAt     time.Time      `json:"validated_at"`
	ImportedAt      *time.Time     `json:"imported_at,omitempty"`
}

// ImportRecord returns the record to hand to the importer: the operator fix
// when present, otherwise the transformed row.
func (r MigrationValidationResult) ImportRecord() Record {
	if len(r.FixedData) > 0 {
		return r.FixedData
	}
	return r.TransformedData
}

// ResultFilter narrows validation result queries. Zero values match all rows;
// results are always ordered by GlobalRowIndex.
type ResultFilter struct {
	Status     RowStatus
	EntityType string
	IssueCode  IssueCode
	Limit      int
	Offset     int
}
