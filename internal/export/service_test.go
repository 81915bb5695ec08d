package export

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"

	"github.com/google/uuid"
)

type stubResultRepo struct {
	results []domain.MigrationValidationResult
}

func (r *stubResultRepo) ReplaceForChunk(_ context.Context, _ uuid.UUID, _ []domain.MigrationValidationResult) error {
	return nil
}

func (r *stubResultRepo) GetByID(_ context.Context, _ uuid.UUID) (domain.MigrationValidationResult, error) {
	return domain.MigrationValidationResult{}, nil
}

func (r *stubResultRepo) List(_ context.Context, sessionID uuid.UUID, filter domain.ResultFilter) ([]domain.MigrationValidationResult, error) {
	var matched []domain.MigrationValidationResult
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
		matched = append(matched, result)
	}
	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (r *stubResultRepo) ListImportable(_ context.Context, _ uuid.UUID, _ string) ([]domain.MigrationValidationResult, error) {
	return nil, nil
}

func (r *stubResultRepo) CountByStatus(_ context.Context, _ uuid.UUID) (map[domain.RowStatus]int, error) {
	return nil, nil
}

func (r *stubResultRepo) SetFix(_ context.Context, _ uuid.UUID, _ domain.RowStatus, _ domain.Record, _, _ []domain.RowIssue, _ string) error {
	return nil
}

func (r *stubResultRepo) SetSkipped(_ context.Context, _ uuid.UUID, _ string) error {
	return nil
}

func (r *stubResultRepo) SetIgnored(_ context.Context, _ uuid.UUID) error {
	return nil
}

func (r *stubResultRepo) SetImported(_ context.Context, _ uuid.UUID, _ time.Time) error {
	return nil
}

func (r *stubResultRepo) SetImportFailed(_ context.Context, _ uuid.UUID, _ string) error {
	return nil
}

func sampleResult(sessionID uuid.UUID, entityType string, index int, status domain.RowStatus) domain.MigrationValidationResult {
	return domain.MigrationValidationResult{
		ID:             uuid.New(),
		SessionID:      sessionID,
		EntityType:     entityType,
		GlobalRowIndex: index,
		Status:         status,
		RowData: domain.Record{
			{Name: "customer_number", Value: domain.StringValue("C-1")},
			{Name: "name", Value: domain.StringValue("Ada")},
		},
	}
}

func TestWriteIssueReportStreamsAllPages(t *testing.T) {
	sessionID := uuid.New()
	repo := &stubResultRepo{}
	for i := 0; i < 5; i++ {
		repo.results = append(repo.results, sampleResult(sessionID, "customer", i, domain.RowStatusValid))
	}

	service := NewService(repo, 2)
	var buf strings.Builder
	rows, err := service.WriteIssueReport(context.Background(), &buf, Request{SessionID: sessionID})
	if err != nil {
		t.Fatalf("report returned error: %v", err)
	}
	if rows != 5 {
		t.Fatalf("expected 5 rows written, got %d", rows)
	}

	parsed, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("report is not valid csv: %v", err)
	}
	if len(parsed) != 6 {
		t.Fatalf("expected header plus 5 rows, got %d lines", len(parsed))
	}
	if parsed[0][0] != "entity_type" {
		t.Fatalf("unexpected header: %v", parsed[0])
	}
	if parsed[1][0] != "customer" || parsed[1][1] != "0" || parsed[1][2] != "valid" {
		t.Fatalf("unexpected first row: %v", parsed[1])
	}
	if parsed[1][8] != "customer_number=C-1|name=Ada" {
		t.Fatalf("unexpected row data rendering: %v", parsed[1][8])
	}
}

func TestWriteIssueReportRendersIssues(t *testing.T) {
	sessionID := uuid.New()
	result := sampleResult(sessionID, "customer", 0, domain.RowStatusError)
	result.Errors = []domain.RowIssue{
		{Field: "name", Code: domain.IssueSchema, Message: "required field is missing"},
		{Field: "email", Code: domain.IssueBusinessRule, Message: "bad address"},
	}
	result.Warnings = []domain.RowIssue{
		{Field: "credit_limit", Code: domain.IssueRange, Message: "value -5 below minimum 0"},
	}
	repo := &stubResultRepo{results: []domain.MigrationValidationResult{result}}

	var buf strings.Builder
	if _, err := NewService(repo, 0).WriteIssueReport(context.Background(), &buf, Request{SessionID: sessionID}); err != nil {
		t.Fatalf("report returned error: %v", err)
	}

	parsed, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("report is not valid csv: %v", err)
	}
	row := parsed[1]
	if !strings.Contains(row[3], "[schema] name: required field is missing") || !strings.Contains(row[3], "; ") {
		t.Fatalf("unexpected errors column: %q", row[3])
	}
	if !strings.Contains(row[4], "[range] credit_limit") {
		t.Fatalf("unexpected warnings column: %q", row[4])
	}
}

func TestWriteIssueReportAppliesFilters(t *testing.T) {
	sessionID := uuid.New()
	repo := &stubResultRepo{results: []domain.MigrationValidationResult{
		sampleResult(sessionID, "customer", 0, domain.RowStatusValid),
		sampleResult(sessionID, "customer", 1, domain.RowStatusError),
		sampleResult(sessionID, "product", 2, domain.RowStatusError),
	}}

	var buf strings.Builder
	rows, err := NewService(repo, 0).WriteIssueReport(context.Background(), &buf, Request{
		SessionID:  sessionID,
		EntityType: "customer",
		Status:     domain.RowStatusError,
	})
	if err != nil {
		t.Fatalf("report returned error: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected 1 matching row, got %d", rows)
	}
}

func TestFileNameSanitizesEntityType(t *testing.T) {
	sessionID := uuid.New()

	name := FileName(sessionID, "Customer Master!")
	if !strings.HasPrefix(name, "customer-master-issues-") {
		t.Fatalf("unexpected file name %q", name)
	}
	if !strings.HasSuffix(name, ".csv") {
		t.Fatalf("expected csv extension, got %q", name)
	}

	plain := FileName(sessionID, "")
	if !strings.HasPrefix(plain, "issues-") {
		t.Fatalf("unexpected file name %q", plain)
	}
}
