// Package export streams validation outcomes of a migration session to CSV so
// operators can review or archive an issue report outside the workbench.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"
	"github.com/rpattn/datamigrate/internal/repository"

	"github.com/google/uuid"
)

// Service renders session reports. Results are paged out of the repository so
// arbitrarily large sessions stream in constant memory.
type Service struct {
	results  repository.ResultRepository
	pageSize int
}

// NewService creates an export service. A zero pageSize falls back to 1000.
func NewService(results repository.ResultRepository, pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Service{results: results, pageSize: pageSize}
}

// Request narrows which rows the report covers. Zero values cover everything.
type Request struct {
	SessionID  uuid.UUID
	EntityType string
	Status     domain.RowStatus
}

var reportHeader = []string{
	"entity_type", "global_row_index", "status",
	"errors", "warnings", "operator_action", "operator_note", "import_error",
	"row_data",
}

// WriteIssueReport streams the session's validation results as CSV. Rows come
// out grouped by entity type in batch order, one line per staged row.
func (s *Service) WriteIssueReport(ctx context.Context, w io.Writer, req Request) (int, error) {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(reportHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	rowsWritten := 0
	offset := 0
	line := make([]string, len(reportHeader))

	for {
		if ctx.Err() != nil {
			return rowsWritten, ctx.Err()
		}

		filter := domain.ResultFilter{
			EntityType: req.EntityType,
			Status:     req.Status,
			Limit:      s.pageSize,
			Offset:     offset,
		}
		results, err := s.results.List(ctx, req.SessionID, filter)
		if err != nil {
			return rowsWritten, fmt.Errorf("list results: %w", err)
		}
		if len(results) == 0 {
			break
		}

		for _, result := range results {
			line[0] = result.EntityType
			line[1] = strconv.Itoa(result.GlobalRowIndex)
			line[2] = string(result.Status)
			line[3] = formatIssues(result.Errors)
			line[4] = formatIssues(result.Warnings)
			line[5] = string(result.OperatorAction)
			line[6] = result.OperatorNote
			line[7] = result.ImportError
			line[8] = formatRecord(result.RowData)
			if err := csvWriter.Write(line); err != nil {
				return rowsWritten, fmt.Errorf("write result row: %w", err)
			}
			rowsWritten++
		}

		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			return rowsWritten, fmt.Errorf("flush rows: %w", err)
		}
		if len(results) < s.pageSize {
			break
		}
		offset += s.pageSize
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return rowsWritten, fmt.Errorf("final flush: %w", err)
	}
	return rowsWritten, nil
}

// FileName derives the attachment name for a session report.
func FileName(sessionID uuid.UUID, entityType string) string {
	base := "issues"
	if component := sanitizeFileComponent(entityType); component != "" {
		base = component + "-issues"
	}
	return fmt.Sprintf("%s-%s-%s.csv", base, sessionID.String(), time.Now().UTC().Format("20060102"))
}

func formatIssues(issues []domain.RowIssue) string {
	if len(issues) == 0 {
		return ""
	}
	parts := make([]string, len(issues))
	for i, issue := range issues {
		parts[i] = issue.String()
	}
	return strings.Join(parts, "; ")
}

func formatRecord(record domain.Record) string {
	if len(record) == 0 {
		return ""
	}
	parts := make([]string, len(record))
	for i, field := range record {
		parts[i] = fmt.Sprintf("%s=%s", field.Name, field.Value.String())
	}
	return strings.Join(parts, "|")
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	return strings.Trim(builder.String(), "-")
}
