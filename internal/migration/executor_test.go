package migration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"
	"github.com/rpattn/datamigrate/internal/importer"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// recordingImporter captures every imported row and can be told to fail
// specific business keys.
type recordingImporter struct {
	mu       sync.Mutex
	imported []string
	failKeys map[string]bool
}

func newRecordingImporter() *recordingImporter {
	return &recordingImporter{failKeys: make(map[string]bool)}
}

func (r *recordingImporter) ImportRow(_ context.Context, _ uuid.UUID, entityType string, record domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ""
	for _, field := range record {
		if field.Name == "customer_number" || field.Name == "sku" || field.Name == "order_number" {
			key = field.Value.String()
			break
		}
	}
	if r.failKeys[key] {
		return errors.New("destination rejected the row")
	}
	r.imported = append(r.imported, entityType+"/"+key)
	return nil
}

func (r *recordingImporter) rows() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.imported))
	copy(out, r.imported)
	return out
}

func stagedCustomers(t *testing.T, p *pipeline, tenantID uuid.UUID, rows ...domain.Record) domain.MigrationSession {
	t.Helper()
	session := createSession(t, p, tenantID, "customer")
	if _, err := p.store.AppendChunk(context.Background(), tenantID, session.ID, "customer", rows); err != nil {
		t.Fatalf("append returned error: %v", err)
	}
	validated, err := p.validator.ValidateSession(context.Background(), tenantID, session.ID)
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	return validated
}

func TestStartImportCommitsValidRows(t *testing.T) {
	p := newPipeline()
	tenantID := uuid.New()
	session := stagedCustomers(t, p, tenantID, customerRow("C-1", "Ada"), customerRow("C-2", "Grace"))

	finished, err := p.executor.StartImport(context.Background(), tenantID, session.ID)
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}
	if finished.Status != domain.SessionStatusCompleted {
		t.Fatalf("expected completed status, got %s", finished.Status)
	}
	if finished.Counts.ImportedRecords != 2 || finished.Counts.ImportFailedRecords != 0 {
		t.Fatalf("unexpected counts: %+v", finished.Counts)
	}
	if finished.CompletedAt == nil || finished.ImportStartedAt == nil || finished.ImportJobID == nil {
		t.Fatalf("expected import timestamps and job id on the session")
	}

	keys, err := p.entities.ListBusinessKeys(context.Background(), tenantID, "customer")
	if err != nil {
		t.Fatalf("list keys returned error: %v", err)
	}
	if !keys["C-1"] || !keys["C-2"] {
		t.Fatalf("expected both customers persisted, got %v", keys)
	}

	chunks, _ := p.chunks.ListBySession(context.Background(), session.ID)
	if chunks[0].Status != domain.ChunkStatusImported {
		t.Fatalf("expected chunk marked imported, got %s", chunks[0].Status)
	}
}

func TestStartImportBlocksOnErrorRows(t *testing.T) {
	p := newPipeline()
	tenantID := uuid.New()
	session := createSession(t, p, tenantID, "customer")

	rows := []domain.Record{customerRow("C-1", "Ada"), {str("customer_number", "C-2")}}
	if _, err := p.store.AppendChunk(context.Background(), tenantID, session.ID, "customer", rows); err != nil {
		t.Fatalf("append returned error: %v", err)
	}
	if _, err := p.validator.ValidateSession(context.Background(), tenantID, session.ID); err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	if _, err := p.executor.StartImport(context.Background(), tenantID, session.ID); !IsKind(err, KindBlockingIssues) {
		t.Fatalf("expected blocking issues, got %v", err)
	}

	loaded, _ := p.manager.GetSession(context.Background(), tenantID, session.ID)
	if loaded.Status != domain.SessionStatusValidated {
		t.Fatalf("expected session untouched by the rejected import, got %s", loaded.Status)
	}
}

func TestSkippedRowsAreExcludedFromImport(t *testing.T) {
	p := newPipeline()
	tenantID := uuid.New()
	session := createSession(t, p, tenantID, "customer")

	rows := []domain.Record{customerRow("C-1", "Ada"), {str("customer_number", "C-2")}}
	if _, err := p.store.AppendChunk(context.Background(), tenantID, session.ID, "customer", rows); err != nil {
		t.Fatalf("append returned error: %v", err)
	}
	if _, err := p.validator.ValidateSession(context.Background(), tenantID, session.ID); err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	blocked, err := p.workbench.ListResults(context.Background(), tenantID, session.ID, domain.ResultFilter{Status: domain.RowStatusError})
	if err != nil || len(blocked) != 1 {
		t.Fatalf("expected one blocking row, got %d (%v)", len(blocked), err)
	}
	if _, err := p.workbench.SkipRow(context.Background(), tenantID, session.ID, blocked[0].ID, "source row beyond repair"); err != nil {
		t.Fatalf("skip returned error: %v", err)
	}

	finished, err := p.executor.StartImport(context.Background(), tenantID, session.ID)
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}
	if finished.Status != domain.SessionStatusCompleted {
		t.Fatalf("expected completed status, got %s", finished.Status)
	}
	if finished.Counts.ImportedRecords != 1 || finished.Counts.SkippedRecords != 1 {
		t.Fatalf("unexpected counts: %+v", finished.Counts)
	}

	keys, err := p.entities.ListBusinessKeys(context.Background(), tenantID, "customer")
	if err != nil {
		t.Fatalf("list keys returned error: %v", err)
	}
	if !keys["C-1"] || keys["C-2"] {
		t.Fatalf("expected only the surviving row persisted, got %v", keys)
	}
}

func TestStartImportRejectsUnvalidatedSession(t *testing.T) {
	p := newPipeline()
	tenantID := uuid.New()
	session := createSession(t, p, tenantID, "customer")

	if _, err := p.executor.StartImport(context.Background(), tenantID, session.ID); !IsKind(err, KindInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestStartImportFollowsDeclaredOrder(t *testing.T) {
	p := newPipeline()
	tenantID := uuid.New()
	recorder := newRecordingImporter()
	executor := NewExecutor(p.sessions, p.chunks, p.results, importer.NewRegistry(recorder), p.locks, zap.NewNop())

	session, err := p.manager.CreateSession(context.Background(), tenantID, uuid.New(), CreateSessionInput{
		EntityTypes: []string{"order", "customer"},
		Options:     domain.SessionOptions{ImportOrder: []string{"customer", "order"}},
	})
	if err != nil {
		t.Fatalf("create session returned error: %v", err)
	}

	orderRow := domain.Record{
		str("order_number", "O-1"),
		str("customer_number", "C-1"),
		str("sku", "P-1"),
		str("quantity", "1"),
		str("order_date", "2026-01-15"),
	}
	p.entities.seed(tenantID, "product", "P-1")
	if _, err := p.store.AppendChunk(context.Background(), tenantID, session.ID, "order", []domain.Record{orderRow}); err != nil {
		t.Fatalf("append order returned error: %v", err)
	}
	if _, err := p.store.AppendChunk(context.Background(), tenantID, session.ID, "customer", []domain.Record{customerRow("C-1", "Ada")}); err != nil {
		t.Fatalf("append customer returned error: %v", err)
	}
	if _, err := p.validator.ValidateSession(context.Background(), tenantID, session.ID); err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	if _, err := executor.StartImport(context.Background(), tenantID, session.ID); err != nil {
		t.Fatalf("import returned error: %v", err)
	}

	rows := recorder.rows()
	if len(rows) != 2 || rows[0] != "customer/C-1" || rows[1] != "order/O-1" {
		t.Fatalf("expected customers before orders, got %v", rows)
	}
}

func TestFailedRowsEndInCompletedWithErrorsAndRetry(t *testing.T) {
	p := newPipeline()
	tenantID := uuid.New()
	recorder := newRecordingImporter()
	recorder.failKeys["C-2"] = true
	executor := NewExecutor(p.sessions, p.chunks, p.results, importer.NewRegistry(recorder), p.locks, zap.NewNop())

	session := stagedCustomers(t, p, tenantID, customerRow("C-1", "Ada"), customerRow("C-2", "Grace"))

	finished, err := executor.StartImport(context.Background(), tenantID, session.ID)
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}
	if finished.Status != domain.SessionStatusCompletedWithErrors {
		t.Fatalf("expected completed with errors, got %s", finished.Status)
	}
	if finished.Counts.ImportedRecords != 1 || finished.Counts.ImportFailedRecords != 1 {
		t.Fatalf("unexpected counts after failure: %+v", finished.Counts)
	}

	failedRows, _ := p.workbench.ListResults(context.Background(), tenantID, session.ID, domain.ResultFilter{Status: domain.RowStatusImportFailed})
	if len(failedRows) != 1 || failedRows[0].ImportError == "" {
		t.Fatalf("expected one failed row with its reason, got %+v", failedRows)
	}

	// A retry only touches the failed row.
	recorder.mu.Lock()
	recorder.failKeys = map[string]bool{}
	recorder.mu.Unlock()

	retried, err := executor.StartImport(context.Background(), tenantID, session.ID)
	if err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if retried.Status != domain.SessionStatusCompleted {
		t.Fatalf("expected completed after retry, got %s", retried.Status)
	}
	if retried.Counts.ImportedRecords != 2 || retried.Counts.ImportFailedRecords != 0 {
		t.Fatalf("unexpected counts after retry: %+v", retried.Counts)
	}
	if rows := recorder.rows(); len(rows) != 2 {
		t.Fatalf("expected exactly one extra import on retry, got %v", rows)
	}
}

func TestStartImportAsyncReturnsJobHandle(t *testing.T) {
	p := newPipeline()
	tenantID := uuid.New()
	session := stagedCustomers(t, p, tenantID, customerRow("C-1", "Ada"))

	jobID, err := p.executor.StartImportAsync(context.Background(), tenantID, session.ID)
	if err != nil {
		t.Fatalf("async import returned error: %v", err)
	}
	if jobID == uuid.Nil {
		t.Fatalf("expected a job id")
	}

	deadline := time.After(2 * time.Second)
	for {
		loaded, err := p.manager.GetSession(context.Background(), tenantID, session.ID)
		if err != nil {
			t.Fatalf("get session returned error: %v", err)
		}
		if loaded.Status == domain.SessionStatusCompleted {
			if loaded.ImportJobID == nil || *loaded.ImportJobID != jobID {
				t.Fatalf("expected job id %s on the session, got %v", jobID, loaded.ImportJobID)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("import did not finish, session is %s", loaded.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
