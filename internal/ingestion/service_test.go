package ingestion

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"
	"github.com/rpattn/datamigrate/internal/migration"
	"github.com/rpattn/datamigrate/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type stubSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]domain.MigrationSession
}

func (r *stubSessionRepo) Create(_ context.Context, s domain.MigrationSession) (domain.MigrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return s, nil
}

func (r *stubSessionRepo) GetByID(_ context.Context, id uuid.UUID) (domain.MigrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.MigrationSession{}, repository.ErrNotFound
	}
	return s, nil
}

func (r *stubSessionRepo) List(_ context.Context, _ uuid.UUID, _ domain.SessionFilter) ([]domain.MigrationSession, error) {
	return nil, nil
}

func (r *stubSessionRepo) UpdateStatus(_ context.Context, id uuid.UUID, from []domain.SessionStatus, to domain.SessionStatus, lastError string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	for _, status := range from {
		if s.Status == status {
			s.Status = to
			s.LastError = lastError
			r.sessions[id] = s
			return true, nil
		}
	}
	return false, nil
}

func (r *stubSessionRepo) SetValidatedAt(_ context.Context, _ uuid.UUID, _ time.Time) error {
	return nil
}

func (r *stubSessionRepo) SetImportStarted(_ context.Context, _ uuid.UUID, _ time.Time, _ *uuid.UUID) error {
	return nil
}

func (r *stubSessionRepo) SetCompletedAt(_ context.Context, _ uuid.UUID, _ time.Time) error {
	return nil
}

func (r *stubSessionRepo) TouchActivity(_ context.Context, _ uuid.UUID, _ time.Time) error {
	return nil
}

func (r *stubSessionRepo) AddCounts(_ context.Context, id uuid.UUID, delta repository.CountDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	s.Counts.TotalRecords += delta.Total
	r.sessions[id] = s
	return nil
}

func (r *stubSessionRepo) SetCounts(_ context.Context, _ uuid.UUID, _ domain.SessionCounts) error {
	return nil
}

func (r *stubSessionRepo) ListExpirable(_ context.Context, _ time.Time) ([]domain.MigrationSession, error) {
	return nil, nil
}

type stubChunkRepo struct {
	mu     sync.Mutex
	chunks []domain.MigrationChunk
}

func (r *stubChunkRepo) Create(_ context.Context, chunk domain.MigrationChunk) (domain.MigrationChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
	return chunk, nil
}

func (r *stubChunkRepo) GetByID(_ context.Context, _ uuid.UUID) (domain.MigrationChunk, error) {
	return domain.MigrationChunk{}, repository.ErrNotFound
}

func (r *stubChunkRepo) ListBySession(_ context.Context, _ uuid.UUID) ([]domain.MigrationChunk, error) {
	return nil, nil
}

func (r *stubChunkRepo) ListByEntityType(_ context.Context, _ uuid.UUID, _ string) ([]domain.MigrationChunk, error) {
	return nil, nil
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

func (r *stubChunkRepo) SetDeclaredTotal(_ context.Context, _ uuid.UUID, _ string, _ int) error {
	return nil
}

func (r *stubChunkRepo) UpdateStatus(_ context.Context, _ uuid.UUID, _ domain.ChunkStatus, _ time.Time) error {
	return nil
}

func (r *stubChunkRepo) DeletePayloads(_ context.Context, _ uuid.UUID) error {
	return nil
}

func newTestService(t *testing.T, chunkSize int) (*Service, *stubChunkRepo, uuid.UUID, uuid.UUID) {
	t.Helper()
	tenantID := uuid.New()
	session := domain.NewMigrationSession(tenantID, uuid.New(), "csv", "upload.csv", []string{"customer"}, domain.SessionOptions{}, time.Hour)
	sessions := &stubSessionRepo{sessions: map[uuid.UUID]domain.MigrationSession{session.ID: session}}
	chunks := &stubChunkRepo{}
	store := migration.NewChunkStore(sessions, chunks, migration.NewLockTable(), zap.NewNop(), 0)
	return NewService(store, zap.NewNop(), chunkSize), chunks, tenantID, session.ID
}

func TestIngestSplitsRowsIntoChunks(t *testing.T) {
	service, chunks, tenantID, sessionID := newTestService(t, 2)

	data := "\uFEFFCustomer No,Full Name,Email\n" +
		"C-1,Ada,ada@example.com\n" +
		"C-2,Grace,\n" +
		"\n" +
		"C-3,Edsger,ed@example.com\n"

	summary, err := service.Ingest(context.Background(), Request{
		TenantID:   tenantID,
		SessionID:  sessionID,
		EntityType: "customer",
		FileName:   "customers.csv",
		Data:       strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}

	if summary.TotalRows != 3 || summary.Chunks != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	wantHeaders := []string{"Customer_No", "Full_Name", "Email"}
	for i, header := range wantHeaders {
		if summary.Headers[i] != header {
			t.Fatalf("expected sanitized header %q, got %q", header, summary.Headers[i])
		}
	}

	if len(chunks.chunks) != 2 {
		t.Fatalf("expected 2 stored chunks, got %d", len(chunks.chunks))
	}
	if chunks.chunks[0].RecordCount != 2 || chunks.chunks[1].RecordCount != 1 {
		t.Fatalf("unexpected chunk sizes: %d and %d", chunks.chunks[0].RecordCount, chunks.chunks[1].RecordCount)
	}

	// Blank cells come through as nulls, not empty strings.
	second := chunks.chunks[0].Rows[1]
	email, ok := second.Get("Email")
	if !ok || !email.IsNull() {
		t.Fatalf("expected blank email cell to be null, got %+v", email)
	}
	number, _ := second.Get("Customer_No")
	if number.Str != "C-2" {
		t.Fatalf("expected raw string cell, got %+v", number)
	}
}

func TestIngestRejectsBadUploads(t *testing.T) {
	service, _, tenantID, sessionID := newTestService(t, 0)

	base := Request{TenantID: tenantID, SessionID: sessionID, EntityType: "customer"}

	req := base
	req.FileName = "customers.csv"
	req.Data = strings.NewReader("")
	if _, err := service.Ingest(context.Background(), req); err == nil {
		t.Fatalf("expected error for empty file")
	}

	req = base
	req.FileName = "customers.txt"
	req.Data = strings.NewReader("a,b\n1,2\n")
	if _, err := service.Ingest(context.Background(), req); err == nil {
		t.Fatalf("expected error for unsupported format")
	}

	req = base
	req.FileName = "customers.csv"
	req.Data = strings.NewReader("Customer No,Full Name\n")
	if _, err := service.Ingest(context.Background(), req); err == nil {
		t.Fatalf("expected error for header-only file")
	}

	req = base
	req.EntityType = ""
	req.FileName = "customers.csv"
	req.Data = strings.NewReader("a\n1\n")
	if _, err := service.Ingest(context.Background(), req); err == nil {
		t.Fatalf("expected error for missing entity type")
	}
}

func TestPreviewReturnsSampleWithoutStaging(t *testing.T) {
	service, chunks, tenantID, sessionID := newTestService(t, 0)

	data := "Customer No,Full Name\nC-1,Ada\nC-2,Grace\nC-3,Edsger\n"
	result, err := service.Preview(context.Background(), Request{
		TenantID:   tenantID,
		SessionID:  sessionID,
		EntityType: "customer",
		FileName:   "customers.csv",
		Data:       strings.NewReader(data),
	}, 2)
	if err != nil {
		t.Fatalf("preview returned error: %v", err)
	}

	if result.TotalRows != 3 {
		t.Fatalf("expected 3 total rows, got %d", result.TotalRows)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected limit applied, got %d rows", len(result.Rows))
	}
	if result.Rows[0].RowNumber != 2 {
		t.Fatalf("expected first data row at line 2, got %d", result.Rows[0].RowNumber)
	}
	if result.Rows[0].Values["Customer_No"] != "C-1" {
		t.Fatalf("unexpected preview values: %+v", result.Rows[0].Values)
	}
	if result.RawHeaders[0] != "Customer No" {
		t.Fatalf("expected raw header preserved, got %q", result.RawHeaders[0])
	}
	if len(result.HeaderCandidates) == 0 || !result.HeaderCandidates[0].Current {
		t.Fatalf("expected the detected header marked current: %+v", result.HeaderCandidates)
	}

	if len(chunks.chunks) != 0 {
		t.Fatalf("preview must not stage chunks, got %d", len(chunks.chunks))
	}
}

func TestSanitizeHeadersDeduplicates(t *testing.T) {
	headers := sanitizeHeaders([]string{"Name", "name ", "", "order.date"})
	want := []string{"Name", "name", "column_3", "order_date"}
	for i, header := range want {
		if headers[i] != header {
			t.Fatalf("position %d: expected %q, got %q", i, header, headers[i])
		}
	}

	dup := sanitizeHeaders([]string{"sku", "sku"})
	if dup[0] != "sku" || dup[1] != "sku_2" {
		t.Fatalf("expected duplicate suffix, got %v", dup)
	}
}
