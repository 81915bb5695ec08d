package export

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rpattn/datamigrate/internal/auth"
	"github.com/rpattn/datamigrate/internal/domain"
	"github.com/rpattn/datamigrate/internal/migration"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler serves session issue reports as CSV downloads. The report streams
// straight to the response, so no export file ever lands on disk.
type Handler struct {
	service  *Service
	sessions *migration.SessionManager
	logger   *zap.Logger
}

// NewHTTPHandler wires the report download handler.
func NewHTTPHandler(service *Service, sessions *migration.SessionManager, logger *zap.Logger) *Handler {
	return &Handler{service: service, sessions: sessions, logger: logger}
}

// Register mounts the report route on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions/{id}/report", h.downloadReport)
}

func (h *Handler) downloadReport(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"tenant scope is required"}`, http.StatusUnauthorized)
		return
	}
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, migration.NewError(migration.KindInvalidConfiguration, "invalid session id: %v", err))
		return
	}

	status := domain.RowStatus(r.URL.Query().Get("status"))
	if status != "" && !validReportStatus(status) {
		h.writeError(w, migration.NewError(migration.KindInvalidConfiguration, "unknown row status %q", status))
		return
	}
	entityType := r.URL.Query().Get("entityType")

	// Tenant scoping happens here; the service itself only sees the session ID.
	if _, err := h.sessions.GetSession(r.Context(), tenantID, sessionID); err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", FileName(sessionID, entityType)))

	rows, err := h.service.WriteIssueReport(r.Context(), w, Request{
		SessionID:  sessionID,
		EntityType: entityType,
		Status:     status,
	})
	if err != nil {
		// Headers are already out; all we can do is log and cut the stream.
		h.logger.Error("issue report stream failed",
			zap.String("session_id", sessionID.String()),
			zap.Int("rows_written", rows),
			zap.Error(err),
		)
	}
}

func validReportStatus(status domain.RowStatus) bool {
	switch status {
	case domain.RowStatusValid, domain.RowStatusWarning, domain.RowStatusError,
		domain.RowStatusFixed, domain.RowStatusSkipped,
		domain.RowStatusImported, domain.RowStatusImportFailed:
		return true
	}
	return false
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch migration.KindOf(err) {
	case migration.KindInvalidConfiguration:
		status = http.StatusBadRequest
	case migration.KindNotFound:
		status = http.StatusNotFound
	case migration.KindInvalidState, migration.KindConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("report request failed", zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]string{"error": err.Error()})
}
