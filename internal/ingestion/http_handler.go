package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/datamigrate/internal/auth"

	"github.com/google/uuid"
)

// Handler exposes file upload and preview as HTTP endpoints. The session the
// upload targets comes from the URL; the tenant scope from the request
// context.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service for mounting on a mux.
func NewHTTPHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Upload handles POST /api/sessions/{id}/upload.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	summary, err := h.service.Ingest(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Preview handles POST /api/sessions/{id}/upload/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.FormValue("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	result, err := h.service.Preview(r.Context(), req, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) parseRequest(w http.ResponseWriter, r *http.Request) (Request, bool) {
	tenantID, ok := auth.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "tenant scope is required", http.StatusUnauthorized)
		return Request{}, false
	}

	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid session id: %v", err), http.StatusBadRequest)
		return Request{}, false
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return Request{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return Request{}, false
	}
	defer file.Close()

	entityType := strings.TrimSpace(r.FormValue("entityType"))

	var headerRowIndex *int
	if raw := strings.TrimSpace(r.FormValue("headerRowIndex")); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid header row index: %v", err), http.StatusBadRequest)
			return Request{}, false
		}
		headerRowIndex = &idx
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return Request{}, false
	}

	return Request{
		TenantID:       tenantID,
		SessionID:      sessionID,
		EntityType:     entityType,
		FileName:       header.Filename,
		HeaderRowIndex: headerRowIndex,
		Data:           bytes.NewReader(data),
	}, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
