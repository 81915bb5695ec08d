package migration

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/datamigrate/internal/auth"
	"github.com/rpattn/datamigrate/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler is the HTTP surface of the migration pipeline. It stays thin:
// decode the request, call the service, map the error kind to a status code.
type Handler struct {
	manager   *SessionManager
	chunks    *ChunkStore
	validator *Validator
	workbench *Workbench
	executor  *Executor
	logger    *zap.Logger
}

// NewHTTPHandler wires the pipeline services into one handler.
func NewHTTPHandler(manager *SessionManager, chunks *ChunkStore, validator *Validator, workbench *Workbench, executor *Executor, logger *zap.Logger) *Handler {
	return &Handler{
		manager:   manager,
		chunks:    chunks,
		validator: validator,
		workbench: workbench,
		executor:  executor,
		logger:    logger,
	}
}

// Register mounts every pipeline route on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions", h.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.getSession)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", h.cancelSession)
	mux.HandleFunc("POST /api/sessions/{id}/touch", h.touchSession)
	mux.HandleFunc("POST /api/sessions/{id}/chunks", h.appendChunk)
	mux.HandleFunc("GET /api/sessions/{id}/chunks", h.listChunks)
	mux.HandleFunc("POST /api/sessions/{id}/finalize", h.finalizeUpload)
	mux.HandleFunc("POST /api/sessions/{id}/validate", h.validateSession)
	mux.HandleFunc("GET /api/sessions/{id}/results", h.listResults)
	mux.HandleFunc("GET /api/sessions/{id}/results/{resultId}", h.getResult)
	mux.HandleFunc("POST /api/sessions/{id}/results/{resultId}/fix", h.applyFix)
	mux.HandleFunc("POST /api/sessions/{id}/results/{resultId}/skip", h.skipRow)
	mux.HandleFunc("POST /api/sessions/{id}/results/{resultId}/ignore", h.ignoreWarning)
	mux.HandleFunc("POST /api/sessions/{id}/import", h.startImport)
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	creatorID, _ := auth.UserIDFromContext(r.Context())

	var input CreateSessionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, NewError(KindInvalidConfiguration, "invalid request body: %v", err))
		return
	}

	session, err := h.manager.CreateSession(r.Context(), tenantID, creatorID, input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, session)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	filter := domain.SessionFilter{
		Status:     domain.SessionStatus(r.URL.Query().Get("status")),
		SourceType: r.URL.Query().Get("sourceType"),
		Limit:      queryInt(r, "limit"),
		Offset:     queryInt(r, "offset"),
	}

	sessions, err := h.manager.ListSessions(r.Context(), tenantID, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	tenantID, sessionID, ok := h.tenantSession(w, r)
	if !ok {
		return
	}
	session, err := h.manager.GetSession(r.Context(), tenantID, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *Handler) cancelSession(w http.ResponseWriter, r *http.Request) {
	tenantID, sessionID, ok := h.tenantSession(w, r)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	session, err := h.manager.CancelSession(r.Context(), tenantID, sessionID, strings.TrimSpace(body.Reason))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *Handler) touchSession(w http.ResponseWriter, r *http.Request) {
	tenantID, sessionID, ok := h.tenantSession(w, r)
	if !ok {
		return
	}
	if err := h.manager.TouchActivity(r.Context(), tenantID, sessionID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) appendChunk(w http.ResponseWriter, r *http.Request) {
	tenantID, sessionID, ok := h.tenantSession(w, r)
	if !ok {
		return
	}

	var body struct {
		EntityType string          `json:"entity_type"`
		Rows       []domain.Record `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, NewError(KindInvalidConfiguration, "invalid request body: %v", err))
		return
	}

	chunk, err := h.chunks.AppendChunk(r.Context(), tenantID, sessionID, body.EntityType, body.Rows)
	if err != nil {
		h.writeError(w, err)
		return
	}
	// The stored payload is not echoed back; the caller already has it.
	chunk.Rows = nil
	h.writeJSON(w, http.StatusCreated, chunk)
}

func (h *Handler) listChunks(w http.ResponseWriter, r *http.Request) {
	tenantID, sessionID, ok := h.tenantSession(w, r)
	if !ok {
		return
	}
	chunks, err := h.chunks.ListChunks(r.Context(), tenantID, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	for i := range chunks {
		chunks[i].Rows = nil
	}
	h.writeJSON(w, http.StatusOK, chunks)
}

func (h *Handler) finalizeUpload(w http.ResponseWriter, r *http.Request) {
	tenantID, sessionID, ok := h.tenantSession(w, r)
	if !ok {
		return
	}

	var body struct {
		ChunkCounts map[string]int `json:"chunk_counts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, NewError(KindInvalidConfiguration, "invalid request body: %v", err))
		return
	}

	if err := h.chunks.FinalizeUpload(r.Context(), tenantID, sessionID, body.ChunkCounts); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) validateSession(w http.ResponseWriter, r *http.Request) {
	tenantID, sessionID, ok := h.tenantSession(w, r)
	if !ok {
		return
	}
	session, err := h.validator.ValidateSession(r.Context(), tenantID, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *Handler) listResults(w http.ResponseWriter, r *http.Request) {
	tenantID, sessionID, ok := h.tenantSession(w, r)
	if !ok {
		return
	}

	filter := domain.ResultFilter{
		Status:     domain.RowStatus(r.URL.Query().Get("status")),
		EntityType: r.URL.Query().Get("entityType"),
		IssueCode:  domain.IssueCode(r.URL.Query().Get("issueCode")),
		Limit:      queryInt(r, "limit"),
		Offset:     queryInt(r, "offset"),
	}

	results, err := h.workbench.ListResults(r.Context(), tenantID, sessionID, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

func (h *Handler) getResult(w http.ResponseWriter, r *http.Request) {
	tenantID, sessionID, resultID, ok := h.tenantResult(w, r)
	if !ok {
		return
	}
	result, err := h.workbench.GetResult(r.Context(), tenantID, sessionID, resultID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) applyFix(w http.ResponseWriter, r *http.Request) {
	tenantID, sessionID, resultID, ok := h.tenantResult(w, r)
	if !ok {
		return
	}

	var body struct {
		Row  domain.Record `json:"row"`
		Note string        `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, NewError(KindInvalidConfiguration, "invalid request body: %v", err))
		return
	}

	result, err := h.workbench.ApplyFix(r.Context(), tenantID, sessionID, resultID, body.Row, strings.TrimSpace(body.Note))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) skipRow(w http.ResponseWriter, r *http.Request) {
	tenantID, sessionID, resultID, ok := h.tenantResult(w, r)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	result, err := h.workbench.SkipRow(r.Context(), tenantID, sessionID, resultID, strings.TrimSpace(body.Reason))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ignoreWarning(w http.ResponseWriter, r *http.Request) {
	tenantID, sessionID, resultID, ok := h.tenantResult(w, r)
	if !ok {
		return
	}
	result, err := h.workbench.IgnoreWarning(r.Context(), tenantID, sessionID, resultID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) startImport(w http.ResponseWriter, r *http.Request) {
	tenantID, sessionID, ok := h.tenantSession(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("async") == "true" {
		jobID, err := h.executor.StartImportAsync(r.Context(), tenantID, sessionID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusAccepted, map[string]string{"import_job_id": jobID.String()})
		return
	}

	session, err := h.executor.StartImport(r.Context(), tenantID, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID, ok := auth.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"tenant scope is required"}`, http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return tenantID, true
}

func (h *Handler) tenantSession(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, NewError(KindInvalidConfiguration, "invalid session id: %v", err))
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, sessionID, true
}

func (h *Handler) tenantResult(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, uuid.UUID, bool) {
	tenantID, sessionID, ok := h.tenantSession(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, uuid.Nil, false
	}
	resultID, err := uuid.Parse(r.PathValue("resultId"))
	if err != nil {
		h.writeError(w, NewError(KindInvalidConfiguration, "invalid result id: %v", err))
		return uuid.Nil, uuid.Nil, uuid.Nil, false
	}
	return tenantID, sessionID, resultID, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := Kind("internal")

	var pe *Error
	if errors.As(err, &pe) {
		kind = pe.Kind
		switch pe.Kind {
		case KindInvalidConfiguration:
			status = http.StatusBadRequest
		case KindNotFound:
			status = http.StatusNotFound
		case KindInvalidState, KindConflict:
			status = http.StatusConflict
		case KindBlockingIssues:
			status = http.StatusUnprocessableEntity
		}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	h.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
	})
}

func queryInt(r *http.Request, key string) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
