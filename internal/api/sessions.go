package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ruslano69/tdtp-explorer/internal/session"
	"github.com/ruslano69/tdtp-explorer/pkg/core/state"
	"github.com/ruslano69/tdtp-explorer/pkg/reconcile"
	"github.com/ruslano69/tdtp-explorer/pkg/xlsx"
)

// maxMessageBytes bounds one widget state message.
const maxMessageBytes = 1 << 20

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// sessionsHandler handles /api/sessions and its sub-resources.
type sessionsHandler struct {
	sessions *session.Registry
	maxRows  int64
	logger   zerolog.Logger
}

type createResponse struct {
	SessionID string             `json:"session_id"`
	Payload   *reconcile.Payload `json:"payload"`
}

type stateResponse struct {
	Decision  reconcile.Decision `json:"decision"`
	Fallbacks []string           `json:"fallbacks,omitempty"`
	Payload   *reconcile.Payload `json:"payload,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// ────────────────────────────────────────────────────────────────────────────
// POST /api/sessions
// ────────────────────────────────────────────────────────────────────────────

// Create opens a session and returns its initial payload.
func (h *sessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, p := h.sessions.Create(r.Context())
	w.Header().Set("Location", "/api/sessions/"+s.ID)
	writeJSON(w, http.StatusCreated, createResponse{SessionID: s.ID, Payload: p})
}

// ────────────────────────────────────────────────────────────────────────────
// GET /api/sessions/{id}
// ────────────────────────────────────────────────────────────────────────────

// Get returns the last pushed payload.
func (h *sessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Reconciler.LastPayload())
}

// ────────────────────────────────────────────────────────────────────────────
// DELETE /api/sessions/{id}
// ────────────────────────────────────────────────────────────────────────────

func (h *sessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Delete(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ────────────────────────────────────────────────────────────────────────────
// POST /api/sessions/{id}/state
// ────────────────────────────────────────────────────────────────────────────

// State feeds one widget message to the session's reconciler. Echoes return
// no payload; structurally invalid messages are rejected with 422 and leave
// the session untouched.
func (h *sessionsHandler) State(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "message too large")
		return
	}

	out, err := s.Reconciler.Receive(r.Context(), raw)
	resp := stateResponse{Decision: out.Decision, Fallbacks: out.Fallbacks, Payload: out.Payload}

	var se *state.StructureError
	if errors.As(err, &se) {
		resp.Error = se.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("session", s.ID).Msg("state message failed")
		writeError(w, http.StatusInternalServerError, "state message failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ────────────────────────────────────────────────────────────────────────────
// GET /api/sessions/{id}/export.xlsx
// ────────────────────────────────────────────────────────────────────────────

// Export streams the committed query as a workbook, capped at maxRows.
func (h *sessionsHandler) Export(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	n, err := xlsx.Export(r.Context(), &buf, s.Reconciler.Plan(), xlsx.Options{MaxRows: h.maxRows})
	if err != nil {
		h.logger.Error().Err(err).Str("session", s.ID).Msg("export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="projects.xlsx"`)
	w.Header().Set("X-Export-Rows", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *sessionsHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return s, ok
}
