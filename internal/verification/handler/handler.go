// Package handler is the thin HTTP layer over the verification service. It
// delegates to the service without embedding pipeline logic so transport
// concerns stay isolated.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"payproof/internal/audit"
	"payproof/internal/extraction"
	"payproof/internal/verification"
	"payproof/pkg/platform/sentinel"
)

// Service defines the verification operations the HTTP layer needs.
type Service interface {
	Submit(ctx context.Context, submissionID uuid.UUID, image []byte, hintedObligationID *uuid.UUID) (*verification.Submission, error)
	GetSubmission(ctx context.Context, id uuid.UUID) (*verification.Submission, error)
	GetDecision(ctx context.Context, id uuid.UUID) (*verification.Decision, error)
	ListPendingReview(ctx context.Context, limit int) ([]verification.Decision, error)
	Review(ctx context.Context, id uuid.UUID, approve bool, obligationID *uuid.UUID, reviewer string) (*verification.Decision, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	AuditTrail(ctx context.Context, id uuid.UUID) ([]audit.Entry, error)
}

// Handler serves the verification endpoints.
type Handler struct {
	svc           Service
	logger        *slog.Logger
	maxUploadSize int64
}

func New(svc Service, logger *slog.Logger, maxUploadSize int64) *Handler {
	if maxUploadSize <= 0 {
		maxUploadSize = 10 << 20
	}
	return &Handler{svc: svc, logger: logger, maxUploadSize: maxUploadSize}
}

// Register mounts the verification routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verifications", h.handleSubmit)
	r.Get("/verifications/{id}", h.handleGetSubmission)
	r.Get("/verifications/{id}/decision", h.handleGetDecision)
	r.Get("/verifications/{id}/audit", h.handleGetAudit)
	r.Post("/verifications/{id}/cancel", h.handleCancel)
	r.Get("/review", h.handleListReview)
	r.Post("/verifications/{id}/review", h.handleReview)
}

type submissionResponse struct {
	ID                 uuid.UUID  `json:"id"`
	State              string     `json:"state"`
	HintedObligationID *uuid.UUID `json:"hinted_obligation_id,omitempty"`
	ObligationID       *uuid.UUID `json:"obligation_id,omitempty"`
	DuplicateOf        *uuid.UUID `json:"duplicate_of,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toSubmissionResponse(s *verification.Submission) submissionResponse {
	return submissionResponse{
		ID:                 s.ID,
		State:              string(s.State),
		HintedObligationID: s.HintedObligationID,
		ObligationID:       s.ObligationID,
		DuplicateOf:        s.DuplicateOf,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

type decisionResponse struct {
	ID           uuid.UUID                      `json:"id"`
	SubmissionID uuid.UUID                      `json:"submission_id"`
	Outcome      string                         `json:"outcome"`
	ObligationID *uuid.UUID                     `json:"obligation_id,omitempty"`
	Score        float64                        `json:"score"`
	Reasons      []string                       `json:"reasons"`
	Candidates   []verification.RankedCandidate `json:"candidates,omitempty"`
	DecidedAt    time.Time                      `json:"decided_at"`
	DecidedBy    string                         `json:"decided_by"`
}

func toDecisionResponse(d *verification.Decision) decisionResponse {
	return decisionResponse{
		ID:           d.ID,
		SubmissionID: d.SubmissionID,
		Outcome:      string(d.Outcome),
		ObligationID: d.ObligationID,
		Score:        d.Score,
		Reasons:      d.Reasons,
		Candidates:   d.Candidates,
		DecidedAt:    d.DecidedAt,
		DecidedBy:    d.DecidedBy,
	}
}

// handleSubmit accepts a multipart upload with the proof image and an
// optional obligation_id the buyer claims to be paying.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read image")
		return
	}

	var hinted *uuid.UUID
	if raw := r.FormValue("obligation_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid obligation_id")
			return
		}
		hinted = &id
	}

	// Optional client-supplied id makes retried uploads idempotent.
	submissionID := uuid.Nil
	if raw := r.FormValue("submission_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid submission_id")
			return
		}
		submissionID = id
	}

	sub, err := h.svc.Submit(ctx, submissionID, image, hinted)
	if err != nil {
		var malformed *extraction.MalformedInputError
		switch {
		case errors.As(err, &malformed):
			writeError(w, http.StatusBadRequest, malformed.Reason)
		case errors.Is(err, sentinel.ErrNotFound):
			writeError(w, http.StatusNotFound, "hinted obligation not found")
		case errors.Is(err, sentinel.ErrConflict):
			writeError(w, http.StatusConflict, "submission id reused with different image")
		case errors.Is(err, sentinel.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "verification queue full")
		default:
			h.logger.ErrorContext(ctx, "submit failed", "error", err)
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}

	status := http.StatusAccepted
	if sub.DuplicateOf != nil {
		// Nothing new to process; the canonical decision already applies.
		status = http.StatusOK
	}
	writeJSON(w, status, toSubmissionResponse(sub))
}

func (h *Handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sub, err := h.svc.GetSubmission(r.Context(), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionResponse(sub))
}

func (h *Handler) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.GetDecision(r.Context(), id)
	if errors.Is(err, sentinel.ErrNotFound) {
		// Distinguish "no such submission" from "still processing".
		if _, subErr := h.svc.GetSubmission(r.Context(), id); subErr == nil {
			writeError(w, http.StatusConflict, "decision pending")
			return
		}
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, toDecisionResponse(d))
}

func (h *Handler) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.GetSubmission(r.Context(), id); err != nil {
		writeLookupError(w, err)
		return
	}
	trail, err := h.svc.AuditTrail(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": trail})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	err := h.svc.Cancel(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, sentinel.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		writeError(w, http.StatusConflict, "submission not cancellable")
	default:
		writeError(w, http.StatusInternalServerError, "cancel failed")
	}
}

func (h *Handler) handleListReview(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > 0 && n <= 500 {
			limit = n
		}
	}

	decisions, err := h.svc.ListPendingReview(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	out := make([]decisionResponse, 0, len(decisions))
	for i := range decisions {
		out = append(out, toDecisionResponse(&decisions[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": out})
}

type reviewRequest struct {
	Approve      bool       `json:"approve"`
	ObligationID *uuid.UUID `json:"obligation_id"`
	Reviewer     string     `json:"reviewer"`
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reviewer == "" {
		writeError(w, http.StatusBadRequest, "reviewer required")
		return
	}

	d, err := h.svc.Review(r.Context(), id, req.Approve, req.ObligationID, req.Reviewer)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toDecisionResponse(d))
	case errors.Is(err, sentinel.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		writeError(w, http.StatusConflict, "submission not reviewable")
	case errors.Is(err, sentinel.ErrConflict):
		writeError(w, http.StatusConflict, "obligation already settled")
	default:
		h.logger.ErrorContext(r.Context(), "review failed", "submission_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "review failed")
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission id")
		return uuid.Nil, false
	}
	return id, true
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, sentinel.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "lookup failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
