package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payproof/internal/audit"
	"payproof/internal/extraction"
	"payproof/internal/verification"
	"payproof/pkg/platform/sentinel"
)

type stubService struct {
	submission *verification.Submission
	decision   *verification.Decision
	pending    []verification.Decision
	trail      []audit.Entry
	submitErr  error
	lookupErr  error
	reviewErr  error
	cancelErr  error

	gotID     uuid.UUID
	gotImage  []byte
	gotHinted *uuid.UUID
	gotReview *struct {
		approve  bool
		reviewer string
	}
}

func (s *stubService) Submit(_ context.Context, id uuid.UUID, image []byte, hinted *uuid.UUID) (*verification.Submission, error) {
	s.gotID = id
	s.gotImage = image
	s.gotHinted = hinted
	return s.submission, s.submitErr
}

func (s *stubService) GetSubmission(context.Context, uuid.UUID) (*verification.Submission, error) {
	return s.submission, s.lookupErr
}

func (s *stubService) GetDecision(context.Context, uuid.UUID) (*verification.Decision, error) {
	if s.decision == nil && s.lookupErr == nil {
		return nil, sentinel.ErrNotFound
	}
	return s.decision, s.lookupErr
}

func (s *stubService) ListPendingReview(context.Context, int) ([]verification.Decision, error) {
	return s.pending, nil
}

func (s *stubService) Review(_ context.Context, _ uuid.UUID, approve bool, _ *uuid.UUID, reviewer string) (*verification.Decision, error) {
	s.gotReview = &struct {
		approve  bool
		reviewer string
	}{approve, reviewer}
	return s.decision, s.reviewErr
}

func (s *stubService) Cancel(context.Context, uuid.UUID) error { return s.cancelErr }

func (s *stubService) AuditTrail(context.Context, uuid.UUID) ([]audit.Entry, error) {
	return s.trail, nil
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), 1<<20).Register(r)
	return r
}

func pngUpload(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("image", "proof.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\nfakeimagedata"))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func testSubmission(state verification.State) *verification.Submission {
	now := time.Now().UTC()
	return &verification.Submission{
		ID:        uuid.New(),
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestHandleSubmit(t *testing.T) {
	svc := &stubService{submission: testSubmission(verification.StateReceived)}
	router := newRouter(svc)

	body, contentType := pngUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/verifications", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, svc.gotImage)
	assert.Nil(t, svc.gotHinted)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(verification.StateReceived), resp["state"])
}

func TestHandleSubmit_HintedObligation(t *testing.T) {
	svc := &stubService{submission: testSubmission(verification.StateReceived)}
	router := newRouter(svc)
	hinted := uuid.New()

	body, contentType := pngUpload(t, map[string]string{"obligation_id": hinted.String()})
	req := httptest.NewRequest(http.MethodPost, "/verifications", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, svc.gotHinted)
	assert.Equal(t, hinted, *svc.gotHinted)
}

func TestHandleSubmit_ClientSuppliedID(t *testing.T) {
	svc := &stubService{submission: testSubmission(verification.StateReceived)}
	router := newRouter(svc)
	want := uuid.New()

	body, contentType := pngUpload(t, map[string]string{"submission_id": want.String()})
	req := httptest.NewRequest(http.MethodPost, "/verifications", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, want, svc.gotID)
}

func TestHandleSubmit_DuplicateReturnsOK(t *testing.T) {
	sub := testSubmission(verification.StateReceived)
	canonical := uuid.New()
	sub.DuplicateOf = &canonical
	svc := &stubService{submission: sub}
	router := newRouter(svc)

	body, contentType := pngUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/verifications", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, canonical.String(), resp["duplicate_of"])
}

func TestHandleSubmit_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"malformed image", &extraction.MalformedInputError{Reason: "not an image"}, http.StatusBadRequest},
		{"unknown obligation", fmt.Errorf("hinted obligation: %w", sentinel.ErrNotFound), http.StatusNotFound},
		{"queue full", fmt.Errorf("enqueue submission: %w", sentinel.ErrUnavailable), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(&stubService{submitErr: tc.err})
			body, contentType := pngUpload(t, nil)
			req := httptest.NewRequest(http.MethodPost, "/verifications", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestHandleSubmit_MissingImage(t *testing.T) {
	router := newRouter(&stubService{})
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("obligation_id", uuid.New().String()))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/verifications", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetDecision(t *testing.T) {
	oblig := uuid.New()
	svc := &stubService{
		submission: testSubmission(verification.StateAutoApproved),
		decision: &verification.Decision{
			ID:           uuid.New(),
			SubmissionID: uuid.New(),
			Outcome:      verification.OutcomeAutoApproved,
			ObligationID: &oblig,
			Score:        100,
			Reasons:      []string{"amount matched exactly"},
			DecidedAt:    time.Now().UTC(),
			DecidedBy:    "system",
		},
	}
	router := newRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/verifications/"+uuid.NewString()+"/decision", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "auto_approved", resp["outcome"])
	assert.Equal(t, 100.0, resp["score"])
}

func TestHandleGetDecision_Pending(t *testing.T) {
	svc := &stubService{submission: testSubmission(verification.StateExtracting)}
	router := newRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/verifications/"+uuid.NewString()+"/decision", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleGetSubmission_NotFound(t *testing.T) {
	router := newRouter(&stubService{lookupErr: sentinel.ErrNotFound})

	req := httptest.NewRequest(http.MethodGet, "/verifications/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetSubmission_InvalidID(t *testing.T) {
	router := newRouter(&stubService{})

	req := httptest.NewRequest(http.MethodGet, "/verifications/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReview(t *testing.T) {
	svc := &stubService{
		submission: testSubmission(verification.StateManualReview),
		decision: &verification.Decision{
			ID:        uuid.New(),
			Outcome:   verification.OutcomeAutoApproved,
			Reasons:   []string{verification.ReasonReviewerApproved},
			DecidedBy: "reviewer-jane",
		},
	}
	router := newRouter(svc)

	payload, _ := json.Marshal(map[string]any{
		"approve":       true,
		"obligation_id": uuid.New(),
		"reviewer":      "reviewer-jane",
	})
	req := httptest.NewRequest(http.MethodPost, "/verifications/"+uuid.NewString()+"/review", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.gotReview)
	assert.True(t, svc.gotReview.approve)
	assert.Equal(t, "reviewer-jane", svc.gotReview.reviewer)
}

func TestHandleReview_MissingReviewer(t *testing.T) {
	router := newRouter(&stubService{})

	payload, _ := json.Marshal(map[string]any{"approve": true})
	req := httptest.NewRequest(http.MethodPost, "/verifications/"+uuid.NewString()+"/review", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReview_Conflicts(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not reviewable", sentinel.ErrInvalidState, http.StatusConflict},
		{"already settled", sentinel.ErrConflict, http.StatusConflict},
		{"unknown submission", sentinel.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(&stubService{reviewErr: tc.err})
			payload, _ := json.Marshal(map[string]any{"approve": false, "reviewer": "r"})
			req := httptest.NewRequest(http.MethodPost, "/verifications/"+uuid.NewString()+"/review", bytes.NewReader(payload))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestHandleCancel(t *testing.T) {
	router := newRouter(&stubService{})

	req := httptest.NewRequest(http.MethodPost, "/verifications/"+uuid.NewString()+"/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleListReview(t *testing.T) {
	svc := &stubService{pending: []verification.Decision{
		{ID: uuid.New(), Outcome: verification.OutcomeManualReview, Reasons: []string{"score in review band"}},
	}}
	router := newRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/review?limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Decisions []json.RawMessage `json:"decisions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Decisions, 1)
}
