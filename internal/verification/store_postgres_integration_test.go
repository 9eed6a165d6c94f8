//go:build integration

package verification_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"

	"payproof/internal/verification"
	"payproof/pkg/platform/sentinel"
)

const submissionsDDL = `
CREATE TABLE IF NOT EXISTS proof_submissions (
	id uuid PRIMARY KEY,
	obligation_id uuid,
	hinted_obligation_id uuid,
	image_ref text NOT NULL,
	content_hash text NOT NULL,
	state text NOT NULL,
	duplicate_of uuid,
	cancelled boolean NOT NULL DEFAULT false,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS decisions (
	id uuid PRIMARY KEY,
	submission_id uuid NOT NULL,
	outcome text NOT NULL,
	obligation_id uuid,
	score double precision NOT NULL,
	reasons jsonb NOT NULL,
	candidates jsonb NOT NULL,
	decided_at timestamptz NOT NULL,
	decided_by text NOT NULL,
	superseded boolean NOT NULL DEFAULT false
);`

type PostgresStoreSuite struct {
	suite.Suite
	db          *sql.DB
	submissions *verification.PostgresSubmissionStore
	decisions   *verification.PostgresDecisionStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("PAYPROOF_TEST_POSTGRES_DSN") == "" {
		t.Skip("PAYPROOF_TEST_POSTGRES_DSN not set")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	db, err := sql.Open("postgres", os.Getenv("PAYPROOF_TEST_POSTGRES_DSN"))
	s.Require().NoError(err)
	s.Require().NoError(db.Ping())
	_, err = db.Exec(submissionsDDL)
	s.Require().NoError(err)
	s.db = db
	s.submissions = verification.NewPostgresSubmissionStore(db)
	s.decisions = verification.NewPostgresDecisionStore(db)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.db.Exec(`TRUNCATE proof_submissions, decisions`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newSubmission() *verification.Submission {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &verification.Submission{
		ID:          uuid.New(),
		ImageRef:    "sha256:deadbeef",
		ContentHash: "deadbeef",
		State:       verification.StateReceived,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *PostgresStoreSuite) TestSubmissionRoundTrip() {
	ctx := context.Background()
	sub := s.newSubmission()

	s.Require().NoError(s.submissions.Create(ctx, sub))
	s.Require().ErrorIs(s.submissions.Create(ctx, sub), sentinel.ErrConflict)

	got, err := s.submissions.Get(ctx, sub.ID)
	s.Require().NoError(err)
	s.Equal(sub.ContentHash, got.ContentHash)
	s.Equal(verification.StateReceived, got.State)

	_, err = s.submissions.Get(ctx, uuid.New())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateStateCAS() {
	ctx := context.Background()
	sub := s.newSubmission()
	s.Require().NoError(s.submissions.Create(ctx, sub))

	s.Require().NoError(s.submissions.UpdateState(ctx, sub.ID,
		verification.StateReceived, verification.StateExtracting))

	// Stale expected state loses.
	err := s.submissions.UpdateState(ctx, sub.ID,
		verification.StateReceived, verification.StateExtracting)
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *PostgresStoreSuite) TestDecisionSupersedeOnAppend() {
	ctx := context.Background()
	subID := uuid.New()

	first := &verification.Decision{
		ID:           uuid.New(),
		SubmissionID: subID,
		Outcome:      verification.OutcomeManualReview,
		Score:        62,
		Reasons:      []string{verification.ReasonScoreInReviewBand},
		DecidedAt:    time.Now().UTC(),
		DecidedBy:    "system",
	}
	s.Require().NoError(s.decisions.Append(ctx, first))

	second := &verification.Decision{
		ID:           uuid.New(),
		SubmissionID: subID,
		Outcome:      verification.OutcomeAutoApproved,
		Score:        62,
		Reasons:      []string{verification.ReasonReviewerApproved},
		DecidedAt:    time.Now().UTC().Add(time.Second),
		DecidedBy:    "reviewer-jane",
	}
	s.Require().NoError(s.decisions.Append(ctx, second))

	latest, err := s.decisions.Latest(ctx, subID)
	s.Require().NoError(err)
	s.Equal(second.ID, latest.ID)

	history, err := s.decisions.History(ctx, subID)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.True(history[0].Superseded)
	s.False(history[1].Superseded)
}

func (s *PostgresStoreSuite) TestListPendingReview() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d := &verification.Decision{
			ID:           uuid.New(),
			SubmissionID: uuid.New(),
			Outcome:      verification.OutcomeManualReview,
			Reasons:      []string{verification.ReasonLowScore},
			DecidedAt:    time.Now().UTC().Add(time.Duration(i) * time.Second),
			DecidedBy:    "system",
		}
		s.Require().NoError(s.decisions.Append(ctx, d))
	}

	pending, err := s.decisions.ListPendingReview(ctx, 2)
	s.Require().NoError(err)
	s.Len(pending, 2)
	s.True(pending[0].DecidedAt.Before(pending[1].DecidedAt))
}
