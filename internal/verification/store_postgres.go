package verification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"payproof/pkg/platform/sentinel"
	txcontext "payproof/pkg/platform/tx"
)

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresSubmissionStore backs SubmissionStore with the proof_submissions
// table. State updates are compare-and-swap on the stored state column.
type PostgresSubmissionStore struct {
	db *sql.DB
}

func NewPostgresSubmissionStore(db *sql.DB) *PostgresSubmissionStore {
	return &PostgresSubmissionStore{db: db}
}

func (s *PostgresSubmissionStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const submissionColumns = `id, obligation_id, hinted_obligation_id, image_ref, content_hash, state, duplicate_of, cancelled, created_at, updated_at`

func (s *PostgresSubmissionStore) Create(ctx context.Context, sub *Submission) error {
	_, err := s.execer(ctx).ExecContext(ctx,
		`INSERT INTO proof_submissions (`+submissionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.ObligationID, sub.HintedObligationID, sub.ImageRef, sub.ContentHash,
		string(sub.State), sub.DuplicateOf, sub.Cancelled, sub.CreatedAt, sub.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (s *PostgresSubmissionStore) Get(ctx context.Context, id uuid.UUID) (*Submission, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM proof_submissions WHERE id = $1`, id)

	var sub Submission
	var state string
	err := row.Scan(&sub.ID, &sub.ObligationID, &sub.HintedObligationID, &sub.ImageRef,
		&sub.ContentHash, &state, &sub.DuplicateOf, &sub.Cancelled, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	sub.State = State(state)
	return &sub, nil
}

func (s *PostgresSubmissionStore) UpdateState(ctx context.Context, id uuid.UUID, from, to State) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE proof_submissions SET state = $1, updated_at = now()
		 WHERE id = $2 AND state = $3`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("update submission state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresSubmissionStore) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE proof_submissions SET cancelled = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark submission cancelled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return sentinel.ErrNotFound
	}
	return nil
}

// PostgresDecisionStore backs DecisionStore with the decisions table. Append
// supersedes prior rows for the submission in the same statement batch, so a
// caller wrapping Append in a tx gets an atomic history flip.
type PostgresDecisionStore struct {
	db *sql.DB
}

func NewPostgresDecisionStore(db *sql.DB) *PostgresDecisionStore {
	return &PostgresDecisionStore{db: db}
}

func (s *PostgresDecisionStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const decisionColumns = `id, submission_id, outcome, obligation_id, score, reasons, candidates, decided_at, decided_by, superseded`

func (s *PostgresDecisionStore) Append(ctx context.Context, d *Decision) error {
	reasons, err := json.Marshal(d.Reasons)
	if err != nil {
		return fmt.Errorf("marshal decision reasons: %w", err)
	}
	candidates, err := json.Marshal(d.Candidates)
	if err != nil {
		return fmt.Errorf("marshal decision candidates: %w", err)
	}

	exec := s.execer(ctx)
	if _, err := exec.ExecContext(ctx,
		`UPDATE decisions SET superseded = true WHERE submission_id = $1 AND superseded = false`,
		d.SubmissionID); err != nil {
		return fmt.Errorf("supersede prior decisions: %w", err)
	}
	if _, err := exec.ExecContext(ctx,
		`INSERT INTO decisions (`+decisionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)`,
		d.ID, d.SubmissionID, string(d.Outcome), d.ObligationID, d.Score,
		reasons, candidates, d.DecidedAt, d.DecidedBy); err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

func (s *PostgresDecisionStore) Latest(ctx context.Context, submissionID uuid.UUID) (*Decision, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE submission_id = $1 AND superseded = false
		 ORDER BY decided_at DESC LIMIT 1`, submissionID)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest decision: %w", err)
	}
	return d, nil
}

func (s *PostgresDecisionStore) History(ctx context.Context, submissionID uuid.UUID) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE submission_id = $1 ORDER BY decided_at ASC`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("decision history: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

func (s *PostgresDecisionStore) ListPendingReview(ctx context.Context, limit int) ([]Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions
		 WHERE outcome = $1 AND superseded = false
		 ORDER BY decided_at ASC`
	args := []any{string(OutcomeManualReview)}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending review: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*Decision, error) {
	var d Decision
	var outcome string
	var reasons, candidates []byte
	if err := row.Scan(&d.ID, &d.SubmissionID, &outcome, &d.ObligationID, &d.Score,
		&reasons, &candidates, &d.DecidedAt, &d.DecidedBy, &d.Superseded); err != nil {
		return nil, err
	}
	d.Outcome = Outcome(outcome)
	if err := json.Unmarshal(reasons, &d.Reasons); err != nil {
		return nil, fmt.Errorf("decode decision reasons: %w", err)
	}
	if err := json.Unmarshal(candidates, &d.Candidates); err != nil {
		return nil, fmt.Errorf("decode decision candidates: %w", err)
	}
	return &d, nil
}

func collectDecisions(rows *sql.Rows) ([]Decision, error) {
	var out []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// PostgresTxRunner opens a transaction and exposes it through the context so
// the submission, decision, obligation and audit stores all join it.
type PostgresTxRunner struct {
	db *sql.DB
}

func NewPostgresTxRunner(db *sql.DB) *PostgresTxRunner {
	return &PostgresTxRunner{db: db}
}

func (r *PostgresTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
