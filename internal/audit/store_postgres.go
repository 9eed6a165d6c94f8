package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	txcontext "payproof/pkg/platform/tx"
)

// PostgresStore appends entries to the audit_log table. Reasons are stored as
// a JSON array so reviewer tooling can render them without joins.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
} {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	reasons, err := json.Marshal(entry.Reasons)
	if err != nil {
		return fmt.Errorf("marshal audit reasons: %w", err)
	}

	_, err = s.execer(ctx).ExecContext(ctx,
		`INSERT INTO audit_log
			(id, submission_id, at, action, from_state, to_state, outcome, score, reasons, actor)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.SubmissionID, entry.Timestamp, entry.Action,
		entry.FromState, entry.ToState, entry.Outcome, entry.Score, reasons, entry.Actor)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySubmission(ctx context.Context, submissionID uuid.UUID) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, submission_id, at, action, from_state, to_state, outcome, score, reasons, actor
		 FROM audit_log WHERE submission_id = $1 ORDER BY at ASC`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var reasons []byte
		if err := rows.Scan(&e.ID, &e.SubmissionID, &e.Timestamp, &e.Action,
			&e.FromState, &e.ToState, &e.Outcome, &e.Score, &reasons, &e.Actor); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(reasons, &e.Reasons); err != nil {
			return nil, fmt.Errorf("decode audit reasons: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
