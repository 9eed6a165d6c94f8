package obligation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payproof/internal/extraction"
	"payproof/pkg/platform/sentinel"
	txcontext "payproof/pkg/platform/tx"
)

// PostgresStore implements Store over the order system's obligations table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const obligationColumns = `id, order_id, buyer_name, amount, currency, reference, deadline, status`

func (s *PostgresStore) ListAwaitingPayment(ctx context.Context, filter Filter) ([]PendingObligation, error) {
	query := `SELECT ` + obligationColumns + `
		FROM pending_obligations
		WHERE status = $1`
	args := []any{string(StatusAwaitingPayment)}

	if filter.Currency != "" {
		args = append(args, string(filter.Currency))
		query += fmt.Sprintf(" AND currency = $%d", len(args))
	}
	if filter.Reference != "" {
		args = append(args, filter.Reference)
		query += fmt.Sprintf(" AND upper(reference) = upper($%d)", len(args))
	}
	if !filter.AmountMin.IsZero() {
		args = append(args, filter.AmountMin.String())
		query += fmt.Sprintf(" AND amount >= $%d", len(args))
	}
	if !filter.AmountMax.IsZero() {
		args = append(args, filter.AmountMax.String())
		query += fmt.Sprintf(" AND amount <= $%d", len(args))
	}
	query += " ORDER BY deadline ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list awaiting payment: %w", err)
	}
	defer rows.Close()

	var out []PendingObligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (PendingObligation, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+obligationColumns+` FROM pending_obligations WHERE id = $1`, id)
	o, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingObligation{}, sentinel.ErrNotFound
	}
	return o, err
}

func (s *PostgresStore) TryMarkPaid(ctx context.Context, id uuid.UUID, expected Status) (bool, error) {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE pending_obligations SET status = $1, updated_at = now()
		 WHERE id = $2 AND status = $3`,
		string(StatusPaid), id, string(expected))
	if err != nil {
		return false, fmt.Errorf("mark paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObligation(row rowScanner) (PendingObligation, error) {
	var o PendingObligation
	var amount, currency, status string
	if err := row.Scan(&o.ID, &o.OrderID, &o.BuyerName, &amount, &currency, &o.Reference, &o.Deadline, &status); err != nil {
		return PendingObligation{}, err
	}
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return PendingObligation{}, fmt.Errorf("parse obligation amount: %w", err)
	}
	o.Amount = dec
	o.Currency = extraction.Currency(currency)
	o.Status = Status(status)
	return o, nil
}
