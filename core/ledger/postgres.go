package ledger

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/shopbot/core/domain"
	"github.com/m3rciful/shopbot/core/logger"
)

// PostgresStore keeps the ledger in an orders table. Row-level locking inside
// Settle provides the same atomic contract the file store gets from its mutex.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgres wraps an established connection pool.
func NewPostgres(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type orderRow struct {
	ID               int64           `db:"id"`
	CorrelationID    string          `db:"correlation_id"`
	TxnID            sql.NullString  `db:"txn_id"`
	Plan             string          `db:"plan"`
	PlanLabel        sql.NullString  `db:"plan_label"`
	Price            decimal.Decimal `db:"price"`
	Method           string          `db:"method"`
	PayerID          int64           `db:"payer_id"`
	PayerHandle      sql.NullString  `db:"payer_handle"`
	PayerExternalRef sql.NullString  `db:"payer_external_ref"`
	Status           string          `db:"status"`
	CreatedAt        time.Time       `db:"created_at"`
}

func (r orderRow) toDomain() domain.Order {
	return domain.Order{
		CorrelationID: r.CorrelationID,
		TxnID:         r.TxnID.String,
		Plan:          r.Plan,
		PlanLabel:     r.PlanLabel.String,
		Price:         r.Price,
		Method:        domain.PaymentMethod(r.Method),
		Payer: domain.Payer{
			UserID:      r.PayerID,
			Handle:      r.PayerHandle.String,
			ExternalRef: r.PayerExternalRef.String,
		},
		Status:    domain.OrderStatus(r.Status),
		CreatedAt: r.CreatedAt,
	}
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const insertOrderSQL = `
	INSERT INTO orders (correlation_id, txn_id, plan, plan_label, price, method,
	                    payer_id, payer_handle, payer_external_ref, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (ps *PostgresStore) insert(ctx context.Context, q sqlx.ExtContext, o domain.Order) error {
	_, err := q.ExecContext(ctx, insertOrderSQL,
		o.CorrelationID, nullStr(o.TxnID), o.Plan, nullStr(o.PlanLabel), o.Price,
		string(o.Method), o.Payer.UserID, nullStr(o.Payer.Handle),
		nullStr(o.Payer.ExternalRef), string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return domain.NewStorageFault("ledger persist", err)
	}
	return nil
}

// Append adds one validated record.
func (ps *PostgresStore) Append(ctx context.Context, o domain.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if err := ps.insert(ctx, ps.db, o); err != nil {
		return err
	}
	logger.Info(ctx, "ledger", "order.append",
		slog.String("status", "ok"),
		slog.String("correlation_id", o.CorrelationID),
		slog.String("plan", o.Plan),
		slog.String("method", string(o.Method)),
		slog.String("amount", o.Price.String()),
	)
	return nil
}

func (ps *PostgresStore) getRow(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*domain.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, q, &row, query, args...)
	switch {
	case err == nil:
		o := row.toDomain()
		return &o, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, domain.ErrOrderNotFound
	default:
		return nil, domain.NewStorageFault("ledger query", err)
	}
}

// FindByCorrelation returns the most recent record with the given correlation id.
func (ps *PostgresStore) FindByCorrelation(ctx context.Context, id string) (*domain.Order, error) {
	return ps.getRow(ctx, ps.db,
		`SELECT * FROM orders WHERE correlation_id = $1 ORDER BY id DESC LIMIT 1`, id)
}

// FindByTxnID returns the record carrying the external transaction id.
func (ps *PostgresStore) FindByTxnID(ctx context.Context, txnID string) (*domain.Order, error) {
	if txnID == "" {
		return nil, domain.ErrOrderNotFound
	}
	return ps.getRow(ctx, ps.db,
		`SELECT * FROM orders WHERE txn_id = $1 ORDER BY id DESC LIMIT 1`, txnID)
}

func (ps *PostgresStore) listRows(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	var rows []orderRow
	if err := sqlx.SelectContext(ctx, ps.db, &rows, query, args...); err != nil {
		return nil, domain.NewStorageFault("ledger query", err)
	}
	out := make([]domain.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ListRecent returns up to n records, newest first.
func (ps *PostgresStore) ListRecent(ctx context.Context, n int) ([]domain.Order, error) {
	if n <= 0 {
		return ps.listRows(ctx, `SELECT * FROM orders ORDER BY id DESC`)
	}
	return ps.listRows(ctx, `SELECT * FROM orders ORDER BY id DESC LIMIT $1`, n)
}

// ListByPayer returns the payer's records, newest first.
func (ps *PostgresStore) ListByPayer(ctx context.Context, payerID int64) ([]domain.Order, error) {
	return ps.listRows(ctx, `SELECT * FROM orders WHERE payer_id = $1 ORDER BY id DESC`, payerID)
}

// TotalCompleted sums price over provider-confirmed records.
func (ps *PostgresStore) TotalCompleted(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := sqlx.GetContext(ctx, ps.db, &total,
		`SELECT COALESCE(SUM(price), 0) FROM orders WHERE status = $1`,
		string(domain.StatusProviderConfirmed))
	if err != nil {
		return decimal.Zero, domain.NewStorageFault("ledger query", err)
	}
	return total, nil
}

// Settle reconciles one provider confirmation inside a transaction.
func (ps *PostgresStore) Settle(ctx context.Context, txnID, correlationID string, fallback domain.Order) (domain.Order, bool, error) {
	tx, err := ps.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Order{}, false, domain.NewStorageFault("ledger settle", err)
	}
	defer func() { _ = tx.Rollback() }()

	if txnID != "" {
		var existing orderRow
		err := sqlx.GetContext(ctx, tx, &existing,
			`SELECT * FROM orders WHERE txn_id = $1 ORDER BY id DESC LIMIT 1`, txnID)
		switch {
		case err == nil:
			return existing.toDomain(), false, domain.ErrDuplicateEvent
		case errors.Is(err, sql.ErrNoRows):
		default:
			return domain.Order{}, false, domain.NewStorageFault("ledger settle", err)
		}
	}

	if correlationID != "" {
		var open orderRow
		err := sqlx.GetContext(ctx, tx, &open,
			`SELECT * FROM orders
			 WHERE correlation_id = $1 AND status <> $2
			 ORDER BY id DESC LIMIT 1
			 FOR UPDATE`,
			correlationID, string(domain.StatusProviderConfirmed))
		switch {
		case err == nil:
			externalRef := open.PayerExternalRef
			if !externalRef.Valid {
				externalRef = nullStr(fallback.Payer.ExternalRef)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE orders SET status = $1, txn_id = $2, payer_external_ref = $3 WHERE id = $4`,
				string(domain.StatusProviderConfirmed), nullStr(txnID), externalRef, open.ID,
			); err != nil {
				return domain.Order{}, false, domain.NewStorageFault("ledger settle", err)
			}
			if err := tx.Commit(); err != nil {
				return domain.Order{}, false, domain.NewStorageFault("ledger settle", err)
			}
			settled := open.toDomain()
			settled.Status = domain.StatusProviderConfirmed
			settled.TxnID = txnID
			if settled.Payer.ExternalRef == "" {
				settled.Payer.ExternalRef = fallback.Payer.ExternalRef
			}
			return settled, true, nil
		case errors.Is(err, sql.ErrNoRows):
		default:
			return domain.Order{}, false, domain.NewStorageFault("ledger settle", err)
		}
	}

	if err := fallback.Validate(); err != nil {
		return domain.Order{}, false, err
	}
	if err := ps.insert(ctx, tx, fallback); err != nil {
		return domain.Order{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, false, domain.NewStorageFault("ledger settle", err)
	}
	return fallback, false, nil
}
