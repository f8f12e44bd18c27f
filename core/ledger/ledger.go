// Package ledger is the append-only store of purchase records. Appends are
// atomic read-modify-writes: concurrent writers, whether conversation
// handlers or the reconciler, never overwrite one another's records.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/shopbot/core/domain"
)

// Ledger is the storage contract shared by the file, memory, and postgres
// implementations.
type Ledger interface {
	// Append adds one validated record. It fails with a StorageFault when the
	// durable medium cannot be written; previously stored records survive.
	Append(ctx context.Context, o domain.Order) error

	// FindByCorrelation returns the most recent record with a matching
	// correlation id, or domain.ErrOrderNotFound.
	FindByCorrelation(ctx context.Context, id string) (*domain.Order, error)

	// FindByTxnID returns the record carrying the external transaction id,
	// or domain.ErrOrderNotFound.
	FindByTxnID(ctx context.Context, txnID string) (*domain.Order, error)

	// ListRecent returns up to n records, newest first.
	ListRecent(ctx context.Context, n int) ([]domain.Order, error)

	// ListByPayer returns the payer's records, newest first.
	ListByPayer(ctx context.Context, payerID int64) ([]domain.Order, error)

	// TotalCompleted sums price over provider-confirmed records.
	TotalCompleted(ctx context.Context) (decimal.Decimal, error)

	// Settle reconciles a provider confirmation in one atomic step:
	//   - a record with txnID already exists -> domain.ErrDuplicateEvent;
	//   - an open record matches correlationID -> it is marked
	//     provider-confirmed keeping its conversation-time plan and price;
	//   - otherwise fallback is appended as a synthesized confirmed order.
	// The returned bool reports whether an existing record was updated.
	Settle(ctx context.Context, txnID, correlationID string, fallback domain.Order) (domain.Order, bool, error)
}
