package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/shopbot/core/domain"
)

// MemoryStore is an in-memory Ledger implementation for tests and development.
type MemoryStore struct {
	mu     sync.RWMutex
	orders []domain.Order
}

// NewMemory constructs an empty in-memory ledger.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// Append adds one validated record.
func (ms *MemoryStore) Append(_ context.Context, o domain.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.orders = append(ms.orders, o)
	return nil
}

// FindByCorrelation returns the most recent record with the given correlation id.
func (ms *MemoryStore) FindByCorrelation(_ context.Context, id string) (*domain.Order, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	for i := len(ms.orders) - 1; i >= 0; i-- {
		if ms.orders[i].CorrelationID == id {
			o := ms.orders[i]
			return &o, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

// FindByTxnID returns the record carrying the external transaction id.
func (ms *MemoryStore) FindByTxnID(_ context.Context, txnID string) (*domain.Order, error) {
	if txnID == "" {
		return nil, domain.ErrOrderNotFound
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	for i := len(ms.orders) - 1; i >= 0; i-- {
		if ms.orders[i].TxnID == txnID {
			o := ms.orders[i]
			return &o, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

// ListRecent returns up to n records, newest first.
func (ms *MemoryStore) ListRecent(_ context.Context, n int) ([]domain.Order, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if n <= 0 || n > len(ms.orders) {
		n = len(ms.orders)
	}
	out := make([]domain.Order, 0, n)
	for i := len(ms.orders) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, ms.orders[i])
	}
	return out, nil
}

// ListByPayer returns all records for the payer, newest first.
func (ms *MemoryStore) ListByPayer(_ context.Context, payerID int64) ([]domain.Order, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var out []domain.Order
	for i := len(ms.orders) - 1; i >= 0; i-- {
		if ms.orders[i].Payer.UserID == payerID {
			out = append(out, ms.orders[i])
		}
	}
	return out, nil
}

// TotalCompleted sums price over provider-confirmed records.
func (ms *MemoryStore) TotalCompleted(_ context.Context) (decimal.Decimal, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	total := decimal.Zero
	for _, o := range ms.orders {
		if o.Status == domain.StatusProviderConfirmed {
			total = total.Add(o.Price)
		}
	}
	return total, nil
}

// Settle reconciles one provider confirmation under the store lock.
func (ms *MemoryStore) Settle(_ context.Context, txnID, correlationID string, fallback domain.Order) (domain.Order, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if txnID != "" {
		for i := len(ms.orders) - 1; i >= 0; i-- {
			if ms.orders[i].TxnID == txnID {
				return ms.orders[i], false, domain.ErrDuplicateEvent
			}
		}
	}

	if correlationID != "" {
		for i := len(ms.orders) - 1; i >= 0; i-- {
			if ms.orders[i].CorrelationID != correlationID {
				continue
			}
			if ms.orders[i].Status == domain.StatusProviderConfirmed {
				break
			}
			next := ms.orders[i]
			next.Status = domain.StatusProviderConfirmed
			next.TxnID = txnID
			if next.Payer.ExternalRef == "" {
				next.Payer.ExternalRef = fallback.Payer.ExternalRef
			}
			ms.orders[i] = next
			return next, true, nil
		}
	}

	if err := fallback.Validate(); err != nil {
		return domain.Order{}, false, err
	}
	ms.orders = append(ms.orders, fallback)
	return fallback, false, nil
}
