package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/shopbot/core/atomicfile"
	"github.com/m3rciful/shopbot/core/domain"
	"github.com/m3rciful/shopbot/core/logger"
)

// FileStore keeps the ledger as a JSON array on disk. The file is the source
// of truth; the in-memory slice mirrors it and is only swapped after a
// successful atomic rewrite, so a failed write never loses accepted records.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	orders []domain.Order
}

// OpenFile loads the ledger at path, creating an empty one when absent.
func OpenFile(path string) (*FileStore, error) {
	fs := &FileStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &fs.orders); err != nil {
			return nil, domain.NewStorageFault("ledger load", err)
		}
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, domain.NewStorageFault("ledger create", err)
		}
		if err := atomicfile.WriteFile(path, []byte("[]\n"), 0o644); err != nil {
			return nil, domain.NewStorageFault("ledger create", err)
		}
	default:
		return nil, domain.NewStorageFault("ledger load", err)
	}

	logger.Info(context.Background(), "ledger", "ledger.opened",
		slog.String("path", path),
		slog.Int("orders", len(fs.orders)),
	)
	return fs, nil
}

// Append adds one record and rewrites the file atomically.
func (fs *FileStore) Append(ctx context.Context, o domain.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.orders = append(fs.orders, o)
	if err := fs.persistLocked(); err != nil {
		fs.orders = fs.orders[:len(fs.orders)-1]
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

// FindByCorrelation returns the most recent record with the given correlation id.
func (fs *FileStore) FindByCorrelation(_ context.Context, id string) (*domain.Order, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	for i := len(fs.orders) - 1; i >= 0; i-- {
		if fs.orders[i].CorrelationID == id {
			o := fs.orders[i]
			return &o, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

// FindByTxnID returns the record carrying the external transaction id.
func (fs *FileStore) FindByTxnID(_ context.Context, txnID string) (*domain.Order, error) {
	if txnID == "" {
		return nil, domain.ErrOrderNotFound
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	for i := len(fs.orders) - 1; i >= 0; i-- {
		if fs.orders[i].TxnID == txnID {
			o := fs.orders[i]
			return &o, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

// ListRecent returns up to n records, newest first.
func (fs *FileStore) ListRecent(_ context.Context, n int) ([]domain.Order, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if n <= 0 || n > len(fs.orders) {
		n = len(fs.orders)
	}
	out := make([]domain.Order, 0, n)
	for i := len(fs.orders) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, fs.orders[i])
	}
	return out, nil
}

// ListByPayer returns all records for the payer, newest first.
func (fs *FileStore) ListByPayer(_ context.Context, payerID int64) ([]domain.Order, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var out []domain.Order
	for i := len(fs.orders) - 1; i >= 0; i-- {
		if fs.orders[i].Payer.UserID == payerID {
			out = append(out, fs.orders[i])
		}
	}
	return out, nil
}

// TotalCompleted sums price over provider-confirmed records.
func (fs *FileStore) TotalCompleted(_ context.Context) (decimal.Decimal, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	total := decimal.Zero
	for _, o := range fs.orders {
		if o.Status == domain.StatusProviderConfirmed {
			total = total.Add(o.Price)
		}
	}
	return total, nil
}

// Settle reconciles one provider confirmation under the store lock.
func (fs *FileStore) Settle(ctx context.Context, txnID, correlationID string, fallback domain.Order) (domain.Order, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if txnID != "" {
		for i := len(fs.orders) - 1; i >= 0; i-- {
			if fs.orders[i].TxnID == txnID {
				return fs.orders[i], false, domain.ErrDuplicateEvent
			}
		}
	}

	if correlationID != "" {
		for i := len(fs.orders) - 1; i >= 0; i-- {
			if fs.orders[i].CorrelationID != correlationID {
				continue
			}
			if fs.orders[i].Status == domain.StatusProviderConfirmed {
				break // same token confirmed under another txn; record separately
			}
			prev := fs.orders[i]
			next := prev
			next.Status = domain.StatusProviderConfirmed
			next.TxnID = txnID
			if next.Payer.ExternalRef == "" {
				next.Payer.ExternalRef = fallback.Payer.ExternalRef
			}
			fs.orders[i] = next
			if err := fs.persistLocked(); err != nil {
				fs.orders[i] = prev
				return domain.Order{}, false, err
			}
			logger.Info(ctx, "ledger", "order.settle",
				slog.String("status", "ok"),
				slog.String("correlation_id", correlationID),
				slog.String("txn_id", txnID),
			)
			return next, true, nil
		}
	}

	if err := fallback.Validate(); err != nil {
		return domain.Order{}, false, err
	}
	fs.orders = append(fs.orders, fallback)
	if err := fs.persistLocked(); err != nil {
		fs.orders = fs.orders[:len(fs.orders)-1]
		return domain.Order{}, false, err
	}
	logger.Info(ctx, "ledger", "order.settle",
		slog.String("status", "ok"),
		slog.String("correlation_id", fallback.CorrelationID),
		slog.String("txn_id", txnID),
		slog.Bool("synthesized", true),
	)
	return fallback, false, nil
}

func (fs *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(fs.orders, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger encode: %w", err)
	}
	data = append(data, '\n')
	if err := atomicfile.WriteFile(fs.path, data, 0o644); err != nil {
		return domain.NewStorageFault("ledger persist", err)
	}
	return nil
}
