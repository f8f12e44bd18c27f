// Package settings holds the small mutable configuration shared by the
// conversation state machine and the reconciler: the admin list, the manual
// payment rate table, and the support contacts. The store is loaded once at
// process start and persisted synchronously on every mutation.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/shopbot/core/atomicfile"
	"github.com/m3rciful/shopbot/core/domain"
	"github.com/m3rciful/shopbot/core/logger"
)

// Settings is the persisted configuration snapshot.
type Settings struct {
	// AdminIDs lists the user ids allowed into the privileged menu.
	AdminIDs []int64 `json:"admin_ids"`
	// Rates maps a payment method to its 1-USD exchange rate.
	Rates map[domain.PaymentMethod]decimal.Decimal `json:"rates"`
	// Destinations maps a manual payment method to the account the buyer pays into.
	Destinations map[domain.PaymentMethod]string `json:"destinations"`
	// SupportHandle is shown to buyers for payment confirmation questions.
	SupportHandle string `json:"support_handle"`
}

// Default returns the settings written on first start. seedAdmin, when
// non-zero, becomes the first admin so the deployment is administrable
// before anyone used the admin menu.
func Default(seedAdmin int64) Settings {
	s := Settings{
		Rates: map[domain.PaymentMethod]decimal.Decimal{
			domain.MethodWireTransferB: decimal.NewFromInt(400),
			domain.MethodCashBalance:   decimal.NewFromInt(210),
		},
		Destinations: map[domain.PaymentMethod]string{},
	}
	if seedAdmin != 0 {
		s.AdminIDs = []int64{seedAdmin}
	}
	return s
}

// IsAdmin reports whether id is in the admin list.
func (s Settings) IsAdmin(id int64) bool {
	return slices.Contains(s.AdminIDs, id)
}

// Rate returns the stored exchange rate for the method, if any.
func (s Settings) Rate(m domain.PaymentMethod) (decimal.Decimal, bool) {
	r, ok := s.Rates[m]
	return r, ok
}

func (s Settings) clone() Settings {
	out := s
	out.AdminIDs = slices.Clone(s.AdminIDs)
	out.Rates = make(map[domain.PaymentMethod]decimal.Decimal, len(s.Rates))
	for k, v := range s.Rates {
		out.Rates[k] = v
	}
	out.Destinations = make(map[domain.PaymentMethod]string, len(s.Destinations))
	for k, v := range s.Destinations {
		out.Destinations[k] = v
	}
	return out
}

// Store owns the persisted settings file. All reads go through Get and see
// the latest successfully persisted value; Update persists before returning.
type Store struct {
	mu   sync.RWMutex
	path string
	cur  Settings
}

// Open loads settings from path, creating the file with defaults when absent.
func Open(path string, defaults Settings) (*Store, error) {
	st := &Store{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &st.cur); err != nil {
			return nil, domain.NewStorageFault("settings load", err)
		}
	case errors.Is(err, os.ErrNotExist):
		st.cur = defaults.clone()
		if err := st.persistLocked(); err != nil {
			return nil, err
		}
		logger.Info(context.Background(), "settings", "settings.created",
			slog.String("path", path),
			slog.Int("admins", len(st.cur.AdminIDs)),
		)
	default:
		return nil, domain.NewStorageFault("settings load", err)
	}

	if st.cur.Rates == nil {
		st.cur.Rates = map[domain.PaymentMethod]decimal.Decimal{}
	}
	if st.cur.Destinations == nil {
		st.cur.Destinations = map[domain.PaymentMethod]string{}
	}
	return st, nil
}

// Get returns a snapshot of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.clone()
}

// Update applies mutate to a copy of the current settings and persists the
// result before swapping it in. On any error the previous value stays active.
func (s *Store) Update(mutate func(*Settings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.clone()
	if err := mutate(&next); err != nil {
		return err
	}

	prev := s.cur
	s.cur = next
	if err := s.persistLocked(); err != nil {
		s.cur = prev
		return err
	}
	return nil
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.cur, "", "  ")
	if err != nil {
		return fmt.Errorf("settings encode: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return domain.NewStorageFault("settings persist", err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0o644); err != nil {
		return domain.NewStorageFault("settings persist", err)
	}
	return nil
}
