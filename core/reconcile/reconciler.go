// Package reconcile matches asynchronous payment gateway confirmations
// against the ledger and notifies the buyer and the admins.
package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/shopbot/core/domain"
	"github.com/m3rciful/shopbot/core/ledger"
	"github.com/m3rciful/shopbot/core/logger"
	"github.com/m3rciful/shopbot/core/settings"
)

// PaymentEvent is one gateway confirmation, already decoded from the wire.
type PaymentEvent struct {
	// ExternalTxnID is the gateway's transaction id; it deduplicates replays.
	ExternalTxnID string
	// CorrelationToken is the token issued at link time, when the gateway
	// echoed it back. Empty when the field was lost or the purchase did not
	// start in a conversation.
	CorrelationToken string
	// PlanLabel is the item name the gateway reports.
	PlanLabel string
	// Amount is the gross amount paid.
	Amount decimal.Decimal
	// PayerExternalRef identifies the payer on the gateway side.
	PayerExternalRef string
}

// Notifier delivers reconciliation outcome messages. Delivery is fire and
// forget; the reconciler records failures but never unwinds a settlement
// because a message could not be sent.
type Notifier interface {
	NotifyPayer(ctx context.Context, userID int64, o domain.Order) error
	NotifyAdmin(ctx context.Context, adminID int64, o domain.Order, updated bool) error
}

// Reconciler turns PaymentEvents into settled ledger records.
type Reconciler struct {
	ledger   ledger.Ledger
	store    *settings.Store
	notifier Notifier

	now func() time.Time
}

// New builds a Reconciler. A nil notifier settles silently.
func New(led ledger.Ledger, store *settings.Store, notifier Notifier) *Reconciler {
	return &Reconciler{ledger: led, store: store, notifier: notifier, now: time.Now}
}

// Process settles one confirmation. Replays of an already settled transaction
// succeed without a second record. Ledger faults are returned so the caller
// can decide whether the gateway should retry delivery.
func (r *Reconciler) Process(ctx context.Context, ev PaymentEvent) error {
	if strings.TrimSpace(ev.ExternalTxnID) == "" {
		return domain.NewValidationError("payment event without transaction id")
	}

	correlation := strings.TrimSpace(ev.CorrelationToken)
	if correlation == "" {
		// A synthesized correlation keeps the record addressable later.
		correlation = "txn-" + ev.ExternalTxnID
	}

	fallback := r.fallbackOrder(ev, correlation)
	order, updated, err := r.ledger.Settle(ctx, ev.ExternalTxnID, correlation, fallback)
	if err != nil {
		if domain.IsStorageFault(err) {
			logger.Error(ctx, "reconcile", "payment.settle",
				slog.String("status", "fail"),
				slog.String("txn_id", ev.ExternalTxnID),
				slog.String("err", err.Error()),
			)
			return err
		}
		if err == domain.ErrDuplicateEvent {
			logger.Info(ctx, "reconcile", "payment.duplicate",
				slog.String("txn_id", ev.ExternalTxnID),
				slog.String("correlation_id", correlation),
			)
			return nil
		}
		return err
	}

	logger.Info(ctx, "reconcile", "payment.settle",
		slog.String("status", "ok"),
		slog.String("txn_id", ev.ExternalTxnID),
		slog.String("correlation_id", order.CorrelationID),
		slog.String("plan", order.Plan),
		slog.String("amount", order.Price.String()),
		slog.Bool("matched", updated),
	)

	r.notify(ctx, order, updated)
	return nil
}

// fallbackOrder is what gets appended when no open record matches the token.
// Plan identity falls back to the gateway's item label when it is not one of
// ours; the record still lands so money never goes untracked.
func (r *Reconciler) fallbackOrder(ev PaymentEvent, correlation string) domain.Order {
	o := domain.Order{
		CorrelationID: correlation,
		TxnID:         ev.ExternalTxnID,
		PlanLabel:     ev.PlanLabel,
		Price:         ev.Amount,
		Method:        domain.MethodProvider,
		Payer:         domain.Payer{ExternalRef: ev.PayerExternalRef},
		Status:        domain.StatusProviderConfirmed,
		CreatedAt:     r.now().UTC(),
	}
	if plan, ok := domain.PlanByLabel(ev.PlanLabel); ok {
		o.Plan = plan.Code
		o.PlanLabel = plan.Label
	} else {
		o.Plan = slugify(ev.PlanLabel)
	}
	if id, ok := domain.PayerIDFromToken(ev.CorrelationToken); ok {
		o.Payer.UserID = id
	}
	return o
}

func (r *Reconciler) notify(ctx context.Context, o domain.Order, updated bool) {
	if r.notifier == nil {
		return
	}
	if o.Payer.UserID != 0 {
		if err := r.notifier.NotifyPayer(ctx, o.Payer.UserID, o); err != nil {
			logger.Warn(ctx, "reconcile", "notify.payer",
				slog.String("status", "fail"),
				slog.Int64("user_id", o.Payer.UserID),
				slog.String("err", err.Error()),
			)
		}
	}
	for _, adminID := range r.store.Get().AdminIDs {
		if err := r.notifier.NotifyAdmin(ctx, adminID, o, updated); err != nil {
			logger.Warn(ctx, "reconcile", "notify.admin",
				slog.String("status", "fail"),
				slog.Int64("user_id", adminID),
				slog.String("err", err.Error()),
			)
		}
	}
}

func slugify(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
