package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/shopbot/core/domain"
	"github.com/m3rciful/shopbot/core/ledger"
	"github.com/m3rciful/shopbot/core/settings"
)

type recordedNotification struct {
	userID  int64
	order   domain.Order
	admin   bool
	updated bool
}

type captureNotifier struct {
	sent []recordedNotification
}

func (n *captureNotifier) NotifyPayer(_ context.Context, userID int64, o domain.Order) error {
	n.sent = append(n.sent, recordedNotification{userID: userID, order: o})
	return nil
}

func (n *captureNotifier) NotifyAdmin(_ context.Context, adminID int64, o domain.Order, updated bool) error {
	n.sent = append(n.sent, recordedNotification{userID: adminID, order: o, admin: true, updated: updated})
	return nil
}

func newTestReconciler(t *testing.T) (*Reconciler, *ledger.MemoryStore, *captureNotifier) {
	t.Helper()
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"), settings.Default(99))
	require.NoError(t, err)
	mem := ledger.NewMemory()
	notifier := &captureNotifier{}
	return New(mem, store, notifier), mem, notifier
}

func TestProcessConfirmsOpenOrder(t *testing.T) {
	r, mem, notifier := newTestReconciler(t)
	ctx := context.Background()

	// Conversation-time record: price fixed at checkout.
	require.NoError(t, mem.Append(ctx, domain.Order{
		CorrelationID: "ord-5-abc123def456",
		Plan:          "3m",
		PlanLabel:     "3 meses – 15 USD",
		Price:         decimal.NewFromInt(15),
		Method:        domain.MethodProvider,
		Payer:         domain.Payer{UserID: 5},
		Status:        domain.StatusProofSubmitted,
		CreatedAt:     time.Now(),
	}))

	err := r.Process(ctx, PaymentEvent{
		ExternalTxnID:    "TXN-1",
		CorrelationToken: "ord-5-abc123def456",
		PlanLabel:        "3 meses – 15 USD",
		Amount:           decimal.NewFromFloat(14.55), // gateway fee; stored price wins
		PayerExternalRef: "payer@example.test",
	})
	require.NoError(t, err)

	got, err := mem.FindByTxnID(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProviderConfirmed, got.Status)
	assert.Equal(t, "3m", got.Plan)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, "payer@example.test", got.Payer.ExternalRef)

	total, err := mem.TotalCompleted(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(15)))

	require.Len(t, notifier.sent, 2)
	assert.Equal(t, int64(5), notifier.sent[0].userID)
	assert.False(t, notifier.sent[0].admin)
	assert.Equal(t, int64(99), notifier.sent[1].userID)
	assert.True(t, notifier.sent[1].admin)
	assert.True(t, notifier.sent[1].updated)
}

func TestProcessReplayIsIdempotent(t *testing.T) {
	r, mem, notifier := newTestReconciler(t)
	ctx := context.Background()

	ev := PaymentEvent{
		ExternalTxnID:    "TXN-7",
		CorrelationToken: "ord-5-abc123def456",
		PlanLabel:        "1 mes – 11 USD",
		Amount:           decimal.NewFromInt(11),
	}
	require.NoError(t, r.Process(ctx, ev))
	require.NoError(t, r.Process(ctx, ev))
	require.NoError(t, r.Process(ctx, ev))

	orders, err := mem.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	total, err := mem.TotalCompleted(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(11)), "replays must not inflate revenue")

	// Only the first delivery notifies.
	assert.Len(t, notifier.sent, 2)
}

func TestProcessSynthesizesWithoutMatch(t *testing.T) {
	r, mem, notifier := newTestReconciler(t)
	ctx := context.Background()

	settledAt := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	r.now = func() time.Time { return settledAt }

	err := r.Process(ctx, PaymentEvent{
		ExternalTxnID:    "TXN-9",
		CorrelationToken: "ord-7-0011aabbccdd",
		PlanLabel:        "1 año – 27 USD",
		Amount:           decimal.NewFromInt(27),
		PayerExternalRef: "someone@example.test",
	})
	require.NoError(t, err)

	got, err := mem.FindByTxnID(ctx, "TXN-9")
	require.NoError(t, err)
	assert.Equal(t, "12m", got.Plan, "gateway label resolves to the catalog code")
	assert.Equal(t, int64(7), got.Payer.UserID, "payer id recovered from the token")
	assert.Equal(t, domain.StatusProviderConfirmed, got.Status)
	assert.True(t, got.CreatedAt.Equal(settledAt), "synthesized record carries the settle time")

	require.Len(t, notifier.sent, 2)
	assert.Equal(t, int64(7), notifier.sent[0].userID)
}

func TestProcessUnknownLabelStillRecorded(t *testing.T) {
	r, mem, _ := newTestReconciler(t)
	ctx := context.Background()

	err := r.Process(ctx, PaymentEvent{
		ExternalTxnID: "TXN-11",
		PlanLabel:     "Oferta Especial",
		Amount:        decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	got, err := mem.FindByTxnID(ctx, "TXN-11")
	require.NoError(t, err)
	assert.Equal(t, "oferta_especial", got.Plan)
	assert.Equal(t, "Oferta Especial", got.PlanLabel)
	assert.Equal(t, "txn-TXN-11", got.CorrelationID)
}

func TestProcessRejectsMissingTxnID(t *testing.T) {
	r, mem, _ := newTestReconciler(t)
	ctx := context.Background()

	err := r.Process(ctx, PaymentEvent{PlanLabel: "1 mes – 11 USD"})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	orders, lerr := mem.ListRecent(ctx, 0)
	require.NoError(t, lerr)
	assert.Empty(t, orders)
}
