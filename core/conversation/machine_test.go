package conversation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/shopbot/core/config"
	"github.com/m3rciful/shopbot/core/domain"
	"github.com/m3rciful/shopbot/core/ledger"
	"github.com/m3rciful/shopbot/core/settings"
)

const (
	buyerID = int64(100)
	adminID = int64(900)
)

func newTestMachine(t *testing.T) (*Machine, *ledger.MemoryStore, *settings.Store) {
	t.Helper()
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"), settings.Default(adminID))
	require.NoError(t, err)

	mem := ledger.NewMemory()
	m := NewMachine(NewTable(), mem, store, coreconfig.ProviderConfig{
		LinkBaseURL: "https://pay.example.test/checkout",
		Business:    "shop@example.test",
	})
	m.newToken = func(userID int64) string { return domain.NewCorrelationToken(userID) }
	return m, mem, store
}

func text(userID int64, payload string) Event {
	return Event{UserID: userID, Handle: "buyer", Kind: KindText, Payload: payload}
}

func stage(m *Machine, userID int64) Stage {
	return m.Sessions().Stage(userID)
}

func TestRestartShowsCatalog(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	effects := m.Handle(ctx, Event{UserID: buyerID, Kind: KindRestart})
	require.Len(t, effects, 2)
	assert.Equal(t, EffectWelcome, effects[0].Kind)
	assert.Equal(t, EffectShowCatalog, effects[1].Kind)
	assert.Equal(t, 1, effects[1].Page)
	assert.Equal(t, 2, effects[1].Pages)
	assert.Len(t, effects[1].Catalog, CatalogPageSize)
	assert.Equal(t, StageIdle, stage(m, buyerID))
}

func TestRestartResetsFromEveryStage(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	setups := map[string]func(){
		"idle":     func() {},
		"browsing": func() { m.Handle(ctx, text(buyerID, "browse")) },
		"choosing": func() { m.Handle(ctx, text(buyerID, "plan:1m")) },
		"awaiting": func() {
			m.Handle(ctx, text(buyerID, "plan:1m"))
			m.Handle(ctx, text(buyerID, "wire_b"))
		},
	}
	for name, setup := range setups {
		setup()
		m.Handle(ctx, Event{UserID: buyerID, Kind: KindRestart})
		assert.Equal(t, StageIdle, stage(m, buyerID), name)
		m.Sessions().WithSession(buyerID, func(s *Session) {
			assert.Empty(t, s.PlanCode, name)
			assert.True(t, s.Price.IsZero(), name)
		})
	}
}

func TestCatalogPagination(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	m.Handle(ctx, Event{UserID: buyerID, Kind: KindRestart})

	effects := m.Handle(ctx, text(buyerID, "page:2"))
	require.Len(t, effects, 1)
	assert.Equal(t, EffectShowCatalog, effects[0].Kind)
	assert.Equal(t, 2, effects[0].Page)
	assert.Len(t, effects[0].Catalog, 1)

	effects = m.Handle(ctx, text(buyerID, "page:zzz"))
	require.Len(t, effects, 1)
	assert.Equal(t, EffectValidationNotice, effects[0].Kind)
}

func TestPlanSelectionRecordsPrice(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	m.Handle(ctx, Event{UserID: buyerID, Kind: KindRestart})

	effects := m.Handle(ctx, text(buyerID, "plan:3m"))
	require.Len(t, effects, 1)
	assert.Equal(t, EffectShowMethods, effects[0].Kind)
	assert.Equal(t, "3m", effects[0].Plan.Code)
	assert.Equal(t, StageChoosingPayment, stage(m, buyerID))

	m.Sessions().WithSession(buyerID, func(s *Session) {
		want, _ := domain.PlanByCode("3m")
		assert.True(t, s.Price.Equal(want.Price))
	})
}

func TestUnknownPlanRejected(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	m.Handle(ctx, Event{UserID: buyerID, Kind: KindRestart})

	effects := m.Handle(ctx, text(buyerID, "plan:99x"))
	require.Len(t, effects, 1)
	assert.Equal(t, EffectValidationNotice, effects[0].Kind)
	assert.Equal(t, StageIdle, stage(m, buyerID))
}

func TestProviderMethodIssuesLinkAndCloses(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	m.newToken = func(int64) string { return "ord-100-deadbeef0123" }

	m.Handle(ctx, Event{UserID: buyerID, Kind: KindRestart})
	m.Handle(ctx, text(buyerID, "plan:1m"))
	effects := m.Handle(ctx, text(buyerID, "provider"))

	require.Len(t, effects, 1)
	require.Equal(t, EffectShowInstructions, effects[0].Kind)
	in := effects[0].Instructions
	require.NotNil(t, in)
	assert.Equal(t, "ord-100-deadbeef0123", in.Token)
	assert.Contains(t, in.Link, "custom=ord-100-deadbeef0123")
	assert.Contains(t, in.Link, "amount=11.00")
	assert.Equal(t, StageIdle, stage(m, buyerID))
}

func TestBackFromMethodsReturnsToCatalog(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	m.Handle(ctx, Event{UserID: buyerID, Kind: KindRestart})
	m.Handle(ctx, text(buyerID, "plan:1m"))
	require.Equal(t, StageChoosingPayment, stage(m, buyerID))

	effects := m.Handle(ctx, text(buyerID, "back"))
	require.Len(t, effects, 1)
	assert.Equal(t, EffectShowCatalog, effects[0].Kind)
	assert.Equal(t, 1, effects[0].Page)
	assert.Equal(t, StageBrowsingPlans, stage(m, buyerID))
	m.Sessions().WithSession(buyerID, func(s *Session) {
		assert.Empty(t, s.PlanCode)
		assert.True(t, s.Price.IsZero())
	})

	// Picking a different plan still works after going back.
	effects = m.Handle(ctx, text(buyerID, "plan:3m"))
	require.Len(t, effects, 1)
	assert.Equal(t, EffectShowMethods, effects[0].Kind)
	assert.Equal(t, "3m", effects[0].Plan.Code)
}

func TestManualMethodConvertsWithRate(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	m.Handle(ctx, Event{UserID: buyerID, Kind: KindRestart})
	m.Handle(ctx, text(buyerID, "plan:1m"))

	effects := m.Handle(ctx, text(buyerID, "wire_b"))
	require.Len(t, effects, 1)
	in := effects[0].Instructions
	require.NotNil(t, in)
	assert.True(t, in.Converted.Equal(decimal.NewFromInt(11*400)), "got %s", in.Converted)
	assert.Equal(t, StageAwaitingProof, stage(m, buyerID))
}

func TestEvidenceAppendsOrderAndNotifiesAdmins(t *testing.T) {
	m, mem, _ := newTestMachine(t)
	ctx := context.Background()
	m.Handle(ctx, Event{UserID: buyerID, Kind: KindRestart})
	m.Handle(ctx, text(buyerID, "plan:1m"))
	m.Handle(ctx, text(buyerID, "balance"))

	effects := m.Handle(ctx, Event{UserID: buyerID, Handle: "buyer", Kind: KindEvidence})
	require.Len(t, effects, 2)
	assert.Equal(t, EffectProofAccepted, effects[0].Kind)
	assert.Equal(t, EffectNotifyAdmin, effects[1].Kind)
	assert.Equal(t, adminID, effects[1].TargetUserID)

	orders, err := mem.ListByPayer(ctx, buyerID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.StatusProofSubmitted, orders[0].Status)
	assert.Equal(t, "1m", orders[0].Plan)
	assert.Equal(t, domain.MethodCashBalance, orders[0].Method)
	assert.Equal(t, StageIdle, stage(m, buyerID))
}

func TestAwaitingProofReminds(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	m.Handle(ctx, Event{UserID: buyerID, Kind: KindRestart})
	m.Handle(ctx, text(buyerID, "plan:1m"))
	m.Handle(ctx, text(buyerID, "wire_a"))

	effects := m.Handle(ctx, text(buyerID, "ya pagué"))
	require.Len(t, effects, 1)
	assert.Equal(t, EffectReminder, effects[0].Kind)
	assert.Equal(t, StageAwaitingProof, stage(m, buyerID))
}

type faultyLedger struct {
	*ledger.MemoryStore
}

func (f faultyLedger) Append(context.Context, domain.Order) error {
	return domain.NewStorageFault("append", context.DeadlineExceeded)
}

func TestEvidenceStorageFaultKeepsState(t *testing.T) {
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"), settings.Default(adminID))
	require.NoError(t, err)
	m := NewMachine(NewTable(), faultyLedger{ledger.NewMemory()}, store, coreconfig.ProviderConfig{})

	ctx := context.Background()
	m.Handle(ctx, Event{UserID: buyerID, Kind: KindRestart})
	m.Handle(ctx, text(buyerID, "plan:1m"))
	m.Handle(ctx, text(buyerID, "wire_b"))

	effects := m.Handle(ctx, Event{UserID: buyerID, Kind: KindEvidence})
	require.Len(t, effects, 1)
	assert.Equal(t, EffectRetryNotice, effects[0].Kind)
	assert.Equal(t, StageAwaitingProof, stage(m, buyerID), "a failed append must not drop the conversation")
}

func TestCancelFromEveryStage(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	setups := map[string]func(){
		"browsing": func() {
			m.Handle(ctx, text(buyerID, "browse"))
		},
		"choosing": func() {
			m.Handle(ctx, text(buyerID, "plan:1m"))
		},
		"awaiting": func() {
			m.Handle(ctx, text(buyerID, "plan:1m"))
			m.Handle(ctx, text(buyerID, "wire_b"))
		},
	}
	for name, setup := range setups {
		setup()
		effects := m.Handle(ctx, Event{UserID: buyerID, Kind: KindCancel})
		require.Len(t, effects, 1, name)
		assert.Equal(t, EffectCancelled, effects[0].Kind, name)
		assert.Equal(t, StageIdle, stage(m, buyerID), name)
	}
}

func TestAdminMenuHiddenFromOutsiders(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	effects := m.Handle(ctx, text(buyerID, "admin"))
	assert.Empty(t, effects)
	assert.Equal(t, StageIdle, stage(m, buyerID))

	effects = m.Handle(ctx, text(adminID, "admin"))
	require.Len(t, effects, 1)
	assert.Equal(t, EffectAdminMenu, effects[0].Kind)
	assert.Equal(t, StageAdminMenu, stage(m, adminID))
}

func TestRateAdjustmentPersists(t *testing.T) {
	m, _, store := newTestMachine(t)
	ctx := context.Background()

	m.Handle(ctx, text(adminID, "admin"))
	effects := m.Handle(ctx, text(adminID, "rate"))
	require.Len(t, effects, 1)
	assert.Equal(t, EffectPromptRate, effects[0].Kind)

	effects = m.Handle(ctx, text(adminID, "wire_b 405"))
	require.Len(t, effects, 1)
	assert.Equal(t, EffectAdminDone, effects[0].Kind)
	assert.Equal(t, StageIdle, stage(m, adminID))

	rate, ok := store.Get().Rate(domain.MethodWireTransferB)
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.NewFromInt(405)))
}

func TestRateRejectsGarbage(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	m.Handle(ctx, text(adminID, "admin"))
	m.Handle(ctx, text(adminID, "rate"))

	for _, bad := range []string{"wire_b", "wire_b -3", "wire_b cero", "nope 400"} {
		effects := m.Handle(ctx, text(adminID, bad))
		require.Len(t, effects, 1, bad)
		assert.Equal(t, EffectValidationNotice, effects[0].Kind, bad)
		assert.Equal(t, StageAdjustRate, stage(m, adminID), bad)
	}
}

func TestAdminListMutation(t *testing.T) {
	m, _, store := newTestMachine(t)
	ctx := context.Background()

	m.Handle(ctx, text(adminID, "admin"))
	m.Handle(ctx, text(adminID, "admins"))

	effects := m.Handle(ctx, text(adminID, "+555"))
	require.Len(t, effects, 1)
	assert.Equal(t, EffectAdminDone, effects[0].Kind)
	assert.True(t, store.Get().IsAdmin(555))

	// The new admin can remove the original one, including mid-conversation.
	m.Handle(ctx, text(555, "admin"))
	m.Handle(ctx, text(555, "admins"))
	m.Handle(ctx, text(555, "-900"))
	assert.False(t, store.Get().IsAdmin(adminID))
}

func TestRevokedAdminDroppedMidConversation(t *testing.T) {
	m, _, store := newTestMachine(t)
	ctx := context.Background()

	m.Handle(ctx, text(adminID, "admin"))
	require.Equal(t, StageAdminMenu, stage(m, adminID))

	require.NoError(t, store.Update(func(s *settings.Settings) error {
		s.AdminIDs = nil
		return nil
	}))

	effects := m.Handle(ctx, text(adminID, "orders"))
	assert.Empty(t, effects)
	assert.Equal(t, StageIdle, stage(m, adminID))
}

func TestStatusListsOwnOrders(t *testing.T) {
	m, mem, _ := newTestMachine(t)
	ctx := context.Background()

	require.NoError(t, mem.Append(ctx, domain.Order{
		CorrelationID: "ord-100-aaa111bbb222",
		Plan:          "1m",
		Price:         decimal.NewFromInt(11),
		Method:        domain.MethodWireTransferA,
		Payer:         domain.Payer{UserID: buyerID},
		Status:        domain.StatusProofSubmitted,
	}))

	effects := m.Handle(ctx, text(buyerID, "status"))
	require.Len(t, effects, 1)
	assert.Equal(t, EffectOrderList, effects[0].Kind)
	require.Len(t, effects[0].Orders, 1)
	assert.Equal(t, "1m", effects[0].Orders[0].Plan)
	assert.Equal(t, StageIdle, stage(m, buyerID))
}
