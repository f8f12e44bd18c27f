// Package conversation implements the per-user purchase conversation: an
// in-memory session table and the state machine that walks a buyer from the
// plan catalog to payment instructions or a submitted payment proof.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	coreconfig "github.com/m3rciful/shopbot/core/config"
	"github.com/m3rciful/shopbot/core/domain"
	"github.com/m3rciful/shopbot/core/ledger"
	"github.com/m3rciful/shopbot/core/logger"
	"github.com/m3rciful/shopbot/core/settings"
)

// CatalogPageSize is how many plans one catalog page shows.
const CatalogPageSize = 2

// Machine owns the session table and computes transitions. All ledger and
// settings access goes through their atomic contracts; the machine never
// read-modify-writes shared state directly.
type Machine struct {
	sessions *Table
	ledger   ledger.Ledger
	store    *settings.Store
	provider coreconfig.ProviderConfig

	now      func() time.Time
	newToken func(userID int64) string
}

// NewMachine wires the state machine with its collaborators.
func NewMachine(tbl *Table, led ledger.Ledger, store *settings.Store, provider coreconfig.ProviderConfig) *Machine {
	return &Machine{
		sessions: tbl,
		ledger:   led,
		store:    store,
		provider: provider,
		now:      time.Now,
		newToken: domain.NewCorrelationToken,
	}
}

// Sessions exposes the session table for transport-side routing checks.
func (m *Machine) Sessions() *Table {
	return m.sessions
}

// Handle applies one inbound event to the user's session and returns the
// outbound effects. An event that matches nothing keeps the state unchanged;
// nothing here ever panics the caller out of the update loop.
func (m *Machine) Handle(ctx context.Context, ev Event) []Effect {
	var effects []Effect
	m.sessions.WithSession(ev.UserID, func(s *Session) {
		before := s.Stage
		effects = m.transition(ctx, s, ev)
		logger.Debug(ctx, "fsm", "fsm.transition",
			slog.Int64("user_id", ev.UserID),
			slog.String("state", string(before)+">"+string(s.Stage)),
			slog.String("payload", logger.SanitizeLimit(ev.Payload, 64)),
		)
	})
	return effects
}

func (m *Machine) transition(ctx context.Context, s *Session, ev Event) []Effect {
	// Restart is an escape hatch, accepted everywhere. The session ends up
	// empty and idle; the catalog keyboard still works from Idle because
	// plan and page payloads are accepted there too.
	if ev.Kind == KindRestart {
		s.reset()
		return []Effect{{Kind: EffectWelcome}, catalogEffect(1)}
	}
	if ev.Kind == KindCancel {
		if s.Stage == StageIdle {
			return nil
		}
		s.reset()
		return []Effect{{Kind: EffectCancelled}}
	}

	switch s.Stage {
	case StageIdle:
		return m.handleIdle(ctx, s, ev)
	case StageBrowsingPlans:
		return m.handleBrowsing(s, ev)
	case StageChoosingPayment:
		return m.handleChoosing(ctx, s, ev)
	case StageAwaitingProof:
		return m.handleAwaitingProof(ctx, s, ev)
	case StageAdminMenu:
		return m.handleAdminMenu(ctx, s, ev)
	case StageAdjustRate:
		return m.handleAdjustRate(ctx, s, ev)
	case StageManageAdmins:
		return m.handleManageAdmins(ctx, s, ev)
	}
	// Unknown stage means a corrupted session; recover by resetting.
	s.reset()
	return nil
}

// handleIdle starts a flow. Unrecognized events are no-ops by design: an
// idle user typing random text must not trigger validation noise.
func (m *Machine) handleIdle(ctx context.Context, s *Session, ev Event) []Effect {
	if ev.Kind != KindText {
		return nil
	}
	payload, arg := splitPayload(ev.Payload)
	switch payload {
	case "browse", "plans":
		s.Stage = StageBrowsingPlans
		return []Effect{catalogEffect(1)}
	case "plan":
		return m.selectPlan(s, arg)
	case "page":
		return pageEffects(arg)
	case "admin":
		if !m.store.Get().IsAdmin(ev.UserID) {
			// Menu stays hidden for non-admins.
			return nil
		}
		s.Stage = StageAdminMenu
		return []Effect{{Kind: EffectAdminMenu}}
	case "status":
		return m.orderListEffects(ctx, ev.UserID)
	case "help":
		return []Effect{{Kind: EffectHelp}}
	default:
		return nil
	}
}

func (m *Machine) handleBrowsing(s *Session, ev Event) []Effect {
	if ev.Kind != KindText {
		return []Effect{{Kind: EffectValidationNotice, Reason: "pick a plan from the catalog"}}
	}
	payload, arg := splitPayload(ev.Payload)
	switch payload {
	case "back":
		s.reset()
		return nil
	case "page":
		return pageEffects(arg)
	case "plan":
		return m.selectPlan(s, arg)
	}
	// Bare plan codes are accepted too, the catalog buttons send "plan:<code>".
	return m.selectPlan(s, payload)
}

// selectPlan moves the session to payment method choice. Accepted from Idle
// as well so the welcome catalog keyboard works without a prior command.
func (m *Machine) selectPlan(s *Session, code string) []Effect {
	plan, ok := domain.PlanByCode(code)
	if !ok {
		return []Effect{{Kind: EffectValidationNotice, Reason: "unknown plan"}}
	}
	s.Stage = StageChoosingPayment
	s.PlanCode = plan.Code
	s.Price = plan.Price
	return []Effect{{Kind: EffectShowMethods, Plan: plan}}
}

func pageEffects(arg string) []Effect {
	page, err := strconv.Atoi(arg)
	if err != nil || page < 1 {
		return []Effect{{Kind: EffectValidationNotice, Reason: "unknown catalog page"}}
	}
	return []Effect{catalogEffect(page)}
}

func (m *Machine) handleChoosing(ctx context.Context, s *Session, ev Event) []Effect {
	if ev.Kind != KindText {
		return []Effect{{Kind: EffectValidationNotice, Reason: "pick a payment method"}}
	}
	payload, arg := splitPayload(ev.Payload)
	if payload == "back" {
		// Drop the plan selection and show the catalog again.
		s.Stage = StageBrowsingPlans
		s.PlanCode = ""
		s.Price = decimal.Zero
		return []Effect{catalogEffect(1)}
	}
	if payload == "method" {
		payload = arg
	}
	method, ok := domain.ParseMethod(payload)
	if !ok {
		return []Effect{{Kind: EffectValidationNotice, Reason: "unknown payment method"}}
	}

	plan, ok := domain.PlanByCode(s.PlanCode)
	if !ok {
		// Session refers to a plan that left the catalog; start over.
		s.reset()
		return []Effect{{Kind: EffectValidationNotice, Reason: "plan no longer available"}}
	}

	cfg := m.store.Get()
	instr := &Instructions{
		Plan:          plan,
		Method:        method,
		Destination:   cfg.Destinations[method],
		SupportHandle: cfg.SupportHandle,
	}
	if rate, ok := cfg.Rate(method); ok {
		instr.Rate = rate
		instr.Converted = plan.Price.Mul(rate)
	}

	if method == domain.MethodProvider {
		// The provider flow closes the conversation; confirmation arrives
		// out-of-band and is correlated through the ledger, not the session.
		instr.Token = m.newToken(ev.UserID)
		instr.Link = m.paymentLink(plan, instr.Token)
		s.reset()
		return []Effect{{Kind: EffectShowInstructions, Instructions: instr}}
	}

	s.Stage = StageAwaitingProof
	s.Method = method
	logger.Info(ctx, "fsm", "method.selected",
		slog.Int64("user_id", ev.UserID),
		slog.String("plan", plan.Code),
		slog.String("method", string(method)),
	)
	return []Effect{{Kind: EffectShowInstructions, Instructions: instr}}
}

func (m *Machine) handleAwaitingProof(ctx context.Context, s *Session, ev Event) []Effect {
	if ev.Kind != KindEvidence {
		return []Effect{{Kind: EffectReminder}}
	}

	plan, _ := domain.PlanByCode(s.PlanCode)
	order := domain.Order{
		CorrelationID: m.newToken(ev.UserID),
		Plan:          s.PlanCode,
		PlanLabel:     plan.Label,
		Price:         s.Price,
		Method:        s.Method,
		Payer:         domain.Payer{UserID: ev.UserID, Handle: ev.Handle},
		Status:        domain.StatusProofSubmitted,
		CreatedAt:     m.now(),
	}
	if err := m.ledger.Append(ctx, order); err != nil {
		logger.Error(ctx, "fsm", "proof.append",
			slog.String("status", "fail"),
			slog.Int64("user_id", ev.UserID),
			slog.String("err", err.Error()),
		)
		// State unchanged so the user can retry the upload.
		return []Effect{{Kind: EffectRetryNotice}}
	}

	effects := []Effect{{Kind: EffectProofAccepted}}
	for _, adminID := range m.store.Get().AdminIDs {
		effects = append(effects, Effect{
			Kind:         EffectNotifyAdmin,
			TargetUserID: adminID,
			Plan:         plan,
			ProofBy:      ev.Handle,
			Orders:       []domain.Order{order},
		})
	}
	s.reset()
	return effects
}

// handleAdminMenu gates every privileged action on a fresh admin check, so a
// revocation takes effect mid-conversation.
func (m *Machine) handleAdminMenu(ctx context.Context, s *Session, ev Event) []Effect {
	if !m.store.Get().IsAdmin(ev.UserID) {
		s.reset()
		return nil
	}
	if ev.Kind != KindText {
		return []Effect{{Kind: EffectValidationNotice, Reason: "pick an admin action"}}
	}
	switch payload, _ := splitPayload(ev.Payload); payload {
	case "rate":
		s.Stage = StageAdjustRate
		return []Effect{{Kind: EffectPromptRate}}
	case "admins":
		s.Stage = StageManageAdmins
		return []Effect{{Kind: EffectPromptAdmins}}
	case "orders":
		orders, err := m.ledger.ListRecent(ctx, 10)
		if err != nil {
			return []Effect{{Kind: EffectRetryNotice}}
		}
		return []Effect{{Kind: EffectOrderList, Orders: orders}}
	case "totals":
		total, err := m.ledger.TotalCompleted(ctx)
		if err != nil {
			return []Effect{{Kind: EffectRetryNotice}}
		}
		return []Effect{{Kind: EffectTotals, Total: total}}
	case "back":
		s.reset()
		return nil
	default:
		return []Effect{{Kind: EffectValidationNotice, Reason: "unknown admin action"}}
	}
}

func (m *Machine) handleAdjustRate(ctx context.Context, s *Session, ev Event) []Effect {
	if !m.store.Get().IsAdmin(ev.UserID) {
		s.reset()
		return nil
	}
	if ev.Kind != KindText {
		return []Effect{{Kind: EffectValidationNotice, Reason: "send: <method> <rate>"}}
	}
	fields := strings.Fields(ev.Payload)
	if len(fields) != 2 {
		return []Effect{{Kind: EffectValidationNotice, Reason: "send: <method> <rate>"}}
	}
	method, ok := domain.ParseMethod(fields[0])
	if !ok {
		return []Effect{{Kind: EffectValidationNotice, Reason: "unknown payment method"}}
	}
	rate, err := decimal.NewFromString(fields[1])
	if err != nil || !rate.IsPositive() {
		return []Effect{{Kind: EffectValidationNotice, Reason: "rate must be a positive number"}}
	}

	if err := m.store.Update(func(cfg *settings.Settings) error {
		cfg.Rates[method] = rate
		return nil
	}); err != nil {
		logger.Error(ctx, "fsm", "rate.update",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return []Effect{{Kind: EffectRetryNotice}}
	}

	logger.Info(ctx, "fsm", "rate.update",
		slog.String("status", "ok"),
		slog.String("method", string(method)),
		slog.String("amount", rate.String()),
	)
	s.reset()
	return []Effect{{Kind: EffectAdminDone, Reason: fmt.Sprintf("rate %s = %s", method, rate)}}
}

func (m *Machine) handleManageAdmins(ctx context.Context, s *Session, ev Event) []Effect {
	if !m.store.Get().IsAdmin(ev.UserID) {
		s.reset()
		return nil
	}
	if ev.Kind != KindText {
		return []Effect{{Kind: EffectValidationNotice, Reason: "send: +<id> or -<id>"}}
	}
	payload := strings.TrimSpace(ev.Payload)
	if len(payload) < 2 || (payload[0] != '+' && payload[0] != '-') {
		return []Effect{{Kind: EffectValidationNotice, Reason: "send: +<id> or -<id>"}}
	}
	id, err := strconv.ParseInt(payload[1:], 10, 64)
	if err != nil || id == 0 {
		return []Effect{{Kind: EffectValidationNotice, Reason: "admin id must be an integer"}}
	}

	add := payload[0] == '+'
	if err := m.store.Update(func(cfg *settings.Settings) error {
		if add {
			if !cfg.IsAdmin(id) {
				cfg.AdminIDs = append(cfg.AdminIDs, id)
			}
			return nil
		}
		// Removing oneself is allowed and takes effect immediately.
		kept := cfg.AdminIDs[:0]
		for _, a := range cfg.AdminIDs {
			if a != id {
				kept = append(kept, a)
			}
		}
		cfg.AdminIDs = kept
		return nil
	}); err != nil {
		logger.Error(ctx, "fsm", "admins.update",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return []Effect{{Kind: EffectRetryNotice}}
	}

	verb := "removed"
	if add {
		verb = "added"
	}
	logger.Info(ctx, "fsm", "admins.update",
		slog.String("status", "ok"),
		slog.Int64("user_id", id),
		slog.String("payload", verb),
	)
	s.reset()
	return []Effect{{Kind: EffectAdminDone, Reason: fmt.Sprintf("admin %d %s", id, verb)}}
}

func (m *Machine) orderListEffects(ctx context.Context, userID int64) []Effect {
	orders, err := m.ledger.ListByPayer(ctx, userID)
	if err != nil {
		return []Effect{{Kind: EffectRetryNotice}}
	}
	return []Effect{{Kind: EffectOrderList, Orders: orders}}
}

func (m *Machine) paymentLink(plan domain.Plan, token string) string {
	q := url.Values{}
	q.Set("cmd", "_xclick")
	if m.provider.Business != "" {
		q.Set("business", m.provider.Business)
	}
	q.Set("item_name", plan.Label)
	q.Set("amount", plan.Price.StringFixed(2))
	q.Set("currency_code", "USD")
	q.Set("custom", token)
	return m.provider.LinkBaseURL + "?" + q.Encode()
}

func catalogEffect(page int) Effect {
	catalog := domain.Catalog()
	pages := (len(catalog) + CatalogPageSize - 1) / CatalogPageSize
	if pages == 0 {
		pages = 1
	}
	if page > pages {
		page = pages
	}
	start := (page - 1) * CatalogPageSize
	end := start + CatalogPageSize
	if end > len(catalog) {
		end = len(catalog)
	}
	return Effect{
		Kind:    EffectShowCatalog,
		Catalog: catalog[start:end],
		Page:    page,
		Pages:   pages,
	}
}

func splitPayload(raw string) (string, string) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "/"))
	if i := strings.IndexAny(raw, ": "); i >= 0 {
		return strings.ToLower(raw[:i]), strings.TrimSpace(raw[i+1:])
	}
	return strings.ToLower(raw), ""
}
