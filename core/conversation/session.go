package conversation

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/shopbot/core/domain"
)

// Stage identifies a step of the purchase conversation.
type Stage string

const (
	// StageIdle indicates there is no active conversation with the user.
	StageIdle Stage = "idle"
	// StageBrowsingPlans means the catalog is on screen.
	StageBrowsingPlans Stage = "browsing_plans"
	// StageChoosingPayment means a plan is selected and a method is pending.
	StageChoosingPayment Stage = "choosing_payment"
	// StageAwaitingProof means the user owes a manual payment proof.
	StageAwaitingProof Stage = "awaiting_proof"
	// StageAdminMenu is the root of the privileged sub-tree.
	StageAdminMenu Stage = "admin_menu"
	// StageAdjustRate awaits a "<method> <rate>" pair.
	StageAdjustRate Stage = "adjust_rate"
	// StageManageAdmins awaits a "+id" / "-id" mutation.
	StageManageAdmins Stage = "manage_admins"
)

// Session stores one user's conversation progress. It is mutated only by the
// state machine acting on that user's own events.
type Session struct {
	UserID int64
	Stage  Stage

	PlanCode string
	Price    decimal.Decimal
	Method   domain.PaymentMethod
}

func (s *Session) reset() {
	s.Stage = StageIdle
	s.PlanCode = ""
	s.Price = decimal.Zero
	s.Method = ""
}

type sessionEntry struct {
	// mu serializes event handling for one user; different users' events
	// run in parallel.
	mu      sync.Mutex
	session Session
}

// Table holds per-user sessions keyed by user id. Entries are created on
// first interaction and reset in place on completion or restart.
type Table struct {
	mu      sync.RWMutex
	entries map[int64]*sessionEntry
}

// NewTable constructs an empty session table.
func NewTable() *Table {
	return &Table{entries: make(map[int64]*sessionEntry)}
}

func (t *Table) entry(userID int64) *sessionEntry {
	t.mu.RLock()
	e, ok := t.entries[userID]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[userID]; ok {
		return e
	}
	e = &sessionEntry{session: Session{UserID: userID, Stage: StageIdle}}
	t.entries[userID] = e
	return e
}

// WithSession runs fn with exclusive access to the user's session. Events
// for one user apply in arrival order; no two run concurrently.
func (t *Table) WithSession(userID int64, fn func(*Session)) {
	e := t.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.session)
}

// Stage returns the user's current stage, StageIdle when no session exists.
func (t *Table) Stage(userID int64) Stage {
	t.mu.RLock()
	e, ok := t.entries[userID]
	t.mu.RUnlock()
	if !ok {
		return StageIdle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Stage
}

// InProgress reports whether the user has an active conversation.
func (t *Table) InProgress(userID int64) bool {
	return t.Stage(userID) != StageIdle
}
