package conversation

import (
	"github.com/shopspring/decimal"

	"github.com/m3rciful/shopbot/core/domain"
)

// EventKind classifies an inbound conversation event. The transport layer
// reduces every incoming message to one of these shapes; the machine never
// sees transport-specific structures.
type EventKind string

const (
	// KindText is a textual payload: a command, a menu selection, a value.
	KindText EventKind = "text"
	// KindEvidence flags that the user attached a photo or document. The
	// payload content stays opaque to the machine.
	KindEvidence EventKind = "evidence"
	// KindRestart is the unconditional escape hatch (/start).
	KindRestart EventKind = "restart"
	// KindCancel aborts the current purchase flow.
	KindCancel EventKind = "cancel"
)

// Event is one inbound conversation event.
type Event struct {
	UserID  int64
	Handle  string
	Kind    EventKind
	Payload string
}

// EffectKind names the intent of an outbound effect. The machine emits
// intent only; rendering markup is the transport's job.
type EffectKind string

const (
	// EffectWelcome greets the user and points at the catalog.
	EffectWelcome EffectKind = "welcome"
	// EffectShowCatalog renders one page of the plan catalog.
	EffectShowCatalog EffectKind = "show_catalog"
	// EffectShowMethods renders the payment method choice for a selected plan.
	EffectShowMethods EffectKind = "show_methods"
	// EffectShowInstructions renders payment instructions for plan and method.
	EffectShowInstructions EffectKind = "show_instructions"
	// EffectProofAccepted confirms a received payment proof.
	EffectProofAccepted EffectKind = "proof_accepted"
	// EffectValidationNotice re-prompts after unusable input.
	EffectValidationNotice EffectKind = "validation_notice"
	// EffectReminder nudges the user to send the expected proof.
	EffectReminder EffectKind = "reminder"
	// EffectCancelled confirms the flow was aborted.
	EffectCancelled EffectKind = "cancelled"
	// EffectRetryNotice reports a transient failure without details.
	EffectRetryNotice EffectKind = "retry_notice"
	// EffectAdminMenu renders the privileged menu.
	EffectAdminMenu EffectKind = "admin_menu"
	// EffectPromptRate asks for a "<method> <rate>" pair.
	EffectPromptRate EffectKind = "prompt_rate"
	// EffectPromptAdmins asks for a "+id" / "-id" mutation.
	EffectPromptAdmins EffectKind = "prompt_admins"
	// EffectAdminDone confirms a settings mutation.
	EffectAdminDone EffectKind = "admin_done"
	// EffectNotifyAdmin carries an admin notification; TargetUserID is set.
	EffectNotifyAdmin EffectKind = "notify_admin"
	// EffectOrderList renders a list of ledger records.
	EffectOrderList EffectKind = "order_list"
	// EffectTotals renders the confirmed revenue sum.
	EffectTotals EffectKind = "totals"
	// EffectHelp renders the command overview.
	EffectHelp EffectKind = "help"
)

// Instructions carries everything the transport needs to render a payment
// instructions message.
type Instructions struct {
	Plan          domain.Plan
	Method        domain.PaymentMethod
	Token         string
	Link          string
	Rate          decimal.Decimal
	Converted     decimal.Decimal
	Destination   string
	SupportHandle string
}

// Effect is one outbound intent produced by a transition.
type Effect struct {
	Kind EffectKind
	// TargetUserID routes the effect; zero means the acting user.
	TargetUserID int64

	Catalog      []domain.Plan
	Page         int
	Pages        int
	Plan         domain.Plan
	Instructions *Instructions
	Orders       []domain.Order
	Total        decimal.Decimal
	Reason       string
	ProofBy      string
}
