package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod enumerates the supported ways to pay for a plan.
type PaymentMethod string

const (
	// MethodProvider pays through the external payment gateway; confirmation
	// arrives asynchronously via the IPN endpoint.
	MethodProvider PaymentMethod = "provider"
	// MethodWireTransferA is a direct USD transfer (Zelle-style).
	MethodWireTransferA PaymentMethod = "wire_a"
	// MethodWireTransferB is a card transfer in the local currency, converted
	// with the stored rate.
	MethodWireTransferB PaymentMethod = "wire_b"
	// MethodCashBalance is a mobile balance top-up, converted with the stored rate.
	MethodCashBalance PaymentMethod = "balance"
)

// ParseMethod maps a raw selection payload to a PaymentMethod.
func ParseMethod(raw string) (PaymentMethod, bool) {
	switch PaymentMethod(raw) {
	case MethodProvider, MethodWireTransferA, MethodWireTransferB, MethodCashBalance:
		return PaymentMethod(raw), true
	}
	return "", false
}

// ManualProof reports whether the method requires the buyer to upload a
// payment proof instead of waiting for a gateway confirmation.
func (m PaymentMethod) ManualProof() bool {
	return m != MethodProvider
}

// OrderStatus describes the lifecycle stage of a ledger record.
type OrderStatus string

const (
	// StatusProofSubmitted marks an order whose buyer uploaded a manual payment proof.
	StatusProofSubmitted OrderStatus = "proof_submitted"
	// StatusProviderConfirmed marks an order confirmed by the payment gateway.
	StatusProviderConfirmed OrderStatus = "provider_confirmed"
	// StatusCancelled marks an abandoned order kept for audit purposes.
	StatusCancelled OrderStatus = "cancelled"
)

// Payer identifies who paid for an order.
type Payer struct {
	UserID      int64  `json:"user_id" db:"payer_id"`
	Handle      string `json:"handle,omitempty" db:"payer_handle"`
	ExternalRef string `json:"external_ref,omitempty" db:"payer_external_ref"`
}

// Order is one purchase attempt's durable trace in the ledger.
// Records are immutable once appended; reconciliation either appends a new
// record or settles the matching open one through the ledger's atomic contract.
type Order struct {
	CorrelationID string          `json:"correlation_id" db:"correlation_id"`
	TxnID         string          `json:"txn_id,omitempty" db:"txn_id"`
	Plan          string          `json:"plan" db:"plan"`
	PlanLabel     string          `json:"plan_label,omitempty" db:"plan_label"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Method        PaymentMethod   `json:"method" db:"method"`
	Payer         Payer           `json:"payer" db:"payer"`
	Status        OrderStatus     `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Validate enforces the ledger record invariants.
func (o Order) Validate() error {
	if o.Plan == "" {
		return ErrEmptyPlan
	}
	if o.Price.IsNegative() {
		return ErrNegativePrice
	}
	if o.CorrelationID == "" {
		return ErrEmptyCorrelation
	}
	switch o.Status {
	case StatusProofSubmitted, StatusProviderConfirmed, StatusCancelled:
	default:
		return ErrUnknownStatus
	}
	return nil
}
