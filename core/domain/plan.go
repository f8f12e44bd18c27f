package domain

import "github.com/shopspring/decimal"

// Plan is one entry of the subscription catalog.
type Plan struct {
	Label string          `json:"label"`
	Code  string          `json:"code"`
	Price decimal.Decimal `json:"price"`
}

// plans is the fixed subscription catalog, prices in USD.
var plans = []Plan{
	{Label: "1 mes – 11 USD", Code: "1m", Price: decimal.NewFromInt(11)},
	{Label: "3 meses – 15 USD", Code: "3m", Price: decimal.NewFromInt(15)},
	{Label: "1 año – 27 USD", Code: "12m", Price: decimal.NewFromInt(27)},
}

// Catalog returns the plan catalog in display order.
func Catalog() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

// PlanByCode resolves a catalog entry by its short code.
func PlanByCode(code string) (Plan, bool) {
	for _, p := range plans {
		if p.Code == code {
			return p, true
		}
	}
	return Plan{}, false
}

// PlanByLabel resolves a catalog entry by its display label. Provider
// callbacks carry the label, not the code.
func PlanByLabel(label string) (Plan, bool) {
	for _, p := range plans {
		if p.Label == label {
			return p, true
		}
	}
	return Plan{}, false
}
