// Package ledger implements the line-item list behind the invoice and
// quotation forms: add/remove/update operations, derived totals, and
// the pre-submit validity gate.
//
// All money math uses shopspring/decimal so the derived totals are
// exact; the dashboard compares them against backend-computed values.
package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tbraz/crm-dashboard-bff-go/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// NewItem returns the default row appended by the form's "add" button.
func NewItem() domain.LineItem {
	return domain.LineItem{
		Description: "",
		Quantity:    decimal.NewFromInt(1),
		Rate:        decimal.Zero,
	}
}

// AddItem appends a default row and returns the new slice.
func AddItem(items []domain.LineItem) []domain.LineItem {
	return append(items, NewItem())
}

// RemoveItem removes the row at index. Out-of-range indexes are a
// no-op: the UI may fire a remove for a row that was already gone.
func RemoveItem(items []domain.LineItem, index int) []domain.LineItem {
	if index < 0 || index >= len(items) {
		return items
	}
	return append(items[:index], items[index+1:]...)
}

// UpdateItem mutates one field of the row at index from raw text
// input. Quantity and rate are coerced: anything that doesn't parse as
// a number becomes 0. The engine never throws on user typing and never
// stores a non-number.
func UpdateItem(items []domain.LineItem, index int, field, value string) ([]domain.LineItem, error) {
	if index < 0 || index >= len(items) {
		return items, &domain.ErrValidation{Field: "index", Message: "line item index out of range"}
	}

	switch field {
	case "description":
		items[index].Description = value
	case "quantity":
		items[index].Quantity = coerceNumber(value)
	case "rate":
		items[index].Rate = coerceNumber(value)
	default:
		return items, &domain.ErrValidation{Field: "field", Message: "unknown line item field: " + field}
	}
	return items, nil
}

// coerceNumber parses raw form input; invalid or empty input is 0.
func coerceNumber(value string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ComputeTotals derives the money summary from items and charges.
// Pure: no side effects, recomputed on every read.
//
//	subtotal   = Σ(qty × rate)
//	discounted = subtotal × (1 − discountPct/100)
//	total      = discounted × (1 + taxPct/100)
//
// Negative percentages are accepted; the caller constrains them.
func ComputeTotals(items []domain.LineItem, discountPct, taxPct decimal.Decimal) domain.Totals {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Quantity.Mul(it.Rate))
	}

	discounted := subtotal.Mul(decimal.NewFromInt(1).Sub(discountPct.Div(hundred)))
	total := discounted.Mul(decimal.NewFromInt(1).Add(taxPct.Div(hundred)))

	return domain.Totals{
		Subtotal:        subtotal,
		DiscountedTotal: discounted,
		Total:           total,
	}
}

// ItemsValid reports whether every row is submittable: non-blank
// trimmed description, quantity > 0, rate > 0.
func ItemsValid(items []domain.LineItem) bool {
	for _, it := range items {
		if strings.TrimSpace(it.Description) == "" {
			return false
		}
		if !it.Quantity.IsPositive() {
			return false
		}
		if !it.Rate.IsPositive() {
			return false
		}
	}
	return true
}

// Validate runs the pre-submit gate over the whole form state. The
// required combination comes from the caller; the ledger doesn't fix
// it. The report lists every problem so the UI can show them all.
func Validate(sel domain.Selection, dates domain.DocumentDates, items []domain.LineItem, req domain.SubmitRequirements) domain.ValidationReport {
	var problems []string

	if req.RequireClient && sel.ClientID == "" {
		problems = append(problems, "a client must be selected")
	}
	if req.RequireDates && !dates.Set() {
		problems = append(problems, "issue and due/expiry dates must be set")
	}
	if req.RequireTarget && sel.ProjectID == "" && sel.AppointmentID == "" {
		problems = append(problems, "a project or appointment must be selected")
	}
	if req.RequireItems {
		if len(items) == 0 {
			problems = append(problems, "at least one line item is required")
		} else if !ItemsValid(items) {
			problems = append(problems, "every line item needs a description, a positive quantity and a positive rate")
		}
	}

	return domain.ValidationReport{Valid: len(problems) == 0, Problems: problems}
}
