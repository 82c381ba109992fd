// Package billing holds the money math for orders. Everything here is pure:
// no I/O, no clock, identical inputs give identical outputs.
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/tablepos/internal/domain"
)

var ErrInvalidInput = fmt.Errorf("%w: invalid billing input", domain.ErrValidation)

var hundred = decimal.NewFromInt(100)

// Line is one priced row of a bill.
type Line struct {
	Price    decimal.Decimal
	Quantity int
}

// LinesFromItems adapts order items to calculator lines.
func LinesFromItems(items []domain.OrderItem) []Line {
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, Line{Price: item.Price, Quantity: item.Quantity})
	}
	return lines
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func itemTotal(lines []Line) (decimal.Decimal, error) {
	total := decimal.Zero
	for i, line := range lines {
		if line.Price.IsNegative() || line.Quantity < 0 {
			return decimal.Zero, fmt.Errorf("%w: line %d has negative price or quantity", ErrInvalidInput, i)
		}
		total = total.Add(line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total, nil
}

// discountAmount resolves d against total. The result never exceeds total,
// so a taxable amount derived from it is never negative.
func discountAmount(d domain.Discount, total decimal.Decimal) (decimal.Decimal, error) {
	if d.IsZero() {
		return decimal.Zero, nil
	}
	if d.Value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: discount value must not be negative", ErrInvalidInput)
	}

	var amount decimal.Decimal
	switch d.Type {
	case domain.DiscountTypeFlat:
		amount = round2(d.Value)
	case domain.DiscountTypePercent:
		amount = round2(total.Mul(d.Value).Div(hundred))
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown discount type %q", ErrInvalidInput, d.Type)
	}
	return decimal.Min(amount, total), nil
}

// Calculate produces the authoritative bill for lines.
//
// Each tax line is rounded to 2 places, the lines are summed and the sum is
// rounded once more. The grand total is rounded to the nearest whole currency
// unit (half away from zero) and RoundOff carries the delta, positive when
// the total was rounded up.
func Calculate(lines []Line, discount domain.Discount, rates []domain.TaxRate) (domain.BillingDetails, error) {
	total, err := itemTotal(lines)
	if err != nil {
		return domain.BillingDetails{}, err
	}
	disc, err := discountAmount(discount, total)
	if err != nil {
		return domain.BillingDetails{}, err
	}
	taxable := total.Sub(disc)

	details := domain.BillingDetails{
		ItemTotal:      total,
		DiscountAmount: disc,
		DiscountType:   discount.Type,
		DiscountValue:  discount.Value,
		TaxDetails:     make([]domain.TaxDetail, 0, len(rates)),
		TaxableAmount:  taxable,
	}

	totalTax := decimal.Zero
	for _, rate := range rates {
		if rate.Rate.IsNegative() {
			return domain.BillingDetails{}, fmt.Errorf("%w: tax rate %q is negative", ErrInvalidInput, rate.Name)
		}
		amount := round2(taxable.Mul(rate.Rate).Div(hundred))
		details.TaxDetails = append(details.TaxDetails, domain.TaxDetail{Name: rate.Name, Rate: rate.Rate, Amount: amount})
		totalTax = totalTax.Add(amount)
	}
	details.TotalTax = round2(totalTax)

	raw := taxable.Add(details.TotalTax)
	details.GrandTotal = raw.Round(0)
	details.RoundOff = details.GrandTotal.Sub(raw)
	return details, nil
}

// Estimate is the provisional money summary stored on a freshly created
// order.
type Estimate struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Tip      decimal.Decimal
	Total    decimal.Decimal
}

// EstimateTotal is the quick creation-time figure: a single rate applied to
// the undiscounted subtotal and no whole-unit rounding. The bill frozen at
// payment time supersedes it.
func EstimateTotal(lines []Line, discount domain.Discount, tip, rate decimal.Decimal) (Estimate, error) {
	subtotal, err := itemTotal(lines)
	if err != nil {
		return Estimate{}, err
	}
	disc, err := discountAmount(discount, subtotal)
	if err != nil {
		return Estimate{}, err
	}
	if tip.IsNegative() || rate.IsNegative() {
		return Estimate{}, fmt.Errorf("%w: tip and tax rate must not be negative", ErrInvalidInput)
	}
	tax := round2(subtotal.Mul(rate).Div(hundred))
	return Estimate{
		Subtotal: subtotal,
		Tax:      tax,
		Discount: disc,
		Tip:      tip,
		Total:    subtotal.Add(tax).Sub(disc).Add(tip),
	}, nil
}
