package domain

import "github.com/shopspring/decimal"

type DiscountType string

const (
	DiscountTypeFlat    DiscountType = "flat"
	DiscountTypePercent DiscountType = "percent"
)

type Discount struct {
	Type  DiscountType    `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// IsZero reports a discount that was never specified.
func (d Discount) IsZero() bool {
	return d.Type == "" && d.Value.IsZero()
}

// TaxRate is restaurant configuration; Rate is a percentage.
type TaxRate struct {
	Name      string          `json:"name"`
	Rate      decimal.Decimal `json:"rate"`
	IsDefault bool            `json:"isDefault"`
}

type TaxDetail struct {
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// BillingDetails is the frozen bill written at the first payment.
type BillingDetails struct {
	ItemTotal      decimal.Decimal `json:"itemTotal"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	DiscountType   DiscountType    `json:"discountType,omitempty"`
	DiscountValue  decimal.Decimal `json:"discountValue"`
	TaxDetails     []TaxDetail     `json:"taxDetails"`
	TaxableAmount  decimal.Decimal `json:"taxableAmount"`
	TotalTax       decimal.Decimal `json:"totalTax"`
	RoundOff       decimal.Decimal `json:"roundOff"`
	GrandTotal     decimal.Decimal `json:"grandTotal"`
}

// MenuItem is the catalog view used to snapshot name and price into new
// order items.
type MenuItem struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
}
