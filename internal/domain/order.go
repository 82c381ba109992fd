package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeDineIn   OrderType = "dine_in"
	OrderTypeTakeaway OrderType = "takeaway"
	OrderTypeDelivery OrderType = "delivery"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeDineIn, OrderTypeTakeaway, OrderTypeDelivery:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusServed    OrderStatus = "served"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// KitchenStatuses are the order statuses shown on the kitchen queue.
var KitchenStatuses = []OrderStatus{OrderStatusPending, OrderStatusPreparing, OrderStatusReady}

// orderStatusRank is the position of each non-cancelled status in the
// lifecycle; strict transitions may only move forward along it.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:   0,
	OrderStatusConfirmed: 1,
	OrderStatusPreparing: 2,
	OrderStatusReady:     3,
	OrderStatusServed:    4,
	OrderStatusCompleted: 5,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderStatusRank[s]
	return ok || s == OrderStatusCancelled
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransition reports whether the strict lifecycle graph allows moving
// from one status to another.
func CanTransition(from, to OrderStatus) bool {
	if from.Terminal() || !to.Valid() {
		return false
	}
	if to == OrderStatusCancelled {
		return true
	}
	return orderStatusRank[to] > orderStatusRank[from]
}

type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusPreparing ItemStatus = "preparing"
	ItemStatusReady     ItemStatus = "ready"
	ItemStatusServed    ItemStatus = "served"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusPending, ItemStatusPreparing, ItemStatusReady, ItemStatusServed:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusUnpaid        PaymentStatus = "unpaid"
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	PaymentStatusPaid          PaymentStatus = "paid"
	PaymentStatusRefunded      PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusUnpaid, PaymentStatusPartiallyPaid, PaymentStatusPaid, PaymentStatusRefunded:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodUPI    PaymentMethod = "upi"
	PaymentMethodWallet PaymentMethod = "wallet"
	PaymentMethodSplit  PaymentMethod = "split"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodUPI, PaymentMethodWallet, PaymentMethodSplit:
		return true
	}
	return false
}

// Tender reports whether m can be used for a single transaction. Split is
// only ever derived from the ledger.
func (m PaymentMethod) Tender() bool {
	return m.Valid() && m != PaymentMethodSplit
}

type TransactionStatus string

// Payments arrive pre-authorised by the terminal, so success is the only
// status the ledger records today.
const TransactionStatusSuccess TransactionStatus = "success"

// PaymentTolerance absorbs whole-unit rounding when deciding whether an
// order is fully paid.
var PaymentTolerance = decimal.New(5, -1)

type StatusEntry struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type Customer struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	GSTIN string `json:"gstin,omitempty"`
}

type Transaction struct {
	Amount        decimal.Decimal   `json:"amount"`
	PaymentMethod PaymentMethod     `json:"paymentMethod"`
	TransactionID string            `json:"transactionId,omitempty"`
	Status        TransactionStatus `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	Note          string            `json:"note,omitempty"`
}

type OrderItem struct {
	ID                  string          `json:"id"`
	MenuItemID          string          `json:"menuItemId"`
	Name                string          `json:"name"`
	Price               decimal.Decimal `json:"price"`
	Quantity            int             `json:"quantity"`
	Variant             string          `json:"variant,omitempty"`
	SpecialInstructions string          `json:"specialInstructions,omitempty"`
	Status              ItemStatus      `json:"status"`
	StatusHistory       []StatusEntry   `json:"statusHistory"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"orderNumber"`
	OrderType      OrderType       `json:"orderType"`
	TableNumber    *int            `json:"tableNumber,omitempty"`
	Status         OrderStatus     `json:"status"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus"`
	PaymentMethod  PaymentMethod   `json:"paymentMethod,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	Discount       decimal.Decimal `json:"discount"`
	Tip            decimal.Decimal `json:"tip"`
	Total          decimal.Decimal `json:"total"`
	BillingDetails *BillingDetails `json:"billingDetails,omitempty"`
	Items          []OrderItem     `json:"items"`
	StatusHistory  []StatusEntry   `json:"statusHistory"`
	Transactions   []Transaction   `json:"transactions"`
	Customer       *Customer       `json:"customer,omitempty"`
	CreatedBy      string          `json:"createdBy,omitempty"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// nextTimestamp keeps history timestamps non-decreasing even when the
// wall clock steps backwards.
func nextTimestamp(history []StatusEntry, at time.Time) time.Time {
	if n := len(history); n > 0 && at.Before(history[n-1].Timestamp) {
		return history[n-1].Timestamp
	}
	return at
}

// SetStatus moves the order to status to and appends one history entry.
// Unless strict is set any status may follow any other. Setting the current
// status again reports changed=false and records nothing.
func (o *Order) SetStatus(to OrderStatus, at time.Time, strict bool) (bool, error) {
	if !to.Valid() {
		return false, fmt.Errorf("%w: unknown order status %q", ErrValidation, to)
	}
	if to == o.Status {
		return false, nil
	}
	if strict && !CanTransition(o.Status, to) {
		return false, fmt.Errorf("%w: cannot move order from %s to %s", ErrValidation, o.Status, to)
	}
	o.appendStatus(to, at)
	return true, nil
}

func (o *Order) appendStatus(to OrderStatus, at time.Time) {
	at = nextTimestamp(o.StatusHistory, at)
	o.Status = to
	o.StatusHistory = append(o.StatusHistory, StatusEntry{Status: string(to), Timestamp: at})
	o.UpdatedAt = at
}

func (o *Order) Item(id string) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// SetItemStatus updates one line item. Item status is tracked independently
// of the order status; nothing ties the two together.
func (o *Order) SetItemStatus(itemID string, to ItemStatus, at time.Time) (*OrderItem, bool, error) {
	if !to.Valid() {
		return nil, false, fmt.Errorf("%w: unknown item status %q", ErrValidation, to)
	}
	item, ok := o.Item(itemID)
	if !ok {
		return nil, false, fmt.Errorf("%w: item %s on order %s", ErrNotFound, itemID, o.ID)
	}
	if item.Status == to {
		return item, false, nil
	}
	at = nextTimestamp(item.StatusHistory, at)
	item.Status = to
	item.StatusHistory = append(item.StatusHistory, StatusEntry{Status: string(to), Timestamp: at})
	o.UpdatedAt = at
	return item, true, nil
}

// PaidAmount sums the successful transactions in the ledger.
func (o *Order) PaidAmount() decimal.Decimal {
	paid := decimal.Zero
	for _, t := range o.Transactions {
		if t.Status == TransactionStatusSuccess {
			paid = paid.Add(t.Amount)
		}
	}
	return paid
}

// FreezeBilling stores the billing snapshot unless one already exists. The
// first snapshot stays authoritative for receipts.
func (o *Order) FreezeBilling(details BillingDetails) {
	if o.BillingDetails != nil {
		return
	}
	o.BillingDetails = &details
}

func (o *Order) reconcileMethod(m PaymentMethod) {
	switch {
	case o.PaymentMethod == "":
		o.PaymentMethod = m
	case o.PaymentMethod != m:
		o.PaymentMethod = PaymentMethodSplit
	}
}

// RecordPayment appends a successful transaction and settles payment status.
// The billing snapshot must already be frozen; its grand total is the amount
// due. Amounts carry at most 2 decimal places and ledger timestamps never
// decrease. Once the ledger covers the grand total (within PaymentTolerance) the
// order is paid and completed.
func (o *Order) RecordPayment(txn Transaction) error {
	if o.BillingDetails == nil {
		return fmt.Errorf("%w: order %s has no billing snapshot", ErrValidation, o.ID)
	}
	if o.Status == OrderStatusCancelled {
		return fmt.Errorf("%w: order %s is cancelled", ErrValidation, o.ID)
	}
	if !txn.Amount.IsPositive() {
		return fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	}
	// The ledger column holds 2 decimal places.
	if !txn.Amount.Equal(txn.Amount.Round(2)) {
		return fmt.Errorf("%w: payment amount %s has more than 2 decimal places", ErrValidation, txn.Amount)
	}
	if !txn.PaymentMethod.Tender() {
		return fmt.Errorf("%w: unsupported payment method %q", ErrValidation, txn.PaymentMethod)
	}

	grandTotal := o.BillingDetails.GrandTotal
	totalPaid := o.PaidAmount().Add(txn.Amount)
	if totalPaid.GreaterThan(grandTotal.Add(PaymentTolerance)) {
		return fmt.Errorf("%w: payment of %s exceeds outstanding balance %s",
			ErrValidation, txn.Amount.StringFixed(2), grandTotal.Sub(o.PaidAmount()).StringFixed(2))
	}

	txn.Status = TransactionStatusSuccess
	txn.Timestamp = nextTimestamp(o.StatusHistory, txn.Timestamp)
	if n := len(o.Transactions); n > 0 && txn.Timestamp.Before(o.Transactions[n-1].Timestamp) {
		txn.Timestamp = o.Transactions[n-1].Timestamp
	}
	o.Transactions = append(o.Transactions, txn)
	o.reconcileMethod(txn.PaymentMethod)

	o.Subtotal = o.BillingDetails.ItemTotal
	o.Discount = o.BillingDetails.DiscountAmount
	o.Tax = o.BillingDetails.TotalTax
	o.Total = grandTotal
	o.UpdatedAt = txn.Timestamp

	if totalPaid.GreaterThanOrEqual(grandTotal.Sub(PaymentTolerance)) {
		o.PaymentStatus = PaymentStatusPaid
		if o.Status != OrderStatusCompleted {
			o.appendStatus(OrderStatusCompleted, txn.Timestamp)
		}
		return nil
	}
	o.PaymentStatus = PaymentStatusPartiallyPaid
	return nil
}

// SetPayment is the single-shot payment path: it overwrites payment status
// and method without touching the ledger. A paid order is completed.
func (o *Order) SetPayment(status PaymentStatus, method PaymentMethod, at time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown payment status %q", ErrValidation, status)
	}
	if method != "" && !method.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrValidation, method)
	}
	if status == PaymentStatusPaid && o.Status == OrderStatusCancelled {
		return fmt.Errorf("%w: order %s is cancelled", ErrValidation, o.ID)
	}
	o.PaymentStatus = status
	if method != "" {
		o.PaymentMethod = method
	}
	o.UpdatedAt = at
	if status == PaymentStatusPaid && o.Status != OrderStatusCompleted {
		o.appendStatus(OrderStatusCompleted, at)
	}
	return nil
}
