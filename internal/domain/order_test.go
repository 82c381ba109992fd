package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newTestOrder() *Order {
	return &Order{
		ID:            "order-1",
		OrderType:     OrderTypeTakeaway,
		Status:        OrderStatusPending,
		PaymentStatus: PaymentStatusUnpaid,
		Items: []OrderItem{
			{ID: "item-1", Name: "Paneer Tikka", Price: decimal.NewFromInt(100), Quantity: 2, Status: ItemStatusPending},
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func billed(o *Order, grandTotal int64) *Order {
	o.FreezeBilling(BillingDetails{
		ItemTotal:  decimal.NewFromInt(grandTotal),
		GrandTotal: decimal.NewFromInt(grandTotal),
	})
	return o
}

func TestOrder_SetStatus(t *testing.T) {
	t.Run("appends exactly one entry per transition", func(t *testing.T) {
		o := newTestOrder()
		sequence := []OrderStatus{OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady, OrderStatusServed, OrderStatusCompleted}

		for i, s := range sequence {
			changed, err := o.SetStatus(s, t0.Add(time.Duration(i)*time.Minute), false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !changed {
				t.Fatalf("expected transition to %s to change the order", s)
			}
		}

		if len(o.StatusHistory) != len(sequence) {
			t.Fatalf("expected %d history entries, got %d", len(sequence), len(o.StatusHistory))
		}
		if o.Status != OrderStatusCompleted {
			t.Errorf("expected completed, got %s", o.Status)
		}
	})

	t.Run("keeps timestamps non-decreasing when the clock goes backwards", func(t *testing.T) {
		o := newTestOrder()
		_, _ = o.SetStatus(OrderStatusConfirmed, t0.Add(time.Hour), false)
		_, _ = o.SetStatus(OrderStatusPreparing, t0, false)

		first, second := o.StatusHistory[0].Timestamp, o.StatusHistory[1].Timestamp
		if second.Before(first) {
			t.Errorf("expected non-decreasing timestamps, got %v then %v", first, second)
		}
	})

	t.Run("permissive mode allows jumps and reopening", func(t *testing.T) {
		o := newTestOrder()
		if _, err := o.SetStatus(OrderStatusReady, t0, false); err != nil {
			t.Fatalf("expected pending->ready to be allowed, got %v", err)
		}
		if _, err := o.SetStatus(OrderStatusCancelled, t0, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := o.SetStatus(OrderStatusPreparing, t0, false); err != nil {
			t.Fatalf("expected cancelled->preparing to be allowed in permissive mode, got %v", err)
		}
	})

	t.Run("strict mode rejects backwards and terminal moves", func(t *testing.T) {
		o := newTestOrder()
		if _, err := o.SetStatus(OrderStatusReady, t0, true); err != nil {
			t.Fatalf("expected forward skip to be allowed, got %v", err)
		}
		if _, err := o.SetStatus(OrderStatusConfirmed, t0, true); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error moving backwards, got %v", err)
		}
		if _, err := o.SetStatus(OrderStatusCancelled, t0, true); err != nil {
			t.Fatalf("expected cancel from ready, got %v", err)
		}
		if _, err := o.SetStatus(OrderStatusCompleted, t0, true); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error leaving cancelled, got %v", err)
		}
		if len(o.StatusHistory) != 2 {
			t.Errorf("expected rejected transitions to leave history alone, got %d entries", len(o.StatusHistory))
		}
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		o := newTestOrder()
		changed, err := o.SetStatus(OrderStatusPending, t0, false)
		if err != nil || changed {
			t.Fatalf("expected no-op, got changed=%v err=%v", changed, err)
		}
		if len(o.StatusHistory) != 0 {
			t.Errorf("expected empty history, got %d", len(o.StatusHistory))
		}
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		o := newTestOrder()
		if _, err := o.SetStatus("teleported", t0, false); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestOrder_SetItemStatus(t *testing.T) {
	o := newTestOrder()

	item, changed, err := o.SetItemStatus("item-1", ItemStatusPreparing, t0)
	if err != nil || !changed {
		t.Fatalf("expected change, got changed=%v err=%v", changed, err)
	}
	if item.Status != ItemStatusPreparing || len(item.StatusHistory) != 1 {
		t.Errorf("unexpected item state: %+v", item)
	}
	if o.Status != OrderStatusPending {
		t.Errorf("expected order status to stay independent of item status, got %s", o.Status)
	}

	if _, _, err := o.SetItemStatus("missing", ItemStatusReady, t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found for unknown item, got %v", err)
	}
	if _, _, err := o.SetItemStatus("item-1", "burnt", t0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for unknown item status, got %v", err)
	}
}

func TestOrder_RecordPayment(t *testing.T) {
	pay := func(amount string, method PaymentMethod) Transaction {
		return Transaction{Amount: decimal.RequireFromString(amount), PaymentMethod: method, Timestamp: t0}
	}

	t.Run("payment within tolerance completes the order", func(t *testing.T) {
		o := billed(newTestOrder(), 100)

		if err := o.RecordPayment(pay("99.6", PaymentMethodCash)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if o.PaymentStatus != PaymentStatusPaid {
			t.Errorf("expected paid, got %s", o.PaymentStatus)
		}
		if o.Status != OrderStatusCompleted {
			t.Errorf("expected completed, got %s", o.Status)
		}
		if len(o.StatusHistory) != 1 {
			t.Errorf("expected one history entry for completion, got %d", len(o.StatusHistory))
		}
		if !o.Total.Equal(decimal.NewFromInt(100)) {
			t.Errorf("expected total to equal grand total, got %s", o.Total)
		}
	})

	t.Run("payment outside tolerance is partial", func(t *testing.T) {
		o := billed(newTestOrder(), 100)

		if err := o.RecordPayment(pay("99.4", PaymentMethodCash)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if o.PaymentStatus != PaymentStatusPartiallyPaid {
			t.Errorf("expected partially_paid, got %s", o.PaymentStatus)
		}
		if o.Status != OrderStatusPending {
			t.Errorf("expected status untouched, got %s", o.Status)
		}
	})

	t.Run("second distinct method makes the order split", func(t *testing.T) {
		o := billed(newTestOrder(), 100)

		if err := o.RecordPayment(pay("40", PaymentMethodCash)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if o.PaymentMethod != PaymentMethodCash {
			t.Fatalf("expected cash after first payment, got %s", o.PaymentMethod)
		}
		if err := o.RecordPayment(pay("60", PaymentMethodCard)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if o.PaymentMethod != PaymentMethodSplit {
			t.Errorf("expected split, got %s", o.PaymentMethod)
		}
		if len(o.Transactions) != 2 {
			t.Errorf("expected 2 transactions, got %d", len(o.Transactions))
		}
		if !o.PaidAmount().Equal(decimal.NewFromInt(100)) {
			t.Errorf("expected 100 paid, got %s", o.PaidAmount())
		}
	})

	t.Run("same method twice stays single", func(t *testing.T) {
		o := billed(newTestOrder(), 100)
		_ = o.RecordPayment(pay("50", PaymentMethodUPI))
		_ = o.RecordPayment(pay("50", PaymentMethodUPI))
		if o.PaymentMethod != PaymentMethodUPI {
			t.Errorf("expected upi, got %s", o.PaymentMethod)
		}
	})

	t.Run("rejects overpayment beyond tolerance", func(t *testing.T) {
		o := billed(newTestOrder(), 100)

		err := o.RecordPayment(pay("100.6", PaymentMethodCash))
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if len(o.Transactions) != 0 {
			t.Errorf("expected ledger untouched, got %d transactions", len(o.Transactions))
		}
	})

	t.Run("rejects bad input", func(t *testing.T) {
		o := billed(newTestOrder(), 100)
		if err := o.RecordPayment(pay("0", PaymentMethodCash)); !errors.Is(err, ErrValidation) {
			t.Errorf("expected validation error for zero amount, got %v", err)
		}
		if err := o.RecordPayment(pay("10", PaymentMethodSplit)); !errors.Is(err, ErrValidation) {
			t.Errorf("expected validation error for split tender, got %v", err)
		}

		unbilled := newTestOrder()
		if err := unbilled.RecordPayment(pay("10", PaymentMethodCash)); !errors.Is(err, ErrValidation) {
			t.Errorf("expected validation error without snapshot, got %v", err)
		}

		cancelled := billed(newTestOrder(), 100)
		cancelled.Status = OrderStatusCancelled
		if err := cancelled.RecordPayment(pay("10", PaymentMethodCash)); !errors.Is(err, ErrValidation) {
			t.Errorf("expected validation error for cancelled order, got %v", err)
		}
	})

	t.Run("rejects amounts finer than 2 decimal places", func(t *testing.T) {
		for _, amount := range []string{"0.001", "99.499"} {
			o := billed(newTestOrder(), 100)
			if err := o.RecordPayment(pay(amount, PaymentMethodCash)); !errors.Is(err, ErrValidation) {
				t.Errorf("amount %s: expected validation error, got %v", amount, err)
			}
			if len(o.Transactions) != 0 || o.PaymentStatus != PaymentStatusUnpaid {
				t.Errorf("amount %s: expected order untouched, got %d transactions, %s", amount, len(o.Transactions), o.PaymentStatus)
			}
		}
	})

	t.Run("accepts trailing zeros", func(t *testing.T) {
		o := billed(newTestOrder(), 100)
		if err := o.RecordPayment(pay("40.000", PaymentMethodCash)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if o.PaymentStatus != PaymentStatusPartiallyPaid {
			t.Errorf("expected partially_paid, got %s", o.PaymentStatus)
		}
	})

	t.Run("ledger timestamps never go backwards", func(t *testing.T) {
		o := billed(newTestOrder(), 100)
		later := t0.Add(10 * time.Minute)

		first := pay("40", PaymentMethodCash)
		first.Timestamp = later
		if err := o.RecordPayment(first); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := o.RecordPayment(pay("20", PaymentMethodCash)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := o.Transactions[1].Timestamp; got.Before(later) {
			t.Errorf("expected second transaction at or after %v, got %v", later, got)
		}
	})
}

func TestOrder_FreezeBilling(t *testing.T) {
	o := billed(newTestOrder(), 100)
	o.FreezeBilling(BillingDetails{GrandTotal: decimal.NewFromInt(999)})

	if !o.BillingDetails.GrandTotal.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected first snapshot to win, got %s", o.BillingDetails.GrandTotal)
	}
}

func TestOrder_SetPayment(t *testing.T) {
	o := newTestOrder()
	if err := o.SetPayment(PaymentStatusPaid, PaymentMethodCard, t0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != OrderStatusCompleted || o.PaymentMethod != PaymentMethodCard {
		t.Errorf("unexpected order state: status=%s method=%s", o.Status, o.PaymentMethod)
	}

	if err := newTestOrder().SetPayment("maybe", PaymentMethodCard, t0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestOrderNumber(t *testing.T) {
	if got := FormatOrderNumber(t0, 7); got != "ORD-20261015-0007" {
		t.Errorf("unexpected order number %s", got)
	}
	if got := FormatOrderNumber(t0, 12345); got != "ORD-20261015-12345" {
		t.Errorf("expected sequences past 9999 to widen, got %s", got)
	}
	if !strings.HasPrefix(FormatOrderNumber(t0, 1), OrderNumberDayPrefix(t0)) {
		t.Error("expected every number to carry its day prefix")
	}
}

func TestErrorKind(t *testing.T) {
	tests := map[error]string{
		ErrValidation:           KindValidation,
		ErrNotFound:             KindNotFound,
		ErrConflict:             KindConflict,
		ErrDependency:           KindDependency,
		errors.New("whatever"):  KindDependency,
	}
	for err, want := range tests {
		if got := ErrorKind(err); got != want {
			t.Errorf("ErrorKind(%v) = %s, want %s", err, got, want)
		}
	}
}
