package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/tablepos/internal/billing"
	"github.com/joao-fontenele/tablepos/internal/domain"
)

var (
	tracer = otel.Tracer("orders/service")
	meter  = otel.Meter("orders/service")

	ordersCreated, _ = meter.Int64Counter("pos.orders.created",
		metric.WithDescription("Orders created"))
	paymentsRecorded, _ = meter.Int64Counter("pos.payments.recorded",
		metric.WithDescription("Payments appended to an order ledger"))
	conflictRetries, _ = meter.Int64Counter("pos.orders.conflict_retries",
		metric.WithDescription("Order writes retried after a concurrent modification"))
)

// Store persists orders. Save must fail with domain.ErrConflict when the
// stored version no longer matches expectedVersion.
type Store interface {
	Create(ctx context.Context, order *domain.Order, day time.Time) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Order, error)
	ListKitchen(ctx context.Context) ([]domain.Order, error)
	Save(ctx context.Context, order *domain.Order, expectedVersion int) error
}

// Catalog is the read-only menu and tax configuration.
type Catalog interface {
	MenuItems(ctx context.Context, ids []string) (map[string]domain.MenuItem, error)
	TaxRates(ctx context.Context) ([]domain.TaxRate, error)
}

// Restaurant is printed on receipts.
type Restaurant struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	GSTIN   string `json:"gstin,omitempty"`
	Footer  string `json:"footer,omitempty"`
}

type ServiceConfig struct {
	// DefaultTaxRate is the percentage used for the creation-time estimate
	// and as the bill's only rate when no rates are configured.
	DefaultTaxRate    decimal.Decimal
	StrictTransitions bool
	// Location decides which calendar day an order number belongs to.
	Location   *time.Location
	Restaurant Restaurant
}

type ServiceOption func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

type Service struct {
	store   Store
	catalog Catalog
	cfg     ServiceConfig
	now     func() time.Time
	logger  *slog.Logger
}

func NewService(store Store, catalog Catalog, cfg ServiceConfig, logger *slog.Logger, opts ...ServiceOption) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Service{
		store:   store,
		catalog: catalog,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}

type CreateItemInput struct {
	MenuItemID          string
	Quantity            int
	Variant             string
	SpecialInstructions string
}

type CreateOrderInput struct {
	OrderType   domain.OrderType
	TableNumber *int
	Items       []CreateItemInput
	Customer    *domain.Customer
	Discount    domain.Discount
	Tip         decimal.Decimal
	CreatedBy   string
}

func (in CreateOrderInput) validate() error {
	if !in.OrderType.Valid() {
		return validation("unknown order type %q", in.OrderType)
	}
	if in.OrderType == domain.OrderTypeDineIn && in.TableNumber == nil {
		return validation("dine-in orders need a table number")
	}
	if in.TableNumber != nil && *in.TableNumber <= 0 {
		return validation("table number must be positive")
	}
	if len(in.Items) == 0 {
		return validation("order has no items")
	}
	for i, item := range in.Items {
		if item.MenuItemID == "" {
			return validation("item %d has no menu item id", i)
		}
		if item.Quantity < 1 {
			return validation("item %d quantity must be at least 1", i)
		}
	}
	return nil
}

// CreateOrder validates the request, snapshots name and price from the
// catalog, computes the provisional totals and persists the order.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, []domain.Event, error) {
	ctx, span := tracer.Start(ctx, "OrderService.CreateOrder",
		trace.WithAttributes(attribute.String("order.type", string(in.OrderType))))
	defer span.End()

	if err := in.validate(); err != nil {
		return nil, nil, fail(span, err)
	}

	ids := make([]string, 0, len(in.Items))
	for _, item := range in.Items {
		ids = append(ids, item.MenuItemID)
	}
	menu, err := s.catalog.MenuItems(ctx, ids)
	if err != nil {
		return nil, nil, fail(span, err)
	}

	items := make([]domain.OrderItem, 0, len(in.Items))
	for _, item := range in.Items {
		menuItem, ok := menu[item.MenuItemID]
		if !ok {
			return nil, nil, fail(span, validation("unknown menu item %q", item.MenuItemID))
		}
		if !menuItem.Available {
			return nil, nil, fail(span, validation("menu item %q is not available", menuItem.Name))
		}
		items = append(items, domain.OrderItem{
			MenuItemID:          menuItem.ID,
			Name:                menuItem.Name,
			Price:               menuItem.Price,
			Quantity:            item.Quantity,
			Variant:             item.Variant,
			SpecialInstructions: item.SpecialInstructions,
			Status:              domain.ItemStatusPending,
			StatusHistory:       []domain.StatusEntry{},
		})
	}

	estimate, err := billing.EstimateTotal(billing.LinesFromItems(items), in.Discount, in.Tip, s.cfg.DefaultTaxRate)
	if err != nil {
		return nil, nil, fail(span, err)
	}

	now := s.now()
	order := &domain.Order{
		OrderType:     in.OrderType,
		TableNumber:   in.TableNumber,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Subtotal:      estimate.Subtotal,
		Tax:           estimate.Tax,
		Discount:      estimate.Discount,
		Tip:           estimate.Tip,
		Total:         estimate.Total,
		Items:         items,
		StatusHistory: []domain.StatusEntry{},
		Transactions:  []domain.Transaction{},
		Customer:      in.Customer,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}

	day := now.In(s.cfg.Location)
	err = s.store.Create(ctx, order, day)
	if errors.Is(err, domain.ErrConflict) {
		conflictRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "create")))
		s.logger.Warn("order number conflict, retrying", "error", err)
		err = s.store.Create(ctx, order, day)
	}
	if err != nil {
		return nil, nil, fail(span, err)
	}

	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.number", order.OrderNumber))
	ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("order.type", string(order.OrderType))))
	return order, domain.OrderCreatedEvents(*order), nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.GetOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}
	return order, nil
}

// ListOrders filters by status and by calendar day (YYYY-MM-DD in the
// restaurant's time zone). Empty arguments mean no filter.
func (s *Service) ListOrders(ctx context.Context, status, date string) ([]domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()

	var filter ListFilter
	if status != "" {
		filter.Status = domain.OrderStatus(status)
		if !filter.Status.Valid() {
			return nil, fail(span, validation("unknown order status %q", status))
		}
	}
	if date != "" {
		day, err := time.ParseInLocation("2006-01-02", date, s.cfg.Location)
		if err != nil {
			return nil, fail(span, validation("date must be YYYY-MM-DD"))
		}
		filter.From = day
		filter.To = day.AddDate(0, 0, 1)
	}

	orders, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fail(span, err)
	}
	return orders, nil
}

// KitchenOrders is the pull endpoint displays use to resync after a
// reconnect.
func (s *Service) KitchenOrders(ctx context.Context) ([]domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.KitchenOrders")
	defer span.End()

	orders, err := s.store.ListKitchen(ctx)
	if err != nil {
		return nil, fail(span, err)
	}
	return orders, nil
}

// mutate loads the order, applies fn and saves it under the loaded version.
// A concurrent write is retried once against a fresh copy.
func (s *Service) mutate(ctx context.Context, op, id string, fn func(*domain.Order) (bool, error)) (*domain.Order, bool, error) {
	for attempt := 0; ; attempt++ {
		order, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}

		changed, err := fn(order)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return order, false, nil
		}

		err = s.store.Save(ctx, order, order.Version)
		if err == nil {
			return order, true, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt > 0 {
			return nil, false, err
		}
		conflictRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
		s.logger.Warn("concurrent order update, retrying", "order_id", id, "operation", op)
	}
}

func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, []domain.Event, error) {
	ctx, span := tracer.Start(ctx, "OrderService.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", id), attribute.String("order.status", string(status))))
	defer span.End()

	order, changed, err := s.mutate(ctx, "update_status", id, func(o *domain.Order) (bool, error) {
		return o.SetStatus(status, s.now().UTC(), s.cfg.StrictTransitions)
	})
	if err != nil {
		return nil, nil, fail(span, err)
	}
	if !changed {
		return order, nil, nil
	}
	return order, domain.OrderUpdatedEvents(*order), nil
}

func (s *Service) UpdateItemStatus(ctx context.Context, orderID, itemID string, status domain.ItemStatus) (*domain.Order, []domain.Event, error) {
	ctx, span := tracer.Start(ctx, "OrderService.UpdateItemStatus", trace.WithAttributes(
		attribute.String("order.id", orderID), attribute.String("item.id", itemID)))
	defer span.End()

	order, changed, err := s.mutate(ctx, "update_item_status", orderID, func(o *domain.Order) (bool, error) {
		_, changed, err := o.SetItemStatus(itemID, status, s.now().UTC())
		return changed, err
	})
	if err != nil {
		return nil, nil, fail(span, err)
	}
	if !changed {
		return order, nil, nil
	}
	return order, domain.ItemStatusEvents(*order), nil
}

// UpdatePayment is the single-shot payment path: payment status and method
// are overwritten and the transaction ledger is left alone.
func (s *Service) UpdatePayment(ctx context.Context, id string, status domain.PaymentStatus, method domain.PaymentMethod) (*domain.Order, []domain.Event, error) {
	ctx, span := tracer.Start(ctx, "OrderService.UpdatePayment", trace.WithAttributes(
		attribute.String("order.id", id), attribute.String("payment.status", string(status))))
	defer span.End()

	order, _, err := s.mutate(ctx, "update_payment", id, func(o *domain.Order) (bool, error) {
		return true, o.SetPayment(status, method, s.now().UTC())
	})
	if err != nil {
		return nil, nil, fail(span, err)
	}
	return order, domain.OrderUpdatedEvents(*order), nil
}

// billingRates picks the rates a bill is taxed with: the ones flagged as
// default, all of them when none is flagged, or the configured default rate
// when the table is empty.
func (s *Service) billingRates(ctx context.Context) ([]domain.TaxRate, error) {
	rates, err := s.catalog.TaxRates(ctx)
	if err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		return []domain.TaxRate{{Name: "Tax", Rate: s.cfg.DefaultTaxRate, IsDefault: true}}, nil
	}

	var defaults []domain.TaxRate
	for _, rate := range rates {
		if rate.IsDefault {
			defaults = append(defaults, rate)
		}
	}
	if len(defaults) == 0 {
		return rates, nil
	}
	return defaults, nil
}

// CalculateBill previews the bill for an order. Nothing is persisted, and
// repeated calls with the same inputs return the same figures.
func (s *Service) CalculateBill(ctx context.Context, orderID string, discount domain.Discount) (domain.BillingDetails, error) {
	ctx, span := tracer.Start(ctx, "OrderService.CalculateBill", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return domain.BillingDetails{}, fail(span, err)
	}
	rates, err := s.billingRates(ctx)
	if err != nil {
		return domain.BillingDetails{}, fail(span, err)
	}

	details, err := billing.Calculate(billing.LinesFromItems(order.Items), discount, rates)
	if err != nil {
		return domain.BillingDetails{}, fail(span, err)
	}
	return details, nil
}

type PaymentInput struct {
	OrderID       string
	Amount        decimal.Decimal
	PaymentMethod domain.PaymentMethod
	TransactionID string
	Note          string
	// Discount is applied when this payment freezes the bill. Later
	// payments reuse the frozen bill and ignore it.
	Discount domain.Discount
	Customer *domain.Customer
}

// ProcessPayment appends a transaction to the order's ledger. The first
// payment freezes the bill computed by the calculator; the order becomes
// paid and completed once the ledger covers the grand total.
func (s *Service) ProcessPayment(ctx context.Context, in PaymentInput) (*domain.Order, []domain.Event, error) {
	ctx, span := tracer.Start(ctx, "OrderService.ProcessPayment", trace.WithAttributes(
		attribute.String("order.id", in.OrderID), attribute.String("payment.method", string(in.PaymentMethod))))
	defer span.End()

	order, _, err := s.mutate(ctx, "process_payment", in.OrderID, func(o *domain.Order) (bool, error) {
		if o.BillingDetails == nil {
			rates, err := s.billingRates(ctx)
			if err != nil {
				return false, err
			}
			details, err := billing.Calculate(billing.LinesFromItems(o.Items), in.Discount, rates)
			if err != nil {
				return false, err
			}
			o.FreezeBilling(details)
		}
		if in.Customer != nil {
			o.Customer = in.Customer
		}
		return true, o.RecordPayment(domain.Transaction{
			Amount:        in.Amount,
			PaymentMethod: in.PaymentMethod,
			TransactionID: in.TransactionID,
			Note:          in.Note,
			Timestamp:     s.now().UTC(),
		})
	})
	if err != nil {
		return nil, nil, fail(span, err)
	}

	paymentsRecorded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment.method", string(in.PaymentMethod)),
		attribute.String("payment.status", string(order.PaymentStatus)),
	))
	return order, domain.PaymentEvents(*order), nil
}

type Invoice struct {
	Order      *domain.Order `json:"order"`
	Restaurant Restaurant    `json:"restaurant"`
}

func (s *Service) Invoice(ctx context.Context, orderID string) (*Invoice, error) {
	ctx, span := tracer.Start(ctx, "OrderService.Invoice", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, fail(span, err)
	}
	return &Invoice{Order: order, Restaurant: s.cfg.Restaurant}, nil
}
