package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/tablepos/internal/domain"
	"github.com/joao-fontenele/tablepos/internal/mw"
)

// EventDispatcher delivers domain events after the response-producing work
// has committed. Implementations must not fail the request.
type EventDispatcher interface {
	Dispatch(ctx context.Context, events []domain.Event)
}

type Handler struct {
	service *Service
	events  EventDispatcher
	logger  *slog.Logger
}

func NewHandler(service *Service, events EventDispatcher, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		events:  events,
		logger:  logger,
	}
}

// RegisterRoutes mounts the order and billing endpoints on mux. wrap is
// applied to every handler; pass nil for none.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	if wrap == nil {
		wrap = func(f http.HandlerFunc) http.HandlerFunc { return f }
	}
	mux.HandleFunc("POST /orders", wrap(h.HandleCreate))
	mux.HandleFunc("GET /orders", wrap(h.HandleList))
	mux.HandleFunc("GET /orders/kitchen", wrap(h.HandleKitchen))
	mux.HandleFunc("GET /orders/{id}", wrap(h.HandleGet))
	mux.HandleFunc("PUT /orders/{id}/status", wrap(h.HandleUpdateStatus))
	mux.HandleFunc("PUT /orders/{id}/items/{itemId}/status", wrap(h.HandleUpdateItemStatus))
	mux.HandleFunc("PUT /orders/{id}/payment", wrap(h.HandleUpdatePayment))
	mux.HandleFunc("POST /billing/calculate", wrap(h.HandleCalculate))
	mux.HandleFunc("POST /billing/pay", wrap(h.HandlePay))
	mux.HandleFunc("GET /billing/{id}/invoice", wrap(h.HandleInvoice))
}

// dispatch is called once the response has been written.
func (h *Handler) dispatch(r *http.Request, events []domain.Event) {
	if h.events == nil || len(events) == 0 {
		return
	}
	h.events.Dispatch(context.WithoutCancel(r.Context()), events)
}

type createItemRequest struct {
	MenuItemID          string `json:"menuItemId"`
	Quantity            int    `json:"quantity"`
	Variant             string `json:"variant"`
	SpecialInstructions string `json:"specialInstructions"`
}

type createOrderRequest struct {
	OrderType   domain.OrderType    `json:"orderType"`
	TableNumber *int                `json:"tableNumber"`
	Items       []createItemRequest `json:"items"`
	Customer    *domain.Customer    `json:"customer"`
	Discount    *domain.Discount    `json:"discount"`
	Tip         decimal.Decimal     `json:"tip"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "invalid request body")
		return
	}

	in := CreateOrderInput{
		OrderType:   req.OrderType,
		TableNumber: req.TableNumber,
		Customer:    req.Customer,
		Tip:         req.Tip,
		CreatedBy:   mw.StaffID(r.Context()),
	}
	if req.Discount != nil {
		in.Discount = *req.Discount
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, CreateItemInput(item))
	}

	order, events, err := h.service.CreateOrder(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err, "failed to create order")
		return
	}

	h.logger.Info("order created", "order_id", order.ID, "order_number", order.OrderNumber, "items", len(order.Items))
	h.writeJSON(w, http.StatusCreated, order)
	h.dispatch(r, events)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "missing order id")
		return
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to get order", "order_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	orders, err := h.service.ListOrders(r.Context(), query.Get("status"), query.Get("date"))
	if err != nil {
		h.writeServiceError(w, err, "failed to list orders")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleKitchen(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.KitchenOrders(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "failed to list kitchen orders")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "invalid request body")
		return
	}

	order, events, err := h.service.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeServiceError(w, err, "failed to update order status", "order_id", id)
		return
	}

	h.logger.Info("order status updated", "order_id", order.ID, "status", order.Status)
	h.writeJSON(w, http.StatusOK, order)
	h.dispatch(r, events)
}

type updateItemStatusRequest struct {
	Status domain.ItemStatus `json:"status"`
}

func (h *Handler) HandleUpdateItemStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	itemID := r.PathValue("itemId")

	var req updateItemStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "invalid request body")
		return
	}

	order, events, err := h.service.UpdateItemStatus(r.Context(), id, itemID, req.Status)
	if err != nil {
		h.writeServiceError(w, err, "failed to update item status", "order_id", id, "item_id", itemID)
		return
	}

	h.logger.Info("item status updated", "order_id", order.ID, "item_id", itemID, "status", req.Status)
	h.writeJSON(w, http.StatusOK, order)
	h.dispatch(r, events)
}

type updatePaymentRequest struct {
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
}

func (h *Handler) HandleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "invalid request body")
		return
	}

	order, events, err := h.service.UpdatePayment(r.Context(), id, req.PaymentStatus, req.PaymentMethod)
	if err != nil {
		h.writeServiceError(w, err, "failed to update payment", "order_id", id)
		return
	}

	h.logger.Info("order payment updated", "order_id", order.ID, "payment_status", order.PaymentStatus)
	h.writeJSON(w, http.StatusOK, order)
	h.dispatch(r, events)
}

type calculateRequest struct {
	OrderID       string              `json:"orderId"`
	DiscountType  domain.DiscountType `json:"discountType"`
	DiscountValue decimal.Decimal     `json:"discountValue"`
}

func (h *Handler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "invalid request body")
		return
	}
	if req.OrderID == "" {
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "missing order id")
		return
	}

	discount := domain.Discount{Type: req.DiscountType, Value: req.DiscountValue}
	details, err := h.service.CalculateBill(r.Context(), req.OrderID, discount)
	if err != nil {
		h.writeServiceError(w, err, "failed to calculate bill", "order_id", req.OrderID)
		return
	}

	h.writeJSON(w, http.StatusOK, details)
}

// submittedBill is the client's copy of the bill. Only the discount is
// taken from it; every figure is recomputed server side.
type submittedBill struct {
	DiscountType  domain.DiscountType `json:"discountType"`
	DiscountValue decimal.Decimal     `json:"discountValue"`
}

type payRequest struct {
	OrderID        string               `json:"orderId"`
	PaymentMethod  domain.PaymentMethod `json:"paymentMethod"`
	Amount         decimal.Decimal      `json:"amount"`
	TransactionID  string               `json:"transactionId"`
	Note           string               `json:"note"`
	BillingDetails *submittedBill       `json:"billingDetails"`
	Customer       *domain.Customer     `json:"customer"`
}

func (h *Handler) HandlePay(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "invalid request body")
		return
	}
	if req.OrderID == "" {
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "missing order id")
		return
	}

	in := PaymentInput{
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		TransactionID: req.TransactionID,
		Note:          req.Note,
		Customer:      req.Customer,
	}
	if req.BillingDetails != nil {
		in.Discount = domain.Discount{Type: req.BillingDetails.DiscountType, Value: req.BillingDetails.DiscountValue}
	}

	order, events, err := h.service.ProcessPayment(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err, "failed to process payment", "order_id", req.OrderID)
		return
	}

	h.logger.Info("payment recorded",
		"order_id", order.ID,
		"amount", req.Amount.StringFixed(2),
		"payment_method", req.PaymentMethod,
		"payment_status", order.PaymentStatus,
	)
	h.writeJSON(w, http.StatusOK, order)
	h.dispatch(r, events)
}

func (h *Handler) HandleInvoice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	invoice, err := h.service.Invoice(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to build invoice", "order_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, invoice)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind, message string) {
	h.writeJSON(w, status, map[string]string{"error": message, "kind": kind})
}

// writeServiceError maps an error kind to its status code. Dependency
// failures are logged and hidden behind a generic message.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string, args ...any) {
	kind := domain.ErrorKind(err)
	switch kind {
	case domain.KindValidation:
		h.writeError(w, http.StatusBadRequest, kind, err.Error())
	case domain.KindNotFound:
		h.writeError(w, http.StatusNotFound, kind, err.Error())
	case domain.KindConflict:
		h.logger.Warn(msg, append([]any{"error", err}, args...)...)
		h.writeError(w, http.StatusConflict, kind, err.Error())
	default:
		h.logger.Error(msg, append([]any{"error", err}, args...)...)
		h.writeError(w, http.StatusInternalServerError, kind, "internal server error")
	}
}
