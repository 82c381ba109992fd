package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/tablepos/internal/domain"
)

const (
	uniqueViolation        = "23505"
	orderNumberConstraint  = "orders_order_number_key"
	maxOrderNumberAttempts = 3
)

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	Status domain.OrderStatus
	From   time.Time
	To     time.Time
}

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func dependency(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrDependency, op, err)
}

func isOrderNumberClash(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == orderNumberConstraint
}

// Create assigns ids and the next order number for day, then inserts the
// order and its items in one transaction. A clash on the order number (only
// possible when rows were written outside the counter) is retried with a
// fresh number.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order, day time.Time) error {
	order.ID = uuid.New().String()
	for i := range order.Items {
		order.Items[i].ID = uuid.New().String()
	}
	order.Version = 1

	var err error
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		err = r.create(ctx, order, day)
		if err == nil || !isOrderNumberClash(err) {
			break
		}
	}
	if isOrderNumberClash(err) {
		return fmt.Errorf("%w: could not allocate order number: %v", domain.ErrConflict, err)
	}
	if err != nil {
		return dependency("create order", err)
	}
	return nil
}

func (r *OrderRepository) create(ctx context.Context, order *domain.Order, day time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := nextSequence(ctx, tx, day)
	if err != nil {
		return err
	}
	order.OrderNumber = domain.FormatOrderNumber(day, seq)

	customer, err := marshalNullable(order.Customer)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, order_type, table_number, status, payment_status, payment_method,
			subtotal, tax, discount, tip, total, customer, created_by, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`, order.ID, order.OrderNumber, order.OrderType, nullableInt(order.TableNumber), order.Status,
		order.PaymentStatus, order.PaymentMethod, order.Subtotal, order.Tax, order.Discount, order.Tip,
		order.Total, customer, order.CreatedBy, order.Version, order.CreatedAt)
	if err != nil {
		return err
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, menu_item_id, name, price, quantity,
				variant, special_instructions, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, item.ID, order.ID, i, item.MenuItemID, item.Name, item.Price, item.Quantity,
			item.Variant, item.SpecialInstructions, item.Status)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// nextSequence bumps the per-day counter. The row lock taken by the upsert
// serialises concurrent creators; the first insert of a day is seeded from
// the highest suffix already on file so a lost counter row cannot reissue
// numbers.
func nextSequence(ctx context.Context, tx *sql.Tx, day time.Time) (int, error) {
	var seq int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO order_sequences (day, last_value)
		VALUES ($1::date, (
			SELECT COALESCE(MAX(CAST(substring(order_number FROM '^ORD-[0-9]{8}-([0-9]+)$') AS INT)), 0) + 1
			FROM orders
			WHERE order_number LIKE $2
		))
		ON CONFLICT (day) DO UPDATE
		SET last_value = GREATEST(order_sequences.last_value + 1, EXCLUDED.last_value)
		RETURNING last_value
	`, day.Format("2006-01-02"), domain.OrderNumberDayPrefix(day)+"%").Scan(&seq)
	return seq, err
}

const selectOrders = `
	SELECT id, order_number, order_type, table_number, status, payment_status, payment_method,
		subtotal, tax, discount, tip, total, billing_details, customer, created_by, version,
		created_at, updated_at
	FROM orders
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order          domain.Order
		tableNumber    sql.NullInt64
		billingDetails []byte
		customer       []byte
	)
	err := row.Scan(&order.ID, &order.OrderNumber, &order.OrderType, &tableNumber, &order.Status,
		&order.PaymentStatus, &order.PaymentMethod, &order.Subtotal, &order.Tax, &order.Discount,
		&order.Tip, &order.Total, &billingDetails, &customer, &order.CreatedBy, &order.Version,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if tableNumber.Valid {
		n := int(tableNumber.Int64)
		order.TableNumber = &n
	}
	if billingDetails != nil {
		order.BillingDetails = &domain.BillingDetails{}
		if err := json.Unmarshal(billingDetails, order.BillingDetails); err != nil {
			return nil, fmt.Errorf("decode billing details: %w", err)
		}
	}
	if customer != nil {
		order.Customer = &domain.Customer{}
		if err := json.Unmarshal(customer, order.Customer); err != nil {
			return nil, fmt.Errorf("decode customer: %w", err)
		}
	}
	order.Items = []domain.OrderItem{}
	order.StatusHistory = []domain.StatusEntry{}
	order.Transactions = []domain.Transaction{}
	return &order, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}

	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrders+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
		}
		return nil, dependency("get order", err)
	}

	if err := r.attach(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// List returns matching orders most recent first.
func (r *OrderRepository) List(ctx context.Context, filter ListFilter) ([]domain.Order, error) {
	query := selectOrders + ` WHERE ($1 = '' OR status = $1)
		AND ($2::timestamptz IS NULL OR created_at >= $2)
		AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC, order_number DESC`
	return r.query(ctx, "list orders", query, string(filter.Status), nullableTime(filter.From), nullableTime(filter.To))
}

// ListKitchen returns the active kitchen queue oldest first.
func (r *OrderRepository) ListKitchen(ctx context.Context) ([]domain.Order, error) {
	statuses := make([]string, 0, len(domain.KitchenStatuses))
	for _, s := range domain.KitchenStatuses {
		statuses = append(statuses, string(s))
	}
	query := selectOrders + ` WHERE status = ANY($1) ORDER BY created_at ASC, order_number ASC`
	return r.query(ctx, "list kitchen orders", query, pq.Array(statuses))
}

func (r *OrderRepository) query(ctx context.Context, op, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dependency(op, err)
	}
	defer func() { _ = rows.Close() }()

	var list []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, dependency(op, err)
		}
		list = append(list, order)
	}
	if err := rows.Err(); err != nil {
		return nil, dependency(op, err)
	}

	if err := r.attach(ctx, list); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(list))
	for _, o := range list {
		orders = append(orders, *o)
	}
	return orders, nil
}

// attach loads items, histories and transactions for a batch of orders with
// one query per child table.
func (r *OrderRepository) attach(ctx context.Context, list []*domain.Order) error {
	if len(list) == 0 {
		return nil
	}

	byID := make(map[string]*domain.Order, len(list))
	ids := make([]string, 0, len(list))
	for _, o := range list {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, menu_item_id, name, price, quantity, variant, special_instructions, status
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(ids))
	if err != nil {
		return dependency("load order items", err)
	}
	itemOwner := make(map[string]string)
	for rows.Next() {
		var orderID string
		item := domain.OrderItem{StatusHistory: []domain.StatusEntry{}}
		if err := rows.Scan(&item.ID, &orderID, &item.MenuItemID, &item.Name, &item.Price, &item.Quantity,
			&item.Variant, &item.SpecialInstructions, &item.Status); err != nil {
			_ = rows.Close()
			return dependency("scan order item", err)
		}
		order := byID[orderID]
		order.Items = append(order.Items, item)
		itemOwner[item.ID] = orderID
	}
	if err := closeRows(rows); err != nil {
		return dependency("load order items", err)
	}

	rows, err = r.db.QueryContext(ctx, `
		SELECT order_id, status, created_at
		FROM order_status_history
		WHERE order_id = ANY($1)
		ORDER BY order_id, seq
	`, pq.Array(ids))
	if err != nil {
		return dependency("load status history", err)
	}
	for rows.Next() {
		var orderID string
		var entry domain.StatusEntry
		if err := rows.Scan(&orderID, &entry.Status, &entry.Timestamp); err != nil {
			_ = rows.Close()
			return dependency("scan status history", err)
		}
		order := byID[orderID]
		order.StatusHistory = append(order.StatusHistory, entry)
	}
	if err := closeRows(rows); err != nil {
		return dependency("load status history", err)
	}

	rows, err = r.db.QueryContext(ctx, `
		SELECT h.item_id, h.status, h.created_at
		FROM order_item_status_history h
		JOIN order_items i ON i.id = h.item_id
		WHERE i.order_id = ANY($1)
		ORDER BY h.item_id, h.seq
	`, pq.Array(ids))
	if err != nil {
		return dependency("load item history", err)
	}
	for rows.Next() {
		var itemID string
		var entry domain.StatusEntry
		if err := rows.Scan(&itemID, &entry.Status, &entry.Timestamp); err != nil {
			_ = rows.Close()
			return dependency("scan item history", err)
		}
		if item, ok := byID[itemOwner[itemID]].Item(itemID); ok {
			item.StatusHistory = append(item.StatusHistory, entry)
		}
	}
	if err := closeRows(rows); err != nil {
		return dependency("load item history", err)
	}

	rows, err = r.db.QueryContext(ctx, `
		SELECT order_id, amount, payment_method, transaction_id, status, note, created_at
		FROM order_transactions
		WHERE order_id = ANY($1)
		ORDER BY order_id, seq
	`, pq.Array(ids))
	if err != nil {
		return dependency("load transactions", err)
	}
	for rows.Next() {
		var orderID string
		var txn domain.Transaction
		if err := rows.Scan(&orderID, &txn.Amount, &txn.PaymentMethod, &txn.TransactionID, &txn.Status,
			&txn.Note, &txn.Timestamp); err != nil {
			_ = rows.Close()
			return dependency("scan transaction", err)
		}
		order := byID[orderID]
		order.Transactions = append(order.Transactions, txn)
	}
	if err := closeRows(rows); err != nil {
		return dependency("load transactions", err)
	}

	return nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// Save writes a mutated order back if nobody else changed it since it was
// loaded at expectedVersion. History entries and transactions are
// append-only: rows already stored are left untouched. On success the
// order's Version is bumped.
func (r *OrderRepository) Save(ctx context.Context, order *domain.Order, expectedVersion int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dependency("begin save", err)
	}
	defer func() { _ = tx.Rollback() }()

	billingDetails, err := marshalNullable(order.BillingDetails)
	if err != nil {
		return dependency("encode billing details", err)
	}
	customer, err := marshalNullable(order.Customer)
	if err != nil {
		return dependency("encode customer", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $3, payment_status = $4, payment_method = $5, subtotal = $6, tax = $7, discount = $8,
			tip = $9, total = $10, billing_details = COALESCE(billing_details, $11), customer = $12,
			version = version + 1, updated_at = $13
		WHERE id = $1 AND version = $2
	`, order.ID, expectedVersion, order.Status, order.PaymentStatus, order.PaymentMethod, order.Subtotal,
		order.Tax, order.Discount, order.Tip, order.Total, billingDetails, customer, order.UpdatedAt)
	if err != nil {
		return dependency("update order", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dependency("update order", err)
	}
	if rowsAffected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return dependency("check order", err)
		}
		if !exists {
			return fmt.Errorf("%w: order %s", domain.ErrNotFound, order.ID)
		}
		return fmt.Errorf("%w: order %s was modified concurrently", domain.ErrConflict, order.ID)
	}

	for i, entry := range order.StatusHistory {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_status_history (order_id, seq, status, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (order_id, seq) DO NOTHING
		`, order.ID, i+1, entry.Status, entry.Timestamp)
		if err != nil {
			return dependency("append status history", err)
		}
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `UPDATE order_items SET status = $2 WHERE id = $1`, item.ID, item.Status)
		if err != nil {
			return dependency("update item status", err)
		}
		for i, entry := range item.StatusHistory {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_item_status_history (item_id, seq, status, created_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (item_id, seq) DO NOTHING
			`, item.ID, i+1, entry.Status, entry.Timestamp)
			if err != nil {
				return dependency("append item history", err)
			}
		}
	}

	for i, txn := range order.Transactions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_transactions (order_id, seq, amount, payment_method, transaction_id, status, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (order_id, seq) DO NOTHING
		`, order.ID, i+1, txn.Amount, txn.PaymentMethod, txn.TransactionID, txn.Status, txn.Note, txn.Timestamp)
		if err != nil {
			return dependency("append transaction", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dependency("commit save", err)
	}
	order.Version = expectedVersion + 1
	return nil
}

// marshalNullable encodes v for a JSONB column, mapping nil to SQL NULL.
func marshalNullable[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
