package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/tablepos/internal/domain"
)

// Repository reads the menu and tax configuration. Both are owned by other
// parts of the restaurant system; nothing here writes to them.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListMenu(ctx context.Context) ([]domain.MenuItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, available
		FROM menu_items
		ORDER BY category, name
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: list menu: %v", domain.ErrDependency, err)
	}
	defer func() { _ = rows.Close() }()

	items := []domain.MenuItem{}
	for rows.Next() {
		var item domain.MenuItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &item.Available); err != nil {
			return nil, fmt.Errorf("%w: scan menu item: %v", domain.ErrDependency, err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list menu: %v", domain.ErrDependency, err)
	}

	return items, nil
}

// MenuItems loads the given ids in one round trip. Ids that do not exist are
// simply absent from the result.
func (r *Repository) MenuItems(ctx context.Context, ids []string) (map[string]domain.MenuItem, error) {
	items := make(map[string]domain.MenuItem, len(ids))
	if len(ids) == 0 {
		return items, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, available
		FROM menu_items
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("%w: load menu items: %v", domain.ErrDependency, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.MenuItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &item.Available); err != nil {
			return nil, fmt.Errorf("%w: scan menu item: %v", domain.ErrDependency, err)
		}
		items[item.ID] = item
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load menu items: %v", domain.ErrDependency, err)
	}

	return items, nil
}

// TaxRates returns the configured rates in display order.
func (r *Repository) TaxRates(ctx context.Context) ([]domain.TaxRate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, rate, is_default
		FROM tax_rates
		ORDER BY sort_order, id
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: list tax rates: %v", domain.ErrDependency, err)
	}
	defer func() { _ = rows.Close() }()

	rates := []domain.TaxRate{}
	for rows.Next() {
		var rate domain.TaxRate
		if err := rows.Scan(&rate.Name, &rate.Rate, &rate.IsDefault); err != nil {
			return nil, fmt.Errorf("%w: scan tax rate: %v", domain.ErrDependency, err)
		}
		rates = append(rates, rate)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list tax rates: %v", domain.ErrDependency, err)
	}

	return rates, nil
}
