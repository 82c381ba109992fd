//go:build integration

package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/tablepos/internal/testutil"
)

func TestRepository(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	repo := NewRepository(testutil.Postgres(ctx, t))

	t.Run("lists the seeded menu", func(t *testing.T) {
		items, err := repo.ListMenu(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(items) != 4 {
			t.Errorf("expected 4 menu items, got %d", len(items))
		}
	})

	t.Run("looks up items by id", func(t *testing.T) {
		items, err := repo.MenuItems(ctx, []string{"paneer-tikka", "gulab-jamun", "pizza"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("expected 2 items, got %d", len(items))
		}
		if _, ok := items["pizza"]; ok {
			t.Error("expected unknown id to be absent")
		}
		if items["gulab-jamun"].Available {
			t.Error("expected gulab-jamun to be unavailable")
		}
		if !items["paneer-tikka"].Price.Equal(decimal.NewFromInt(100)) {
			t.Errorf("unexpected price %s", items["paneer-tikka"].Price)
		}
	})

	t.Run("returns tax rates in order", func(t *testing.T) {
		rates, err := repo.TaxRates(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rates) != 2 || rates[0].Name != "CGST" || !rates[0].IsDefault {
			t.Errorf("unexpected rates %+v", rates)
		}
	})
}
