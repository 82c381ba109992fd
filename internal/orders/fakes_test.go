package orders

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/tablepos/internal/domain"
)

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	if o.TableNumber != nil {
		n := *o.TableNumber
		c.TableNumber = &n
	}
	c.Items = make([]domain.OrderItem, len(o.Items))
	for i, item := range o.Items {
		item.StatusHistory = append([]domain.StatusEntry{}, item.StatusHistory...)
		c.Items[i] = item
	}
	c.StatusHistory = append([]domain.StatusEntry{}, o.StatusHistory...)
	c.Transactions = append([]domain.Transaction{}, o.Transactions...)
	if o.BillingDetails != nil {
		b := *o.BillingDetails
		b.TaxDetails = append([]domain.TaxDetail{}, o.BillingDetails.TaxDetails...)
		c.BillingDetails = &b
	}
	if o.Customer != nil {
		customer := *o.Customer
		c.Customer = &customer
	}
	return &c
}

// memoryStore mimics the Postgres repository: per-day counters, version
// checks and copies on every read and write.
type memoryStore struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	counters map[string]int
	nextID   int

	// conflicts makes that many upcoming Save calls lose a race against a
	// simulated concurrent writer.
	conflicts int
	saves     int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:   make(map[string]*domain.Order),
		counters: make(map[string]int),
	}
}

func (s *memoryStore) Create(_ context.Context, order *domain.Order, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := day.Format("20060102")
	s.counters[key]++
	s.nextID++

	order.ID = fmt.Sprintf("order-%d", s.nextID)
	order.OrderNumber = domain.FormatOrderNumber(day, s.counters[key])
	order.Version = 1
	for i := range order.Items {
		order.Items[i].ID = fmt.Sprintf("%s-item-%d", order.ID, i+1)
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *memoryStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return cloneOrder(order), nil
}

func (s *memoryStore) List(_ context.Context, filter ListFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Order
	for _, o := range s.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && o.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !o.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *memoryStore) ListKitchen(_ context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Order
	for _, o := range s.orders {
		if slices.Contains(domain.KitchenStatuses, o.Status) {
			out = append(out, *cloneOrder(o))
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *memoryStore) Save(_ context.Context, order *domain.Order, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++
	stored, ok := s.orders[order.ID]
	if !ok {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, order.ID)
	}
	if s.conflicts > 0 {
		s.conflicts--
		stored.Version++
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: order %s was modified concurrently", domain.ErrConflict, order.ID)
	}

	order.Version = expectedVersion + 1
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

type memoryCatalog struct {
	mu    sync.Mutex
	menu  map[string]domain.MenuItem
	rates []domain.TaxRate
}

func newMemoryCatalog(rates ...domain.TaxRate) *memoryCatalog {
	return &memoryCatalog{
		menu: map[string]domain.MenuItem{
			"paneer-tikka": {ID: "paneer-tikka", Name: "Paneer Tikka", Price: decimal.NewFromInt(100), Available: true},
			"veg-biryani":  {ID: "veg-biryani", Name: "Veg Biryani", Price: decimal.NewFromInt(50), Available: true},
			"gulab-jamun":  {ID: "gulab-jamun", Name: "Gulab Jamun", Price: decimal.NewFromInt(60), Available: false},
		},
		rates: rates,
	}
}

func (c *memoryCatalog) MenuItems(_ context.Context, ids []string) (map[string]domain.MenuItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]domain.MenuItem)
	for _, id := range ids {
		if item, ok := c.menu[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (c *memoryCatalog) TaxRates(_ context.Context) ([]domain.TaxRate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.TaxRate{}, c.rates...), nil
}

func (c *memoryCatalog) setRates(rates ...domain.TaxRate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates = rates
}

// stepClock advances one second per reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (d *recordingDispatcher) Dispatch(_ context.Context, events []domain.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, events...)
}

func (d *recordingDispatcher) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Channel+"/"+e.Name)
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func gst(rate string) domain.TaxRate {
	return domain.TaxRate{Name: "GST", Rate: dec(rate), IsDefault: true}
}

var businessDay = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memoryStore
	catalog *memoryCatalog
	service *Service
}

func newFixture(cfg ServiceConfig, rates ...domain.TaxRate) *fixture {
	store := newMemoryStore()
	catalog := newMemoryCatalog(rates...)
	clock := &stepClock{now: businessDay}
	if cfg.DefaultTaxRate.IsZero() {
		cfg.DefaultTaxRate = dec("5")
	}
	return &fixture{
		store:   store,
		catalog: catalog,
		service: NewService(store, catalog, cfg, discardLogger(), WithClock(clock.Now)),
	}
}

func eventNames(events []domain.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Channel+"/"+e.Name)
	}
	return out
}
