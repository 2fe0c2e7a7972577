package repo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dipstickit/mickyShop-api/internal/order/domain"
)

// MemoryStore is a map-backed OrderRepository used in tests. It reproduces
// the Postgres store's observable behavior: cascade delete, the settlement
// guard, case-sensitive filter matching and updated_date/id ordering.
type MemoryStore struct {
	mu sync.RWMutex

	nextOrderID int64
	nextItemID  int64

	orders   map[int64]domain.Order
	items    map[int64][]domain.OrderItem // keyed by order id
	users    map[int64]domain.User
	variants map[int64]domain.Variant
	idemKeys map[string]int64

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextOrderID: 1,
		nextItemID:  1,
		orders:      make(map[int64]domain.Order),
		items:       make(map[int64][]domain.OrderItem),
		users:       make(map[int64]domain.User),
		variants:    make(map[int64]domain.Variant),
		idemKeys:    make(map[string]int64),
		now:         time.Now,
	}
}

var _ OrderRepository = (*MemoryStore)(nil)

// SetClock overrides the timestamp source for deterministic tests.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryStore) SeedUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MemoryStore) SeedVariant(v domain.Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[v.ID] = v
}

func (m *MemoryStore) Create(ctx context.Context, o *domain.Order, idemKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, it := range o.Items {
		if _, ok := m.variants[it.VariantID]; !ok {
			return fmt.Errorf("%w: variant %d does not exist", ErrValidation, it.VariantID)
		}
	}
	if idemKey != "" {
		if _, ok := m.idemKeys[idemKey]; ok {
			return ErrDuplicateKey
		}
	}

	o.ID = m.nextOrderID
	m.nextOrderID++
	now := m.now()
	o.CreatedDate = now
	o.UpdatedDate = now
	o.IsPaid = false
	o.PaidDate = nil

	items := make([]domain.OrderItem, len(o.Items))
	for i := range o.Items {
		o.Items[i].ID = m.nextItemID
		m.nextItemID++
		o.Items[i].OrderID = o.ID
		items[i] = o.Items[i]
	}
	m.orders[o.ID] = cloneOrderShallow(*o)
	m.items[o.ID] = items
	if idemKey != "" {
		m.idemKeys[idemKey] = o.ID
	}
	return nil
}

func (m *MemoryStore) FindIDByIdempotencyKey(ctx context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.idemKeys[key]
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id int64, exp Expand) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneOrderShallow(o)
	m.expand(&cp, exp)
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	for _, it := range o.Items {
		if _, ok := m.variants[it.VariantID]; !ok {
			return fmt.Errorf("%w: variant %d does not exist", ErrValidation, it.VariantID)
		}
	}

	stored.FullName = o.FullName
	stored.Phone = o.Phone
	stored.Address = o.Address
	stored.TotalPrice = o.TotalPrice
	stored.PaymentMethod = o.PaymentMethod
	stored.UpdatedDate = m.now()

	items := make([]domain.OrderItem, len(o.Items))
	for i := range o.Items {
		o.Items[i].ID = m.nextItemID
		m.nextItemID++
		o.Items[i].OrderID = o.ID
		items[i] = o.Items[i]
	}
	m.orders[o.ID] = stored
	m.items[o.ID] = items
	return nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.OrderStatus = status
	o.UpdatedDate = m.now()
	m.orders[id] = o
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return ErrNotFound
	}
	delete(m.orders, id)
	delete(m.items, id) // cascade
	return nil
}

func (m *MemoryStore) List(ctx context.Context, q ListQuery) (*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []domain.Order
	for _, o := range m.orders {
		if m.matchesFilter(o, q.Filter) {
			matched = append(matched, cloneOrderShallow(o))
		}
	}
	sortOrders(matched)
	page := slicePage(matched, q.Page, q.Limit)
	for i := range page {
		m.expand(&page[i], ExpandListing)
	}
	return newPage(page, int64(len(matched)), q.Page, q.Limit), nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, q UserListQuery) (*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []domain.Order
	for _, o := range m.orders {
		if o.UserID != q.UserID {
			continue
		}
		if q.HasStatus && o.OrderStatus != q.Status {
			continue
		}
		matched = append(matched, cloneOrderShallow(o))
	}
	sortOrders(matched)
	page := slicePage(matched, q.Page, q.Limit)
	for i := range page {
		m.expand(&page[i], ExpandUserListing)
	}
	return newPage(page, int64(len(matched)), q.Page, q.Limit), nil
}

func (m *MemoryStore) Settle(ctx context.Context, id int64, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.IsPaid {
		return false, nil
	}
	paid := paidAt
	o.IsPaid = true
	o.PaidDate = &paid
	o.UpdatedDate = m.now()
	m.orders[id] = o
	return true, nil
}

func (m *MemoryStore) OwnerID(ctx context.Context, id int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return 0, ErrNotFound
	}
	return o.UserID, nil
}

func (m *MemoryStore) VariantExists(ctx context.Context, id int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.variants[id]
	return ok, nil
}

func (m *MemoryStore) TotalRevenue(ctx context.Context) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, o := range m.orders {
		if o.IsPaid {
			total = total.Add(o.TotalPrice)
		}
	}
	return total, nil
}

func (m *MemoryStore) SalesByMonth(ctx context.Context, year int) ([]MonthlySales, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct {
		method domain.PaymentMethod
		month  int
	}
	sums := map[key]decimal.Decimal{}
	for _, o := range m.orders {
		if !o.IsPaid || o.PaidDate == nil || o.PaidDate.Year() != year {
			continue
		}
		k := key{method: o.PaymentMethod, month: int(o.PaidDate.Month())}
		sums[k] = sums[k].Add(o.TotalPrice)
	}
	var out []MonthlySales
	for k, total := range sums {
		out = append(out, MonthlySales{Method: k.method, Month: k.month, Total: total})
	}
	return out, nil
}

func (m *MemoryStore) StatusOverview(ctx context.Context) ([]StatusCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := map[domain.OrderStatus]int64{}
	for _, o := range m.orders {
		counts[o.OrderStatus]++
	}
	var out []StatusCount
	for status, total := range counts {
		out = append(out, StatusCount{Status: status, Total: total})
	}
	return out, nil
}

func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.orders)), nil
}

// matchesFilter mirrors the store's LIKE clauses: case-sensitive substring
// over id text, snapshot full name, or owner username.
func (m *MemoryStore) matchesFilter(o domain.Order, filter string) bool {
	if filter == "" {
		return true
	}
	if strings.Contains(strconv.FormatInt(o.ID, 10), filter) {
		return true
	}
	if strings.Contains(o.FullName, filter) {
		return true
	}
	if u, ok := m.users[o.UserID]; ok && strings.Contains(u.Username, filter) {
		return true
	}
	return false
}

func (m *MemoryStore) expand(o *domain.Order, exp Expand) {
	if exp.User {
		if u, ok := m.users[o.UserID]; ok {
			cp := u
			o.User = &cp
		}
	}
	if !exp.Items {
		return
	}
	items := make([]domain.OrderItem, len(m.items[o.ID]))
	copy(items, m.items[o.ID])
	if exp.Variant {
		for i := range items {
			v, ok := m.variants[items[i].VariantID]
			if !ok {
				continue
			}
			cp := v
			if !exp.Product {
				cp.Product = nil
			} else if cp.Product != nil && !exp.Images {
				p := *cp.Product
				p.Images = nil
				cp.Product = &p
			}
			if !exp.AttributeValues {
				cp.AttributeValues = nil
			}
			items[i].Variant = &cp
		}
	}
	o.Items = items
}

func cloneOrderShallow(o domain.Order) domain.Order {
	cp := o
	cp.User = nil
	cp.Items = nil
	if o.PaidDate != nil {
		paid := *o.PaidDate
		cp.PaidDate = &paid
	}
	return cp
}

func sortOrders(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].UpdatedDate.Equal(orders[j].UpdatedDate) {
			return orders[i].UpdatedDate.After(orders[j].UpdatedDate)
		}
		return orders[i].ID > orders[j].ID
	})
}

func slicePage(orders []domain.Order, page, limit int) []domain.Order {
	start := (page - 1) * limit
	if start >= len(orders) || start < 0 {
		return []domain.Order{}
	}
	end := start + limit
	if end > len(orders) {
		end = len(orders)
	}
	return orders[start:end]
}
