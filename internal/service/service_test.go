package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"storefront-service/internal/models"
)

// memStore is an in-memory stand-in for the Postgres store, covering the
// order, address, product, shipping, user and stock interfaces. All methods
// are safe for concurrent use so the lock-contention tests can hammer it.
type memStore struct {
	mu sync.Mutex

	nextID       int64
	orders       map[int64]*models.Order
	lines        map[int64]*models.OrderLine
	products     map[int64]*models.Product
	stock        map[string]int
	addresses    map[int64]*models.AddressDetails
	users        map[int64]*models.User
	shipping     map[int64]*models.ShippingOption
	checkoutKeys map[string]int64

	deleteLineErr error
}

func newMemStore() *memStore {
	return &memStore{
		orders:       make(map[int64]*models.Order),
		lines:        make(map[int64]*models.OrderLine),
		products:     make(map[int64]*models.Product),
		stock:        make(map[string]int),
		addresses:    make(map[int64]*models.AddressDetails),
		users:        make(map[int64]*models.User),
		shipping: map[int64]*models.ShippingOption{
			1: {ID: 1, Name: "standard", Cost: 200},
			2: {ID: 2, Name: "next_day", Cost: 350},
		},
		checkoutKeys: make(map[string]int64),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func stockKey(productID int64, variant string) string {
	return fmt.Sprintf("%d/%s", productID, variant)
}

func (m *memStore) addProduct(category, name string, price int64, available int) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &models.Product{ID: m.id(), Category: category, Name: name, Price: price}
	m.products[p.ID] = p
	for _, v := range models.VariantsFor(category) {
		m.stock[stockKey(p.ID, v)] = available
	}
	return p
}

func (m *memStore) addUser(email string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := &models.User{ID: m.id(), EmailAddress: email, UserRole: models.RoleCustomer}
	m.users[u.ID] = u
	return u
}

func (m *memStore) addAddress(userID int64, isDefault bool) *models.AddressDetails {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := &models.AddressDetails{
		ID: m.id(), UserID: userID,
		Line1: "1 Test Street", City: "London", Postcode: "N1 1AA",
		IsDefault: isDefault,
	}
	m.addresses[a.ID] = a
	return a
}

func (m *memStore) available(productID int64, variant string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[stockKey(productID, variant)]
}

// --- StockStore ---

func (m *memStore) GetStockLevel(ctx context.Context, productID int64, variant string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[stockKey(productID, variant)], nil
}

func (m *memStore) ReserveStock(ctx context.Context, productID int64, variant string, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := stockKey(productID, variant)
	if m.stock[key] < quantity {
		return false, nil
	}
	m.stock[key] -= quantity
	return true, nil
}

func (m *memStore) ReleaseStock(ctx context.Context, productID int64, variant string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[stockKey(productID, variant)] += quantity
	return nil
}

// --- ProductGetter ---

func (m *memStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// --- CatalogStore ---

func (m *memStore) GetProducts(ctx context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Product
	for _, p := range m.products {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memStore) GetProductsSorted(ctx context.Context, sortBy, category string) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Product
	for _, p := range m.products {
		if category == "" || p.Category == category {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		switch sortBy {
		case "price_asc":
			return out[i].Price < out[j].Price
		case "price_desc":
			return out[i].Price > out[j].Price
		case "name":
			return out[i].Name < out[j].Name
		default:
			return out[i].ID < out[j].ID
		}
	})
	return out, nil
}

func (m *memStore) CreateProduct(ctx context.Context, product *models.Product, stock map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	product.ID = m.id()
	cp := *product
	m.products[product.ID] = &cp
	for _, v := range models.VariantsFor(product.Category) {
		m.stock[stockKey(product.ID, v)] = stock[v]
	}
	return nil
}

func (m *memStore) DeleteProduct(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.products, id)
	for _, v := range []string{models.VariantSmall, models.VariantMedium, models.VariantLarge, models.VariantOneSize} {
		delete(m.stock, stockKey(id, v))
	}
	return nil
}

func (m *memStore) SetProductImage(ctx context.Context, id int64, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.ImagePath = &path
	return nil
}

func (m *memStore) GetStockLevels(ctx context.Context, productID int64) ([]models.StockLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return nil, nil
	}
	var out []models.StockLevel
	for _, v := range models.VariantsFor(p.Category) {
		out = append(out, models.StockLevel{
			ProductID: productID,
			Variant:   v,
			Available: m.stock[stockKey(productID, v)],
		})
	}
	return out, nil
}

// --- ShippingGetter ---

func (m *memStore) GetShippingOption(ctx context.Context, id int64) (*models.ShippingOption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.shipping[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetShippingOptions(ctx context.Context) ([]models.ShippingOption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ShippingOption
	for _, o := range m.shipping {
		out = append(out, *o)
	}
	return out, nil
}

// --- UserGetter ---

func (m *memStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// --- OrderStore ---

func (m *memStore) GetOpenOrderByUser(ctx context.Context, userID int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.orders {
		if o.UserID == userID && o.Status == models.OrderStatusOpen {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order.ID = m.id()
	order.Status = models.OrderStatusOpen
	if order.ShippingID == 0 {
		order.ShippingID = 1
	}
	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *memStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memStore) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.OrderLine
	for _, l := range m.lines {
		if l.OrderID == orderID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memStore) GetOrderLine(ctx context.Context, lineID int64) (*models.OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lines[lineID]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) FindOrderLine(ctx context.Context, orderID, productID int64, variant string) (*models.OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.lines {
		if l.OrderID == orderID && l.ProductID == productID && l.Variant == variant {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateOrderLine(ctx context.Context, line *models.OrderLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	line.ID = m.id()
	cp := *line
	m.lines[line.ID] = &cp
	return nil
}

func (m *memStore) UpdateLineQuantity(ctx context.Context, lineID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lines[lineID]
	if !ok {
		return fmt.Errorf("line %d not found", lineID)
	}
	l.Quantity = quantity
	return nil
}

func (m *memStore) DeleteOrderLine(ctx context.Context, lineID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteLineErr != nil {
		return m.deleteLineErr
	}
	delete(m.lines, lineID)
	return nil
}

func (m *memStore) RecomputeOrderTotal(ctx context.Context, orderID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, l := range m.lines {
		if l.OrderID == orderID {
			total += int64(l.Quantity) * l.UnitPrice
		}
	}
	if o, ok := m.orders[orderID]; ok {
		o.Total = total
	}
	return total, nil
}

func (m *memStore) MarkOrderPlaced(ctx context.Context, orderID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d not found", orderID)
	}
	o.Status = models.OrderStatusPlaced
	o.PlacedOn = &at
	o.CancelledOn = nil
	return nil
}

func (m *memStore) MarkOrderDispatched(ctx context.Context, orderID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.Status != models.OrderStatusPlaced {
		return fmt.Errorf("order %d not in placed state", orderID)
	}
	o.Status = models.OrderStatusDispatched
	o.DispatchedOn = &at
	return nil
}

func (m *memStore) MarkOrderCompleted(ctx context.Context, orderID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.Status != models.OrderStatusDispatched {
		return fmt.Errorf("order %d not in dispatched state", orderID)
	}
	o.Status = models.OrderStatusComplete
	o.CompletedOn = &at
	return nil
}

func (m *memStore) MarkOrderCancelled(ctx context.Context, orderID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d not found", orderID)
	}
	o.Status = models.OrderStatusCancelled
	o.PlacedOn = nil
	o.CancelledOn = &at
	return nil
}

func (m *memStore) SetOrderAddress(ctx context.Context, orderID, addressID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d not found", orderID)
	}
	o.AddressID = &addressID
	return nil
}

func (m *memStore) SetOrderShipping(ctx context.Context, orderID, shippingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d not found", orderID)
	}
	o.ShippingID = shippingID
	return nil
}

func (m *memStore) BasketItemCount(ctx context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, o := range m.orders {
		if o.UserID != userID || o.Status != models.OrderStatusOpen {
			continue
		}
		for _, l := range m.lines {
			if l.OrderID == o.ID {
				count += l.Quantity
			}
		}
	}
	return count, nil
}

func (m *memStore) CountActiveOrdersForAddress(ctx context.Context, addressID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, o := range m.orders {
		if o.AddressID == nil || *o.AddressID != addressID {
			continue
		}
		if o.Status == models.OrderStatusPlaced || o.Status == models.OrderStatusDispatched {
			count++
		}
	}
	return count, nil
}

func (m *memStore) GetOrderByCheckoutKey(ctx context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.checkoutKeys[key]
	if !ok {
		return nil, nil
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) SaveCheckoutKey(ctx context.Context, key string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.checkoutKeys[key]; !exists {
		m.checkoutKeys[key] = orderID
	}
	return nil
}

// --- AddressStore ---

func (m *memStore) CreateAddress(ctx context.Context, addr *models.AddressDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr.ID = m.id()
	cp := *addr
	m.addresses[addr.ID] = &cp
	return nil
}

func (m *memStore) GetAddressByID(ctx context.Context, id int64) (*models.AddressDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.addresses[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) GetAddressesByUser(ctx context.Context, userID int64) ([]models.AddressDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.AddressDetails
	for _, a := range m.addresses {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) GetDefaultAddress(ctx context.Context, userID int64) (*models.AddressDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.addresses {
		if a.UserID == userID && a.IsDefault {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdateAddress(ctx context.Context, addr *models.AddressDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.addresses[addr.ID]; !ok {
		return fmt.Errorf("address %d not found", addr.ID)
	}
	cp := *addr
	m.addresses[addr.ID] = &cp
	return nil
}

func (m *memStore) DeleteAddress(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.addresses, id)
	return nil
}

func (m *memStore) ClearDefaultAddress(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.addresses {
		if a.UserID == userID {
			a.IsDefault = false
		}
	}
	return nil
}

func (m *memStore) SetDefaultAddress(ctx context.Context, addressID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.addresses[addressID]
	if !ok {
		return fmt.Errorf("address %d not found", addressID)
	}
	a.IsDefault = true
	return nil
}

// memLocker serializes callers per key with real mutexes so concurrency
// tests exercise genuine mutual exclusion.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// memCache is an in-memory basket count cache.
type memCache struct {
	mu     sync.Mutex
	counts map[int64]int
}

func newMemCache() *memCache {
	return &memCache{counts: make(map[int64]int)}
}

func (c *memCache) GetBasketCount(ctx context.Context, userID int64) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[userID]
	return n, ok, nil
}

func (c *memCache) SetBasketCount(ctx context.Context, userID int64, count int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID] = count
	return nil
}

func (c *memCache) InvalidateBasketCount(ctx context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, userID)
	return nil
}

// fakeCharger approves or declines by delegating to fn.
type fakeCharger struct {
	mu      sync.Mutex
	charges []int64
	fn      func(amount int64, token string) (*ChargeResult, error)
}

func approveAll() *fakeCharger {
	return &fakeCharger{fn: func(amount int64, token string) (*ChargeResult, error) {
		return &ChargeResult{Reference: "TXN-TEST"}, nil
	}}
}

func declineAll() *fakeCharger {
	return &fakeCharger{fn: func(amount int64, token string) (*ChargeResult, error) {
		return nil, ErrPaymentFailed
	}}
}

func (f *fakeCharger) Charge(ctx context.Context, amount int64, currency, token string) (*ChargeResult, error) {
	f.mu.Lock()
	f.charges = append(f.charges, amount)
	f.mu.Unlock()
	return f.fn(amount, token)
}

// fakeEvents records published events.
type fakeEvents struct {
	mu         sync.Mutex
	placed     []*models.OrderPlacedEvent
	dispatched []*models.OrderDispatchedEvent
	cancelled  []*models.OrderCancelledEvent
}

func (f *fakeEvents) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, event)
	return nil
}

func (f *fakeEvents) PublishOrderDispatched(ctx context.Context, event *models.OrderDispatchedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, event)
	return nil
}

func (f *fakeEvents) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, event)
	return nil
}

// testEnv bundles the fakes with services wired the way main wires them.
type testEnv struct {
	store   *memStore
	charger *fakeCharger
	events  *fakeEvents
	basket  *BasketService
	orders  *OrderService
}

func newTestEnv() *testEnv {
	st := newMemStore()
	charger := approveAll()
	events := &fakeEvents{}
	locks := newMemLocker()
	cache := newMemCache()
	ledger := NewLedger(st)

	basket := NewBasketService(st, st, st, st, ledger, locks, cache)
	orders := NewOrderService(st, st, st, st, ledger, charger, events, locks, cache,
		15*time.Minute, 30*time.Minute)

	return &testEnv{store: st, charger: charger, events: events, basket: basket, orders: orders}
}

// at pins both services' clocks to a fixed instant.
func (e *testEnv) at(t time.Time) {
	e.basket.now = func() time.Time { return t }
	e.orders.now = func() time.Time { return t }
}
