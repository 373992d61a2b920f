package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type memoryState struct {
	products  map[int64]domain.Product
	carts     map[int64]domain.Cart
	cartLines map[int64]domain.CartLine
	orders    map[int64]domain.Order
	events    map[string]domain.ProcessedEvent
	nextID    int64
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		products:  make(map[int64]domain.Product, len(s.products)),
		carts:     make(map[int64]domain.Cart, len(s.carts)),
		cartLines: make(map[int64]domain.CartLine, len(s.cartLines)),
		orders:    make(map[int64]domain.Order, len(s.orders)),
		events:    make(map[string]domain.ProcessedEvent, len(s.events)),
		nextID:    s.nextID,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.cartLines {
		c.cartLines[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	return c
}

func (s *memoryState) id() int64 {
	s.nextID++
	return s.nextID
}

// MemoryStore implements port.Store in process memory. Transactions are
// serialized by a single mutex and work on a copy that replaces the state on commit.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memoryState{
			products:  make(map[int64]domain.Product),
			carts:     make(map[int64]domain.Cart),
			cartLines: make(map[int64]domain.CartLine),
			orders:    make(map[int64]domain.Order),
			events:    make(map[string]domain.ProcessedEvent),
		},
		now: time.Now,
	}
}

// PutProduct inserts or replaces a catalog row.
func (m *MemoryStore) PutProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[p.ID] = p
	if p.ID > m.state.nextID {
		m.state.nextID = p.ID
	}
}

// ProcessedEvents returns the number of recorded event ids.
func (m *MemoryStore) ProcessedEvents() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.events)
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := m.state.clone()
	if err := fn(ctx, &memoryTx{s: work, now: m.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	m.state = work
	return nil
}

func (m *MemoryStore) OpenCart(ctx context.Context, customerID int64) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return openCart(m.state, customerID), nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[orderID]
	if !ok {
		return nil, nil
	}
	return copyOrder(o), nil
}

func (m *MemoryStore) ListOrders(ctx context.Context, customerID int64) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Order, 0)
	for _, o := range m.state.orders {
		if customerID == 0 || o.CustomerID == customerID {
			out = append(out, *copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type memoryTx struct {
	s   *memoryState
	now func() time.Time
}

func (t *memoryTx) LockProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) GetProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	return t.LockProducts(ctx, ids)
}

func (t *memoryTx) DecrementStock(ctx context.Context, productID int64, qty int) error {
	p, ok := t.s.products[productID]
	if !ok || p.StockQty < qty {
		return fmt.Errorf("decrement product %d: %w", productID, domain.ErrInsufficientStock)
	}
	p.StockQty -= qty
	t.s.products[productID] = p
	return nil
}

func (t *memoryTx) LockOpenCart(ctx context.Context, customerID int64) (*domain.Cart, error) {
	return openCart(t.s, customerID), nil
}

func (t *memoryTx) CreateCart(ctx context.Context, customerID int64) (*domain.Cart, error) {
	if openCart(t.s, customerID) != nil {
		return nil, port.ErrDuplicate
	}
	now := t.now()
	c := domain.Cart{
		ID:         t.s.id(),
		CustomerID: customerID,
		Status:     domain.CartStatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	t.s.carts[c.ID] = c
	return &c, nil
}

func (t *memoryTx) InsertCartLine(ctx context.Context, line *domain.CartLine) error {
	for _, l := range t.s.cartLines {
		if l.CartID == line.CartID && l.ProductID == line.ProductID {
			return port.ErrDuplicate
		}
	}
	line.ID = t.s.id()
	t.s.cartLines[line.ID] = *line
	return nil
}

func (t *memoryTx) UpdateCartLine(ctx context.Context, lineID int64, qty int, unitPrice decimal.Decimal) error {
	l, ok := t.s.cartLines[lineID]
	if !ok {
		return domain.ErrCartLineNotFound
	}
	l.Qty = qty
	l.UnitPrice = unitPrice
	t.s.cartLines[lineID] = l
	return nil
}

func (t *memoryTx) DeleteCartLine(ctx context.Context, cartID, lineID int64) (bool, error) {
	l, ok := t.s.cartLines[lineID]
	if !ok || l.CartID != cartID {
		return false, nil
	}
	delete(t.s.cartLines, lineID)
	return true, nil
}

func (t *memoryTx) ClearCart(ctx context.Context, cartID int64) error {
	for id, l := range t.s.cartLines {
		if l.CartID == cartID {
			delete(t.s.cartLines, id)
		}
	}
	return nil
}

func (t *memoryTx) SetCartStatus(ctx context.Context, cartID int64, status domain.CartStatus) error {
	c, ok := t.s.carts[cartID]
	if !ok {
		return fmt.Errorf("cart %d not found", cartID)
	}
	c.Status = status
	c.UpdatedAt = t.now()
	t.s.carts[cartID] = c
	return nil
}

func (t *memoryTx) FindOrderByIdempotencyKey(ctx context.Context, customerID int64, key string) (*domain.Order, error) {
	for _, o := range t.s.orders {
		if o.CustomerID == customerID && o.IdempotencyKey != "" && o.IdempotencyKey == key {
			return copyOrder(o), nil
		}
	}
	return nil, nil
}

func (t *memoryTx) LatestOrder(ctx context.Context, customerID int64) (*domain.Order, error) {
	var latest *domain.Order
	for _, o := range t.s.orders {
		if o.CustomerID == customerID && (latest == nil || o.ID > latest.ID) {
			latest = copyOrder(o)
		}
	}
	return latest, nil
}

func (t *memoryTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	for _, o := range t.s.orders {
		if o.PublicID == order.PublicID {
			return port.ErrDuplicate
		}
		if order.IdempotencyKey != "" && o.CustomerID == order.CustomerID && o.IdempotencyKey == order.IdempotencyKey {
			return port.ErrDuplicate
		}
	}

	order.ID = t.s.id()
	for i := range order.Lines {
		order.Lines[i].ID = t.s.id()
		order.Lines[i].OrderID = order.ID
	}
	t.s.orders[order.ID] = *copyOrder(*order)
	return nil
}

func (t *memoryTx) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	o, ok := t.s.orders[orderID]
	if !ok {
		return nil, nil
	}
	return copyOrder(o), nil
}

func (t *memoryTx) LockOrderByPublicID(ctx context.Context, publicID string) (*domain.Order, error) {
	for _, o := range t.s.orders {
		if o.PublicID.String() == publicID {
			return copyOrder(o), nil
		}
	}
	return nil, nil
}

func (t *memoryTx) SetPaymentHandle(ctx context.Context, orderID int64, handleID string) error {
	o, ok := t.s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.PaymentHandleID = handleID
	o.UpdatedAt = t.now()
	t.s.orders[orderID] = o
	return nil
}

func (t *memoryTx) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus, paidAt *time.Time) error {
	o, ok := t.s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.Status = status
	if paidAt != nil {
		at := *paidAt
		o.PaidAt = &at
	}
	o.UpdatedAt = t.now()
	t.s.orders[orderID] = o
	return nil
}

func (t *memoryTx) InsertProcessedEvent(ctx context.Context, ev domain.ProcessedEvent) error {
	if _, ok := t.s.events[ev.EventID]; ok {
		return port.ErrDuplicate
	}
	t.s.events[ev.EventID] = ev
	return nil
}

func openCart(s *memoryState, customerID int64) *domain.Cart {
	for _, c := range s.carts {
		if c.CustomerID != customerID || c.Status != domain.CartStatusOpen {
			continue
		}
		cart := c
		cart.Lines = nil
		for _, l := range s.cartLines {
			if l.CartID == c.ID {
				cart.Lines = append(cart.Lines, l)
			}
		}
		sort.Slice(cart.Lines, func(i, j int) bool { return cart.Lines[i].ID < cart.Lines[j].ID })
		return &cart
	}
	return nil
}

func copyOrder(o domain.Order) *domain.Order {
	c := o
	c.Lines = append([]domain.OrderLine(nil), o.Lines...)
	if o.PaidAt != nil {
		at := *o.PaidAt
		c.PaidAt = &at
	}
	return &c
}
