package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ushopls/marketplace/internal/domain/cart"
	"github.com/ushopls/marketplace/internal/domain/inventory"
	"github.com/ushopls/marketplace/internal/domain/order"
	"github.com/ushopls/marketplace/internal/domain/product"
	"github.com/ushopls/marketplace/internal/domain/user"
	"github.com/ushopls/marketplace/internal/outbox"
)

type txKey struct{}

// memTx collects compensating actions for writes made inside a transaction.
type memTx struct {
	undo []func()
}

// MemoryStore keeps everything in maps behind one RWMutex. A transaction holds
// the write lock for its whole duration, so transactions are serialized and
// repository calls made inside one skip locking.
type MemoryStore struct {
	mu sync.RWMutex

	users     map[int64]*user.User
	products  map[int64]*product.Product
	cartLines map[int64]*cart.Line
	orders    map[int64]*order.Order
	lines     map[int64]*order.Line
	events    []*outbox.Event

	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]*user.User),
		products:  make(map[int64]*product.Product),
		cartLines: make(map[int64]*cart.Line),
		orders:    make(map[int64]*order.Order),
		lines:     make(map[int64]*order.Line),
	}
}

// WithTransaction runs fn under the store's write lock. If fn returns an error
// every write it made is undone in reverse order. Nested calls join the outer
// transaction.
func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*memTx); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (s *MemoryStore) lock(ctx context.Context) func() {
	if _, ok := ctx.Value(txKey{}).(*memTx); ok {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) rlock(ctx context.Context) func() {
	if _, ok := ctx.Value(txKey{}).(*memTx); ok {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *MemoryStore) onRollback(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(txKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

func (s *MemoryStore) newID() int64 {
	s.nextID++
	return s.nextID
}

// Users

func (s *MemoryStore) CreateUser(ctx context.Context, u *user.User) error {
	defer s.lock(ctx)()

	for _, existing := range s.users {
		if existing.Email == u.Email {
			return user.ErrEmailTaken
		}
		if existing.Username == u.Username {
			return user.ErrUsernameTaken
		}
	}
	u.ID = s.newID()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	s.users[u.ID] = &cp
	s.onRollback(ctx, func() { delete(s.users, cp.ID) })
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*user.User, error) {
	defer s.rlock(ctx)()

	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	defer s.rlock(ctx)()

	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrUserNotFound
}

// Products

func (s *MemoryStore) CreateProduct(ctx context.Context, p *product.Product) error {
	defer s.lock(ctx)()

	p.ID = s.newID()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	s.products[p.ID] = &cp
	s.onRollback(ctx, func() { delete(s.products, cp.ID) })
	return nil
}

func (s *MemoryStore) GetProduct(ctx context.Context, id int64) (*product.Product, error) {
	defer s.rlock(ctx)()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", product.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context) ([]product.Product, error) {
	defer s.rlock(ctx)()

	out := make([]product.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateProduct(ctx context.Context, p *product.Product) error {
	defer s.lock(ctx)()

	existing, ok := s.products[p.ID]
	if !ok {
		return fmt.Errorf("%w: %d", product.ErrNotFound, p.ID)
	}
	prev := *existing
	cp := *p
	s.products[p.ID] = &cp
	s.onRollback(ctx, func() { s.products[prev.ID] = &prev })
	return nil
}

// DecrementStock subtracts quantity only if that much is left.
func (s *MemoryStore) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	defer s.lock(ctx)()

	p, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("%w: %d", product.ErrNotFound, productID)
	}
	if p.Stock < quantity {
		return &inventory.StockError{ProductID: productID, Available: p.Stock, Requested: quantity}
	}
	p.Stock -= quantity
	s.onRollback(ctx, func() { p.Stock += quantity })
	return nil
}

// Cart

func (s *MemoryStore) ListCartLines(ctx context.Context, buyerID int64) ([]cart.Line, error) {
	defer s.rlock(ctx)()

	out := []cart.Line{}
	for _, l := range s.cartLines {
		if l.BuyerID == buyerID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetCartLine(ctx context.Context, id int64) (*cart.Line, error) {
	defer s.rlock(ctx)()

	l, ok := s.cartLines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", cart.ErrLineNotFound, id)
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) FindCartLine(ctx context.Context, buyerID, productID int64) (*cart.Line, error) {
	defer s.rlock(ctx)()

	if l := s.findCartLine(buyerID, productID); l != nil {
		cp := *l
		return &cp, nil
	}
	return nil, cart.ErrLineNotFound
}

func (s *MemoryStore) findCartLine(buyerID, productID int64) *cart.Line {
	for _, l := range s.cartLines {
		if l.BuyerID == buyerID && l.ProductID == productID {
			return l
		}
	}
	return nil
}

func (s *MemoryStore) AddCartLine(ctx context.Context, line *cart.Line) error {
	defer s.lock(ctx)()

	if existing := s.findCartLine(line.BuyerID, line.ProductID); existing != nil {
		added := line.Quantity
		existing.Quantity += added
		s.onRollback(ctx, func() { existing.Quantity -= added })
		*line = *existing
		return nil
	}

	line.ID = s.newID()
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now().UTC()
	}
	cp := *line
	s.cartLines[line.ID] = &cp
	s.onRollback(ctx, func() { delete(s.cartLines, cp.ID) })
	return nil
}

func (s *MemoryStore) UpdateCartLineQuantity(ctx context.Context, id int64, quantity int) error {
	defer s.lock(ctx)()

	l, ok := s.cartLines[id]
	if !ok {
		return fmt.Errorf("%w: %d", cart.ErrLineNotFound, id)
	}
	prev := l.Quantity
	l.Quantity = quantity
	s.onRollback(ctx, func() { l.Quantity = prev })
	return nil
}

func (s *MemoryStore) DeleteCartLine(ctx context.Context, id int64) error {
	defer s.lock(ctx)()

	l, ok := s.cartLines[id]
	if !ok {
		return fmt.Errorf("%w: %d", cart.ErrLineNotFound, id)
	}
	delete(s.cartLines, id)
	s.onRollback(ctx, func() { s.cartLines[id] = l })
	return nil
}

func (s *MemoryStore) ClearCart(ctx context.Context, buyerID int64) error {
	defer s.lock(ctx)()

	for id, l := range s.cartLines {
		if l.BuyerID != buyerID {
			continue
		}
		delete(s.cartLines, id)
		s.onRollback(ctx, func() { s.cartLines[id] = l })
	}
	return nil
}

// Orders

func (s *MemoryStore) CreateOrder(ctx context.Context, o *order.Order) error {
	defer s.lock(ctx)()

	o.ID = s.newID()
	cp := *o
	cp.Lines = nil
	s.orders[o.ID] = &cp
	s.onRollback(ctx, func() { delete(s.orders, cp.ID) })
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id int64) (*order.Order, error) {
	defer s.rlock(ctx)()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", order.ErrOrderNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrdersByBuyer(ctx context.Context, buyerID int64) ([]order.Order, error) {
	defer s.rlock(ctx)()

	return s.listOrders(func(o *order.Order) bool { return o.BuyerID == buyerID }), nil
}

func (s *MemoryStore) ListOrders(ctx context.Context) ([]order.Order, error) {
	defer s.rlock(ctx)()

	return s.listOrders(func(*order.Order) bool { return true }), nil
}

// listOrders returns matching orders, newest first.
func (s *MemoryStore) listOrders(match func(*order.Order) bool) []order.Order {
	out := []order.Order{}
	for _, o := range s.orders {
		if match(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, id int64, status order.Status) error {
	defer s.lock(ctx)()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: %d", order.ErrOrderNotFound, id)
	}
	prev := o.Status
	o.Status = status
	s.onRollback(ctx, func() { o.Status = prev })
	return nil
}

func (s *MemoryStore) UpdatePaymentStatus(ctx context.Context, id int64, status order.PaymentStatus) error {
	defer s.lock(ctx)()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: %d", order.ErrOrderNotFound, id)
	}
	prev := o.PaymentStatus
	o.PaymentStatus = status
	s.onRollback(ctx, func() { o.PaymentStatus = prev })
	return nil
}

func (s *MemoryStore) CreateLine(ctx context.Context, l *order.Line) error {
	defer s.lock(ctx)()

	if _, ok := s.orders[l.OrderID]; !ok {
		return fmt.Errorf("%w: %d", order.ErrOrderNotFound, l.OrderID)
	}
	l.ID = s.newID()
	cp := *l
	s.lines[l.ID] = &cp
	s.onRollback(ctx, func() { delete(s.lines, cp.ID) })
	return nil
}

func (s *MemoryStore) GetLine(ctx context.Context, id int64) (*order.Line, error) {
	defer s.rlock(ctx)()

	l, ok := s.lines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", order.ErrLineNotFound, id)
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) ListLinesByOrder(ctx context.Context, orderID int64) ([]order.Line, error) {
	defer s.rlock(ctx)()

	return s.listLines(func(l *order.Line) bool { return l.OrderID == orderID }), nil
}

func (s *MemoryStore) ListLinesBySeller(ctx context.Context, sellerID int64) ([]order.Line, error) {
	defer s.rlock(ctx)()

	return s.listLines(func(l *order.Line) bool { return l.SellerID == sellerID }), nil
}

func (s *MemoryStore) listLines(match func(*order.Line) bool) []order.Line {
	out := []order.Line{}
	for _, l := range s.lines {
		if match(l) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) UpdateLineStatus(ctx context.Context, id int64, status order.Status) error {
	defer s.lock(ctx)()

	l, ok := s.lines[id]
	if !ok {
		return fmt.Errorf("%w: %d", order.ErrLineNotFound, id)
	}
	prev := l.Status
	l.Status = status
	s.onRollback(ctx, func() { l.Status = prev })
	return nil
}

// Outbox

func (s *MemoryStore) AppendOutbox(ctx context.Context, event *outbox.Event) error {
	defer s.lock(ctx)()

	cp := *event
	s.events = append(s.events, &cp)
	n := len(s.events)
	s.onRollback(ctx, func() { s.events = s.events[:n-1] })
	return nil
}

func (s *MemoryStore) ListUnpublished(ctx context.Context, limit int) ([]*outbox.Event, error) {
	defer s.rlock(ctx)()

	var out []*outbox.Event
	for _, e := range s.events {
		if e.PublishedAt != nil {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkPublished(ctx context.Context, id string) error {
	defer s.lock(ctx)()

	for _, e := range s.events {
		if e.ID == id {
			now := time.Now().UTC()
			e.PublishedAt = &now
			return nil
		}
	}
	return fmt.Errorf("outbox event %s not found", id)
}
