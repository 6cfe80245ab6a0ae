package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ushopls/marketplace/internal/domain/cart"
	"github.com/ushopls/marketplace/internal/domain/inventory"
	"github.com/ushopls/marketplace/internal/domain/order"
	"github.com/ushopls/marketplace/internal/domain/product"
	"github.com/ushopls/marketplace/internal/domain/user"
	"github.com/ushopls/marketplace/internal/outbox"
)

type pgTxKey struct{}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements every repository on PostgreSQL. Calls made with a
// context returned by WithTransaction run on that transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) queryer {
	if tx, ok := ctx.Value(pgTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, pgTxKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, u *user.User) error {
	err := s.conn(ctx).QueryRowContext(ctx,
		`INSERT INTO users (username, email, password_hash, role, is_suspended, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		u.Username, u.Email, u.PasswordHash, u.Role, u.IsSuspended, u.CreatedAt,
	).Scan(&u.ID)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if pqErr.Constraint == "users_username_key" {
			return user.ErrUsernameTaken
		}
		return user.ErrEmailTaken
	}
	return err
}

const userColumns = `id, username, email, password_hash, role, is_suspended, created_at`

func scanUser(row *sql.Row) (*user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.IsSuspended, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, user.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*user.User, error) {
	return scanUser(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	return scanUser(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// Products

const productColumns = `id, seller_id, name, description, price, stock, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*product.Product, error) {
	var p product.Product
	if err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Status, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *product.Product) error {
	return s.conn(ctx).QueryRowContext(ctx,
		`INSERT INTO products (seller_id, name, description, price, stock, status)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		p.SellerID, p.Name, p.Description, p.Price, p.Stock, p.Status,
	).Scan(&p.ID, &p.CreatedAt)
}

func (s *PostgresStore) GetProduct(ctx context.Context, id int64) (*product.Product, error) {
	p, err := scanProduct(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", product.ErrNotFound, id)
	}
	return p, err
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]product.Product, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []product.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p *product.Product) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE products SET name = $2, description = $3, price = $4, stock = $5, status = $6 WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.Status)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Errorf("%w: %d", product.ErrNotFound, p.ID))
}

// DecrementStock is a conditional update: the row changes only if enough stock
// remains, so two checkouts can never both take the last unit.
func (s *PostgresStore) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	var remaining int
	err := s.conn(ctx).QueryRowContext(ctx,
		`UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2 RETURNING stock`,
		productID, quantity,
	).Scan(&remaining)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var available int
	err = s.conn(ctx).QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", product.ErrNotFound, productID)
	}
	if err != nil {
		return err
	}
	return &inventory.StockError{ProductID: productID, Available: available, Requested: quantity}
}

// Cart

const cartColumns = `id, user_id, product_id, quantity, created_at`

func scanCartLine(row rowScanner) (*cart.Line, error) {
	var l cart.Line
	if err := row.Scan(&l.ID, &l.BuyerID, &l.ProductID, &l.Quantity, &l.CreatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) ListCartLines(ctx context.Context, buyerID int64) ([]cart.Line, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+cartColumns+` FROM cart_items WHERE user_id = $1 ORDER BY id`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []cart.Line{}
	for rows.Next() {
		l, err := scanCartLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCartLine(ctx context.Context, id int64) (*cart.Line, error) {
	l, err := scanCartLine(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM cart_items WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", cart.ErrLineNotFound, id)
	}
	return l, err
}

func (s *PostgresStore) FindCartLine(ctx context.Context, buyerID, productID int64) (*cart.Line, error) {
	l, err := scanCartLine(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM cart_items WHERE user_id = $1 AND product_id = $2`, buyerID, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cart.ErrLineNotFound
	}
	return l, err
}

// AddCartLine relies on the (user_id, product_id) unique key to merge
// concurrent adds into one row.
func (s *PostgresStore) AddCartLine(ctx context.Context, line *cart.Line) error {
	return s.conn(ctx).QueryRowContext(ctx,
		`INSERT INTO cart_items (user_id, product_id, quantity, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, product_id)
		 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		 RETURNING id, quantity, created_at`,
		line.BuyerID, line.ProductID, line.Quantity, line.CreatedAt,
	).Scan(&line.ID, &line.Quantity, &line.CreatedAt)
}

func (s *PostgresStore) UpdateCartLineQuantity(ctx context.Context, id int64, quantity int) error {
	res, err := s.conn(ctx).ExecContext(ctx, `UPDATE cart_items SET quantity = $2 WHERE id = $1`, id, quantity)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Errorf("%w: %d", cart.ErrLineNotFound, id))
}

func (s *PostgresStore) DeleteCartLine(ctx context.Context, id int64) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Errorf("%w: %d", cart.ErrLineNotFound, id))
}

func (s *PostgresStore) ClearCart(ctx context.Context, buyerID int64) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, buyerID)
	return err
}

// Orders

const orderColumns = `id, user_id, status, total, shipping_address, payment_method, payment_status, created_at`

func scanOrder(row rowScanner) (*order.Order, error) {
	var o order.Order
	err := row.Scan(&o.ID, &o.BuyerID, &o.Status, &o.Total, &o.ShippingAddress,
		&o.PaymentMethod, &o.PaymentStatus, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *order.Order) error {
	return s.conn(ctx).QueryRowContext(ctx,
		`INSERT INTO orders (user_id, status, total, shipping_address, payment_method, payment_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		o.BuyerID, o.Status, o.Total, o.ShippingAddress, o.PaymentMethod, o.PaymentStatus, o.CreatedAt,
	).Scan(&o.ID)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id int64) (*order.Order, error) {
	o, err := scanOrder(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", order.ErrOrderNotFound, id)
	}
	return o, err
}

func (s *PostgresStore) ListOrdersByBuyer(ctx context.Context, buyerID int64) ([]order.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY id DESC`, buyerID)
}

func (s *PostgresStore) ListOrders(ctx context.Context) ([]order.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id DESC`)
}

func (s *PostgresStore) queryOrders(ctx context.Context, query string, args ...any) ([]order.Order, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []order.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id int64, status order.Status) error {
	res, err := s.conn(ctx).ExecContext(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Errorf("%w: %d", order.ErrOrderNotFound, id))
}

func (s *PostgresStore) UpdatePaymentStatus(ctx context.Context, id int64, status order.PaymentStatus) error {
	res, err := s.conn(ctx).ExecContext(ctx, `UPDATE orders SET payment_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Errorf("%w: %d", order.ErrOrderNotFound, id))
}

const lineColumns = `id, order_id, product_id, seller_id, quantity, price, status, created_at`

func scanLine(row rowScanner) (*order.Line, error) {
	var l order.Line
	err := row.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.SellerID, &l.Quantity, &l.Price, &l.Status, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) CreateLine(ctx context.Context, l *order.Line) error {
	return s.conn(ctx).QueryRowContext(ctx,
		`INSERT INTO order_items (order_id, product_id, seller_id, quantity, price, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		l.OrderID, l.ProductID, l.SellerID, l.Quantity, l.Price, l.Status, l.CreatedAt,
	).Scan(&l.ID)
}

func (s *PostgresStore) GetLine(ctx context.Context, id int64) (*order.Line, error) {
	l, err := scanLine(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+lineColumns+` FROM order_items WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", order.ErrLineNotFound, id)
	}
	return l, err
}

func (s *PostgresStore) ListLinesByOrder(ctx context.Context, orderID int64) ([]order.Line, error) {
	return s.queryLines(ctx, `SELECT `+lineColumns+` FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
}

func (s *PostgresStore) ListLinesBySeller(ctx context.Context, sellerID int64) ([]order.Line, error) {
	return s.queryLines(ctx, `SELECT `+lineColumns+` FROM order_items WHERE seller_id = $1 ORDER BY id`, sellerID)
}

func (s *PostgresStore) queryLines(ctx context.Context, query string, args ...any) ([]order.Line, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []order.Line{}
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateLineStatus(ctx context.Context, id int64, status order.Status) error {
	res, err := s.conn(ctx).ExecContext(ctx, `UPDATE order_items SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Errorf("%w: %d", order.ErrLineNotFound, id))
}

// Outbox

func (s *PostgresStore) AppendOutbox(ctx context.Context, e *outbox.Event) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.AggregateType, e.AggregateID, e.EventType, []byte(e.Payload), e.CreatedAt)
	return err
}

func (s *PostgresStore) ListUnpublished(ctx context.Context, limit int) ([]*outbox.Event, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		 FROM outbox_events WHERE published_at IS NULL ORDER BY seq LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*outbox.Event
	for rows.Next() {
		var e outbox.Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = payload
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkPublished(ctx context.Context, id string) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE outbox_events SET published_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Errorf("outbox event %s not found", id))
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
