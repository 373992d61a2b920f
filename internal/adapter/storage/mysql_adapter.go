package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const mysqlDuplicateEntry = 1062

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) WithTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	// row locks are taken explicitly, so read committed avoids gap locks and sees rows committed while waiting
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) OpenCart(ctx context.Context, customerID int64) (*domain.Cart, error) {
	return selectOpenCart(ctx, m.db, customerID, false)
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return selectOrder(ctx, m.db, false, "id = ?", orderID)
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, customerID int64) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var args []any
	if customerID != 0 {
		query += ` WHERE customer_id = ?`
		args = append(args, customerID)
	}
	query += ` ORDER BY id DESC`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	lines, err := selectOrderLines(ctx, m.db, ids...)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	var p domain.Product
	err := m.db.QueryRowContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = ?`, productID,
	).Scan(&p.ID, &p.SKU, &p.Title, &p.Price, &p.Currency, &p.StockQty, &p.Active)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

type mysqlTx struct {
	tx *sql.Tx
}

const productColumns = `id, sku, title, price, currency, stock_qty, active`

func (t *mysqlTx) LockProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	return t.selectProducts(ctx, ids, true)
}

func (t *mysqlTx) GetProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	return t.selectProducts(ctx, ids, false)
}

func (t *mysqlTx) selectProducts(ctx context.Context, ids []int64, lock bool) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `
		SELECT ` + productColumns + ` FROM products
		WHERE id IN (` + placeholders(len(ids)) + `)
		ORDER BY id`
	if lock {
		query += ` FOR UPDATE`
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Title, &p.Price, &p.Currency, &p.StockQty, &p.Active); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (t *mysqlTx) DecrementStock(ctx context.Context, productID int64, qty int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock_qty = stock_qty - ?
		WHERE id = ? AND stock_qty >= ?`,
		qty, productID, qty,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("decrement product %d: %w", productID, domain.ErrInsufficientStock)
	}
	return nil
}

func (t *mysqlTx) LockOpenCart(ctx context.Context, customerID int64) (*domain.Cart, error) {
	return selectOpenCart(ctx, t.tx, customerID, true)
}

func (t *mysqlTx) CreateCart(ctx context.Context, customerID int64) (*domain.Cart, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO carts (customer_id, status) VALUES (?, ?)`,
		customerID, domain.CartStatusOpen,
	)
	if err != nil {
		return nil, mapWriteErr("insert cart", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("cart id: %w", err)
	}
	now := time.Now()
	return &domain.Cart{ID: id, CustomerID: customerID, Status: domain.CartStatusOpen, CreatedAt: now, UpdatedAt: now}, nil
}

func (t *mysqlTx) InsertCartLine(ctx context.Context, line *domain.CartLine) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO cart_lines (cart_id, product_id, qty, unit_price) VALUES (?, ?, ?, ?)`,
		line.CartID, line.ProductID, line.Qty, line.UnitPrice,
	)
	if err != nil {
		return mapWriteErr("insert cart line", err)
	}

	line.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("cart line id: %w", err)
	}
	return nil
}

func (t *mysqlTx) UpdateCartLine(ctx context.Context, lineID int64, qty int, unitPrice decimal.Decimal) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE cart_lines SET qty = ?, unit_price = ? WHERE id = ?`,
		qty, unitPrice, lineID,
	)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// MySQL reports 0 for a no-op update too, so confirm the row is gone
		var exists int
		err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM cart_lines WHERE id = ?`, lineID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrCartLineNotFound
		}
		if err != nil {
			return fmt.Errorf("query cart line: %w", err)
		}
	}
	return nil
}

func (t *mysqlTx) DeleteCartLine(ctx context.Context, cartID, lineID int64) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		DELETE FROM cart_lines WHERE id = ? AND cart_id = ?`, lineID, cartID)
	if err != nil {
		return false, fmt.Errorf("delete cart line: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (t *mysqlTx) ClearCart(ctx context.Context, cartID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = ?`, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (t *mysqlTx) SetCartStatus(ctx context.Context, cartID int64, status domain.CartStatus) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE carts SET status = ? WHERE id = ?`, status, cartID); err != nil {
		return fmt.Errorf("update cart status: %w", err)
	}
	return nil
}

func (t *mysqlTx) FindOrderByIdempotencyKey(ctx context.Context, customerID int64, key string) (*domain.Order, error) {
	return selectOrder(ctx, t.tx, false, "customer_id = ? AND idempotency_key = ?", customerID, key)
}

func (t *mysqlTx) LatestOrder(ctx context.Context, customerID int64) (*domain.Order, error) {
	return selectOrder(ctx, t.tx, false, "customer_id = ? ORDER BY id DESC LIMIT 1", customerID)
}

func (t *mysqlTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	var key sql.NullString
	if order.IdempotencyKey != "" {
		key = sql.NullString{String: order.IdempotencyKey, Valid: true}
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (public_id, customer_id, idempotency_key, status, currency,
			subtotal, tax, shipping, total, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.PublicID.String(), order.CustomerID, key, order.Status, order.Currency,
		order.Subtotal, order.Tax, order.Shipping, order.Total, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr("insert order", err)
	}

	order.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("order id: %w", err)
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		line.OrderID = order.ID
		result, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, product_id, sku, title, unit_price, qty, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			line.OrderID, line.ProductID, line.SKU, line.Title, line.UnitPrice, line.Qty, line.LineTotal,
		)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
		if line.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("order line id: %w", err)
		}
	}
	return nil
}

func (t *mysqlTx) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return selectOrder(ctx, t.tx, true, "id = ?", orderID)
}

func (t *mysqlTx) LockOrderByPublicID(ctx context.Context, publicID string) (*domain.Order, error) {
	return selectOrder(ctx, t.tx, true, "public_id = ?", publicID)
}

func (t *mysqlTx) SetPaymentHandle(ctx context.Context, orderID int64, handleID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET payment_intent_id = ? WHERE id = ?`, handleID, orderID)
	if err != nil {
		return fmt.Errorf("update payment intent: %w", err)
	}
	return nil
}

func (t *mysqlTx) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus, paidAt *time.Time) error {
	var err error
	if paidAt != nil {
		_, err = t.tx.ExecContext(ctx, `
			UPDATE orders SET status = ?, paid_at = ? WHERE id = ?`, status, *paidAt, orderID)
	} else {
		_, err = t.tx.ExecContext(ctx, `
			UPDATE orders SET status = ? WHERE id = ?`, status, orderID)
	}
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

func (t *mysqlTx) InsertProcessedEvent(ctx context.Context, ev domain.ProcessedEvent) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?)`,
		ev.EventID, ev.EventType, ev.ProcessedAt,
	)
	if err != nil {
		return mapWriteErr("insert processed event", err)
	}
	return nil
}

func selectOpenCart(ctx context.Context, q querier, customerID int64, lock bool) (*domain.Cart, error) {
	query := `
		SELECT id, customer_id, status, created_at, updated_at
		FROM carts WHERE open_customer_id = ?`
	if lock {
		query += ` FOR UPDATE`
	}

	var c domain.Cart
	err := q.QueryRowContext(ctx, query, customerID).
		Scan(&c.ID, &c.CustomerID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, cart_id, product_id, qty, unit_price
		FROM cart_lines WHERE cart_id = ? ORDER BY id`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ID, &l.CartID, &l.ProductID, &l.Qty, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		c.Lines = append(c.Lines, l)
	}
	return &c, rows.Err()
}

const orderColumns = `id, public_id, customer_id, idempotency_key, status, currency,
	subtotal, tax, shipping, total, payment_intent_id, paid_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o        domain.Order
		key      sql.NullString
		handle   sql.NullString
		paidAt   sql.NullTime
		publicID string
	)
	err := row.Scan(&o.ID, &publicID, &o.CustomerID, &key, &o.Status, &o.Currency,
		&o.Subtotal, &o.Tax, &o.Shipping, &o.Total, &handle, &paidAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := o.PublicID.UnmarshalText([]byte(publicID)); err != nil {
		return nil, fmt.Errorf("parse public id: %w", err)
	}
	o.IdempotencyKey = key.String
	o.PaymentHandleID = handle.String
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	return &o, nil
}

func selectOrder(ctx context.Context, q querier, lock bool, where string, args ...any) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where
	if lock {
		query += ` FOR UPDATE`
	}

	o, err := scanOrder(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	lines, err := selectOrderLines(ctx, q, o.ID)
	if err != nil {
		return nil, err
	}
	o.Lines = lines[o.ID]
	return o, nil
}

// orderLinesBatch bounds the IN list of a single lines query.
const orderLinesBatch = 500

// selectOrderLines loads the lines of every given order, keyed by order id,
// with one query per batch of ids.
func selectOrderLines(ctx context.Context, q querier, orderIDs ...int64) (map[int64][]domain.OrderLine, error) {
	lines := make(map[int64][]domain.OrderLine, len(orderIDs))
	for start := 0; start < len(orderIDs); start += orderLinesBatch {
		end := min(start+orderLinesBatch, len(orderIDs))
		if err := selectOrderLinesBatch(ctx, q, orderIDs[start:end], lines); err != nil {
			return nil, err
		}
	}
	return lines, nil
}

func selectOrderLinesBatch(ctx context.Context, q querier, orderIDs []int64, into map[int64][]domain.OrderLine) error {
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, sku, title, unit_price, qty, line_total
		FROM order_lines WHERE order_id IN (`+placeholders(len(orderIDs))+`) ORDER BY order_id, id`, args...)
	if err != nil {
		return fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.SKU, &l.Title, &l.UnitPrice, &l.Qty, &l.LineTotal); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		into[l.OrderID] = append(into[l.OrderID], l)
	}
	return rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func mapWriteErr(op string, err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return fmt.Errorf("%s: %w", op, port.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}
