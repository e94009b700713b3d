package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ttejuosho/akubata/internal/domain"
)

const orderColumns = `id, user_id, status, total_minor, payment_method, created_at, updated_at`

const lineItemColumns = `id, order_id, product_id, quantity, price_minor, created_at, updated_at`

// orderLedger: OrderLedger поверх одной SQL-транзакции.
type orderLedger struct {
	tx *sql.Tx
}

func (l *orderLedger) LockOpenOrder(ctx context.Context, userID string) (domain.Order, error) {
	return l.openOrder(ctx, userID, true)
}

func (l *orderLedger) FindOpenOrder(ctx context.Context, userID string) (domain.Order, error) {
	return l.openOrder(ctx, userID, false)
}

func (l *orderLedger) openOrder(ctx context.Context, userID string, lock bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND status = 'open'`
	if lock {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(l.tx.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrCartNotFound
		}
		return domain.Order{}, fmt.Errorf("select open order for user %s: %w", userID, err)
	}

	order.Items, err = l.ListLineItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// CreateOpenOrder вставляет открытый заказ. Частичный уникальный индекс
// orders_one_open_per_user гарантирует не более одного открытого заказа;
// проигравший гонку получает ErrOpenOrderExists без ошибки SQL.
func (l *orderLedger) CreateOpenOrder(ctx context.Context, userID string) (domain.Order, error) {
	if userID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    domain.OrderStatusOpen,
		Items:     []domain.LineItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := l.tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, total_minor, created_at, updated_at)
		VALUES ($1, $2, 'open', 0, $3, $4)
		ON CONFLICT (user_id) WHERE status = 'open' DO NOTHING
	`, order.ID, order.UserID, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert open order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected for open order: %w", err)
	}
	if affected == 0 {
		return domain.Order{}, domain.ErrOpenOrderExists
	}
	return order, nil
}

func (l *orderLedger) LockLineItem(ctx context.Context, orderID, productID string) (domain.LineItem, error) {
	row := l.tx.QueryRowContext(ctx, `
		SELECT `+lineItemColumns+`
		FROM order_items
		WHERE order_id = $1 AND product_id = $2
		FOR UPDATE
	`, orderID, productID)

	item, err := scanLineItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LineItem{}, domain.ErrLineItemNotFound
		}
		return domain.LineItem{}, fmt.Errorf("lock line item: %w", err)
	}
	return item, nil
}

func (l *orderLedger) ListLineItems(ctx context.Context, orderID string) ([]domain.LineItem, error) {
	rows, err := l.tx.QueryContext(ctx, `
		SELECT `+lineItemColumns+`
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select line items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		item, err := scanLineItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return items, nil
}

func (l *orderLedger) InsertLineItem(ctx context.Context, item domain.LineItem) (domain.LineItem, error) {
	if item.Quantity <= 0 {
		return domain.LineItem{}, domain.ErrItemQtyInvalid
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := l.tx.ExecContext(ctx, `
		INSERT INTO order_items (`+lineItemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.OrderID, item.ProductID, item.Quantity, item.PriceMinor, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.LineItem{}, domain.ErrDuplicateLineItem
		}
		return domain.LineItem{}, fmt.Errorf("insert line item: %w", err)
	}
	return item, nil
}

func (l *orderLedger) UpdateLineItemQuantity(ctx context.Context, itemID string, quantity int32) error {
	if quantity <= 0 {
		return domain.ErrItemQtyInvalid
	}
	res, err := l.tx.ExecContext(ctx, `
		UPDATE order_items SET quantity = $2, updated_at = $3 WHERE id = $1
	`, itemID, quantity, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update line item quantity: %w", err)
	}
	return requireAffected(res, domain.ErrLineItemNotFound)
}

func (l *orderLedger) DeleteLineItem(ctx context.Context, itemID string) error {
	res, err := l.tx.ExecContext(ctx, `DELETE FROM order_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete line item: %w", err)
	}
	return requireAffected(res, domain.ErrLineItemNotFound)
}

// AdjustTotal меняет сумму одним UPDATE, без read-modify-write в приложении.
func (l *orderLedger) AdjustTotal(ctx context.Context, orderID string, delta int64) (int64, error) {
	var total int64
	err := l.tx.QueryRowContext(ctx, `
		UPDATE orders
		SET total_minor = total_minor + $2, updated_at = $3
		WHERE id = $1 AND total_minor + $2 >= 0
		RETURNING total_minor
	`, orderID, delta, time.Now().UTC()).Scan(&total)
	if err == nil {
		return total, nil
	}
	if isOutOfRange(err) {
		return 0, fmt.Errorf("order %s total %+d: %w", orderID, delta, domain.ErrAmountOverflow)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("adjust order total: %w", err)
	}

	exists, existsErr := l.orderExists(ctx, orderID)
	if existsErr != nil {
		return 0, existsErr
	}
	if !exists {
		return 0, domain.ErrOrderNotFound
	}
	return 0, fmt.Errorf("order %s total %+d: %w", orderID, delta, domain.ErrAmountNegative)
}

func (l *orderLedger) SetStatus(ctx context.Context, orderID string, to domain.OrderStatus) error {
	if !domain.OrderStatusOpen.CanTransition(to) {
		return fmt.Errorf("order %s -> %s: %w", orderID, to, domain.ErrInvalidStatusTransition)
	}

	res, err := l.tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'open'
	`, orderID, string(to), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for order status: %w", err)
	}
	if affected > 0 {
		return nil
	}

	exists, err := l.orderExists(ctx, orderID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return fmt.Errorf("order %s -> %s: %w", orderID, to, domain.ErrInvalidStatusTransition)
}

func (l *orderLedger) SetPaymentMethod(ctx context.Context, orderID string, method domain.PaymentMethod) error {
	res, err := l.tx.ExecContext(ctx, `
		UPDATE orders SET payment_method = $2, updated_at = $3 WHERE id = $1
	`, orderID, string(method), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update payment method: %w", err)
	}
	return requireAffected(res, domain.ErrOrderNotFound)
}

func (l *orderLedger) ListOrdersByUser(ctx context.Context, userID string, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := l.tx.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1 AND status = $2
		ORDER BY updated_at DESC, id DESC
		LIMIT $3
	`, userID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("select orders by user: %w", err)
	}

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	for i := range orders {
		orders[i].Items, err = l.ListLineItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (l *orderLedger) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := scanOrder(l.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	order.Items, err = l.ListLineItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (l *orderLedger) orderExists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	if err := l.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order exists: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order     domain.Order
		statusRaw string
		method    string
	)
	if err := row.Scan(
		&order.ID,
		&order.UserID,
		&statusRaw,
		&order.TotalMinor,
		&method,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(statusRaw)
	order.PaymentMethod = domain.PaymentMethod(method)
	if !order.Status.Valid() {
		return domain.Order{}, fmt.Errorf("order %s: %w", order.ID, domain.ErrOrderStatusInvalid)
	}
	return order, nil
}

func scanLineItem(row rowScanner) (domain.LineItem, error) {
	var item domain.LineItem
	err := row.Scan(
		&item.ID,
		&item.OrderID,
		&item.ProductID,
		&item.Quantity,
		&item.PriceMinor,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.OrderLedger = (*orderLedger)(nil)
