package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const orderColumns = `
	o.id, o.total_amount, o.total_items, o.status, o.paid, o.paid_at,
	o.stripe_charge_id, o.created_at, o.updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (created domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, total_amount, total_items, status, paid, created_at, updated_at
		) VALUES ($1,$2,$3,$4,FALSE,$5,$6)
	`,
		order.ID, order.TotalAmount, order.TotalItems, string(order.Status),
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Order{}, domain.ErrOrderAlreadyExists
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	items := make([]domain.OrderItem, 0, len(order.Items))
	for position, item := range order.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.OrderID = order.ID
		item.Name = ""
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, price, quantity, position
			) VALUES ($1,$2,$3,$4,$5,$6)
		`,
			item.ID, order.ID, item.ProductID, item.Price, item.Quantity, position,
		); err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}
		items = append(items, item)
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit create order: %w", err)
	}

	order.Items = items
	order.Receipt = nil
	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.get(ctx, id)
}

func (r *orderRepository) get(ctx context.Context, id string) (domain.Order, error) {
	var (
		receiptID, receiptURL         sql.NullString
		receiptCreated, receiptUpdate sql.NullTime
	)

	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`,
		       rc.id, rc.receipt_url, rc.created_at, rc.updated_at
		FROM orders o
		LEFT JOIN order_receipts rc ON rc.order_id = o.id
		WHERE o.id = $1
	`, id)

	order, err := scanOrder(row, &receiptID, &receiptURL, &receiptCreated, &receiptUpdate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	if receiptID.Valid {
		order.Receipt = &domain.OrderReceipt{
			ID:         receiptID.String,
			OrderID:    order.ID,
			ReceiptURL: receiptURL.String,
			CreatedAt:  receiptCreated.Time.UTC(),
			UpdatedAt:  receiptUpdate.Time.UTC(),
		}
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.ListFilter) (domain.OrderPage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var status any
	if filter.Status != nil {
		status = string(*filter.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM orders o
		WHERE ($1::text IS NULL OR o.status = $1::text)
	`, status).Scan(&total); err != nil {
		return domain.OrderPage{}, fmt.Errorf("count orders: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		WHERE ($1::text IS NULL OR o.status = $1::text)
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $2 OFFSET $3
	`, status, filter.Limit, filter.Offset())
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, filter.Limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.OrderPage{}, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderPage{}, fmt.Errorf("iterate order rows: %w", err)
	}

	return domain.NewOrderPage(orders, total, filter), nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Совпадающий статус не переписывается, updated_at остаётся прежним.
	if _, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status <> $2
	`, id, string(status), time.Now().UTC()); err != nil {
		return domain.Order{}, fmt.Errorf("update order status: %w", err)
	}

	return r.get(ctx, id)
}

func (r *orderRepository) MarkPaid(ctx context.Context, confirmation domain.PaymentConfirmation) (paid domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    paid = TRUE,
		    paid_at = $3,
		    stripe_charge_id = $4,
		    updated_at = $3
		WHERE id = $1
	`, confirmation.OrderID, string(domain.OrderStatusPaid), now, confirmation.ChargeID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("mark order paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		err = domain.ErrOrderNotFound
		return domain.Order{}, err
	}

	// Один чек на заказ: повторное подтверждение перезаписывает ссылку.
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO order_receipts (id, order_id, receipt_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT (order_id) DO UPDATE
		SET receipt_url = EXCLUDED.receipt_url,
		    updated_at = EXCLUDED.updated_at
	`, uuid.NewString(), confirmation.OrderID, confirmation.ReceiptURL, now); err != nil {
		return domain.Order{}, fmt.Errorf("upsert order receipt: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit mark paid: %w", err)
	}

	return r.get(ctx, confirmation.OrderID)
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, price, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		item := domain.OrderItem{OrderID: orderID}
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Price, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanOrder читает колонки orderColumns; extra добавляются в конец Scan.
func scanOrder(row rowScanner, extra ...any) (domain.Order, error) {
	var (
		order    domain.Order
		status   string
		paidAt   sql.NullTime
		chargeID sql.NullString
	)

	dest := []any{
		&order.ID, &order.TotalAmount, &order.TotalItems, &status, &order.Paid, &paidAt,
		&chargeID, &order.CreatedAt, &order.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		order.PaidAt = &t
	}
	if chargeID.Valid {
		id := chargeID.String
		order.StripeChargeID = &id
	}
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
