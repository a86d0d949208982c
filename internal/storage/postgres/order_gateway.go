package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

const orderColumns = `id, customer_name, customer_email, customer_phone, shipping_address,
	subtotal, shipping_cost, tax_amount, total_amount, status, payment_status, created_at, updated_at`

type orderGateway struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrderGateway создаёт PostgreSQL-реализацию OrderGateway.
// Заказ, его позиции и outbox-событие пишутся одной транзакцией.
func NewOrderGateway(store *Store) domain.OrderGateway {
	return &orderGateway{db: store.DB(), now: func() time.Time { return time.Now().UTC() }}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o             domain.Order
		status, paySt string
	)
	err := row.Scan(
		&o.ID, &o.CustomerName, &o.CustomerEmail, &o.CustomerPhone, &o.Address,
		&o.Subtotal, &o.ShippingCost, &o.TaxAmount, &o.TotalAmount,
		&status, &paySt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(paySt)
	return o, nil
}

func (g *orderGateway) SubmitOrder(ctx context.Context, draft domain.OrderDraft) (order domain.Order, err error) {
	if errs := draft.Validate(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("invalid order draft: %w", errs[0])
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order = domain.OrderFromDraft(uuid.NewString(), draft, g.now())

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		order.ID, order.CustomerName, order.CustomerEmail, order.CustomerPhone, order.Address,
		order.Subtotal, order.ShippingCost, order.TaxAmount, order.TotalAmount,
		string(order.Status), string(order.PaymentStatus), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Order{}, fmt.Errorf("order id collision: %w", err)
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, price)
			VALUES ($1,$2,$3,$4,$5)
		`, order.ID, item.ProductID, item.ProductName, item.Quantity, item.Price); err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = enqueueOrderEvent(ctx, tx, domain.EventOrderCreated, order, order.CreatedAt); err != nil {
		return domain.Order{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit submit order: %w", err)
	}
	return order, nil
}

func (g *orderGateway) UpdateOrderField(ctx context.Context, id string, field domain.OrderField, value string) (order domain.Order, err error) {
	normalized, err := field.ValidateValue(value)
	if err != nil {
		return domain.Order{}, err
	}
	// Имя колонки берётся только из белого списка OrderField.
	column := string(field)

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := g.now()
	order, err = scanOrder(tx.QueryRowContext(ctx, `
		UPDATE orders
		SET `+column+` = $1, updated_at = $2
		WHERE id = $3
		RETURNING `+orderColumns,
		normalized, now, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("update order %s: %w", column, err)
	}

	items, err := loadItems(ctx, tx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]

	if err = enqueueOrderEvent(ctx, tx, domain.EventForField(field), order, now); err != nil {
		return domain.Order{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit update order: %w", err)
	}
	return order, nil
}

func (g *orderGateway) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(g.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := loadItems(ctx, g.db, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (g *orderGateway) ListOrders(ctx context.Context, filter domain.OrderFilter, limit int, sort domain.OrderSort) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where, args := buildOrderWhere(filter)
	query := `SELECT ` + orderColumns + ` FROM orders` + where + orderBy(sort)
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	ids := make([]string, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	if len(ids) == 0 {
		return orders, nil
	}

	items, err := loadItems(ctx, g.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (g *orderGateway) CountOrders(ctx context.Context, filter domain.OrderFilter) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where, args := buildOrderWhere(filter)
	var n int
	if err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (g *orderGateway) SumField(ctx context.Context, filter domain.OrderFilter, field domain.AmountField) (decimal.Decimal, error) {
	if !field.Valid() {
		return decimal.Zero, domain.ErrInvalidAmountField
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where, args := buildOrderWhere(filter)
	var sum decimal.Decimal
	if err := g.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(`+string(field)+`), 0) FROM orders`+where, args...,
	).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum orders %s: %w", field, err)
	}
	return sum, nil
}

// buildOrderWhere собирает условие WHERE с позиционными аргументами.
func buildOrderWhere(f domain.OrderFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", string(f.PaymentStatus))
	}
	if f.ExcludeStatus != "" {
		add("status <> $%d", string(f.ExcludeStatus))
	}
	if f.CustomerEmail != "" {
		add("lower(customer_email) = lower($%d)", f.CustomerEmail)
	}
	if !f.CreatedFrom.IsZero() {
		add("created_at >= $%d", f.CreatedFrom)
	}
	if !f.CreatedTo.IsZero() {
		add("created_at < $%d", f.CreatedTo)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderBy(s domain.OrderSort) string {
	switch s {
	case domain.OrderSortOldest:
		return " ORDER BY created_at ASC, id DESC"
	case domain.OrderSortTotalDesc:
		return " ORDER BY total_amount DESC, id DESC"
	default:
		return " ORDER BY created_at DESC, id DESC"
	}
}

func loadItems(ctx context.Context, q queryer, orderIDs []string) (map[string][]domain.OrderLine, error) {
	placeholders := make([]string, len(orderIDs))
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := q.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, quantity, price
		FROM order_items
		WHERE order_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY order_id, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			item    domain.OrderLine
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		result[orderID] = append(result[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return result, nil
}

func enqueueOrderEvent(ctx context.Context, tx *sql.Tx, eventType string, order domain.Order, at time.Time) error {
	msg, err := domain.NewOrderOutboxMessage(eventType, order)
	if err != nil {
		return fmt.Errorf("build outbox message: %w", err)
	}
	if _, err := insertOutbox(ctx, tx, msg, at); err != nil {
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderGateway = (*orderGateway)(nil)
