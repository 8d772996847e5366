package postgresrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/orderflow/internal/dal/postgres"
	orderitemrepo "github.com/corray333/backend-labs/orderflow/internal/dal/repositories/orderitem/postgres"
	"github.com/corray333/backend-labs/orderflow/internal/dal/uow"
	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/sideeffect"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// OrderDal represents order data access layer model.
type OrderDal struct {
	Id              int64           `db:"id"`
	OrderNumber     int64           `db:"order_number"`
	OrderType       string          `db:"order_type"`
	TableNumber     *int            `db:"table_number"`
	CustomerName    string          `db:"customer_name"`
	CustomerPhone   string          `db:"customer_phone"`
	Status          string          `db:"status"`
	Subtotal        decimal.Decimal `db:"subtotal"`
	Discount        decimal.Decimal `db:"discount"`
	Total           decimal.Decimal `db:"total"`
	Notes           string          `db:"notes"`
	RejectionReason string          `db:"rejection_reason"`
	PaymentMethod   string          `db:"payment_method"`
	ConfirmedAt     *time.Time      `db:"confirmed_at"`
	PreparingAt     *time.Time      `db:"preparing_at"`
	ReadyAt         *time.Time      `db:"ready_at"`
	DeliveredAt     *time.Time      `db:"delivered_at"`
	PaidAt          *time.Time      `db:"paid_at"`
	CancelledAt     *time.Time      `db:"cancelled_at"`
	Version         int64           `db:"version"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// ToModel converts OrderDal to service layer Order model.
func (o *OrderDal) ToModel() order.Order {
	return order.Order{
		ID:              o.Id,
		OrderNumber:     o.OrderNumber,
		Type:            order.Type(o.OrderType),
		TableNumber:     o.TableNumber,
		CustomerName:    o.CustomerName,
		CustomerPhone:   o.CustomerPhone,
		Status:          order.Status(o.Status),
		Subtotal:        o.Subtotal,
		Discount:        o.Discount,
		Total:           o.Total,
		Notes:           o.Notes,
		RejectionReason: o.RejectionReason,
		PaymentMethod:   o.PaymentMethod,
		ConfirmedAt:     o.ConfirmedAt,
		PreparingAt:     o.PreparingAt,
		ReadyAt:         o.ReadyAt,
		DeliveredAt:     o.DeliveredAt,
		PaidAt:          o.PaidAt,
		CancelledAt:     o.CancelledAt,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		OrderItems:      []orderitem.OrderItem{}, // Will be populated separately
	}
}

var orderColumns = []string{
	"id",
	"order_number",
	"order_type",
	"table_number",
	"customer_name",
	"customer_phone",
	"status",
	"subtotal",
	"discount",
	"total",
	"notes",
	"rejection_reason",
	"payment_method",
	"confirmed_at",
	"preparing_at",
	"ready_at",
	"delivered_at",
	"paid_at",
	"cancelled_at",
	"version",
	"created_at",
	"updated_at",
}

var returningOrder = "RETURNING " + strings.Join(orderColumns, ", ")

func scanOrder(row pgx.Row) (order.Order, error) {
	var dal OrderDal
	err := row.Scan(
		&dal.Id,
		&dal.OrderNumber,
		&dal.OrderType,
		&dal.TableNumber,
		&dal.CustomerName,
		&dal.CustomerPhone,
		&dal.Status,
		&dal.Subtotal,
		&dal.Discount,
		&dal.Total,
		&dal.Notes,
		&dal.RejectionReason,
		&dal.PaymentMethod,
		&dal.ConfirmedAt,
		&dal.PreparingAt,
		&dal.ReadyAt,
		&dal.DeliveredAt,
		&dal.PaidAt,
		&dal.CancelledAt,
		&dal.Version,
		&dal.CreatedAt,
		&dal.UpdatedAt,
	)
	if err != nil {
		return order.Order{}, err
	}

	return dal.ToModel(), nil
}

// errNotApplied rolls back a transaction whose guard did not hold.
var errNotApplied = errors.New("conditional update not applied")

// PostgresOrderRepository represents a Postgres order repository.
type PostgresOrderRepository struct {
	client *postgres.Client
	uow    *uow.UnitOfWork
	sb     sq.StatementBuilderType
}

// NewPostgresOrderRepository creates a new Postgres order repository.
func NewPostgresOrderRepository(client *postgres.Client) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		client: client,
		uow:    uow.NewUnitOfWork(client),
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Create inserts the order and its items in one transaction.
func (r *PostgresOrderRepository) Create(ctx context.Context, o order.Order) (order.Order, error) {
	var created order.Order

	err := r.uow.Do(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sql, args, err := r.sb.Insert("orders").
			Columns(
				"order_type",
				"table_number",
				"customer_name",
				"customer_phone",
				"status",
				"subtotal",
				"discount",
				"total",
				"notes",
				"version",
				"created_at",
				"updated_at",
			).
			Values(
				string(o.Type),
				o.TableNumber,
				o.CustomerName,
				o.CustomerPhone,
				string(o.Status),
				o.Subtotal,
				o.Discount,
				o.Total,
				o.Notes,
				o.Version,
				o.CreatedAt,
				o.UpdatedAt,
			).
			Suffix(returningOrder).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert query: %w", err)
		}

		created, err = scanOrder(tx.QueryRow(ctx, sql, args...))
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		items, err := orderitemrepo.NewPostgresOrderItemRepository(tx).BulkInsert(ctx, created.ID, o.OrderItems)
		if err != nil {
			return err
		}
		created.OrderItems = items

		return nil
	})
	if err != nil {
		return order.Order{}, err
	}

	return created, nil
}

// Get retrieves a single order with its items.
func (r *PostgresOrderRepository) Get(ctx context.Context, id int64) (order.Order, error) {
	return r.get(ctx, r.client.Pool(), id)
}

func (r *PostgresOrderRepository) get(ctx context.Context, conn postgres.GenericConn, id int64) (order.Order, error) {
	sql, args, err := r.sb.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to build query: %w", err)
	}

	o, err := scanOrder(conn.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Order{}, errs.ErrNotFound
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to get order: %w", err)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, conn, orders); err != nil {
		return order.Order{}, err
	}

	return orders[0], nil
}

// ListByStatus retrieves every order in one of the given statuses.
func (r *PostgresOrderRepository) ListByStatus(ctx context.Context, statuses []order.Status) ([]order.Order, error) {
	return r.Query(ctx, &order.QueryOrdersModel{Statuses: statuses})
}

// Query retrieves orders based on filter criteria.
func (r *PostgresOrderRepository) Query(ctx context.Context, filter *order.QueryOrdersModel) ([]order.Order, error) {
	query := r.sb.Select(orderColumns...).
		From("orders").
		OrderBy("created_at", "id")

	if len(filter.Ids) > 0 {
		query = query.Where(sq.Eq{"id": filter.Ids})
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query = query.Where(sq.Eq{"status": statuses})
	}

	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}

	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.client.Pool().Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	result := []order.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		result = append(result, o)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	if err := r.attachItems(ctx, r.client.Pool(), result); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PostgresOrderRepository) attachItems(ctx context.Context, conn postgres.GenericConn, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	filter := &orderitem.QueryOrderItemsModel{}
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		filter.OrderIds = append(filter.OrderIds, o.ID)
		index[o.ID] = i
	}

	items, err := orderitemrepo.NewPostgresOrderItemRepository(conn).Query(ctx, filter)
	if err != nil {
		return err
	}

	for _, item := range items {
		i := index[item.OrderID]
		orders[i].OrderItems = append(orders[i].OrderItems, item)
	}

	return nil
}

// ConditionalUpdate applies a status compare-and-swap together with its transition log row
// and side-effect marker.
func (r *PostgresOrderRepository) ConditionalUpdate(
	ctx context.Context,
	upd order.ConditionalUpdate,
) (order.Order, bool, error) {
	var updated order.Order

	err := r.uow.Do(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if upd.RequireItemsDone {
			// Item toggles lock the same row, so the item check below sees a settled set.
			if _, err := tx.Exec(ctx, "SELECT 1 FROM orders WHERE id = $1 FOR UPDATE", upd.OrderID); err != nil {
				return fmt.Errorf("failed to lock order: %w", err)
			}
		}

		query := r.sb.Update("orders").
			Set("status", string(upd.Target)).
			Set("version", sq.Expr("version + 1")).
			Set("updated_at", upd.At).
			Where(sq.Eq{
				"id":     upd.OrderID,
				"status": string(upd.Expected),
			})

		if col := order.TimestampColumn(upd.Target); col != "" {
			query = query.Set(col, sq.Expr("COALESCE("+col+", ?)", upd.At))
		}
		if upd.Fields.RejectionReason != "" {
			query = query.Set("rejection_reason", upd.Fields.RejectionReason)
		}
		if upd.Fields.PaymentMethod != "" {
			query = query.Set("payment_method", upd.Fields.PaymentMethod)
		}
		if upd.RequireItemsDone {
			query = query.Where(
				"NOT EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = orders.id AND oi.status <> ?)",
				string(orderitem.StatusDone),
			)
		}

		sql, args, err := query.Suffix(returningOrder).ToSql()
		if err != nil {
			return fmt.Errorf("failed to build update query: %w", err)
		}

		o, err := scanOrder(tx.QueryRow(ctx, sql, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			return errNotApplied
		}
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		if err := r.insertTransition(ctx, tx, upd); err != nil {
			return err
		}

		if upd.SideEffect != nil {
			if err := r.insertMarker(ctx, tx, *upd.SideEffect); err != nil {
				return err
			}
		}

		updated = o

		return nil
	})
	if errors.Is(err, errNotApplied) {
		current, err := r.Get(ctx, upd.OrderID)
		if err != nil {
			return order.Order{}, false, err
		}

		return current, false, nil
	}
	if err != nil {
		return order.Order{}, false, err
	}

	orders := []order.Order{updated}
	if err := r.attachItems(ctx, r.client.Pool(), orders); err != nil {
		return order.Order{}, false, err
	}

	return orders[0], true, nil
}

func (r *PostgresOrderRepository) insertTransition(ctx context.Context, tx pgx.Tx, upd order.ConditionalUpdate) error {
	sql, args, err := r.sb.Insert("order_transitions").
		Columns("order_id", "from_status", "to_status", "reason", "created_at").
		Values(upd.OrderID, string(upd.Expected), string(upd.Target), upd.Fields.RejectionReason, upd.At).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to insert order transition: %w", err)
	}

	return nil
}

func (r *PostgresOrderRepository) insertMarker(ctx context.Context, tx pgx.Tx, m sideeffect.Marker) error {
	sql, args, err := r.sb.Insert("side_effects").
		Columns("order_id", "kind", "state", "amount", "payment_method", "created_at", "updated_at").
		Values(m.OrderID, string(m.Kind), string(sideeffect.StatePending), m.Amount, m.PaymentMethod, m.CreatedAt, m.CreatedAt).
		Suffix("ON CONFLICT (order_id, kind) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to insert side effect marker: %w", err)
	}

	return nil
}

// SetItemStatus toggles an item of a preparing order and bumps the order version.
func (r *PostgresOrderRepository) SetItemStatus(ctx context.Context, upd order.ItemUpdate) (order.Order, bool, error) {
	var updated order.Order

	err := r.uow.Do(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sql, args, err := r.sb.Update("orders").
			Set("version", sq.Expr("version + 1")).
			Set("updated_at", upd.At).
			Where(sq.Eq{
				"id":     upd.OrderID,
				"status": string(order.StatusPreparing),
			}).
			Suffix(returningOrder).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build update query: %w", err)
		}

		o, err := scanOrder(tx.QueryRow(ctx, sql, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			return errNotApplied
		}
		if err != nil {
			return fmt.Errorf("failed to bump order version: %w", err)
		}

		ok, err := orderitemrepo.NewPostgresOrderItemRepository(tx).
			UpdateStatus(ctx, upd.OrderID, upd.ItemID, upd.Expected, upd.Target, upd.At)
		if err != nil {
			return err
		}
		if !ok {
			return errNotApplied
		}

		updated = o

		return nil
	})
	if errors.Is(err, errNotApplied) {
		current, err := r.Get(ctx, upd.OrderID)
		if err != nil {
			return order.Order{}, false, err
		}

		return current, false, nil
	}
	if err != nil {
		return order.Order{}, false, err
	}

	orders := []order.Order{updated}
	if err := r.attachItems(ctx, r.client.Pool(), orders); err != nil {
		return order.Order{}, false, err
	}

	return orders[0], true, nil
}

// ListTransitions returns the committed transitions of an order, oldest first.
func (r *PostgresOrderRepository) ListTransitions(ctx context.Context, orderID int64) ([]order.Transition, error) {
	sql, args, err := r.sb.Select("id", "order_id", "from_status", "to_status", "reason", "created_at").
		From("order_transitions").
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.client.Pool().Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order transitions: %w", err)
	}
	defer rows.Close()

	result := []order.Transition{}
	for rows.Next() {
		var (
			t        order.Transition
			from, to string
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &from, &to, &t.Reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order transition: %w", err)
		}
		t.From = order.Status(from)
		t.To = order.Status(to)
		result = append(result, t)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}
