package postgresrepo

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/orderflow/internal/dal/postgres"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/orderitem"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// OrderItemDal represents order item data access layer model.
type OrderItemDal struct {
	Id         int64           `db:"id"`
	OrderId    int64           `db:"order_id"`
	MenuItemId int64           `db:"menu_item_id"`
	Name       string          `db:"name"`
	Quantity   int             `db:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price"`
	TotalPrice decimal.Decimal `db:"total_price"`
	Status     string          `db:"status"`
	Notes      string          `db:"notes"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// ToModel converts OrderItemDal to service layer OrderItem model.
func (oi *OrderItemDal) ToModel() orderitem.OrderItem {
	return orderitem.OrderItem{
		ID:         oi.Id,
		OrderID:    oi.OrderId,
		MenuItemID: oi.MenuItemId,
		Name:       oi.Name,
		Quantity:   oi.Quantity,
		UnitPrice:  oi.UnitPrice,
		TotalPrice: oi.TotalPrice,
		Status:     orderitem.Status(oi.Status),
		Notes:      oi.Notes,
		CreatedAt:  oi.CreatedAt,
		UpdatedAt:  oi.UpdatedAt,
	}
}

var itemColumns = []string{
	"id",
	"order_id",
	"menu_item_id",
	"name",
	"quantity",
	"unit_price",
	"total_price",
	"status",
	"notes",
	"created_at",
	"updated_at",
}

func scanItem(row pgx.Row) (orderitem.OrderItem, error) {
	var dal OrderItemDal
	err := row.Scan(
		&dal.Id,
		&dal.OrderId,
		&dal.MenuItemId,
		&dal.Name,
		&dal.Quantity,
		&dal.UnitPrice,
		&dal.TotalPrice,
		&dal.Status,
		&dal.Notes,
		&dal.CreatedAt,
		&dal.UpdatedAt,
	)
	if err != nil {
		return orderitem.OrderItem{}, err
	}

	return dal.ToModel(), nil
}

// PostgresOrderItemRepository represents a Postgres order item repository.
type PostgresOrderItemRepository struct {
	conn postgres.GenericConn
	sb   sq.StatementBuilderType
}

// NewPostgresOrderItemRepository creates a new Postgres order item repository.
func NewPostgresOrderItemRepository(conn postgres.GenericConn) *PostgresOrderItemRepository {
	return &PostgresOrderItemRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// BulkInsert inserts the items of one order and returns them with IDs.
func (r *PostgresOrderItemRepository) BulkInsert(
	ctx context.Context,
	orderID int64,
	items []orderitem.OrderItem,
) ([]orderitem.OrderItem, error) {
	if len(items) == 0 {
		return []orderitem.OrderItem{}, nil
	}

	query := r.sb.Insert("order_items").
		Columns(
			"order_id",
			"menu_item_id",
			"name",
			"quantity",
			"unit_price",
			"total_price",
			"status",
			"notes",
			"created_at",
			"updated_at",
		)
	for _, it := range items {
		query = query.Values(
			orderID,
			it.MenuItemID,
			it.Name,
			it.Quantity,
			it.UnitPrice,
			it.TotalPrice,
			string(it.Status),
			it.Notes,
			it.CreatedAt,
			it.UpdatedAt,
		)
	}

	sql, args, err := query.Suffix("RETURNING " + strings.Join(itemColumns, ", ")).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build insert query: %w", err)
	}

	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk insert order items: %w", err)
	}
	defer rows.Close()

	result := make([]orderitem.OrderItem, 0, len(items))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		result = append(result, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

// Query retrieves order items based on filter criteria.
func (r *PostgresOrderItemRepository) Query(
	ctx context.Context,
	filter *orderitem.QueryOrderItemsModel,
) ([]orderitem.OrderItem, error) {
	query := r.sb.
		Select(itemColumns...).
		From("order_items").
		OrderBy("order_id", "id")

	if len(filter.Ids) > 0 {
		query = query.Where(sq.Eq{"id": filter.Ids})
	}

	if len(filter.OrderIds) > 0 {
		query = query.Where(sq.Eq{"order_id": filter.OrderIds})
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query = query.Where(sq.Eq{"status": statuses})
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var result []orderitem.OrderItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		result = append(result, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

// UpdateStatus sets the status of an item if it currently has the expected one.
// It reports whether a row was changed.
func (r *PostgresOrderItemRepository) UpdateStatus(
	ctx context.Context,
	orderID, itemID int64,
	expected, target orderitem.Status,
	at time.Time,
) (bool, error) {
	sql, args, err := r.sb.Update("order_items").
		Set("status", string(target)).
		Set("updated_at", at).
		Where(sq.Eq{
			"id":       itemID,
			"order_id": orderID,
			"status":   string(expected),
		}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build update query: %w", err)
	}

	tag, err := r.conn.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update order item status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
