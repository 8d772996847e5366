package postgresrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/orderflow/internal/dal/postgres"
	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/notification"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var notificationColumns = []string{
	"id",
	"type",
	"payload",
	"target_roles",
	"is_read",
	"read_at",
	"created_at",
}

func scanNotification(row pgx.Row) (notification.Notification, error) {
	var (
		n       notification.Notification
		typ     string
		payload []byte
		roles   []string
	)
	if err := row.Scan(&n.ID, &typ, &payload, &roles, &n.IsRead, &n.ReadAt, &n.CreatedAt); err != nil {
		return notification.Notification{}, err
	}
	if err := json.Unmarshal(payload, &n.Payload); err != nil {
		return notification.Notification{}, fmt.Errorf("failed to unmarshal notification payload: %w", err)
	}
	n.Type = notification.Type(typ)
	n.TargetRoles = make([]notification.Role, len(roles))
	for i, r := range roles {
		n.TargetRoles[i] = notification.Role(r)
	}

	return n, nil
}

// NotificationRepository implements the notification repository for PostgreSQL.
type NotificationRepository struct {
	client *postgres.Client
	sb     sq.StatementBuilderType
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(client *postgres.Client) *NotificationRepository {
	return &NotificationRepository{
		client: client,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Insert stores a new notification.
func (r *NotificationRepository) Insert(ctx context.Context, n notification.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	roles := make([]string, len(n.TargetRoles))
	for i, role := range n.TargetRoles {
		roles[i] = string(role)
	}

	sql, args, err := r.sb.Insert("notifications").
		Columns("id", "type", "payload", "target_roles", "is_read", "created_at").
		Values(n.ID, string(n.Type), payload, roles, n.IsRead, n.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	if _, err := r.client.Pool().Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	return nil
}

// Get retrieves a notification by id.
func (r *NotificationRepository) Get(ctx context.Context, id uuid.UUID) (notification.Notification, error) {
	sql, args, err := r.sb.Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return notification.Notification{}, fmt.Errorf("failed to build select query: %w", err)
	}

	n, err := scanNotification(r.client.Pool().QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return notification.Notification{}, errs.ErrNotFound
	}
	if err != nil {
		return notification.Notification{}, fmt.Errorf("failed to get notification: %w", err)
	}

	return n, nil
}

// Dismiss marks an unread notification as read. Only one concurrent caller gets true.
func (r *NotificationRepository) Dismiss(
	ctx context.Context,
	id uuid.UUID,
	at time.Time,
) (notification.Notification, bool, error) {
	sql, args, err := r.sb.Update("notifications").
		Set("is_read", true).
		Set("read_at", at).
		Where(sq.Eq{"id": id, "is_read": false}).
		Suffix("RETURNING " + strings.Join(notificationColumns, ", ")).
		ToSql()
	if err != nil {
		return notification.Notification{}, false, fmt.Errorf("failed to build update query: %w", err)
	}

	n, err := scanNotification(r.client.Pool().QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := r.Get(ctx, id)
		if err != nil {
			return notification.Notification{}, false, err
		}

		return current, false, nil
	}
	if err != nil {
		return notification.Notification{}, false, fmt.Errorf("failed to dismiss notification: %w", err)
	}

	return n, true, nil
}

// ListUnread retrieves the unread notifications addressed to role, oldest first.
func (r *NotificationRepository) ListUnread(
	ctx context.Context,
	role notification.Role,
) ([]notification.Notification, error) {
	sql, args, err := r.sb.Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"is_read": false}).
		Where(sq.Expr("target_roles @> ARRAY[?]::text[]", string(role))).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.client.Pool().Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	result := []notification.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		result = append(result, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return result, nil
}
