package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	notifications "incident-cloud/internal/notifications/domain"
)

const defaultNotificationsTable = "notifications"

// NotificationRepository is a Postgres repository for notifications.
type NotificationRepository struct {
	db    *sql.DB
	table string
}

// NotificationOption configures the repository.
type NotificationOption func(*NotificationRepository)

// WithNotificationsTable overrides the table name.
func WithNotificationsTable(table string) NotificationOption {
	return func(r *NotificationRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewNotificationRepository constructs a repository.
func NewNotificationRepository(db *sql.DB, opts ...NotificationOption) *NotificationRepository {
	repo := &NotificationRepository{db: db, table: defaultNotificationsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Save inserts a notification.
func (r *NotificationRepository) Save(ctx context.Context, notification *notifications.Notification) error {
	if r == nil || r.db == nil {
		return errors.New("notification repo: nil db")
	}
	if notification == nil || notification.ID == "" {
		return errors.New("notification repo: missing notification id")
	}
	data := []byte("{}")
	if len(notification.Data) > 0 {
		encoded, err := json.Marshal(notification.Data)
		if err != nil {
			return err
		}
		data = encoded
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	notification_id, employee_id, incident_id, type, severity,
	title, message, data, is_read, created_at, read_at
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9, $10, $11
)
ON CONFLICT (notification_id) DO NOTHING`, r.table)
	res, err := r.db.ExecContext(ctx, query,
		notification.ID,
		notification.EmployeeID,
		nullableString(notification.IncidentID),
		notification.Type,
		notification.Severity,
		notification.Title,
		notification.Message,
		data,
		notification.IsRead,
		notification.CreatedAt.UTC(),
		nullableTime(notification.ReadAt),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", notifications.ErrDuplicate, notification.ID)
	}
	return nil
}

// ListByEmployee returns notifications newest first.
func (r *NotificationRepository) ListByEmployee(ctx context.Context, employeeID string, unreadOnly bool, limit int) ([]notifications.Notification, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("notification repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT notification_id, employee_id, incident_id, type, severity,
	title, message, data, is_read, created_at, read_at
FROM %s
WHERE employee_id = $1 AND ($2::boolean = FALSE OR is_read = FALSE)
ORDER BY created_at DESC, id DESC
LIMIT $3`, r.table)
	rows, err := r.db.QueryContext(ctx, query, employeeID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notifications.Notification
	for rows.Next() {
		var item notifications.Notification
		var incidentID sql.NullString
		var data []byte
		var readAt sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&item.EmployeeID,
			&incidentID,
			&item.Type,
			&item.Severity,
			&item.Title,
			&item.Message,
			&data,
			&item.IsRead,
			&item.CreatedAt,
			&readAt,
		); err != nil {
			return nil, err
		}
		item.IncidentID = incidentID.String
		if len(data) > 0 {
			if err := json.Unmarshal(data, &item.Data); err != nil {
				return nil, err
			}
		}
		if readAt.Valid {
			at := readAt.Time.UTC()
			item.ReadAt = &at
		}
		item.CreatedAt = item.CreatedAt.UTC()
		result = append(result, item)
	}
	return result, rows.Err()
}

// UnreadCount counts unread notifications.
func (r *NotificationRepository) UnreadCount(ctx context.Context, employeeID string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("notification repo: nil db")
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE employee_id = $1 AND is_read = FALSE`, r.table)
	var count int
	if err := r.db.QueryRowContext(ctx, query, employeeID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// MarkRead marks one notification. Already-read notifications keep their read_at.
func (r *NotificationRepository) MarkRead(ctx context.Context, notificationID string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("notification repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET is_read = TRUE, read_at = COALESCE(read_at, $1)
WHERE notification_id = $2`, r.table)
	res, err := r.db.ExecContext(ctx, query, at.UTC(), notificationID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", notifications.ErrNotFound, notificationID)
	}
	return nil
}

// MarkAllRead marks every unread notification of the employee.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, employeeID string, at time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("notification repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET is_read = TRUE, read_at = $1
WHERE employee_id = $2 AND is_read = FALSE`, r.table)
	res, err := r.db.ExecContext(ctx, query, at.UTC(), employeeID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkIncidentRead marks the employee's unread notifications for an incident.
func (r *NotificationRepository) MarkIncidentRead(ctx context.Context, incidentID, employeeID string, at time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("notification repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET is_read = TRUE, read_at = $1
WHERE incident_id = $2 AND employee_id = $3 AND is_read = FALSE`, r.table)
	res, err := r.db.ExecContext(ctx, query, at.UTC(), incidentID, employeeID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}
