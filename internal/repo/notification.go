package repo

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/BuzzLyutic/collab-tracker/internal/model"
)

const notificationColumns = `id, recipient_id, task_id, type, message, is_read, created_at, read_at`

type NotificationRepo struct {
	db DBTX
}

func NewNotificationRepo(db DBTX) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func scanNotification(row pgx.Row) (model.Notification, error) {
	var n model.Notification
	err := row.Scan(&n.ID, &n.RecipientID, &n.TaskID, &n.Type, &n.Message, &n.IsRead, &n.CreatedAt, &n.ReadAt)
	return n, err
}

func collectNotifications(rows pgx.Rows) ([]model.Notification, error) {
	defer rows.Close()

	out := make([]model.Notification, 0, 16)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepo) Create(ctx context.Context, n model.Notification) (model.Notification, error) {
	out, err := scanNotification(r.db.QueryRow(ctx, `
		INSERT INTO notifications (recipient_id, task_id, type, message)
		VALUES ($1, $2, $3, $4)
		RETURNING `+notificationColumns,
		n.RecipientID, n.TaskID, n.Type, n.Message))
	return out, mapError(err)
}

// ListUnread returns every unread notification for the user, oldest first.
func (r *NotificationRepo) ListUnread(ctx context.Context, userID int64) ([]model.Notification, error) {
	rows, err := r.db.Query(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE recipient_id = $1 AND NOT is_read
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

// List returns the newest notifications first.
func (r *NotificationRepo) List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]model.Notification, error) {
	rows, err := r.db.Query(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE recipient_id = $1 AND (NOT $2 OR NOT is_read)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

func (r *NotificationRepo) CountUnread(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND NOT is_read", userID).Scan(&n)
	return n, err
}

// MarkRead only touches notifications owned by userID.
func (r *NotificationRepo) MarkRead(ctx context.Context, userID int64, ids []int64) (int64, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = now()
		WHERE recipient_id = $1 AND id = ANY($2) AND NOT is_read
	`, userID, ids)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = now()
		WHERE recipient_id = $1 AND NOT is_read
	`, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
