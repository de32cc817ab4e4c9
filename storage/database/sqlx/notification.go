package sqlxrepos

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/notification"
)

type (
	notificationRow struct {
		ID          string      `db:"id"`
		RecipientID string      `db:"recipient_id"`
		Title       string      `db:"title"`
		Message     string      `db:"message"`
		Type        string      `db:"notification_type"`
		IsRead      bool        `db:"is_read"`
		ReadAt      null.Time   `db:"read_at"`
		ActionURL   null.String `db:"action_url"`
		Metadata    null.JSON   `db:"metadata"`
		CreatedAt   time.Time   `db:"created_at"`
	}

	notificationRepository struct {
		exec core.DBExecutor
	}
)

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(exec core.DBExecutor) notification.Repository {
	return &notificationRepository{exec: exec}
}

func (repo *notificationRepository) toRow(n notification.Notification) (notificationRow, error) {
	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return notificationRow{}, errors.Wrap(err, "encoding metadata")
	}
	return notificationRow{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Title:       n.Title,
		Message:     n.Message,
		Type:        string(n.Type),
		IsRead:      n.IsRead,
		ReadAt:      null.TimeFromPtr(n.ReadAt),
		ActionURL:   null.NewString(n.ActionURL, n.ActionURL != ""),
		Metadata:    null.JSONFrom(raw),
		CreatedAt:   n.CreatedAt.UTC(),
	}, nil
}

func (repo *notificationRepository) fromRow(row notificationRow) (notification.Notification, error) {
	n := notification.Notification{
		ID:          row.ID,
		RecipientID: row.RecipientID,
		Title:       row.Title,
		Message:     row.Message,
		Type:        notification.Type(row.Type),
		IsRead:      row.IsRead,
		ActionURL:   row.ActionURL.String,
		CreatedAt:   row.CreatedAt.UTC(),
	}
	if row.ReadAt.Valid {
		readAt := row.ReadAt.Time.UTC()
		n.ReadAt = &readAt
	}
	if row.Metadata.Valid && len(row.Metadata.JSON) > 0 {
		var metadata map[string]interface{}
		if err := row.Metadata.Unmarshal(&metadata); err != nil {
			return notification.Notification{}, errors.Wrap(err, "decoding metadata")
		}
		if len(metadata) > 0 {
			n.Metadata = metadata
		}
	}
	return n, nil
}

func (repo *notificationRepository) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	n.ID = uuid.New().String()
	row, err := repo.toRow(n)
	if err != nil {
		return notification.Notification{}, err
	}
	q := `INSERT INTO notifications (id, recipient_id, title, message, notification_type, is_read, read_at, action_url, metadata, created_at)
		VALUES (:id, :recipient_id, :title, :message, :notification_type, :is_read, :read_at, :action_url, :metadata, :created_at)`
	if _, err = repo.exec.NamedExecContext(ctx, q, row); err != nil {
		return notification.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return n, nil
}

func (repo *notificationRepository) GetNotification(ctx context.Context, id string) (notification.Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return notification.Notification{}, notification.ErrNotFound
	}
	var row notificationRow
	if err := repo.exec.GetContext(ctx, &row, `SELECT * FROM notifications WHERE id = $1`, id); err != nil {
		return notification.Notification{}, trapNoRowsErr(err, notification.ErrNotFound, "getting notification")
	}
	return repo.fromRow(row)
}

func (repo *notificationRepository) QueryNotifications(ctx context.Context, filter notification.QueryFilter) ([]notification.Notification, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.RecipientID != "" {
		where = append(where, "recipient_id = ?")
		args = append(args, filter.RecipientID)
	}
	if filter.IsRead != nil {
		where = append(where, "is_read = ?")
		args = append(args, *filter.IsRead)
	}
	if filter.Type != "" {
		where = append(where, "notification_type = ?")
		args = append(args, string(filter.Type))
	}

	q := `SELECT * FROM notifications`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + core.DBOrdering{Field: "created_at"}.String() + ", id DESC"
	if filter.Page.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, filter.Page.Limit, filter.Page.Offset)
	}

	var rows []notificationRow
	if err := repo.exec.SelectContext(ctx, &rows, repo.exec.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	ns := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		n, err := repo.fromRow(row)
		if err != nil {
			return nil, err
		}
		ns = append(ns, n)
	}
	return ns, nil
}

func (repo *notificationRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var count int
	q := `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND NOT is_read`
	if err := repo.exec.GetContext(ctx, &count, q, recipientID); err != nil {
		return 0, errors.Wrap(err, "counting unread notifications")
	}
	return count, nil
}

func (repo *notificationRepository) MarkRead(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
	q := `UPDATE notifications SET is_read = TRUE, read_at = $1 WHERE id = $2 AND recipient_id = $3 AND NOT is_read`
	res, err := repo.exec.ExecContext(ctx, q, at.UTC(), id, recipientID)
	if err != nil {
		return false, errors.Wrap(err, "marking notification read")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "marking notification read")
	}
	return n > 0, nil
}

func (repo *notificationRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	q := `UPDATE notifications SET is_read = TRUE, read_at = $1 WHERE recipient_id = $2 AND NOT is_read`
	res, err := repo.exec.ExecContext(ctx, q, at.UTC(), recipientID)
	if err != nil {
		return 0, errors.Wrap(err, "marking all notifications read")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "marking all notifications read")
	}
	return int(n), nil
}
