package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/messaging"
)

type (
	messageRow struct {
		ID                  string    `db:"id"`
		SenderID            string    `db:"sender_id"`
		Subject             string    `db:"subject"`
		Body                string    `db:"body"`
		Type                string    `db:"message_type"`
		IsUrgent            bool      `db:"is_urgent"`
		ReadReceiptRequired bool      `db:"read_receipt_required"`
		CreatedAt           time.Time `db:"created_at"`
		UpdatedAt           time.Time `db:"updated_at"`
	}

	recipientRow struct {
		MessageID   string    `db:"message_id"`
		RecipientID string    `db:"recipient_id"`
		IsRead      bool      `db:"is_read"`
		ReadAt      null.Time `db:"read_at"`
		IsArchived  bool      `db:"is_archived"`
		IsDeleted   bool      `db:"is_deleted"`
	}

	inboxRow struct {
		messageRow
		RecipientIsRead bool      `db:"recipient_is_read"`
		RecipientReadAt null.Time `db:"recipient_read_at"`
	}

	messageRepository struct {
		db *sqlx.DB
	}
)

var _ messaging.Repository = (*messageRepository)(nil) // interface compliance check

// NewMessageRepository needs the pool itself since a message and its recipients are written in one transaction.
func NewMessageRepository(db *sqlx.DB) messaging.Repository {
	return &messageRepository{db: db}
}

func (repo *messageRepository) toRow(msg messaging.Message) messageRow {
	return messageRow{
		ID:                  msg.ID,
		SenderID:            msg.SenderID,
		Subject:             msg.Subject,
		Body:                msg.Body,
		Type:                string(msg.Type),
		IsUrgent:            msg.IsUrgent,
		ReadReceiptRequired: msg.ReadReceiptRequired,
		CreatedAt:           msg.CreatedAt.UTC(),
		UpdatedAt:           msg.UpdatedAt.UTC(),
	}
}

func (repo *messageRepository) fromRow(row messageRow) messaging.Message {
	return messaging.Message{
		ID:                  row.ID,
		SenderID:            row.SenderID,
		Subject:             row.Subject,
		Body:                row.Body,
		Type:                messaging.Type(row.Type),
		IsUrgent:            row.IsUrgent,
		ReadReceiptRequired: row.ReadReceiptRequired,
		CreatedAt:           row.CreatedAt.UTC(),
		UpdatedAt:           row.UpdatedAt.UTC(),
	}
}

func timePtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func (repo *messageRepository) CreateMessage(ctx context.Context, msg messaging.Message, recipientIDs []string) (_ messaging.Message, err error) {
	msg.ID = uuid.New().String()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return messaging.Message{}, errors.Wrap(err, "starting transaction")
	}
	var exec core.DBTransactor = tx
	defer func() {
		if err != nil {
			_ = exec.Rollback()
		}
	}()

	q := `INSERT INTO messages (id, sender_id, subject, body, message_type, is_urgent, read_receipt_required, created_at, updated_at)
		VALUES (:id, :sender_id, :subject, :body, :message_type, :is_urgent, :read_receipt_required, :created_at, :updated_at)`
	if _, err = exec.NamedExecContext(ctx, q, repo.toRow(msg)); err != nil {
		return messaging.Message{}, errors.Wrap(err, "inserting message")
	}

	q = `INSERT INTO message_recipients (message_id, recipient_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	for _, id := range recipientIDs {
		if _, err = exec.ExecContext(ctx, q, msg.ID, id); err != nil {
			return messaging.Message{}, errors.Wrap(err, "inserting message recipient")
		}
	}

	if err = exec.Commit(); err != nil {
		return messaging.Message{}, errors.Wrap(err, "committing message")
	}
	return msg, nil
}

func (repo *messageRepository) GetMessage(ctx context.Context, id string) (messaging.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return messaging.Message{}, messaging.ErrNotFound
	}
	var row messageRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM messages WHERE id = $1`, id); err != nil {
		return messaging.Message{}, trapNoRowsErr(err, messaging.ErrNotFound, "getting message")
	}
	return repo.fromRow(row), nil
}

func (repo *messageRepository) GetRecipient(ctx context.Context, messageID, recipientID string) (messaging.Recipient, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return messaging.Recipient{}, messaging.ErrNotFound
	}
	var row recipientRow
	q := `SELECT * FROM message_recipients WHERE message_id = $1 AND recipient_id = $2`
	if err := repo.db.GetContext(ctx, &row, q, messageID, recipientID); err != nil {
		return messaging.Recipient{}, trapNoRowsErr(err, messaging.ErrNotFound, "getting message recipient")
	}
	return messaging.Recipient{
		MessageID:   row.MessageID,
		RecipientID: row.RecipientID,
		IsRead:      row.IsRead,
		ReadAt:      timePtr(row.ReadAt),
		IsArchived:  row.IsArchived,
		IsDeleted:   row.IsDeleted,
	}, nil
}

func (repo *messageRepository) MarkRead(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return false, nil
	}
	q := `UPDATE message_recipients SET is_read = TRUE, read_at = $1
		WHERE message_id = $2 AND recipient_id = $3 AND NOT is_read`
	res, err := repo.db.ExecContext(ctx, q, at.UTC(), messageID, recipientID)
	if err != nil {
		return false, errors.Wrap(err, "marking message read")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "marking message read")
	}
	return n > 0, nil
}

func (repo *messageRepository) QueryInbox(ctx context.Context, filter messaging.InboxFilter) ([]messaging.InboxItem, error) {
	q := `SELECT m.*, r.is_read AS recipient_is_read, r.read_at AS recipient_read_at
		FROM messages m JOIN message_recipients r ON r.message_id = m.id
		WHERE r.recipient_id = ? AND NOT r.is_deleted AND NOT r.is_archived`
	args := []interface{}{filter.RecipientID}
	if filter.IsRead != nil {
		q += " AND r.is_read = ?"
		args = append(args, *filter.IsRead)
	}
	q += " ORDER BY m." + core.DBOrdering{Field: "created_at"}.String() + ", m.id DESC"
	if filter.Page.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, filter.Page.Limit, filter.Page.Offset)
	}

	var rows []inboxRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying inbox")
	}
	items := make([]messaging.InboxItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, messaging.InboxItem{
			Message: repo.fromRow(row.messageRow),
			IsRead:  row.RecipientIsRead,
			ReadAt:  timePtr(row.RecipientReadAt),
		})
	}
	return items, nil
}

func (repo *messageRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var count int
	q := `SELECT COUNT(*) FROM message_recipients WHERE recipient_id = $1 AND NOT is_read AND NOT is_deleted`
	if err := repo.db.GetContext(ctx, &count, q, recipientID); err != nil {
		return 0, errors.Wrap(err, "counting unread messages")
	}
	return count, nil
}
