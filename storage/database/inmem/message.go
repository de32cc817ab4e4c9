package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/emsu/emsu/core/messaging"
)

type messageRepository struct {
	db *messageTable
}

var _ messaging.Repository = (*messageRepository)(nil) // interface compliance check

func NewMessageRepository(db *DB) messaging.Repository {
	return &messageRepository{db: db.message}
}

func (repo *messageRepository) CreateMessage(_ context.Context, msg messaging.Message, recipientIDs []string) (messaging.Message, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	msg.ID = uuid.New().String()
	repo.db.table[msg.ID] = &msg
	for _, id := range recipientIDs {
		key := recipientKey{messageID: msg.ID, recipientID: id}
		if _, ok := repo.db.recipients[key]; ok {
			continue
		}
		repo.db.recipients[key] = &messaging.Recipient{MessageID: msg.ID, RecipientID: id}
	}
	return msg, nil
}

func (repo *messageRepository) GetMessage(_ context.Context, id string) (messaging.Message, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if msg, ok := repo.db.table[id]; ok {
		return *msg, nil
	}
	return messaging.Message{}, messaging.ErrNotFound
}

func (repo *messageRepository) GetRecipient(_ context.Context, messageID, recipientID string) (messaging.Recipient, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if r, ok := repo.db.recipients[recipientKey{messageID: messageID, recipientID: recipientID}]; ok {
		return *r, nil
	}
	return messaging.Recipient{}, messaging.ErrNotFound
}

func (repo *messageRepository) MarkRead(_ context.Context, messageID, recipientID string, at time.Time) (bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	r, ok := repo.db.recipients[recipientKey{messageID: messageID, recipientID: recipientID}]
	if !ok || r.IsRead {
		return false, nil
	}
	r.IsRead = true
	r.ReadAt = &at
	return true, nil
}

func (repo *messageRepository) QueryInbox(_ context.Context, filter messaging.InboxFilter) ([]messaging.InboxItem, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	items := make([]messaging.InboxItem, 0)
	for key, r := range repo.db.recipients {
		if key.recipientID != filter.RecipientID || r.IsDeleted || r.IsArchived {
			continue
		}
		if filter.IsRead != nil && r.IsRead != *filter.IsRead {
			continue
		}
		msg, ok := repo.db.table[key.messageID]
		if !ok {
			continue
		}
		items = append(items, messaging.InboxItem{Message: *msg, IsRead: r.IsRead, ReadAt: r.ReadAt})
	}
	// newest first
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return paginate(items, filter.Page.Limit, filter.Page.Offset), nil
}

func (repo *messageRepository) CountUnread(_ context.Context, recipientID string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var count int
	for key, r := range repo.db.recipients {
		if key.recipientID == recipientID && !r.IsRead && !r.IsDeleted {
			count++
		}
	}
	return count, nil
}
