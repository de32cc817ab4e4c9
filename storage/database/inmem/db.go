package inmemdb

import (
	"sync"

	"github.com/emsu/emsu/core/announcement"
	"github.com/emsu/emsu/core/messaging"
	"github.com/emsu/emsu/core/notification"
	"github.com/emsu/emsu/core/user"
)

type (
	// DB is a process-local store implementing every repository. Used by tests and `DB_ENGINE=memory`.
	DB struct {
		user         *userTable
		notification *notificationTable
		message      *messageTable
		announcement *announcementTable
	}

	userTable struct {
		mutex    sync.RWMutex
		table    map[string]*user.User
		profiles map[string]*user.Profile
	}

	notificationTable struct {
		mutex sync.RWMutex
		table map[string]*notification.Notification
	}

	messageTable struct {
		mutex      sync.RWMutex
		table      map[string]*messaging.Message
		recipients map[recipientKey]*messaging.Recipient
	}

	recipientKey struct {
		messageID   string
		recipientID string
	}

	announcementTable struct {
		mutex sync.RWMutex
		table map[string]*announcement.Announcement
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{
			table:    make(map[string]*user.User),
			profiles: make(map[string]*user.Profile),
		},
		notification: &notificationTable{table: make(map[string]*notification.Notification)},
		message: &messageTable{
			table:      make(map[string]*messaging.Message),
			recipients: make(map[recipientKey]*messaging.Recipient),
		},
		announcement: &announcementTable{table: make(map[string]*announcement.Announcement)},
	}
}

// Reset empties every table.
func (db *DB) Reset() {
	fresh := Open()
	db.user.mutex.Lock()
	db.user.table, db.user.profiles = fresh.user.table, fresh.user.profiles
	db.user.mutex.Unlock()

	db.notification.mutex.Lock()
	db.notification.table = fresh.notification.table
	db.notification.mutex.Unlock()

	db.message.mutex.Lock()
	db.message.table, db.message.recipients = fresh.message.table, fresh.message.recipients
	db.message.mutex.Unlock()

	db.announcement.mutex.Lock()
	db.announcement.table = fresh.announcement.table
	db.announcement.mutex.Unlock()
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
