package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/emsu/emsu/core/announcement"
)

type announcementRepository struct {
	db *announcementTable
}

var _ announcement.Repository = (*announcementRepository)(nil) // interface compliance check

func NewAnnouncementRepository(db *DB) announcement.Repository {
	return &announcementRepository{db: db.announcement}
}

func (repo *announcementRepository) CreateAnnouncement(_ context.Context, a announcement.Announcement) (announcement.Announcement, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a.ID = uuid.New().String()
	repo.db.table[a.ID] = &a
	return a, nil
}

func (repo *announcementRepository) QueryAnnouncements(_ context.Context, filter announcement.QueryFilter) ([]announcement.Announcement, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	as := make([]announcement.Announcement, 0)
	for _, a := range repo.db.table {
		if filter.Match(*a) {
			as = append(as, *a)
		}
	}
	// pinned first, then newest
	sort.Slice(as, func(i, j int) bool {
		if as[i].IsPinned != as[j].IsPinned {
			return as[i].IsPinned
		}
		return as[i].CreatedAt.After(as[j].CreatedAt)
	})
	return as, nil
}

func (repo *announcementRepository) QueryDue(_ context.Context, now time.Time) ([]announcement.Announcement, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	as := make([]announcement.Announcement, 0)
	for _, a := range repo.db.table {
		if a.IsPublished || a.PublishDate == nil || a.PublishDate.After(now) {
			continue
		}
		if a.ExpireDate != nil && !a.ExpireDate.After(now) {
			continue
		}
		as = append(as, *a)
	}
	sort.Slice(as, func(i, j int) bool { return as[i].PublishDate.Before(*as[j].PublishDate) })
	return as, nil
}

func (repo *announcementRepository) MarkPublished(_ context.Context, id string, at time.Time) (bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a, ok := repo.db.table[id]
	if !ok || a.IsPublished {
		return false, nil
	}
	a.IsPublished = true
	a.UpdatedAt = at
	return true, nil
}
