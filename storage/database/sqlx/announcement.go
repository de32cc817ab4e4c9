package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/announcement"
)

type (
	announcementRow struct {
		ID          string    `db:"id"`
		SchoolID    string    `db:"school_id"`
		AuthorID    string    `db:"author_id"`
		Title       string    `db:"title"`
		Content     string    `db:"content"`
		Type        string    `db:"announcement_type"`
		Audience    string    `db:"target_audience"`
		IsPublished bool      `db:"is_published"`
		IsPinned    bool      `db:"is_pinned"`
		PublishDate null.Time `db:"publish_date"`
		ExpireDate  null.Time `db:"expire_date"`
		CreatedAt   time.Time `db:"created_at"`
		UpdatedAt   time.Time `db:"updated_at"`
	}

	announcementRepository struct {
		exec core.DBExecutor
	}
)

var _ announcement.Repository = (*announcementRepository)(nil) // interface compliance check

func NewAnnouncementRepository(exec core.DBExecutor) announcement.Repository {
	return &announcementRepository{exec: exec}
}

func (repo *announcementRepository) toRow(a announcement.Announcement) announcementRow {
	return announcementRow{
		ID:          a.ID,
		SchoolID:    a.SchoolID,
		AuthorID:    a.AuthorID,
		Title:       a.Title,
		Content:     a.Content,
		Type:        string(a.Type),
		Audience:    string(a.Audience),
		IsPublished: a.IsPublished,
		IsPinned:    a.IsPinned,
		PublishDate: null.TimeFromPtr(a.PublishDate),
		ExpireDate:  null.TimeFromPtr(a.ExpireDate),
		CreatedAt:   a.CreatedAt.UTC(),
		UpdatedAt:   a.UpdatedAt.UTC(),
	}
}

func (repo *announcementRepository) fromRow(row announcementRow) announcement.Announcement {
	return announcement.Announcement{
		ID:          row.ID,
		SchoolID:    row.SchoolID,
		AuthorID:    row.AuthorID,
		Title:       row.Title,
		Content:     row.Content,
		Type:        announcement.Type(row.Type),
		Audience:    announcement.Audience(row.Audience),
		IsPublished: row.IsPublished,
		IsPinned:    row.IsPinned,
		PublishDate: timePtr(row.PublishDate),
		ExpireDate:  timePtr(row.ExpireDate),
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}

func (repo *announcementRepository) selectAll(ctx context.Context, q string, args ...interface{}) ([]announcement.Announcement, error) {
	var rows []announcementRow
	if err := repo.exec.SelectContext(ctx, &rows, repo.exec.Rebind(q), args...); err != nil {
		return nil, err
	}
	as := make([]announcement.Announcement, 0, len(rows))
	for _, row := range rows {
		as = append(as, repo.fromRow(row))
	}
	return as, nil
}

func (repo *announcementRepository) CreateAnnouncement(ctx context.Context, a announcement.Announcement) (announcement.Announcement, error) {
	a.ID = uuid.New().String()
	q := `INSERT INTO announcements (id, school_id, author_id, title, content, announcement_type, target_audience,
			is_published, is_pinned, publish_date, expire_date, created_at, updated_at)
		VALUES (:id, :school_id, :author_id, :title, :content, :announcement_type, :target_audience,
			:is_published, :is_pinned, :publish_date, :expire_date, :created_at, :updated_at)`
	if _, err := repo.exec.NamedExecContext(ctx, q, repo.toRow(a)); err != nil {
		return announcement.Announcement{}, errors.Wrap(err, "inserting announcement")
	}
	return a, nil
}

func (repo *announcementRepository) QueryAnnouncements(ctx context.Context, filter announcement.QueryFilter) ([]announcement.Announcement, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.SchoolID != "" {
		where = append(where, "school_id = ?")
		args = append(args, filter.SchoolID)
	}
	if len(filter.Audiences) > 0 {
		auds := make([]string, 0, len(filter.Audiences))
		for _, aud := range filter.Audiences {
			auds = append(auds, string(aud))
		}
		where = append(where, "target_audience = ANY(?)")
		args = append(args, pq.StringArray(auds))
	}
	if !filter.ActiveAt.IsZero() {
		where = append(where, "is_published AND (expire_date IS NULL OR expire_date > ?)")
		args = append(args, filter.ActiveAt.UTC())
	}
	if filter.IsPublished != nil {
		where = append(where, "is_published = ?")
		args = append(args, *filter.IsPublished)
	}

	q := `SELECT * FROM announcements`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY is_pinned DESC, " + core.DBOrdering{Field: "created_at"}.String()

	as, err := repo.selectAll(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying announcements")
	}
	return as, nil
}

func (repo *announcementRepository) QueryDue(ctx context.Context, now time.Time) ([]announcement.Announcement, error) {
	q := `SELECT * FROM announcements
		WHERE NOT is_published AND publish_date <= ? AND (expire_date IS NULL OR expire_date > ?)
		ORDER BY publish_date`
	as, err := repo.selectAll(ctx, q, now.UTC(), now.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "querying due announcements")
	}
	return as, nil
}

func (repo *announcementRepository) MarkPublished(ctx context.Context, id string, at time.Time) (bool, error) {
	q := `UPDATE announcements SET is_published = TRUE, updated_at = $1 WHERE id = $2 AND NOT is_published`
	res, err := repo.exec.ExecContext(ctx, q, at.UTC(), id)
	if err != nil {
		return false, errors.Wrap(err, "marking announcement published")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "marking announcement published")
	}
	return n > 0, nil
}
