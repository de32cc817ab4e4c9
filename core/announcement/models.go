package announcement

import (
	"time"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/user"
)

type Type string

const (
	TypeGeneral   Type = "general"
	TypeAcademic  Type = "academic"
	TypeEvent     Type = "event"
	TypeEmergency Type = "emergency"
	TypeHoliday   Type = "holiday"
)

// Audience selects which users of the school an Announcement targets.
type Audience string

const (
	AudienceAll      Audience = "all"
	AudienceStudents Audience = "students"
	AudienceTeachers Audience = "teachers"
	AudienceParents  Audience = "parents"
	AudienceStaff    Audience = "staff"
)

// Roles returns the user roles targeted by a.
func (a Audience) Roles() []user.Role {
	switch a {
	case AudienceStudents:
		return []user.Role{user.RoleStudent}
	case AudienceTeachers:
		return []user.Role{user.RoleTeacher}
	case AudienceParents:
		return []user.Role{user.RoleParent}
	case AudienceStaff:
		return user.StaffRoles
	default:
		return user.AllRoles
	}
}

type Announcement struct {
	ID          string     `json:"id"`
	SchoolID    string     `json:"school_id"`
	AuthorID    string     `json:"author_id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Type        Type       `json:"announcement_type"`
	Audience    Audience   `json:"target_audience"`
	IsPublished bool       `json:"is_published"`
	IsPinned    bool       `json:"is_pinned"`
	PublishDate *time.Time `json:"publish_date"`
	ExpireDate  *time.Time `json:"expire_date"`
	CreatedAt   time.Time  `json:"created_at"` // UTC
	UpdatedAt   time.Time  `json:"updated_at"` // UTC
}

// IsActive reports whether a is published and not expired at t.
func (a Announcement) IsActive(t time.Time) bool {
	return a.IsPublished && (a.ExpireDate == nil || a.ExpireDate.After(t))
}

// NewAnnouncement contains information needed to create an Announcement.
// A nil or past PublishDate publishes it immediately.
type NewAnnouncement struct {
	Title       string     `json:"title" validate:"required,notblank,max=200"`
	Content     string     `json:"content" validate:"required,notblank"`
	Type        Type       `json:"announcement_type" validate:"omitempty,oneof=general academic event emergency holiday"`
	Audience    Audience   `json:"target_audience" validate:"omitempty,oneof=all students teachers parents staff"`
	IsPinned    bool       `json:"is_pinned"`
	PublishDate *time.Time `json:"publish_date"`
	ExpireDate  *time.Time `json:"expire_date"`
}

func (na *NewAnnouncement) clean() {
	na.Title = core.CleanString(na.Title)
	na.Content = core.CleanString(na.Content)
	if na.Type == "" {
		na.Type = TypeGeneral
	}
	if na.Audience == "" {
		na.Audience = AudienceAll
	}
}

type QueryFilter struct {
	SchoolID    string
	Audiences   []Audience
	ActiveAt    time.Time // published and not expired at this time, when set
	IsPublished *bool
}

func (qf QueryFilter) Match(a Announcement) bool {
	if qf.SchoolID != "" && a.SchoolID != qf.SchoolID {
		return false
	}
	if len(qf.Audiences) > 0 {
		var found bool
		for _, aud := range qf.Audiences {
			if a.Audience == aud {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !qf.ActiveAt.IsZero() && !a.IsActive(qf.ActiveAt) {
		return false
	}
	if qf.IsPublished != nil && a.IsPublished != *qf.IsPublished {
		return false
	}
	return true
}

// AudiencesOf returns the audiences that include a user holding role.
func AudiencesOf(role user.Role) []Audience {
	auds := []Audience{AudienceAll}
	switch role {
	case user.RoleStudent:
		auds = append(auds, AudienceStudents)
	case user.RoleTeacher:
		auds = append(auds, AudienceTeachers, AudienceStaff)
	case user.RoleParent:
		auds = append(auds, AudienceParents)
	case user.RoleProprietor, user.RolePrincipal:
		auds = append(auds, AudienceStaff)
	}
	return auds
}
