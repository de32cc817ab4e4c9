package user

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/emsu/emsu/core"
)

// Role is the single role a User holds within their school.
type Role string

const (
	RoleProprietor Role = "proprietor"
	RolePrincipal  Role = "principal"
	RoleTeacher    Role = "teacher"
	RoleStudent    Role = "student"
	RoleParent     Role = "parent"
)

var (
	AllRoles   = []Role{RoleProprietor, RolePrincipal, RoleTeacher, RoleStudent, RoleParent}
	StaffRoles = []Role{RoleProprietor, RolePrincipal, RoleTeacher}
	AdminRoles = []Role{RoleProprietor, RolePrincipal}
)

func (r Role) IsValid() bool {
	return r.In(AllRoles...)
}

func (r Role) In(roles ...Role) bool {
	for _, role := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func (r Role) IsStaff() bool { return r.In(StaffRoles...) }
func (r Role) IsAdmin() bool { return r.In(AdminRoles...) }

type User struct {
	ID           string    `json:"id"`
	SchoolID     string    `json:"school_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

// DisplayName falls back to the email when the user has no name.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Profile holds the role-specific data of a User.
// Only the fields relevant to Role are set.
type Profile struct {
	UserID    string   `json:"user_id"`
	Role      Role     `json:"role"`
	Reference string   `json:"reference,omitempty"`  // admission number (student) or employee number (staff)
	ClassName string   `json:"class_name,omitempty"` // student's class or teacher's homeroom
	Subjects  []string `json:"subjects,omitempty"`   // teacher
	ChildIDs  []string `json:"child_ids,omitempty"`  // parent
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	SchoolID        string `json:"school_id" validate:"required"`
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Phone           string `json:"phone"`
	Role            Role   `json:"role" validate:"required,role"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (nu *NewUser) clean() {
	nu.SchoolID = core.CleanString(nu.SchoolID)
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Phone = core.CleanString(nu.Phone)
	nu.Role = Role(core.CleanString(string(nu.Role), true /* lower */))
}

type QueryFilter struct {
	SchoolID string
	Roles    []Role
	IsActive *bool
	IDs      []string
}

func (qf QueryFilter) Match(usr User) bool {
	if qf.SchoolID != "" && usr.SchoolID != qf.SchoolID {
		return false
	}
	if len(qf.Roles) > 0 && !usr.Role.In(qf.Roles...) {
		return false
	}
	if qf.IsActive != nil && usr.IsActive != *qf.IsActive {
		return false
	}
	if len(qf.IDs) > 0 {
		for _, id := range qf.IDs {
			if id == usr.ID {
				return true
			}
		}
		return false
	}
	return true
}
