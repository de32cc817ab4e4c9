package user

import (
	"context"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/emsu/emsu/core"
)

var (
	// errors
	ErrNotFound        = errors.New("user not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrEmailExists     = errors.New("a user with this email already exists")
)

type (
	Repository interface {
		CreateUser(ctx context.Context, usr User) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		// QueryUsers applies AND operation on the set QueryFilter fields.
		QueryUsers(ctx context.Context, filter QueryFilter) ([]User, error)
		GetProfile(ctx context.Context, userID string) (Profile, error)
		SaveProfile(ctx context.Context, p Profile) (Profile, error)
	}

	Service struct {
		repo       Repository
		validate   *validator.Validate
		translator ut.Translator
	}
)

func NewService(repo Repository, validate *validator.Validate, translator ut.Translator) *Service {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(validate, "validate"),
		vala.IsNotNil(translator, "translator"),
	).Check(); err != nil {
		panic(err)
	}
	return &Service{repo: repo, validate: validate, translator: translator}
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	nu.clean()
	if err := core.ValidateStruct(svc.validate, svc.translator, nu); err != nil {
		return User{}, err
	}
	if _, err := svc.repo.GetUserByEmail(ctx, nu.Email); err == nil {
		return User{}, core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
	} else if errors.Cause(err) != ErrNotFound {
		return User{}, errors.Wrap(err, "checking email uniqueness")
	}

	now := time.Now().UTC()
	usr := User{
		SchoolID:  nu.SchoolID,
		Name:      nu.Name,
		Email:     nu.Email,
		Phone:     nu.Phone,
		Role:      nu.Role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

// Save updates usr when it exists, or creates it.
func (svc *Service) Save(ctx context.Context, usr User) (User, error) {
	usr.Email = core.CleanString(usr.Email, true /* lower */)
	if !usr.Role.IsValid() {
		return User{}, core.NewValidationError(nil, core.FieldError{Field: "role", Error: roleText})
	}
	usr.UpdatedAt = time.Now().UTC()
	if usr.ID != "" {
		return svc.repo.UpdateUser(ctx, usr)
	}
	usr.CreatedAt = usr.UpdatedAt
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

// GetByIDs returns the existing users among ids; unknown ids are skipped.
func (svc *Service) GetByIDs(ctx context.Context, ids ...string) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}
	return svc.repo.QueryUsers(ctx, QueryFilter{IDs: ids})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

// QueryBySchool returns the active users of a school holding any of roles (all roles when empty).
func (svc *Service) QueryBySchool(ctx context.Context, schoolID string, roles ...Role) ([]User, error) {
	active := true
	return svc.repo.QueryUsers(ctx, QueryFilter{SchoolID: schoolID, Roles: roles, IsActive: &active})
}

// Profile returns the role-specific data of usr.
func (svc *Service) Profile(ctx context.Context, usr User) (Profile, error) {
	p, err := svc.repo.GetProfile(ctx, usr.ID)
	if err != nil {
		if errors.Cause(err) == ErrProfileNotFound {
			return Profile{UserID: usr.ID, Role: usr.Role}, nil
		}
		return Profile{}, errors.Wrap(err, "getting profile")
	}
	p.Role = usr.Role
	return p, nil
}

// SetProfile stores the role-specific data of usr, dropping fields foreign to its role.
func (svc *Service) SetProfile(ctx context.Context, usr User, p Profile) (Profile, error) {
	p.UserID = usr.ID
	p.Role = usr.Role
	switch usr.Role {
	case RoleStudent:
		p.Subjects, p.ChildIDs = nil, nil
	case RoleTeacher:
		p.ChildIDs = nil
	case RoleParent:
		p.Reference, p.ClassName, p.Subjects = "", "", nil
	default:
		p.ClassName, p.Subjects, p.ChildIDs = "", nil, nil
	}
	return svc.repo.SaveProfile(ctx, p)
}
