// Package accounts creates users and manages their role assignments. It
// is shared by the admin HTTP surface and the operator CLI.
package accounts

import (
	"context"
	"errors"
	"net/mail"

	"github.com/dalemusser/opsdesk/internal/app/store/identities"
	"github.com/dalemusser/opsdesk/internal/app/store/rolestore"
	userstore "github.com/dalemusser/opsdesk/internal/app/store/users"
	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/normalize"
	"github.com/dalemusser/opsdesk/internal/app/system/paging"
	"github.com/dalemusser/opsdesk/internal/app/system/txn"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// MinPasswordLength applies to password accounts.
const MinPasswordLength = 8

// ErrNoSuchUser is returned when an email matches no account.
var ErrNoSuchUser = errors.New("no user with that email")

// Revoker ends every token issued to a user.
type Revoker interface {
	RevokeAllForUser(ctx context.Context, userID primitive.ObjectID) (int64, error)
}

type Service struct {
	db      *mongo.Database
	users   *userstore.Store
	roles   *rolestore.Store
	revoker Revoker
	log     *zap.Logger
}

// New returns a Service over db. revoker may be nil, in which case
// disabling an account leaves its tokens to expire on their own.
func New(db *mongo.Database, revoker Revoker, logger *zap.Logger) *Service {
	return &Service{
		db:      db,
		users:   userstore.New(db),
		roles:   rolestore.New(db),
		revoker: revoker,
		log:     logger,
	}
}

// NewUser is an account to create.
type NewUser struct {
	Email      string   `json:"email"`
	FullName   string   `json:"full_name"`
	Password   string   `json:"password"`
	AuthMethod string   `json:"auth_method"`
	Roles      []string `json:"roles"`
}

// Created is a new account and the roles it was given.
type Created struct {
	User  models.User `json:"user"`
	Roles []string    `json:"roles"`
}

func validEmail(s string) bool {
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s
}

// Create validates in, then inserts the user and its role links in one
// transaction. Unknown roles and duplicate emails are validation errors.
func (s *Service) Create(ctx context.Context, in NewUser) (Created, error) {
	in.Email = normalize.Email(in.Email)
	in.AuthMethod = normalize.AuthMethod(in.AuthMethod)
	if in.AuthMethod == "" {
		in.AuthMethod = models.AuthMethodPassword
	}
	roles := normalizeRoles(in.Roles)

	ve := &apperr.ValidationError{}
	ve.Require("email", in.Email)
	if in.Email != "" && !validEmail(in.Email) {
		ve.Add("email", "is not a valid email address")
	}
	if !models.IsValidAuthMethod(in.AuthMethod) {
		ve.Add("auth_method", `must be "password" or "google"`)
	}
	if in.AuthMethod == models.AuthMethodPassword && len(in.Password) < MinPasswordLength {
		ve.Add("password", "must be at least 8 characters")
	}
	if err := ve.OrNil(); err != nil {
		return Created{}, err
	}

	u := models.User{
		Email:      in.Email,
		FullName:   in.FullName,
		AuthMethod: in.AuthMethod,
		Status:     models.UserStatusActive,
	}
	if in.AuthMethod == models.AuthMethodPassword {
		hash, err := identities.HashPassword(in.Password)
		if err != nil {
			return Created{}, err
		}
		u.PasswordHash = hash
	}

	var out models.User
	err := txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		created, err := s.users.Create(ctx, u)
		if err != nil {
			return err
		}
		for _, r := range roles {
			if err := s.roles.Assign(ctx, created.ID, r); err != nil {
				return err
			}
		}
		out = created
		return nil
	})
	switch {
	case errors.Is(err, userstore.ErrDuplicateEmail):
		ve.Add("email", "is already in use")
		return Created{}, ve
	case errors.Is(err, rolestore.ErrRoleNotFound):
		ve.Add("roles", "names a role that does not exist")
		return Created{}, ve
	case err != nil:
		return Created{}, apperr.Store("create user", "users", err)
	}

	s.log.Info("user created",
		zap.String("user_id", out.ID.Hex()),
		zap.String("email", out.Email),
		zap.Strings("roles", roles))
	return Created{User: out, Roles: roles}, nil
}

func normalizeRoles(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := []string{}
	for _, r := range in {
		r = normalize.Role(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func (s *Service) lookup(ctx context.Context, email string) (*models.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNoSuchUser
	}
	if err != nil {
		return nil, apperr.Store("find user", "users", err)
	}
	return u, nil
}

// Disable marks the account disabled and revokes its tokens, returning
// how many were revoked. Signed-in clients lose the identity at their
// next token refresh.
func (s *Service) Disable(ctx context.Context, email string) (int64, error) {
	u, err := s.lookup(ctx, email)
	if err != nil {
		return 0, err
	}
	if err := s.users.SetStatus(ctx, u.ID, models.UserStatusDisabled); err != nil {
		return 0, apperr.Store("disable user", "users", err)
	}
	var n int64
	if s.revoker != nil {
		if n, err = s.revoker.RevokeAllForUser(ctx, u.ID); err != nil {
			return 0, apperr.Store("revoke tokens", "auth_tokens", err)
		}
	}
	s.log.Info("user disabled", zap.String("user_id", u.ID.Hex()), zap.Int64("tokens_revoked", n))
	return n, nil
}

// Enable reactivates a disabled account.
func (s *Service) Enable(ctx context.Context, email string) error {
	u, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}
	if err := s.users.SetStatus(ctx, u.ID, models.UserStatusActive); err != nil {
		return apperr.Store("enable user", "users", err)
	}
	return nil
}

// Assign gives the account the named role.
func (s *Service) Assign(ctx context.Context, email, role string) error {
	u, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}
	return s.roles.Assign(ctx, u.ID, role)
}

// Unassign removes the named role from the account.
func (s *Service) Unassign(ctx context.Context, email, role string) error {
	u, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}
	return s.roles.Unassign(ctx, u.ID, role)
}

// RolesOf lists the role names held by the account.
func (s *Service) RolesOf(ctx context.Context, email string) ([]string, error) {
	u, err := s.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.roles.QueryRoles(ctx, u.ID.Hex())
}

// Account is a user together with the roles it holds.
type Account struct {
	models.User
	Roles []string `json:"roles"`
}

// ListUsers returns one page of accounts ordered by email. status, when
// set, must be active or disabled.
func (s *Service) ListUsers(ctx context.Context, status string, p paging.Request) (paging.Page[Account], error) {
	if status != "" && status != models.UserStatusActive && status != models.UserStatusDisabled {
		ve := &apperr.ValidationError{}
		ve.Add("status", "must be active or disabled")
		return paging.Page[Account]{}, ve
	}
	page, err := s.users.ListPage(ctx, status, p)
	if err != nil {
		return paging.Page[Account]{}, apperr.Store("list users", "users", err)
	}
	out := paging.Page[Account]{Items: make([]Account, 0, len(page.Items)), Next: page.Next}
	for _, u := range page.Items {
		names, err := s.roles.QueryRoles(ctx, u.ID.Hex())
		if err != nil {
			return paging.Page[Account]{}, apperr.Store("list roles", "user_roles", err)
		}
		out.Items = append(out.Items, Account{User: u, Roles: names})
	}
	return out, nil
}

// Roles lists every defined role.
func (s *Service) Roles(ctx context.Context) ([]models.Role, error) {
	return s.roles.List(ctx)
}

// SeedRoles ensures the built-in roles exist.
func (s *Service) SeedRoles(ctx context.Context) error {
	return s.roles.Seed(ctx, models.DefaultRoles...)
}
