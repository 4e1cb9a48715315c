// Package session owns the auth token lifecycle and the signed-in user's
// identity. The token is a bearer credential for the API; the role decoded
// from it only drives what the client shows, the backend re-checks every
// privileged call on its own.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/multierr"

	"github.com/veloura/storefront-go/internal/api"
	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
)

// Role is the account tier carried in the token.
type Role string

const (
	RoleGuest    Role = "guest"
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a claim value onto a known role, defaulting to customer for
// signed-in users with an unrecognized tier.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(raw)) {
	case RoleAdmin:
		return RoleAdmin
	case RoleStaff:
		return RoleStaff
	case RoleGuest, "":
		return RoleGuest
	default:
		return RoleCustomer
	}
}

// CanManage reports whether the role unlocks the admin surfaces in the
// client. Display gating only.
func (r Role) CanManage() bool {
	return r == RoleAdmin || r == RoleStaff
}

// User is the account projection returned by the profile endpoints.
type User struct {
	ID            string `json:"_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	Phone         string `json:"phone,omitempty"`
	Address       string `json:"address,omitempty"`
	Gender        string `json:"gender,omitempty"`
	DateOfBirth   string `json:"dateOfBirth,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
}

// claims is the payload the backend signs into access tokens.
type claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Backend is the slice of the API client the session store needs.
type Backend interface {
	Get(ctx context.Context, operation, path string, out any) error
	Post(ctx context.Context, operation, path string, body any, out any) error
	SetToken(token string)
	ClearToken()
	Token() string
}

// Persister is the slice of the local state bridge the session store needs.
type Persister interface {
	SaveToken(token string) error
	LoadToken() (string, error)
	DeleteToken() error
}

// LocalState is anything holding per-user client state that must be wiped on
// logout. The cart and wishlist stores satisfy it.
type LocalState interface {
	ClearLocal() error
}

type loginPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	api.Envelope
	Token string `json:"token"`
}

// RegisterInput carries the sign-up form fields.
type RegisterInput struct {
	Name        string `json:"name" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	Gender      string `json:"gender,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
}

type registerResponse struct {
	api.Envelope
	Email string `json:"email"`
}

// isAuthResponse deliberately lacks the envelope contract: success=false here
// means "not signed in", not a failed call.
type isAuthResponse struct {
	Success bool  `json:"success"`
	User    *User `json:"user"`
}

type profileResponse struct {
	api.Envelope
	User *User `json:"user"`
}

// Store tracks the active session.
type Store struct {
	backend   Backend
	persister Persister
	locals    []LocalState
	log       *logger.Logger
	parser    *jwt.Parser

	mu   sync.RWMutex
	user *User
	role Role
}

// Params groups the store dependencies. Locals are the per-user stores wiped
// on logout.
type Params struct {
	Backend   Backend
	Persister Persister
	Locals    []LocalState
	Logger    *logger.Logger
}

// NewStore builds the session store and restores a persisted token if one is
// still valid.
func NewStore(params Params) (*Store, error) {
	if params.Backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if params.Persister == nil {
		return nil, fmt.Errorf("persister required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	s := &Store{
		backend:   params.Backend,
		persister: params.Persister,
		locals:    params.Locals,
		log:       params.Logger,
		parser:    jwt.NewParser(),
		role:      RoleGuest,
	}
	token, err := params.Persister.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("restoring session token: %w", err)
	}
	if token != "" {
		if err := s.adoptToken(token); err != nil {
			// Stale or malformed token: drop it and start as guest.
			s.log.Warn(s.log.WithField(context.Background(), "error", err.Error()), "discarding persisted token")
			_ = params.Persister.DeleteToken()
		}
	}
	return s, nil
}

// adoptToken decodes the token's claims, rejects expired ones, and installs
// it on the API client. Signature verification stays on the backend; the
// client only reads the payload.
func (s *Store) adoptToken(token string) error {
	var c claims
	if _, _, err := s.parser.ParseUnverified(token, &c); err != nil {
		return fmt.Errorf("decoding token claims: %w", err)
	}
	if c.ExpiresAt != nil && time.Now().After(c.ExpiresAt.Time) {
		return fmt.Errorf("token expired at %s", c.ExpiresAt.Time.Format(time.RFC3339))
	}

	s.backend.SetToken(token)
	s.mu.Lock()
	s.user = &User{ID: c.UserID, Email: c.Email, Role: c.Role}
	s.role = ParseRole(c.Role)
	s.mu.Unlock()
	return nil
}

// Login exchanges credentials for a token, persists it, and primes the
// session identity from the token claims.
func (s *Store) Login(ctx context.Context, email, password string) error {
	var out loginResponse
	payload := loginPayload{Email: email, Password: password}
	if err := s.backend.Post(ctx, "session.login", "/api/user/login", payload, &out); err != nil {
		return err
	}
	if out.Token == "" {
		return pkgerrors.New(pkgerrors.CodeDecode, "login response carried no token")
	}
	if err := s.adoptToken(out.Token); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDecode, err, "login token rejected")
	}
	if err := s.persister.SaveToken(out.Token); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting session token")
	}
	if user := s.Current(); user != nil {
		ctx = s.log.WithUserID(ctx, user.ID)
		ctx = s.log.WithActorRole(ctx, string(s.Role()))
	}
	s.log.Info(ctx, "signed in")
	return nil
}

// Register creates an account. The backend leaves it inactive until the
// emailed verification code is confirmed, so no token is issued here.
func (s *Store) Register(ctx context.Context, input RegisterInput) (string, error) {
	var out registerResponse
	if err := s.backend.Post(ctx, "session.register", "/api/user/register", input, &out); err != nil {
		return "", err
	}
	return out.Email, nil
}

// Logout tells the backend, drops the token, and wipes every per-user local
// store. All steps run even when earlier ones fail; errors are aggregated.
func (s *Store) Logout(ctx context.Context) error {
	var errs error
	if s.backend.Token() != "" {
		var out api.Envelope
		if err := s.backend.Post(ctx, "session.logout", "/api/user/logout", nil, &out); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	s.backend.ClearToken()
	s.mu.Lock()
	s.user = nil
	s.role = RoleGuest
	s.mu.Unlock()

	if err := s.persister.DeleteToken(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("deleting persisted token: %w", err))
	}
	for _, local := range s.locals {
		if err := local.ClearLocal(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	s.log.Info(ctx, "signed out")
	return errs
}

// Check asks the backend whether the current token is still good and
// refreshes the cached identity. A definitive "no" downgrades to guest; a
// transport failure leaves the session as-is so a flaky network does not log
// the user out.
func (s *Store) Check(ctx context.Context) (bool, error) {
	if s.backend.Token() == "" {
		return false, nil
	}
	var out isAuthResponse
	if err := s.backend.Get(ctx, "session.check", "/api/user/is-auth", &out); err != nil {
		if appErr := pkgerrors.As(err); appErr != nil {
			switch appErr.Code() {
			case pkgerrors.CodeNetwork, pkgerrors.CodeTimeout:
				return s.Authenticated(), err
			}
		}
		return false, err
	}
	if !out.Success || out.User == nil {
		s.backend.ClearToken()
		s.mu.Lock()
		s.user = nil
		s.role = RoleGuest
		s.mu.Unlock()
		_ = s.persister.DeleteToken()
		return false, nil
	}

	s.mu.Lock()
	s.user = out.User
	s.role = ParseRole(out.User.Role)
	s.mu.Unlock()
	return true, nil
}

// Profile fetches the full account document for the signed-in user.
func (s *Store) Profile(ctx context.Context) (*User, error) {
	var out profileResponse
	if err := s.backend.Get(ctx, "session.profile", "/api/user/profile", &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDecode, "profile response carried no user")
	}
	s.mu.Lock()
	s.user = out.User
	s.role = ParseRole(out.User.Role)
	s.mu.Unlock()
	return out.User, nil
}

// Current returns the cached identity, nil for guests.
func (s *Store) Current() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Role returns the cached role, RoleGuest when signed out.
func (s *Store) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// IsStaff reports whether the session may see the staff surfaces. Display
// gating only.
func (s *Store) IsStaff() bool {
	return s.Role().CanManage()
}

// IsAdmin reports whether the session may see the admin-only surfaces.
// Display gating only.
func (s *Store) IsAdmin() bool {
	return s.Role() == RoleAdmin
}

// Authenticated reports whether a session identity is cached.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}
