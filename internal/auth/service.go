package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"peopledesk.org/internal/ids"
)

// DefaultRoleName is granted to every self-registered account.
const DefaultRoleName = "employee"

// Service bundles credential verification, token lifecycle and permission
// resolution behind the operations the HTTP layer calls.
type Service struct {
	creds    CredentialStore
	perms    PermissionStore
	tokens   *TokenService
	resolver *Resolver
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the gateway auth service.
func NewService(creds CredentialStore, perms PermissionStore, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if creds == nil || perms == nil || tokens == nil {
		return nil, errors.New("auth: credential store, permission store and token service are required")
	}
	resolver, err := NewResolver(perms)
	if err != nil {
		return nil, err
	}
	svc := &Service{
		creds:    creds,
		perms:    perms,
		tokens:   tokens,
		resolver: resolver,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Tokens exposes the underlying token service.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Resolver exposes the underlying permission resolver.
func (s *Service) Resolver() *Resolver { return s.resolver }

// EnsureBuiltins installs the builtin permission catalog.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.perms.EnsurePermissions(ctx, BuiltinPermissions)
}

// Session is the payload returned by Login and Register.
type Session struct {
	User        *User
	Roles       []Role
	Permissions []string
	Tokens      TokenPair
}

// Register creates a new active account, grants the default role when it
// exists, and issues a first token pair.
func (s *Service) Register(ctx context.Context, email, password, firstName, lastName string) (Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return Session{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return Session{}, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	user := &User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		Active:       true,
	}
	if err := s.creds.CreateUser(ctx, user); err != nil {
		return Session{}, err
	}

	if role, err := s.perms.FindRoleByName(ctx, DefaultRoleName); err == nil {
		if _, err := s.perms.AssignRoleToUser(ctx, user.ID, role.ID); err != nil && !errors.Is(err, ErrConflict) {
			return Session{}, err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}

	return s.openSession(ctx, user)
}

// Login authenticates an email/password pair and issues fresh tokens. Bad
// credentials and unknown accounts are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	user, err := s.creds.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if !user.Active {
		return Session{}, ErrAccountInactive
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if err := s.creds.UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		return Session{}, err
	}
	return s.openSession(ctx, user)
}

// Rotate exchanges a refresh token for a new pair.
func (s *Service) Rotate(ctx context.Context, refreshToken string) (TokenPair, error) {
	return s.tokens.RotateRefreshToken(ctx, refreshToken)
}

// Logout revokes one refresh token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.Revoke(ctx, refreshToken)
}

// LogoutAll revokes every refresh token owned by the user.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	return s.tokens.RevokeAll(ctx, userID)
}

// ChangePassword verifies the current password, stores the new hash and
// forces a global re-login by revoking all refresh tokens.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.creds.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	if err := s.creds.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.tokens.RevokeAll(ctx, userID)
}

// LinkEmployee attaches an account to its employee record so ownership
// checks on employee-scoped routes can match. An empty employeeID clears the
// link.
func (s *Service) LinkEmployee(ctx context.Context, userID, employeeID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.creds.LinkEmployee(ctx, userID, strings.TrimSpace(employeeID))
}

// Authenticate verifies an access token and loads the caller's identity with
// resolved roles and permissions.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	userID, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	user, err := s.creds.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, err
	}
	if !user.Active {
		return Identity{}, ErrAccountInactive
	}
	roles, err := s.resolver.ResolveRoles(ctx, user.ID)
	if err != nil {
		return Identity{}, err
	}
	perms, err := s.resolver.ResolvePermissions(ctx, user.ID)
	if err != nil {
		return Identity{}, err
	}
	identity := Identity{
		UserID:      user.ID,
		Roles:       roles,
		Permissions: perms,
	}
	if user.EmployeeID != nil {
		identity.EmployeeID = *user.EmployeeID
	}
	return identity, nil
}

// CheckPermission reports whether the user holds a permission key.
func (s *Service) CheckPermission(ctx context.Context, userID, key string) (bool, error) {
	return s.resolver.HasPermission(ctx, userID, key)
}

func (s *Service) openSession(ctx context.Context, user *User) (Session, error) {
	roles, err := s.resolver.ResolveRoles(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	permSet, err := s.resolver.ResolvePermissions(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	pair, err := s.tokens.IssueTokenPair(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{
		User:        user,
		Roles:       roles,
		Permissions: sortedKeys(permSet),
		Tokens:      pair,
	}, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
