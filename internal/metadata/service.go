package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"brownie.dev/internal/auth"
	"brownie.dev/internal/obs"
)

const (
	maxIdempotencyKeyLength = 255
	idemCacheSize           = 4096
)

// IncidentEvent is published on incident mutations for streaming consumers.
type IncidentEvent struct {
	Type     string    `json:"type"`
	Incident Incident  `json:"incident"`
	At       time.Time `json:"at"`
}

const (
	EventIncidentCreated = "incident.created"
	EventIncidentUpdated = "incident.updated"
)

// IncidentPublisher receives incident events. Implementations must not
// block.
type IncidentPublisher interface {
	Publish(IncidentEvent)
}

// Service implements the access-controlled operations over the metadata
// store. Authorization runs inside the service so every caller gets the same
// check ordering: scope first, then role or permission, then the mutation
// protocol.
type Service struct {
	store Store
	now   func() time.Time
	log   *zap.Logger
	pub   IncidentPublisher

	// idem is a bounded fast path for idempotency lookups. The storage
	// uniqueness constraint remains the actual race-breaker.
	idem *lru.Cache[string, string]
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithPublisher wires an incident event publisher.
func WithPublisher(pub IncidentPublisher) Option {
	return func(s *Service) {
		s.pub = pub
	}
}

// NewService constructs a Service over the given store.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("metadata: store is required")
	}
	cache, err := lru.New[string, string](idemCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store: store,
		now:   time.Now,
		log:   zap.NewNop(),
		idem:  cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SignupInput carries the self-service signup payload. The first user of a
// new organization is always an admin.
type SignupInput struct {
	Email            string
	Username         string
	FullName         string
	Password         string
	OrganizationName string
	TeamName         string
}

// Signup creates an organization, its first team, and its first (admin)
// user in one step.
func (s *Service) Signup(ctx context.Context, in SignupInput) (User, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrValidation)
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrValidation)
	}
	if strings.TrimSpace(in.OrganizationName) == "" || strings.TrimSpace(in.TeamName) == "" {
		return User{}, fmt.Errorf("%w: organization and team names are required", ErrValidation)
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return User{}, fmt.Errorf("%w: user with this email already exists", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	now := s.now().UTC()
	org := Organization{
		ID:              newID(),
		Name:            strings.TrimSpace(in.OrganizationName),
		Slug:            slugify(in.OrganizationName),
		IsActive:        true,
		MaxTeams:        10,
		MaxUsersPerTeam: 50,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateOrganization(ctx, &org); err != nil {
		return User{}, err
	}

	team := Team{
		ID:        newID(),
		OrgID:     org.ID,
		Name:      strings.TrimSpace(in.TeamName),
		Slug:      slugify(in.TeamName),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateTeam(ctx, &team); err != nil {
		return User{}, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	user := User{
		ID:           newID(),
		OrgID:        org.ID,
		TeamID:       team.ID,
		Email:        email,
		Username:     strings.TrimSpace(in.Username),
		FullName:     strings.TrimSpace(in.FullName),
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		return User{}, err
	}

	s.log.Info("signup completed",
		zap.String("org_id", org.ID),
		zap.String("team_id", team.ID),
		zap.String("user_id", user.ID))
	return user, nil
}

// Authenticate verifies email/password credentials. Unknown users, disabled
// users, and wrong passwords are indistinguishable to the caller; the real
// cause is logged.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return User{}, s.credentialFailure("empty credentials")
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, s.credentialFailure("unknown email")
		}
		return User{}, err
	}
	if !user.IsActive || user.DeletedAt != nil || user.PasswordHash == "" {
		return User{}, s.credentialFailure("inactive user")
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		return User{}, s.credentialFailure("password mismatch")
	}
	return user, nil
}

func (s *Service) credentialFailure(cause string) error {
	obs.IncAuthFailure()
	s.log.Warn("authentication failed", zap.String("cause", cause))
	return auth.ErrInvalidCredentials
}

// ResolvePrincipal rebuilds the request principal from verified claims plus
// the current user record. Deleted or deactivated users fail authentication
// even when their token is still within its TTL.
func (s *Service) ResolvePrincipal(ctx context.Context, claims auth.Claims) (auth.Principal, error) {
	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return auth.Principal{}, auth.ErrInvalidCredentials
		}
		return auth.Principal{}, err
	}
	if !user.IsActive || user.DeletedAt != nil {
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
	return auth.Principal{
		UserID: user.ID,
		OrgID:  user.OrgID,
		TeamID: user.TeamID,
		Email:  user.Email,
		Roles:  claims.Roles,
	}, nil
}

func (s *Service) publish(eventType string, inc Incident) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(IncidentEvent{Type: eventType, Incident: inc, At: s.now().UTC()})
}

func slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}
