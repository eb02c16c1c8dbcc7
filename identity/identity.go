/*
Package identity handles accounts and bearer tokens.

PURPOSE:
  Registration and login for drivers and admins, and the translation of a
  bearer token into the parking.Actor the engine expects. The engine never
  sees tokens or passwords.

TOKENS:
  HS256 JWTs carrying the user id and admin flag. Expiry is checked against
  the service clock so tests can move time.

SEE ALSO:
  - parking/types.go: Actor
  - api/middleware.go: Bearer token extraction
*/
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/warp/parking-engine/parking"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrTokenInvalid is returned for malformed, expired or forged tokens.
var ErrTokenInvalid = errors.New("invalid or expired token")

// Claims is the JWT payload.
type Claims struct {
	UserID string `json:"uid"`
	Admin  bool   `json:"admin"`
	jwt.RegisteredClaims
}

type RegisterInput struct {
	Email      string
	Password   string
	Name       string
	Phone      string
	Address    string
	PostalCode string
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *parking.User
}

type Service struct {
	store      parking.Store
	secret     []byte
	ttl        time.Duration
	now        func() time.Time
	bcryptCost int
	log        *zap.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithBcryptCost lowers the hashing cost in tests.
func WithBcryptCost(cost int) Option { return func(s *Service) { s.bcryptCost = cost } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func NewService(store parking.Store, secret string, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		store:      store,
		secret:     []byte(secret),
		ttl:        ttl,
		now:        func() time.Time { return time.Now().UTC() },
		bcryptCost: bcrypt.DefaultCost,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// Register creates a non-admin user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*parking.User, error) {
	return s.create(ctx, in, false)
}

func (s *Service) create(ctx context.Context, in RegisterInput, admin bool) (*parking.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	if err := validateRegistration(in); err != nil {
		return nil, err
	}
	if in.Name == "" {
		in.Name, _, _ = strings.Cut(in.Email, "@")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &parking.User{
		ID:           parking.UserID(uuid.NewString()),
		Email:        in.Email,
		PasswordHash: string(hash),
		Name:         in.Name,
		Phone:        strings.TrimSpace(in.Phone),
		Address:      strings.TrimSpace(in.Address),
		PostalCode:   strings.TrimSpace(in.PostalCode),
		IsAdmin:      admin,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.log.Info("user registered", zap.String("user_id", string(u.ID)), zap.Bool("admin", admin))
	return u, nil
}

// EnsureAdmin creates the admin account if no user has the email yet.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (*parking.User, error) {
	existing, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, parking.ErrNotFound) {
		return nil, err
	}
	return s.create(ctx, RegisterInput{Email: email, Password: password, Name: "admin"}, true)
}

// Login checks the password and issues a token. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, parking.ErrNotFound) {
			return nil, parking.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, parking.ErrInvalidCredentials
	}

	token, exp, err := s.IssueToken(u)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, User: u}, nil
}

// =============================================================================
// TOKENS
// =============================================================================

func (s *Service) IssueToken(u *parking.User) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		UserID: string(u.ID),
		Admin:  u.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

// Authenticate turns a token into the actor it was issued for.
func (s *Service) Authenticate(token string) (parking.Actor, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return parking.Actor{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return parking.Actor{}, ErrTokenInvalid
	}
	return parking.Actor{UserID: parking.UserID(claims.UserID), IsAdmin: claims.Admin}, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateRegistration(in RegisterInput) error {
	switch {
	case in.Email == "":
		return &parking.ValidationError{Field: "email", Message: "is required"}
	case len(in.Email) > 120 || !strings.Contains(in.Email, "@"):
		return &parking.ValidationError{Field: "email", Message: "must be a valid address"}
	case in.Password == "":
		return &parking.ValidationError{Field: "password", Message: "is required"}
	case len(in.Password) > 72:
		// bcrypt ignores input past 72 bytes
		return &parking.ValidationError{Field: "password", Message: "must be at most 72 bytes"}
	case len(in.Name) > 50:
		return &parking.ValidationError{Field: "name", Message: "must be at most 50 characters"}
	case len(in.Phone) > 15:
		return &parking.ValidationError{Field: "phone", Message: "must be at most 15 characters"}
	case len(in.Address) > 200:
		return &parking.ValidationError{Field: "address", Message: "must be at most 200 characters"}
	case len(in.PostalCode) > 10:
		return &parking.ValidationError{Field: "postal_code", Message: "must be at most 10 characters"}
	}
	return nil
}
