// Package auth registers players, checks their passwords and issues the
// bearer tokens the websocket and REST surfaces accept.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/store"
)

const DefaultTokenTTL = 24 * time.Hour

var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", service.ErrUnauthorized)
	ErrInvalidToken       = fmt.Errorf("%w: invalid token", service.ErrUnauthorized)
)

// UserStore is the persistence the service needs
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error)
	FindUserByUsername(ctx context.Context, username string) (*store.User, error)
	FindUserByID(ctx context.Context, id int64) (*store.User, error)
}

// Result is returned by Register and Login
type Result struct {
	Token     string            `json:"access_token"`
	ExpiresAt time.Time         `json:"expires_at"`
	User      service.Principal `json:"user"`
}

// Service issues and verifies HS256 tokens
type Service struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithTokenTTL sets how long issued tokens stay valid
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service signing tokens with secret
func NewService(users UserStore, secret string, opts ...Option) *Service {
	s := &Service{
		users:  users,
		secret: []byte(secret),
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateCredentials checks the shape of a username and password
func ValidateCredentials(username, password string) error {
	if len(username) < 3 || len(username) > 24 {
		return fmt.Errorf("%w: username must be 3-24 characters", service.ErrInvalidInput)
	}
	for _, r := range username {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("%w: username may only contain letters, numbers and underscores", service.ErrInvalidInput)
		}
	}
	if len(password) < 8 || len(password) > 72 {
		return fmt.Errorf("%w: password must be 8-72 characters", service.ErrInvalidInput)
	}
	return nil
}

// Register creates a user and logs them in
func (s *Service) Register(ctx context.Context, username, password string) (*Result, error) {
	username = strings.TrimSpace(username)
	if err := ValidateCredentials(username, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.CreateUser(ctx, username, string(hash))
	if errors.Is(err, store.ErrUsernameTaken) {
		return nil, fmt.Errorf("%w: username %s is already taken", service.ErrConflict, username)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", u.StringID()).Str("username", u.Username).Msg("user registered")
	return s.issue(u)
}

// Login checks the password and issues a token. Unknown users and wrong
// passwords fail the same way.
func (s *Service) Login(ctx context.Context, username, password string) (*Result, error) {
	u, err := s.users.FindUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		log.Debug().Str("username", u.Username).Msg("login rejected")
		return nil, ErrInvalidCredentials
	}
	return s.issue(u)
}

// Verify parses a token and loads the current statistics of its user
func (s *Service) Verify(ctx context.Context, token string) (*service.Principal, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}

	u, err := s.users.FindUserByID(ctx, id)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	p := principal(u)
	return &p, nil
}

func (s *Service) issue(u *store.User) (*Result, error) {
	now := s.now()
	exp := now.Add(s.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   u.StringID(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Result{
		Token:     signed,
		ExpiresAt: exp,
		User:      principal(u),
	}, nil
}

func principal(u *store.User) service.Principal {
	return service.Principal{
		ID:       u.StringID(),
		Username: u.Username,
		Wins:     u.Wins,
		Losses:   u.Losses,
	}
}
