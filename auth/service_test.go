package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/store"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// memoryUsers is an in-memory UserStore
type memoryUsers struct {
	mu     sync.Mutex
	users  []*store.User
	FindFn func(ctx context.Context, username string) (*store.User, error)
}

func (m *memoryUsers) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			return nil, store.ErrUsernameTaken
		}
	}
	u := &store.User{ID: int64(len(m.users) + 1), Username: username, PasswordHash: passwordHash}
	m.users = append(m.users, u)
	return u, nil
}

func (m *memoryUsers) FindUserByUsername(ctx context.Context, username string) (*store.User, error) {
	if m.FindFn != nil {
		return m.FindFn(ctx, username)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (m *memoryUsers) FindUserByID(ctx context.Context, id int64) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func newTestService(users UserStore, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewService(users, "test-secret", opts...)
}

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		valid    bool
	}{
		{"valid", "ana_01", "password1", true},
		{"short username", "an", "password1", false},
		{"long username", strings.Repeat("a", 25), "password1", false},
		{"bad characters", "ana!", "password1", false},
		{"space", "ana b", "password1", false},
		{"short password", "ana", "short", false},
		{"long password", "ana", strings.Repeat("p", 73), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCredentials(tt.username, tt.password)
			if tt.valid && err != nil {
				t.Errorf("Expected valid, got %v", err)
			}
			if !tt.valid && !errors.Is(err, service.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRegisterAndVerify(t *testing.T) {
	users := &memoryUsers{}
	svc := newTestService(users)
	ctx := context.Background()

	res, err := svc.Register(ctx, " ana ", "password1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if res.Token == "" {
		t.Fatal("Expected a token")
	}
	if res.User.Username != "ana" || res.User.ID != "1" {
		t.Errorf("Unexpected principal %+v", res.User)
	}
	if !res.ExpiresAt.Equal(testNow.Add(DefaultTokenTTL)) {
		t.Errorf("Unexpected expiry %v", res.ExpiresAt)
	}
	if users.users[0].PasswordHash == "password1" {
		t.Error("Password stored in clear text")
	}

	// Statistics are read at verification time
	users.users[0].Wins = 4
	p, err := svc.Verify(ctx, res.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if p.ID != "1" || p.Username != "ana" || p.Wins != 4 {
		t.Errorf("Unexpected principal %+v", p)
	}
}

func TestRegisterErrors(t *testing.T) {
	svc := newTestService(&memoryUsers{})
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ana", "password1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := svc.Register(ctx, "ANA", "password2"); !errors.Is(err, service.ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate username, got %v", err)
	}
	if _, err := svc.Register(ctx, "bo", "password1"); !errors.Is(err, service.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestService(&memoryUsers{})
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ana", "password1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := svc.Login(ctx, "ana", "password1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := svc.Verify(ctx, res.Token); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "ana", "password2"},
		{"unknown user", "bob", "password1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.username, tt.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Expected ErrInvalidCredentials, got %v", err)
			}
			if service.KindOf(err) != service.KindAuth {
				t.Errorf("Expected auth_error kind, got %s", service.KindOf(err))
			}
		})
	}
}

func TestLoginStoreFailure(t *testing.T) {
	boom := errors.New("database is locked")
	svc := newTestService(&memoryUsers{
		FindFn: func(ctx context.Context, username string) (*store.User, error) {
			return nil, boom
		},
	})

	if _, err := svc.Login(context.Background(), "ana", "password1"); !errors.Is(err, boom) {
		t.Errorf("Expected store error, got %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	users := &memoryUsers{}
	svc := newTestService(users, WithTokenTTL(time.Hour))
	ctx := context.Background()

	res, err := svc.Register(ctx, "ana", "password1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	later := NewService(users, "test-secret", WithClock(func() time.Time { return testNow.Add(2 * time.Hour) }))
	otherSecret := NewService(users, "other-secret", WithClock(func() time.Time { return testNow }))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "1"}).
		SignedString([]byte("test-secret"))

	ghost, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "99",
		ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
	}).SignedString([]byte("test-secret"))

	tests := []struct {
		name  string
		svc   *Service
		token string
	}{
		{"expired", later, res.Token},
		{"wrong secret", otherSecret, res.Token},
		{"garbage", svc, "not-a-token"},
		{"alg none", svc, unsigned},
		{"no expiry", svc, noExpiry},
		{"deleted user", svc, ghost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.Verify(ctx, tt.token)
			if !errors.Is(err, service.ErrUnauthorized) {
				t.Errorf("Expected ErrUnauthorized, got %v", err)
			}
		})
	}
}
