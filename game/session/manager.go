package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

const (
	// CodeLength is the number of characters of a join code
	CodeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	maxCodeAttempts = 16
)

var (
	ErrSessionNotFound    = service.ErrSessionNotFound
	ErrExhaustedCodeSpace = errors.New("could not allocate a unique join code")
)

// CodeGenerator returns a candidate join code
type CodeGenerator func() (string, error)

// Option configures a Manager
type Option func(*Manager)

// WithCodeGenerator replaces the random join code generator
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(m *Manager) {
		m.generateCode = gen
	}
}

// WithClock replaces time.Now, used for creation and cleanup timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager is the session registry. It owns the id and code indexes and is the
// only place sessions are added or removed.
type Manager struct {
	byID         map[string]*service.Session
	byCode       map[string]string
	generateCode CodeGenerator
	now          func() time.Time
	mu           sync.RWMutex
}

// NewManager creates a new session registry
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		byID:         make(map[string]*service.Session),
		byCode:       make(map[string]string),
		generateCode: RandomCode,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create allocates a new waiting session with a fresh id and a join code that
// is unique among the active sessions.
func (m *Manager) Create() (*service.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, err := m.allocateCode()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	sess := service.NewSession(engine.NewGameState(id, code, m.now()))
	m.byID[id] = sess
	m.byCode[code] = id

	log.Debug().Str("session_id", id).Str("code", code).Msg("session created")
	return sess, nil
}

// allocateCode must be called with m.mu held
func (m *Manager) allocateCode() (string, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := m.generateCode()
		if err != nil {
			return "", fmt.Errorf("failed to generate join code: %w", err)
		}
		code = normalizeCode(code)
		if _, taken := m.byCode[code]; !taken {
			return code, nil
		}
		log.Debug().Str("code", code).Int("attempt", attempt).Msg("join code collision")
	}
	return "", ErrExhaustedCodeSpace
}

// Get retrieves a session by id
func (m *Manager) Get(id string) (*service.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, exists := m.byID[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// GetByCode retrieves a session by join code. Codes are case-insensitive.
func (m *Manager) GetByCode(code string) (*service.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.byCode[normalizeCode(code)]
	if !exists {
		return nil, ErrSessionNotFound
	}
	sess, exists := m.byID[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes a session and releases its code for reuse
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.byID[id]
	if !exists {
		return ErrSessionNotFound
	}
	delete(m.byID, id)
	delete(m.byCode, sess.Code)
	return nil
}

// List returns all active sessions
func (m *Manager) List() []*service.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*service.Session, 0, len(m.byID))
	for _, sess := range m.byID {
		result = append(result, sess)
	}
	return result
}

// Count returns the number of active sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// CleanupStale removes completed sessions idle for longer than completedFor
// and waiting sessions idle for longer than waitingFor. A zero duration
// disables the corresponding rule. In-progress sessions are never removed,
// and neither is a waiting session whose host is still connected.
func (m *Manager) CleanupStale(completedFor, waitingFor time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0

	for id, sess := range m.byID {
		snap := sess.Snapshot()
		idle := now.Sub(sess.LastAccessedAt())

		var expired bool
		switch snap.Status {
		case engine.StatusCompleted:
			expired = completedFor > 0 && idle > completedFor
		case engine.StatusWaiting:
			expired = waitingFor > 0 && idle > waitingFor && !hasConnectedPlayer(snap)
		}
		if !expired {
			continue
		}

		delete(m.byID, id)
		delete(m.byCode, sess.Code)
		removed++
	}

	return removed
}

func hasConnectedPlayer(state *engine.GameState) bool {
	for _, p := range []*engine.Player{state.Players.X, state.Players.O} {
		if p != nil && p.IsConnected {
			return true
		}
	}
	return false
}

// RandomCode draws CodeLength characters uniformly from [A-Z0-9]
func RandomCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
