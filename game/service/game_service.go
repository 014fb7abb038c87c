package service

import (
	"context"
	"sync"
	"time"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

// GameService defines all game-related operations
type GameService interface {
	// Session Management
	CreateSession(ctx context.Context) (*SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	FindSessionByCode(ctx context.Context, code string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	RemoveSession(ctx context.Context, sessionID string) error

	// Game Operations
	AddPlayer(ctx context.Context, sessionID string, player Principal) (*JoinResult, error)
	ApplyMove(ctx context.Context, sessionID, userID string, row, col int) (*MoveResult, error)
	AddChatMessage(ctx context.Context, sessionID string, msg ChatInput) (*engine.ChatMessage, error)

	// Departures
	HandleDisconnect(ctx context.Context, sessionID, userID string) (*DepartureResult, error)
	HandleLeave(ctx context.Context, sessionID, userID string) (*DepartureResult, error)
}

// SessionManager defines session storage operations
type SessionManager interface {
	Create() (*Session, error)
	Get(id string) (*Session, error)
	GetByCode(code string) (*Session, error)
	List() []*Session
	Delete(id string) error
}

// StatsRecorder persists aggregate win/loss statistics
type StatsRecorder interface {
	RecordWin(ctx context.Context, userID string) error
	RecordLoss(ctx context.Context, userID string) error
}

// Metrics receives game lifecycle counters
type Metrics interface {
	SessionCreated()
	MoveApplied()
	GameCompleted(result engine.Result, reason engine.EndReason)
	StatsFailed()
}

type noopMetrics struct{}

func (noopMetrics) SessionCreated()                               {}
func (noopMetrics) MoveApplied()                                  {}
func (noopMetrics) GameCompleted(engine.Result, engine.EndReason) {}
func (noopMetrics) StatsFailed()                                  {}

// Session represents an active game session. The game state is only
// replaced through Transition, which serializes writers of the session.
type Session struct {
	ID        string
	Code      string
	CreatedAt time.Time

	mu             sync.Mutex
	state          *engine.GameState
	lastAccessedAt time.Time
}

// NewSession wraps an initial game state
func NewSession(state *engine.GameState) *Session {
	return &Session{
		ID:             state.ID,
		Code:           state.Code,
		CreatedAt:      state.CreatedAt,
		state:          state,
		lastAccessedAt: state.CreatedAt,
	}
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() *engine.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// LastAccessedAt returns the time of the last accepted transition
func (s *Session) LastAccessedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessedAt
}

// Transition applies cmds in order and stores the result. Either every
// command is accepted or the stored state is left untouched.
func (s *Session) Transition(now time.Time, cmds ...engine.Command) (*engine.GameState, []engine.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	var events []engine.Event
	for _, cmd := range cmds {
		applied, evs, err := engine.Apply(next, cmd, now)
		if err != nil {
			return nil, nil, err
		}
		next = applied
		events = append(events, evs...)
	}

	s.state = next
	s.lastAccessedAt = now
	return next.Clone(), events, nil
}
