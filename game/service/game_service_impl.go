package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

// gameServiceImpl implements the GameService interface
type gameServiceImpl struct {
	sessions SessionManager
	stats    StatsRecorder
	metrics  Metrics
	now      func() time.Time
}

// Option configures the game service
type Option func(*gameServiceImpl)

// WithMetrics reports lifecycle counters to m
func WithMetrics(m Metrics) Option {
	return func(s *gameServiceImpl) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock replaces time.Now for transition timestamps
func WithClock(now func() time.Time) Option {
	return func(s *gameServiceImpl) {
		s.now = now
	}
}

// NewGameService creates a new game service instance
func NewGameService(sessions SessionManager, stats StatsRecorder, opts ...Option) GameService {
	s := &gameServiceImpl{
		sessions: sessions,
		stats:    stats,
		metrics:  noopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession allocates a new waiting session
func (s *gameServiceImpl) CreateSession(ctx context.Context) (*SessionInfo, error) {
	sess, err := s.sessions.Create()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.metrics.SessionCreated()

	return sessionInfo(sess), nil
}

// GetSession retrieves session information
func (s *gameServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}
	return sessionInfo(sess), nil
}

// FindSessionByCode retrieves a session by its join code
func (s *gameServiceImpl) FindSessionByCode(ctx context.Context, code string) (*SessionInfo, error) {
	sess, err := s.sessions.GetByCode(code)
	if err != nil {
		return nil, fmt.Errorf("code %q: %w", code, err)
	}
	return sessionInfo(sess), nil
}

// ListSessions returns all active sessions
func (s *gameServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	sessions := s.sessions.List()
	result := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, sessionInfo(sess))
	}
	return result, nil
}

// RemoveSession removes a session and releases its join code
func (s *gameServiceImpl) RemoveSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(sessionID); err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	log.Info().Str("session_id", sessionID).Msg("session removed")
	return nil
}

// AddPlayer seats player in the session, or reconnects them if already seated
func (s *gameServiceImpl) AddPlayer(ctx context.Context, sessionID string, player Principal) (*JoinResult, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	state, events, err := sess.Transition(s.now(), engine.Join{UserID: player.ID, Username: player.Username})
	if err != nil {
		return nil, err
	}

	result := &JoinResult{
		GameState:   state,
		Started:     engine.HasEvent(events, engine.EventGameStarted),
		Reconnected: engine.HasEvent(events, engine.EventPlayerReconnected),
	}
	if result.Started {
		log.Info().Str("session_id", sessionID).Msg("game started")
	}
	return result, nil
}

// ApplyMove places the mark of userID at row,col
func (s *gameServiceImpl) ApplyMove(ctx context.Context, sessionID, userID string, row, col int) (*MoveResult, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	pos := engine.Position{Row: row, Col: col}
	state, events, err := sess.Transition(s.now(), engine.PlaceMark{UserID: userID, Position: pos})
	if err != nil {
		return nil, err
	}
	s.metrics.MoveApplied()

	result := &MoveResult{
		GameState: state,
		Move:      state.Moves[len(state.Moves)-1],
		GameOver:  engine.HasEvent(events, engine.EventGameOver),
	}
	if result.GameOver {
		s.completed(ctx, state)
	}
	return result, nil
}

// AddChatMessage appends a chat line to the session log
func (s *gameServiceImpl) AddChatMessage(ctx context.Context, sessionID string, msg ChatInput) (*engine.ChatMessage, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	state, _, err := sess.Transition(s.now(), engine.PostChat{
		UserID:   msg.UserID,
		Username: msg.Username,
		Text:     msg.Text,
	})
	if err != nil {
		return nil, err
	}

	posted := state.ChatMessages[len(state.ChatMessages)-1]
	return &posted, nil
}

// HandleDisconnect marks userID disconnected and forfeits an in-progress game.
// It returns nil when the session no longer exists.
func (s *gameServiceImpl) HandleDisconnect(ctx context.Context, sessionID, userID string) (*DepartureResult, error) {
	return s.depart(ctx, sessionID, userID, engine.EndReasonForfeitDisconnection)
}

// HandleLeave is HandleDisconnect for an intentional leave
func (s *gameServiceImpl) HandleLeave(ctx context.Context, sessionID, userID string) (*DepartureResult, error) {
	return s.depart(ctx, sessionID, userID, engine.EndReasonForfeitLeave)
}

func (s *gameServiceImpl) depart(ctx context.Context, sessionID, userID string, reason engine.EndReason) (*DepartureResult, error) {
	sess, err := s.sessions.Get(sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Forfeit is a no-op unless the game is in progress
	state, events, err := sess.Transition(s.now(),
		engine.MarkDisconnected{UserID: userID},
		engine.Forfeit{UserID: userID, Reason: reason},
	)
	if err != nil {
		return nil, err
	}

	result := &DepartureResult{
		GameState: state,
		Forfeited: engine.HasEvent(events, engine.EventGameOver),
	}
	if result.Forfeited {
		log.Info().
			Str("session_id", sessionID).
			Str("user_id", userID).
			Str("reason", string(reason)).
			Msg("game forfeited")
		s.completed(ctx, state)
	}
	return result, nil
}

// completed reports statistics for a game that just ended. It is only called
// for the transition that produced the game_over event.
func (s *gameServiceImpl) completed(ctx context.Context, state *engine.GameState) {
	s.metrics.GameCompleted(state.Result, state.EndReason)

	winnerSymbol := state.Result.Winner()
	if winnerSymbol == engine.SymbolNone {
		log.Info().Str("session_id", state.ID).Msg("game ended in a draw")
		return
	}

	winner := state.Player(winnerSymbol)
	loser := state.Player(winnerSymbol.Opponent())
	if winner == nil || loser == nil {
		log.Error().Str("session_id", state.ID).Msg("completed game is missing a player")
		return
	}

	log.Info().
		Str("session_id", state.ID).
		Str("winner", winner.UserID).
		Str("result", string(state.Result)).
		Msg("game over")

	if err := s.stats.RecordWin(ctx, winner.UserID); err != nil {
		s.metrics.StatsFailed()
		log.Error().Err(err).Str("session_id", state.ID).Str("user_id", winner.UserID).Msg("failed to record win")
	}
	if err := s.stats.RecordLoss(ctx, loser.UserID); err != nil {
		s.metrics.StatsFailed()
		log.Error().Err(err).Str("session_id", state.ID).Str("user_id", loser.UserID).Msg("failed to record loss")
	}
}

func (s *gameServiceImpl) get(sessionID string) (*Session, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return sess, nil
}

func sessionInfo(sess *Session) *SessionInfo {
	return &SessionInfo{
		ID:             sess.ID,
		Code:           sess.Code,
		CreatedAt:      sess.CreatedAt,
		LastAccessedAt: sess.LastAccessedAt(),
		GameState:      sess.Snapshot(),
	}
}
