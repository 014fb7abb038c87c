package service

import (
	"time"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

// Principal is an authenticated player as supplied by the identity provider
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}

// SessionInfo provides information about a game session
type SessionInfo struct {
	ID             string            `json:"id"`
	Code           string            `json:"code"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	GameState      *engine.GameState `json:"game_state"`
}

// JoinResult contains the outcome of adding a player to a session
type JoinResult struct {
	GameState   *engine.GameState `json:"game_state"`
	Started     bool              `json:"started"`
	Reconnected bool              `json:"reconnected"`
}

// MoveResult contains the result of an accepted move
type MoveResult struct {
	GameState *engine.GameState `json:"game_state"`
	Move      engine.Move       `json:"last_move"`
	GameOver  bool              `json:"game_over"`
}

// DepartureResult reports the state after a leave or a disconnect
type DepartureResult struct {
	GameState *engine.GameState `json:"game_state"`
	Forfeited bool              `json:"forfeited"`
}

// ChatInput is a chat line submitted by a player
type ChatInput struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Text     string `json:"text"`
}
