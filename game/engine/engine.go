package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrGameFull       = errors.New("game is already full")
	ErrNotInProgress  = errors.New("game is not in progress")
	ErrNotAPlayer     = errors.New("player is not in this game")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrOutOfRange     = errors.New("position is out of range")
	ErrCellOccupied   = errors.New("position already taken")
	ErrInvalidPlayer  = errors.New("player identity is required")
	ErrUnknownCommand = errors.New("unknown command")
	ErrEmptyMessage   = errors.New("message text is required")
	ErrMessageTooLong = errors.New("message text is too long")
)

// Command is a requested transition of a GameState
type Command interface {
	// Name identifies the command in logs and errors
	Name() string
}

// Join seats a player, or reconnects a player who already holds a seat
type Join struct {
	UserID   string
	Username string
}

// PlaceMark places the mover's symbol at Position
type PlaceMark struct {
	UserID   string
	Position Position
}

// PostChat appends a chat line
type PostChat struct {
	UserID   string
	Username string
	Text     string
}

// MarkDisconnected flags a seated player's connection as lost
type MarkDisconnected struct {
	UserID string
}

// Forfeit ends an in-progress game in favour of the opponent of UserID
type Forfeit struct {
	UserID string
	Reason EndReason
}

func (Join) Name() string             { return "join" }
func (PlaceMark) Name() string        { return "place_mark" }
func (PostChat) Name() string         { return "post_chat" }
func (MarkDisconnected) Name() string { return "mark_disconnected" }
func (Forfeit) Name() string          { return "forfeit" }

// EventType identifies what a transition did
type EventType string

const (
	EventPlayerJoined       EventType = "player_joined"
	EventPlayerReconnected  EventType = "player_reconnected"
	EventGameStarted        EventType = "game_started"
	EventMoveApplied        EventType = "move_applied"
	EventGameOver           EventType = "game_over"
	EventChatPosted         EventType = "chat_posted"
	EventPlayerDisconnected EventType = "player_disconnected"
)

// Event is emitted by Apply for every observable change
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	Symbol    Symbol    `json:"symbol,omitempty"`
	Position  *Position `json:"position,omitempty"`
	Result    Result    `json:"result,omitempty"`
	Reason    EndReason `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HasEvent reports whether events contains an event of type t
func HasEvent(events []Event, t EventType) bool {
	for _, ev := range events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

// Apply computes the state following cmd. The input state is never modified;
// on error the returned state is nil and the caller keeps the previous one.
func Apply(state *GameState, cmd Command, now time.Time) (*GameState, []Event, error) {
	if state == nil {
		return nil, nil, fmt.Errorf("state cannot be nil")
	}

	next := state.Clone()
	var (
		events []Event
		err    error
	)

	switch c := cmd.(type) {
	case Join:
		events, err = next.join(c, now)
	case PlaceMark:
		events, err = next.placeMark(c, now)
	case PostChat:
		events, err = next.postChat(c, now)
	case MarkDisconnected:
		events = next.markDisconnected(c, now)
	case Forfeit:
		events = next.forfeit(c, now)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}

	if err != nil {
		return nil, nil, err
	}
	return next, events, nil
}

func (g *GameState) join(c Join, now time.Time) ([]Event, error) {
	if c.UserID == "" {
		return nil, ErrInvalidPlayer
	}

	// Same principal again: reconnect, never a second seat
	if seat, ok := g.SeatOf(c.UserID); ok {
		seat.IsConnected = true
		return []Event{{
			Type:      EventPlayerReconnected,
			UserID:    c.UserID,
			Symbol:    seat.Symbol,
			Timestamp: now,
		}}, nil
	}

	if g.Players.X != nil && g.Players.O != nil {
		return nil, ErrGameFull
	}

	if g.Players.X == nil {
		g.Players.X = &Player{UserID: c.UserID, Username: c.Username, Symbol: SymbolX, IsConnected: true}
		return []Event{{Type: EventPlayerJoined, UserID: c.UserID, Symbol: SymbolX, Timestamp: now}}, nil
	}

	g.Players.O = &Player{UserID: c.UserID, Username: c.Username, Symbol: SymbolO, IsConnected: true}
	g.Status = StatusInProgress
	g.CurrentTurn = SymbolX

	return []Event{
		{Type: EventPlayerJoined, UserID: c.UserID, Symbol: SymbolO, Timestamp: now},
		{Type: EventGameStarted, Symbol: SymbolX, Timestamp: now},
	}, nil
}

func (g *GameState) placeMark(c PlaceMark, now time.Time) ([]Event, error) {
	if g.Status != StatusInProgress {
		return nil, ErrNotInProgress
	}

	player, ok := g.SeatOf(c.UserID)
	if !ok {
		return nil, ErrNotAPlayer
	}
	if g.CurrentTurn != player.Symbol {
		return nil, ErrNotYourTurn
	}
	if !c.Position.InRange() {
		return nil, ErrOutOfRange
	}
	if g.Board.At(c.Position) != SymbolNone {
		return nil, ErrCellOccupied
	}

	g.Board[c.Position.Row][c.Position.Col] = player.Symbol
	g.Moves = append(g.Moves, Move{
		PlayerID:  player.UserID,
		Symbol:    player.Symbol,
		Position:  c.Position,
		Timestamp: now,
	})
	at := now
	g.LastMoveAt = &at

	pos := c.Position
	events := []Event{{
		Type:      EventMoveApplied,
		UserID:    player.UserID,
		Symbol:    player.Symbol,
		Position:  &pos,
		Timestamp: now,
	}}

	if line, won := CheckWin(g.Board); won {
		g.Status = StatusCompleted
		g.Result = winFor(line.Symbol)
		g.WinningLine = &line
		g.CurrentTurn = SymbolNone
		return append(events, Event{Type: EventGameOver, Symbol: line.Symbol, Result: g.Result, Timestamp: now}), nil
	}

	if IsFull(g.Board) {
		g.Status = StatusCompleted
		g.Result = ResultDraw
		g.CurrentTurn = SymbolNone
		return append(events, Event{Type: EventGameOver, Result: ResultDraw, Timestamp: now}), nil
	}

	g.CurrentTurn = player.Symbol.Opponent()
	return events, nil
}

func (g *GameState) postChat(c PostChat, now time.Time) ([]Event, error) {
	if _, ok := g.SeatOf(c.UserID); !ok {
		return nil, ErrNotAPlayer
	}
	if strings.TrimSpace(c.Text) == "" {
		return nil, ErrEmptyMessage
	}
	if len(c.Text) > MaxChatMessageLength {
		return nil, ErrMessageTooLong
	}

	g.ChatMessages = append(g.ChatMessages, ChatMessage{
		UserID:    c.UserID,
		Username:  c.Username,
		Text:      c.Text,
		Timestamp: now,
	})
	return []Event{{Type: EventChatPosted, UserID: c.UserID, Timestamp: now}}, nil
}

func (g *GameState) markDisconnected(c MarkDisconnected, now time.Time) []Event {
	seat, ok := g.SeatOf(c.UserID)
	if !ok {
		return nil
	}
	seat.IsConnected = false
	return []Event{{Type: EventPlayerDisconnected, UserID: c.UserID, Symbol: seat.Symbol, Timestamp: now}}
}

func (g *GameState) forfeit(c Forfeit, now time.Time) []Event {
	if g.Status != StatusInProgress {
		return nil
	}
	leaver, ok := g.SeatOf(c.UserID)
	if !ok {
		return nil
	}

	winner := leaver.Symbol.Opponent()
	g.Status = StatusCompleted
	g.Result = winFor(winner)
	g.CurrentTurn = SymbolNone
	g.EndReason = c.Reason
	at := now
	g.LastMoveAt = &at

	return []Event{{
		Type:      EventGameOver,
		UserID:    c.UserID,
		Symbol:    winner,
		Result:    g.Result,
		Reason:    c.Reason,
		Timestamp: now,
	}}
}
