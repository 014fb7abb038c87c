package engine

import "time"

// Symbol is the mark a player places on the board
type Symbol string

const (
	SymbolNone Symbol = ""
	SymbolX    Symbol = "X"
	SymbolO    Symbol = "O"

	// BoardSize is the number of rows and columns
	BoardSize = 3

	// MaxChatMessageLength bounds a single chat line in bytes
	MaxChatMessageLength = 500
)

// Opponent returns the other player's symbol
func (s Symbol) Opponent() Symbol {
	switch s {
	case SymbolX:
		return SymbolO
	case SymbolO:
		return SymbolX
	default:
		return SymbolNone
	}
}

// Status is the lifecycle state of a game
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Result is the outcome of a game
type Result string

const (
	ResultNone Result = "none"
	ResultXWon Result = "x_won"
	ResultOWon Result = "o_won"
	ResultDraw Result = "draw"
)

// winFor returns the result awarding the win to symbol
func winFor(s Symbol) Result {
	if s == SymbolX {
		return ResultXWon
	}
	return ResultOWon
}

// Winner returns the winning symbol, or SymbolNone for draws and unfinished games
func (r Result) Winner() Symbol {
	switch r {
	case ResultXWon:
		return SymbolX
	case ResultOWon:
		return SymbolO
	default:
		return SymbolNone
	}
}

// EndReason records why a game ended abnormally. Natural endings leave it empty.
type EndReason string

const (
	EndReasonNone                 EndReason = ""
	EndReasonForfeitDisconnection EndReason = "forfeit_disconnection"
	EndReasonForfeitLeave         EndReason = "forfeit_leave"
)

// Position represents row,col coordinates on the board
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// InRange reports whether the position addresses a cell of the board
func (p Position) InRange() bool {
	return p.Row >= 0 && p.Row < BoardSize && p.Col >= 0 && p.Col < BoardSize
}

// Board is the 3x3 grid. SymbolNone marks an empty cell.
type Board [BoardSize][BoardSize]Symbol

// At returns the symbol at p
func (b Board) At(p Position) Symbol {
	return b[p.Row][p.Col]
}

// Occupied counts the non-empty cells
func (b Board) Occupied() int {
	n := 0
	for _, row := range b {
		for _, cell := range row {
			if cell != SymbolNone {
				n++
			}
		}
	}
	return n
}

// Player is one of the two seats of a game
type Player struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Symbol      Symbol `json:"symbol"`
	IsConnected bool   `json:"is_connected"`
}

// Players holds the X and O seats; a nil seat is free
type Players struct {
	X *Player `json:"X"`
	O *Player `json:"O"`
}

// Move is one accepted move. Moves are append-only.
type Move struct {
	PlayerID  string    `json:"player_id"`
	Symbol    Symbol    `json:"symbol"`
	Position  Position  `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// WinningLine is the completed line of a won game
type WinningLine struct {
	Positions [BoardSize]Position `json:"positions"`
	Symbol    Symbol              `json:"symbol"`
}

// ChatMessage is one line of the in-game chat
type ChatMessage struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// GameState represents the complete state of one session
type GameState struct {
	ID           string        `json:"id"`
	Code         string        `json:"code"`
	Board        Board         `json:"board"`
	Players      Players       `json:"players"`
	Status       Status        `json:"status"`
	CurrentTurn  Symbol        `json:"current_turn"`
	Result       Result        `json:"result"`
	WinningLine  *WinningLine  `json:"winning_line"`
	Moves        []Move        `json:"moves"`
	ChatMessages []ChatMessage `json:"chat_messages"`
	CreatedAt    time.Time     `json:"created_at"`
	LastMoveAt   *time.Time    `json:"last_move_at"`
	EndReason    EndReason     `json:"end_reason,omitempty"`
}

// NewGameState returns an empty game waiting for its first player
func NewGameState(id, code string, now time.Time) *GameState {
	return &GameState{
		ID:           id,
		Code:         code,
		Status:       StatusWaiting,
		CurrentTurn:  SymbolNone,
		Result:       ResultNone,
		Moves:        []Move{},
		ChatMessages: []ChatMessage{},
		CreatedAt:    now,
	}
}

// Clone returns a deep copy of the state
func (g *GameState) Clone() *GameState {
	if g == nil {
		return nil
	}
	c := *g
	if g.Players.X != nil {
		x := *g.Players.X
		c.Players.X = &x
	}
	if g.Players.O != nil {
		o := *g.Players.O
		c.Players.O = &o
	}
	if g.WinningLine != nil {
		wl := *g.WinningLine
		c.WinningLine = &wl
	}
	if g.LastMoveAt != nil {
		t := *g.LastMoveAt
		c.LastMoveAt = &t
	}
	c.Moves = append(make([]Move, 0, len(g.Moves)), g.Moves...)
	c.ChatMessages = append(make([]ChatMessage, 0, len(g.ChatMessages)), g.ChatMessages...)
	return &c
}

// Player returns the seat holding symbol, or nil
func (g *GameState) Player(s Symbol) *Player {
	switch s {
	case SymbolX:
		return g.Players.X
	case SymbolO:
		return g.Players.O
	default:
		return nil
	}
}

// SeatOf returns the player seated as userID
func (g *GameState) SeatOf(userID string) (*Player, bool) {
	if g.Players.X != nil && g.Players.X.UserID == userID {
		return g.Players.X, true
	}
	if g.Players.O != nil && g.Players.O.UserID == userID {
		return g.Players.O, true
	}
	return nil, false
}

// IsOver reports whether the game reached its terminal state
func (g *GameState) IsOver() bool {
	return g.Status == StatusCompleted
}
