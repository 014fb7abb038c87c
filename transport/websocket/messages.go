package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

// Inbound message types
const (
	TypeStartGame   = "start_game"
	TypeJoinGame    = "join_game"
	TypeMakeMove    = "make_move"
	TypeLeaveGame   = "leave_game"
	TypeSendMessage = "send_message"
	TypePing        = "ping"
)

// Outbound message types
const (
	TypeConnectionEstablished = "connection_established"
	TypeGameCreated           = "game_created"
	TypeGameJoined            = "game_joined"
	TypeOpponentJoined        = "opponent_joined"
	TypeGameStarted           = "game_started"
	TypeGameUpdate            = "game_update"
	TypeGameOver              = "game_over"
	TypeLeftGameAck           = "left_game_ack"
	TypeNewMessage            = "new_message"
	TypeOpponentDisconnected  = "opponent_disconnected"
	TypeError                 = "error"
	TypePong                  = "pong"
)

// Envelope is the wire form of an inbound message
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is the wire form of an outbound message
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Request is a decoded and validated inbound message
type Request interface {
	Type() string
}

type StartGame struct{}

type JoinGame struct {
	Code string `json:"code"`
}

type MakeMove struct {
	Row *int `json:"row"`
	Col *int `json:"col"`
}

type LeaveGame struct{}

type SendMessage struct {
	Text string `json:"text"`
}

type Ping struct{}

func (StartGame) Type() string   { return TypeStartGame }
func (JoinGame) Type() string    { return TypeJoinGame }
func (MakeMove) Type() string    { return TypeMakeMove }
func (LeaveGame) Type() string   { return TypeLeaveGame }
func (SendMessage) Type() string { return TypeSendMessage }
func (Ping) Type() string        { return TypePing }

// Validate checks the required fields of the payload
func (j JoinGame) Validate() error {
	if strings.TrimSpace(j.Code) == "" {
		return fmt.Errorf("%w: code is required", service.ErrInvalidInput)
	}
	return nil
}

// Validate checks the required fields of the payload
func (m MakeMove) Validate() error {
	if m.Row == nil || m.Col == nil {
		return fmt.Errorf("%w: row and col are required", service.ErrInvalidInput)
	}
	return nil
}

// Validate checks the required fields of the payload
func (s SendMessage) Validate() error {
	if strings.TrimSpace(s.Text) == "" {
		return fmt.Errorf("%w: text is required", service.ErrInvalidInput)
	}
	if len(s.Text) > engine.MaxChatMessageLength {
		return fmt.Errorf("%w: text exceeds %d bytes", service.ErrInvalidInput, engine.MaxChatMessageLength)
	}
	return nil
}

// Decode parses an envelope and its payload. Malformed or incomplete
// payloads are rejected here.
func Decode(data []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed message", service.ErrInvalidInput)
	}

	switch env.Type {
	case TypeStartGame:
		return StartGame{}, nil
	case TypeLeaveGame:
		return LeaveGame{}, nil
	case TypePing:
		return Ping{}, nil
	case TypeJoinGame:
		var req JoinGame
		if err := decodePayload(env, &req); err != nil {
			return nil, err
		}
		return req, req.Validate()
	case TypeMakeMove:
		var req MakeMove
		if err := decodePayload(env, &req); err != nil {
			return nil, err
		}
		return req, req.Validate()
	case TypeSendMessage:
		var req SendMessage
		if err := decodePayload(env, &req); err != nil {
			return nil, err
		}
		return req, req.Validate()
	case "":
		return nil, fmt.Errorf("%w: message type is required", service.ErrInvalidInput)
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", service.ErrInvalidInput, env.Type)
	}
}

func decodePayload(env Envelope, v interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: %s requires a payload", service.ErrInvalidInput, env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: invalid %s payload", service.ErrInvalidInput, env.Type)
	}
	return nil
}

// ConnectionEstablishedPayload greets an authenticated connection
type ConnectionEstablishedPayload struct {
	ConnectionID string            `json:"connection_id"`
	User         service.Principal `json:"user"`
}

// GamePayload carries a snapshot of the game
type GamePayload struct {
	GameState *engine.GameState `json:"game_state"`
}

// GameJoinedPayload is sent to the player who joined
type GameJoinedPayload struct {
	GameState   *engine.GameState    `json:"game_state"`
	Symbol      engine.Symbol        `json:"symbol"`
	Reconnected bool                 `json:"reconnected"`
	ChatHistory []engine.ChatMessage `json:"chat_history"`
}

// OpponentJoinedPayload is sent to the rest of the room
type OpponentJoinedPayload struct {
	Username    string            `json:"username"`
	Reconnected bool              `json:"reconnected"`
	GameState   *engine.GameState `json:"game_state"`
}

// GameUpdatePayload follows every accepted move
type GameUpdatePayload struct {
	GameState *engine.GameState `json:"game_state"`
	LastMove  engine.Move       `json:"last_move"`
}

// GameOverPayload announces the end of a game
type GameOverPayload struct {
	GameState   *engine.GameState   `json:"game_state"`
	Result      engine.Result       `json:"result"`
	Winner      string              `json:"winner,omitempty"`
	WinningLine *engine.WinningLine `json:"winning_line,omitempty"`
	EndReason   engine.EndReason    `json:"end_reason,omitempty"`
}

// OpponentDisconnectedPayload tells the room a player dropped
type OpponentDisconnectedPayload struct {
	UserID    string            `json:"user_id"`
	Username  string            `json:"username"`
	GameState *engine.GameState `json:"game_state"`
}

// ErrorPayload reports a failed request to its sender
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongPayload answers a ping
type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

func gameOverPayload(state *engine.GameState) GameOverPayload {
	p := GameOverPayload{
		GameState:   state,
		Result:      state.Result,
		WinningLine: state.WinningLine,
		EndReason:   state.EndReason,
	}
	if winner := state.Player(state.Result.Winner()); winner != nil {
		p.Winner = winner.Username
	}
	return p
}
