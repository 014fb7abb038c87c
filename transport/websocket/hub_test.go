package websocket

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

type nopHandler struct{}

func (nopHandler) OnConnect(*Hub, *Client)          {}
func (nopHandler) OnMessage(*Hub, *Client, Request) {}
func (nopHandler) OnDisconnect(*Hub, *Client)       {}

func newTestClient(h *Hub, id string, buffer int) *Client {
	return &Client{
		hub:  h,
		id:   id,
		send: make(chan []byte, buffer),
	}
}

func decodeMessage(t *testing.T, data []byte) Message {
	t.Helper()
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nopHandler{}, nil)

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.rooms == nil || hub.clients == nil {
		t.Error("Hub maps are nil")
	}
	if hub.register == nil || hub.unregister == nil || hub.inbound == nil {
		t.Error("Hub channels are nil")
	}
	if hub.messageBurst <= 0 {
		t.Errorf("Expected a default burst, got %d", hub.messageBurst)
	}
}

func TestHubJoinLeave(t *testing.T) {
	hub := NewHub(nopHandler{}, nil)
	client := newTestClient(hub, "c1", 4)

	hub.Join(client, "room-a")
	if !hub.rooms["room-a"][client] {
		t.Fatal("Client was not added to room")
	}
	if client.room != "room-a" {
		t.Errorf("Expected room-a, got %q", client.room)
	}

	hub.Join(client, "room-b")
	if _, exists := hub.rooms["room-a"]; exists {
		t.Error("Empty room was not cleaned up")
	}
	if hub.RoomSize("room-b") != 1 {
		t.Errorf("Expected 1 client in room-b, got %d", hub.RoomSize("room-b"))
	}

	hub.Leave(client)
	if client.room != "" || hub.RoomSize("room-b") != 0 {
		t.Error("Client still in room after Leave")
	}
	hub.Leave(client)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nopHandler{}, nil)
	a := newTestClient(hub, "a", 4)
	b := newTestClient(hub, "b", 4)
	other := newTestClient(hub, "other", 4)

	hub.Join(a, "room")
	hub.Join(b, "room")
	hub.Join(other, "elsewhere")

	hub.Broadcast("room", nil, TypeGameUpdate, GamePayload{GameState: engine.NewGameState("g", "ABCDEF", testTime)})
	hub.Broadcast("room", a, TypeNewMessage, engine.ChatMessage{Text: "hi"})

	if len(a.send) != 1 {
		t.Errorf("Expected 1 message for a, got %d", len(a.send))
	}
	if len(b.send) != 2 {
		t.Fatalf("Expected 2 messages for b, got %d", len(b.send))
	}
	if len(other.send) != 0 {
		t.Errorf("Expected no messages outside the room, got %d", len(other.send))
	}

	first := decodeMessage(t, <-b.send)
	second := decodeMessage(t, <-b.send)
	if first.Type != TypeGameUpdate || second.Type != TypeNewMessage {
		t.Errorf("Expected game_update then new_message, got %s then %s", first.Type, second.Type)
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(nopHandler{}, nil)
	slow := newTestClient(hub, "slow", 1)
	hub.Join(slow, "room")

	hub.Send(slow, TypePong, PongPayload{})
	hub.Send(slow, TypePong, PongPayload{})

	if !slow.closed {
		t.Fatal("Expected slow client to be closed")
	}
	if hub.RoomSize("room") != 0 {
		t.Error("Expected slow client to leave its room")
	}

	// Further sends are ignored instead of panicking on the closed channel
	hub.Send(slow, TypePong, PongPayload{})
}

func TestHubSendError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"not found", service.ErrSessionNotFound, string(service.KindNotFound)},
		{"occupied", engine.ErrCellOccupied, string(service.KindOccupied)},
		{"rate limited", ErrRateLimited, string(service.KindRateLimited)},
		{"internal", errors.New("disk on fire"), string(service.KindInternal)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(nopHandler{}, nil)
			client := newTestClient(hub, "c", 1)

			hub.SendError(client, tt.err)

			msg := decodeMessage(t, <-client.send)
			if msg.Type != TypeError {
				t.Fatalf("Expected error message, got %s", msg.Type)
			}
			payload := msg.Payload.(map[string]interface{})
			if payload["code"] != tt.code {
				t.Errorf("Expected code %s, got %v", tt.code, payload["code"])
			}
			if tt.code == string(service.KindInternal) && payload["message"] != "internal error" {
				t.Errorf("Internal errors must not leak details, got %v", payload["message"])
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		expected string
		wantErr  bool
	}{
		{"start", `{"type":"start_game"}`, TypeStartGame, false},
		{"ping", `{"type":"ping"}`, TypePing, false},
		{"leave", `{"type":"leave_game","payload":{}}`, TypeLeaveGame, false},
		{"join", `{"type":"join_game","payload":{"code":"abc123"}}`, TypeJoinGame, false},
		{"join without code", `{"type":"join_game","payload":{}}`, "", true},
		{"join without payload", `{"type":"join_game"}`, "", true},
		{"move", `{"type":"make_move","payload":{"row":0,"col":2}}`, TypeMakeMove, false},
		{"move missing col", `{"type":"make_move","payload":{"row":1}}`, "", true},
		{"move wrong type", `{"type":"make_move","payload":{"row":"a","col":1}}`, "", true},
		{"chat", `{"type":"send_message","payload":{"text":"gg"}}`, TypeSendMessage, false},
		{"chat blank", `{"type":"send_message","payload":{"text":"  "}}`, "", true},
		{"unknown type", `{"type":"rematch"}`, "", true},
		{"missing type", `{"payload":{}}`, "", true},
		{"not json", `hello`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Decode([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, service.ErrInvalidInput) {
					t.Errorf("Expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if req.Type() != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, req.Type())
			}
		})
	}
}

func TestDecodeMoveValues(t *testing.T) {
	req, err := Decode([]byte(`{"type":"make_move","payload":{"row":0,"col":0}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	move := req.(MakeMove)
	if *move.Row != 0 || *move.Col != 0 {
		t.Errorf("Expected 0,0, got %d,%d", *move.Row, *move.Col)
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		token  string
	}{
		{"query", "/ws?token=abc", "", "abc"},
		{"bearer", "/ws", "Bearer xyz", "xyz"},
		{"query wins", "/ws?token=abc", "Bearer xyz", "abc"},
		{"basic auth ignored", "/ws", "Basic Zm9v", ""},
		{"none", "/ws", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRequest(tt.url, tt.header)
			if got := tokenFromRequest(r); got != tt.token {
				t.Errorf("Expected %q, got %q", tt.token, got)
			}
		})
	}
}
