package websocket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/tictactoe/game/directory"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

const defaultRequestTimeout = 5 * time.Second

// ConnectionMetrics tracks live connections
type ConnectionMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
}

type noopConnectionMetrics struct{}

func (noopConnectionMetrics) ConnectionOpened() {}
func (noopConnectionMetrics) ConnectionClosed() {}

// Gateway translates hub events into game service calls and broadcasts the
// outcome to the session room.
type Gateway struct {
	games   service.GameService
	dir     *directory.Directory
	metrics ConnectionMetrics
	timeout time.Duration
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithConnectionMetrics reports connection counts to m
func WithConnectionMetrics(m ConnectionMetrics) GatewayOption {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// NewGateway creates a gateway over games. dir must report disconnects to
// the same game service.
func NewGateway(games service.GameService, dir *directory.Directory, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		games:   games,
		dir:     dir,
		metrics: noopConnectionMetrics{},
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnConnect registers the connection and greets it
func (g *Gateway) OnConnect(h *Hub, c *Client) {
	g.dir.Connect(c.ID())
	if err := g.dir.Authenticate(c.ID(), c.Principal()); err != nil {
		h.SendError(c, err)
		return
	}
	g.metrics.ConnectionOpened()

	log.Info().Str("conn_id", c.ID()).Str("user_id", c.Principal().ID).Msg("client connected")
	h.Send(c, TypeConnectionEstablished, ConnectionEstablishedPayload{
		ConnectionID: c.ID(),
		User:         c.Principal(),
	})
}

// OnMessage dispatches a validated request
func (g *Gateway) OnMessage(h *Hub, c *Client, req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	var err error
	switch r := req.(type) {
	case StartGame:
		err = g.startGame(ctx, h, c)
	case JoinGame:
		err = g.joinGame(ctx, h, c, r)
	case MakeMove:
		err = g.makeMove(ctx, h, c, r)
	case LeaveGame:
		err = g.leaveGame(ctx, h, c)
	case SendMessage:
		err = g.sendMessage(ctx, h, c, r)
	case Ping:
		h.Send(c, TypePong, PongPayload{Timestamp: time.Now()})
	default:
		err = fmt.Errorf("%w: unsupported request %s", service.ErrInvalidInput, req.Type())
	}

	if err != nil {
		log.Debug().Err(err).Str("conn_id", c.ID()).Str("type", req.Type()).Msg("request rejected")
		h.SendError(c, err)
	}
}

// OnDisconnect releases the connection and notifies its room
func (g *Gateway) OnDisconnect(h *Hub, c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	g.metrics.ConnectionClosed()
	log.Info().Str("conn_id", c.ID()).Str("user_id", c.Principal().ID).Msg("client disconnected")

	dep, err := g.dir.Disconnect(ctx, c.ID())
	if err != nil || dep == nil || dep.Result == nil {
		return
	}

	room := dep.Record.SessionID
	if dep.Result.Forfeited {
		h.Broadcast(room, c, TypeGameOver, gameOverPayload(dep.Result.GameState))
		return
	}
	h.Broadcast(room, c, TypeOpponentDisconnected, OpponentDisconnectedPayload{
		UserID:    dep.Record.UserID,
		Username:  dep.Record.Username,
		GameState: dep.Result.GameState,
	})
}

func (g *Gateway) startGame(ctx context.Context, h *Hub, c *Client) error {
	prev, err := g.switchFrom(ctx, c, "")
	if err != nil {
		return err
	}

	info, err := g.games.CreateSession(ctx)
	if err != nil {
		return err
	}
	joined, err := g.games.AddPlayer(ctx, info.ID, c.Principal())
	if err != nil {
		if rmErr := g.games.RemoveSession(ctx, info.ID); rmErr != nil {
			log.Error().Err(rmErr).Str("session_id", info.ID).Msg("failed to remove unseated session")
		}
		return err
	}

	g.release(ctx, c, prev)
	g.enter(h, c, info.ID)
	log.Info().Str("session_id", info.ID).Str("code", info.Code).Str("user_id", c.Principal().ID).Msg("game created")
	h.Send(c, TypeGameCreated, GamePayload{GameState: joined.GameState})
	return nil
}

func (g *Gateway) joinGame(ctx context.Context, h *Hub, c *Client, req JoinGame) error {
	info, err := g.games.FindSessionByCode(ctx, req.Code)
	if err != nil {
		return err
	}
	prev, err := g.switchFrom(ctx, c, info.ID)
	if err != nil {
		return err
	}

	joined, err := g.games.AddPlayer(ctx, info.ID, c.Principal())
	if err != nil {
		return err
	}
	g.release(ctx, c, prev)
	g.enter(h, c, info.ID)

	state := joined.GameState
	var symbol engine.Symbol
	if seat, ok := state.SeatOf(c.Principal().ID); ok {
		symbol = seat.Symbol
	}

	h.Send(c, TypeGameJoined, GameJoinedPayload{
		GameState:   state,
		Symbol:      symbol,
		Reconnected: joined.Reconnected,
		ChatHistory: state.ChatMessages,
	})
	h.Broadcast(info.ID, c, TypeOpponentJoined, OpponentJoinedPayload{
		Username:    c.Principal().Username,
		Reconnected: joined.Reconnected,
		GameState:   state,
	})
	if joined.Started {
		h.Broadcast(info.ID, nil, TypeGameStarted, GamePayload{GameState: state})
	}
	return nil
}

func (g *Gateway) makeMove(ctx context.Context, h *Hub, c *Client, req MakeMove) error {
	sessionID, err := g.currentSession(c)
	if err != nil {
		return err
	}

	res, err := g.games.ApplyMove(ctx, sessionID, c.Principal().ID, *req.Row, *req.Col)
	if err != nil {
		return err
	}

	h.Broadcast(sessionID, nil, TypeGameUpdate, GameUpdatePayload{
		GameState: res.GameState,
		LastMove:  res.Move,
	})
	if res.GameOver {
		h.Broadcast(sessionID, nil, TypeGameOver, gameOverPayload(res.GameState))
	}
	return nil
}

func (g *Gateway) leaveGame(ctx context.Context, h *Hub, c *Client) error {
	sessionID, err := g.currentSession(c)
	if err != nil {
		return err
	}

	res, err := g.games.HandleLeave(ctx, sessionID, c.Principal().ID)
	if err != nil {
		return err
	}
	g.exit(h, c)

	if res == nil {
		h.Send(c, TypeLeftGameAck, GamePayload{})
		return nil
	}
	h.Send(c, TypeLeftGameAck, GamePayload{GameState: res.GameState})
	if res.Forfeited {
		h.Broadcast(sessionID, nil, TypeGameOver, gameOverPayload(res.GameState))
	}
	return nil
}

func (g *Gateway) sendMessage(ctx context.Context, h *Hub, c *Client, req SendMessage) error {
	sessionID, err := g.currentSession(c)
	if err != nil {
		return err
	}

	p := c.Principal()
	msg, err := g.games.AddChatMessage(ctx, sessionID, service.ChatInput{
		UserID:   p.ID,
		Username: p.Username,
		Text:     req.Text,
	})
	if err != nil {
		return err
	}

	h.Broadcast(sessionID, c, TypeNewMessage, msg)
	return nil
}

// switchFrom returns the session the client has to give up before it starts
// or joins another one, or "" when there is none. Switching away from an
// in-progress game is refused. keep names a session the client may stay in.
// Nothing is changed here; the caller releases prev once its new seat holds.
func (g *Gateway) switchFrom(ctx context.Context, c *Client, keep string) (string, error) {
	rec, ok := g.dir.Lookup(c.ID())
	if !ok || rec.SessionID == "" || rec.SessionID == keep {
		return "", nil
	}

	info, err := g.games.GetSession(ctx, rec.SessionID)
	if errors.Is(err, service.ErrSessionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	if _, seated := info.GameState.SeatOf(c.Principal().ID); seated && info.GameState.Status == engine.StatusInProgress {
		return "", fmt.Errorf("%w: finish or leave game %s first", service.ErrAlreadyInGame, info.Code)
	}
	return rec.SessionID, nil
}

// release marks the client gone from a session it switched away from
func (g *Gateway) release(ctx context.Context, c *Client, sessionID string) {
	if sessionID == "" {
		return
	}
	if _, err := g.games.HandleLeave(ctx, sessionID, c.Principal().ID); err != nil && !errors.Is(err, service.ErrSessionNotFound) {
		log.Warn().Err(err).Str("session_id", sessionID).Str("user_id", c.Principal().ID).Msg("failed to release previous session")
	}
}

func (g *Gateway) currentSession(c *Client) (string, error) {
	rec, ok := g.dir.Lookup(c.ID())
	if !ok || rec.SessionID == "" {
		return "", fmt.Errorf("%w: not in a game", engine.ErrNotInProgress)
	}
	return rec.SessionID, nil
}

func (g *Gateway) enter(h *Hub, c *Client, sessionID string) {
	if err := g.dir.Associate(c.ID(), sessionID); err != nil {
		log.Error().Err(err).Str("conn_id", c.ID()).Msg("failed to associate connection")
	}
	h.Join(c, sessionID)
}

func (g *Gateway) exit(h *Hub, c *Client) {
	g.dir.Dissociate(c.ID())
	h.Leave(c)
}
