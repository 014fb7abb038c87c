package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

// MockSessionManager implements service.SessionManager for testing
type MockSessionManager struct {
	sessions map[string]*service.Session
	byCode   map[string]string
}

func NewMockSessionManager() *MockSessionManager {
	return &MockSessionManager{
		sessions: make(map[string]*service.Session),
		byCode:   make(map[string]string),
	}
}

func (m *MockSessionManager) Create() (*service.Session, error) {
	n := len(m.sessions) + 1
	id := fmt.Sprintf("test_%d", n)
	code := fmt.Sprintf("CODE%02d", n)
	sess := service.NewSession(engine.NewGameState(id, code, time.Now()))
	m.sessions[id] = sess
	m.byCode[code] = id
	return sess, nil
}

func (m *MockSessionManager) Get(id string) (*service.Session, error) {
	sess, exists := m.sessions[id]
	if !exists {
		return nil, service.ErrSessionNotFound
	}
	return sess, nil
}

func (m *MockSessionManager) GetByCode(code string) (*service.Session, error) {
	id, exists := m.byCode[code]
	if !exists {
		return nil, service.ErrSessionNotFound
	}
	return m.Get(id)
}

func (m *MockSessionManager) List() []*service.Session {
	result := make([]*service.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		result = append(result, sess)
	}
	return result
}

func (m *MockSessionManager) Delete(id string) error {
	sess, exists := m.sessions[id]
	if !exists {
		return service.ErrSessionNotFound
	}
	delete(m.sessions, id)
	delete(m.byCode, sess.Code)
	return nil
}

// MockStatsRecorder implements service.StatsRecorder and counts calls
type MockStatsRecorder struct {
	mu     sync.Mutex
	wins   []string
	losses []string

	RecordWinFunc func(ctx context.Context, userID string) error
}

func (m *MockStatsRecorder) RecordWin(ctx context.Context, userID string) error {
	m.mu.Lock()
	m.wins = append(m.wins, userID)
	m.mu.Unlock()
	if m.RecordWinFunc != nil {
		return m.RecordWinFunc(ctx, userID)
	}
	return nil
}

func (m *MockStatsRecorder) RecordLoss(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.losses = append(m.losses, userID)
	return nil
}

func (m *MockStatsRecorder) calls() (wins, losses []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.wins...), append([]string(nil), m.losses...)
}

type countingMetrics struct {
	created, moves, completed, statsFailed int
}

func (c *countingMetrics) SessionCreated()                               { c.created++ }
func (c *countingMetrics) MoveApplied()                                  { c.moves++ }
func (c *countingMetrics) GameCompleted(engine.Result, engine.EndReason) { c.completed++ }
func (c *countingMetrics) StatsFailed()                                  { c.statsFailed++ }

var (
	ana = service.Principal{ID: "1", Username: "ana"}
	bob = service.Principal{ID: "2", Username: "bob"}
	eve = service.Principal{ID: "3", Username: "eve"}
)

func newTestService(t *testing.T) (service.GameService, *MockStatsRecorder) {
	t.Helper()
	stats := &MockStatsRecorder{}
	return service.NewGameService(NewMockSessionManager(), stats), stats
}

// startedSession creates a session with ana as X and bob as O
func startedSession(t *testing.T, svc service.GameService) string {
	t.Helper()
	ctx := context.Background()
	info, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if _, err := svc.AddPlayer(ctx, info.ID, ana); err != nil {
		t.Fatalf("Failed to add ana: %v", err)
	}
	res, err := svc.AddPlayer(ctx, info.ID, bob)
	if err != nil {
		t.Fatalf("Failed to add bob: %v", err)
	}
	if !res.Started {
		t.Fatal("Expected game to start after second player")
	}
	return info.ID
}

func TestGameService_CreateSession(t *testing.T) {
	ctx := context.Background()
	metrics := &countingMetrics{}
	svc := service.NewGameService(NewMockSessionManager(), &MockStatsRecorder{}, service.WithMetrics(metrics))

	info, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if info.ID == "" || info.Code == "" {
		t.Errorf("Expected id and code, got %+v", info)
	}
	if info.GameState.Status != engine.StatusWaiting {
		t.Errorf("Expected waiting session, got %q", info.GameState.Status)
	}
	if metrics.created != 1 {
		t.Errorf("Expected 1 created metric, got %d", metrics.created)
	}

	found, err := svc.FindSessionByCode(ctx, info.Code)
	if err != nil {
		t.Fatalf("FindSessionByCode() error = %v", err)
	}
	if found.ID != info.ID {
		t.Errorf("Expected session %s, got %s", info.ID, found.ID)
	}
}

func TestGameService_NotFound(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		call func() error
	}{
		{"get", func() error { _, err := svc.GetSession(ctx, "missing"); return err }},
		{"find by code", func() error { _, err := svc.FindSessionByCode(ctx, "ZZZZZZ"); return err }},
		{"add player", func() error { _, err := svc.AddPlayer(ctx, "missing", ana); return err }},
		{"move", func() error { _, err := svc.ApplyMove(ctx, "missing", ana.ID, 0, 0); return err }},
		{"chat", func() error {
			_, err := svc.AddChatMessage(ctx, "missing", service.ChatInput{UserID: ana.ID, Text: "hi"})
			return err
		}},
		{"remove", func() error { return svc.RemoveSession(ctx, "missing") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if service.KindOf(err) != service.KindNotFound {
				t.Errorf("Expected not_found, got %v (%q)", err, service.KindOf(err))
			}
		})
	}
}

func TestGameService_AddPlayer(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	info, _ := svc.CreateSession(ctx)

	res, err := svc.AddPlayer(ctx, info.ID, ana)
	if err != nil {
		t.Fatalf("AddPlayer() error = %v", err)
	}
	if res.Started {
		t.Error("Expected game not to start with one player")
	}

	t.Run("same principal twice is a reconnect", func(t *testing.T) {
		res, err := svc.AddPlayer(ctx, info.ID, ana)
		if err != nil {
			t.Fatalf("AddPlayer() error = %v", err)
		}
		if !res.Reconnected {
			t.Error("Expected reconnect")
		}
		if res.GameState.Players.O != nil {
			t.Error("Expected second seat to remain free")
		}
		if !res.GameState.Players.X.IsConnected {
			t.Error("Expected X to be connected")
		}
	})

	t.Run("second principal starts the game", func(t *testing.T) {
		res, err := svc.AddPlayer(ctx, info.ID, bob)
		if err != nil {
			t.Fatalf("AddPlayer() error = %v", err)
		}
		if !res.Started || res.GameState.CurrentTurn != engine.SymbolX {
			t.Errorf("Expected started game with X to move, got %+v", res)
		}
	})

	t.Run("third principal conflicts", func(t *testing.T) {
		_, err := svc.AddPlayer(ctx, info.ID, eve)
		if service.KindOf(err) != service.KindConflict {
			t.Errorf("Expected conflict, got %v", err)
		}
	})
}

func TestGameService_ApplyMoveErrors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	id := startedSession(t, svc)

	if _, err := svc.ApplyMove(ctx, id, ana.ID, 1, 1); err != nil {
		t.Fatalf("ApplyMove() error = %v", err)
	}

	tests := []struct {
		name     string
		userID   string
		row, col int
		expected service.Kind
	}{
		{"not seated", eve.ID, 0, 0, service.KindForbidden},
		{"out of turn", ana.ID, 0, 0, service.KindOutOfTurn},
		{"out of range", bob.ID, 0, 3, service.KindOutOfRange},
		{"occupied", bob.ID, 1, 1, service.KindOccupied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ApplyMove(ctx, id, tt.userID, tt.row, tt.col)
			if service.KindOf(err) != tt.expected {
				t.Errorf("Expected %q, got %v (%q)", tt.expected, err, service.KindOf(err))
			}
		})
	}

	info, _ := svc.GetSession(ctx, id)
	if len(info.GameState.Moves) != 1 {
		t.Errorf("Expected rejected moves to leave 1 move, got %d", len(info.GameState.Moves))
	}

	t.Run("waiting game", func(t *testing.T) {
		waiting, _ := svc.CreateSession(ctx)
		svc.AddPlayer(ctx, waiting.ID, ana)
		_, err := svc.ApplyMove(ctx, waiting.ID, ana.ID, 0, 0)
		if service.KindOf(err) != service.KindInvalidState {
			t.Errorf("Expected invalid_state, got %v", err)
		}
	})
}

func TestGameService_WinRecordsStats(t *testing.T) {
	ctx := context.Background()
	svc, stats := newTestService(t)
	id := startedSession(t, svc)

	moves := []struct {
		user     string
		row, col int
	}{
		{ana.ID, 0, 0}, {bob.ID, 1, 0}, {ana.ID, 0, 1}, {bob.ID, 1, 1},
	}
	for _, m := range moves {
		res, err := svc.ApplyMove(ctx, id, m.user, m.row, m.col)
		if err != nil {
			t.Fatalf("ApplyMove(%s, %d, %d) error = %v", m.user, m.row, m.col, err)
		}
		if res.GameOver {
			t.Fatal("Game ended early")
		}
	}

	res, err := svc.ApplyMove(ctx, id, ana.ID, 0, 2)
	if err != nil {
		t.Fatalf("ApplyMove() error = %v", err)
	}
	if !res.GameOver || res.GameState.Result != engine.ResultXWon {
		t.Fatalf("Expected X to win, got %+v", res.GameState.Result)
	}
	if res.Move.Position != (engine.Position{Row: 0, Col: 2}) {
		t.Errorf("Expected last move at 0,2, got %+v", res.Move.Position)
	}

	wins, losses := stats.calls()
	if len(wins) != 1 || wins[0] != ana.ID {
		t.Errorf("Expected one win for ana, got %v", wins)
	}
	if len(losses) != 1 || losses[0] != bob.ID {
		t.Errorf("Expected one loss for bob, got %v", losses)
	}

	// A later departure must not report the game again
	if _, err := svc.HandleDisconnect(ctx, id, bob.ID); err != nil {
		t.Fatalf("HandleDisconnect() error = %v", err)
	}
	wins, losses = stats.calls()
	if len(wins) != 1 || len(losses) != 1 {
		t.Errorf("Expected stats to be reported once, got wins=%v losses=%v", wins, losses)
	}

	info, err := svc.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("Completed session must stay inspectable: %v", err)
	}
	if info.GameState.Status != engine.StatusCompleted {
		t.Errorf("Expected completed, got %q", info.GameState.Status)
	}
}

func TestGameService_DrawRecordsNothing(t *testing.T) {
	ctx := context.Background()
	svc, stats := newTestService(t)
	id := startedSession(t, svc)

	sequence := []struct {
		user     string
		row, col int
	}{
		{ana.ID, 0, 0}, {bob.ID, 0, 1}, {ana.ID, 0, 2},
		{bob.ID, 1, 0}, {ana.ID, 1, 1}, {bob.ID, 2, 0},
		{ana.ID, 2, 1}, {bob.ID, 2, 2}, {ana.ID, 1, 2},
	}
	var last *service.MoveResult
	for _, m := range sequence {
		res, err := svc.ApplyMove(ctx, id, m.user, m.row, m.col)
		if err != nil {
			t.Fatalf("ApplyMove(%s, %d, %d) error = %v", m.user, m.row, m.col, err)
		}
		last = res
	}

	if last.GameState.Result != engine.ResultDraw {
		t.Fatalf("Expected draw, got %q", last.GameState.Result)
	}
	wins, losses := stats.calls()
	if len(wins) != 0 || len(losses) != 0 {
		t.Errorf("Expected no stats on draw, got wins=%v losses=%v", wins, losses)
	}
}

func TestGameService_DisconnectForfeits(t *testing.T) {
	ctx := context.Background()
	svc, stats := newTestService(t)
	id := startedSession(t, svc)

	res, err := svc.HandleDisconnect(ctx, id, ana.ID)
	if err != nil {
		t.Fatalf("HandleDisconnect() error = %v", err)
	}
	if !res.Forfeited {
		t.Fatal("Expected forfeit")
	}
	if res.GameState.Result != engine.ResultOWon {
		t.Errorf("Expected o_won, got %q", res.GameState.Result)
	}
	if res.GameState.EndReason != engine.EndReasonForfeitDisconnection {
		t.Errorf("Expected forfeit_disconnection, got %q", res.GameState.EndReason)
	}
	if res.GameState.Players.X.IsConnected {
		t.Error("Expected X to be marked disconnected")
	}

	// The opponent dropping afterwards changes nothing
	if _, err := svc.HandleDisconnect(ctx, id, bob.ID); err != nil {
		t.Fatalf("HandleDisconnect() error = %v", err)
	}

	wins, losses := stats.calls()
	if len(wins) != 1 || wins[0] != bob.ID {
		t.Errorf("Expected exactly one win for bob, got %v", wins)
	}
	if len(losses) != 1 || losses[0] != ana.ID {
		t.Errorf("Expected exactly one loss for ana, got %v", losses)
	}
}

func TestGameService_Leave(t *testing.T) {
	ctx := context.Background()

	t.Run("in progress", func(t *testing.T) {
		svc, stats := newTestService(t)
		id := startedSession(t, svc)

		res, err := svc.HandleLeave(ctx, id, bob.ID)
		if err != nil {
			t.Fatalf("HandleLeave() error = %v", err)
		}
		if !res.Forfeited || res.GameState.EndReason != engine.EndReasonForfeitLeave {
			t.Errorf("Expected forfeit_leave, got %+v", res)
		}
		if wins, _ := stats.calls(); len(wins) != 1 || wins[0] != ana.ID {
			t.Errorf("Expected one win for ana, got %v", wins)
		}
	})

	t.Run("waiting", func(t *testing.T) {
		svc, stats := newTestService(t)
		info, _ := svc.CreateSession(ctx)
		svc.AddPlayer(ctx, info.ID, ana)

		res, err := svc.HandleLeave(ctx, info.ID, ana.ID)
		if err != nil {
			t.Fatalf("HandleLeave() error = %v", err)
		}
		if res.Forfeited {
			t.Error("Leaving a waiting session must not forfeit")
		}
		if res.GameState.Status != engine.StatusWaiting {
			t.Errorf("Expected waiting, got %q", res.GameState.Status)
		}
		if res.GameState.Players.X.IsConnected {
			t.Error("Expected X to be marked disconnected")
		}
		wins, losses := stats.calls()
		if len(wins) != 0 || len(losses) != 0 {
			t.Errorf("Expected no stats, got wins=%v losses=%v", wins, losses)
		}
	})

	t.Run("removed session", func(t *testing.T) {
		svc, _ := newTestService(t)
		res, err := svc.HandleLeave(ctx, "missing", ana.ID)
		if err != nil || res != nil {
			t.Errorf("Expected nil result and nil error, got %+v, %v", res, err)
		}
	})
}

func TestGameService_StatsFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	stats := &MockStatsRecorder{
		RecordWinFunc: func(ctx context.Context, userID string) error {
			return errors.New("database is locked")
		},
	}
	metrics := &countingMetrics{}
	svc := service.NewGameService(NewMockSessionManager(), stats, service.WithMetrics(metrics))
	id := startedSession(t, svc)

	res, err := svc.HandleLeave(ctx, id, ana.ID)
	if err != nil {
		t.Fatalf("Expected stats failure not to surface, got %v", err)
	}
	if res.GameState.Status != engine.StatusCompleted {
		t.Errorf("Expected completed game despite stats failure, got %q", res.GameState.Status)
	}
	if metrics.statsFailed != 1 {
		t.Errorf("Expected 1 stats failure, got %d", metrics.statsFailed)
	}
	if _, losses := stats.calls(); len(losses) != 1 {
		t.Errorf("Expected loss to be recorded after win failed, got %v", losses)
	}
}

func TestGameService_Chat(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	id := startedSession(t, svc)

	msg, err := svc.AddChatMessage(ctx, id, service.ChatInput{UserID: ana.ID, Username: ana.Username, Text: "<b>gl</b>"})
	if err != nil {
		t.Fatalf("AddChatMessage() error = %v", err)
	}
	if msg.Text != "<b>gl</b>" {
		t.Errorf("Expected text to be stored verbatim, got %q", msg.Text)
	}

	_, err = svc.AddChatMessage(ctx, id, service.ChatInput{UserID: eve.ID, Username: eve.Username, Text: "hi"})
	if service.KindOf(err) != service.KindForbidden {
		t.Errorf("Expected forbidden for spectator chat, got %v", err)
	}

	info, _ := svc.GetSession(ctx, id)
	if len(info.GameState.ChatMessages) != 1 {
		t.Errorf("Expected 1 chat message, got %d", len(info.GameState.ChatMessages))
	}
}

func TestGameService_RemoveSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	info, _ := svc.CreateSession(ctx)

	if err := svc.RemoveSession(ctx, info.ID); err != nil {
		t.Fatalf("RemoveSession() error = %v", err)
	}
	if _, err := svc.FindSessionByCode(ctx, info.Code); service.KindOf(err) != service.KindNotFound {
		t.Errorf("Expected code to be released, got %v", err)
	}
	list, _ := svc.ListSessions(ctx)
	if len(list) != 0 {
		t.Errorf("Expected no sessions, got %d", len(list))
	}
}

func TestSession_TransitionIsAtomic(t *testing.T) {
	sess := service.NewSession(engine.NewGameState("g", "ABCDEF", time.Now()))

	_, _, err := sess.Transition(time.Now(),
		engine.Join{UserID: "1", Username: "ana"},
		engine.PlaceMark{UserID: "1", Position: engine.Position{Row: 0, Col: 0}},
	)
	if !errors.Is(err, engine.ErrNotInProgress) {
		t.Fatalf("Expected ErrNotInProgress, got %v", err)
	}
	if sess.Snapshot().Players.X != nil {
		t.Error("Failed transition must not store the partial state")
	}
}

func TestSession_ConcurrentMoves(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	id := startedSession(t, svc)

	// Both players race for the same cell; exactly one X move can be accepted
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyMove(ctx, id, ana.ID, 1, 1)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := svc.ApplyMove(ctx, id, bob.ID, 1, 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("Expected exactly 1 accepted move, got %d", accepted)
	}

	info, _ := svc.GetSession(ctx, id)
	if info.GameState.Board.Occupied() != len(info.GameState.Moves) {
		t.Error("Board and move log diverged under concurrency")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err      error
		expected service.Kind
	}{
		{nil, ""},
		{fmt.Errorf("session x: %w", service.ErrSessionNotFound), service.KindNotFound},
		{engine.ErrGameFull, service.KindConflict},
		{engine.ErrNotAPlayer, service.KindForbidden},
		{engine.ErrNotInProgress, service.KindInvalidState},
		{engine.ErrNotYourTurn, service.KindOutOfTurn},
		{engine.ErrOutOfRange, service.KindOutOfRange},
		{engine.ErrCellOccupied, service.KindOccupied},
		{service.ErrUnauthorized, service.KindAuth},
		{errors.New("boom"), service.KindInternal},
	}

	for _, tt := range tests {
		if got := service.KindOf(tt.err); got != tt.expected {
			t.Errorf("KindOf(%v): expected %q, got %q", tt.err, tt.expected, got)
		}
	}
}
