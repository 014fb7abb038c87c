// Package engine provides the core game logic for the tic-tac-toe arena.
//
// The engine package implements the game mechanics including:
//   - 3x3 board representation and win/draw detection
//   - Seating of the two players and symbol assignment
//   - Move validation and turn alternation
//   - Forfeits triggered by disconnects and intentional leaves
//   - The in-game chat log
//
// Core Types:
//
// GameState is the aggregate root of one session. Commands (Join, PlaceMark,
// PostChat, MarkDisconnected, Forfeit) describe the requested transitions and
// Apply turns a state plus a command into the next state and the events the
// transition produced. Apply never mutates its input, so transitions can be
// tested without any registry or transport.
//
// Usage:
//
//	state := engine.NewGameState(id, "K3Q9ZP", time.Now())
//
//	state, events, err := engine.Apply(state, engine.Join{UserID: "1", Username: "ana"}, time.Now())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	state, events, err = engine.Apply(state, engine.PlaceMark{
//		UserID:   "1",
//		Position: engine.Position{Row: 1, Col: 1},
//	}, time.Now())
//
// Game Rules:
//
// The first player to join is X, the second O, and X moves first. A player
// wins by completing a row, a column or a diagonal; a full board without a
// line is a draw. A player leaving or disconnecting while the game is in
// progress forfeits and the opponent is awarded the win. Completed games
// never change state again.
package engine
