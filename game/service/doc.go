// Package service provides the business logic layer for the tic-tac-toe arena.
//
// The service package implements:
//   - Session creation, lookup and removal
//   - Seating and reconnection of players
//   - Move processing with win, draw and forfeit handling
//   - Win/loss reporting to the statistics store
//
// Core Interfaces:
//
// GameService is the main service interface providing high-level game operations.
// SessionManager handles session creation, retrieval, and removal.
// StatsRecorder persists aggregate wins and losses per player.
//
// Architecture:
//
// The service layer sits between the transport layer (WebSocket/HTTP/MCP) and
// the game engine. Every mutation is an engine command applied through
// Session.Transition, which holds the session lock for the duration of the
// transition and stores the resulting state.
//
// Usage:
//
//	sessions := session.NewManager()
//	gameService := service.NewGameService(sessions, statsStore)
//
//	info, err := gameService.CreateSession(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	_, err = gameService.AddPlayer(ctx, info.ID, principal)
//	result, err := gameService.ApplyMove(ctx, info.ID, principal.ID, 1, 1)
//
// Errors:
//
// Errors returned by the service wrap sentinel errors of this package or of
// the engine. KindOf classifies them for transports, which report them to the
// originating caller only.
package service
