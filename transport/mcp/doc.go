// Package mcp exposes the tic-tac-toe server to AI agents over the Model
// Context Protocol.
//
// The client holds no game state. Every tool call is translated into a
// request against the REST API and the JSON answer is rendered as text.
//
// Tools:
//   - list_sessions: sessions held in memory, optional status filter and limit
//   - get_session: board, players and recent chat of a session
//   - find_session_by_code: session lookup by join code
//   - remove_session: drop a session
//   - leaderboard: top players by wins
//   - game_rules: the rules the server enforces
//
// Transport Modes:
//   - Stdio: GetMCPServer() is passed to server.ServeStdio
//   - HTTP: Handler() answers single JSON-RPC messages posted to /mcp
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080", token)
//	server.ServeStdio(client.GetMCPServer())
package mcp
