// Package api provides the HTTP surface of the tic-tac-toe server.
//
// Endpoints:
//
// Public:
//   - GET /health - Liveness check
//   - GET /api/rules - Rules enforced by the server
//   - POST /api/auth/register - Create an account, returns a token
//   - POST /api/auth/login - Exchange credentials for a token
//
// Authenticated (Authorization: Bearer <token>):
//   - GET /api/me - Current player and statistics
//   - GET /api/leaderboard?limit=N - Top players by wins
//   - GET /api/sessions?status=&sort=&order=&limit= - Sessions in memory
//   - GET /api/sessions/{id} - One session
//   - GET /api/sessions/code/{code} - Session by join code
//   - DELETE /api/sessions/{id} - Remove a session
//
// Mounted when configured:
//   - GET /ws - Websocket gameplay, token in ?token= or the Authorization header
//   - GET /metrics - Prometheus scrape endpoint
//   - POST /mcp - MCP JSON-RPC endpoint
//
// Errors are returned as JSON with a status derived from the error kind:
//
//	{
//	  "error": "session 1234: session not found",
//	  "code": "not_found"
//	}
package api
