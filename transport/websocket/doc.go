// Package websocket carries live tic-tac-toe games over websocket connections.
//
// The Hub owns every connection. It authenticates the upgrade request with a
// bearer token (query parameter ?token= or the Authorization header), rate
// limits inbound frames per connection and hands decoded messages to a
// Handler. The Gateway is the Handler used in production: it routes actions
// to the game service and fans the resulting events out to the players of a
// session through the directory.
//
// Message Protocol:
//
// Every frame is a JSON object with a "type" and an optional "payload".
//
// Client to server:
//   - start_game, join_game {code}, make_move {row, col}
//   - leave_game, send_message {text}, ping
//
// Server to client:
//   - connection_established, game_created, game_joined
//   - opponent_joined, game_started, game_update, game_over
//   - left_game_ack, new_message, opponent_disconnected, error, pong
//
// Usage:
//
//	gateway := websocket.NewGateway(games, directory.New(games))
//	hub := websocket.NewHub(gateway, authService)
//	go hub.Run()
//	http.HandleFunc("/ws", hub.ServeWS)
//
// Connection Lifecycle:
//
// 1. Client connects with a token
// 2. Connection registered with the hub, connection_established sent
// 3. Client starts or joins a game and exchanges actions
// 4. Disconnection forfeits an in-progress game and cleans up
package websocket
