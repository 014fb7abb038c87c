package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/store"
)

const (
	ServerName    = "Tic-Tac-Toe Arena"
	ServerVersion = "1.0.0"

	maxRequestBytes = 1 << 20
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API at baseURL.
// token is sent as a bearer token on protected endpoints.
func NewClient(baseURL, token string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(true),
		server.WithInstructions(`Tic-Tac-Toe Arena - MCP Interface

This is a thin client that proxies all requests to the REST API server.
Games themselves are played over the websocket endpoint; these tools
inspect and administer the sessions held by the server.

AVAILABLE TOOLS:
- list_sessions: List sessions, optionally filtered by status
- get_session: Board, players and chat of one session
- find_session_by_code: Look a session up by its join code
- remove_session: Remove a session from the server
- leaderboard: Top players by wins
- game_rules: The rules the server enforces`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List the game sessions held by the server, most recently active first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"status": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"waiting", "in_progress", "completed"},
					"description": "Only list sessions in this status (optional)",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of sessions to return (optional)",
				},
			},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get the board, players and chat of a session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session ID to retrieve",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleGetSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "find_session_by_code",
		Description: "Find a session by its 6 character join code (case-insensitive)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"description": "Join code",
				},
			},
			Required: []string{"code"},
		},
	}, c.handleFindSessionByCode)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "remove_session",
		Description: "Remove a session from the server. Its join code becomes available again.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session ID to remove",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleRemoveSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "leaderboard",
		Description: "Top players by wins with their win rate",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Number of players to return (default 10, max 100)",
				},
			},
		},
	}, c.handleLeaderboard)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_rules",
		Description: "Describe the rules the server enforces",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleGameRules)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Handler serves single JSON-RPC messages posted over HTTP. A bearer token on
// the request is forwarded to the API in place of the client's own.
func (c *Client) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		ctx := r.Context()
		if a := r.Header.Get("Authorization"); strings.HasPrefix(a, "Bearer ") {
			ctx = context.WithValue(ctx, tokenKey{}, strings.TrimPrefix(a, "Bearer "))
		}
		response := c.mcpServer.HandleMessage(ctx, body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})
}

// Login exchanges credentials for a token used on every later call
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"access_token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.apiCall(ctx, "POST", "/api/auth/login", body, &resp); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	c.token = resp.Token
	return nil
}

// Helper methods for API calls

// tokenKey carries the caller's bearer token when tools run behind Handler
type tokenKey struct{}

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := c.token
	if t, ok := ctx.Value(tokenKey{}).(string); ok && t != "" {
		token = t
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			if code := errResp["code"]; code != "" {
				return fmt.Errorf("%s (%s)", msg, code)
			}
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

func requiredString(args map[string]interface{}, name string) (string, error) {
	v, _ := args[name].(string)
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

// Tool handlers

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	query := url.Values{}
	if status, _ := args["status"].(string); status != "" {
		query.Set("status", status)
	}
	if limit, ok := args["limit"].(float64); ok && limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", int(limit)))
	}
	path := "/api/sessions"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var response struct {
		Count    int                   `json:"count"`
		Total    int                   `json:"total"`
		Sessions []service.SessionInfo `json:"sessions"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var result strings.Builder
	fmt.Fprintf(&result, "Sessions (%d of %d):\n\n", response.Count, response.Total)
	for _, s := range response.Sessions {
		fmt.Fprintf(&result, "- %s code=%s status=%s players=%s (last active %s)\n",
			s.ID, s.Code, s.GameState.Status, formatPlayers(s.GameState),
			s.LastAccessedAt.Format("15:04:05"))
	}
	return mcp.NewToolResultText(result.String()), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := requiredString(arguments(request), "session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "GET", "/api/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatSessionInfo(&session)), nil
}

func (c *Client) handleFindSessionByCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := requiredString(arguments(request), "code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "GET", "/api/sessions/code/"+url.PathEscape(code), nil, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatSessionInfo(&session)), nil
}

func (c *Client) handleRemoveSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := requiredString(arguments(request), "session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := c.apiCall(ctx, "DELETE", "/api/sessions/"+url.PathEscape(sessionID), nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	log.Info().Str("session_id", sessionID).Msg("session removed via mcp")
	return mcp.NewToolResultText(fmt.Sprintf("Removed session %s", sessionID)), nil
}

func (c *Client) handleLeaderboard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := "/api/leaderboard"
	if limit, ok := arguments(request)["limit"].(float64); ok && limit > 0 {
		path += fmt.Sprintf("?limit=%d", int(limit))
	}

	var response struct {
		Entries []store.LeaderboardEntry `json:"entries"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(response.Entries) == 0 {
		return mcp.NewToolResultText("No players yet"), nil
	}

	var result strings.Builder
	result.WriteString("Rank  Player                    W    L  Games  Win%\n")
	for _, e := range response.Entries {
		fmt.Fprintf(&result, "%4d  %-24s %3d  %3d  %5d  %5.2f\n",
			e.Rank, e.Username, e.Wins, e.Losses, e.TotalGames, e.WinRate)
	}
	return mcp.NewToolResultText(result.String()), nil
}

func (c *Client) handleGameRules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var rules struct {
		BoardSize            int      `json:"board_size"`
		CodeLength           int      `json:"code_length"`
		MaxChatMessageLength int      `json:"max_chat_message_length"`
		Summary              []string `json:"summary"`
	}
	if err := c.apiCall(ctx, "GET", "/api/rules", nil, &rules); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var result strings.Builder
	fmt.Fprintf(&result, "Board: %dx%d | Join code: %d characters | Chat: up to %d bytes\n\n",
		rules.BoardSize, rules.BoardSize, rules.CodeLength, rules.MaxChatMessageLength)
	for _, line := range rules.Summary {
		fmt.Fprintf(&result, "- %s\n", line)
	}
	return mcp.NewToolResultText(result.String()), nil
}

// Formatting helpers

func formatSessionInfo(session *service.SessionInfo) string {
	return fmt.Sprintf("Session: %s\nCode: %s\nCreated: %s\n\n%s",
		session.ID, session.Code,
		session.CreatedAt.Format("2006-01-02 15:04:05"),
		formatGameState(session.GameState))
}

func formatPlayers(state *engine.GameState) string {
	if state == nil {
		return "-"
	}
	name := func(p *engine.Player) string {
		if p == nil {
			return "(open)"
		}
		if !p.IsConnected {
			return p.Username + " (away)"
		}
		return p.Username
	}
	return fmt.Sprintf("X:%s O:%s", name(state.Players.X), name(state.Players.O))
}

func formatGameState(state *engine.GameState) string {
	if state == nil {
		return "No game state available"
	}

	var result strings.Builder
	fmt.Fprintf(&result, "Status: %s | Players: %s | Moves: %d\n",
		state.Status, formatPlayers(state), len(state.Moves))
	if state.Status == engine.StatusInProgress {
		fmt.Fprintf(&result, "Turn: %s\n", state.CurrentTurn)
	}
	result.WriteString("\n")

	for r := 0; r < engine.BoardSize; r++ {
		for col := 0; col < engine.BoardSize; col++ {
			cell := state.Board[r][col]
			if cell == engine.SymbolNone {
				result.WriteString(".")
			} else {
				result.WriteString(string(cell))
			}
			if col < engine.BoardSize-1 {
				result.WriteString(" ")
			}
		}
		result.WriteString("\n")
	}

	if state.Status == engine.StatusCompleted {
		result.WriteString("\n")
		switch state.Result {
		case engine.ResultDraw:
			result.WriteString("Result: draw")
		default:
			winner := state.Player(state.Result.Winner())
			if winner != nil {
				fmt.Fprintf(&result, "Result: %s won as %s", winner.Username, winner.Symbol)
			} else {
				fmt.Fprintf(&result, "Result: %s", state.Result)
			}
			if state.EndReason != engine.EndReasonNone {
				fmt.Fprintf(&result, " (%s)", state.EndReason)
			}
		}
		result.WriteString("\n")
	}

	if n := len(state.ChatMessages); n > 0 {
		result.WriteString("\nChat:\n")
		start := 0
		if n > 5 {
			start = n - 5
		}
		for _, m := range state.ChatMessages[start:] {
			fmt.Fprintf(&result, "  [%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Username, m.Text)
		}
	}

	return result.String()
}
