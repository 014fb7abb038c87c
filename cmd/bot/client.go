package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	ws "github.com/wricardo/mcp-training/tictactoe/transport/websocket"
)

var errUnauthorized = errors.New("unauthorized")

// Client talks to the REST API for its token and plays over the websocket
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	conn    *websocket.Conn

	// userID is learned from the connection greeting
	userID string
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Login fetches a token, registering the account first when register is set
// and the credentials are unknown
func (c *Client) Login(ctx context.Context, username, password string, register bool) error {
	err := c.authenticate(ctx, "/api/auth/login", username, password)
	if errors.Is(err, errUnauthorized) && register {
		err = c.authenticate(ctx, "/api/auth/register", username, password)
	}
	return err
}

func (c *Client) authenticate(ctx context.Context, path, username, password string) error {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", path, errUnauthorized)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s failed: %s - %s", path, resp.Status, apiErr.Error)
	}

	var result struct {
		Token string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("parse token response: %w", err)
	}
	c.token = result.Token
	return nil
}

// websocketURL turns the API base URL into the gameplay endpoint
func websocketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// Dial opens the websocket connection
func (c *Client) Dial(ctx context.Context) error {
	target, err := websocketURL(c.baseURL, c.token)
	if err != nil {
		return err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial websocket: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("dial websocket: %w", err)
	}
	c.conn = conn
	return nil
}

func (c *Client) Send(msgType string, payload interface{}) error {
	return c.conn.WriteJSON(ws.Message{Type: msgType, Payload: payload})
}

func (c *Client) Receive() (ws.Envelope, error) {
	var env ws.Envelope
	err := c.conn.ReadJSON(&env)
	return env, err
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
