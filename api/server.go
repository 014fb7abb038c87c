package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/tictactoe/auth"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
	"github.com/wricardo/mcp-training/tictactoe/store"
)

const maxBodyBytes = 1 << 16

// Authenticator registers, logs in and verifies players
type Authenticator interface {
	Register(ctx context.Context, username, password string) (*auth.Result, error)
	Login(ctx context.Context, username, password string) (*auth.Result, error)
	Verify(ctx context.Context, token string) (*service.Principal, error)
}

// Leaderboard ranks players by their statistics
type Leaderboard interface {
	Leaderboard(ctx context.Context, limit int) ([]store.LeaderboardEntry, error)
}

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the REST API server
type Server struct {
	service service.GameService
	auth    Authenticator
	board   Leaderboard
	router  *mux.Router

	ws         http.Handler
	metrics    http.Handler
	mcp        http.Handler
	db         Pinger
	middleware []mux.MiddlewareFunc
	authLimit  *ipLimiter
}

// Option configures a Server
type Option func(*Server)

// WithWebSocket mounts h at /ws
func WithWebSocket(h http.Handler) Option {
	return func(s *Server) { s.ws = h }
}

// WithMetricsHandler mounts h at /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMCPHandler mounts h at POST /mcp
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithHealthCheck makes /health report 503 while db cannot be reached
func WithHealthCheck(db Pinger) Option {
	return func(s *Server) { s.db = db }
}

// WithMiddleware appends router middleware, run after the built-in ones
func WithMiddleware(mw ...mux.MiddlewareFunc) Option {
	return func(s *Server) { s.middleware = append(s.middleware, mw...) }
}

// WithAuthRateLimit bounds register and login attempts per client address
func WithAuthRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) { s.authLimit = newIPLimiter(perSecond, burst) }
}

// NewServer creates a new API server
func NewServer(gameService service.GameService, authn Authenticator, board Leaderboard, opts ...Option) *Server {
	s := &Server{
		service:   gameService,
		auth:      authn,
		board:     board,
		router:    mux.NewRouter(),
		authLimit: newIPLimiter(1, 10),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer, middleware.RequestID, middleware.RealIP, requestLogger)
	s.router.Use(s.middleware...)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/rules", s.handleRules).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Authentication
	authRoutes := api.PathPrefix("/auth").Subrouter()
	authRoutes.Use(s.authLimit.middleware)
	authRoutes.HandleFunc("/register", s.handleRegister).Methods("POST")
	authRoutes.HandleFunc("/login", s.handleLogin).Methods("POST")

	// Everything else needs a token
	protected := api.NewRoute().Subrouter()
	protected.Use(s.requireAuth)
	protected.HandleFunc("/me", s.handleMe).Methods("GET")
	protected.HandleFunc("/leaderboard", s.handleLeaderboard).Methods("GET")
	protected.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	// Must be registered before the {id} pattern
	protected.HandleFunc("/sessions/code/{code}", s.handleFindSessionByCode).Methods("GET")
	protected.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	protected.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")

	if s.ws != nil {
		s.router.Handle("/ws", s.ws)
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
	if s.mcp != nil {
		s.router.Handle("/mcp", s.mcp).Methods("POST")
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, string(service.KindNotFound), "route not found")
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": message, "code": code})
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind service.Kind) int {
	switch kind {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict, service.KindInvalidState, service.KindOutOfTurn, service.KindOccupied:
		return http.StatusConflict
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindInvalidInput, service.KindOutOfRange:
		return http.StatusBadRequest
	case service.KindAuth:
		return http.StatusUnauthorized
	case service.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := service.KindOf(err)
	status := StatusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		msg = "internal error"
	}
	respondError(w, status, string(kind), msg)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", service.ErrInvalidInput)
	}
	return nil
}

// Auth Handlers

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	res, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	res, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":          p.ID,
		"username":    p.Username,
		"wins":        p.Wins,
		"losses":      p.Losses,
		"total_games": p.Wins + p.Losses,
		"win_rate":    store.WinRate(p.Wins, p.Losses),
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultLeaderboardLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			respondError(w, http.StatusBadRequest, string(service.KindInvalidInput), "limit must be a positive integer")
			return
		}
		limit = l
	}

	entries, err := s.board.Leaderboard(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// Session Handlers

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	// Parse query parameters
	query := r.URL.Query()
	sortBy := query.Get("sort")    // "created", "accessed" (default)
	order := query.Get("order")    // "asc", "desc" (default: "desc")
	limitStr := query.Get("limit") // number of sessions to return
	status := query.Get("status")  // waiting, in_progress, completed

	if sortBy == "" {
		sortBy = "accessed"
	}
	if order == "" {
		order = "desc"
	}

	if status != "" {
		filtered := sessions[:0]
		for _, sess := range sessions {
			if string(sess.GameState.Status) == status {
				filtered = append(filtered, sess)
			}
		}
		sessions = filtered
	}
	total := len(sessions)

	sort.SliceStable(sessions, func(i, j int) bool {
		var ti, tj time.Time
		if sortBy == "created" {
			ti, tj = sessions[i].CreatedAt, sessions[j].CreatedAt
		} else {
			ti, tj = sessions[i].LastAccessedAt, sessions[j].LastAccessedAt
		}

		if order == "asc" {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})

	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(sessions) {
			sessions = sessions[:l]
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
		"sort":     sortBy,
		"order":    order,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	session, err := s.service.GetSession(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleFindSessionByCode(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	session, err := s.service.FindSessionByCode(r.Context(), code)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := s.service.RemoveSession(r.Context(), sessionID); err != nil {
		respondServiceError(w, r, err)
		return
	}

	p, _ := PrincipalFrom(r.Context())
	log.Info().Str("session_id", sessionID).Str("user_id", p.ID).Msg("session removed")
	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Session %s deleted", sessionID),
	})
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("health check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  "database unavailable",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, GameRules())
}

// Rules describes the game for clients and the MCP tool
type Rules struct {
	BoardSize            int      `json:"board_size"`
	CodeLength           int      `json:"code_length"`
	MaxChatMessageLength int      `json:"max_chat_message_length"`
	Summary              []string `json:"summary"`
}

// GameRules returns the rules enforced by the server
func GameRules() Rules {
	return Rules{
		BoardSize:            engine.BoardSize,
		CodeLength:           session.CodeLength,
		MaxChatMessageLength: engine.MaxChatMessageLength,
		Summary: []string{
			"The creator of a game plays X, the second player plays O. X moves first.",
			"Players alternate placing their mark on an empty cell, rows and columns are 0-2.",
			"Three marks in a line win, diagonals included. A full board without a line is a draw.",
			"Leaving or disconnecting during a game forfeits it to the opponent.",
			fmt.Sprintf("Games are joined with a %d character code.", session.CodeLength),
		},
	}
}
