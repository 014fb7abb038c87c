// Command tictactoe starts the two-player tic-tac-toe server.
//
// It supports two modes:
//  1. "serve" (default) runs the HTTP server exposing the REST API, websocket
//     gameplay, Prometheus metrics and an /mcp HTTP endpoint
//  2. "mcp" runs an MCP stdio server against a running API and spins up an
//     internal one if none answers
//
// "check" validates the configuration without starting anything.
//
// Flags and environment variables override an optional JSON configuration
// file. Ngrok tunneling is available for easy external access during
// development.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/mcp-training/tictactoe/api"
	"github.com/wricardo/mcp-training/tictactoe/auth"
	"github.com/wricardo/mcp-training/tictactoe/config"
	"github.com/wricardo/mcp-training/tictactoe/game/directory"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
	"github.com/wricardo/mcp-training/tictactoe/metrics"
	"github.com/wricardo/mcp-training/tictactoe/store"
	"github.com/wricardo/mcp-training/tictactoe/transport/mcp"
	"github.com/wricardo/mcp-training/tictactoe/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Tic-Tac-Toe Arena Server"
)

func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("error loading .env file")
	}

	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("exiting")
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "tictactoe",
		Usage:   AppName,
		Version: Version,
		Flags:   serverFlags(),
		Action:  runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server with API, websocket, metrics and MCP endpoint (default)",
				Action: runServe,
			},
			{
				Name:    "mcp",
				Aliases: []string{"stdio-mcp", "mcp-stdio"},
				Usage:   "Run an MCP stdio server, with an internal HTTP server when no API answers",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "api-url", Value: "http://localhost:8080", Usage: "API the MCP tools call", Sources: cli.EnvVars("MCP_API_URL")},
					&cli.StringFlag{Name: "api-token", Usage: "Bearer token for the API", Sources: cli.EnvVars("MCP_API_TOKEN")},
					&cli.StringFlag{Name: "username", Usage: "Log in with this account when no token is given", Sources: cli.EnvVars("MCP_USERNAME")},
					&cli.StringFlag{Name: "password", Usage: "Password for --username", Sources: cli.EnvVars("MCP_PASSWORD")},
				},
				Action: runStdioMCP,
			},
			{
				Name:   "check",
				Usage:  "Validate the configuration and print the effective values",
				Action: runCheck,
			},
		},
	}
}

// serverFlags are shared by every subcommand. Their defaults mirror
// config.Default so that help output is accurate; only flags that were set
// override the configuration file.
func serverFlags() []cli.Flag {
	def := config.Default()
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "JSON configuration file", Sources: cli.EnvVars("CONFIG_FILE")},
		&cli.StringFlag{Name: "host", Value: def.Host, Usage: "HTTP server host", Sources: cli.EnvVars("HOST")},
		&cli.IntFlag{Name: "port", Value: def.Port, Usage: "HTTP server port", Sources: cli.EnvVars("PORT")},
		&cli.StringFlag{Name: "database", Value: def.DatabasePath, Usage: "SQLite database file", Sources: cli.EnvVars("DATABASE_PATH")},
		&cli.StringFlag{Name: "jwt-secret", Usage: "Secret used to sign access tokens (at least 16 characters)", Sources: cli.EnvVars("JWT_SECRET")},
		&cli.DurationFlag{Name: "token-ttl", Value: time.Duration(def.TokenTTL), Usage: "Access token lifetime", Sources: cli.EnvVars("TOKEN_TTL")},
		&cli.StringFlag{Name: "log-level", Value: def.LogLevel, Usage: "trace, debug, info, warn or error", Sources: cli.EnvVars("LOG_LEVEL")},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging with console output", Sources: cli.EnvVars("DEBUG")},
		&cli.FloatFlag{Name: "message-rate", Value: def.MessageRate, Usage: "Websocket messages per second per connection", Sources: cli.EnvVars("MESSAGE_RATE")},
		&cli.IntFlag{Name: "message-burst", Value: def.MessageBurst, Usage: "Websocket message burst per connection", Sources: cli.EnvVars("MESSAGE_BURST")},
		&cli.DurationFlag{Name: "cleanup-interval", Value: time.Duration(def.CleanupInterval), Usage: "How often stale sessions are removed (0 disables)", Sources: cli.EnvVars("CLEANUP_INTERVAL")},
		&cli.DurationFlag{Name: "completed-retention", Value: time.Duration(def.CompletedRetention), Usage: "Idle time before a completed session is removed", Sources: cli.EnvVars("COMPLETED_RETENTION")},
		&cli.DurationFlag{Name: "waiting-retention", Value: time.Duration(def.WaitingRetention), Usage: "Idle time before a waiting session is removed", Sources: cli.EnvVars("WAITING_RETENTION")},
		&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (optional)", Sources: cli.EnvVars("NGROK_DOMAIN")},
	}
}

// buildConfig layers the configuration file, then flags and environment
// variables. It does not validate.
func buildConfig(cmd *cli.Command) (config.Config, error) {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("database") {
		cfg.DatabasePath = cmd.String("database")
	}
	if cmd.IsSet("jwt-secret") {
		cfg.JWTSecret = cmd.String("jwt-secret")
	}
	if cmd.IsSet("token-ttl") {
		cfg.TokenTTL = config.Duration(cmd.Duration("token-ttl"))
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.Bool("debug") {
		cfg.LogLevel = zerolog.LevelDebugValue
	}
	if cmd.IsSet("message-rate") {
		cfg.MessageRate = cmd.Float("message-rate")
	}
	if cmd.IsSet("message-burst") {
		cfg.MessageBurst = int(cmd.Int("message-burst"))
	}
	if cmd.IsSet("cleanup-interval") {
		cfg.CleanupInterval = config.Duration(cmd.Duration("cleanup-interval"))
	}
	if cmd.IsSet("completed-retention") {
		cfg.CompletedRetention = config.Duration(cmd.Duration("completed-retention"))
	}
	if cmd.IsSet("waiting-retention") {
		cfg.WaitingRetention = config.Duration(cmd.Duration("waiting-retention"))
	}
	if cmd.IsSet("ngrok") {
		cfg.NgrokEnabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-auth") {
		cfg.NgrokAuthToken = cmd.String("ngrok-auth")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.NgrokDomain = cmd.String("ngrok-domain")
	}
	return cfg, nil
}

func setupLogging(debug bool, level zerolog.Level) {
	zerolog.TimeFieldFormat = time.RFC3339
	if debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	zerolog.SetGlobalLevel(level)
}

// app holds the wired server components
type app struct {
	store    *store.Store
	sessions *session.Manager
	hub      *websocket.Hub
	handler  http.Handler
}

// newApp opens the store and wires the game service, websocket hub, metrics
// and REST API. selfURL is where the /mcp endpoint sends its API calls.
func newApp(cfg config.Config, selfURL string) (*app, error) {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	sessions := session.NewManager()
	metrics.RegisterActiveSessions(registry, sessions.Count)

	authService := auth.NewService(st, cfg.JWTSecret, auth.WithTokenTTL(time.Duration(cfg.TokenTTL)))
	games := service.NewGameService(sessions, st, service.WithMetrics(collector))

	gateway := websocket.NewGateway(games, directory.New(games), websocket.WithConnectionMetrics(collector))
	hub := websocket.NewHub(gateway, authService, websocket.WithRateLimit(cfg.MessageRate, cfg.MessageBurst))

	mcpClient := mcp.NewClient(selfURL, "")

	handler := api.NewServer(games, authService, st,
		api.WithWebSocket(http.HandlerFunc(hub.ServeWS)),
		api.WithMetricsHandler(metrics.Handler(registry)),
		api.WithMCPHandler(mcpClient.Handler()),
		api.WithHealthCheck(st),
		api.WithMiddleware(collector.Middleware),
	)

	return &app{
		store:    st,
		sessions: sessions,
		hub:      hub,
		handler:  handler,
	}, nil
}

func (a *app) close() {
	a.hub.Close()
	if err := a.store.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close store")
	}
}

// runCheck validates the layered configuration and prints it as JSON with the
// secret redacted
func runCheck(ctx context.Context, cmd *cli.Command) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.JWTSecret != "" {
		cfg.JWTSecret = "<redacted>"
	}

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, string(out))
	return nil
}

// loopbackURL is the address the server can reach itself on
func loopbackURL(cfg config.Config) string {
	host := cfg.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, fmt.Sprintf("%d", cfg.Port))
}

// runServe starts the HTTP server with REST API, websocket hub, metrics and
// an /mcp proxy endpoint. If ngrok is enabled it also provisions a public
// tunnel.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	setupLogging(cmd.Bool("debug"), cfg.Level())

	log.Info().Str("version", Version).Str("database", cfg.DatabasePath).Msgf("starting %s", AppName)

	a, err := newApp(cfg, loopbackURL(cfg))
	if err != nil {
		return err
	}
	defer a.close()
	go a.hub.Run()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sessionCleanupRoutine(ctx, a.sessions,
		time.Duration(cfg.CleanupInterval),
		time.Duration(cfg.CompletedRetention),
		time.Duration(cfg.WaitingRetention))

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	// Start regular HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()

		log.Info().
			Str("addr", addr).
			Str("rest_api", fmt.Sprintf("http://%s/api", addr)).
			Str("websocket", fmt.Sprintf("ws://%s/ws?token=<token>", addr)).
			Str("mcp", fmt.Sprintf("http://%s/mcp", addr)).
			Msg("HTTP server listening")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if cfg.NgrokEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, cfg, a.handler)
		}()
	}

	// Wait for shutdown signal or a listener failure
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serveErr:
		stop()
		wg.Wait()
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	wg.Wait()
	log.Info().Msg("server stopped")
	return nil
}

// runNgrok serves handler through an ngrok tunnel until ctx is done
func runNgrok(ctx context.Context, cfg config.Config, handler http.Handler) {
	log.Info().Msg("starting ngrok tunnel")

	var tunnel ngrokConfig.Tunnel
	if cfg.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.NgrokDomain))
		log.Info().Str("domain", cfg.NgrokDomain).Msg("using custom ngrok domain")
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.NgrokAuthToken))
	if err != nil {
		log.Error().Err(err).Msg("failed to start ngrok tunnel")
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close ngrok tunnel")
		}
	}()

	url := tun.URL()
	log.Info().
		Str("url", url).
		Str("rest_api", url+"/api").
		Str("websocket", url+"/ws?token=<token>").
		Str("mcp", url+"/mcp").
		Msg("ngrok tunnel established")

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		log.Error().Err(err).Msg("ngrok server error")
	}
	log.Info().Msg("ngrok tunnel closed")
}

// staleCleaner is the part of the session manager the reaper needs
type staleCleaner interface {
	CleanupStale(completedFor, waitingFor time.Duration) int
}

// sessionCleanupRoutine periodically removes idle completed and waiting
// sessions until ctx is done. In-progress sessions are kept.
func sessionCleanupRoutine(ctx context.Context, sessions staleCleaner, interval, completedFor, waitingFor time.Duration) {
	if interval <= 0 {
		log.Info().Msg("session cleanup disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := sessions.CleanupStale(completedFor, waitingFor); removed > 0 {
				log.Info().Int("removed", removed).Msg("cleaned up stale sessions")
			}
		}
	}
}

// apiAvailable reports whether an API answers its health check at baseURL
func apiAvailable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// runStdioMCP runs an MCP stdio server. It reuses the API at --api-url when
// it answers, otherwise it starts the full server on a random loopback port
// and targets that.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	setupLogging(cmd.Bool("debug"), cfg.Level())

	baseURL := cmd.String("api-url")
	log.Info().Str("url", baseURL).Msg("checking for external API server")

	if apiAvailable(ctx, baseURL) {
		log.Info().Str("url", baseURL).Msg("external API server found, using it for MCP")
	} else {
		log.Info().Msg("no external API server found, starting internal HTTP server")
		if err := cfg.Validate(); err != nil {
			return err
		}

		// Start internal HTTP server on a random available port
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = "http://" + listener.Addr().String()

		a, err := newApp(cfg, baseURL)
		if err != nil {
			listener.Close()
			return err
		}
		defer a.close()
		go a.hub.Run()

		internal := &http.Server{Handler: a.handler}
		defer internal.Close()
		go func() {
			if err := internal.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("internal HTTP server error")
			}
		}()
		log.Info().Str("url", baseURL).Msg("internal HTTP server started")
	}

	client := mcp.NewClient(baseURL, cmd.String("api-token"))
	if cmd.String("api-token") == "" && cmd.String("username") != "" {
		if err := client.Login(ctx, cmd.String("username"), cmd.String("password")); err != nil {
			return err
		}
	}

	log.Info().Msg("MCP stdio server ready")
	return server.ServeStdio(client.GetMCPServer())
}
