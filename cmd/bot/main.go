// Command bot plays tic-tac-toe against the server over the websocket.
//
// Without --code it starts games and logs their join codes so that a human
// or a second bot can join. With --code it joins that game and plays it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	ws "github.com/wricardo/mcp-training/tictactoe/transport/websocket"
)

func main() {
	cmd := &cli.Command{
		Name:  "bot",
		Usage: "Play tic-tac-toe against the server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "Game server URL", Sources: cli.EnvVars("BOT_URL")},
			&cli.StringFlag{Name: "username", Value: "tictacbot", Usage: "Account to play as", Sources: cli.EnvVars("BOT_USERNAME")},
			&cli.StringFlag{Name: "password", Usage: "Account password", Sources: cli.EnvVars("BOT_PASSWORD"), Required: true},
			&cli.BoolFlag{Name: "register", Value: true, Usage: "Create the account when it does not exist"},
			&cli.StringFlag{Name: "code", Usage: "Join the game with this code instead of starting one"},
			&cli.IntFlag{Name: "games", Value: 1, Usage: "Games to start in a row (ignored with --code)"},
			&cli.StringFlag{Name: "strategy", Value: "minimax", Usage: "minimax or random"},
			&cli.IntFlag{Name: "seed", Usage: "Seed for the random strategy (0 uses the clock)"},
			&cli.DurationFlag{Name: "delay", Usage: "Pause before each move"},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Minute, Usage: "Give up on a game after this long"},
			&cli.BoolFlag{Name: "v", Usage: "Verbose output"},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("bot failed")
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cmd.Bool("v") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	strategy, err := newStrategy(cmd.String("strategy"), uint64(cmd.Int("seed")))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("url", cmd.String("url")).Msg("connecting to game server")
	client := NewClient(cmd.String("url"))
	if err := client.Login(ctx, cmd.String("username"), cmd.String("password"), cmd.Bool("register")); err != nil {
		return err
	}
	if err := client.Dial(ctx); err != nil {
		return err
	}
	defer client.Close()

	code := cmd.String("code")
	games := int(cmd.Int("games"))
	if code != "" || games < 1 {
		games = 1
	}

	var tally struct{ won, lost, drawn int }
	for i := 1; i <= games; i++ {
		gameCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
		out, err := play(gameCtx, client, strategy, code, cmd.Duration("delay"), func(c string) {
			log.Info().Str("code", c).Msg("waiting for an opponent")
		})
		cancel()
		if err != nil {
			return fmt.Errorf("game %d: %w", i, err)
		}

		switch out.State.Result.Winner() {
		case engine.SymbolNone:
			tally.drawn++
		case out.Symbol:
			tally.won++
		default:
			tally.lost++
		}
		log.Info().
			Int("game", i).
			Str("result", string(out.State.Result)).
			Str("end_reason", string(out.State.EndReason)).
			Int("moves", len(out.State.Moves)).
			Msg("game over")
	}

	log.Info().Int("won", tally.won).Int("lost", tally.lost).Int("drawn", tally.drawn).Msg("done")
	return nil
}

func newStrategy(name string, seed uint64) (Strategy, error) {
	switch name {
	case "minimax":
		return Minimax{}, nil
	case "random":
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		return NewRandom(seed), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// outcome is a finished game seen from the bot's seat
type outcome struct {
	State  *engine.GameState
	Symbol engine.Symbol
}

// play starts a game, or joins the one named by code, and plays it to the
// end. onCode receives the join code of a started game.
func play(ctx context.Context, c *Client, strategy Strategy, code string, delay time.Duration, onCode func(string)) (*outcome, error) {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	var err error
	if code == "" {
		err = c.Send(ws.TypeStartGame, nil)
	} else {
		err = c.Send(ws.TypeJoinGame, ws.JoinGame{Code: code})
	}
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	var (
		me      engine.Symbol
		seated  bool
		movedAt = -1
	)

	for {
		env, err := c.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read: %w", err)
		}

		var state *engine.GameState
		switch env.Type {
		case ws.TypeConnectionEstablished:
			var p ws.ConnectionEstablishedPayload
			if err := decode(env, &p); err != nil {
				return nil, err
			}
			c.userID = p.User.ID
			log.Debug().Str("user", p.User.Username).Msg("connected")
			continue

		case ws.TypeGameCreated, ws.TypeGameStarted:
			var p ws.GamePayload
			if err := decode(env, &p); err != nil {
				return nil, err
			}
			state = p.GameState
			if env.Type == ws.TypeGameCreated && state != nil && onCode != nil {
				onCode(state.Code)
			}

		case ws.TypeGameJoined:
			var p ws.GameJoinedPayload
			if err := decode(env, &p); err != nil {
				return nil, err
			}
			state = p.GameState
			log.Info().Str("code", state.Code).Str("symbol", string(p.Symbol)).Msg("joined game")

		case ws.TypeOpponentJoined:
			var p ws.OpponentJoinedPayload
			if err := decode(env, &p); err != nil {
				return nil, err
			}
			state = p.GameState
			log.Info().Str("opponent", p.Username).Msg("opponent joined")

		case ws.TypeGameUpdate:
			var p ws.GameUpdatePayload
			if err := decode(env, &p); err != nil {
				return nil, err
			}
			state = p.GameState
			log.Debug().Int("row", p.LastMove.Position.Row).Int("col", p.LastMove.Position.Col).Str("symbol", string(p.LastMove.Symbol)).Msg("move")

		case ws.TypeGameOver:
			var p ws.GameOverPayload
			if err := decode(env, &p); err != nil {
				return nil, err
			}
			if seat, ok := p.GameState.SeatOf(c.userID); ok {
				me = seat.Symbol
			}
			return &outcome{State: p.GameState, Symbol: me}, nil

		case ws.TypeOpponentDisconnected:
			log.Warn().Msg("opponent disconnected")
			continue

		case ws.TypeError:
			var p ws.ErrorPayload
			if err := decode(env, &p); err != nil {
				return nil, err
			}
			if !seated {
				return nil, fmt.Errorf("%s: %s", p.Code, p.Message)
			}
			log.Warn().Str("code", p.Code).Msg(p.Message)
			continue

		default:
			continue
		}

		if state == nil {
			continue
		}
		if seat, ok := state.SeatOf(c.userID); ok {
			me, seated = seat.Symbol, true
		}
		if state.Status != engine.StatusInProgress || state.CurrentTurn != me || len(state.Moves) == movedAt {
			continue
		}

		pos, ok := strategy.NextMove(state.Board, me)
		if !ok {
			continue
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		row, col := pos.Row, pos.Col
		if err := c.Send(ws.TypeMakeMove, ws.MakeMove{Row: &row, Col: &col}); err != nil {
			return nil, fmt.Errorf("send move: %w", err)
		}
		movedAt = len(state.Moves)
	}
}

func decode(env ws.Envelope, v interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: %w", env.Type, errEmptyPayload)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return nil
}

var errEmptyPayload = errors.New("empty payload")
