package main

import (
	"math/rand/v2"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

// Strategy picks the next cell for the player holding symbol me
type Strategy interface {
	NextMove(b engine.Board, me engine.Symbol) (engine.Position, bool)
}

// preferred is the order cells are tried in: center, corners, then edges
var preferred = []engine.Position{
	{Row: 1, Col: 1},
	{Row: 0, Col: 0}, {Row: 0, Col: 2}, {Row: 2, Col: 0}, {Row: 2, Col: 2},
	{Row: 0, Col: 1}, {Row: 1, Col: 0}, {Row: 1, Col: 2}, {Row: 2, Col: 1},
}

// Minimax never loses. Among equally scored moves it keeps the first in
// preferred order and it wins as early as possible.
type Minimax struct{}

func (Minimax) NextMove(b engine.Board, me engine.Symbol) (engine.Position, bool) {
	var (
		best  engine.Position
		score int
		found bool
	)
	for _, p := range preferred {
		if b[p.Row][p.Col] != engine.SymbolNone {
			continue
		}
		b[p.Row][p.Col] = me
		v := -negamax(b, me.Opponent(), 1)
		b[p.Row][p.Col] = engine.SymbolNone

		if !found || v > score {
			best, score, found = p, v, true
		}
	}
	return best, found
}

// negamax scores b for the player about to move. Quicker wins and slower
// losses score higher.
func negamax(b engine.Board, toMove engine.Symbol, depth int) int {
	if line, ok := engine.CheckWin(b); ok {
		if line.Symbol == toMove {
			return 10 - depth
		}
		return depth - 10
	}
	if engine.IsFull(b) {
		return 0
	}

	best := -100
	for _, p := range preferred {
		if b[p.Row][p.Col] != engine.SymbolNone {
			continue
		}
		b[p.Row][p.Col] = toMove
		if v := -negamax(b, toMove.Opponent(), depth+1); v > best {
			best = v
		}
		b[p.Row][p.Col] = engine.SymbolNone
	}
	return best
}

// Random plays any empty cell
type Random struct {
	rng *rand.Rand
}

func NewRandom(seed uint64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *Random) NextMove(b engine.Board, _ engine.Symbol) (engine.Position, bool) {
	var empty []engine.Position
	for _, p := range preferred {
		if b[p.Row][p.Col] == engine.SymbolNone {
			empty = append(empty, p)
		}
	}
	if len(empty) == 0 {
		return engine.Position{}, false
	}
	return empty[r.rng.IntN(len(empty))], true
}
