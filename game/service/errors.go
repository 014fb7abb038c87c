package service

import (
	"errors"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidInput    = errors.New("invalid input")
	ErrConflict        = errors.New("conflict")
	ErrAlreadyInGame   = errors.New("already playing another game")
)

// Kind classifies an error for the caller that triggered it
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindForbidden    Kind = "forbidden"
	KindInvalidState Kind = "invalid_state"
	KindInvalidInput Kind = "invalid_input"
	KindOutOfTurn    Kind = "out_of_turn"
	KindOutOfRange   Kind = "out_of_range"
	KindOccupied     Kind = "occupied"
	KindAuth         Kind = "auth_error"
	KindRateLimited  Kind = "rate_limited"
	KindInternal     Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrSessionNotFound, KindNotFound},
	{engine.ErrGameFull, KindConflict},
	{ErrConflict, KindConflict},
	{engine.ErrNotAPlayer, KindForbidden},
	{engine.ErrNotInProgress, KindInvalidState},
	{ErrAlreadyInGame, KindInvalidState},
	{engine.ErrEmptyMessage, KindInvalidState},
	{engine.ErrMessageTooLong, KindInvalidInput},
	{engine.ErrInvalidPlayer, KindInvalidInput},
	{ErrInvalidInput, KindInvalidInput},
	{engine.ErrNotYourTurn, KindOutOfTurn},
	{engine.ErrOutOfRange, KindOutOfRange},
	{engine.ErrCellOccupied, KindOccupied},
	{ErrUnauthorized, KindAuth},
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
