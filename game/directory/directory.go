// Package directory tracks live transport connections and the principal and
// session each one is bound to.
package directory

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

var ErrConnectionNotFound = errors.New("connection not found")

// DisconnectHandler is notified when a connection bound to a session drops
type DisconnectHandler interface {
	HandleDisconnect(ctx context.Context, sessionID, userID string) (*service.DepartureResult, error)
}

// Record is the state held for one live connection
type Record struct {
	ConnID    string
	UserID    string
	Username  string
	SessionID string
}

// Departure reports what a disconnect did to the associated session
type Departure struct {
	Record Record
	Result *service.DepartureResult
}

// Directory maps connection ids to records
type Directory struct {
	records map[string]*Record
	handler DisconnectHandler
	mu      sync.RWMutex
}

// New creates an empty directory
func New(handler DisconnectHandler) *Directory {
	return &Directory{
		records: make(map[string]*Record),
		handler: handler,
	}
}

// Connect creates the record of a new connection
func (d *Directory) Connect(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[connID] = &Record{ConnID: connID}
}

// Authenticate binds a principal to the connection
func (d *Directory) Authenticate(connID string, p service.Principal) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[connID]
	if !ok {
		return ErrConnectionNotFound
	}
	rec.UserID = p.ID
	rec.Username = p.Username
	return nil
}

// Lookup returns a copy of the connection record
func (d *Directory) Lookup(connID string) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[connID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Associate records the session the connection joined
func (d *Directory) Associate(connID, sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[connID]
	if !ok {
		return ErrConnectionNotFound
	}
	rec.SessionID = sessionID
	return nil
}

// Dissociate clears the session of the connection
func (d *Directory) Dissociate(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec, ok := d.records[connID]; ok {
		rec.SessionID = ""
	}
}

// Disconnect removes the record and, when the connection was in a session,
// notifies the handler. It returns nil for unknown connections.
func (d *Directory) Disconnect(ctx context.Context, connID string) (*Departure, error) {
	d.mu.Lock()
	rec, ok := d.records[connID]
	if ok {
		delete(d.records, connID)
	}
	d.mu.Unlock()

	if !ok {
		return nil, nil
	}

	dep := &Departure{Record: *rec}
	if rec.SessionID == "" || rec.UserID == "" {
		return dep, nil
	}

	result, err := d.handler.HandleDisconnect(ctx, rec.SessionID, rec.UserID)
	if err != nil {
		log.Error().Err(err).
			Str("conn_id", connID).
			Str("session_id", rec.SessionID).
			Str("user_id", rec.UserID).
			Msg("failed to handle disconnect")
		return dep, err
	}
	dep.Result = result
	return dep, nil
}

// Count returns the number of live connections
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}
