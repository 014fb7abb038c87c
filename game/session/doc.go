// Package session provides the session registry for the tic-tac-toe arena.
//
// The session package implements:
//   - Thread-safe session storage indexed by id and by join code
//   - Join code allocation with bounded collision retries
//   - Explicit removal and periodic cleanup of stale sessions
//
// Session Identifiers:
//
// Sessions are identified by a UUID and advertised to players through a
// 6-character join code drawn from [A-Z0-9]. A code is unique among the
// active sessions only and is released as soon as its session is removed.
// Code lookups ignore case and surrounding whitespace.
//
// Concurrency:
//
// Manager guards its two indexes with a single RWMutex. Game state lives in
// service.Session and is mutated through Session.Transition, never by the
// registry.
//
// Usage:
//
//	manager := session.NewManager()
//
//	sess, err := manager.Create()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	sess, err = manager.GetByCode("k3q9zp")
//
//	// Remove sessions idle for too long
//	removed := manager.CleanupStale(time.Hour, 24*time.Hour)
package session
