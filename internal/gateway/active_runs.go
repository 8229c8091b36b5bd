// Package gateway provides the main Nexus gateway server.
//
// active_runs.go tracks in-flight agent turns per session so a session's
// current run can be cancelled (WS chat.abort, spec.md §4.6) and so stale
// entries left by a crashed goroutine don't grow the map forever.
package gateway

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-assist/internal/sessions"
)

// activeRun records a single in-flight turn's cancellation and start time.
type activeRun struct {
	token     string
	cancel    context.CancelFunc
	startedAt time.Time
}

// activeRunStaleAfter bounds how long an entry survives without being
// finished before cleanup treats it as orphaned and cancels it.
const activeRunStaleAfter = 30 * time.Minute

// registerActiveRun records a new in-flight run for sessionID and returns a
// token that must be passed to finishActiveRun to clear it. Replaces (and
// cancels) any prior entry for the same session: only one run per session is
// tracked for abort purposes, per spec.md §5's serialize-per-session allowance.
func (s *Server) registerActiveRun(sessionID string, cancel context.CancelFunc) string {
	token := uuid.NewString()

	s.activeRunsMu.Lock()
	if prev, ok := s.activeRuns[sessionID]; ok {
		prev.cancel()
	}
	s.activeRuns[sessionID] = activeRun{token: token, cancel: cancel, startedAt: time.Now()}
	s.activeRunsMu.Unlock()

	return token
}

// finishActiveRun clears the tracked run for sessionID if it still matches
// token (a newer run may have already replaced it).
func (s *Server) finishActiveRun(sessionID, token string) {
	s.activeRunsMu.Lock()
	if entry, ok := s.activeRuns[sessionID]; ok && entry.token == token {
		delete(s.activeRuns, sessionID)
	}
	s.activeRunsMu.Unlock()
}

// abortActiveRun cancels the in-flight run for sessionID, if any, and
// reports whether one was found. Used by the WS chat.abort method.
func (s *Server) abortActiveRun(sessionID string) bool {
	s.activeRunsMu.Lock()
	entry, ok := s.activeRuns[sessionID]
	s.activeRunsMu.Unlock()
	if !ok {
		return false
	}
	entry.cancel()
	return true
}

// cleanupStaleActiveRuns cancels and drops entries older than
// activeRunStaleAfter, guarding against leaks from goroutines that never
// reached their deferred finishActiveRun call.
func (s *Server) cleanupStaleActiveRuns() {
	cutoff := time.Now().Add(-activeRunStaleAfter)

	s.activeRunsMu.Lock()
	defer s.activeRunsMu.Unlock()

	for sessionID, entry := range s.activeRuns {
		if entry.startedAt.Before(cutoff) {
			entry.cancel()
			delete(s.activeRuns, sessionID)
		}
	}
}

// ensureSessionLocker initializes the server's session locker if not already
// created: a DB-backed lease lock when a database is configured (so multiple
// gateway replicas don't double-process a session), a local in-memory lock
// otherwise.
func (s *Server) ensureSessionLocker() error {
	if s.sessionLocker != nil {
		return nil
	}

	if s.config == nil || s.config.Database.URL == "" {
		s.sessionLocker = sessions.NewLocalLocker(2 * time.Minute)
		return nil
	}

	db, err := sql.Open("postgres", s.config.Database.URL)
	if err != nil {
		return err
	}

	cfg := sessions.DefaultDBLockerConfig()
	cfg.OwnerID = uuid.NewString()
	locker, err := sessions.NewDBLocker(db, cfg)
	if err != nil {
		_ = db.Close()
		return err
	}
	s.sessionLocker = locker
	return nil
}
