package core

import (
	"sync/atomic"
	"time"
)

// RecentObsLimit is how many observations a session keeps for context.
const RecentObsLimit = 20

// SessionState is the lightweight runtime state of one session. It is
// owned by the session's worker: only that goroutine mutates it, and
// readers (the gate, the agent context builder) run inside the same
// worker, so no locking is needed. The one exception is the idle clock,
// which the GC loop probes from outside the worker and is therefore
// atomic. It is not persisted and not a memory system.
type SessionState struct {
	SessionKey string
	CreatedAt  time.Time

	ProcessedTotal int64
	ErrorTotal     int64

	lastActiveNano atomic.Int64
	recent         []*Observation
}

// NewSessionState creates state for a session key.
func NewSessionState(sessionKey string) *SessionState {
	return &SessionState{
		SessionKey: sessionKey,
		CreatedAt:  time.Now().UTC(),
	}
}

// Touch updates the last-active instant.
func (s *SessionState) Touch() {
	s.lastActiveNano.Store(time.Now().UnixNano())
}

// LastActive returns the last-active instant, zero when the session has
// never been active.
func (s *SessionState) LastActive() time.Time {
	n := s.lastActiveNano.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Record notes one processed observation: bumps counters, refreshes
// last-active and appends to the recent window (oldest evicted).
func (s *SessionState) Record(obs *Observation) {
	s.Touch()
	s.ProcessedTotal++
	s.recent = append(s.recent, obs)
	if len(s.recent) > RecentObsLimit {
		s.recent = s.recent[len(s.recent)-RecentObsLimit:]
	}
}

// RecordError notes one failed observation.
func (s *SessionState) RecordError() {
	s.Touch()
	s.ErrorTotal++
}

// Recent returns the retained observations, oldest first. The returned
// slice is a copy; callers may keep it across worker iterations.
func (s *SessionState) Recent() []*Observation {
	out := make([]*Observation, len(s.recent))
	copy(out, s.recent)
	return out
}

// RecentLen returns how many observations are retained.
func (s *SessionState) RecentLen() int { return len(s.recent) }

// IdleSeconds returns seconds since last activity, or -1 when the
// session has never been active. Safe to call from outside the owning
// worker.
func (s *SessionState) IdleSeconds() float64 {
	n := s.lastActiveNano.Load()
	if n == 0 {
		return -1
	}
	return time.Since(time.Unix(0, n)).Seconds()
}
