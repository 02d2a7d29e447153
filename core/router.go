package core

import (
	"sort"
	"sync"
	"sync/atomic"
)

// SessionInbox is a per-session bounded FIFO queue. Enqueue never
// blocks: when the inbox is full the newest observation is dropped and
// counted, matching the bus policy.
type SessionInbox struct {
	ch       chan *Observation
	enqueued atomic.Int64
	dropped  atomic.Int64
}

// DefaultInboxCapacity bounds each session inbox.
const DefaultInboxCapacity = 256

// NewSessionInbox creates an inbox with the given capacity
// (DefaultInboxCapacity when size <= 0).
func NewSessionInbox(size int) *SessionInbox {
	if size <= 0 {
		size = DefaultInboxCapacity
	}
	return &SessionInbox{ch: make(chan *Observation, size)}
}

// Put enqueues without blocking. Returns false when the inbox is full.
func (in *SessionInbox) Put(obs *Observation) bool {
	select {
	case in.ch <- obs:
		in.enqueued.Add(1)
		return true
	default:
		in.dropped.Add(1)
		return false
	}
}

// C exposes the inbox stream to its single consumer, the session worker.
func (in *SessionInbox) C() <-chan *Observation { return in.ch }

// Len returns the number of queued observations.
func (in *SessionInbox) Len() int { return len(in.ch) }

// Enqueued returns the count of successful enqueues.
func (in *SessionInbox) Enqueued() int64 { return in.enqueued.Load() }

// Dropped returns the count of drop-newest events.
func (in *SessionInbox) Dropped() int64 { return in.dropped.Load() }

// SessionRouter demultiplexes the bus stream into per-session inboxes.
// It is the bus's only consumer; workers are the only consumers of their
// inboxes. Cross-session ordering follows router consumption order;
// within a session ordering is strictly FIFO.
type SessionRouter struct {
	bus              *InputBus
	inboxSize        int
	systemSessionKey string

	mu      sync.RWMutex
	inboxes map[string]*SessionInbox

	droppedTotal atomic.Int64
}

// NewSessionRouter creates a router over the given bus.
func NewSessionRouter(bus *InputBus, inboxSize int, systemSessionKey string) *SessionRouter {
	if systemSessionKey == "" {
		systemSessionKey = SystemSessionKey
	}
	return &SessionRouter{
		bus:              bus,
		inboxSize:        inboxSize,
		systemSessionKey: systemSessionKey,
		inboxes:          make(map[string]*SessionInbox),
	}
}

// SystemSessionKey returns the reserved system session key in use.
func (r *SessionRouter) SystemSessionKey() string { return r.systemSessionKey }

// DroppedTotal returns the count of observations dropped because a
// session inbox was full.
func (r *SessionRouter) DroppedTotal() int64 { return r.droppedTotal.Load() }

// ResolveSessionKey derives a deterministic session key when the
// observation does not carry one:
//   - MESSAGE from a user actor -> "dm:{actor_id}"
//   - SCHEDULE/ALERT/SYSTEM/CONTROL -> the system session
//   - anything else -> "unknown"
func (r *SessionRouter) ResolveSessionKey(obs *Observation) string {
	if obs.SessionKey != "" {
		return obs.SessionKey
	}
	switch obs.ObsType {
	case ObsMessage:
		if obs.Actor.ActorID != "" {
			return "dm:" + obs.Actor.ActorID
		}
		return "unknown"
	case ObsSchedule, ObsAlert, ObsSystem, ObsControl:
		return r.systemSessionKey
	default:
		return "unknown"
	}
}

// Inbox returns (creating if needed) the inbox for a session key.
func (r *SessionRouter) Inbox(sessionKey string) *SessionInbox {
	r.mu.RLock()
	in := r.inboxes[sessionKey]
	r.mu.RUnlock()
	if in != nil {
		return in
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if in = r.inboxes[sessionKey]; in == nil {
		in = NewSessionInbox(r.inboxSize)
		r.inboxes[sessionKey] = in
	}
	return in
}

// ListActiveSessions returns a stable (sorted) snapshot of session keys
// that currently have inboxes. The watcher scans this full set every
// tick so a GC'd session whose next event recreated an inbox gets its
// worker revived.
func (r *SessionRouter) ListActiveSessions() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.inboxes))
	for k := range r.inboxes {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// RemoveSession drops the inbox for a session. The GC must call this
// after terminating a worker, otherwise the watcher keeps reviving it.
func (r *SessionRouter) RemoveSession(sessionKey string) {
	r.mu.Lock()
	delete(r.inboxes, sessionKey)
	r.mu.Unlock()
}

// Run is the routing loop: consume the bus in FIFO order and enqueue
// into the target inbox, drop-newest on full. Returns when the bus is
// closed and drained.
func (r *SessionRouter) Run() {
	for {
		obs, ok := r.bus.Next()
		if !ok {
			return
		}
		sk := r.ResolveSessionKey(obs)
		obs.SessionKey = sk
		if !r.Inbox(sk).Put(obs) {
			r.droppedTotal.Add(1)
		}
	}
}
