package gate

import (
	"sync"

	"github.com/murphys7017/mk2/core"
)

// DefaultPoolCapacity bounds each ingest pool.
const DefaultPoolCapacity = 1000

// Pool is a bounded ring buffer of gated-out observations. Oldest
// entries are overwritten once the pool is full. Ingest normally runs
// on a single worker at a time, but pools are shared across workers, so
// they carry their own lock.
type Pool struct {
	mu    sync.Mutex
	name  string
	buf   []*core.Observation
	next  int
	count int

	ingestedTotal int64
}

// NewPool creates a ring buffer pool. capacity <= 0 uses the default.
func NewPool(name string, capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	return &Pool{name: name, buf: make([]*core.Observation, capacity)}
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// Ingest appends one observation, overwriting the oldest when full.
func (p *Pool) Ingest(obs *core.Observation) {
	p.mu.Lock()
	p.buf[p.next] = obs
	p.next = (p.next + 1) % len(p.buf)
	if p.count < len(p.buf) {
		p.count++
	}
	p.ingestedTotal++
	p.mu.Unlock()
}

// Len returns the number of held observations.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// IngestedTotal returns the lifetime ingest count.
func (p *Pool) IngestedTotal() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ingestedTotal
}

// Snapshot returns held observations oldest first.
func (p *Pool) Snapshot() []*core.Observation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*core.Observation, 0, p.count)
	start := p.next - p.count
	if start < 0 {
		start += len(p.buf)
	}
	for i := 0; i < p.count; i++ {
		out = append(out, p.buf[(start+i)%len(p.buf)])
	}
	return out
}
