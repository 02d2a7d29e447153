package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/murphys7017/mk2/core"
)

// Deduplicator marks repeated observations within a per-scene window.
// Duplicates are sunk, not dropped: they stay inspectable in the sink
// pool. Alerts are never deduplicated. The seen-set is shared by every
// session worker running the pipeline, so it is mutex-guarded like the
// pools.
type Deduplicator struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{lastSeen: make(map[string]time.Time)}
}

func (d *Deduplicator) Name() string { return "dedup" }

func (d *Deduplicator) Apply(obs *core.Observation, ctx *Context, w *wip) {
	if w.scene == SceneAlert {
		return
	}
	policy := ctx.Config.ScenePolicy(w.scene)
	window := time.Duration(policy.DedupWindowSec * float64(time.Second))

	fp := Fingerprint(obs, w.scene)
	w.fingerprint = fp

	if d.seen(fp, ctx.Now, window) {
		w.tags["dedup"] = "hit"
		if w.actionHint != ActionDrop {
			w.actionHint = ActionSink
		}
		w.reasons = append(w.reasons, "dedup_hit")
	}
	w.trace(ctx, d.Name(), w.tags["dedup"])
}

// seen reports whether the fingerprint was recorded inside the window,
// recording the new sighting either way.
func (d *Deduplicator) seen(fp string, now time.Time, window time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.lastSeen[fp]
	d.lastSeen[fp] = now
	if len(d.lastSeen) > 4096 {
		d.prune(now, window)
	}
	return ok && now.Sub(last) <= window
}

func (d *Deduplicator) prune(now time.Time, window time.Duration) {
	if window <= 0 {
		window = 30 * time.Second
	}
	for fp, seen := range d.lastSeen {
		if now.Sub(seen) > window {
			delete(d.lastSeen, fp)
		}
	}
}

// Fingerprint is the stable identity hash used for deduplication:
// normalized text, scene, actor, session and obs type.
func Fingerprint(obs *core.Observation, scene Scene) string {
	parts := []string{
		string(scene),
		obs.Actor.ActorID,
		obs.SessionKey,
		string(obs.ObsType),
	}
	if mp := obs.Message(); mp != nil {
		parts = append(parts, strings.ToLower(strings.TrimSpace(mp.Text)))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
