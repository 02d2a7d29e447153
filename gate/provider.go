package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/murphys7017/mk2/core"
)

// ConfigProvider owns the live gate config snapshot. Readers call Get
// and receive an immutable *Config; reloads and override updates swap
// the whole pointer. A failed reload keeps the previous snapshot, so
// readers never see a partially applied config.
type ConfigProvider struct {
	path    string
	logger  core.Logger
	current atomic.Pointer[Config]

	mu        sync.Mutex
	lastMtime int64
	lastSize  int64
	lastHash  string

	reloadsTotal  atomic.Int64
	failuresTotal atomic.Int64
}

// NewConfigProvider loads the initial snapshot from path. When the file
// is missing or invalid the provider starts from built-in defaults and
// keeps watching for a valid file. path may be empty for a
// defaults-only provider.
func NewConfigProvider(path string, logger core.Logger) *ConfigProvider {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	p := &ConfigProvider{path: path, logger: logger}
	p.current.Store(Default())
	if path != "" {
		if _, err := p.ForceReload(); err != nil {
			logger.Warn("Gate config initial load failed, using defaults", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
	}
	return p
}

// Get returns the current immutable snapshot.
func (p *ConfigProvider) Get() *Config {
	return p.current.Load()
}

// ReloadsTotal returns the number of applied reloads.
func (p *ConfigProvider) ReloadsTotal() int64 { return p.reloadsTotal.Load() }

// ReloadIfChanged reloads the file when its content changed. The
// (mtime_ns, size) stamp is the primary signal; the content hash is the
// required fallback for filesystems with coarse mtime, where a same-size
// rewrite can leave the stamp untouched. So an unchanged stamp still
// hashes the bytes and reloads when they differ, and a moved stamp with
// identical bytes (touch, in-place rewrite) is skipped. Returns true
// when a new snapshot was applied.
func (p *ConfigProvider) ReloadIfChanged() (bool, error) {
	if p.path == "" {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		return false, err
	}
	mtime, size := info.ModTime().UnixNano(), info.Size()

	data, err := os.ReadFile(p.path)
	if err != nil {
		return false, err
	}
	hash := contentHash(data)
	if hash == p.lastHash {
		p.lastMtime, p.lastSize = mtime, size
		return false, nil
	}

	cfg, err := Parse(data)
	if err != nil {
		// Remember the stamp of the bad content so we do not re-parse
		// it on every tick; the old snapshot stays live.
		p.lastMtime, p.lastSize, p.lastHash = mtime, size, hash
		p.failuresTotal.Add(1)
		p.logger.Error("Gate config reload failed, keeping previous snapshot", map[string]interface{}{
			"path":  p.path,
			"error": err.Error(),
		})
		return false, err
	}

	p.lastMtime, p.lastSize, p.lastHash = mtime, size, hash
	p.current.Store(cfg)
	p.reloadsTotal.Add(1)
	p.logger.Info("Gate config reloaded", map[string]interface{}{
		"path":    p.path,
		"version": cfg.Version,
	})
	return true, nil
}

// ForceReload reloads unconditionally. On failure the previous snapshot
// stays live and the error is returned.
func (p *ConfigProvider) ForceReload() (*Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if err != nil {
		p.failuresTotal.Add(1)
		return p.current.Load(), err
	}
	cfg, err := Parse(data)
	if err != nil {
		p.failuresTotal.Add(1)
		p.logger.Error("Gate config reload failed, keeping previous snapshot", map[string]interface{}{
			"path":  p.path,
			"error": err.Error(),
		})
		return p.current.Load(), err
	}

	if info, statErr := os.Stat(p.path); statErr == nil {
		p.lastMtime, p.lastSize = info.ModTime().UnixNano(), info.Size()
	}
	p.lastHash = contentHash(data)
	p.current.Store(cfg)
	p.reloadsTotal.Add(1)
	return cfg, nil
}

// UpdateOverrides applies runtime override changes on top of the
// current snapshot. Returns true when the snapshot actually changed.
// File reloads that land afterwards replace the whole snapshot,
// overrides included; the reflex controller re-applies what it owns.
func (p *ConfigProvider) UpdateOverrides(kv map[string]any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.current.Load()
	next := cur.WithOverrides(kv)
	if next == cur {
		return false
	}
	p.current.Store(next)
	return true
}

// Watch reloads on filesystem events until ctx is done. Events are
// debounced because editors emit bursts of writes for a single save.
// Polling via ReloadIfChanged still works without this; Watch just
// tightens reaction time.
func (p *ConfigProvider) Watch(ctx context.Context) error {
	if p.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(p.path); err != nil {
		return err
	}

	var debounce *time.Timer
	const debounceDelay = 200 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				if _, err := p.ReloadIfChanged(); err != nil {
					p.logger.Warn("Gate config watch reload failed", map[string]interface{}{
						"path":  p.path,
						"error": err.Error(),
					})
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("Gate config watcher error", map[string]interface{}{
				"path":  p.path,
				"error": err.Error(),
			})
		}
	}
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
