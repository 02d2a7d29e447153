// Package reflex turns agent tuning suggestions into bounded,
// self-reverting config overrides. Every change is whitelisted, rate
// limited, TTL'd and announced on the bus, so the agent can nudge the
// gate but never wedge it.
package reflex

import (
	"time"

	"github.com/murphys7017/mk2/core"
	"github.com/murphys7017/mk2/gate"
)

// Defaults for suggestion handling. The TTL cap is a hard bound: no
// suggestion may hold an override longer than an hour.
const (
	DefaultSuggestionTTLSec      = 60
	DefaultSuggestionCooldownSec = 30
	MaxSuggestionTTLSec          = 3600
)

// Denial reasons reported in tuning_applied.denied.
const (
	DeniedNotWhitelisted = "not_whitelisted"
	DeniedCooldown       = "cooldown"
	DeniedInvalidPayload = "invalid_payload"
)

// overrideState tracks one active override for TTL revert.
type overrideState struct {
	value       any
	priorValue  any
	activeUntil time.Time
	lastApplied time.Time
}

// Controller is the system reflex controller. It is driven by the
// system session worker, so methods need no internal locking.
type Controller struct {
	provider *gate.ConfigProvider
	logger   core.Logger

	whitelist   map[string]bool
	ttlSec      float64
	cooldownSec float64

	active map[string]*overrideState
}

// Option configures a Controller.
type Option func(*Controller)

// WithWhitelist replaces the default override whitelist.
func WithWhitelist(keys ...string) Option {
	return func(c *Controller) {
		c.whitelist = make(map[string]bool, len(keys))
		for _, k := range keys {
			c.whitelist[k] = true
		}
	}
}

// WithTTL sets the default TTL for applied overrides.
func WithTTL(sec float64) Option {
	return func(c *Controller) { c.ttlSec = sec }
}

// WithCooldown sets the minimum interval between applications per key.
func WithCooldown(sec float64) Option {
	return func(c *Controller) { c.cooldownSec = sec }
}

// NewController creates a controller over the given config provider.
// The default whitelist admits only force_low_model; emergency_mode is
// deliberately not agent-settable.
func NewController(provider *gate.ConfigProvider, logger core.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	c := &Controller{
		provider:    provider,
		logger:      logger,
		whitelist:   map[string]bool{gate.OverrideForceLowModel: true},
		ttlSec:      DefaultSuggestionTTLSec,
		cooldownSec: DefaultSuggestionCooldownSec,
		active:      make(map[string]*overrideState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleSuggestion processes one tuning_suggestion CONTROL observation.
// Returned observations must be published back on the bus by the
// caller.
func (c *Controller) HandleSuggestion(obs *core.Observation, now time.Time) []*core.Observation {
	cp := obs.Control()
	if cp == nil || cp.Kind != core.ControlTuningSuggestion {
		return nil
	}

	suggested, ok := cp.Data["suggested_overrides"].(map[string]any)
	if !ok || len(suggested) == 0 {
		c.logger.Warn("Tuning suggestion has no usable overrides", map[string]interface{}{
			"obs_id": obs.ObsID,
		})
		return []*core.Observation{c.makeApplied(nil, map[string]string{"payload": DeniedInvalidPayload}, 0, now)}
	}

	ttl := c.resolveTTL(cp.Data)
	approved := make(map[string]any)
	denied := make(map[string]string)

	for key, value := range suggested {
		if !c.whitelist[key] {
			denied[key] = DeniedNotWhitelisted
			continue
		}
		if st, exists := c.active[key]; exists && now.Sub(st.lastApplied).Seconds() < c.cooldownSec {
			denied[key] = DeniedCooldown
			continue
		}
		approved[key] = value
	}

	var emits []*core.Observation
	until := now.Add(time.Duration(ttl * float64(time.Second)))

	if len(approved) > 0 {
		cfg := c.provider.Get()
		for key, value := range approved {
			prior, _ := cfg.OverrideValue(key)
			st, exists := c.active[key]
			if !exists {
				st = &overrideState{priorValue: prior}
				c.active[key] = st
			}
			st.value = value
			st.activeUntil = until
			st.lastApplied = now
		}
		changed := c.provider.UpdateOverrides(approved)
		c.logger.Info("Tuning overrides applied", map[string]interface{}{
			"approved": approved,
			"ttl_sec":  ttl,
			"changed":  changed,
		})
		emits = append(emits, c.makeModeChanged(approved, "tuning_suggestion"))
	}

	emits = append([]*core.Observation{c.makeApplied(approved, denied, ttl, now)}, emits...)
	return emits
}

// EvaluateTTL reverts every override whose TTL has expired. Called on
// each system-session observation.
func (c *Controller) EvaluateTTL(now time.Time) []*core.Observation {
	reverted := make(map[string]any)
	for key, st := range c.active {
		if now.Before(st.activeUntil) {
			continue
		}
		reverted[key] = st.priorValue
		delete(c.active, key)
	}
	if len(reverted) == 0 {
		return nil
	}
	c.provider.UpdateOverrides(reverted)
	c.logger.Info("Tuning overrides reverted", map[string]interface{}{
		"reverted": reverted,
	})
	return []*core.Observation{
		c.makeControl(core.ControlTuningReverted, map[string]any{
			"reverted_overrides": reverted,
			"reason":             "ttl_expired",
		}),
		c.makeModeChanged(reverted, "ttl_expired"),
	}
}

// ActiveOverrides returns the keys currently held by the controller.
func (c *Controller) ActiveOverrides() []string {
	keys := make([]string, 0, len(c.active))
	for k := range c.active {
		keys = append(keys, k)
	}
	return keys
}

func (c *Controller) resolveTTL(data map[string]any) float64 {
	ttl := c.ttlSec
	switch v := data["ttl_sec"].(type) {
	case float64:
		ttl = v
	case int:
		ttl = float64(v)
	}
	if ttl < 1 {
		ttl = 1
	}
	if ttl > MaxSuggestionTTLSec {
		ttl = MaxSuggestionTTLSec
	}
	return ttl
}

func (c *Controller) makeApplied(approved map[string]any, denied map[string]string, ttl float64, now time.Time) *core.Observation {
	deniedAny := make(map[string]any, len(denied))
	for k, v := range denied {
		deniedAny[k] = v
	}
	data := map[string]any{
		"approved": approved,
		"denied":   deniedAny,
	}
	if len(approved) > 0 {
		data["ttl_sec"] = ttl
		data["until_ts"] = now.Add(time.Duration(ttl * float64(time.Second))).Unix()
	}
	return c.makeControl(core.ControlTuningApplied, data)
}

func (c *Controller) makeModeChanged(changed map[string]any, reason string) *core.Observation {
	return c.makeControl(core.ControlSystemModeChanged, map[string]any{
		"changed_overrides": changed,
		"reason":            reason,
	})
}

func (c *Controller) makeControl(kind string, data map[string]any) *core.Observation {
	obs := core.NewObservation()
	obs.ObsType = core.ObsControl
	obs.SourceName = "system:reflex"
	obs.SourceKind = core.SourceInternal
	obs.SessionKey = core.SystemSessionKey
	obs.Actor = core.Actor{ActorID: "system", ActorType: core.ActorSystem}
	obs.Payload = &core.ControlPayload{Kind: kind, Data: data}
	return obs
}
