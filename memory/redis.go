// Package memory implements the runtime's external memory hooks on
// Redis: an append-only event log plus turn records. Every call is
// fail-open from the runtime's point of view; an unreachable store
// never blocks dispatch.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/murphys7017/mk2/core"
)

// Key layout. Events live in per-session lists, turns in hashes.
const (
	eventKeyPrefix   = "mk2:events:"
	turnKeyPrefix    = "mk2:turn:"
	eventIndexPrefix = "mk2:event:"
)

// Turn statuses recorded by FinishTurn.
const (
	TurnStatusOK    = "ok"
	TurnStatusError = "error"
)

// Config configures the Redis-backed memory service.
type Config struct {
	RedisURL       string        `yaml:"redis_url"`
	EventTTL       time.Duration `yaml:"event_ttl"`
	TurnTTL        time.Duration `yaml:"turn_ttl"`
	MaxEventsKept  int64         `yaml:"max_events_kept"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// DefaultConfig returns production defaults: a week of events, capped
// per session.
func DefaultConfig() Config {
	return Config{
		RedisURL:       "redis://localhost:6379",
		EventTTL:       7 * 24 * time.Hour,
		TurnTTL:        24 * time.Hour,
		MaxEventsKept:  5000,
		CommandTimeout: 2 * time.Second,
	}
}

// RedisService implements core.MemoryService on Redis.
type RedisService struct {
	client *redis.Client
	cfg    Config
	logger core.Logger
}

// NewRedisService connects and pings the store. A failed ping is an
// error here; once constructed, individual call failures are the
// caller's to swallow.
func NewRedisService(cfg Config, logger core.Logger) (*RedisService, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	def := DefaultConfig()
	if cfg.RedisURL == "" {
		cfg.RedisURL = def.RedisURL
	}
	if cfg.EventTTL <= 0 {
		cfg.EventTTL = def.EventTTL
	}
	if cfg.TurnTTL <= 0 {
		cfg.TurnTTL = def.TurnTTL
	}
	if cfg.MaxEventsKept <= 0 {
		cfg.MaxEventsKept = def.MaxEventsKept
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("memory: invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("memory: redis ping failed: %w", err)
	}

	logger.Info("Memory service connected", map[string]interface{}{
		"redis_url": cfg.RedisURL,
	})
	return &RedisService{client: client, cfg: cfg, logger: logger}, nil
}

// storedEvent is the wire form of an archived observation.
type storedEvent struct {
	EventID    string         `json:"event_id"`
	ObsID      string         `json:"obs_id"`
	ObsType    string         `json:"obs_type"`
	SourceName string         `json:"source_name"`
	SessionKey string         `json:"session_key"`
	ActorID    string         `json:"actor_id"`
	ActorType  string         `json:"actor_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Text       string         `json:"text,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AppendEvent archives one observation and returns its event id.
func (s *RedisService) AppendEvent(ctx context.Context, obs *core.Observation) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	ev := storedEvent{
		EventID:    uuid.NewString(),
		ObsID:      obs.ObsID,
		ObsType:    string(obs.ObsType),
		SourceName: obs.SourceName,
		SessionKey: obs.SessionKey,
		ActorID:    obs.Actor.ActorID,
		ActorType:  string(obs.Actor.ActorType),
		Timestamp:  obs.Timestamp,
		Metadata:   obs.Metadata,
	}
	if mp := obs.Message(); mp != nil {
		ev.Text = mp.Text
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("memory: encode event: %w", err)
	}

	key := eventKeyPrefix + obs.SessionKey
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, -s.cfg.MaxEventsKept, -1)
	pipe.Expire(ctx, key, s.cfg.EventTTL)
	pipe.Set(ctx, eventIndexPrefix+ev.EventID, obs.SessionKey, s.cfg.EventTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("memory: append event: %w", err)
	}
	return ev.EventID, nil
}

// StartTurn opens a turn record for a delivered message.
func (s *RedisService) StartTurn(ctx context.Context, sessionKey, inputEventID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	turnID := uuid.NewString()
	fields := map[string]interface{}{
		"session_key":    sessionKey,
		"input_event_id": inputEventID,
		"status":         "running",
		"started_at":     time.Now().UTC().Format(time.RFC3339Nano),
	}
	key := turnKeyPrefix + turnID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.cfg.TurnTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("memory: start turn: %w", err)
	}
	return turnID, nil
}

// FinishTurn closes a turn record.
func (s *RedisService) FinishTurn(ctx context.Context, turnID, status, errMsg, finalObsID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	fields := map[string]interface{}{
		"status":      status,
		"finished_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if errMsg != "" {
		fields["error_message"] = errMsg
	}
	if finalObsID != "" {
		fields["final_obs_id"] = finalObsID
	}
	if err := s.client.HSet(ctx, turnKeyPrefix+turnID, fields).Err(); err != nil {
		return fmt.Errorf("memory: finish turn: %w", err)
	}
	return nil
}

// SessionEvents returns the most recent archived events for a session,
// oldest first.
func (s *RedisService) SessionEvents(ctx context.Context, sessionKey string, limit int64) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	raws, err := s.client.LRange(ctx, eventKeyPrefix+sessionKey, -limit, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("memory: session events: %w", err)
	}
	events := make([]map[string]any, 0, len(raws))
	for _, raw := range raws {
		var ev map[string]any
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Close releases the Redis connection.
func (s *RedisService) Close() error {
	return s.client.Close()
}
