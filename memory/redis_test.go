package memory

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murphys7017/mk2/core"
)

func newTestService(t *testing.T) *RedisService {
	t.Helper()
	url := os.Getenv("MK2_REDIS_URL")
	if url == "" {
		t.Skip("MK2_REDIS_URL not set")
	}
	cfg := DefaultConfig()
	cfg.RedisURL = url
	svc, err := NewRedisService(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestAppendEventAndReadBack(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	obs, err := core.NewMessage("text_input", "dm:test-append", "alice", "remember this")
	require.NoError(t, err)

	eventID, appendErr := svc.AppendEvent(ctx, obs)
	require.NoError(t, appendErr)
	assert.NotEmpty(t, eventID)

	events, err := svc.SessionEvents(ctx, "dm:test-append", 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, obs.ObsID, last["obs_id"])
	assert.Equal(t, "remember this", last["text"])
}

func TestTurnLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	turnID, err := svc.StartTurn(ctx, "dm:test-turn", "event-123")
	require.NoError(t, err)
	assert.NotEmpty(t, turnID)

	require.NoError(t, svc.FinishTurn(ctx, turnID, TurnStatusOK, "", "obs-456"))

	fields, err := svc.client.HGetAll(ctx, turnKeyPrefix+turnID).Result()
	require.NoError(t, err)
	assert.Equal(t, TurnStatusOK, fields["status"])
	assert.Equal(t, "obs-456", fields["final_obs_id"])
	assert.Equal(t, "event-123", fields["input_event_id"])
}

func TestInvalidURLFailsFast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisURL = "not-a-url"
	_, err := NewRedisService(cfg, nil)
	require.Error(t, err)
}
