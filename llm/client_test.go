package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.APIKey = "test-key"
	cfg.MaxRetries = 2
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)
	return client
}

func TestGenerate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"role": "assistant", "content": "hello back"}}],
			"usage": {"prompt_tokens": 4, "completion_tokens": 3}
		}`))
	})

	resp, err := client.Generate(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.Content)
	assert.Equal(t, 3, resp.OutputTokens)
}

func TestGenerateRetriesOnServerError(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "recovered"}}]}`))
	})

	resp, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 2, attempts)
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad request"}}`))
	})

	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "4xx must not be retried")
}

func TestSecretPlaceholderResolution(t *testing.T) {
	t.Setenv("MK2_TEST_LLM_KEY", "resolved-secret")

	cfg := DefaultConfig()
	cfg.APIKey = "<MK2_TEST_LLM_KEY>"
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "resolved-secret", client.apiKey)
}

func TestSecretPlaceholderFailsFastWhenUnset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "<MK2_DEFINITELY_UNSET_ENV_VAR>"
	_, err := NewClient(cfg, nil)
	require.Error(t, err)
}

func TestLiveProvider(t *testing.T) {
	if os.Getenv("MK2_LLM_LIVE_TESTS") == "" {
		t.Skip("MK2_LLM_LIVE_TESTS not set")
	}
	cfg := DefaultConfig()
	cfg.APIKey = "<MK2_LLM_API_KEY>"
	if base := os.Getenv("MK2_LLM_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), Request{Prompt: "Say the word ok."})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Content)
}
