package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/riskplan/internal/config"
)

// mockClient is a test double for Client interface
type mockClient struct {
	name      Provider
	available bool
	responses []*Response
	errors    []error
	callCount int
	lastReq   *Request
}

func newMockClient(name Provider, available bool) *mockClient {
	return &mockClient{name: name, available: available}
}

func (m *mockClient) Name() Provider { return m.name }

func (m *mockClient) Available() bool { return m.available }

func (m *mockClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	m.callCount++
	m.lastReq = req

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	idx := m.callCount - 1
	if idx < len(m.errors) && m.errors[idx] != nil {
		return nil, m.errors[idx]
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}

	return &Response{Content: "YES", Model: "test-model", Provider: m.name}, nil
}

func (m *mockClient) withResponses(responses ...*Response) *mockClient {
	m.responses = responses
	return m
}

func (m *mockClient) withErrors(errs ...error) *mockClient {
	m.errors = errs
	return m
}

func testRouter(tierModels map[Tier]map[Provider]string, clients ...*mockClient) *Router {
	r := &Router{
		config: &RouterConfig{
			DefaultProvider: ProviderOllama,
			TierModels:      tierModels,
		},
		clients:    map[Provider]Client{},
		maxRetries: defaultMaxRetries,
		backoff:    time.Millisecond,
	}
	for _, c := range clients {
		r.clients[c.name] = c
		r.fallbacks = append(r.fallbacks, c.name)
	}
	return r
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil_error", nil, false},
		{"cancelled", context.Canceled, false},
		{"timeout", errors.New("request timeout"), true},
		{"deadline_exceeded", context.DeadlineExceeded, true},
		{"connection_refused", errors.New("dial tcp: connection refused"), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"503_error", errors.New("azure openai returned status 503: busy"), true},
		{"rate_limit_429", errors.New("status 429: too many requests"), true},
		{"401_unauthorized", errors.New("anthropic returned status 401: invalid x-api-key"), false},
		{"404_not_found", errors.New("ollama returned status 404: model not found"), false},
		{"unknown_error", errors.New("something odd"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryableError(tt.err))
		})
	}
}

func TestRouter_Complete_Success(t *testing.T) {
	client := newMockClient(ProviderOllama, true).withResponses(&Response{
		Content:  "NO",
		Model:    "qwen2.5:7b",
		Provider: ProviderOllama,
	})
	router := testRouter(map[Tier]map[Provider]string{Tier1: {ProviderOllama: "qwen2.5:7b"}}, client)
	router.temperature = 0.2

	resp, err := router.Complete(context.Background(), &Request{Tier: Tier1})
	require.NoError(t, err)
	assert.Equal(t, "NO", resp.Content)
	assert.Equal(t, 1, client.callCount)
	assert.Equal(t, 0.2, client.lastReq.Temperature)
}

func TestRouter_Complete_ProviderUnavailable_Fallback(t *testing.T) {
	unavailable := newMockClient(ProviderOllama, false)
	available := newMockClient(ProviderOpenAI, true)
	router := testRouter(map[Tier]map[Provider]string{
		Tier2: {ProviderOllama: "m1", ProviderOpenAI: "gpt-4o"},
	}, unavailable, available)

	resp, err := router.Complete(context.Background(), &Request{Tier: Tier2})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, resp.Provider)
	assert.Equal(t, 0, unavailable.callCount)
	assert.Equal(t, 1, available.callCount)
}

func TestRouter_Complete_NoProviders(t *testing.T) {
	router := testRouter(map[Tier]map[Provider]string{})

	_, err := router.Complete(context.Background(), &Request{Tier: Tier1})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no providers available")
}

func TestRouter_Complete_AllProvidersFail(t *testing.T) {
	client := newMockClient(ProviderOllama, true).withErrors(errors.New("401 unauthorized"))
	router := testRouter(map[Tier]map[Provider]string{Tier1: {ProviderOllama: "m"}}, client)

	_, err := router.Complete(context.Background(), &Request{Tier: Tier1})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "all providers failed")
}

func TestRouter_CompleteWithRetry(t *testing.T) {
	t.Run("success_on_retry", func(t *testing.T) {
		client := newMockClient(ProviderOllama, true).withErrors(errors.New("timeout"), nil)
		router := testRouter(nil, client)

		resp, err := router.completeWithRetry(context.Background(), client, ProviderOllama, &Request{Tier: Tier1})
		require.NoError(t, err)
		assert.NotNil(t, resp)
		assert.Equal(t, 2, client.callCount)
	})

	t.Run("non_retryable", func(t *testing.T) {
		client := newMockClient(ProviderOllama, true).withErrors(errors.New("400 bad request"))
		router := testRouter(nil, client)

		_, err := router.completeWithRetry(context.Background(), client, ProviderOllama, &Request{Tier: Tier1})
		assert.Error(t, err)
		assert.Equal(t, 1, client.callCount)
	})

	t.Run("max_retries_exceeded", func(t *testing.T) {
		client := newMockClient(ProviderOllama, true).withErrors(
			errors.New("timeout"), errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
		)
		router := testRouter(nil, client)

		_, err := router.completeWithRetry(context.Background(), client, ProviderOllama, &Request{Tier: Tier1})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max retries exceeded")
		assert.Equal(t, defaultMaxRetries+1, client.callCount)
	})

	t.Run("context_cancelled", func(t *testing.T) {
		client := newMockClient(ProviderOllama, true).withErrors(errors.New("timeout"))
		router := testRouter(nil, client)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := router.completeWithRetry(ctx, client, ProviderOllama, &Request{Tier: Tier1})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRouter_GetProvidersForTier(t *testing.T) {
	ollama := newMockClient(ProviderOllama, true)
	azure := newMockClient(ProviderOpenAI, true)
	anthropic := newMockClient(ProviderAnthropic, true)

	router := testRouter(map[Tier]map[Provider]string{
		Tier1: {ProviderOllama: "m1"},
		Tier2: {ProviderOllama: "m2", ProviderAnthropic: "m3"},
		Tier3: {ProviderAnthropic: "m4"},
	}, ollama, azure, anthropic)

	t.Run("default_provider_first", func(t *testing.T) {
		providers := router.getProvidersForTier(Tier2)
		assert.Equal(t, ProviderOllama, providers[0])
		assert.Equal(t, ProviderAnthropic, providers[1])
	})

	t.Run("tier3_prefers_configured_model", func(t *testing.T) {
		providers := router.getProvidersForTier(Tier3)
		assert.Equal(t, ProviderAnthropic, providers[0])
		assert.Len(t, providers, 3)
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, router.getProvidersForTier(Tier1), router.getProvidersForTier(Tier1))
	})
}

func TestNewRouter(t *testing.T) {
	t.Run("no_providers", func(t *testing.T) {
		cfg := &config.Config{LLM: config.LLMConfig{DefaultProvider: "ollama"}}
		_, err := NewRouter(cfg)
		assert.Error(t, err)
	})

	t.Run("azure_serves_all_tiers", func(t *testing.T) {
		cfg := &config.Config{LLM: config.LLMConfig{
			DefaultProvider: "openai",
			AzureEndpoint:   "https://example.openai.azure.com",
			AzureKey:        "k",
			AzureDeployment: "gpt-4o",
		}}
		r, err := NewRouter(cfg)
		require.NoError(t, err)
		for _, tier := range []Tier{Tier1, Tier2, Tier3} {
			assert.Equal(t, "gpt-4o", r.config.TierModels[tier][ProviderOpenAI])
		}
	})

	t.Run("ollama_has_no_tier3", func(t *testing.T) {
		cfg := &config.Config{LLM: config.LLMConfig{
			DefaultProvider: "ollama",
			OllamaURL:       "http://localhost:11434",
			OllamaTier1:     "qwen2.5:7b",
			OllamaTier2:     "qwen2.5:14b",
		}}
		r, err := NewRouter(cfg)
		require.NoError(t, err)
		assert.Nil(t, r.config.TierModels[Tier3])
		assert.Equal(t, "qwen2.5:14b", r.config.TierModels[Tier2][ProviderOllama])
	})
}

func TestRouter_HealthCheck(t *testing.T) {
	assert.NoError(t, testRouter(nil, newMockClient(ProviderOllama, true)).HealthCheck())

	err := testRouter(nil, newMockClient(ProviderOllama, false)).HealthCheck()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no LLM providers available")

	assert.Error(t, testRouter(nil).HealthCheck())
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"ids":[1]}`, `{"ids":[1]}`},
		{"json_fence", "```json\n{\"ids\":[1]}\n```", `{"ids":[1]}`},
		{"bare_fence", "```\n[1, 2]\n```", `[1, 2]`},
		{"inline_fence", "```[1, 2]```", `[1, 2]`},
		{"whitespace", "  YES  ", "YES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.in))
		})
	}
}
