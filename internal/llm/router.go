package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/config"
	"github.com/QTest-hq/riskplan/internal/metrics"
)

// Retry configuration
const (
	defaultMaxRetries = 2
	initialBackoff    = time.Second
	maxBackoff        = 10 * time.Second
	backoffMultiplier = 2.0
)

// Router routes requests to the configured providers by tier, falling back in order
type Router struct {
	config      *RouterConfig
	clients     map[Provider]Client
	fallbacks   []Provider
	temperature float64
	maxRetries  int
	backoff     time.Duration
}

// NewRouter creates a router from application config
func NewRouter(cfg *config.Config) (*Router, error) {
	r := &Router{
		config: &RouterConfig{
			DefaultProvider: Provider(cfg.LLM.DefaultProvider),
			TierModels:      make(map[Tier]map[Provider]string),
		},
		clients:     make(map[Provider]Client),
		fallbacks:   []Provider{ProviderOllama, ProviderOpenAI, ProviderAnthropic},
		temperature: cfg.LLM.Temperature,
		maxRetries:  defaultMaxRetries,
		backoff:     initialBackoff,
	}

	if cfg.LLM.OllamaURL != "" {
		models := map[Tier]string{
			Tier1: cfg.LLM.OllamaTier1,
			Tier2: cfg.LLM.OllamaTier2,
		}
		r.clients[ProviderOllama] = NewOllamaClient(cfg.LLM.OllamaURL, models)
		r.addTierModels(ProviderOllama, models)
	}

	if cfg.LLM.AzureEndpoint != "" && cfg.LLM.AzureKey != "" && cfg.LLM.AzureDeployment != "" {
		r.clients[ProviderOpenAI] = NewAzureOpenAIClient(AzureConfig{
			Endpoint:   cfg.LLM.AzureEndpoint,
			APIKey:     cfg.LLM.AzureKey,
			APIVersion: cfg.LLM.AzureAPIVersion,
			Deployment: cfg.LLM.AzureDeployment,
		})
		// one deployment serves every tier
		r.addTierModels(ProviderOpenAI, map[Tier]string{
			Tier1: cfg.LLM.AzureDeployment,
			Tier2: cfg.LLM.AzureDeployment,
			Tier3: cfg.LLM.AzureDeployment,
		})
	}

	if cfg.LLM.AnthropicKey != "" {
		models := map[Tier]string{
			Tier1: "claude-3-5-haiku-20241022",
			Tier2: "claude-3-5-sonnet-20241022",
			Tier3: cfg.LLM.AnthropicTier3,
		}
		r.clients[ProviderAnthropic] = NewAnthropicClient(cfg.LLM.AnthropicKey, models)
		r.addTierModels(ProviderAnthropic, models)
	}

	if len(r.clients) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}

	return r, nil
}

func (r *Router) addTierModels(p Provider, models map[Tier]string) {
	for tier, model := range models {
		if model == "" {
			continue
		}
		if r.config.TierModels[tier] == nil {
			r.config.TierModels[tier] = make(map[Provider]string)
		}
		r.config.TierModels[tier][p] = model
	}
}

// Complete sends a completion request, routing to the first provider that succeeds
func (r *Router) Complete(ctx context.Context, req *Request) (*Response, error) {
	providers := r.getProvidersForTier(req.Tier)
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers available for tier %d", req.Tier)
	}
	if req.Temperature == 0 {
		req.Temperature = r.temperature
	}

	var lastErr error
	for _, provider := range providers {
		client, ok := r.clients[provider]
		if !ok {
			continue
		}

		if !client.Available() {
			log.Debug().Str("provider", string(provider)).Msg("provider not available, trying next")
			continue
		}

		resp, err := r.completeWithRetry(ctx, client, provider, req)
		if err != nil {
			log.Warn().
				Err(err).
				Str("provider", string(provider)).
				Msg("provider failed after retries, trying next")
			lastErr = err
			// a cancelled request will not succeed elsewhere
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		metrics.LLMTokens(string(resp.Provider), resp.InputTokens, resp.OutputTokens)
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all providers failed, last error: %w", lastErr)
	}

	return nil, fmt.Errorf("no available providers for tier %d", req.Tier)
}

func (r *Router) completeWithRetry(ctx context.Context, client Client, provider Provider, req *Request) (*Response, error) {
	var lastErr error
	backoff := r.backoff

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			log.Debug().
				Str("provider", string(provider)).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("retrying after backoff")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}

			backoff = time.Duration(float64(backoff) * backoffMultiplier)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryableError determines if an error warrants a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	for _, s := range []string{"timeout", "deadline exceeded", "connection refused", "connection reset", "eof"} {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	// 5xx and rate limiting
	for _, s := range []string{"500", "502", "503", "504", "server error", "internal error", "429", "rate limit", "too many requests"} {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	// other 4xx
	for _, s := range []string{"400", "401", "403", "404"} {
		if strings.Contains(errStr, s) {
			return false
		}
	}

	return true
}

// getProvidersForTier returns providers that can handle the tier, default first
func (r *Router) getProvidersForTier(tier Tier) []Provider {
	providers := make([]Provider, 0)
	seen := make(map[Provider]bool)

	tierModels := r.config.TierModels[tier]
	if _, ok := tierModels[r.config.DefaultProvider]; ok {
		providers = append(providers, r.config.DefaultProvider)
		seen[r.config.DefaultProvider] = true
	}

	// fallback order keeps the result deterministic
	for _, p := range r.fallbacks {
		if seen[p] || r.clients[p] == nil {
			continue
		}
		if _, ok := tierModels[p]; ok || tierModels == nil {
			providers = append(providers, p)
			seen[p] = true
		}
	}
	for _, p := range r.fallbacks {
		if !seen[p] && r.clients[p] != nil {
			providers = append(providers, p)
			seen[p] = true
		}
	}

	return providers
}

// HealthCheck verifies at least one provider is available
func (r *Router) HealthCheck() error {
	for provider, client := range r.clients {
		if client.Available() {
			log.Debug().Str("provider", string(provider)).Msg("provider available")
			return nil
		}
	}
	return fmt.Errorf("no LLM providers available")
}
