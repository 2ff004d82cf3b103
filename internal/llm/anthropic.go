package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIURL  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
)

// AnthropicClient implements the Client interface for the Anthropic messages API
type AnthropicClient struct {
	apiKey     string
	url        string
	httpClient *http.Client
	models     map[Tier]string
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(apiKey string, models map[Tier]string) *AnthropicClient {
	return &AnthropicClient{
		apiKey: apiKey,
		url:    anthropicAPIURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		models: models,
	}
}

func (c *AnthropicClient) Name() Provider {
	return ProviderAnthropic
}

func (c *AnthropicClient) Available() bool {
	return c.apiKey != ""
}

type anthropicRequest struct {
	Model         string    `json:"model"`
	MaxTokens     int       `json:"max_tokens"`
	System        string    `json:"system,omitempty"`
	Messages      []Message `json:"messages"`
	Temperature   float64   `json:"temperature,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	model, ok := c.models[req.Tier]
	if !ok || model == "" {
		return nil, fmt.Errorf("no model configured for tier %d", req.Tier)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	system := req.System
	if req.JSONMode {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON value and nothing else.")
	}

	body, err := json.Marshal(anthropicRequest{
		Model:         model,
		MaxTokens:     maxTokens,
		System:        system,
		Messages:      req.Messages,
		Temperature:   req.Temperature,
		StopSequences: req.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("anthropic returned status %d: %s", resp.StatusCode, sanitizeErrorBody(string(bodyBytes)))
	}

	var anthropicResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&anthropicResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var content strings.Builder
	for _, part := range anthropicResp.Content {
		if part.Type == "text" {
			content.WriteString(part.Text)
		}
	}

	return &Response{
		Content:      content.String(),
		Model:        anthropicResp.Model,
		Provider:     ProviderAnthropic,
		InputTokens:  anthropicResp.Usage.InputTokens,
		OutputTokens: anthropicResp.Usage.OutputTokens,
		FinishReason: anthropicResp.StopReason,
	}, nil
}
