package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AzureConfig identifies one Azure OpenAI chat deployment
type AzureConfig struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	Deployment string
}

// AzureOpenAIClient implements the Client interface for Azure OpenAI chat completions
type AzureOpenAIClient struct {
	cfg        AzureConfig
	httpClient *http.Client
}

// NewAzureOpenAIClient creates a new Azure OpenAI client
func NewAzureOpenAIClient(cfg AzureConfig) *AzureOpenAIClient {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-06-01"
	}
	return &AzureOpenAIClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

func (c *AzureOpenAIClient) Name() Provider {
	return ProviderOpenAI
}

func (c *AzureOpenAIClient) Available() bool {
	return c.cfg.Endpoint != "" && c.cfg.APIKey != "" && c.cfg.Deployment != ""
}

func (c *AzureOpenAIClient) chatURL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(c.cfg.Endpoint, "/"),
		url.PathEscape(c.cfg.Deployment),
		url.QueryEscape(c.cfg.APIVersion))
}

type azureRequest struct {
	Messages       []Message        `json:"messages"`
	Temperature    float64          `json:"temperature"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	Stop           []string         `json:"stop,omitempty"`
	ResponseFormat *azureRespFormat `json:"response_format,omitempty"`
}

type azureRespFormat struct {
	Type string `json:"type"`
}

type azureResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *AzureOpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	azReq := azureRequest{
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
	}
	if req.JSONMode {
		azReq.ResponseFormat = &azureRespFormat{Type: "json_object"}
	}

	body, err := json.Marshal(azReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("azure openai returned status %d: %s", resp.StatusCode, sanitizeErrorBody(string(bodyBytes)))
	}

	var azResp azureResponse
	if err := json.NewDecoder(resp.Body).Decode(&azResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(azResp.Choices) == 0 {
		return nil, fmt.Errorf("azure openai returned no choices")
	}

	return &Response{
		Content:      azResp.Choices[0].Message.Content,
		Model:        azResp.Model,
		Provider:     ProviderOpenAI,
		InputTokens:  azResp.Usage.PromptTokens,
		OutputTokens: azResp.Usage.CompletionTokens,
		FinishReason: azResp.Choices[0].FinishReason,
	}, nil
}
