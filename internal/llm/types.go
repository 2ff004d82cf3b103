// Package llm provides chat-completion clients for the reasoning service.
package llm

import (
	"context"
	"strings"
)

// Provider represents an LLM provider
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai" // Azure OpenAI deployments
)

// Tier selects a model size for a reasoning task
type Tier int

const (
	Tier1 Tier = 1 // yes/no classification, short narratives
	Tier2 Tier = 2 // selection, rationale, filter extraction
	Tier3 Tier = 3 // fallback for long candidate lists
)

// Request represents an LLM completion request
type Request struct {
	Tier        Tier
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Stop        []string
	JSONMode    bool // ask the provider for a JSON object
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMessage builds a single-turn user message list
func UserMessage(content string) []Message {
	return []Message{{Role: "user", Content: content}}
}

// Response represents an LLM completion response
type Response struct {
	Content      string
	Model        string
	Provider     Provider
	InputTokens  int
	OutputTokens int
	FinishReason string
}

// Completer runs a completion. Both Client and Router satisfy it.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Client is a single LLM provider
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Name() Provider
	Available() bool
}

// RouterConfig holds router configuration
type RouterConfig struct {
	DefaultProvider Provider
	TierModels      map[Tier]map[Provider]string
}

// StripCodeFences removes a surrounding markdown code block (```json, ```yaml or ```)
func StripCodeFences(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
		// drop the language tag on the opening fence
		if i := strings.IndexByte(response, '\n'); i >= 0 && !strings.ContainsAny(response[:i], "{[") {
			response = response[i+1:]
		}
	}
	response = strings.TrimSuffix(strings.TrimSpace(response), "```")

	return strings.TrimSpace(response)
}
