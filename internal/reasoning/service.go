// Package reasoning wraps an LLM behind the narrow capability interface the
// planning core needs: classify, select, warn, explain, narrate and extract
// filters. Every operation may fail or return unusable content; callers decide
// the fallback.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/llm"
	"github.com/QTest-hq/riskplan/internal/metrics"
	"github.com/QTest-hq/riskplan/internal/plan"
	"github.com/QTest-hq/riskplan/internal/scoring"
)

// ErrUnparseable is returned when the model answered with content that could not be parsed
var ErrUnparseable = errors.New("unparseable reasoning output")

// Operation names, used for metrics and logs
const (
	OpClassify  = "classify"
	OpSelect    = "select"
	OpWarn      = "warn"
	OpRationale = "rationale"
	OpNarrate   = "narrate"
	OpFilters   = "filters"
)

// SelectRequest is the input of a selection call
type SelectRequest struct {
	Query      string
	Modules    []string
	Priorities []string
	Requested  int
	Candidates []scoring.Result
}

// Rationale is the reason given for one selected test case
type Rationale struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// FilterExtraction is the parsed output of the filter flow
type FilterExtraction struct {
	Filters     plan.Filters
	Suggestions []string
	Raw         string
}

// Service is the reasoning capability used by the planning core
type Service interface {
	// Classify returns the raw answer to "is current a major change from previous"
	Classify(ctx context.Context, previous, current string) (string, error)
	// Select returns the ids picked from the candidates, most important first
	Select(ctx context.Context, req SelectRequest) ([]int64, error)
	// Warn returns a coverage-adequacy warning, or "" when coverage is adequate
	Warn(ctx context.Context, modules []string, selected []plan.TestCase) (string, error)
	// Rationale returns one reason per selected item, in order
	Rationale(ctx context.Context, modules []string, selected []plan.TestCase) ([]Rationale, error)
	// Narrate summarizes the coverage impact of a staged edit in 1-2 sentences
	Narrate(ctx context.Context, before, changed []plan.TestCase, kind plan.EditKind) (string, error)
	// ExtractFilters reads filters and suggestions from a conversation
	ExtractFilters(ctx context.Context, history []llm.Message) (*FilterExtraction, error)
}

// LLMService implements Service over an llm.Client
type LLMService struct {
	client  llm.Completer
	timeout time.Duration
}

// NewLLMService creates a reasoning service. Each call is bounded by timeout when positive.
func NewLLMService(client llm.Completer, timeout time.Duration) *LLMService {
	return &LLMService{client: client, timeout: timeout}
}

func (s *LLMService) complete(ctx context.Context, op string, req *llm.Request) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.client.Complete(ctx, req)
	if err != nil {
		metrics.ReasoningFailed(op)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Debug().
		Str("operation", op).
		Str("model", resp.Model).
		Dur("duration", time.Since(start)).
		Msg("reasoning call completed")

	return resp.Content, nil
}

func (s *LLMService) unparseable(op, content string, err error) error {
	metrics.ReasoningFailed(op)
	log.Warn().Err(err).Str("operation", op).Str("content", truncate(content, 200)).Msg("unparseable reasoning output")
	return fmt.Errorf("%s: %w", op, ErrUnparseable)
}

// Classify implements Service
func (s *LLMService) Classify(ctx context.Context, previous, current string) (string, error) {
	content, err := s.complete(ctx, OpClassify, &llm.Request{
		Tier:      llm.Tier1,
		System:    SystemPromptClassify,
		Messages:  llm.UserMessage(ClassifyPrompt(previous, current)),
		MaxTokens: 8,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// Select implements Service
func (s *LLMService) Select(ctx context.Context, req SelectRequest) ([]int64, error) {
	content, err := s.complete(ctx, OpSelect, &llm.Request{
		Tier:     llm.Tier2,
		System:   SystemPromptSelect,
		Messages: llm.UserMessage(SelectPrompt(req)),
	})
	if err != nil {
		return nil, err
	}

	ids, err := ParseIDs(content)
	if err != nil {
		return nil, s.unparseable(OpSelect, content, err)
	}
	return ids, nil
}

// Warn implements Service
func (s *LLMService) Warn(ctx context.Context, modules []string, selected []plan.TestCase) (string, error) {
	content, err := s.complete(ctx, OpWarn, &llm.Request{
		Tier:     llm.Tier1,
		System:   SystemPromptWarn,
		Messages: llm.UserMessage(WarnPrompt(modules, selected)),
	})
	if err != nil {
		return "", err
	}
	return CleanWarning(content), nil
}

// Rationale implements Service
func (s *LLMService) Rationale(ctx context.Context, modules []string, selected []plan.TestCase) ([]Rationale, error) {
	content, err := s.complete(ctx, OpRationale, &llm.Request{
		Tier:     llm.Tier2,
		System:   SystemPromptRationale,
		Messages: llm.UserMessage(RationalePrompt(modules, selected)),
	})
	if err != nil {
		return nil, err
	}

	var out []Rationale
	if err := json.Unmarshal([]byte(llm.StripCodeFences(content)), &out); err != nil {
		return nil, s.unparseable(OpRationale, content, err)
	}
	return out, nil
}

// Narrate implements Service
func (s *LLMService) Narrate(ctx context.Context, before, changed []plan.TestCase, kind plan.EditKind) (string, error) {
	content, err := s.complete(ctx, OpNarrate, &llm.Request{
		Tier:     llm.Tier1,
		System:   SystemPromptNarrate,
		Messages: llm.UserMessage(NarratePrompt(before, changed, kind)),
	})
	if err != nil {
		return "", err
	}

	narrative := collapseWhitespace(llm.StripCodeFences(content))
	if narrative == "" {
		return "", s.unparseable(OpNarrate, content, errors.New("empty narrative"))
	}
	return narrative, nil
}

// ExtractFilters implements Service
func (s *LLMService) ExtractFilters(ctx context.Context, history []llm.Message) (*FilterExtraction, error) {
	content, err := s.complete(ctx, OpFilters, &llm.Request{
		Tier:     llm.Tier2,
		System:   SystemPromptFilters,
		Messages: history,
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	out, err := ParseFilters(content)
	if err != nil {
		return nil, s.unparseable(OpFilters, content, err)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
