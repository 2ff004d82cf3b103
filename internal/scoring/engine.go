// Package scoring implements the risk-based ranking of candidate test cases.
//
// Each candidate gets five components:
//
//	risk             = impact*likelihood / runningMaxRPN * priorityWeight
//	failure history  = failures/totalRuns * failureRate   (failureRate if no runs)
//	change impact    = 1.0 direct, 0.5 otherwise
//	defect           = severity * defects/featureSize      (0 if featureSize is 0)
//	execution        = executionTime / maxExecutionTime    (0 if no max)
//
// and total = risk + history + change + defect - execution, rounded half-up to
// two decimals. Totals are not clamped and may be negative.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/metrics"
	"github.com/QTest-hq/riskplan/internal/plan"
)

// ErrNoScorableInput is returned when candidates were given but none could be scored
var ErrNoScorableInput = errors.New("no scorable input")

// DefaultPriorityWeights maps priority classes to risk multipliers
var DefaultPriorityWeights = map[string]float64{
	plan.PriorityClass1: 3,
	plan.PriorityClass2: 2,
	plan.PriorityClass3: 1,
}

const (
	directImpactWeight   = 1.0
	indirectImpactWeight = 0.5
	unknownPriorityScale = 1.0
)

// Result is the score breakdown of one candidate. It lives for one scoring call.
type Result struct {
	ID               int64   `json:"testcase_id"`
	Name             string  `json:"testcase_name"`
	Module           string  `json:"module"`
	Priority         string  `json:"priority"`
	Type             string  `json:"testcase_type,omitempty"`
	RPN              float64 `json:"rpn_value"`
	Risk             float64 `json:"risk_component"`
	FailureHistory   float64 `json:"failure_rate_component"`
	ChangeImpact     float64 `json:"change_impact_component"`
	Defect           float64 `json:"defect_component"`
	ExecutionPenalty float64 `json:"execution_penalty_component"`
	Total            float64 `json:"total_score"`
}

// Engine scores candidates against a shared running maximum RPN
type Engine struct {
	rpn     RPNTracker
	weights map[string]float64
}

// NewEngine creates a scoring engine. A nil weights map uses DefaultPriorityWeights.
func NewEngine(rpn RPNTracker, weights map[string]float64) *Engine {
	if weights == nil {
		weights = DefaultPriorityWeights
	}
	return &Engine{rpn: rpn, weights: weights}
}

// Score ranks candidates by total score, highest first. maxExecutionTime is the
// largest execution time known to the repository; when it is not positive the
// largest value in the batch is used instead.
func (e *Engine) Score(ctx context.Context, candidates []plan.Metric, maxExecutionTime float64) ([]Result, error) {
	if len(candidates) == 0 {
		log.Warn().Msg("empty candidate set provided for scoring")
		return []Result{}, nil
	}
	start := time.Now()

	runningMax, err := e.rpn.Load(ctx)
	if err != nil {
		return nil, err
	}
	loaded := runningMax

	if maxExecutionTime <= 0 {
		for _, c := range candidates {
			maxExecutionTime = math.Max(maxExecutionTime, c.ExecutionTime)
		}
	}

	results := make([]Result, 0, len(candidates))
	skipped := 0
	for _, c := range candidates {
		if err := validate(c); err != nil {
			log.Error().Err(err).Int64("testcase_id", c.ID).Msg("error calculating score, skipping")
			skipped++
			continue
		}

		// the running max moves before it is used as the denominator
		rpn := float64(c.Impact * c.Likelihood)
		if rpn > runningMax {
			runningMax = rpn
		}

		results = append(results, e.scoreOne(c, rpn, runningMax, maxExecutionTime))
	}

	if runningMax > loaded {
		if err := e.rpn.Raise(ctx, runningMax); err != nil {
			return nil, err
		}
	}

	metrics.ObserveScoring(time.Since(start), skipped)

	if len(results) == 0 {
		return nil, ErrNoScorableInput
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Total != results[j].Total {
			return results[i].Total > results[j].Total
		}
		return results[i].ID < results[j].ID
	})

	return results, nil
}

func (e *Engine) scoreOne(c plan.Metric, rpn, runningMax, maxExecutionTime float64) Result {
	risk := 0.0
	if runningMax > 0 {
		risk = rpn / runningMax * e.priorityWeight(c.Priority)
	}

	history := c.FailureRate
	if c.TotalRuns > 0 {
		history = float64(c.Failures) / float64(c.TotalRuns) * c.FailureRate
	}

	change := indirectImpactWeight
	if c.DirectImpact {
		change = directImpactWeight
	}

	defect := 0.0
	if c.FeatureSize > 0 {
		defect = float64(c.Severity) * (float64(c.Defects) / float64(c.FeatureSize))
	}

	penalty := 0.0
	if maxExecutionTime > 0 {
		penalty = c.ExecutionTime / maxExecutionTime
	}

	return Result{
		ID:               c.ID,
		Name:             c.Name,
		Module:           c.Module,
		Priority:         c.Priority,
		Type:             c.Type,
		RPN:              rpn,
		Risk:             Round(risk),
		FailureHistory:   Round(history),
		ChangeImpact:     change,
		Defect:           Round(defect),
		ExecutionPenalty: Round(penalty),
		Total:            Round(risk + history + change + defect - penalty),
	}
}

func (e *Engine) priorityWeight(priority string) float64 {
	if w, ok := e.weights[priority]; ok {
		return w
	}
	return unknownPriorityScale
}

func validate(c plan.Metric) error {
	switch {
	case c.Likelihood < 0 || c.Likelihood > 100:
		return fmt.Errorf("likelihood %d out of range 0-100", c.Likelihood)
	case c.Impact < 0 || c.Impact > 100:
		return fmt.Errorf("impact %d out of range 0-100", c.Impact)
	case c.FailureRate < 0 || c.FailureRate > 100:
		return fmt.Errorf("failure rate %.2f out of range 0-100", c.FailureRate)
	case c.Severity < 0 || c.Severity > 10:
		return fmt.Errorf("severity %d out of range 0-10", c.Severity)
	case c.FeatureSize < 0 || c.FeatureSize > 10:
		return fmt.Errorf("feature size %d out of range 0-10", c.FeatureSize)
	case c.Failures < 0 || c.TotalRuns < 0 || c.Defects < 0:
		return fmt.Errorf("negative counter")
	case c.ExecutionTime < 0 || math.IsNaN(c.ExecutionTime) || math.IsNaN(c.FailureRate):
		return fmt.Errorf("invalid execution time or failure rate")
	}
	return nil
}

// Round rounds half away from zero to two decimal places. The value is first
// fixed at six decimals so binary noise (2.675 -> 2.67499...) does not decide
// the rounding direction.
func Round(v float64) float64 {
	scaled, err := strconv.ParseFloat(strconv.FormatFloat(v*100, 'f', 6, 64), 64)
	if err != nil {
		return v
	}
	return math.Round(scaled) / 100
}
