package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	rpnats "github.com/QTest-hq/riskplan/internal/nats"
	"github.com/QTest-hq/riskplan/internal/plan"
	"github.com/QTest-hq/riskplan/internal/scoring"
)

// CandidateSource provides scoring input
type CandidateSource interface {
	FetchCandidates(ctx context.Context, moduleIDs []int64, priorities []string, testcaseType string) ([]plan.Metric, error)
	MaxExecutionTime(ctx context.Context) (float64, error)
}

// ScoreSink stores one job's scoring snapshot
type ScoreSink interface {
	SaveScores(ctx context.Context, jobID uuid.UUID, results []scoring.Result) (int64, error)
}

// RescoreWorker scores every candidate of the requested modules and stores
// the results under the job id
type RescoreWorker struct {
	*BaseWorker
	source CandidateSource
	sink   ScoreSink
	engine *scoring.Engine
}

// NewRescoreWorker wires a rescore handler into base
func NewRescoreWorker(base *BaseWorker, source CandidateSource, sink ScoreSink, engine *scoring.Engine) *RescoreWorker {
	w := &RescoreWorker{
		BaseWorker: base,
		source:     source,
		sink:       sink,
		engine:     engine,
	}
	base.handler = w.Handle
	return w
}

// Handle processes one rescore job message
func (w *RescoreWorker) Handle(ctx context.Context, data []byte) error {
	job, err := rpnats.DecodeRescoreJob(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	if job.JobID == uuid.Nil {
		return fmt.Errorf("%w: rescore job without id", ErrPermanent)
	}

	logger := log.With().
		Str("job_id", job.JobID.String()).
		Int("modules", len(job.ModuleIDs)).
		Logger()
	logger.Info().Msg("processing rescore job")

	candidates, err := w.source.FetchCandidates(ctx, job.ModuleIDs, nil, "")
	if err != nil {
		return fmt.Errorf("fetch candidates: %w", err)
	}
	maxExec, err := w.source.MaxExecutionTime(ctx)
	if err != nil {
		return fmt.Errorf("max execution time: %w", err)
	}

	results, err := w.engine.Score(ctx, candidates, maxExec)
	if errors.Is(err, scoring.ErrNoScorableInput) {
		logger.Warn().Int("candidates", len(candidates)).Msg("no candidate could be scored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}

	saved, err := w.sink.SaveScores(ctx, job.JobID, results)
	if err != nil {
		return fmt.Errorf("save scores: %w", err)
	}

	summary := scoring.Summarize(results)
	logger.Info().
		Int64("saved", saved).
		Float64("avg_score", summary.AvgScore).
		Int("high", summary.High).
		Int("medium", summary.Medium).
		Int("low", summary.Low).
		Msg("rescore job completed")
	return nil
}
