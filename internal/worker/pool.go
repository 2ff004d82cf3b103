package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	rpnats "github.com/QTest-hq/riskplan/internal/nats"
	"github.com/QTest-hq/riskplan/internal/scoring"
)

// WorkerType selects which workers a pool runs
type WorkerType string

const (
	WorkerRescore WorkerType = "rescore"
	WorkerAudit   WorkerType = "audit"
	WorkerAll     WorkerType = "all"
)

// Worker is the interface all workers must implement
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

// PoolConfig configures the worker pool
type PoolConfig struct {
	WorkerType string
	NATS       *rpnats.Client
	Candidates CandidateSource
	Scores     ScoreSink
	Engine     *scoring.Engine

	// Fetchers replace NATS consumers per kind
	Fetchers map[Kind]Fetcher
}

// Pool manages a pool of workers
type Pool struct {
	workerType WorkerType
	workers    []Worker
	nats       *rpnats.Client
	cfg        PoolConfig
}

// NewPool creates a new worker pool
func NewPool(cfg PoolConfig) (*Pool, error) {
	p := &Pool{
		workerType: WorkerType(cfg.WorkerType),
		nats:       cfg.NATS,
		cfg:        cfg,
	}

	if err := p.initWorkers(); err != nil {
		return nil, fmt.Errorf("failed to initialize workers: %w", err)
	}

	return p, nil
}

func (p *Pool) initWorkers() error {
	switch p.workerType {
	case WorkerAll:
		if err := p.addRescore(); err != nil {
			return err
		}
		p.addAudit()
	case WorkerRescore:
		return p.addRescore()
	case WorkerAudit:
		p.addAudit()
	default:
		return fmt.Errorf("unknown worker type: %s", p.workerType)
	}
	return nil
}

func (p *Pool) base(kind Kind, stream, consumer string) *BaseWorker {
	return NewBaseWorker(BaseWorkerConfig{
		Kind:     kind,
		Stream:   stream,
		Consumer: consumer,
		NATS:     p.nats,
		Fetcher:  p.cfg.Fetchers[kind],
	})
}

func (p *Pool) addRescore() error {
	if p.cfg.Candidates == nil || p.cfg.Scores == nil || p.cfg.Engine == nil {
		return fmt.Errorf("rescore worker needs candidates, score sink and engine")
	}
	base := p.base(KindRescore, rpnats.StreamJobs, rpnats.ConsumerRescore)
	p.workers = append(p.workers, NewRescoreWorker(base, p.cfg.Candidates, p.cfg.Scores, p.cfg.Engine))
	return nil
}

func (p *Pool) addAudit() {
	base := p.base(KindAudit, rpnats.StreamEvents, rpnats.ConsumerVersionAudit)
	p.workers = append(p.workers, NewAuditWorker(base))
}

// Workers returns the configured workers
func (p *Pool) Workers() []Worker {
	return p.workers
}

// Run starts all workers and blocks until context is cancelled
func (p *Pool) Run(ctx context.Context) error {
	if len(p.workers) == 0 {
		return fmt.Errorf("no workers configured")
	}

	if p.nats != nil && p.nats.IsConnected() {
		if err := p.nats.SetupStreams(ctx); err != nil {
			return fmt.Errorf("failed to setup NATS streams: %w", err)
		}
		log.Info().Msg("NATS streams configured")
	}

	errCh := make(chan error, len(p.workers))

	for _, w := range p.workers {
		go func(worker Worker) {
			log.Info().Str("worker", worker.Name()).Msg("starting worker")
			if err := worker.Run(ctx); err != nil {
				errCh <- fmt.Errorf("worker %s failed: %w", worker.Name(), err)
			}
		}(w)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("context cancelled, stopping workers")
		return nil
	case err := <-errCh:
		return err
	}
}
