// Package worker consumes JetStream messages: batch rescoring jobs and the
// version audit trail.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/metrics"
	rpnats "github.com/QTest-hq/riskplan/internal/nats"
)

// ErrPermanent marks a message that will never succeed; it is terminated
// instead of redelivered.
var ErrPermanent = errors.New("permanent failure")

// Kind names what a worker consumes
type Kind string

const (
	KindRescore Kind = "rescore"
	KindAudit   Kind = "audit"
)

// Fetcher pulls messages from a consumer. jetstream.Consumer satisfies it.
type Fetcher interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
}

// Handler processes one message body
type Handler func(ctx context.Context, data []byte) error

// BaseWorker runs the fetch, handle, acknowledge loop shared by all workers
type BaseWorker struct {
	workerID   string
	kind       Kind
	stream     string
	consumer   string
	nats       *rpnats.Client
	fetcher    Fetcher
	handler    Handler
	pollPeriod time.Duration
	jobTimeout time.Duration
}

// BaseWorkerConfig configures a base worker
type BaseWorkerConfig struct {
	WorkerID string
	Kind     Kind
	Stream   string
	Consumer string
	NATS     *rpnats.Client
	// Fetcher replaces the consumer lookup on NATS
	Fetcher Fetcher
	Handler Handler
}

// NewBaseWorker creates a new base worker
func NewBaseWorker(cfg BaseWorkerConfig) *BaseWorker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = fmt.Sprintf("%s-%s", cfg.Kind, uuid.New().String()[:8])
	}

	return &BaseWorker{
		workerID:   workerID,
		kind:       cfg.Kind,
		stream:     cfg.Stream,
		consumer:   cfg.Consumer,
		nats:       cfg.NATS,
		fetcher:    cfg.Fetcher,
		handler:    cfg.Handler,
		pollPeriod: 5 * time.Second,
		jobTimeout: 5 * time.Minute,
	}
}

// Run fetches and handles messages until ctx is cancelled
func (w *BaseWorker) Run(ctx context.Context) error {
	logger := log.With().
		Str("worker_id", w.workerID).
		Str("kind", string(w.kind)).
		Logger()

	if w.handler == nil {
		return fmt.Errorf("worker %s has no handler", w.workerID)
	}

	if w.fetcher == nil {
		if w.nats == nil || !w.nats.IsConnected() {
			return rpnats.ErrNotConnected
		}
		consumer, err := w.nats.Consumer(ctx, w.stream, w.consumer)
		if err != nil {
			return err
		}
		w.fetcher = consumer
		logger.Info().Str("consumer", w.consumer).Msg("connected to NATS consumer")
	}

	logger.Info().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker stopping")
			return nil
		default:
			if err := w.processNext(ctx); err != nil {
				logger.Error().Err(err).Msg("error processing message")
				// back off so a broken connection does not spin
				select {
				case <-ctx.Done():
				case <-time.After(w.pollPeriod):
				}
			}
		}
	}
}

// processNext fetches at most one message and handles it
func (w *BaseWorker) processNext(ctx context.Context) error {
	msgs, err := w.fetcher.Fetch(1, jetstream.FetchMaxWait(w.pollPeriod))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, jetstream.ErrNoMessages) {
			return nil
		}
		return fmt.Errorf("failed to fetch from NATS: %w", err)
	}

	for msg := range msgs.Messages() {
		w.processMessage(ctx, msg)
	}

	if err := msgs.Error(); err != nil &&
		!errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return err
	}
	return nil
}

// processMessage runs the handler and settles the message: ack on success,
// term on a permanent failure, nak otherwise.
func (w *BaseWorker) processMessage(ctx context.Context, msg jetstream.Msg) {
	logger := log.With().
		Str("worker_id", w.workerID).
		Str("subject", msg.Subject()).
		Logger()

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	done := make(chan struct{})
	go w.keepInProgress(jobCtx, msg, done)

	err := w.handler(jobCtx, msg.Data())
	close(done)

	var outcome string
	switch {
	case err == nil:
		outcome = "ack"
		if ackErr := msg.Ack(); ackErr != nil {
			logger.Warn().Err(ackErr).Msg("failed to ack message")
		}
	case errors.Is(err, ErrPermanent):
		outcome = "term"
		logger.Error().Err(err).Msg("dropping message")
		if termErr := msg.Term(); termErr != nil {
			logger.Warn().Err(termErr).Msg("failed to terminate message")
		}
	default:
		outcome = "nak"
		logger.Error().Err(err).Msg("message failed, requesting redelivery")
		if nakErr := msg.Nak(); nakErr != nil {
			logger.Warn().Err(nakErr).Msg("failed to nak message")
		}
	}
	metrics.JobProcessed(string(w.kind), outcome)
}

// keepInProgress resets the ack timer while the handler runs
func (w *BaseWorker) keepInProgress(ctx context.Context, msg jetstream.Msg, done chan struct{}) {
	ticker := time.NewTicker(w.jobTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := msg.InProgress(); err != nil {
				log.Warn().Err(err).Str("worker_id", w.workerID).Msg("failed to extend ack deadline")
			}
		}
	}
}

// Name returns the worker's unique ID
func (w *BaseWorker) Name() string {
	return w.workerID
}

// Kind returns what the worker consumes
func (w *BaseWorker) Kind() Kind {
	return w.kind
}

// SetPollPeriod sets the fetch wait
func (w *BaseWorker) SetPollPeriod(d time.Duration) {
	w.pollPeriod = d
}

// SetJobTimeout bounds one handler call
func (w *BaseWorker) SetJobTimeout(d time.Duration) {
	w.jobTimeout = d
}
