// Package app assembles the planning core from configuration
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/changedetect"
	"github.com/QTest-hq/riskplan/internal/config"
	"github.com/QTest-hq/riskplan/internal/db"
	"github.com/QTest-hq/riskplan/internal/llm"
	"github.com/QTest-hq/riskplan/internal/localstore"
	"github.com/QTest-hq/riskplan/internal/modify"
	"github.com/QTest-hq/riskplan/internal/plan"
	"github.com/QTest-hq/riskplan/internal/planner"
	"github.com/QTest-hq/riskplan/internal/reasoning"
	"github.com/QTest-hq/riskplan/internal/scoring"
	"github.com/QTest-hq/riskplan/internal/selector"
	"github.com/QTest-hq/riskplan/internal/session"
	"github.com/QTest-hq/riskplan/internal/versions"
	"github.com/QTest-hq/riskplan/internal/worker"
)

// Store is the persistence surface shared by the postgres and sqlite backends
type Store interface {
	selector.Repository
	versions.Persistence
	scoring.RPNStore
	worker.ScoreSink
	ImportMetrics(ctx context.Context, metrics []plan.Metric) error
}

// Backend is an opened store and its lifecycle hooks
type Backend struct {
	Name    string
	Store   Store
	migrate func(ctx context.Context) error
	health  func(ctx context.Context) error
	close   func()
}

// Migrate applies the backend schema
func (b *Backend) Migrate(ctx context.Context) error {
	return b.migrate(ctx)
}

// HealthCheck verifies the backend is reachable
func (b *Backend) HealthCheck(ctx context.Context) error {
	return b.health(ctx)
}

// Close releases the backend
func (b *Backend) Close() {
	b.close()
}

// OpenBackend opens the store selected by cfg.StoreBackend. The sqlite and
// memory backends apply their schema on open; postgres needs Migrate.
func OpenBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		conn, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Name:    cfg.StoreBackend,
			Store:   db.NewStore(conn),
			migrate: conn.Migrate,
			health:  conn.HealthCheck,
			close:   conn.Close,
		}, nil

	case config.BackendSQLite, config.BackendMemory:
		path := cfg.SQLitePath
		if cfg.StoreBackend == config.BackendMemory {
			path = localstore.MemoryPath
		}
		s, err := localstore.Open(path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("backend", cfg.StoreBackend).Str("path", s.Path()).Msg("opened local store")
		return &Backend{
			Name:    cfg.StoreBackend,
			Store:   s,
			migrate: s.Migrate,
			health:  s.HealthCheck,
			close:   func() { s.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
}

// Engine builds the scoring engine over the store's persisted max RPN
func Engine(store scoring.RPNStore, policy *config.Policy) *scoring.Engine {
	return scoring.NewEngine(scoring.NewStoreRPN(store), policy.PriorityWeights)
}

// Reasoning builds the LLM-backed reasoning service
func Reasoning(cfg *config.Config) (reasoning.Service, error) {
	router, err := llm.NewRouter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM router: %w", err)
	}
	return reasoning.NewLLMService(router, cfg.ReasoningTimeout), nil
}

// PlannerDeps are the inputs of NewPlanner
type PlannerDeps struct {
	Config    *config.Config
	Policy    *config.Policy
	Store     Store
	Reasoning reasoning.Service
	// Publisher announces committed versions; nil disables events
	Publisher versions.Publisher
}

// NewPlanner wires a planner and returns it with its session store
func NewPlanner(d PlannerDeps) (*planner.Planner, *session.Store) {
	sessions := session.NewStore(d.Config.SessionTTL)
	engine := Engine(d.Store, d.Policy)

	p := planner.New(planner.Deps{
		Sessions:     sessions,
		Detector:     changedetect.New(d.Reasoning, d.Policy.NoSavePhrases, d.Policy.ChangeDetection.DefaultOnFailure),
		Selector:     selector.New(d.Store, engine, d.Reasoning, selector.OptionsFromPolicy(d.Policy)),
		Versions:     versions.NewStore(d.Store, d.Publisher),
		Modifier:     modify.New(d.Store, d.Reasoning),
		Repo:         d.Store,
		Reasoning:    d.Reasoning,
		DefaultCount: d.Policy.Selection.DefaultCount,
	})
	return p, sessions
}
