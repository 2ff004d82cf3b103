package worker

import (
	"context"
	"testing"

	"github.com/QTest-hq/riskplan/internal/scoring"
)

func rescoreDeps(t *testing.T) PoolConfig {
	store := seededStore(t)
	return PoolConfig{
		Candidates: store,
		Scores:     store,
		Engine:     scoring.NewEngine(scoring.NewMemoryRPN(0), nil),
	}
}

func TestNewPool_AllWorkers(t *testing.T) {
	cfg := rescoreDeps(t)
	cfg.WorkerType = "all"

	pool, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	if len(pool.Workers()) != 2 {
		t.Errorf("len(workers) = %d, want 2", len(pool.Workers()))
	}
}

func TestNewPool_SingleWorker(t *testing.T) {
	tests := []struct {
		workerType string
		wantPrefix string
	}{
		{"rescore", "rescore-"},
		{"audit", "audit-"},
	}

	for _, tt := range tests {
		t.Run(tt.workerType, func(t *testing.T) {
			cfg := rescoreDeps(t)
			cfg.WorkerType = tt.workerType

			pool, err := NewPool(cfg)
			if err != nil {
				t.Fatalf("NewPool failed: %v", err)
			}
			if len(pool.Workers()) != 1 {
				t.Fatalf("len(workers) = %d, want 1", len(pool.Workers()))
			}
			name := pool.Workers()[0].Name()
			if len(name) <= len(tt.wantPrefix) || name[:len(tt.wantPrefix)] != tt.wantPrefix {
				t.Errorf("worker name = %s, want prefix %s", name, tt.wantPrefix)
			}
		})
	}
}

func TestNewPool_UnknownType(t *testing.T) {
	_, err := NewPool(PoolConfig{WorkerType: "mutation"})
	if err == nil {
		t.Error("NewPool should reject unknown worker types")
	}
}

func TestNewPool_RescoreNeedsDeps(t *testing.T) {
	_, err := NewPool(PoolConfig{WorkerType: "rescore"})
	if err == nil {
		t.Error("NewPool should require rescore dependencies")
	}

	// the audit worker needs nothing beyond NATS
	if _, err := NewPool(PoolConfig{WorkerType: "audit"}); err != nil {
		t.Errorf("audit pool failed: %v", err)
	}
}

func TestPool_RunWithFetchers(t *testing.T) {
	cfg := rescoreDeps(t)
	cfg.WorkerType = "audit"
	cfg.Fetchers = map[Kind]Fetcher{KindAudit: &fakeFetcher{}}

	pool, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pool.Run(ctx); err != nil {
		t.Errorf("Run on a cancelled context returned %v", err)
	}
}

func TestPool_RunWithoutNATS(t *testing.T) {
	pool, err := NewPool(PoolConfig{WorkerType: "audit"})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	if err := pool.Run(context.Background()); err == nil {
		t.Error("Run should fail when a worker has no consumer")
	}
}
