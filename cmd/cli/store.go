package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/QTest-hq/riskplan/internal/app"
	"github.com/QTest-hq/riskplan/internal/config"
	"github.com/QTest-hq/riskplan/internal/plan"
	"github.com/QTest-hq/riskplan/internal/scoring"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			b, _, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Migrate(ctx); err != nil {
				return err
			}
			fmt.Printf("Schema applied to %s store\n", b.Name)
			return nil
		},
	}
}

// seedFile is the YAML layout accepted by the seed command
type seedFile struct {
	TestCases []seedCase `yaml:"testcases"`
}

type seedCase struct {
	Name          string  `yaml:"name"`
	Module        string  `yaml:"module"`
	Priority      string  `yaml:"priority"`
	Type          string  `yaml:"type"`
	Likelihood    int     `yaml:"likelihood"`
	Impact        int     `yaml:"impact"`
	Failures      int     `yaml:"failures"`
	TotalRuns     int     `yaml:"total_runs"`
	FailureRate   float64 `yaml:"failure_rate"`
	DirectImpact  bool    `yaml:"direct_impact"`
	Defects       int     `yaml:"defects"`
	Severity      int     `yaml:"severity"`
	FeatureSize   int     `yaml:"feature_size"`
	ExecutionTime float64 `yaml:"execution_time"`
}

// parseSeed decodes a seed document into metric records
func parseSeed(data []byte) ([]plan.Metric, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(f.TestCases) == 0 {
		return nil, fmt.Errorf("seed file has no testcases")
	}

	metrics := make([]plan.Metric, 0, len(f.TestCases))
	for i, c := range f.TestCases {
		if c.Name == "" || c.Module == "" {
			return nil, fmt.Errorf("testcase %d: name and module are required", i+1)
		}
		metrics = append(metrics, plan.Metric{
			Name:          c.Name,
			Module:        c.Module,
			Priority:      plan.NormalizePriority(c.Priority),
			Type:          c.Type,
			Likelihood:    c.Likelihood,
			Impact:        c.Impact,
			Failures:      c.Failures,
			TotalRuns:     c.TotalRuns,
			FailureRate:   c.FailureRate,
			DirectImpact:  c.DirectImpact,
			Defects:       c.Defects,
			Severity:      c.Severity,
			FeatureSize:   c.FeatureSize,
			ExecutionTime: c.ExecutionTime,
		})
	}
	return metrics, nil
}

func seedCmd() *cobra.Command {
	var filePath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import test cases and metrics from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("failed to read seed file: %w", err)
			}
			metrics, err := parseSeed(data)
			if err != nil {
				return err
			}

			ctx := context.Background()
			b, _, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Store.ImportMetrics(ctx, metrics); err != nil {
				return err
			}
			log.Info().Int("testcases", len(metrics)).Str("backend", b.Name).Msg("seed imported")
			fmt.Printf("Imported %d test cases\n", len(metrics))
			return nil
		},
	}

	cmd.Flags().StringVarP(&filePath, "file", "f", "", "Seed YAML file")
	cmd.MarkFlagRequired("file")

	return cmd
}

func scoreCmd() *cobra.Command {
	var (
		modules      []string
		priorities   []string
		testcaseType string
		limit        int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score candidate test cases locally",
		Long: `Score candidate test cases without the reasoning service.

Examples:
  riskplan score --module Login --priority "Class 1"
  riskplan score --module Login --module Payments --limit 10 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			b, cfg, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			policy, err := config.LoadPolicy(cfg.PolicyPath)
			if err != nil {
				return err
			}

			results, err := scoreCandidates(ctx, b.Store, app.Engine(b.Store, policy), modules, priorities, testcaseType)
			if err != nil {
				return err
			}
			if limit > 0 && len(results) > limit {
				results = results[:limit]
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"results": results,
					"summary": scoring.Summarize(results),
				})
			}
			printScores(os.Stdout, results)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&modules, "module", "m", nil, "Module name (repeatable, empty for all)")
	cmd.Flags().StringSliceVarP(&priorities, "priority", "p", nil, "Priority class (repeatable)")
	cmd.Flags().StringVarP(&testcaseType, "type", "t", "", "Test case type")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most n results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

// scoreCandidates resolves module names and scores the matching candidates
func scoreCandidates(ctx context.Context, store app.Store, engine *scoring.Engine, modules, priorities []string, testcaseType string) ([]scoring.Result, error) {
	var moduleIDs []int64
	if len(modules) > 0 {
		resolved, err := store.ResolveModules(ctx, modules)
		if err != nil {
			return nil, err
		}
		if len(resolved) == 0 {
			return nil, plan.ErrNoMatchingModules
		}
		for _, m := range resolved {
			moduleIDs = append(moduleIDs, m.ID)
		}
	}

	candidates, err := store.FetchCandidates(ctx, moduleIDs, priorities, testcaseType)
	if err != nil {
		return nil, err
	}
	maxExec, err := store.MaxExecutionTime(ctx)
	if err != nil {
		return nil, err
	}
	return engine.Score(ctx, candidates, maxExec)
}

func printScores(out io.Writer, results []scoring.Result) {
	if len(results) == 0 {
		fmt.Fprintln(out, "No candidates matched")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODULE\tPRIORITY\tRPN\tTOTAL")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.0f\t%.2f\n",
			r.ID, truncate(r.Name, 40), r.Module, r.Priority, r.RPN, r.Total)
	}
	w.Flush()

	s := scoring.Summarize(results)
	fmt.Fprintf(out, "\n%d scored, avg %.2f (min %.2f, max %.2f); high %d, medium %d, low %d\n",
		s.Total, s.AvgScore, s.MinScore, s.MaxScore, s.High, s.Medium, s.Low)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
