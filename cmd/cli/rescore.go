package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/QTest-hq/riskplan/internal/api"
)

// rescoreCmd enqueues a batch rescoring job on the API server
func rescoreCmd() *cobra.Command {
	var (
		moduleIDs   []int64
		requestedBy string
	)

	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Queue a batch rescoring job",
		Long: `Queue a batch rescoring job. Workers score every candidate of the given
modules (all modules when none are given) and store the results.

Examples:
  riskplan rescore
  riskplan rescore --module-id 1 --module-id 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestedBy == "" {
				requestedBy = os.Getenv("USER")
			}
			body := api.CreateRescoreRequest{ModuleIDs: moduleIDs, RequestedBy: requestedBy}

			resp, err := postJSON(strings.TrimRight(apiURL, "/")+"/api/v1/jobs/rescore", body)
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(string(resp))
				return nil
			}

			var job api.JobResponse
			if err := json.Unmarshal(resp, &job); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			fmt.Printf("Rescore job queued\n")
			fmt.Printf("  ID:     %s\n", job.ID)
			fmt.Printf("  Status: %s\n", job.Status)
			if len(job.ModuleIDs) > 0 {
				fmt.Printf("  Modules: %v\n", job.ModuleIDs)
			}
			return nil
		},
	}

	addAPIFlags(cmd)
	cmd.Flags().Int64SliceVar(&moduleIDs, "module-id", nil, "Module id (repeatable, empty for all)")
	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "Requester recorded on the job")

	return cmd
}
