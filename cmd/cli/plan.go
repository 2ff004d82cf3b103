package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/QTest-hq/riskplan/internal/api"
	"github.com/QTest-hq/riskplan/internal/dispatch"
	"github.com/QTest-hq/riskplan/internal/plan"
	"github.com/QTest-hq/riskplan/internal/planner"
	"github.com/QTest-hq/riskplan/internal/selector"
)

func addAPIFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
}

func sessionURL(sessionID, suffix string) string {
	return fmt.Sprintf("%s/api/v1/sessions/%s/%s", strings.TrimRight(apiURL, "/"), sessionID, suffix)
}

// planCmd returns the plan parent command
func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate and edit test plans through the API server",
	}
	addAPIFlags(cmd)

	cmd.AddCommand(planGenerateCmd())
	cmd.AddCommand(planFilterCmd())
	cmd.AddCommand(planEditCmd("add", "Stage additions to the last plan"))
	cmd.AddCommand(planEditCmd("remove", "Stage removals from the last plan"))
	cmd.AddCommand(planActionCmd("save", "Save the last plan as a new version"))
	cmd.AddCommand(planActionCmd("discard", "Discard the staged edit"))
	cmd.AddCommand(planShowCmd())

	return cmd
}

func planGenerateCmd() *cobra.Command {
	var (
		sessionID    string
		prompt       string
		modules      []string
		priorities   []string
		testcaseType string
		count        int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a risk-ranked test plan",
		Long: `Generate a risk-ranked test plan.

Examples:
  riskplan plan generate --module Login --priority "Class 1" --count 5
  riskplan plan generate --session S1 --module Login --priority "Class 1" --prompt "focus on lockout, don't save"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := planner.GenerateRequest{
				Prompt: prompt,
				Request: selector.Request{
					Modules:      modules,
					Priorities:   priorities,
					TestcaseType: testcaseType,
					Requested:    count,
				},
			}

			url := strings.TrimRight(apiURL, "/") + "/api/v1/sessions/generate"
			if sessionID != "" {
				url = sessionURL(sessionID, "generate")
			}
			return runEnvelope(postJSON(url, req))
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID (empty starts a new session)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Request text used for change detection")
	cmd.Flags().StringSliceVarP(&modules, "module", "m", nil, "Module name (repeatable)")
	cmd.Flags().StringSliceVarP(&priorities, "priority", "p", nil, "Priority class (repeatable)")
	cmd.Flags().StringVarP(&testcaseType, "type", "t", "", "Test case type")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of test cases")
	cmd.MarkFlagRequired("module")

	return cmd
}

func planFilterCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "filter <message>",
		Short: "Filter test cases conversationally",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := api.FilterRequest{Message: strings.Join(args, " ")}
			return runEnvelope(postJSON(sessionURL(sessionID, "filter"), body))
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID")
	cmd.MarkFlagRequired("session")

	return cmd
}

func planEditCmd(action, short string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   action + " <id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return runEnvelope(postJSON(sessionURL(sessionID, action), api.EditRequest{IDs: ids}))
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID")
	cmd.MarkFlagRequired("session")

	return cmd
}

func planActionCmd(action, short string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnvelope(postJSON(sessionURL(sessionID, action), nil))
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID")
	cmd.MarkFlagRequired("session")

	return cmd
}

func planShowCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the session's last plan and staged edit",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := getJSON(sessionURL(sessionID, "plan"))
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(string(resp))
				return nil
			}

			var snap planner.Snapshot
			if err := json.Unmarshal(resp, &snap); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if snap.Plan == nil {
				fmt.Println("No plan in this session")
				return nil
			}
			printPlan(os.Stdout, snap.Plan)
			if snap.Staged != nil {
				fmt.Printf("\nStaged %s of %d test case(s), awaiting save or discard\n",
					snap.Staged.Kind, len(snap.Staged.Changed))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID")
	cmd.MarkFlagRequired("session")

	return cmd
}

func versionsCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "versions [number]",
		Short: "List saved versions of a session, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := sessionURL(sessionID, "versions")
			if len(args) == 1 {
				if _, err := strconv.Atoi(args[0]); err != nil {
					return fmt.Errorf("invalid version number %q", args[0])
				}
				url += "/" + args[0]
			}

			resp, err := getJSON(url)
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(string(resp))
				return nil
			}

			if len(args) == 1 {
				var v plan.Version
				if err := json.Unmarshal(resp, &v); err != nil {
					return fmt.Errorf("failed to parse response: %w", err)
				}
				tcs, err := v.TestCases()
				if err != nil {
					return err
				}
				fmt.Printf("Version %d: %s (%s)\n\n", v.Number, v.Name, v.Status)
				printTestCases(os.Stdout, tcs)
				return nil
			}

			var metas []plan.VersionMeta
			if err := json.Unmarshal(resp, &metas); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			printVersions(os.Stdout, metas)
			return nil
		},
	}
	addAPIFlags(cmd)
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID")
	cmd.MarkFlagRequired("session")

	return cmd
}

// runEnvelope prints an operation response
func runEnvelope(body []byte, err error) error {
	if err != nil && len(body) == 0 {
		return err
	}
	if jsonOutput {
		fmt.Println(string(body))
		return err
	}

	env, decodeErr := decodeEnvelope(body)
	if decodeErr != nil {
		if err != nil {
			return err
		}
		return decodeErr
	}
	printEnvelope(os.Stdout, env)
	if env.Status != dispatch.StatusOK {
		return fmt.Errorf("%s failed", env.Operation)
	}
	return nil
}

func printEnvelope(out io.Writer, env *dispatch.Envelope) {
	if env.SessionID != "" {
		fmt.Fprintf(out, "Session: %s\n", env.SessionID)
	}
	fmt.Fprintln(out, env.Content)
	if env.Warning != "" {
		fmt.Fprintf(out, "Warning: %s\n", env.Warning)
	}
	for _, s := range env.Suggestions {
		fmt.Fprintf(out, "  - %s\n", s)
	}
	if env.TCSData != nil && env.TCSData.Plan != nil {
		fmt.Fprintln(out)
		printPlan(out, env.TCSData.Plan)
	}
	if env.AskToSave {
		fmt.Fprintln(out, "\nRun 'riskplan plan save' to keep these changes or 'riskplan plan discard' to drop them.")
	}
}

func printPlan(out io.Writer, p *plan.Plan) {
	fmt.Fprintf(out, "%s\n", p.Name)
	if p.Description != "" {
		fmt.Fprintf(out, "%s\n", p.Description)
	}
	fmt.Fprintln(out)
	printTestCases(out, p.TestCases)
}

func printTestCases(out io.Writer, tcs []plan.TestCase) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODULE\tPRIORITY\tSCORE\tMODE")
	for _, tc := range tcs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f\t%s\n",
			tc.ID, truncate(tc.Name, 40), tc.Module, tc.Priority, tc.Score, tc.Mode)
	}
	w.Flush()
}

func printVersions(out io.Writer, metas []plan.VersionMeta) {
	if len(metas) == 0 {
		fmt.Fprintln(out, "No saved versions")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tTESTCASES\tCREATED")
	for _, m := range metas {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			m.Number, truncate(m.Name, 40), m.Status, m.Actual, m.CreatedAt.Format("Jan 02 15:04"))
	}
	w.Flush()
}

// parseIDs reads positive test case ids; commas inside an argument separate ids too
func parseIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid test case id %q", part)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one test case id is required")
	}
	return ids, nil
}
