package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/nvandessel/pcosc/internal/store"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored runs",
		Long: `List, show and delete runs persisted in .pcosc/runs.db.

Examples:
  pcosc runs list
  pcosc runs show <id>
  pcosc runs show <id> --population osc1 --json
  pcosc runs delete <id>`,
	}

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsDeleteCmd(),
	)
	return cmd
}

func openRunStore(cmd *cobra.Command) (*store.SQLiteStore, error) {
	root, _ := cmd.Flags().GetString("root")
	st, err := store.NewSQLiteStore(root)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	return st, nil
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			st, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(context.Background(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"runs":  runs,
					"count": len(runs),
				})
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No stored runs.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tSTEPS\tT\tSTARTED\tLABEL")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%.6g\t%s\t%s\n",
					r.ID, r.Status, r.Steps, r.FinalTime, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Label)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 for all)")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run and its recorded populations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			population, _ := cmd.Flags().GetString("population")
			ctx := context.Background()

			st, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			pops, err := st.Populations(ctx, run.ID)
			if err != nil {
				return err
			}
			var samples []store.Sample
			if population != "" {
				if samples, err = st.Samples(ctx, run.ID, population); err != nil {
					return err
				}
				if len(samples) == 0 {
					return fmt.Errorf("run %s has no samples for population %q", run.ID, population)
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				result := map[string]interface{}{
					"run":         run,
					"populations": pops,
				}
				if samples != nil {
					result["samples"] = samples
				}
				return json.NewEncoder(out).Encode(result)
			}

			fmt.Fprintf(out, "Run %s\n", run.ID)
			if run.Label != "" {
				fmt.Fprintf(out, "  label:       %s\n", run.Label)
			}
			fmt.Fprintf(out, "  status:      %s\n", run.Status)
			fmt.Fprintf(out, "  dt:          %g\n", run.DT)
			fmt.Fprintf(out, "  duration:    %g\n", run.Duration)
			fmt.Fprintf(out, "  steps:       %d\n", run.Steps)
			fmt.Fprintf(out, "  final time:  %.6g\n", run.FinalTime)
			fmt.Fprintf(out, "  started:     %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
			if run.Error != "" {
				fmt.Fprintf(out, "  error:       %s\n", run.Error)
			}
			fmt.Fprintf(out, "  populations: %v\n", pops)

			if samples != nil {
				fmt.Fprintln(out)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STEP\tT\tVALUES")
				for _, s := range samples {
					fmt.Fprintf(tw, "%d\t%.6g\t%v\n", s.Step, s.Time, s.Values)
				}
				return tw.Flush()
			}
			return nil
		},
	}
	cmd.Flags().String("population", "", "Print the recorded samples of this population")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a run and its samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			st, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteRun(context.Background(), args[0]); err != nil {
				if errors.Is(err, store.ErrRunNotFound) {
					return fmt.Errorf("no run with id %s", args[0])
				}
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"deleted": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}
}
