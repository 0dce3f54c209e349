package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"dwpipe/internal/model"
)

func pipelinesCmd(e *env) *cobra.Command {
	var asJSON bool

	c := &cobra.Command{
		Use:   "pipelines",
		Short: "List registered pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			infos := make([]model.PipelineInfo, 0)
			for _, p := range a.Pipelines.List() {
				infos = append(infos, p.Info())
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), infos)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSINK\tSTEPS\tDESCRIPTION")
			for _, p := range infos {
				fmt.Fprintf(tw, "%s\t%s://%s/%s\t%d\t%s\n",
					p.ID, p.Sink.Backend, p.Sink.Container, p.Sink.Layer, len(p.Steps), p.Description)
			}
			return tw.Flush()
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return c
}

func validateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate every registered pipeline (no network)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Pipelines.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d pipelines\n", len(a.Pipelines.List()))
			return nil
		},
	}
}

func runCmd(e *env) *cobra.Command {
	var params []string

	c := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Run a pipeline in the foreground and print the recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := parseParams(params)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := e.app(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			run, exec, err := a.Runner.Start(ctx, args[0], kv)
			if err != nil {
				return err
			}
			runErr := exec(ctx)

			recorded, err := a.Runs.FindByID(ctx, run.ID)
			if err != nil {
				return errors.Join(runErr, err)
			}
			if err := writeJSON(cmd.OutOrStdout(), recorded); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("run %s failed: %w", run.ID, runErr)
			}
			return nil
		},
	}
	c.Flags().StringArrayVarP(&params, "param", "p", nil, "run parameter as key=value (repeatable)")
	return c
}

func parseParams(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
