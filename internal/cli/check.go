package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dwpipe/internal/projectcheck"
)

func checkCmd(_ *env) *cobra.Command {
	var (
		dir    string
		asJSON bool
	)

	c := &cobra.Command{
		Use:   "check",
		Short: "Check pyproject, compose, pre-commit and CI workflow fixtures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := projectcheck.Run(dir)
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), r); err != nil {
					return err
				}
			} else {
				for _, f := range r.Findings {
					fmt.Fprintln(cmd.OutOrStdout(), f.String())
				}
			}
			if r.Failed() {
				return fmt.Errorf("%d of %d checks failed", len(r.Failures()), len(r.Findings))
			}
			return nil
		},
	}
	c.Flags().StringVarP(&dir, "dir", "d", ".", "project root")
	c.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return c
}
