package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(opts *globalOptions) *cobra.Command {
	var file string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a topology file builds",
		Long: `Compile a topology file and report the first declaration error.

Exit status is 2 for an invalid declaration and 3 for a network, role
or resource that does not resolve.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			g, err := opts.compile(cmd.Context(), file, logger)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid: %d resources, %d edges, %d outputs\n",
				file, len(g.Resources()), len(g.Edges()), len(g.Outputs))
			fmt.Fprintf(cmd.OutOrStdout(), "  fingerprint: %s\n", g.Fingerprint())
			return nil
		},
	}

	validateCmd.Flags().StringVarP(&file, "file", "f", "", "Path to the topology file (.yaml, .yml or .hcl)")
	_ = validateCmd.MarkFlagRequired("file")
	return validateCmd
}
