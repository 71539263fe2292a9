package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact [task-id]",
	Short: "Download the sealed plan of a completed task",
	Long: `Download the sealed plan of a completed task. The file stays encrypted
and can be read later with "planctl open".

Example:
  planctl artifact 7d3f4c2e-8a51-4f0b-9c7e-2b1d6a9e0f13 -o plan.md.sealed`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := uuid.Parse(args[0]); err != nil {
			return fmt.Errorf("invalid task id %q", args[0])
		}
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = args[0] + ".md.sealed"
		}

		var sealed []byte
		if err := newClient().do(cmd.Context(), "GET", "/api/tasks/"+args[0]+"/artifact", nil, &sealed); err != nil {
			return fmt.Errorf("failed to download artifact: %w", err)
		}
		if err := os.WriteFile(output, sealed, 0o600); err != nil {
			return fmt.Errorf("failed to write artifact: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Saved sealed plan to %s (%d bytes)\n", output, len(sealed))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(artifactCmd)

	artifactCmd.Flags().StringP("output", "o", "", "destination file (default <task-id>.md.sealed)")
}
