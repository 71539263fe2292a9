package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/phrazzld/emplan-api/internal/render"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var openCmd = &cobra.Command{
	Use:   "open [artifact-file]",
	Short: "Decrypt a sealed plan locally",
	Long: `Decrypt a sealed plan with the secret given at submission. The plan is
written to standard output unless --output is set.

Example:
  planctl open plan.md.sealed --secret 'Plan-Secret-42' -o plan.md`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = viper.GetString("secret")
		}
		if secret == "" {
			return errors.New("--secret is required")
		}

		plan, err := render.Open(args[0], secret)
		if err != nil {
			if errors.Is(err, render.ErrInvalidArtifact) {
				return fmt.Errorf("cannot open %s: wrong secret or not a sealed plan", args[0])
			}
			return fmt.Errorf("failed to open artifact: %w", err)
		}

		output, _ := cmd.Flags().GetString("output")
		if output == "" || output == "-" {
			_, err = cmd.OutOrStdout().Write(plan)
			return err
		}
		if err := os.WriteFile(output, plan, 0o600); err != nil {
			return fmt.Errorf("failed to write plan: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote plan to %s\n", output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(openCmd)

	openCmd.Flags().String("secret", "", "secret given at submission (or PLANCTL_SECRET)")
	openCmd.Flags().StringP("output", "o", "", `destination file (default stdout, or "-")`)
}
