package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the emplan-api service",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body []byte
		if err := newClient().do(cmd.Context(), "GET", "/health", nil, &body); err != nil {
			return fmt.Errorf("service is unhealthy: %w", err)
		}

		result := map[string]string{"status": "healthy", "server": serverURL}
		return printOutput(cmd.OutOrStdout(), result, func(w io.Writer) {
			fmt.Fprintf(w, "Service is healthy (%s)\n", serverURL)
		})
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
