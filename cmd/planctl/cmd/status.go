package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show the status of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := uuid.Parse(args[0]); err != nil {
			return fmt.Errorf("invalid task id %q", args[0])
		}

		var view domain.TaskView
		if err := newClient().do(cmd.Context(), "GET", "/api/tasks/"+args[0], nil, &view); err != nil {
			return fmt.Errorf("failed to get task status: %w", err)
		}

		return printOutput(cmd.OutOrStdout(), view, func(w io.Writer) { printTask(w, &view) })
	},
}

func printTask(w io.Writer, view *domain.TaskView) {
	fmt.Fprintf(w, "Task: %s\n", view.TaskID)
	fmt.Fprintf(w, "  Subject:   %s\n", view.SubjectName)
	fmt.Fprintf(w, "  Status:    %s\n", view.Status)
	fmt.Fprintf(w, "  Created:   %s\n", view.CreatedAt.Format(time.RFC3339))
	if view.StartedAt != nil {
		fmt.Fprintf(w, "  Started:   %s\n", view.StartedAt.Format(time.RFC3339))
	}
	if view.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed: %s\n", view.CompletedAt.Format(time.RFC3339))
	}
	if view.Result != nil {
		fmt.Fprintf(w, "  Artifact:  %s\n", view.Result.ArtifactRef)
	}
	if view.ErrorMessage != "" {
		fmt.Fprintf(w, "  Error:     %s\n", view.ErrorMessage)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
