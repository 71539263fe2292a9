package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a plan generation request",
	Long: `Submit a plan generation request. The payload is a JSON document read
from a file, or from standard input when --payload is "-".

Example:
  planctl submit --contact ops@acme.test --subject "Acme Manufacturing" \
    --payload site.json --secret 'Plan-Secret-42' --wait`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		contact, _ := cmd.Flags().GetString("contact")
		subject, _ := cmd.Flags().GetString("subject")
		payloadPath, _ := cmd.Flags().GetString("payload")
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("poll-interval")

		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = viper.GetString("secret")
		}

		payload, err := readPayload(payloadPath, cmd.InOrStdin())
		if err != nil {
			return err
		}

		c := newClient()
		var sub service.Submission
		err = c.do(cmd.Context(), "POST", "/api/tasks", service.SubmitRequest{
			RequesterContact: contact,
			SubjectName:      subject,
			InputPayload:     payload,
			Secret:           secret,
		}, &sub)
		if err != nil {
			return fmt.Errorf("failed to submit task: %w", err)
		}

		out := cmd.OutOrStdout()
		if !wait {
			return printOutput(out, sub, func(w io.Writer) {
				fmt.Fprintf(w, "Submitted task: %s\n", sub.TaskID)
				fmt.Fprintf(w, "  Status: %s\n", sub.Status)
			})
		}

		view, err := waitForTask(cmd.Context(), c, sub.TaskID.String(), interval)
		if err != nil {
			return err
		}
		if err := printOutput(out, view, func(w io.Writer) { printTask(w, view) }); err != nil {
			return err
		}
		if view.Status == domain.StatusFailed {
			return fmt.Errorf("task %s failed", view.TaskID)
		}
		return nil
	},
}

// readPayload loads the JSON payload from path, or from stdin for "-".
func readPayload(path string, stdin io.Reader) (json.RawMessage, error) {
	if path == "" {
		return nil, errors.New("--payload is required")
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// waitForTask polls the task until it reaches a terminal status.
func waitForTask(ctx context.Context, c *client, id string, interval time.Duration) (*domain.TaskView, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var view domain.TaskView
		if err := c.do(ctx, "GET", "/api/tasks/"+id, nil, &view); err != nil {
			return nil, fmt.Errorf("failed to get task status: %w", err)
		}
		if view.Status.IsTerminal() {
			return &view, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().String("contact", "", "requester contact email address")
	submitCmd.Flags().String("subject", "", "name of the organization the plan is for")
	submitCmd.Flags().String("payload", "", `JSON payload file, or "-" for stdin`)
	submitCmd.Flags().String("secret", "", "secret protecting the rendered plan (or PLANCTL_SECRET)")
	submitCmd.Flags().Bool("wait", false, "poll until the task completes or fails")
	submitCmd.Flags().Duration("poll-interval", 2*time.Second, "status poll interval with --wait")
}
