package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/emplan-api/internal/api"
	"github.com/phrazzld/emplan-api/internal/api/middleware"
	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/mocks"
	"github.com/phrazzld/emplan-api/internal/service"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPayload = `{"organization_type":"school","occupants":420}`

// newAPI serves the real task handlers over an in-memory store.
func newAPI(t *testing.T) (*httptest.Server, *mocks.TaskStore) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tasks := mocks.NewTaskStore()
	submissions, err := service.NewSubmissionService(tasks, log, nil, nil)
	require.NoError(t, err)
	statuses, err := service.NewStatusService(tasks, log)
	require.NoError(t, err)

	h := api.NewTaskHandler(submissions, statuses, log)
	r := chi.NewRouter()
	r.Post("/api/tasks", h.SubmitTask)
	r.Get("/api/tasks/{id}", h.GetTask)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("OK")) })

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, tasks
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// setContext gives c and every subcommand ctx. cobra only copies the root
// context into subcommands whose context is still unset, so a reused
// command tree would otherwise keep the first run's context.
func setContext(c *cobra.Command, ctx context.Context) {
	c.SetContext(ctx)
	for _, sub := range c.Commands() {
		setContext(sub, ctx)
	}
}

// execute runs planctl with args and returns its output.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Setenv("HOME", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	setContext(rootCmd, ctx)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func writePayload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.json")
	require.NoError(t, os.WriteFile(path, []byte(testPayload), 0o600))
	return path
}

func TestSubmitAndStatus(t *testing.T) {
	srv, tasks := newAPI(t)

	out, err := execute(t, "", "submit", "--server", srv.URL, "--json",
		"--contact", "ops@school.test", "--subject", "Northside Elementary",
		"--payload", writePayload(t), "--secret", "Plan-Secret-42")
	require.NoError(t, err)

	var sub service.Submission
	require.NoError(t, json.Unmarshal([]byte(out), &sub))
	assert.Equal(t, domain.StatusPending, sub.Status)

	stored, err := tasks.Get(context.Background(), sub.TaskID)
	require.NoError(t, err)
	assert.JSONEq(t, testPayload, string(stored.InputPayload))

	out, err = execute(t, "", "status", "--server", srv.URL, sub.TaskID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Task: "+sub.TaskID.String())
	assert.Contains(t, out, "Status:    pending")
	assert.Contains(t, out, "Northside Elementary")
}

func TestSubmit_PayloadFromStdin(t *testing.T) {
	srv, _ := newAPI(t)

	out, err := execute(t, testPayload, "submit", "--server", srv.URL,
		"--contact", "ops@school.test", "--subject", "Northside Elementary",
		"--payload", "-", "--secret", "Plan-Secret-42")
	require.NoError(t, err)
	assert.Contains(t, out, "Submitted task: ")
	assert.Contains(t, out, "Status: pending")
}

func TestSubmit_SecretFromEnv(t *testing.T) {
	srv, tasks := newAPI(t)
	t.Setenv("PLANCTL_SECRET", "Env-Secret-42")

	out, err := execute(t, testPayload, "submit", "--server", srv.URL, "--json",
		"--contact", "ops@school.test", "--subject", "Northside Elementary", "--payload", "-")
	require.NoError(t, err)

	var sub service.Submission
	require.NoError(t, json.Unmarshal([]byte(out), &sub))
	stored, err := tasks.Get(context.Background(), sub.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "Env-Secret-42", stored.Secret)
}

func TestSubmit_ValidationErrorIsReported(t *testing.T) {
	srv, _ := newAPI(t)

	_, err := execute(t, testPayload, "submit", "--server", srv.URL,
		"--contact", "ops@school.test", "--subject", "Northside Elementary",
		"--payload", "-", "--secret", "weak")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server returned 400")
	assert.Contains(t, err.Error(), "must be at least 8 characters long")
	assert.Contains(t, err.Error(), "(field secret)")
}

func TestSubmit_InvalidPayload(t *testing.T) {
	srv, _ := newAPI(t)

	_, err := execute(t, "{not json", "submit", "--server", srv.URL,
		"--contact", "ops@school.test", "--subject", "X", "--payload", "-", "--secret", "Plan-Secret-42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload is not valid JSON")

	_, err = execute(t, "", "submit", "--server", srv.URL,
		"--contact", "ops@school.test", "--subject", "X", "--secret", "Plan-Secret-42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--payload is required")
}

func TestSubmit_Wait(t *testing.T) {
	srv, tasks := newAPI(t)

	// Complete every task the moment it is created.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			pending, _ := tasks.ListPendingFIFO(context.Background(), 0)
			for _, tk := range pending {
				now := time.Now().UTC()
				_ = tasks.Transition(context.Background(), tk.ID, domain.StatusPending, domain.StatusProcessing,
					domain.TransitionFields{At: now, LeaseOwner: "w", LeaseExpiresAt: now.Add(time.Minute)})
				_ = tasks.Transition(context.Background(), tk.ID, domain.StatusProcessing, domain.StatusCompleted,
					domain.TransitionFields{At: now, Result: &domain.ResultReference{ArtifactRef: "plans/" + tk.ID.String()}})
			}
		}
	}()

	out, err := execute(t, testPayload, "submit", "--server", srv.URL, "--wait", "--poll-interval", "10ms",
		"--contact", "ops@school.test", "--subject", "Northside Elementary",
		"--payload", "-", "--secret", "Plan-Secret-42")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:    completed")
	assert.Contains(t, out, "Artifact:  plans/")
}

func TestStatus_Errors(t *testing.T) {
	srv, _ := newAPI(t)

	_, err := execute(t, "", "status", "--server", srv.URL, "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid task id")

	_, err = execute(t, "", "status", "--server", srv.URL, "7d3f4c2e-8a51-4f0b-9c7e-2b1d6a9e0f13")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server returned 404: Task not found")
}

func TestHealth(t *testing.T) {
	srv, _ := newAPI(t)

	out, err := execute(t, "", "health", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Service is healthy")

	_, err = execute(t, "", "health", "--server", "http://127.0.0.1:1", "--timeout", "200ms")
	assert.Error(t, err)
}

func TestExecute_EachRunGetsItsOwnContext(t *testing.T) {
	srv, _ := newAPI(t)

	// The first run's context is cancelled when it returns.
	_, err := execute(t, "", "health", "--server", srv.URL)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		out, err := execute(t, "", "health", "--server", srv.URL)
		require.NoError(t, err, "run %d", i+2)
		assert.Contains(t, out, "Service is healthy")
	}
}

func TestToken(t *testing.T) {
	secret := strings.Repeat("k", 32)

	out, err := execute(t, "", "token", "--jwt-secret", secret, "--subject", "ops", "--ttl", "1h")
	require.NoError(t, err)

	auth, err := middleware.NewAuthMiddleware(secret)
	require.NoError(t, err)
	subject, err := auth.ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", subject)

	_, err = execute(t, "", "token")
	assert.Error(t, err)
}

func TestClient_SendsBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	_, err := execute(t, "", "health", "--server", srv.URL, "--token", "abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc.def.ghi", got)
}
