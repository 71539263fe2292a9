package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/api/middleware"
	"github.com/phrazzld/emplan-api/internal/config"
	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/mocks"
	"github.com/phrazzld/emplan-api/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const submitBody = `{
	"requester_contact": "ops@acme.test",
	"subject_name": "Acme Manufacturing",
	"input_payload": {"organization_type": "factory"},
	"secret": "Plan-Secret-42"
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, LogLevel: "debug", ShutdownTimeout: 5 * time.Second},
		Database: config.DatabaseConfig{URL: "sqlite://" + filepath.Join(dir, "tasks.db"), MaxConns: 1},
		LLM:      config.LLMConfig{Provider: "gemini", ModelName: "test-model"},
		Queue: config.QueueConfig{
			WorkerCount:       2,
			PollInterval:      10 * time.Millisecond,
			ErrorBackoff:      10 * time.Millisecond,
			GenerationTimeout: time.Second,
			RenderTimeout:     time.Second,
			LeaseDuration:     5 * time.Second,
			SweepInterval:     time.Second,
			MaxAttempts:       3,
		},
		Artifacts: config.ArtifactsConfig{Dir: filepath.Join(dir, "artifacts")},
		Notify: config.NotifyConfig{
			Driver:            "log",
			FromAddress:       "plans@emplan.test",
			RelayPollInterval: 10 * time.Millisecond,
			RelayBatchSize:    10,
			MaxAttempts:       3,
			BaseBackoff:       time.Second,
			MaxBackoff:        time.Minute,
			SendTimeout:       time.Second,
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, gen *mocks.Generator) *application {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := openStorage(ctx, cfg.Database, log)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	pending, err := st.PendingMigrations(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)

	app, err := newApplication(ctx, cfg, log, st, gen)
	require.NoError(t, err)
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.cleanup(stopCtx)
	})
	return app
}

func TestSqlitePath(t *testing.T) {
	t.Parallel()

	path, ok := sqlitePath("sqlite://data/tasks.db")
	assert.True(t, ok)
	assert.Equal(t, "data/tasks.db", path)

	_, ok = sqlitePath("sqlite://")
	assert.False(t, ok)

	_, ok = sqlitePath("postgres://app@localhost/emplan")
	assert.False(t, ok)
}

func TestApplication_SubmitToCompletion(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	gen := &mocks.Generator{Content: "# Plan\n\n1. Evacuate via the north exit."}
	app := newTestApp(t, cfg, gen)

	router, err := app.setupRouter()
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	defer srv.Close()
	require.NoError(t, app.start(context.Background()))

	resp, err := http.Post(srv.URL+"/api/tasks", "application/json", strings.NewReader(submitBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var sub struct {
		TaskID uuid.UUID `json:"task_id"`
		Status string    `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sub))
	assert.Equal(t, "pending", sub.Status)

	var view struct {
		Status string `json:"status"`
		Result *struct {
			ArtifactRef string `json:"artifact_ref"`
		} `json:"result_reference"`
	}
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/api/tasks/" + sub.TaskID.String())
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK || json.NewDecoder(r.Body).Decode(&view) != nil {
			return false
		}
		return view.Status == "completed"
	}, 5*time.Second, 20*time.Millisecond)

	require.NotNil(t, view.Result)
	plan, err := render.Open(view.Result.ArtifactRef, "Plan-Secret-42")
	require.NoError(t, err)
	assert.Contains(t, string(plan), "Evacuate via the north exit.")
	assert.Contains(t, string(plan), "Acme Manufacturing")

	artifactURL := srv.URL + "/api/tasks/" + sub.TaskID.String() + "/artifact"
	sealedResp, err := http.Get(artifactURL)
	require.NoError(t, err)
	defer sealedResp.Body.Close()
	require.Equal(t, http.StatusOK, sealedResp.StatusCode)
	sealed, err := io.ReadAll(sealedResp.Body)
	require.NoError(t, err)
	fromDownload, err := render.Unseal(sealed, "Plan-Secret-42")
	require.NoError(t, err)
	assert.Equal(t, plan, fromDownload)

	openResp, err := http.Post(artifactURL+"/open", "application/json",
		strings.NewReader(`{"secret": "Plan-Secret-42"}`))
	require.NoError(t, err)
	defer openResp.Body.Close()
	require.Equal(t, http.StatusOK, openResp.StatusCode)
	opened, err := io.ReadAll(openResp.Body)
	require.NoError(t, err)
	assert.Equal(t, plan, opened)

	require.Eventually(t, func() bool {
		n, err := app.storage.outbox.GetNotification(context.Background(), sub.TaskID, domain.NotificationCompleted)
		return err == nil && n.Status == domain.NotificationDelivered
	}, 5*time.Second, 20*time.Millisecond)

	stored, err := app.storage.tasks.Get(context.Background(), sub.TaskID)
	require.NoError(t, err)
	assert.Empty(t, stored.Secret, "the secret is cleared once the task is terminal")
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, testConfig(t), &mocks.Generator{Content: "plan"})
	router, err := app.setupRouter()
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	router.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(submitBody)))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "emplan_tasks_submitted_total 1")
}

func TestRouter_Auth(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = strings.Repeat("s", 32)
	app := newTestApp(t, cfg, &mocks.Generator{Content: "plan"})
	router, err := app.setupRouter()
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := middleware.SignToken(cfg.Auth.JWTSecret, "ops-dashboard", time.Now(), time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/tasks/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code, "health is never behind auth")
}

func TestNewGenerator_UnknownProvider(t *testing.T) {
	t.Parallel()
	_, err := newGenerator(context.Background(), config.LLMConfig{Provider: "carrier-pigeon"}, slog.Default())
	assert.Error(t, err)
}
