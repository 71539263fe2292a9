package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/emplan-api/internal/api"
	apiMiddleware "github.com/phrazzld/emplan-api/internal/api/middleware"
)

const openArtifactConcurrency = 4

// setupRouter creates the application router with all routes and middleware.
func (app *application) setupRouter() (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))
	r.Use(middleware.Recoverer)

	var authMiddleware *apiMiddleware.AuthMiddleware
	if app.config.Auth.JWTSecret != "" {
		var err error
		authMiddleware, err = apiMiddleware.NewAuthMiddleware(app.config.Auth.JWTSecret)
		if err != nil {
			return nil, err
		}
	} else {
		app.logger.Warn("auth.jwt_secret is not set, the task API is unauthenticated")
	}

	taskHandler := api.NewTaskHandler(app.submissions, app.statuses, app.logger)
	artifactHandler := api.NewArtifactHandler(app.artifacts, app.logger)

	r.Route("/api", func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware.Authenticate)
		}
		r.Post("/tasks", taskHandler.SubmitTask)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Get("/tasks/{id}/artifact", artifactHandler.DownloadArtifact)
		// Each open derives an Argon2id key, which is memory heavy.
		r.With(middleware.Throttle(openArtifactConcurrency)).
			Post("/tasks/{id}/artifact/open", artifactHandler.OpenArtifact)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})
	r.Method(http.MethodGet, "/metrics", app.metrics.Handler())

	return r, nil
}
