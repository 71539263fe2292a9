// Package config handles configuration loading, parsing, and validation
// from environment variables (EMPLAN_ prefix), an optional .env file and an
// optional config.yaml. It provides type-safe access to the settings of the
// HTTP server, the task store, the worker loop and the notification outbox.
package config
