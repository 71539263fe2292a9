// Package postgres provides PostgreSQL implementations of the task store and
// notification outbox defined in the internal/store package. It talks to the
// database through database/sql with the pgx stdlib driver and ships its
// schema as embedded goose migrations.
package postgres
