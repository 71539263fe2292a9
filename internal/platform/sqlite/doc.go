// Package sqlite implements the task store and notification outbox on a
// single SQLite database file using the pure-Go modernc.org/sqlite driver.
//
// Timestamps are stored as UTC Unix nanoseconds. The connection runs in WAL
// mode with synchronous=FULL so every committed write survives a crash, and
// transactions begin IMMEDIATE so compare-and-swap updates never interleave.
package sqlite
