// Package render turns generated plan content into a protected artifact.
//
// FileRenderer writes the plan as a Markdown document sealed with
// XChaCha20-Poly1305 under a key derived from the requester's secret with
// Argon2id. The artifact reference handed back to the worker is the file
// path; Open reverses the sealing for anyone holding the secret.
package render
