// Package generation defines the boundary between the worker loop and the
// language-model services that write plan content. Adapters for Gemini and
// OpenAI-compatible endpoints live under internal/platform and implement the
// Generator interface; this package holds the shared prompt builder, retry
// policy and error taxonomy.
package generation
