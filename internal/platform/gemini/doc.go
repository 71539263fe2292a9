// Package gemini implements generation.Generator on top of Google's Gemini API
// (google.golang.org/genai).
//
// The adapter renders the prompt through a generation.PromptBuilder, sends it
// with the shared system instruction and returns the concatenated text of the
// first candidate. Transient API failures are retried through a
// generation.RetryPolicy; safety blocks and empty responses are permanent.
package gemini
