package generation

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Request is the input of a single generation call.
type Request struct {
	TaskID      uuid.UUID
	SubjectName string
	Payload     json.RawMessage
}

// Generator produces plan content from a task's input payload.
// Implementations must honour ctx cancellation and deadlines.
type Generator interface {
	// Generate returns the generated content, or an error wrapping one of the
	// package sentinels (see errors.go).
	Generate(ctx context.Context, req Request) (string, error)
}
