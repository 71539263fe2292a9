package render

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrMissingSecret is returned when an artifact would be left unprotected.
	ErrMissingSecret = errors.New("protection secret is required")

	// ErrEmptyContent is returned when there is nothing to render.
	ErrEmptyContent = errors.New("content is empty")

	// ErrInvalidArtifact is returned when an artifact is not a sealed plan or
	// the secret does not open it.
	ErrInvalidArtifact = errors.New("artifact cannot be opened")

	// ErrArtifactNotFound is returned when a reference names no stored artifact.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Request carries everything needed to render one task's artifact.
type Request struct {
	TaskID  uuid.UUID
	Title   string
	Content string
	Secret  string
}

// Renderer produces a protected artifact and returns a reference to it.
type Renderer interface {
	Render(ctx context.Context, req Request) (string, error)
}

// Store reads back artifacts written by a Renderer. The bytes stay sealed.
type Store interface {
	ReadArtifact(ctx context.Context, ref string) ([]byte, error)
}
