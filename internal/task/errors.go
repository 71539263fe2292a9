package task

import "errors"

var (
	// ErrGeneration wraps failures of the generation collaborator.
	ErrGeneration = errors.New("generation failed")

	// ErrRendering wraps failures of the artifact renderer.
	ErrRendering = errors.New("rendering failed")
)
