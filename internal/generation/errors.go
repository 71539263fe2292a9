package generation

import "errors"

// Sentinels shared by every Generator backend. Backends wrap them so the
// worker can tell a retryable outage from a permanent refusal.
var (
	ErrGenerationFailed = errors.New("plan generation failed")
	ErrInvalidInput     = errors.New("payload cannot be turned into a prompt")
	ErrInvalidResponse  = errors.New("model returned no usable plan")

	// ErrContentBlocked is permanent: resubmitting the same payload will be
	// refused again.
	ErrContentBlocked = errors.New("model refused the request")

	// ErrTransientFailure marks rate limits, timeouts and 5xx responses.
	// Only errors wrapping it are retried.
	ErrTransientFailure = errors.New("temporary model outage")

	ErrInvalidConfig = errors.New("invalid generator configuration")
)
