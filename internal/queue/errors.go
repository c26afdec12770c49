package queue

import "errors"

// Repository errors.
var (
	ErrJobNotFound = errors.New("notification job not found")

	// ErrNoEligibleJobs is returned by ClaimNext when no pending job is
	// currently claimable. Not a failure condition.
	ErrNoEligibleJobs = errors.New("no eligible jobs")

	// ErrAlreadyTerminal is returned when an operation targets a job in a
	// terminal state (sent, delivered, failed, cancelled).
	ErrAlreadyTerminal = errors.New("job is in a terminal state")

	// ErrDuplicateIdempotencyKey is returned by Insert when the unique
	// index on idempotency_key rejects the row: another enqueue won.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")
)

// TransportError describes a failed delivery attempt against the outbound
// messaging gateway. Retryable is diagnostic only: the queue retries every
// transport failure identically up to max_attempts, it never fast-fails
// on permanent-looking errors.
type TransportError struct {
	Code      string
	Message   string
	Retryable bool
	Raw       []byte // raw gateway response body, if any
}

func (e *TransportError) Error() string {
	if e.Code != "" {
		return "transport error " + e.Code + ": " + e.Message
	}
	return "transport error: " + e.Message
}

// IsRetryable returns whether the gateway considered the failure transient.
func (e *TransportError) IsRetryable() bool { return e.Retryable }
