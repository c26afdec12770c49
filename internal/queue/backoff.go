package queue

import "time"

// maxBackoff caps the retry delay regardless of attempt count.
const maxBackoff = 60 * time.Minute

// BackoffDelay returns the delay before a job that has made the given
// number of attempts becomes claimable again: min(2^attempts, 60) minutes.
// Attempts 0..5 yield 1, 2, 4, 8, 16, 32 minutes, then the cap.
func BackoffDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// 2^6 minutes already exceeds the cap; avoid shifting past it.
	if attempts >= 6 {
		return maxBackoff
	}
	delay := time.Duration(1<<attempts) * time.Minute
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}
