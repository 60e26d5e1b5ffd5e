package jobs

import "time"

const (
	backoffBase = 30 * time.Second
	backoffMax  = 1 * time.Hour
)

// retryDelay returns how long to wait before retrying after the given attempt
// number (1-based). Quadratic growth, capped: 30s, 2m, 4m30s, ... up to 1h.
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase * time.Duration(attempt*attempt)
	if d > backoffMax || d < 0 {
		return backoffMax
	}
	return d
}
