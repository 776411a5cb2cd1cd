package outbox

import "time"

// BackoffPolicy controls retry pacing and the terminal attempt count.
type BackoffPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff matches the relay defaults: 2s doubling to a 60s ceiling,
// terminal after 8 attempts.
var DefaultBackoff = BackoffPolicy{
	Base:        2 * time.Second,
	Cap:         60 * time.Second,
	MaxAttempts: 8,
}

// Delay returns the wait before the next try after `attempts` failures:
// min(Cap, Base * 2^(attempts-1)).
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	if attempts <= 1 {
		return p.Base
	}
	delay := p.Base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.Cap || delay <= 0 {
			return p.Cap
		}
	}
	if delay > p.Cap {
		return p.Cap
	}
	return delay
}

// Exhausted reports whether a row with this many attempts is out of retries.
func (p BackoffPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
