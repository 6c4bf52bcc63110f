package sqlite

import (
	"math/rand"
	"strings"
	"time"
)

// RetryConfig tunes the busy-write backoff. SQLite allows one writer at a
// time; when two agents hit the store at once the loser sees "database is
// locked" and simply tries again a little later.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	JitterPct  float64 // fraction of the delay, e.g. 0.25
}

// DefaultRetryConfig is 7 attempts starting at 50ms with 25% jitter, which
// keeps the worst case under ~10s of total waiting.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 7,
		BaseDelay:  50 * time.Millisecond,
		JitterPct:  0.25,
	}
}

// RetryOnDBLock runs fn, retrying lock contention with the default config.
func RetryOnDBLock(fn func() error) error {
	return retryLocked(DefaultRetryConfig(), fn, time.Sleep)
}

// RetryOnDBLockWithConfig is RetryOnDBLock with an explicit config.
func RetryOnDBLockWithConfig(cfg RetryConfig, fn func() error) error {
	return retryLocked(cfg, fn, time.Sleep)
}

// retryLocked takes the sleep function as a parameter so tests can observe
// the backoff schedule without waiting it out.
func retryLocked(cfg RetryConfig, fn func() error, sleepFn func(time.Duration)) error {
	err := fn()
	if err == nil {
		return nil
	}
	if !isDBLocked(err) {
		return err
	}

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		delay := cfg.BaseDelay * (1 << (attempt - 1))
		jitter := time.Duration(float64(delay) * rand.Float64() * cfg.JitterPct)
		sleepFn(delay + jitter)

		err = fn()
		if err == nil {
			return nil
		}
		if !isDBLocked(err) {
			return err
		}
	}
	return err
}

func isDBLocked(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "database is locked")
}
