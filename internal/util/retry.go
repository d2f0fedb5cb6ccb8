package util

import (
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("util")

const (
	maxRetries = 3
	baseDelay  = 100 * time.Millisecond
)

// IsLockError reports whether err is SQLite's busy/locked condition
func IsLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// RetryOnLock retries the given function if it fails with a database lock error
func RetryOnLock(operation func() error) error {
	_, err := RetryOnLockWithResult(func() (struct{}, error) {
		return struct{}{}, operation()
	})
	return err
}

// RetryOnLockWithResult retries the given function if it fails with a database lock error
// and returns the result along with any error
func RetryOnLockWithResult[T any](operation func() (T, error)) (T, error) {
	var result T
	var err error

	for i := 0; i < maxRetries; i++ {
		result, err = operation()
		if err == nil {
			return result, nil
		}
		if !IsLockError(err) {
			return result, err
		}
		// Exponential backoff: 100ms, 200ms, 400ms
		delay := baseDelay * time.Duration(1<<i)
		log.Warnw("Database locked, retrying", "delay", delay, "attempt", i+1)
		time.Sleep(delay)
	}

	// If we've exhausted all retries, return the last result and error
	return result, err
}
