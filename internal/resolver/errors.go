package resolver

import (
	"errors"
	"fmt"
)

// ErrMissingCacheEntry matches every *MissingCacheEntryError
var ErrMissingCacheEntry = errors.New("missing cache entry")

// MissingCacheEntryError is returned by the pure cache reads. The caller
// decides whether a network query is worth it.
type MissingCacheEntryError struct {
	Key string
}

func (e *MissingCacheEntryError) Error() string {
	return fmt.Sprintf("no cache entry for %s", e.Key)
}

func (e *MissingCacheEntryError) Is(target error) bool {
	return target == ErrMissingCacheEntry
}

// PlayerNotFoundError ends a resolution once every stage has failed. Err
// carries the failures of the individual stages.
type PlayerNotFoundError struct {
	Subject string
	Err     error
}

func (e *PlayerNotFoundError) Error() string {
	return fmt.Sprintf("player %s not found", e.Subject)
}

func (e *PlayerNotFoundError) Unwrap() error {
	return e.Err
}

// NoGeoIPError ends a geo-IP lookup once every provider is exhausted or disabled
type NoGeoIPError struct {
	Address string
	Err     error
}

func (e *NoGeoIPError) Error() string {
	return fmt.Sprintf("no geo-ip information available for %s", e.Address)
}

func (e *NoGeoIPError) Unwrap() error {
	return e.Err
}
