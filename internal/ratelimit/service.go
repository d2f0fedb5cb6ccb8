// Package ratelimit tracks external services that can tell the caller to
// back off. A service that signalled rate limiting is left alone until its
// fixed cooldown has elapsed.
package ratelimit

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"playerident/models"

	"github.com/benbjohnson/clock"
)

const (
	subjectPlaceholder = "{subject}"
	keyPlaceholder     = "{key}"
)

// ErrRateLimited is returned when a request URL is asked for while the
// service is cooling down.
var ErrRateLimited = errors.New("service is rate limited")

// Service is one rate-limited external endpoint
type Service struct {
	name     string
	template string
	cooldown time.Duration
	clock    clock.Clock

	// unix nanoseconds; zero means available
	unavailableUntil atomic.Int64
}

// New creates a service. A nil clk uses the wall clock.
func New(name, template string, cooldown time.Duration, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		name:     name,
		template: template,
		cooldown: cooldown,
		clock:    clk,
	}
}

func (s *Service) Name() string {
	return s.name
}

func (s *Service) Cooldown() time.Duration {
	return s.cooldown
}

// Available reports whether the service may be queried at now
func (s *Service) Available(now time.Time) bool {
	return now.UnixNano() >= s.unavailableUntil.Load()
}

// MarkRateLimited suspends the service for its cooldown starting at now.
// Concurrent calls are harmless; the last one wins.
func (s *Service) MarkRateLimited(now time.Time) {
	s.unavailableUntil.Store(now.Add(s.cooldown).UnixNano())
}

// AvailableAt returns when the service may be queried again, or the zero
// time if it is not cooling down.
func (s *Service) AvailableAt() time.Time {
	until := s.unavailableUntil.Load()
	if until == 0 || !time.Unix(0, until).After(s.clock.Now()) {
		return time.Time{}
	}
	return time.Unix(0, until)
}

// RequestURL expands the URL template for subject. It fails with
// ErrRateLimited while the service is cooling down, which is how callers
// learn to skip it.
func (s *Service) RequestURL(subject, key string) (string, error) {
	if !s.Available(s.clock.Now()) {
		return "", fmt.Errorf("%s: %w", s.name, ErrRateLimited)
	}
	u := strings.ReplaceAll(s.template, subjectPlaceholder, url.PathEscape(subject))
	u = strings.ReplaceAll(u, keyPlaceholder, url.QueryEscape(key))
	return u, nil
}

// Status summarizes the service for operators
func (s *Service) Status() models.ServiceStatus {
	status := models.ServiceStatus{
		Name:      s.name,
		Available: s.Available(s.clock.Now()),
		Cooldown:  s.cooldown.String(),
	}
	if at := s.AvailableAt(); !at.IsZero() {
		status.AvailableAgain = &at
	}
	return status
}
