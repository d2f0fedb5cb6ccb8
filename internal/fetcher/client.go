// Package fetcher talks to the external identity and geo-IP web services.
// Every call returns either a typed value or a *Failure describing why the
// service could not answer.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"playerident/internal/chain"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-retryablehttp"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("fetcher")

const (
	userAgent   = "playerident/1.0"
	maxBodySize = 1 << 20
)

type Kind int

const (
	// Transient covers transport errors, timeouts, unexpected statuses and
	// malformed bodies.
	Transient Kind = iota
	NotFound
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case RateLimited:
		return "rate limited"
	default:
		return "transient failure"
	}
}

// Failure is the error returned by every fetcher. Status holds the HTTP
// status, or a provider-specific error code, when one was received.
type Failure struct {
	Kind   Kind
	Source string
	Status int
	Err    error
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(f.Source)
	b.WriteString(": ")
	b.WriteString(f.Kind.String())
	if f.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", f.Status)
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is lets a NotFound failure satisfy errors.Is(err, chain.ErrNotFound)
func (f *Failure) Is(target error) bool {
	return target == chain.ErrNotFound && f.Kind == NotFound
}

// Client is the HTTP client shared by all fetchers
type Client struct {
	http  *http.Client
	clock clock.Clock
}

// NewClient creates a client whose requests time out after timeout. Server
// errors and connection failures are retried up to retryMax times; rate-limit
// statuses never are. A nil clk uses the wall clock.
func NewClient(timeout time.Duration, retryMax int, clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.New()
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = timeout
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{}

	return &Client{
		http:  rc.StandardClient(),
		clock: clk,
	}
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden) {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Now is the time used when marking services rate limited
func (c *Client) Now() time.Time {
	return c.clock.Now()
}

// GetJSON fetches url and decodes the JSON body into v. 404 and 204 are
// reported as NotFound, other non-200 statuses as Transient with Status set.
func (c *Client) GetJSON(ctx context.Context, source, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Failure{Kind: Transient, Source: source, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return &Failure{Kind: Transient, Source: source, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &Failure{Kind: Transient, Source: source, Status: resp.StatusCode, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return &Failure{Kind: NotFound, Source: source, Status: resp.StatusCode}
	default:
		return &Failure{Kind: Transient, Source: source, Status: resp.StatusCode, Err: statusError(resp.StatusCode, body)}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return &Failure{Kind: Transient, Source: source, Status: resp.StatusCode, Err: fmt.Errorf("cannot decode response: %w", err)}
	}
	return nil
}

func statusError(status int, body []byte) error {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return errors.New(http.StatusText(status))
	}
	return errors.New(text)
}

// checkRateLimit converts a failure carrying the provider's rate-limit status
// into a RateLimited failure and suspends the service. Any other status is
// left alone so a working service is never idled by an unrelated error.
func checkRateLimit(err error, status int, mark func()) error {
	var f *Failure
	if errors.As(err, &f) && f.Status != 0 && f.Status == status {
		mark()
		log.Warnw("Service signalled rate limiting", "source", f.Source, "status", f.Status)
		return &Failure{Kind: RateLimited, Source: f.Source, Status: f.Status, Err: f.Err}
	}
	return err
}

// leveledLogger routes retryablehttp's logging into go-log
type leveledLogger struct{}

func (leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	log.Errorw(msg, keysAndValues...)
}

func (leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debugw(msg, keysAndValues...)
}

func (leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	log.Debugw(msg, keysAndValues...)
}

func (leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	log.Warnw(msg, keysAndValues...)
}
