package sprest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tonimelisma/sharepoint-go/internal/sperr"
)

// Retry and backoff constants.
const (
	maxRetries       = 5
	baseBackoff      = 1 * time.Second
	maxBackoff       = 60 * time.Second
	backoffFactor    = 2.0
	jitterFraction   = 0.25
	defaultUserAgent = "sharepoint-go/0.1"
)

// acceptJSON requests the compact JSON wire shape without OData metadata.
const acceptJSON = "application/json;odata=nometadata"

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer per
// Go convention "accept interfaces, return structs"; internal/auth
// provides the real implementation.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP client for one site's REST API. It handles request
// construction, authentication, retry with exponential backoff, optional
// client-side throttling, and error classification.
type Client struct {
	baseURL    string // https://{tenant}.sharepoint.com/sites/{site}
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string
	limiter    *rate.Limiter

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithUserAgent overrides the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRateLimit throttles outgoing requests to at most rps per second.
// Zero or negative rps disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// NewClient creates a REST client for the site at siteURL, typically
// "https://{tenant}.sharepoint.com/sites/{site}".
func NewClient(siteURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    trimTrailingSlash(siteURL),
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  defaultUserAgent,
		sleepFunc:  timeSleep,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}

	return s
}

// Do executes an API request with a JSON body (or none). The path is
// appended to the client's site URL. The caller is responsible for
// closing the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	contentType := ""
	if body != nil {
		contentType = "application/json;odata=nometadata"
	}

	return c.do(ctx, method, path, body, contentType, -1)
}

// DoRaw executes an API request with a non-JSON body, e.g. file content.
// contentLength must be the exact body length; it becomes the request's
// Content-Length header.
func (c *Client) DoRaw(ctx context.Context, method, path string, body io.Reader, contentType string, contentLength int64) (*http.Response, error) {
	return c.do(ctx, method, path, body, contentType, contentLength)
}

// do is the retry core shared by Do and DoRaw. Request bodies must
// implement io.Seeker to be replayed; a non-seekable body makes the first
// failure final.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, contentLength int64) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int
	for {
		if err := c.wait(ctx); err != nil {
			return nil, fmt.Errorf("sharepoint: request canceled: %w", err)
		}

		resp, err := c.doOnce(ctx, method, url, body, contentType, contentLength)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("sharepoint: request canceled: %w", ctx.Err())
			}

			// Network errors are retryable when the body can be replayed.
			if attempt < maxRetries && rewindBody(body) {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("sharepoint: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("%w: %s %s failed after %d attempts: %v", sperr.ErrTransient, method, path, attempt+1, err)
		}

		// 2xx — success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries && rewindBody(body) {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("sharepoint: request canceled: %w", err)
			}

			attempt++

			continue
		}

		reqErr := &sperr.RequestError{
			StatusCode: resp.StatusCode,
			RequestID:  requestID(resp),
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, reqErr
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url string, body io.Reader, contentType string, contentLength int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if body != nil && contentLength >= 0 {
		req.ContentLength = contentLength
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", acceptJSON)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

// wait blocks until the rate limiter admits another request.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}

	return c.limiter.Wait(ctx)
}

// rewindBody seeks a request body back to the start so the request can be
// replayed. A nil body trivially rewinds.
func rewindBody(body io.Reader) bool {
	if body == nil {
		return true
	}

	s, ok := body.(io.Seeker)
	if !ok {
		return false
	}

	_, err := s.Seek(0, io.SeekStart)

	return err == nil
}

// requestID extracts the service-assigned correlation ID, if any.
func requestID(resp *http.Response) string {
	if id := resp.Header.Get("SPRequestGuid"); id != "" {
		return id
	}

	return resp.Header.Get("request-id")
}

// retryBackoff returns the backoff duration for a retryable response.
// Throttling responses (429 and 503) carry a Retry-After header which
// takes precedence over computed backoff.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	// Apply ±25% jitter.
	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
