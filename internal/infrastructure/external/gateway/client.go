// Package gateway implements the Klypt sync gateway API client.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
	"github.com/klypt-hub/klypt-class-hub/pkg/circuitbreaker"
	"github.com/klypt-hub/klypt-class-hub/pkg/retry"
)

// apiPrefix is prepended to every gateway path.
const apiPrefix = "/api/v1"

// ErrConflict is returned when the gateway rejects a push because the remote
// version of the class is newer. The caller resolves it by pulling the remote
// document and applying last-writer-wins.
var ErrConflict = shared.NewDomainError("gateway", "Push", shared.ErrConcurrentModification, "remote version is newer")

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the gateway API client.
type ClientConfig struct {
	// BaseURL is the gateway base URL (scheme and host, no path)
	BaseURL string

	// APIKey authenticates this device against the gateway
	APIKey string

	// DeviceID identifies this device in the changes feed
	DeviceID string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiterConfig for API rate limiting
	RateLimiterConfig RateLimiterConfig

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           30 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the sync gateway API client. Every request goes through a
// circuit breaker, a retrier with exponential backoff, and a local rate
// limiter, so callers only ever see the final outcome.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
	mapper      *Mapper
}

// NewClient creates a new gateway API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	logger := config.Logger

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:      logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker: circuitbreaker.GatewayBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("gateway circuit state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		}),
		retrier: retry.GatewayRetrier(),
		mapper:  NewMapper(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLASS OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetClass fetches the remote version of a single class document.
// Returns classroom.ErrClassNotFound if the gateway has no such class.
func (c *Client) GetClass(ctx context.Context, classID string) (*classroom.ClassRecord, error) {
	if classID == "" {
		return nil, classroom.ErrInvalidClassID
	}

	path := fmt.Sprintf("/classes/%s", url.PathEscape(classID))

	var response APIResponse[ClassDocumentDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		var apiErr *APIErrorDTO
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return nil, fmt.Errorf("get class %s: %w", classID, classroom.ErrClassNotFound)
		}
		return nil, fmt.Errorf("get class %s: %w", classID, err)
	}

	if !response.Success {
		return nil, fmt.Errorf("gateway error: %s", response.Error)
	}

	rec, err := c.mapper.RecordFromDTO(&response.Data)
	if err != nil {
		return nil, fmt.Errorf("get class %s: %w", classID, err)
	}

	return rec, nil
}

// PushResult is the decoded acknowledgement of a pushed class.
type PushResult struct {
	// ClassID is the class that was pushed
	ClassID string

	// Accepted indicates the gateway stored the pushed version
	Accepted bool

	// Seq is the feed position assigned to the accepted change
	Seq string
}

// PushClass uploads the local version of a class to the gateway.
// Returns ErrConflict when the remote version is newer; the caller should
// pull the remote document and resolve by last-writer-wins.
func (c *Client) PushClass(ctx context.Context, rec *classroom.ClassRecord) (*PushResult, error) {
	if rec == nil || rec.ID == "" {
		return nil, classroom.ErrInvalidClassID
	}

	path := fmt.Sprintf("/classes/%s", url.PathEscape(rec.ID))
	body := c.mapper.RecordToDTO(rec)

	var response APIResponse[PushResultDTO]
	if err := c.doRequest(ctx, http.MethodPut, path, body, &response); err != nil {
		var apiErr *APIErrorDTO
		if errors.As(err, &apiErr) && apiErr.IsConflict() {
			return nil, fmt.Errorf("push class %s: %w", rec.ID, ErrConflict)
		}
		return nil, fmt.Errorf("push class %s: %w", rec.ID, err)
	}

	if !response.Success {
		return nil, fmt.Errorf("gateway error: %s", response.Error)
	}

	result := &PushResult{
		ClassID:  response.Data.ClassID,
		Accepted: response.Data.Accepted,
		Seq:      response.Data.Seq,
	}
	if result.ClassID == "" {
		result.ClassID = rec.ID
	}

	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CHANGES FEED OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetChanges pulls one page of the changes feed starting after cursor.
// An empty cursor pulls from the beginning of the feed. Invalid feed
// entries are skipped and logged; one corrupt entry must not stall sync.
func (c *Client) GetChanges(ctx context.Context, cursor string, limit int) (*ChangesPage, error) {
	params := url.Values{}
	if cursor != "" {
		params.Set("since", cursor)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	path := "/classes/changes"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var response APIResponse[ChangesPageDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, fmt.Errorf("get changes: %w", err)
	}

	if !response.Success {
		return nil, fmt.Errorf("gateway error: %s", response.Error)
	}

	page, mapErrs := c.mapper.ChangesFromDTO(&response.Data)
	if len(mapErrs) > 0 {
		c.logger.Warn("skipped invalid changes feed entries",
			"count", len(mapErrs), "first", mapErrs[0].Error())
	}

	return page, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs an HTTP request with rate limiting, circuit breaking,
// and retries. One full retry sequence counts as a single circuit breaker
// outcome.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.rateLimiter.Allow(ctx); err != nil {
				return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
			}

			err := c.doSingleRequest(ctx, method, path, body, result)
			if err == nil {
				return nil
			}

			// Feed gateway throttling back into the local limiter
			var rateLimitErr *RateLimitError
			if errors.As(err, &rateLimitErr) {
				c.rateLimiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
			}

			if c.isRetryable(err) {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		})
	})
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	fullURL := c.config.BaseURL + apiPrefix + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if c.config.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.config.DeviceID)
	}

	if c.config.Debug {
		c.logger.Debug("gateway request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", shared.ErrGatewayTimeout, err)
		}
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Handle rate limiting
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{
			RetryAfter: retryAfter,
			Message:    "gateway rate limit exceeded",
		}
	}

	// Server-side failures are transient from the device's point of view
	if resp.StatusCode >= 500 {
		msg := http.StatusText(resp.StatusCode)
		var apiErr APIErrorDTO
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return fmt.Errorf("%w: status %d: %s", shared.ErrGatewayUnavailable, resp.StatusCode, msg)
	}

	// Client-side rejections carry a structured error body
	if resp.StatusCode >= 400 {
		var apiErr APIErrorDTO
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
			apiErr.HTTPStatus = resp.StatusCode
			return &apiErr
		}
		return fmt.Errorf("%w: status %d", shared.ErrGatewayRejected, resp.StatusCode)
	}

	// Unmarshal response
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrGatewayInvalidResponse, err)
		}
	}

	return nil
}

// isRetryable checks if an error is worth another attempt.
func (c *Client) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Rate limit errors are retryable after backoff
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	// Structured 4xx rejections are permanent
	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) {
		return false
	}

	if errors.Is(err, shared.ErrServiceUnavailable) || errors.Is(err, shared.ErrTimeout) {
		return true
	}

	// Network errors are generally retryable
	return containsAny(err.Error(), "timeout", "connection refused", "temporary", "reset", "EOF")
}

// containsAny checks if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// IsHealthy checks if the gateway is reachable.
// Bypasses the circuit breaker so it can probe while the circuit is open.
func (c *Client) IsHealthy(ctx context.Context) bool {
	var response APIResponse[map[string]interface{}]
	err := c.doSingleRequest(ctx, http.MethodGet, "/health", nil, &response)
	return err == nil && response.Success
}

// ClientStatus is a snapshot of the client's internal protection state.
type ClientStatus struct {
	RateLimiter   RateLimiterStatus
	BreakerState  string
	BreakerCounts circuitbreaker.Counts
	IsHealthy     bool
}

// Status returns the current status of the client.
func (c *Client) Status(ctx context.Context) ClientStatus {
	return ClientStatus{
		RateLimiter:   c.rateLimiter.Status(),
		BreakerState:  c.breaker.State().String(),
		BreakerCounts: c.breaker.Counts(),
		IsHealthy:     c.IsHealthy(ctx),
	}
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.breaker.Reset()
}
