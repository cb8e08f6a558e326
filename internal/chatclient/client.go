package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/domain"
)

// RetryPolicy governs the simple request path. It is immutable per call;
// UpdateConfig swaps it for calls issued afterwards.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt, so a
	// call makes at most MaxRetries+1 attempts.
	MaxRetries int
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// RetryDelay is the base backoff before a retry.
	RetryDelay time.Duration
	// ExponentialBackoff doubles the base delay per attempt when set.
	ExponentialBackoff bool
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         3,
		Timeout:            30 * time.Second,
		RetryDelay:         time.Second,
		ExponentialBackoff: true,
	}
}

func (p RetryPolicy) validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0, got %d", p.MaxRetries)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("Timeout must be > 0, got %s", p.Timeout)
	}
	if p.RetryDelay < 0 {
		return fmt.Errorf("RetryDelay must be >= 0, got %s", p.RetryDelay)
	}
	return nil
}

// maxJitter bounds the uniform random delay added to every backoff sleep so
// synchronized clients do not retry in lockstep.
const maxJitter = time.Second

// Client talks to the chatbot API. It holds no per-call state beyond its
// configuration and is safe for concurrent use; construct one at application
// start and pass it to consumers.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	doCorrupt  bool

	mu      sync.RWMutex
	policy  RetryPolicy
	onError func(*ServiceError)

	// jitter is a seam for tests; production uses uniform [0, maxJitter).
	jitter func() time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRetryPolicy sets the initial retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithOnError installs a hook invoked exactly once per failed call, with the
// final (non-retried) error.
func WithOnError(hook func(*ServiceError)) Option {
	return func(c *Client) { c.onError = hook }
}

// WithCorruption asks the backend to deliberately corrupt responses, used to
// demonstrate prover verification.
func WithCorruption(enabled bool) Option {
	return func(c *Client) { c.doCorrupt = enabled }
}

// NewClient creates a client for the chatbot API at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Per-attempt deadlines are enforced by the retry loop, not the
		// transport, so the http.Client itself carries no timeout.
		httpClient: &http.Client{},
		logger:     slog.Default(),
		policy:     DefaultRetryPolicy(),
		jitter: func() time.Duration {
			return rand.N(maxJitter)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateConfig replaces the retry policy. In-flight calls keep the policy
// they started with; the new policy applies to calls issued after return.
func (c *Client) UpdateConfig(p RetryPolicy) error {
	if err := p.validate(); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	c.mu.Lock()
	c.policy = p
	c.mu.Unlock()
	return nil
}

// Config returns the retry policy that the next call would use.
func (c *Client) Config() RetryPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// Send posts a chat message and returns the assistant's reply. Failures are
// always a *ServiceError. Retryable failures are retried per the policy with
// exponential backoff and jitter; validation failures never reach the network.
func (c *Client) Send(ctx context.Context, content string) (string, error) {
	trimmed, serr := validateMessage(content)
	if serr != nil {
		return "", c.fail(serr)
	}

	c.mu.RLock()
	policy := c.policy
	c.mu.RUnlock()

	var lastErr *ServiceError
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		reply, serr := c.attempt(ctx, trimmed, policy.Timeout)
		if serr == nil {
			return reply, nil
		}
		lastErr = serr

		if !serr.Retryable || attempt == policy.MaxRetries {
			break
		}

		delay := backoffDelay(policy, attempt) + c.jitter()
		c.logger.Warn("chat request failed, retrying",
			"attempt", attempt+1,
			"max_attempts", policy.MaxRetries+1,
			"kind", serr.Kind,
			"delay", delay,
		)
		if err := sleep(ctx, delay); err != nil {
			lastErr = contextError(err)
			break
		}
	}

	// A cancelled or expired context is reported as-is: the caller ended the
	// call, the policy did not run out.
	if lastErr.Retryable && ctx.Err() == nil {
		lastErr = &ServiceError{
			Kind:      KindMaxRetriesExceeded,
			Message:   fmt.Sprintf("giving up after %d attempts: %s", policy.MaxRetries+1, lastErr.Message),
			Retryable: false,
		}
	}
	return "", c.fail(lastErr)
}

// fail reports the final error through the OnError hook and returns it.
func (c *Client) fail(serr *ServiceError) error {
	c.logger.Error("chat request failed", "kind", serr.Kind, "error", serr.Message)
	c.mu.RLock()
	hook := c.onError
	c.mu.RUnlock()
	if hook != nil {
		hook(serr)
	}
	return serr
}

type sendResult struct {
	reply string
	err   *ServiceError
}

// attempt races one network call against the per-attempt deadline. If the
// deadline wins, the lagging call is cancelled and its eventual result is
// swallowed by the buffered channel — it can never reach a later attempt.
func (c *Client) attempt(ctx context.Context, message string, timeout time.Duration) (string, *ServiceError) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan sendResult, 1)
	go func() {
		reply, err := c.post(attemptCtx, message)
		resultCh <- sendResult{reply: reply, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.reply, res.err
	case <-timer.C:
		return "", newServiceError(KindTimeoutError, "request timed out after %s", timeout)
	case <-ctx.Done():
		return "", contextError(ctx.Err())
	}
}

// post performs a single POST /api/chat and maps the outcome onto the error
// taxonomy.
func (c *Client) post(ctx context.Context, message string) (string, *ServiceError) {
	body, err := json.Marshal(domain.ChatRequest{Message: message, DoCorrupt: c.doCorrupt})
	if err != nil {
		return "", newServiceError(KindNetworkError, "failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", newServiceError(KindNetworkError, "failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", newServiceError(KindNetworkError, "request failed: %v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(resp)
	}

	var chatResp domain.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", newServiceError(KindNetworkError, "failed to decode response: %v", err)
	}
	return chatResp.Message, nil
}

// OpenStream starts a streaming chat and returns the response body carrying
// SSE frames. The same validation and status mapping as Send applies, but no
// retrying: the stream session owns failure handling.
func (c *Client) OpenStream(ctx context.Context, content string) (io.ReadCloser, *ServiceError) {
	trimmed, serr := validateMessage(content)
	if serr != nil {
		return nil, serr
	}

	body, err := json.Marshal(domain.ChatRequest{Message: trimmed, DoCorrupt: c.doCorrupt})
	if err != nil {
		return nil, newServiceError(KindNetworkError, "failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, newServiceError(KindNetworkError, "failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newServiceError(KindNetworkError, "stream request failed: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := statusError(resp)
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
		return nil, serr
	}
	return resp.Body, nil
}

// validateMessage enforces the pre-network input invariants.
func validateMessage(content string) (string, *ServiceError) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", newServiceError(KindEmptyMessage, "message cannot be empty")
	}
	if n := utf8.RuneCountInString(trimmed); n > domain.MaxMessageLength {
		return "", newServiceError(KindMessageTooLong,
			"message cannot exceed %d characters, got %d", domain.MaxMessageLength, n)
	}
	return trimmed, nil
}

// statusError maps a non-2xx response onto the error taxonomy, preferring the
// server-provided message when the body is a well-formed ErrorResponse.
func statusError(resp *http.Response) *ServiceError {
	message := resp.Status
	var apiErr domain.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&apiErr); err == nil && apiErr.Message != "" {
		message = apiErr.Message
	}

	switch {
	case resp.StatusCode == http.StatusRequestTimeout:
		return newServiceError(KindTimeoutError, "%s", message)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return newServiceError(KindNetworkError, "%s", message)
	case resp.StatusCode >= 400 && resp.StatusCode <= 499:
		return newServiceError(KindValidationError, "%s", message)
	default:
		return newServiceError(KindNetworkError, "server error (%d): %s", resp.StatusCode, message)
	}
}

// contextError maps context cancellation onto the taxonomy: a deadline is a
// timeout, an explicit cancel a network-level abort. Retryability follows the
// kind; Send stops anyway because the context is already done.
func contextError(err error) *ServiceError {
	if errors.Is(err, context.DeadlineExceeded) {
		return newServiceError(KindTimeoutError, "request deadline exceeded")
	}
	return newServiceError(KindNetworkError, "request cancelled")
}

// backoffDelay computes the base delay before retrying attempt+1, excluding
// jitter: RetryDelay * 2^attempt when exponential, RetryDelay otherwise.
func backoffDelay(p RetryPolicy, attempt int) time.Duration {
	delay := p.RetryDelay
	if !p.ExponentialBackoff {
		return delay
	}
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
