package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/openai/openai-go/v2"
)

// RetryPolicy bounds retries around a model backend. Generic transient
// failures back off linearly; rate limits wait a distinct longer delay
// (or the server's Retry-After hint) without escalating, since the server
// already told us when to come back. Both share the same attempt ceiling.
type RetryPolicy struct {
	MaxAttempts    int
	Timeout        time.Duration
	RetryDelay     time.Duration
	RateLimitDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		Timeout:        60 * time.Second,
		RetryDelay:     time.Second,
		RateLimitDelay: 15 * time.Second,
	}
}

type failureClass int

const (
	failTransient failureClass = iota
	failRateLimited
	failTerminal
)

type retryClient struct {
	inner   Client
	policy  RetryPolicy
	failLog *FailureLog
	logger  *log.Logger
}

var _ Client = (*retryClient)(nil)

// WithRetry wraps any Client in the shared retry/backoff policy. failLog and
// logger may be nil.
func WithRetry(inner Client, policy RetryPolicy, failLog *FailureLog, logger *log.Logger) Client {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &retryClient{inner: inner, policy: policy, failLog: failLog, logger: logger}
}

func (r *retryClient) Invoke(ctx context.Context, tier Tier, prompt string, maxTokens int) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if r.policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
		}
		text, err := r.inner.Invoke(attemptCtx, tier, prompt, maxTokens)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		class, wait := r.classify(err, attempt)
		r.record(tier, attempt, class, err)
		if class == failTerminal {
			return "", err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", fmt.Errorf("model call failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}

// classify buckets an error and picks the wait before the next attempt.
func (r *retryClient) classify(err error, attempt int) (failureClass, time.Duration) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return failRateLimited, r.rateLimitWait(apiErr)
		case apiErr.StatusCode >= 500:
			return failTransient, r.policy.RetryDelay * time.Duration(attempt)
		default:
			return failTerminal, 0
		}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return failTransient, r.policy.RetryDelay * time.Duration(attempt)
	}
	// Unrecognized errors are assumed to be network-level and transient.
	return failTransient, r.policy.RetryDelay * time.Duration(attempt)
}

func (r *retryClient) rateLimitWait(apiErr *openai.Error) time.Duration {
	if apiErr.Response != nil {
		if hint := apiErr.Response.Header.Get("Retry-After"); hint != "" {
			if secs, err := strconv.Atoi(hint); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return r.policy.RateLimitDelay
}

func (r *retryClient) record(tier Tier, attempt int, class failureClass, err error) {
	kind := "transient"
	switch class {
	case failRateLimited:
		kind = "rate_limited"
	case failTerminal:
		kind = "terminal"
	}
	if r.logger != nil {
		r.logger.Printf("llm %s failure: tier=%s attempt=%d err=%v", kind, tier, attempt, err)
	}
	if r.failLog != nil {
		r.failLog.Record(tier, attempt, kind, err)
	}
}

// FailureLog is an append-only JSONL record of model-call failures, kept for
// postmortems. Writes are best-effort and never surface errors to the caller.
type FailureLog struct {
	mu   sync.Mutex
	path string
}

func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path}
}

type failureEntry struct {
	At      string `json:"at"`
	Tier    string `json:"tier"`
	Attempt int    `json:"attempt"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

func (l *FailureLog) Record(tier Tier, attempt int, kind string, err error) {
	if l == nil || l.path == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if mkErr := os.MkdirAll(filepath.Dir(l.path), 0o755); mkErr != nil {
		return
	}
	f, openErr := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if openErr != nil {
		return
	}
	defer f.Close()
	entry := failureEntry{
		At:      time.Now().UTC().Format(time.RFC3339),
		Tier:    string(tier),
		Attempt: attempt,
		Kind:    kind,
		Error:   err.Error(),
	}
	b, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		return
	}
	_, _ = f.Write(append(b, '\n'))
}
