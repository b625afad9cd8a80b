package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
	maxRetryAfter  = 5 * time.Second

	// An endpoint that fails this many deliveries in a row is skipped until
	// suspendFor has passed.
	tripAfter  = 5
	suspendFor = time.Minute
)

// ErrSuspended is returned while an endpoint's breaker is open.
var ErrSuspended = errors.New("webhook suspended after repeated failures")

// rejectedError is a 4xx answer; retrying the same body will not help.
type rejectedError struct{ status int }

func (e *rejectedError) Error() string { return fmt.Sprintf("webhook rejected: HTTP %d", e.status) }

// sender posts payloads with retries and one circuit breaker per URL.
type sender struct {
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newSender(client *http.Client) *sender {
	return &sender{client: client, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

var defaultSender = newSender(&http.Client{Timeout: requestTimeout})

// Send posts an alert event to a webhook endpoint. 5xx answers and transport
// errors are retried, 429 waits for Retry-After, other 4xx fail at once.
func Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	return defaultSender.send(ctx, cfg, event)
}

func (s *sender) breaker(url string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[url]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alert-" + url,
		MaxRequests: 1,
		Timeout:     suspendFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		// A cancelled caller says nothing about the endpoint.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	s.breakers[url] = cb
	return cb
}

func (s *sender) send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	_, err = s.breaker(cfg.URL).Execute(func() (interface{}, error) {
		return nil, s.post(ctx, cfg, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrSuspended, cfg.URL)
	}
	return err
}

func (s *sender) post(ctx context.Context, cfg AlertConfig, body []byte) error {
	var (
		lastErr error
		wait    time.Duration
	)
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook aborted: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
		wait = time.Duration(attempt+1) * time.Second

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("webhook aborted: %w", ctx.Err())
			}
			lastErr = err
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &rejectedError{status: resp.StatusCode}
			if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				wait = d
			}
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return &rejectedError{status: resp.StatusCode}
		default:
			lastErr = fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries, lastErr)
}

// retryAfter parses the delay-seconds form of Retry-After, capped.
func retryAfter(v string) (time.Duration, bool) {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d, true
}
