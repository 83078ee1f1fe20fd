package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig controls when the circuit breaker opens.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker; 0 disables tripping.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before the next request
	// is let through. Requests arriving meanwhile wait for it.
	OpenTimeout time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Breaker BreakerConfig
}

var (
	ErrTransport        = errors.New("transport error")
	ErrRateLimited      = errors.New("rate limited")
	ErrServerError      = errors.New("server error")
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	errNoHTTPClient     = errors.New("http client not configured")
)

// defaultOpenTimeout mirrors gobreaker's own default when Timeout is zero.
const defaultOpenTimeout = 60 * time.Second

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
	})
}

// doRequest executes one HTTP request through the circuit breaker. There are no
// retries: a failed window is dropped by the caller. While the breaker is open
// the call waits out the open timeout and then sends the request, so every
// window is still attempted. On success the response body is returned open and
// belongs to the caller.
func doRequest(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
) (io.ReadCloser, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}

	req, err := buildRequest(ctx)
	if err != nil {
		return nil, err
	}

	for {
		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrTransport, execErr)
			}

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				// Drain so the connection can be reused.
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
				resp.Body.Close()

				switch {
				case resp.StatusCode == http.StatusTooManyRequests:
					return nil, ErrRateLimited
				case resp.StatusCode >= 500:
					return nil, fmt.Errorf("%w: %d", ErrServerError, resp.StatusCode)
				default:
					return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
				}
			}

			return resp, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			if werr := waitOpen(ctx, cfg.Breaker.OpenTimeout); werr != nil {
				return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, werr)
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		resp, ok := result.(*http.Response)
		if !ok {
			return nil, fmt.Errorf("unexpected result type from circuit breaker")
		}
		return resp.Body, nil
	}
}

// waitOpen blocks for the breaker's open timeout or until ctx is done.
func waitOpen(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = defaultOpenTimeout
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
