package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/water-quality-archive/internal/archive"
	"github.com/sony/gobreaker"
)

// DefaultBaseURL is the public water-quality archive API.
const DefaultBaseURL = "https://environment.data.gov.uk/water-quality"

// WQASource implements archive.Source for the water-quality archive observation endpoint.
type WQASource struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// DefaultBreaker backs off for 30s after 5 consecutive failed windows.
var DefaultBreaker = BreakerConfig{
	ConsecutiveFailures: 5,
	OpenTimeout:         30 * time.Second,
}

// WQAOption customises a WQASource.
type WQAOption func(*WQASource)

// WithBreaker replaces DefaultBreaker.
func WithBreaker(cfg BreakerConfig) WQAOption {
	return func(s *WQASource) {
		s.httpCfg.Breaker = cfg
	}
}

// NewWQASource creates a source against baseURL. An empty baseURL uses DefaultBaseURL.
func NewWQASource(client *http.Client, baseURL string, opts ...WQAOption) *WQASource {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	s := &WQASource{
		name:    "wqa",
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCfg: HTTPClientConfig{
			Client:  client,
			Breaker: DefaultBreaker,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.circuit = newBreaker(s.name, s.httpCfg.Breaker)
	return s
}

func (s *WQASource) Name() string {
	return s.name
}

// FetchWindow requests one determinand over one window as CSV.
func (s *WQASource) FetchWindow(ctx context.Context, q archive.WindowQuery) (io.ReadCloser, error) {
	if q.Determinand == "" {
		return nil, archive.ErrEmptyDeterminand
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		u := fmt.Sprintf("%s/data/observation?%s", s.baseURL, queryValues(q).Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/csv")
		return req, nil
	}

	return doRequest(ctx, s.httpCfg, s.circuit, buildRequest)
}

func queryValues(q archive.WindowQuery) url.Values {
	limit := q.Limit
	if limit <= 0 {
		limit = archive.MaxRecords
	}
	values := url.Values{}
	values.Set("determinand", q.Determinand)
	values.Set("dateFrom", q.Window.Start.Format(archive.DateLayout))
	values.Set("dateTo", q.Window.End.Format(archive.DateLayout))
	values.Set("limit", strconv.Itoa(limit))
	if q.Area != "" {
		values.Set("precannedArea", q.Area)
	}
	return values
}
