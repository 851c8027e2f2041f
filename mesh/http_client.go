package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for mesh fetches.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the first delay between attempts; it doubles after each failure.
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the response body to 50 MB to prevent OOM.
	maxResponseBytes = 50 << 20
)

// FetchOption configures FetchMeshFromAPI behavior.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
	logger      *zap.Logger
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		logger:      zap.NewNop(),
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the total number of attempts. Values below 1 mean a single attempt.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// WithFetchLogger logs each failed attempt at warn level.
func WithFetchLogger(l *zap.Logger) FetchOption {
	return func(c *fetchConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// FetchMeshFromAPI fetches mesh JSON from the given URL and parses it.
// Transient failures are retried with exponential backoff; malformed meshes are not.
func FetchMeshFromAPI(ctx context.Context, apiURL string, opts ...FetchOption) (*TriangleMesh, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("fetch mesh: URL is empty")
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	attempts := cfg.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.baseBackoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	permanent := false
	operation := func() (*TriangleMesh, error) {
		body, err := doFetch(ctx, client, apiURL)
		if err != nil {
			var perr *backoff.PermanentError
			permanent = errors.As(err, &perr)
			return nil, err
		}
		m, err := ParseMeshJSON(body)
		if err != nil {
			permanent = true
			return nil, backoff.Permanent(err)
		}
		return m, nil
	}
	notify := func(err error, wait time.Duration) {
		cfg.logger.Warn("mesh fetch failed, retrying",
			zap.String("url", apiURL),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	m, err := backoff.RetryNotifyWithData[*TriangleMesh](operation, policy, notify)
	switch {
	case err == nil:
		return m, nil
	case permanent || ctx.Err() != nil:
		return nil, fmt.Errorf("fetch mesh: %w", err)
	default:
		return nil, fmt.Errorf("fetch mesh: all %d attempts failed: %w", attempts, err)
	}
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return body, nil
}
