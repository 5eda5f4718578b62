// Package github provides the HTTP client for the GitHub issues API with
// conditional-request caching, error classification and metrics.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/gh-comments/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for GitHub client operations.
var (
	githubRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "github_requests_total",
		Help: "Total GitHub API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	githubRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "github_request_duration_seconds",
		Help:    "GitHub API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	githubErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "github_errors_total",
		Help: "Total GitHub API errors by class",
	}, []string{"class"})
)

// Defaults for the public GitHub service.
const (
	DefaultAPIURL = "https://api.github.com"
	DefaultWebURL = "https://github.com"

	// MediaTypeHTML asks GitHub to include rendered body_html.
	MediaTypeHTML = "application/vnd.github.v3.html+json"

	// MediaTypeJSON is the default GitHub media type.
	MediaTypeJSON = "application/vnd.github+json"
)

// Client is the GitHub API client.
type Client struct {
	httpClient *http.Client
	cache      *cache.Manager
	config     Config
	apiURL     string
	webURL     string
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Redis enables the conditional-request cache when non-nil
	Redis *redis.Client

	// CacheRetention is how long responses stay available for revalidation
	CacheRetention time.Duration

	// User-Agent header (REQUIRED by GitHub)
	UserAgent string

	// APIURL is the REST API base (GitHub Enterprise: https://host/api/v3)
	APIURL string

	// WebURL is the base of human-facing issue pages
	WebURL string

	// Timeout bounds a single HTTP request
	Timeout time.Duration
}

// DefaultConfig returns a configuration for api.github.com.
func DefaultConfig(redis *redis.Client, userAgent string) Config {
	return Config{
		Redis:          redis,
		CacheRetention: cache.DefaultRetention,
		UserAgent:      userAgent,
		APIURL:         DefaultAPIURL,
		WebURL:         DefaultWebURL,
		Timeout:        30 * time.Second,
	}
}

// New creates a new GitHub client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	apiURL, err := normalizeBaseURL(cfg.APIURL, DefaultAPIURL)
	if err != nil {
		return nil, fmt.Errorf("api url: %w", err)
	}
	webURL, err := normalizeBaseURL(cfg.WebURL, DefaultWebURL)
	if err != nil {
		return nil, fmt.Errorf("web url: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "github-client").Logger()

	var cacheManager *cache.Manager
	if cfg.Redis != nil {
		cacheManager = cache.NewManager(cfg.Redis, cfg.CacheRetention)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cache:  cacheManager,
		config: cfg,
		apiURL: apiURL,
		webURL: webURL,
		logger: logger,
	}, nil
}

func normalizeBaseURL(raw, fallback string) (string, error) {
	if raw == "" {
		raw = fallback
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q must be absolute", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// Do performs an HTTP request with conditional-request caching, metrics and
// error classification. Only transport failures are returned as errors;
// callers inspect the status code of the returned response.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.do(req, req.URL.Path)
}

// do is Do with an explicit, low-cardinality metrics label.
func (c *Client) do(req *http.Request, endpoint string) (*http.Response, error) {
	ctx := req.Context()

	startTime := time.Now()
	defer func() {
		githubRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("User-Agent", c.config.UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", MediaTypeJSON)
	}

	// Step 1: Look up the stored response
	cacheKey := cache.CacheKey{
		Endpoint:    req.URL.Path,
		QueryParams: req.URL.Query(),
		Accept:      req.Header.Get("Accept"),
	}

	var cachedEntry *cache.CacheEntry
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
		cachedEntry = entry
	}

	// Step 2: Revalidate instead of refetching when possible
	if cache.ShouldMakeConditionalRequest(cachedEntry) {
		cache.AddConditionalHeaders(req, cachedEntry)
		cache.ConditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("etag", cachedEntry.ETag).
			Msg("Making conditional request")
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Msg("Executing GitHub request")

	// Step 3: Execute the request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		errClass := c.classifyError(nil, err)
		githubErrorsTotal.WithLabelValues(string(errClass)).Inc()
		githubRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &APIError{
			ErrorClass: errClass,
			Message:    "request failed",
			Err:        err,
		}
	}

	githubRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	// Step 4: 304 replays the stored body
	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")
		cache.NotModifiedResponses.Inc()

		if err := c.cache.Touch(ctx, cacheKey); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cache retention")
		}

		fresh := resp.Header.Clone()
		resp.Body.Close()
		return cache.EntryToResponse(cachedEntry, fresh), nil
	}

	if resp.StatusCode >= 400 {
		errClass := c.classifyError(resp, nil)
		githubErrorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("GitHub request error")
		return resp, nil
	}

	// Step 5: Store successful responses
	if c.cache != nil && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("endpoint", endpoint).
				Str("etag", entry.ETag).
				Msg("Cached response")
		}
	}

	return resp, nil
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// Get performs a GET request against an API path such as
// "/repos/octo/blog/issues/7" with the given Accept media type.
func (c *Client) Get(ctx context.Context, path string, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return c.Do(req)
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager, nil when caching is disabled.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}
