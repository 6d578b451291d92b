// Package mediawiki talks to the MediaWiki Action API of a wiki and the
// Wikibase API of its knowledge-base repository.
package mediawiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/harvester/internal/cache"
	"github.com/ppiankov/harvester/internal/util"
	"github.com/ppiankov/harvester/internal/worker"
)

const defaultMaxRetries = 3

// maxLag asks the servers to refuse requests while replication lags by
// more than this many seconds
const maxLag = "5"

// fetchSleepFunc waits between retries (injectable for tests)
var fetchSleepFunc = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Options configures a Client
type Options struct {
	Timeout    time.Duration
	UserAgent  string
	MaxBytes   int64
	MaxRetries int
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
	Limiter    *worker.Limiter
	Cache      cache.Cache
	CacheTTL   time.Duration
	Logger     *slog.Logger
}

// Client performs Action API requests against one api.php endpoint
type Client struct {
	endpoint   string
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	maxRetries int
	limiter    *worker.Limiter
	cache      cache.Cache
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// NewClient creates a client for the api.php endpoint. The client keeps
// cookies so a login persists across requests.
func NewClient(endpoint string, opts Options) *Client {
	jar, _ := cookiejar.New(nil)

	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 8_000_000
	}
	if opts.Cache == nil {
		opts.Cache = cache.NopCache{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Jar:     jar,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(opts.HTTPProxy, opts.HTTPSProxy, opts.NoProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent:  opts.UserAgent,
		maxBytes:   opts.MaxBytes,
		maxRetries: opts.MaxRetries,
		limiter:    opts.Limiter,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		logger:     opts.Logger.With(slog.String("api", endpoint)),
	}
}

// Get performs a read request and decodes the response into out. Cacheable
// responses are served from and stored in the lookup cache.
func (c *Client) Get(ctx context.Context, params url.Values, cacheable bool, out any) error {
	params = withDefaults(params)
	query := params.Encode()
	key := cache.CacheKey(c.endpoint, query)

	if cacheable {
		if data, ok := c.cache.Get(key); ok {
			return json.Unmarshal(data, out)
		}
	}

	data, err := c.doWithRetry(ctx, http.MethodGet, params, false)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", params.Get("action"), err)
	}

	if cacheable {
		if err := c.cache.Set(key, data, c.cacheTTL); err != nil {
			c.logger.Debug("Failed to cache response", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Post performs an uncached POST request on the read throttle
func (c *Client) Post(ctx context.Context, params url.Values, out any) error {
	return c.post(ctx, params, false, out)
}

// Edit performs a write request. Edits wait on the edit throttle and are
// never cached.
func (c *Client) Edit(ctx context.Context, params url.Values, out any) error {
	return c.post(ctx, params, true, out)
}

func (c *Client) post(ctx context.Context, params url.Values, edit bool, out any) error {
	data, err := c.doWithRetry(ctx, http.MethodPost, withDefaults(params), edit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", params.Get("action"), err)
	}
	return nil
}

func withDefaults(params url.Values) url.Values {
	p := make(url.Values, len(params)+3)
	for k, v := range params {
		p[k] = v
	}
	p.Set("format", "json")
	p.Set("formatversion", "2")
	if p.Get("maxlag") == "" {
		p.Set("maxlag", maxLag)
	}
	return p
}

// doWithRetry retries transient failures with exponential backoff. Edits
// are retried only on errors the API reports before saving anything.
func (c *Client) doWithRetry(ctx context.Context, method string, params url.Values, edit bool) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.throttle(ctx, edit && attempt == 0); err != nil {
			return nil, err
		}

		data, err := c.do(ctx, method, params)
		if err == nil {
			return data, nil
		}
		lastErr = err

		retryable := isRetryableFetchError(err)
		if edit {
			retryable = isRetryableEditError(err)
		}
		if !retryable || attempt == c.maxRetries-1 {
			break
		}

		backoff := retryDelay(err, attempt)
		c.logger.Debug("Retrying API request",
			slog.String("action", params.Get("action")),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))
		if err := fetchSleepFunc(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) throttle(ctx context.Context, edit bool) error {
	if c.limiter == nil {
		return nil
	}
	if edit {
		return c.limiter.WaitEdit(ctx, c.endpoint)
	}
	return c.limiter.Wait(ctx, c.endpoint)
}

func (c *Client) do(ctx context.Context, method string, params url.Values) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.endpoint, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Code:       resp.StatusCode,
			Status:     resp.Status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		if envelope.Error.Code == "maxlag" {
			envelope.Error.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, envelope.Error
	}

	return body, nil
}

// isRetryableFetchError reports whether err is a transient failure
func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == "maxlag" || apiErr.Code == "readonly"
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// isRetryableEditError reports whether a failed edit was certainly not
// saved. A lost response or server error may follow a successful save.
func isRetryableEditError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == "maxlag" || apiErr.Code == "readonly"
	}
	return false
}

func retryDelay(err error, attempt int) time.Duration {
	backoff := time.Duration(1<<uint(attempt)) * time.Second

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > backoff {
		return statusErr.RetryAfter
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > backoff {
		return apiErr.RetryAfter
	}
	return backoff
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
