// Package registry is an HTTP client for the external identity and
// property registry. It resolves free-text identifiers to external ids
// and fetches attribute bundles, with rate limiting and transient-
// failure classification so callers can retry safely.
package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/formulary-group/ingredient-cli/internal/resilience"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 5 // req/s
	defaultMaxIDs    = 50
)

// Bundle is the attribute payload the registry holds for one external id.
type Bundle map[string]any

// Client defines the registry operations used by the enrichment pipeline.
type Client interface {
	// Resolve maps a free-text identifier to zero or more external ids.
	// An empty slice is a definitive miss, not an error.
	Resolve(ctx context.Context, identifier string) ([]string, error)

	// FetchBundle fetches the attribute bundle for one external id.
	// Returns resilience.ErrNotFound for unknown ids.
	FetchBundle(ctx context.Context, id string) (Bundle, error)

	// FetchBundles fetches bundles for a list of ids, chunked to the
	// registry's per-request limit. Unknown ids are absent from the
	// result map rather than an error.
	FetchBundles(ctx context.Context, ids []string) (map[string]Bundle, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the registry base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit for registry calls.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
}

// WithMaxIDsPerRequest caps how many ids one batched fetch may carry.
func WithMaxIDsPerRequest(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxIDs = n
		}
	}
}

// WithCircuit routes every call through the given circuit breaker.
func WithCircuit(cb *resilience.Circuit) Option {
	return func(c *httpClient) {
		c.circuit = cb
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	maxIDs  int
	http    *http.Client
	limiter *rate.Limiter
	circuit *resilience.Circuit
}

// NewClient creates a registry client. baseURL is required; apiKey may
// be empty for registries with anonymous read access.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		maxIDs:  defaultMaxIDs,
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(defaultRateLimit, defaultRateLimit+1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type resolveResponse struct {
	IDs []string `json:"ids"`
}

func (c *httpClient) Resolve(ctx context.Context, identifier string) ([]string, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("name", identifier)

	var out resolveResponse
	err := c.get(ctx, "/v1/resolve?"+q.Encode(), &out)
	if err != nil {
		// A miss on resolve is an answer: no candidates.
		if eris.Is(err, resilience.ErrNotFound) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "registry: resolve "+identifier)
	}
	return out.IDs, nil
}

type bundleResponse struct {
	Bundles map[string]Bundle `json:"bundles"`
}

func (c *httpClient) FetchBundle(ctx context.Context, id string) (Bundle, error) {
	bundles, err := c.fetchChunk(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	b, ok := bundles[id]
	if !ok {
		return nil, eris.Wrap(resilience.ErrNotFound, "registry: bundle "+id)
	}
	return b, nil
}

func (c *httpClient) FetchBundles(ctx context.Context, ids []string) (map[string]Bundle, error) {
	out := make(map[string]Bundle, len(ids))
	for start := 0; start < len(ids); start += c.maxIDs {
		end := start + c.maxIDs
		if end > len(ids) {
			end = len(ids)
		}
		bundles, err := c.fetchChunk(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for id, b := range bundles {
			out[id] = b
		}
	}
	return out, nil
}

func (c *httpClient) fetchChunk(ctx context.Context, ids []string) (map[string]Bundle, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))

	var out bundleResponse
	if err := c.get(ctx, "/v1/bundles?"+q.Encode(), &out); err != nil {
		return nil, eris.Wrap(err, "registry: fetch bundles")
	}
	return out.Bundles, nil
}

// get performs one rate-limited GET through the circuit breaker and
// decodes the JSON body into dst.
func (c *httpClient) get(ctx context.Context, path string, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "registry: rate limiter")
	}

	call := func(ctx context.Context) error {
		return c.doGet(ctx, path, dst)
	}
	if c.circuit != nil {
		return c.circuit.Execute(ctx, call)
	}
	return call(ctx)
}

func (c *httpClient) doGet(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "registry: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "registry: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "registry: read response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return resilience.ErrNotFound
	case resilience.BusyHTTPStatus(resp.StatusCode):
		busy := resilience.Busy(
			eris.Errorf("registry: status %d: %s", resp.StatusCode, string(body)),
			resp.StatusCode,
		)
		busy.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return busy
	default:
		return eris.Errorf("registry: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return eris.Wrap(err, "registry: unmarshal response")
	}
	return nil
}

// parseRetryAfter handles the delta-seconds form of the Retry-After
// header. The HTTP-date form is rare on rate limiters and is ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
