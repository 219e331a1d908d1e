package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jpalmerr/pulsesync/internal/stream"
)

const maxResponseBodySize = 1 << 20 // 1MB

const defaultFetchTimeout = 10 * time.Second

// connection pooling limits; the coordinator polls one stream at a time so
// a small pool is plenty
const (
	defaultMaxIdleConns        = 10
	defaultMaxIdleConnsPerHost = 2
	defaultMaxConnsPerHost     = 4
	defaultIdleConnTimeout     = 90 * time.Second
)

// eventsResponse is the JSON body served by an events endpoint.
type eventsResponse struct {
	Cursor          string            `json:"cursor"`
	More            bool              `json:"more"`
	Events          []json.RawMessage `json:"events"`
	Refresh         bool              `json:"refresh"`
	RefreshMail     bool              `json:"refresh_mail"`
	RefreshContacts bool              `json:"refresh_contacts"`
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithHeaders sets headers sent with every request.
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		c.headers = headers
	}
}

// WithTimeout sets the per-request timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit limits requests to rps per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// Client fetches event pages over HTTP.
//
// A page for stream id since cursor c is requested as
//
//	GET {baseURL}/{id}?since={c}
//
// and decoded from a JSON object with the fields cursor, more, events,
// refresh, refresh_mail and refresh_contacts. Any non-2xx status is a fetch
// error. Response bodies are limited to 1MB.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	timeout    time.Duration
	limiter    *rate.Limiter
}

// NewClient creates a [Client] for the events endpoint at baseURL.
//
// Timeouts are applied per request via context rather than as a global
// client timeout.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch requests the page for id since the given cursor.
func (c *Client) Fetch(ctx context.Context, id stream.ID, since string) (stream.Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return stream.Page{}, fmt.Errorf("rate limit: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + "/" + url.PathEscape(string(id)) + "?since=" + url.QueryEscape(since)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return stream.Page{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stream.Page{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// read one byte past the limit so oversized bodies are detected
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize+1))
	if err != nil {
		return stream.Page{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxResponseBodySize {
		return stream.Page{}, errors.New("response body exceeds 1MB")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return stream.Page{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var er eventsResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return stream.Page{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return stream.Page{
		Cursor:                er.Cursor,
		HasMore:               er.More,
		Events:                er.Events,
		CacheOutdated:         er.Refresh,
		MailCacheOutdated:     er.RefreshMail,
		ContactsCacheOutdated: er.RefreshContacts,
	}, nil
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times. After Close, the client remains usable but
// new connections will be established as needed.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
