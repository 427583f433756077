// Package client is the HTTP fetch layer of the quality trend dashboard. Every call is a
// single network attempt bounded by a timeout; failures come back as values, never panics.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vjranagit/qualitytrend/pkg/cache"
)

// DefaultTimeout bounds every request
const DefaultTimeout = 30 * time.Second

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Token   string
	// Headers are added to every request, e.g. the identity header of a trusted proxy
	Headers map[string]string
}

// Result is the outcome of one request. On success Data holds the decoded JSON body; on
// failure Error holds the message.
type Result struct {
	Success   bool
	Data      any
	Error     string
	Status    int
	Duration  time.Duration
	FromCache bool
	RequestID string

	err error
}

// Err returns the failure as an error, nil on success
func (r *Result) Err() error {
	if r.Success {
		return nil
	}
	if r.err == nil {
		return &TransportError{Status: r.Status, Message: r.Error}
	}
	return r.err
}

// Client issues requests against the quality trend backend. It is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	cache  cache.Cache
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a client. A nil cache disables response caching.
func New(cfg Config, c cache.Cache, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		cache:  c,
		logger: logger.With().Str("component", "client").Logger(),
		now:    time.Now,
	}
}

// ResolveURL maps an endpoint name to a URL. Absolute URLs are used as is; anything else is
// joined to the base URL under php/, with .php appended to bare names.
func (c *Client) ResolveURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}

	path := strings.TrimPrefix(endpoint, "/")
	hasDir := strings.HasPrefix(path, "php/")
	if !hasDir && !strings.HasSuffix(path, ".php") {
		path += ".php"
	}
	if !hasDir {
		path = "php/" + path
	}

	base := strings.TrimSuffix(c.cfg.BaseURL, "/")
	if base == "" {
		return "/" + path
	}
	return base + "/" + path
}

// EncodeQuery serializes params in sorted key order. Slices become repeated key[]=value pairs
// in slice order; nil values are skipped.
func EncodeQuery(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		switch v := params[k].(type) {
		case nil:
		case []string:
			for _, item := range v {
				parts = append(parts, escape(k)+"[]="+escape(item))
			}
		case []any:
			for _, item := range v {
				parts = append(parts, escape(k)+"[]="+escape(scalar(item)))
			}
		default:
			parts = append(parts, escape(k)+"="+escape(scalar(v)))
		}
	}
	return strings.Join(parts, "&")
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// uncached endpoints always reach the backend
var uncached = map[string]bool{
	"auth-for-trend":  true,
	"test_connection": true,
}

// Request performs one call. GET responses are served from and stored in the cache; POST and
// PUT send body as JSON. The result never carries a nil error on failure.
func (c *Client) Request(ctx context.Context, endpoint string, params map[string]any, method string, body any) *Result {
	if method == "" {
		method = http.MethodGet
	}
	start := c.now()
	res := &Result{RequestID: uuid.NewString()}
	log := c.logger.With().Str("request_id", res.RequestID).Str("endpoint", endpoint).Str("method", method).Logger()

	key := cache.Key(endpoint, params)
	cacheable := method == http.MethodGet && c.cache != nil && !uncached[endpoint]
	if cacheable {
		if raw, ok := c.cache.Get(ctx, key); ok {
			var data any
			if err := json.Unmarshal(raw, &data); err == nil {
				res.Success = true
				res.Data = data
				res.Status = http.StatusOK
				res.FromCache = true
				res.Duration = c.now().Sub(start)
				log.Debug().Msg("cache hit")
				return res
			}
		}
	}

	raw, err := c.do(ctx, endpoint, params, method, body, res)
	res.Duration = c.now().Sub(start)
	if err != nil {
		c.fail(res, endpoint, err)
		log.Warn().Err(err).Int("status", res.Status).Dur("duration", res.Duration).Msg("request failed")
		return res
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		c.fail(res, endpoint, fmt.Errorf("invalid JSON response: %w", err))
		log.Warn().Err(err).Dur("duration", res.Duration).Msg("malformed response body")
		return res
	}

	res.Success = true
	res.Data = data
	if cacheable {
		c.cache.Set(ctx, key, raw)
	}
	log.Debug().Int("status", res.Status).Dur("duration", res.Duration).Msg("request completed")
	return res
}

func (c *Client) do(ctx context.Context, endpoint string, params map[string]any, method string, body any, res *Result) ([]byte, error) {
	target := c.ResolveURL(endpoint)
	query := EncodeQuery(params)
	if method == http.MethodGet {
		cb := "_cb=" + strconv.FormatInt(c.now().UnixMilli(), 10)
		if query == "" {
			query = cb
		} else {
			query += "&" + cb
		}
	}
	if query != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query
	}

	var reader io.Reader
	if body != nil && (method == http.MethodPost || method == http.MethodPut) {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-Request-ID", res.RequestID)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Cache-Control", "no-cache")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errTimeout
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

var errTimeout = errors.New("timeout")

func (c *Client) fail(res *Result, endpoint string, err error) {
	te := &TransportError{Endpoint: endpoint, Status: res.Status, Message: err.Error()}
	if errors.Is(err, errTimeout) {
		te.Timeout = true
		te.Message = fmt.Sprintf("request timed out after %s", c.cfg.Timeout)
	}
	res.Success = false
	res.Error = te.Message
	res.err = te
}

// ClearCache removes cached responses whose key contains pattern, or all of them
func (c *Client) ClearCache(ctx context.Context, pattern string) int {
	if c.cache == nil {
		return 0
	}
	n := c.cache.Clear(ctx, pattern)
	c.logger.Debug().Str("pattern", pattern).Int("removed", n).Msg("cache cleared")
	return n
}
