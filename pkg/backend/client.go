// Package backend is the client for the calendar REST backend: task lists,
// tasks, sharing, image upload, realtime channel authorization and the push
// proxy endpoints.
//
// Every call carries the local session token as a bearer header. GET
// requests are network-first: a successful response is written to the
// offline cache and served from there when the network fails.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/rubiojr/calchat/pkg/credentials"
	"github.com/rubiojr/calchat/pkg/log"
	"github.com/rubiojr/calchat/pkg/storage"
	"github.com/rubiojr/calchat/pkg/version"
)

// Cache is the offline response store used for GET fallbacks.
type Cache interface {
	PutCache(key, contentType string, body []byte) error
	GetCache(key string) (storage.CacheEntry, bool, error)
}

// APIError is returned for non-2xx responses and for 2xx responses whose
// body reports failure.
type APIError struct {
	Status   int
	Endpoint string
	Message  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401/403 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
	}
	return false
}

type Options struct {
	BaseURL     string
	Credentials credentials.Provider
	Timeout     time.Duration
	RateLimit   float64
	Burst       int
	// Cache enables the offline fallback for GET requests when non-nil.
	Cache Cache
	// Transport is the base round tripper, http.DefaultTransport when nil.
	Transport http.RoundTripper
}

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	cache   Cache
	log     *log.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	creds := opts.Credentials
	if creds == nil {
		creds = credentials.Static("")
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &oauth2.Transport{
				Source: credentials.TokenSource(creds),
				Base:   base,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		cache:   opts.Cache,
		log:     log.ForService("backend"),
	}
}

// URL returns the absolute URL of endpoint. A leading slash is ignored.
func (c *Client) URL(endpoint string) string {
	return c.baseURL + "/" + strings.TrimPrefix(endpoint, "/")
}

type request struct {
	method      string
	endpoint    string
	body        io.Reader
	contentType string
}

type response struct {
	status      int
	contentType string
	body        []byte
}

func (c *Client) do(ctx context.Context, r request) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.URL(r.endpoint), r.body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "calchat/"+version.Version)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, credentials.ErrNoCredential) {
			return nil, credentials.ErrNoCredential
		}
		return nil, fmt.Errorf("%s %s: %w", r.method, strings.TrimPrefix(r.endpoint, "/"), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", r.endpoint, err)
	}

	out := &response{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type"), body: body}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &APIError{
			Status:   resp.StatusCode,
			Endpoint: strings.TrimPrefix(r.endpoint, "/"),
			Message:  errorMessage(body),
		}
	}
	return out, nil
}

// get performs a network-first GET. Network failures fall back to the
// offline cache; HTTP errors from a reachable backend do not.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	endpoint = strings.TrimPrefix(endpoint, "/")
	key := http.MethodGet + " " + endpoint

	resp, err := c.do(ctx, request{method: http.MethodGet, endpoint: endpoint})
	if err == nil {
		if c.cache != nil {
			if cerr := c.cache.PutCache(key, resp.contentType, resp.body); cerr != nil {
				c.log.Warnf("caching %s: %v", endpoint, cerr)
			}
		}
		return resp.body, nil
	}

	var apiErr *APIError
	if c.cache == nil || errors.As(err, &apiErr) || errors.Is(err, credentials.ErrNoCredential) || ctx.Err() != nil {
		return nil, err
	}

	entry, ok, cerr := c.cache.GetCache(key)
	if cerr != nil {
		c.log.Warnf("reading cache for %s: %v", endpoint, cerr)
		return nil, err
	}
	if !ok {
		return nil, err
	}
	c.log.Warnf("network failed for %s, serving cached copy from %s: %v",
		endpoint, entry.StoredAt.Format(time.RFC3339), err)
	return entry.Body, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, key string, out any) error {
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return err
	}
	return decodeBody(endpoint, body, key, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, in any, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", endpoint, err)
	}
	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		endpoint:    endpoint,
		body:        bytes.NewReader(payload),
		contentType: "application/json",
	})
	if err != nil {
		return err
	}
	return decodeBody(endpoint, resp.body, "", out)
}

// decodeBody accepts either a bare JSON value or an object envelope. A
// {"success": false} envelope becomes an APIError. With a non-empty key the
// value is read from envelope[key], falling back to envelope["data"].
func decodeBody(endpoint string, body []byte, key string, out any) error {
	endpoint = strings.TrimPrefix(endpoint, "/")
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '{' {
		var env map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return fmt.Errorf("decoding %s response: %w", endpoint, err)
		}
		if raw, ok := env["success"]; ok && string(raw) == "false" {
			return &APIError{Status: http.StatusOK, Endpoint: endpoint, Message: errorMessage(trimmed)}
		}
		if key != "" {
			if raw, ok := env[key]; ok {
				trimmed = raw
			} else if raw, ok := env["data"]; ok {
				trimmed = raw
			}
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var env struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Error != "" {
			return env.Error
		}
		if env.Message != "" {
			return env.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
