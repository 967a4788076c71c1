// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/jadbio/jadbio-go/sdk/go/httpserver"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultHost is used when no host is configured.
	DefaultHost = "https://jadapi.jadbio.com"

	// APIVersion is the major version of the public API this
	// package speaks. It is part of every request path.
	APIVersion = "v1"

	apiPrefix = "api/public/" + APIVersion + "/"
)

// A Client is an HTTP client with a JADBio API endpoint and (after
// Login) a session token.
//
// A Client is safe for concurrent use, but Login and Logout change
// the credentials used by all in-flight callers.
type Client struct {
	// HTTP client used to make requests. If nil,
	// DefaultSecureClient or InsecureHTTPClient will be used.
	Client *http.Client `json:"-"`

	// Protocol scheme: "http", "https", or "" (https)
	Scheme string

	// Hostname (or host:port) of the JADBio API server.
	APIHost string

	// Session token returned by Login. Can be set directly to
	// reuse a token obtained elsewhere.
	AuthToken string

	// Accept unverified certificates. This works only if the
	// Client field is nil: otherwise, it has no effect.
	Insecure bool

	// HTTP headers to add/override in outgoing requests.
	SendHeader http.Header

	// Timeout for requests, including retries. NewClient and
	// NewClientFromEnv return a Client with a default 5 minute
	// timeout. With Timeout zero, failed requests are not
	// retried and each http.Request's context deadline applies.
	Timeout time.Duration

	// Logger for retries and polling. If nil, the logger
	// attached to the request context (see ctxlog) is used.
	Logger logrus.FieldLogger `json:"-"`

	// Metrics, if not nil, records request counts and latency.
	Metrics *Metrics `json:"-"`

	// Cache holds immutable results (finished analysis results,
	// extra algorithm descriptions). If nil, nothing is cached.
	Cache *ResultCache `json:"-"`

	// PollInterval is the default interval between status
	// requests in the WaitFor* methods.
	PollInterval time.Duration

	defaultRequestID string

	// APIHost and AuthToken were loaded from JADBIO_* env vars
	// (used to customize "no host/token" error messages)
	loadedFromEnv bool

	mtx            sync.Mutex
	requestLimiter *requestLimiter
}

// InsecureHTTPClient is the default http.Client used by a Client with
// Insecure==true and Client==nil.
var InsecureHTTPClient = &http.Client{
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true}}}

// DefaultSecureClient is the default http.Client used by a Client otherwise.
var DefaultSecureClient = &http.Client{}

// NewClient returns a Client for the API server at host, which is
// either a URL like "https://app.jadbio.com" or a bare host[:port]
// (https is assumed). An empty host selects DefaultHost.
func NewClient(host string) *Client {
	scheme, apiHost := splitHost(host)
	return &Client{
		Scheme:  scheme,
		APIHost: apiHost,
		Timeout: 5 * time.Minute,
	}
}

// NewClientFromEnv creates a new Client that uses the default HTTP
// client with the API endpoint and credentials given by the
// JADBIO_API_* environment variables.
func NewClientFromEnv() *Client {
	client := NewClient(os.Getenv("JADBIO_API_HOST"))
	client.AuthToken = os.Getenv("JADBIO_API_TOKEN")
	if s := strings.ToLower(os.Getenv("JADBIO_API_HOST_INSECURE")); s == "1" || s == "yes" || s == "true" {
		client.Insecure = true
	}
	client.loadedFromEnv = true
	return client
}

// NewClientFromConfig creates a new Client using the settings in cfg.
// Credentials are not used here: call LoginFromConfig (or Login) to
// obtain a token when cfg.Token is empty.
func NewClientFromConfig(cfg *Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("no host in config")
	}
	client := NewClient(cfg.Host)
	if client.APIHost == "" {
		return nil, fmt.Errorf("invalid host in config: %q", cfg.Host)
	}
	client.AuthToken = cfg.Token
	client.Insecure = cfg.Insecure
	if cfg.Timeout > 0 {
		client.Timeout = time.Duration(cfg.Timeout)
	}
	client.PollInterval = time.Duration(cfg.PollInterval)
	if cfg.CacheSize > 0 {
		cache, err := NewResultCache(cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		client.Cache = cache
	}
	return client, nil
}

func splitHost(host string) (scheme, apiHost string) {
	if host == "" {
		host = DefaultHost
	}
	if !strings.Contains(host, "://") {
		return "https", strings.TrimSuffix(host, "/")
	}
	u, err := url.Parse(host)
	if err != nil {
		return "https", ""
	}
	return u.Scheme, u.Host
}

// BaseURL returns the URL prefix shared by all API requests, e.g.
// "https://jadapi.jadbio.com/api/public/v1/".
func (c *Client) BaseURL() string {
	return c.apiURL("")
}

var reqIDGen = httpserver.IDGenerator{Prefix: "req-"}

// Do adds Authorization and X-Request-Id headers, and then sends
// req, retrying on network errors and throttling responses until
// c.Timeout expires.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if auth, _ := ctx.Value(contextKeyAuthorization{}).(string); auth != "" {
		req.Header.Set("Authorization", auth)
	} else if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if req.Header.Get("X-Request-Id") == "" {
		var reqid string
		if ctxreqid, _ := ctx.Value(contextKeyRequestID{}).(string); ctxreqid != "" {
			reqid = ctxreqid
		} else if c.defaultRequestID != "" {
			reqid = c.defaultRequestID
		} else {
			reqid = reqIDGen.Next()
		}
		req.Header.Set("X-Request-Id", reqid)
	}

	rreq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, err
	}

	cancel := context.CancelFunc(func() {})
	rclient := retryablehttp.NewClient()
	rclient.HTTPClient = c.httpClient()
	rclient.Backoff = exponentialBackoff
	rclient.Logger = nil
	if c.Timeout > 0 {
		rclient.RetryWaitMin = time.Second / 4
		rclient.RetryWaitMax = c.Timeout / 10
		rclient.RetryMax = 32
		ctx, cancel = context.WithDeadline(ctx, time.Now().Add(c.Timeout))
		rreq = rreq.WithContext(ctx)
	} else {
		rclient.RetryMax = 0
	}

	var lastResp *http.Response
	var lastRespBody io.ReadCloser
	var lastErr error
	attempts := 0
	limiter := c.getRequestLimiter()
	rclient.CheckRetry = func(ctx context.Context, resp *http.Response, respErr error) (bool, error) {
		attempts++
		limiter.Report(resp, respErr)
		if c.Timeout == 0 {
			return false, nil
		}
		retrying, err := retryPolicy(ctx, req.Method, resp, respErr)
		if retrying {
			lastResp, lastRespBody, lastErr = resp, nil, respErr
			if respErr == nil {
				// retryablehttp drains and discards the
				// body of a response it retries, so stash
				// a copy to return if we give up.
				buf, err := io.ReadAll(resp.Body)
				if err == nil {
					lastRespBody = io.NopCloser(bytes.NewReader(buf))
				} else {
					lastResp, lastErr = nil, err
				}
			}
			c.logger(ctx).WithFields(logrus.Fields{
				"RequestID": req.Header.Get("X-Request-Id"),
				"Method":    req.Method,
				"URL":       req.URL.String(),
				"Attempt":   attempts,
			}).WithError(respErr).Debug("retrying request")
		}
		return retrying, err
	}
	rclient.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		if err == nil && resp != nil {
			// Retries exhausted: let the caller see the
			// last status and body.
			if resp == lastResp && lastRespBody != nil {
				resp.Body = lastRespBody
			}
			return resp, nil
		}
		return resp, fmt.Errorf("%s %s giving up after %d attempt(s): %w", req.Method, req.URL.String(), numTries, err)
	}

	limiter.Acquire(ctx)
	if ctx.Err() != nil {
		limiter.Release()
		cancel()
		return nil, ctx.Err()
	}
	t0 := time.Now()
	resp, err := rclient.Do(rreq)
	if (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) && (lastResp != nil || lastErr != nil) {
		resp, err = lastResp, lastErr
		if err != nil {
			err = fmt.Errorf("%s %s giving up after %d attempt(s): %w", req.Method, req.URL.String(), attempts, err)
		}
		if resp != nil {
			resp.Body = lastRespBody
		}
	}
	c.Metrics.observe(ctx, req.Method, resp, err, time.Since(t0))
	if err != nil {
		limiter.Release()
		cancel()
		return nil, err
	}
	// cancel() has to wait until the caller has finished reading
	// the response body.
	resp.Body = cancelOnClose{
		ReadCloser: resp.Body,
		cancel: func() {
			limiter.Release()
			cancel()
		},
	}
	return resp, nil
}

// retryPolicy decides whether a failed attempt should be retried.
// Reads are retried on network errors, throttling, and server
// errors. Writes are retried only when the server explicitly
// declined to process them (429, 503).
func retryPolicy(ctx context.Context, method string, resp *http.Response, respErr error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if method == http.MethodGet || method == http.MethodHead {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, respErr)
	}
	if respErr != nil || resp == nil {
		return false, nil
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable, nil
}

// exponentialBackoff returns the time to wait before the given
// retry attempt: min * 2^(rand*attemptNum), capped at max. A
// Retry-After header on a 429 or 503 response overrides that,
// still clamped to [min, max].
func exponentialBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
		if s := resp.Header.Get("Retry-After"); s != "" {
			if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec >= 0 {
				return clampDuration(time.Duration(sec)*time.Second, min, max)
			} else if t, err := time.Parse(time.RFC1123, s); err == nil {
				return clampDuration(time.Until(t), min, max)
			}
		}
	}
	if attemptNum == 0 {
		return min
	}
	base := min
	if base <= 0 {
		base = time.Second / 10
	}
	wait := time.Duration(float64(base) * math.Pow(2, rand.Float64()*float64(attemptNum)))
	return clampDuration(wait, min, max)
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d > max {
		d = max
	}
	if d < min {
		d = min
	}
	return d
}

// cancelOnClose calls a provided CancelFunc when its wrapped
// ReadCloser's Close() method is called.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (coc cancelOnClose) Close() error {
	err := coc.ReadCloser.Close()
	coc.cancel()
	return err
}

// typedBody is a request body with an explicit content type.
type typedBody struct {
	contentType string
	data        []byte
}

// envelope is the wrapper around every JSON response body.
type envelope struct {
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload"`
	Message string          `json:"message"`
	Code    ID              `json:"code"`
}

const statusSuccess = "success"

// DoAndDecode performs req and unmarshals the payload of the
// response envelope into dst (dst may be nil). op names the
// operation in returned errors.
func (c *Client) DoAndDecode(op string, dst interface{}, req *http.Request) error {
	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return newTransactionError(op, req, resp, buf)
	}
	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return fmt.Errorf("%s: error decoding response: %w", op, err)
	}
	if env.Status != statusSuccess {
		return &ResponseError{Op: op, Status: env.Status, Message: env.Message, Code: string(env.Code)}
	}
	if dst == nil || len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%s: error decoding payload: %w", op, err)
	}
	return nil
}

// RequestAndDecodeContext performs an API request and unmarshals
// the response payload into dst. The given path is relative to the
// API base (e.g. "project/123"); query may be nil. If body is an io.Reader or []byte
// it is sent as-is; any other non-nil body is sent as JSON.
func (c *Client) RequestAndDecodeContext(ctx context.Context, op string, dst interface{}, method, path string, query url.Values, body interface{}) error {
	req, err := c.newRequest(ctx, op, method, path, query, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return c.DoAndDecode(op, dst, req)
}

// RequestRaw performs an API request whose response is not wrapped
// in an envelope (file upload, CSV download), and copies the
// response body to w (w may be nil).
func (c *Client) RequestRaw(ctx context.Context, op string, w io.Writer, method, path string, query url.Values, body interface{}) error {
	req, err := c.newRequest(ctx, op, method, path, query, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(resp.Body)
		return newTransactionError(op, req, resp, buf)
	}
	if w == nil {
		w = io.Discard
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, op, method, path string, query url.Values, body interface{}) (*http.Request, error) {
	if c.APIHost == "" {
		if c.loadedFromEnv {
			return nil, errors.New("JADBIO_API_HOST environment variable is not set")
		}
		return nil, errors.New("jadbio.Client cannot perform request: APIHost is not set")
	}
	urlString := c.apiURL(path)
	if len(query) > 0 {
		urlString += "?" + query.Encode()
	}
	var rdr io.Reader
	contentType := ""
	switch body := body.(type) {
	case nil:
	case typedBody:
		rdr = bytes.NewReader(body.data)
		contentType = body.contentType
	case io.Reader:
		rdr = body
		contentType = "application/octet-stream"
	case []byte:
		rdr = bytes.NewReader(body)
		contentType = "text/plain"
	case string:
		rdr = strings.NewReader(body)
		contentType = "text/plain"
	default:
		j, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(j)
		contentType = "application/json"
	}
	req, err := http.NewRequestWithContext(contextWithOperation(ctx, op), method, urlString, rdr)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.SendHeader {
		req.Header[k] = v
	}
	return req, nil
}

// WithRequestID returns a new shallow copy of c that sends the given
// X-Request-Id value (instead of a new randomly generated one) with
// each subsequent request that doesn't provide its own via context or
// header.
func (c *Client) WithRequestID(reqid string) *Client {
	cc := &Client{
		Client:           c.Client,
		Scheme:           c.Scheme,
		APIHost:          c.APIHost,
		AuthToken:        c.token(),
		Insecure:         c.Insecure,
		SendHeader:       c.SendHeader,
		Timeout:          c.Timeout,
		Logger:           c.Logger,
		Metrics:          c.Metrics,
		Cache:            c.Cache,
		PollInterval:     c.PollInterval,
		defaultRequestID: reqid,
		loadedFromEnv:    c.loadedFromEnv,
		requestLimiter:   c.getRequestLimiter(),
	}
	return cc
}

func (c *Client) token() string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.AuthToken
}

func (c *Client) setToken(token string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.AuthToken = token
}

func (c *Client) getRequestLimiter() *requestLimiter {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.requestLimiter == nil {
		c.requestLimiter = &requestLimiter{}
	}
	return c.requestLimiter
}

func (c *Client) httpClient() *http.Client {
	switch {
	case c.Client != nil:
		return c.Client
	case c.Insecure:
		return InsecureHTTPClient
	default:
		return DefaultSecureClient
	}
}

func (c *Client) apiURL(path string) string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + c.APIHost + "/" + apiPrefix + path
}
