// Package cluster is the HTTP client for the target cluster. One Client is
// shared by every load generation client of a run, so the fasthttp
// connection pool is shared too and the cluster sees the configured
// connection limits, not one pool per goroutine.
package cluster

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"seabench/benchmark-engine/internal/config"
	"seabench/benchmark-engine/internal/timing"
	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/types"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	// Applied when the client options carry no total timeout.
	defaultTimeout = 10 * time.Second

	defaultMaxConnsPerHost = 128
	maxIdleConnDuration    = 90 * time.Second

	defaultReadyAttempts = 40
	defaultReadyInterval = 3 * time.Second
)

// Request describes one call against the cluster.
type Request struct {
	// Method defaults to GET.
	Method string
	// Path is absolute on the cluster, e.g. "/_cluster/health".
	Path string
	// Params are query string parameters.
	Params map[string]string
	// Headers override the client-level headers.
	Headers map[string]string
	Body    []byte
}

// Response is a completed call. The body is copied out of the transport
// buffers, so it stays valid after the next request.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// IsError reports whether the cluster answered with an error status.
func (r *Response) IsError() bool { return r.StatusCode >= 400 }

// Client talks to one target cluster. Safe for concurrent use.
type Client struct {
	hosts      []string
	http       *fasthttp.Client
	headers    map[string]string
	authHeader string
	compress   bool
	timeout    time.Duration
	next       atomic.Uint32

	readyAttempts int
	readyInterval time.Duration

	log *zap.SugaredLogger
}

// Option adjusts a Client beyond what the run-level client options carry.
type Option func(*Client)

// WithReadyProbe tunes the WaitForReady loop.
func WithReadyProbe(attempts int, interval time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.readyAttempts = attempts
		}
		if interval > 0 {
			c.readyInterval = interval
		}
	}
}

// New builds a client for the given hosts. Hosts without a scheme default
// to http. Nil options fall back to the built-in defaults.
func New(hosts []string, opts *config.ClientOptions, clientOpts ...Option) (*Client, error) {
	if len(hosts) == 0 {
		return nil, types.NewConfigurationError("no target hosts configured")
	}
	if opts == nil {
		opts = config.DefaultClientOptions()
	}

	c := &Client{
		hosts:         make([]string, 0, len(hosts)),
		headers:       opts.Headers,
		readyAttempts: defaultReadyAttempts,
		readyInterval: defaultReadyInterval,
		log:           logger.L().Sugar(),
	}

	for _, host := range hosts {
		normalized, err := normalizeHost(host)
		if err != nil {
			return nil, err
		}
		c.hosts = append(c.hosts, normalized)
	}

	c.timeout = defaultTimeout
	readTimeout := defaultTimeout
	writeTimeout := defaultTimeout
	if opts.Timeout != nil && opts.Timeout.Total > 0 {
		c.timeout = opts.Timeout.Total
		readTimeout = opts.Timeout.Total
		writeTimeout = opts.Timeout.Total
		if opts.Timeout.Read > 0 {
			readTimeout = opts.Timeout.Read
		}
		if opts.Timeout.Write > 0 {
			writeTimeout = opts.Timeout.Write
		}
	} else {
		c.log.Warnf("No request timeout in the client options, assuming default of %s", defaultTimeout)
	}

	maxConns := defaultMaxConnsPerHost
	if opts.Transport != nil {
		if opts.Transport.MaxConnsPerHost > 0 {
			maxConns = opts.Transport.MaxConnsPerHost
		}
		c.compress = opts.Transport.Compression
	}

	if opts.BasicAuth != nil && opts.BasicAuth.Username != "" {
		credentials := opts.BasicAuth.Username + ":" + opts.BasicAuth.Password
		c.authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
	}

	tlsConfig, err := opts.TLS.BuildTLSConfig()
	if err != nil {
		return nil, types.NewConfigurationError("invalid TLS settings for the target cluster: %s", err)
	}

	c.http = &fasthttp.Client{
		Name:                   "benchmark-engine",
		MaxConnsPerHost:        maxConns,
		MaxIdleConnDuration:    maxIdleConnDuration,
		ReadTimeout:            readTimeout,
		WriteTimeout:           writeTimeout,
		TLSConfig:              tlsConfig,
		DisablePathNormalizing: true,
	}

	for _, opt := range clientOpts {
		opt(c)
	}

	return c, nil
}

func normalizeHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", types.NewConfigurationError("target host must not be empty")
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	parsed, err := url.Parse(host)
	if err != nil || parsed.Host == "" {
		return "", types.NewConfigurationError("invalid target host %q", host)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", types.NewConfigurationError("unsupported scheme %q for target host %q", parsed.Scheme, host)
	}
	return strings.TrimRight(parsed.String(), "/"), nil
}

// Hosts returns the normalized target hosts.
func (c *Client) Hosts() []string {
	hosts := make([]string, len(c.hosts))
	copy(hosts, c.hosts)
	return hosts
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Do executes one request against the next host in rotation. It stamps the
// wire-level timing marks on any request context carried in ctx. An error
// is returned only for transport-level failures; HTTP error statuses come
// back as a normal Response.
func (c *Client) Do(ctx context.Context, r *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	rsp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(rsp)

	requestURL := c.buildRequest(req, r)

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	timing.MarkRequestStart(ctx, time.Now())
	err := c.http.DoDeadline(req, rsp, time.Now().Add(timeout))
	timing.MarkRequestEnd(ctx, time.Now())
	if err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return nil, types.NewTransportError(fmt.Sprintf("request %s %s timed out after %s", string(req.Header.Method()), requestURL, timeout), err)
		}
		return nil, types.NewTransportError(fmt.Sprintf("request %s %s failed", string(req.Header.Method()), requestURL), err)
	}

	return copyResponse(rsp)
}

// buildRequest fills the pooled request and returns the full URL for error
// reporting.
func (c *Client) buildRequest(req *fasthttp.Request, r *Request) string {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = fasthttp.MethodGet
	}

	path := r.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	requestURL := c.nextHost() + path
	if len(r.Params) > 0 {
		pairs := make([]string, 0, len(r.Params))
		for k, v := range r.Params {
			pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
		if strings.Contains(requestURL, "?") {
			requestURL += "&" + strings.Join(pairs, "&")
		} else {
			requestURL += "?" + strings.Join(pairs, "&")
		}
	}

	req.Header.SetMethod(method)
	req.SetRequestURI(requestURL)

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if c.authHeader != "" && len(req.Header.Peek(fasthttp.HeaderAuthorization)) == 0 {
		req.Header.Set(fasthttp.HeaderAuthorization, c.authHeader)
	}

	if len(r.Body) > 0 {
		if c.compress {
			req.SetBody(fasthttp.AppendGzipBytes(nil, r.Body))
			req.Header.Set(fasthttp.HeaderContentEncoding, "gzip")
		} else {
			req.SetBody(r.Body)
		}
		if len(req.Header.ContentType()) == 0 {
			req.Header.SetContentType("application/json")
		}
	}

	return requestURL
}

func (c *Client) nextHost() string {
	if len(c.hosts) == 1 {
		return c.hosts[0]
	}
	n := c.next.Add(1) - 1
	return c.hosts[n%uint32(len(c.hosts))]
}

// copyResponse copies the pooled response into a caller-owned one. The
// body buffer is owned by the pool, so it must be copied before release.
func copyResponse(rsp *fasthttp.Response) (*Response, error) {
	raw, err := rsp.BodyUncompressed()
	if err != nil {
		return nil, types.NewTransportError("failed to decode the response body", err)
	}
	body := make([]byte, len(raw))
	copy(body, raw)

	headers := make(map[string]string)
	rsp.Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if _, exists := headers[k]; !exists {
			headers[k] = string(value)
		}
	})

	return &Response{
		StatusCode: rsp.StatusCode(),
		Headers:    headers,
		Body:       body,
	}, nil
}

// Health fetches _cluster/health with the given query parameters. The
// response parses even when the wait condition timed out (HTTP 408), with
// TimedOut set.
func (c *Client) Health(ctx context.Context, params map[string]string) (*HealthStatus, error) {
	rsp, err := c.Do(ctx, &Request{
		Method: fasthttp.MethodGet,
		Path:   "/_cluster/health",
		Params: params,
	})
	if err != nil {
		return nil, err
	}

	var status HealthStatus
	if err := json.Unmarshal(rsp.Body, &status); err != nil {
		return nil, types.NewTransportError(fmt.Sprintf("unreadable cluster health response (HTTP %d)", rsp.StatusCode), err)
	}
	return &status, nil
}

// WaitForReady blocks until the cluster's REST layer answers a health
// probe that requires all configured hosts to have joined. The cluster
// counts as ready even when its status is red, as long as the nodes are
// there. Transport errors and HTTP 503, 401 and 408 are retried; a 404
// falls back to a _cat/indices probe for endpoints without the health API;
// anything else fails fast.
func (c *Client) WaitForReady(ctx context.Context) error {
	want := fmt.Sprintf(">=%d", len(c.hosts))

	for attempt := 1; attempt <= c.readyAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.readyInterval):
			}
		}

		rsp, err := c.Do(ctx, &Request{
			Method: fasthttp.MethodGet,
			Path:   "/_cluster/health",
			Params: map[string]string{"wait_for_nodes": want},
		})
		if err != nil {
			if isTLSMismatch(err) {
				return types.NewConfigurationError("could not connect to the cluster via https (is this an https endpoint?): %s", err)
			}
			c.log.Debugf("Cluster not reachable on attempt %d/%d: %s", attempt, c.readyAttempts, err)
			continue
		}

		switch rsp.StatusCode {
		case fasthttp.StatusServiceUnavailable, fasthttp.StatusUnauthorized, fasthttp.StatusRequestTimeout:
			c.log.Debugf("Cluster readiness probe returned status %d on attempt %d/%d", rsp.StatusCode, attempt, c.readyAttempts)
		case fasthttp.StatusNotFound:
			// No cluster health API on this endpoint. Probe the cat API
			// instead before giving up.
			catRsp, catErr := c.Do(ctx, &Request{Method: fasthttp.MethodGet, Path: "/_cat/indices"})
			if catErr == nil && !catRsp.IsError() {
				c.log.Info("Cluster health API unavailable, cat indices probe succeeded")
				return nil
			}
			return types.NewPreconditionError("cluster does not expose a usable health or cat API")
		default:
			if rsp.IsError() {
				return types.NewPreconditionError(fmt.Sprintf("cluster readiness probe returned unexpected status %d", rsp.StatusCode))
			}
			c.log.Infof("Cluster REST layer available for %s nodes after %d attempts", want, attempt)
			return nil
		}
	}

	return types.NewPreconditionError(fmt.Sprintf("cluster REST layer did not become available after %d attempts", c.readyAttempts))
}

// isTLSMismatch reports whether the transport error comes from speaking
// https to a plain http port.
func isTLSMismatch(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	return strings.Contains(err.Error(), "first record does not look like a TLS handshake")
}
