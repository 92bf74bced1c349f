// Package transport issues the two wire primitives spec'd for the
// control plane: a Gen1 REST call and a Gen2+ JSON-RPC call. It owns
// the HTTP connection pooling, retry/backoff, and timeout policy so
// every higher layer (catalogue discovery, the parameter engine)
// shares one dialect-agnostic notion of "make this call against this
// device".
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shelly-fleet/control-plane/internal/logging"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// Defaults: 5s per-request timeout, one retry on connection-
// refused/timeout with a 250ms backoff, idle connections reaped after
// 30s.
const (
	DefaultTimeout    = 5 * time.Second
	DefaultRetries    = 1
	DefaultRetryDelay = 250 * time.Millisecond
	idleConnTimeout   = 30 * time.Second
)

// RPCError is a JSON-RPC error object returned by a Gen2+ device,
// distinct from an HTTP-layer failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Retryable RPC errors never include the -104-class (deadline
// exceeded) family; those must not be retried.
func (e *RPCError) retryable() bool { return false }

// Client performs Gen1Call and Gen2Call against any device, pooling
// connections per host.
type Client struct {
	http    *http.Client
	logger  *logging.Logger
	timeout time.Duration
	retries int
	delay   time.Duration
	rpcID   int64
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithRetry overrides the retry count and backoff delay.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) { c.retries = attempts; c.delay = delay }
}

// WithLogger overrides the client's logger.
func WithLogger(l *logging.Logger) Option { return func(c *Client) { c.logger = l } }

// New builds a Client with a connection pool shared across all hosts
// it is used against (one Client is meant to be shared fleet-wide).
func New(opts ...Option) *Client {
	c := &Client{
		timeout: DefaultTimeout,
		retries: DefaultRetries,
		delay:   DefaultRetryDelay,
		logger:  logging.GetDefault(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     idleConnTimeout,
		},
	}
	return c
}

// classify maps a transport-level failure to the spec's error
// taxonomy.
func classify(ctx context.Context, err error) shelly.ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return shelly.ErrCancelled
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return shelly.ErrTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return shelly.ErrTimeout
	}
	return shelly.ErrUnreachable
}

// TransportError wraps a classified transport failure.
type TransportError struct {
	Kind shelly.ErrorKind
	Err  error
}

func (e *TransportError) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// retryableHTTP reports whether a connection-level error (not an HTTP
// status) should be retried: connection-refused and timeouts only.
func retryableHTTP(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "context deadline exceeded")
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.http.Do(req.WithContext(ctx))
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		if attempt >= c.retries || !retryableHTTP(err) {
			return nil, lastErr
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.delay):
		}
	}
}

// Gen1Call issues an HTTP GET to http://{ip}/{subpath}, with query
// carrying write parameters per the Gen1 GET-as-write convention. It
// takes no HTTP-method argument; every call is a GET.
func (c *Client) Gen1Call(ctx context.Context, device *shelly.Device, subpath string, query url.Values) (json.RawMessage, int, error) {
	if !device.Reachable() {
		return nil, 0, &TransportError{Kind: shelly.ErrUnreachable, Err: fmt.Errorf("device %s has no known IP address", device.ID)}
	}
	u := fmt.Sprintf("http://%s/%s", device.IPAddress, strings.TrimPrefix(subpath, "/"))
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, &TransportError{Kind: shelly.ErrInternal, Err: err}
	}
	start := time.Now()
	resp, err := c.do(ctx, req)
	if err != nil {
		kind := classify(ctx, err)
		c.logger.LogDeviceOperation("gen1_call", device.IPAddress, device.ID, err)
		return nil, 0, &TransportError{Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		// Some Gen1 endpoints (e.g. /reboot, /ota) return plain text.
		raw = json.RawMessage(`{}`)
	}
	c.logger.LogDeviceOperation("gen1_call", device.IPAddress, device.ID, nil)
	_ = start
	return raw, resp.StatusCode, nil
}

// rpcEnvelope mirrors the JSON-RPC request/response shape used by
// Gen2+ devices over POST /rpc.
type rpcRequest struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// Gen2Call POSTs {id, method, params} to http://{ip}/rpc. A JSON-RPC
// error object is returned distinctly from a transport/HTTP failure.
func (c *Client) Gen2Call(ctx context.Context, device *shelly.Device, method string, params interface{}) (json.RawMessage, *RPCError, error) {
	if !device.Reachable() {
		return nil, nil, &TransportError{Kind: shelly.ErrUnreachable, Err: fmt.Errorf("device %s has no known IP address", device.ID)}
	}
	id := atomic.AddInt64(&c.rpcID, 1)
	body, err := json.Marshal(rpcRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, nil, &TransportError{Kind: shelly.ErrInternal, Err: err}
	}
	u := fmt.Sprintf("http://%s/rpc", device.IPAddress)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, nil, &TransportError{Kind: shelly.ErrInternal, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		kind := classify(ctx, err)
		c.logger.LogDeviceOperation("gen2_call:"+method, device.IPAddress, device.ID, err)
		return nil, nil, &TransportError{Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, &TransportError{Kind: shelly.ErrHTTPError, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, &TransportError{Kind: shelly.ErrInternal, Err: err}
	}
	c.logger.LogDeviceOperation("gen2_call:"+method, device.IPAddress, device.ID, nil)
	if rpcResp.Error != nil {
		return nil, rpcResp.Error, nil
	}
	return rpcResp.Result, nil, nil
}

// EncodeGen1Value renders a value as a Gen1 query-string literal.
// Booleans are the lowercase literal strings "true"/"false" — never
// "on"/"off" — this distinction is owned by the coercion layer, not
// the device.
func EncodeGen1Value(v interface{}) (string, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	case nil:
		return "null", nil
	case string:
		return t, nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("jsonpath: unsupported Gen1 value type %T", v)
	}
}
