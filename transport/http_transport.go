// Package transport implements the client-side HTTP transport.
//
// Every logical call is exactly one GET against the configured endpoint. Each
// in-flight call is a pendingCall holding its own cancel func and deadline, so
// a timeout cancels that request and nothing else:
//
//	goroutine-1 ──Invoke(getItems)──┐            pending[id-1] {cancel, deadline}
//	goroutine-2 ──Invoke(save)──────┼──→ HTTP ──→ pending[id-2] {cancel, deadline}
//	goroutine-3 ──FetchBinary(img)──┘            pending[id-3] {cancel, deadline}
//
// A call settles exactly once: with a JSON result, or with one of
// ConfigurationError, TimeoutError, HTTPError, NetworkError, DecodeError.
// Its pending entry and timer are released on every exit path.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"script-rpc/codec"
	"script-rpc/config"
	"script-rpc/message"
	"script-rpc/middleware"
)

const (
	paramFunction   = "function"
	paramParameters = "parameters"
	paramImage      = "img"

	actionSegment = "/exec"

	// bytes of a malformed body kept on DecodeError
	bodySnippet = 256
)

// errCallDeadline is the cancel cause of a call's own timer, so a caller's
// deadline is not mistaken for it.
var errCallDeadline = errors.New("call deadline exceeded")

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPTransport owns the endpoint and the default timeout. It is safe for
// concurrent use; the only state shared between calls is the immutable
// configuration and the pending-call bookkeeping.
type HTTPTransport struct {
	cfg      config.ClientConfig
	cfgErr   error // non-nil: every call fails fast with it
	endpoint *url.URL

	client      HTTPClient
	codec       codec.Codec
	logger      *zap.Logger
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(roundTrip)))

	pending  sync.Map // map[string]*pendingCall, keyed by request ID
	inflight atomic.Int64
	closed   atomic.Bool
}

type pendingCall struct {
	cancel   context.CancelFunc
	deadline time.Time
}

type Option func(*HTTPTransport)

// WithHTTPClient replaces the HTTP client. The default has no cookie jar, so
// no credentials are ever sent.
func WithHTTPClient(c HTTPClient) Option {
	return func(t *HTTPTransport) { t.client = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *HTTPTransport) { t.logger = l }
}

func WithCodec(c codec.Codec) Option {
	return func(t *HTTPTransport) { t.codec = c }
}

// WithMiddleware appends client-side middlewares, applied in order around the round trip.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(t *HTTPTransport) { t.middlewares = append(t.middlewares, mws...) }
}

// New builds a transport for cfg. An unusable configuration does not fail
// construction: it is reported loudly here and every call then fails with a
// ConfigurationError.
func New(cfg config.ClientConfig, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		cfg:    cfg.WithDefaults(),
		client: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		codec:  codec.Default,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.endpoint, t.cfgErr = parseEndpoint(t.cfg)
	if t.cfgErr != nil {
		t.logger.Error("endpoint url not configured; every call will fail until a deployment url is set",
			zap.String("endpoint_url", t.cfg.EndpointURL),
			zap.Error(t.cfgErr),
		)
	}

	mws := t.middlewares
	if t.cfg.Debug {
		mws = append([]middleware.Middleware{middleware.LoggingMiddleware(t.logger)}, mws...)
		t.logger.Debug("transport initialized",
			zap.String("endpoint_url", t.cfg.EndpointURL),
			zap.Duration("timeout", t.cfg.Timeout),
		)
	}
	t.handler = middleware.Chain(mws...)(t.roundTrip)
	return t
}

func parseEndpoint(cfg config.ClientConfig) (*url.URL, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	u, err := url.Parse(cfg.EndpointURL)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, &ConfigurationError{Err: fmt.Errorf("endpoint url %q is not an absolute http(s) url", cfg.EndpointURL)}
	}
	return u, nil
}

// Config returns the (defaulted) configuration the transport was built with.
func (t *HTTPTransport) Config() config.ClientConfig {
	return t.cfg
}

// ConfigErr reports why calls would fail fast, or nil when configured.
func (t *HTTPTransport) ConfigErr() error {
	return t.cfgErr
}

// Invoke calls function with args and returns the backend's JSON reply.
func (t *HTTPTransport) Invoke(ctx context.Context, function string, args []any) (json.RawMessage, error) {
	resp := t.Do(ctx, message.NewRequest(function, args))
	return resp.Result, resp.Err
}

// FetchBinary fetches a binary resource through the img convention. The reply
// is still JSON (see codec.DecodeImage).
func (t *HTTPTransport) FetchBinary(ctx context.Context, resourceID string) (json.RawMessage, error) {
	resp := t.Do(ctx, message.NewBinaryRequest(resourceID))
	return resp.Result, resp.Err
}

// Do runs req through the middleware chain and the HTTP round trip.
func (t *HTTPTransport) Do(ctx context.Context, req *message.Request) *message.Response {
	if t.cfgErr != nil {
		return message.Failed(t.cfgErr)
	}
	if t.closed.Load() {
		return message.Failed(&NetworkError{Err: ErrClosed})
	}
	return t.handler(ctx, req)
}

// Pending returns the number of calls whose request has not settled yet.
func (t *HTTPTransport) Pending() int {
	return int(t.inflight.Load())
}

// Close cancels every in-flight call; they settle with a NetworkError
// wrapping ErrClosed. Later calls fail the same way.
func (t *HTTPTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.pending.Range(func(_, value any) bool {
		value.(*pendingCall).cancel()
		return true
	})
	return nil
}

// roundTrip is the innermost handler: one GET, classified.
func (t *HTTPTransport) roundTrip(ctx context.Context, req *message.Request) *message.Response {
	target, err := t.urlFor(req)
	if err != nil {
		return message.Failed(err)
	}

	ctx, settle := t.begin(ctx, req.ID)
	defer settle()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return message.Failed(&NetworkError{Err: err})
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return message.Failed(t.classify(ctx, err))
	}
	defer cleanlyCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return message.Failed(&HTTPError{StatusCode: resp.StatusCode, StatusText: statusText(resp)})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return message.Failed(t.classify(ctx, err))
	}

	var result json.RawMessage
	if err := t.codec.Decode(body, &result); err != nil {
		return message.Failed(&DecodeError{Err: err, Body: snippet(body)})
	}
	return &message.Response{Result: result}
}

// begin registers a pendingCall with its own deadline. The returned func
// cancels the timer and removes the entry; it must run on every exit path.
func (t *HTTPTransport) begin(parent context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithTimeoutCause(parent, t.cfg.Timeout, errCallDeadline)
	deadline, _ := ctx.Deadline()

	t.pending.Store(id, &pendingCall{cancel: cancel, deadline: deadline})
	t.inflight.Add(1)
	if t.closed.Load() {
		cancel()
	}

	return ctx, func() {
		cancel()
		t.pending.Delete(id)
		t.inflight.Add(-1)
	}
}

func (t *HTTPTransport) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(context.Cause(ctx), errCallDeadline):
		return &TimeoutError{Timeout: t.cfg.Timeout}
	case t.closed.Load() && errors.Is(ctx.Err(), context.Canceled):
		return &NetworkError{Err: fmt.Errorf("%w: %w", ErrClosed, err)}
	case ctx.Err() != nil:
		// the caller's context ended first
		return &NetworkError{Err: fmt.Errorf("%w: %w", ctx.Err(), err)}
	default:
		return &NetworkError{Err: err}
	}
}

func (t *HTTPTransport) urlFor(req *message.Request) (string, error) {
	u := *t.endpoint
	q := u.Query()

	switch req.Kind {
	case message.KindBinary:
		u.Path = strings.TrimSuffix(u.Path, actionSegment) + actionSegment
		u.RawPath = ""
		q = url.Values{}
		q.Set(paramImage, req.Function)
	default:
		args := req.Args
		if args == nil {
			args = []any{}
		}
		params, err := t.codec.Encode(args)
		if err != nil {
			return "", fmt.Errorf("encode arguments for %s: %w", req.Function, err)
		}
		q.Set(paramFunction, req.Function)
		q.Set(paramParameters, string(params))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
}

func snippet(body []byte) []byte {
	if len(body) > bodySnippet {
		body = body[:bodySnippet]
	}
	return append([]byte(nil), body...)
}

// cleanlyCloseBody drains and closes a response body so the connection can be reused.
func cleanlyCloseBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
