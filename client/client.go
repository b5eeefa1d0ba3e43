// Package client is the call facade. It lets callers written against the
// script.run convention keep their shape:
//
//	ns.Google.Run().
//		WithSuccessHandler(onItems).
//		WithFailureHandler(onError).
//		Call("getItems", 42)
//
// The function name is an ordinary string, so any function the backend
// exposes can be called without declaring it here. Every Run() returns a fresh
// Runner with its own handlers; Call dispatches asynchronously and routes the
// settled outcome to exactly one handler (or to the log when none applies).
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"script-rpc/codec"
	"script-rpc/config"
	"script-rpc/middleware"
	"script-rpc/transport"
)

// Client owns one transport. Runners, Namespaces and the synchronous helpers
// all share it.
type Client struct {
	transport *transport.HTTPTransport
	logger    *zap.Logger
	ctx       context.Context // parent of every asynchronous call
}

type options struct {
	logger        *zap.Logger
	ctx           context.Context
	transportOpts []transport.Option
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithContext sets the parent context of calls started through Runner.Call.
// Cancelling it aborts them.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithTransportOptions passes options through to transport.New.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) { o.transportOpts = append(o.transportOpts, opts...) }
}

// WithRateLimit installs a client-side token bucket. rps <= 0 is a no-op.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.transportOpts = append(o.transportOpts, transport.WithMiddleware(middleware.RateLimitMiddleware(rps, burst)))
	}
}

// New builds a client for cfg. A missing or placeholder endpoint is logged at
// error level and every call then fails with a transport.ConfigurationError.
func New(cfg config.ClientConfig, opts ...Option) *Client {
	o := &options{
		logger: zap.NewNop(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}

	topts := append([]transport.Option{transport.WithLogger(o.logger)}, o.transportOpts...)
	return &Client{
		transport: transport.New(cfg, topts...),
		logger:    o.logger,
		ctx:       o.ctx,
	}
}

// Run returns a fresh Runner.
func (c *Client) Run() *Runner {
	return newRunner(c, "")
}

// Invoke calls function synchronously and decodes the reply into reply
// (which may be nil to discard it).
func (c *Client) Invoke(ctx context.Context, function string, reply any, args ...any) error {
	res, err := c.transport.Invoke(ctx, function, args)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	if err := codec.Default.Decode(res, reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", function, err)
	}
	return nil
}

// FetchBinary fetches a binary resource by identifier and returns the raw JSON reply.
func (c *Client) FetchBinary(ctx context.Context, resourceID string) (json.RawMessage, error) {
	return c.transport.FetchBinary(ctx, resourceID)
}

// FetchImage fetches a binary resource and decodes its base64 payload.
func (c *Client) FetchImage(ctx context.Context, resourceID string) (*codec.Image, []byte, error) {
	res, err := c.transport.FetchBinary(ctx, resourceID)
	if err != nil {
		return nil, nil, err
	}
	return codec.DecodeImage(res)
}

// Transport exposes the underlying transport.
func (c *Client) Transport() *transport.HTTPTransport {
	return c.transport
}

// Close cancels in-flight calls. Their failure handlers still run.
func (c *Client) Close() error {
	return c.transport.Close()
}
