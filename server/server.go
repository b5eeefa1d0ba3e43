// Package server implements the backend side of the wire protocol: an
// http.Handler with a function table, a middleware chain, optional endpoint
// publication and graceful shutdown.
//
// Request processing pipeline:
//
//	GET /exec?function=f&parameters=[...]
//	  → parse query → Middleware Chain → businessHandler (reflect.Call) → JSON reply
//	GET /exec?img=id
//	  → parse query → Middleware Chain → ImageSource → JSON reply
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"script-rpc/codec"
	"script-rpc/message"
	"script-rpc/middleware"
	"script-rpc/registry"
)

// ImageSource serves ?img= requests. The returned value is encoded as JSON.
type ImageSource func(ctx context.Context, id string) (any, error)

var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrNotFound        = errors.New("not found")
	// ErrInvalidArgument is wrapped by functions rejecting caller input; the
	// reply is 400 instead of 500.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Server is the backend. It registers functions and serves them over HTTP.
type Server struct {
	mu          sync.RWMutex
	functions   map[string]*function
	images      ImageSource
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(businessHandler)))
	built       sync.Once

	lifecycle  sync.Mutex // guards httpServer and listener
	httpServer *http.Server
	listener   net.Listener
	shutdown   atomic.Bool

	registry   registry.Registry // nil if not publishing
	deployment string
	endpoint   registry.Endpoint

	logger *zap.Logger
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithImageSource(src ImageSource) Option {
	return func(s *Server) { s.images = src }
}

// WithRegistry publishes ep under deployment once Serve is listening, and
// withdraws it on Shutdown.
func WithRegistry(reg registry.Registry, deployment string, ep registry.Endpoint) Option {
	return func(s *Server) {
		s.registry = reg
		s.deployment = deployment
		s.endpoint = ep
	}
}

// NewServer creates a server with an empty function table.
func NewServer(opts ...Option) *Server {
	s := &Server{
		functions: make(map[string]*function),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register exposes the exported methods of rcvr (e.g. &Catalogue{}) that have a
// supported shape, under their lowerCamel names.
func (svr *Server) Register(rcvr any) error {
	fns, err := methodsOf(rcvr)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	for name, f := range fns {
		svr.functions[name] = f
	}
	return nil
}

// RegisterFunc exposes fn under name.
func (svr *Server) RegisterFunc(name string, fn any) error {
	f, err := newFunction(name, reflect.ValueOf(fn))
	if err != nil {
		return err
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	svr.functions[name] = f
	return nil
}

// Functions returns the registered function names.
func (svr *Server) Functions() []string {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	names := make([]string, 0, len(svr.functions))
	for name := range svr.functions {
		names = append(names, name)
	}
	return names
}

// Use registers a middleware. Middlewares are applied in the order they are
// added; call Use before serving the first request.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// ServeHTTP decodes the query, runs the chain and writes the JSON reply.
// Every request path is accepted, so the handler can be mounted anywhere.
func (svr *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	svr.built.Do(func() {
		svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)
	})

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	// Replies are readable from any origin; credentials are never needed.
	w.Header().Set("Access-Control-Allow-Origin", "*")

	req, err := parseRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp := svr.handler(r.Context(), req)
	if resp.Err != nil {
		writeError(w, statusOf(resp.Err), resp.Err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp.Result)
}

func parseRequest(r *http.Request) (*message.Request, error) {
	q := r.URL.Query()
	if q.Has("img") {
		return message.NewBinaryRequest(q.Get("img")), nil
	}

	name := q.Get("function")
	if name == "" {
		return nil, errors.New("missing function parameter")
	}
	var raw []json.RawMessage
	if params := q.Get("parameters"); params != "" {
		if err := codec.Default.Decode([]byte(params), &raw); err != nil {
			return nil, fmt.Errorf("parameters must be a JSON array: %w", err)
		}
	}
	args := make([]any, len(raw))
	for i := range raw {
		args[i] = raw[i]
	}
	return message.NewRequest(name, args), nil
}

// businessHandler dispatches to the function table or the image source.
func (svr *Server) businessHandler(ctx context.Context, req *message.Request) *message.Response {
	var (
		result any
		err    error
	)
	switch req.Kind {
	case message.KindBinary:
		if svr.images == nil {
			return message.Failed(fmt.Errorf("%w: image %s", ErrNotFound, req.Function))
		}
		result, err = svr.images(ctx, req.Function)
	default:
		svr.mu.RLock()
		f, ok := svr.functions[req.Function]
		svr.mu.RUnlock()
		if !ok {
			return message.Failed(fmt.Errorf("%w: %s", ErrUnknownFunction, req.Function))
		}
		result, err = f.call(ctx, rawArgs(req.Args))
	}
	if err != nil {
		return message.Failed(err)
	}

	payload, err := codec.Default.Encode(result)
	if err != nil {
		return message.Failed(fmt.Errorf("encode result: %w", err))
	}
	return &message.Response{Result: payload}
}

func rawArgs(args []any) []json.RawMessage {
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case json.RawMessage:
			raw[i] = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				b = []byte("null")
			}
			raw[i] = b
		}
	}
	return raw
}

func statusOf(err error) int {
	var argErr *argumentError
	switch {
	case errors.Is(err, ErrUnknownFunction), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &argErr), errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, middleware.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Serve listens on address and serves until Shutdown. When a registry is
// configured the endpoint is published once the listener is up.
func (svr *Server) Serve(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener)
}

// ServeListener is Serve on an existing listener.
func (svr *Server) ServeListener(listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           svr,
		ReadHeaderTimeout: 10 * time.Second,
	}
	svr.lifecycle.Lock()
	if svr.shutdown.Load() {
		svr.lifecycle.Unlock()
		listener.Close()
		return http.ErrServerClosed
	}
	svr.listener = listener
	svr.httpServer = httpServer
	svr.lifecycle.Unlock()

	if svr.registry != nil {
		if err := svr.registry.Publish(svr.deployment, svr.endpoint, 10); err != nil {
			listener.Close()
			return fmt.Errorf("publish endpoint: %w", err)
		}
		svr.logger.Info("endpoint published",
			zap.String("deployment", svr.deployment),
			zap.String("endpoint_url", svr.endpoint.URL),
		)
	}

	svr.logger.Info("serving", zap.String("addr", listener.Addr().String()), zap.Strings("functions", svr.Functions()))
	err := httpServer.Serve(listener)
	// Shutdown makes Serve return ErrServerClosed; that is not a failure.
	if svr.shutdown.Load() && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listen address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.lifecycle.Lock()
	defer svr.lifecycle.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// Shutdown performs graceful shutdown:
//  1. Withdraw the endpoint (clients stop resolving this backend)
//  2. Set shutdown flag (so Serve's ErrServerClosed is recognized as intentional)
//  3. Stop accepting and wait for in-flight requests, up to timeout
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		if err := svr.registry.Withdraw(svr.deployment); err != nil {
			svr.logger.Warn("withdraw endpoint", zap.Error(err))
		}
	}

	svr.lifecycle.Lock()
	svr.shutdown.Store(true)
	httpServer := svr.httpServer
	svr.lifecycle.Unlock()
	if httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("timeout waiting for ongoing requests to finish: %w", err)
	}
	return nil
}
