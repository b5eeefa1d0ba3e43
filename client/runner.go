package client

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"script-rpc/message"
)

// ErrRunnerUsed is the error of a second Call on the same Runner.
var ErrRunnerUsed = errors.New("runner already invoked; start a new chain with Run()")

type (
	SuccessHandler func(result json.RawMessage)
	FailureHandler func(err error)
)

type runnerState uint8

const (
	stateUnconfigured runnerState = iota // no handler attached yet
	stateConfiguring                     // at least one With*Handler call
	stateInvoked                         // Call made, waiting for the transport
	stateSettled                         // outcome routed
)

type handlers struct {
	onSuccess SuccessHandler
	onFailure FailureHandler
}

// Runner is one call chain. Configure it with WithSuccessHandler and
// WithFailureHandler (any order, last registration wins), then Call once.
type Runner struct {
	client  *Client
	surface string

	mu       sync.Mutex
	state    runnerState
	handlers handlers
}

func newRunner(c *Client, surface string) *Runner {
	return &Runner{client: c, surface: surface}
}

func (r *Runner) WithSuccessHandler(f SuccessHandler) *Runner {
	r.configure(func(h *handlers) { h.onSuccess = f }, "WithSuccessHandler")
	return r
}

func (r *Runner) WithFailureHandler(f FailureHandler) *Runner {
	r.configure(func(h *handlers) { h.onFailure = f }, "WithFailureHandler")
	return r
}

func (r *Runner) configure(set func(*handlers), method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state >= stateInvoked {
		r.client.logger.Warn("handler registered after the call was made; ignored",
			zap.String("surface", r.surface),
			zap.String("method", method),
		)
		return
	}
	set(&r.handlers)
	r.state = stateConfiguring
}

// Call dispatches function with args and returns immediately. The returned
// Call's Done channel receives it once the outcome has been routed.
func (r *Runner) Call(function string, args ...any) *Call {
	req := message.NewRequest(function, args)
	call := newCall(req)

	r.mu.Lock()
	if r.state >= stateInvoked {
		r.mu.Unlock()
		r.client.logger.Warn("runner reused", zap.String("surface", r.surface), zap.String("function", function))
		call.Error = ErrRunnerUsed
		call.done()
		return call
	}
	topLevel := r.state == stateUnconfigured
	h := r.handlers
	r.state = stateInvoked
	r.mu.Unlock()

	go r.dispatch(req, call, h, topLevel)
	return call
}

func (r *Runner) dispatch(req *message.Request, call *Call, h handlers, topLevel bool) {
	resp := r.client.transport.Do(r.client.ctx, req)
	call.Result, call.Error = resp.Result, resp.Err

	r.route(call, h, topLevel)

	r.mu.Lock()
	r.state = stateSettled
	r.mu.Unlock()
	call.done()
}

// route hands the outcome to exactly one place. A Runner used without any
// handler logs both outcomes; a configured one only logs unhandled failures.
func (r *Runner) route(call *Call, h handlers, topLevel bool) {
	logger := r.client.logger.With(
		zap.String("surface", r.surface),
		zap.String("id", call.ID),
		zap.String("function", call.Function),
	)
	defer func() {
		if p := recover(); p != nil {
			logger.Error("handler panicked", zap.Any("panic", p))
		}
	}()

	if call.Error != nil {
		switch {
		case h.onFailure != nil:
			h.onFailure(call.Error)
		case topLevel:
			logger.Error("call failed", zap.Error(call.Error))
		default:
			logger.Error("unhandled error", zap.Error(call.Error))
		}
		return
	}

	switch {
	case h.onSuccess != nil:
		h.onSuccess(call.Result)
	case topLevel:
		logger.Info("call completed", zap.ByteString("result", call.Result))
	}
}

// Call is an asynchronous call handle.
type Call struct {
	ID       string
	Function string
	Args     []any
	Result   json.RawMessage
	Error    error
	Done     chan *Call // receives the Call once, after routing
}

func newCall(req *message.Request) *Call {
	return &Call{
		ID:       req.ID,
		Function: req.Function,
		Args:     req.Args,
		Done:     make(chan *Call, 1),
	}
}

func (c *Call) done() {
	c.Done <- c
}
