package middleware

import (
	"context"

	"script-rpc/message"
)

// HandlerFunc performs one call and returns its settled outcome. The transport's
// HTTP round trip and the backend's dispatcher both have this shape.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件：Chain(A, B)(h) 依次执行 A、B、h
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
