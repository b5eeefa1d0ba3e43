package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"script-rpc/message"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件，超出速率的调用立即返回 ErrRateLimited，不排队
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.Failed(ErrRateLimited)
			}
			return next(ctx, req)
		}
	}
}
