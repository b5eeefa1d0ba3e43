package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"script-rpc/message"
)

// LoggingMiddleware logs each call and its outcome at debug level. It only
// observes; the response is passed through untouched.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			logger.Debug("calling",
				zap.String("id", req.ID),
				zap.Stringer("kind", req.Kind),
				zap.String("function", req.Function),
				zap.Any("args", req.Args),
			)

			resp := next(ctx, req)

			fields := []zap.Field{
				zap.String("id", req.ID),
				zap.String("function", req.Function),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Err != nil {
				logger.Debug("call failed", append(fields, zap.Error(resp.Err))...)
			} else {
				logger.Debug("call completed", append(fields, zap.ByteString("result", resp.Result))...)
			}
			return resp
		}
	}
}
