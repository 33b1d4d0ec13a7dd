package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"checkinbot/internal/metrics"
	logx "checkinbot/pkg/logx"
)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWAccess enforces the command's Access level and GroupOnly flag. Refused
// senders get the command's denial text and the handler is not run.
func MWAccess() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if req.router == nil || req.cmd == nil {
				return next(ctx, req)
			}
			ok, denied, err := req.router.allowed(ctx, req)
			if err != nil {
				return fmt.Errorf("admin lookup: %w", err)
			}
			if !ok {
				_ = req.Reply(ctx, denied)
				return ErrDenied
			}
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs every command and counts it by result.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Duration("dur", d),
			}
			result := "ok"
			switch {
			case errors.Is(err, ErrDenied):
				result = "denied"
				logger.Debug("request denied", fields...)
			case err != nil:
				result = "error"
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				logger.Info("request ok", fields...)
			default:
				logger.Debug("request ok", fields...)
			}
			metrics.CommandsTotal.WithLabelValues(req.Command, result).Inc()
			return err
		}
	}
}
