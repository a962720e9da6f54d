package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	logx "bioscout/pkg/logx"
)

// CommandDuration observes handler latency by command and outcome.
var CommandDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "bioscout_command_duration_seconds",
		Help:    "Chat command handler latency",
		Buckets: []float64{.05, .25, 1, 5, 15, 60, 300},
	},
	[]string{"command", "result"}, // "ok", "error", "timeout"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// MWTimeout bounds the handler; d <= 0 leaves it unbounded.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

func reqLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

// MWPanicRecover turns a handler panic into an error so one bad update
// cannot take a dispatch worker down.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					reqLogger(log, req).Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWObserve logs the outcome and records CommandDuration. Slow requests
// stay visible at INFO.
func MWObserve(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			result := "ok"
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				result = "timeout"
			case err != nil:
				result = "error"
			}
			CommandDuration.WithLabelValues(req.Command, result).Observe(took.Seconds())

			logger := reqLogger(log, req)
			fields := []logx.Field{logx.String("kind", string(req.Update.Kind)), logx.Duration("dur", took)}
			switch {
			case err != nil:
				logger.Warn("request failed", append(fields, logx.String("result", result), logx.Err(err))...)
			case took >= 750*time.Millisecond:
				logger.Info("request ok", fields...)
			default:
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}
