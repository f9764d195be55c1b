package telegram

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	kit "chekitimer/internal/transport"
	logx "chekitimer/pkg/logx"
)

type HandlerFunc func(ctx context.Context, msg kit.Message) (kit.Reply, error)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg kit.Message) (kit.Reply, error) {
			if d <= 0 {
				return next(ctx, msg)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, msg)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg kit.Message) (rep kit.Reply, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// MWOwnerOnly drops messages from anyone outside owners. An empty owner list
// drops everything.
func MWOwnerOnly(owners []int64, log logx.Logger) Middleware {
	allowed := make(map[int64]struct{}, len(owners))
	for _, id := range owners {
		allowed[id] = struct{}{}
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg kit.Message) (kit.Reply, error) {
			if _, ok := allowed[msg.FromID]; !ok {
				log.Debug("ignoring non-owner", logx.Int64("from_id", msg.FromID), logx.String("from", msg.FromUsername))
				return kit.Reply{}, nil
			}
			return next(ctx, msg)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg kit.Message) (kit.Reply, error) {
			start := time.Now()
			rep, err := next(ctx, msg)
			d := time.Since(start)

			name, _ := parseCommand(msg.Text)
			fields := []logx.Field{
				logx.Int64("chat_id", msg.ChatID),
				logx.Int("thread_id", msg.ThreadID),
				logx.Int64("from_id", msg.FromID),
				logx.String("cmd", name),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil:
				log.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				log.Info("request ok", fields...)
			default:
				log.Debug("request ok", fields...)
			}
			return rep, err
		}
	}
}
