package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// MonitorRedis instruments r with tracing and metrics and logs its traffic at debug level.
// name tells the leaderboard and pub/sub clients apart in logs.
func MonitorRedis(name string, r redis.UniversalClient) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument metrics: %w", err)
	}
	r.AddHook(redisLog{client: name})
	return nil
}

type redisLog struct {
	client string
}

func (h redisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := hook(ctx, network, addr)
		if err != nil {
			slog.WarnContext(ctx, "redis: dial failed", "client", h.client, "addr", addr, "error", err)
			return nil, err
		}
		slog.InfoContext(ctx, "redis: connected", "client", h.client, "network", network, "addr", addr)
		return conn, nil
	}
}

func (h redisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmd)
		h.log(ctx, "redis: command", cmd.Name(), time.Since(start), err)
		return err
	}
}

func (h redisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmds)
		h.log(ctx, "redis: pipeline", fmt.Sprintf("%d commands", len(cmds)), time.Since(start), err)
		return err
	}
}

func (h redisLog) log(ctx context.Context, msg, what string, took time.Duration, err error) {
	if err != nil && !expectedRedisErr(err) {
		slog.WarnContext(ctx, msg, "client", h.client, "cmd", what, "duration", took, "error", err)
		return
	}
	slog.DebugContext(ctx, msg, "client", h.client, "cmd", what, "duration", took, "error", err)
}

// expectedRedisErr reports errors that are part of normal operation: a missing key,
// or a WATCH transaction that lost a race and will be retried by its caller.
func expectedRedisErr(err error) bool {
	return errors.Is(err, redis.Nil) || errors.Is(err, redis.TxFailedErr)
}
