package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"slack_scheduler/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func StartRedisSizeCollector(ctx context.Context, client *redis.Client, interval time.Duration, logger zerolog.Logger) {
	if client == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		update := func() {
			info, err := client.Info(ctx, "memory").Result()
			if err != nil {
				metrics.IncRedisError(opGet)
				if ctx.Err() == nil {
					logger.Debug().Err(err).Msg("redis info memory")
				}
				return
			}
			if n, ok := parseUsedMemory(info); ok {
				metrics.SetRedisCacheSizeBytes(n)
			}
		}

		update()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				update()
			}
		}
	}()
}

// ищем строку вида: used_memory:123456
func parseUsedMemory(info string) (int64, bool) {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "used_memory:") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "used_memory:")), 10, 64)
		return n, err == nil
	}
	return 0, false
}
