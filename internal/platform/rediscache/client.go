// Package rediscache holds the Redis-backed transcript cache and the
// analysis progress channel.
package rediscache

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/podium-backend/internal/platform/envutil"
)

type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
	// TTL bounds how long a chunk transcript is reused.
	TTL     time.Duration `yaml:"ttl"`
	Prefix  string        `yaml:"prefix"`
	Channel string        `yaml:"channel"`
}

func ConfigFromEnv() Config {
	return Config{
		Addr:     envutil.String("REDIS_ADDR", ""),
		Password: envutil.String("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
		TTL:      envutil.Duration("TRANSCRIPT_CACHE_TTL", 7*24*time.Hour),
		Prefix:   envutil.String("TRANSCRIPT_CACHE_PREFIX", "podium:transcript:"),
		Channel:  envutil.String("REDIS_CHANNEL", "podium:analysis-events"),
	}
}

// Dial connects and pings. Callers treat an error as "run without Redis".
func Dial(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
