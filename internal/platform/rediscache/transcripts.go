package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/podium-backend/internal/domain/speech"
)

// kv is the part of the Redis client the cache uses.
type kv interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

type TranscriptCache struct {
	rdb    kv
	ttl    time.Duration
	prefix string
}

func NewTranscriptCache(rdb *goredis.Client, cfg Config) *TranscriptCache {
	return newTranscriptCache(rdb, cfg)
}

func newTranscriptCache(rdb kv, cfg Config) *TranscriptCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	return &TranscriptCache{rdb: rdb, ttl: cfg.TTL, prefix: cfg.Prefix}
}

func (c *TranscriptCache) Get(ctx context.Context, key string) (*speech.ChunkTranscript, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var t speech.ChunkTranscript
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, false, fmt.Errorf("decode cached transcript: %w", err)
	}
	if t.Words == nil {
		t.Words = []speech.TimestampedWord{}
	}
	return &t, true, nil
}

func (c *TranscriptCache) Set(ctx context.Context, key string, t *speech.ChunkTranscript) error {
	if t == nil {
		return nil
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+key, raw, c.ttl).Err()
}
