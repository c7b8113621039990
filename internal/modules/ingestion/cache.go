package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/yungbote/podium-backend/internal/domain/speech"
	"github.com/yungbote/podium-backend/internal/observability"
	"github.com/yungbote/podium-backend/internal/platform/logger"
)

// TranscriptCache stores chunk transcripts by content key.
type TranscriptCache interface {
	Get(ctx context.Context, key string) (*speech.ChunkTranscript, bool, error)
	Set(ctx context.Context, key string, t *speech.ChunkTranscript) error
}

// CachedTranscriber serves repeated chunks from a cache. Cache failures are
// logged and never fail a transcription.
type CachedTranscriber struct {
	log       *logger.Logger
	inner     Transcriber
	cache     TranscriptCache
	namespace string
}

// NewCachedTranscriber wraps inner. namespace should identify the backend and
// model so that switching providers does not serve stale transcripts.
func NewCachedTranscriber(log *logger.Logger, inner Transcriber, cache TranscriptCache, namespace string) *CachedTranscriber {
	return &CachedTranscriber{
		log:       log.With("service", "CachedTranscriber"),
		inner:     inner,
		cache:     cache,
		namespace: namespace,
	}
}

func (c *CachedTranscriber) Transcribe(ctx context.Context, chunkPath string) (*speech.ChunkTranscript, error) {
	key, err := c.key(chunkPath)
	if err != nil {
		c.log.Warn("hash chunk failed, bypassing cache", "error", err)
		return c.inner.Transcribe(ctx, chunkPath)
	}
	if hit, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("transcript cache read failed", "error", err)
	} else if ok {
		c.log.Debug("transcript cache hit", "key", key)
		observability.Current().IncCacheLookup(true)
		return hit, nil
	}
	observability.Current().IncCacheLookup(false)

	res, err := c.inner.Transcribe(ctx, chunkPath)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, res); err != nil {
		c.log.Warn("transcript cache write failed", "error", err)
	}
	return res, nil
}

func (c *CachedTranscriber) key(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return c.namespace + ":" + hex.EncodeToString(h.Sum(nil)), nil
}
