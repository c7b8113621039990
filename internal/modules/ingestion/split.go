package ingestion

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/yungbote/podium-backend/internal/domain/speech"
	"github.com/yungbote/podium-backend/internal/platform/localmedia"
	"github.com/yungbote/podium-backend/internal/platform/logger"
	"github.com/yungbote/podium-backend/internal/platform/scratch"
)

type SplitConfig struct {
	MaxBytes    int64                         `yaml:"max_bytes"`
	MaxDuration time.Duration                 `yaml:"max_duration"`
	Encoding    localmedia.AudioEncodeOptions `yaml:"-"`
}

func DefaultSplitConfig() SplitConfig {
	return SplitConfig{
		MaxBytes:    MaxTranscriptionBytes,
		MaxDuration: 1400 * time.Second,
		Encoding:    localmedia.DefaultSpeechEncoding(),
	}
}

type Splitter struct {
	log     *logger.Logger
	media   Media
	scratch *scratch.Manager
	cfg     SplitConfig
}

func NewSplitter(log *logger.Logger, media Media, sm *scratch.Manager, cfg SplitConfig) *Splitter {
	d := DefaultSplitConfig()
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = d.MaxBytes
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = d.MaxDuration
	}
	return &Splitter{log: log.With("service", "Splitter"), media: media, scratch: sm, cfg: cfg}
}

// ChunkCount returns how many chunks satisfy both the size and the duration ceiling.
func ChunkCount(sizeBytes int64, durationSec float64, maxBytes int64, maxDurationSec float64) int {
	n := 1
	if maxBytes > 0 && sizeBytes > 0 {
		if bySize := int(math.Ceil(float64(sizeBytes) / float64(maxBytes))); bySize > n {
			n = bySize
		}
	}
	if maxDurationSec > 0 && durationSec > 0 {
		if byDur := int(math.Ceil(durationSec / maxDurationSec)); byDur > n {
			n = byDur
		}
	}
	return n
}

// Split cuts path into evenly sized time chunks. A file within both ceilings
// comes back as a single chunk without re-encoding. On error the chunks
// already written are removed.
func (s *Splitter) Split(ctx context.Context, path string) (chunks []speech.ChunkInfo, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat split input: %w", err)
	}
	probe, err := s.media.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	n := ChunkCount(info.Size(), probe.DurationSeconds, s.cfg.MaxBytes, s.cfg.MaxDuration.Seconds())
	if n <= 1 {
		return []speech.ChunkInfo{{Path: path, OffsetSeconds: 0}}, nil
	}

	chunkDur := math.Floor(probe.DurationSeconds / float64(n))
	if chunkDur <= 0 {
		chunkDur = probe.DurationSeconds / float64(n)
	}
	if chunkDur <= 0 {
		return nil, fmt.Errorf("cannot split %d chunks from unknown duration", n)
	}

	defer func() {
		if err != nil {
			paths := make([]string, len(chunks))
			for i, c := range chunks {
				paths[i] = c.Path
			}
			_ = scratch.Remove(paths...)
			chunks = nil
		}
	}()

	for i := 0; i < n; i++ {
		start := float64(i) * chunkDur
		dur := chunkDur
		if i == n-1 {
			dur = 0
		}
		out := s.scratch.NewPath(".mp3")
		if err = s.media.ExtractSegment(ctx, path, out, start, dur, s.cfg.Encoding); err != nil {
			_ = scratch.Remove(out)
			return chunks, fmt.Errorf("extract chunk %d: %w", i, err)
		}
		chunks = append(chunks, speech.ChunkInfo{Path: out, OffsetSeconds: start})
	}
	s.log.Info("split audio", "chunks", n, "chunk_duration_sec", chunkDur, "duration_sec", probe.DurationSeconds)
	return chunks, nil
}
