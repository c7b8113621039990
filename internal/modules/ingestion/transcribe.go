package ingestion

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/podium-backend/internal/domain/speech"
)

// DefaultConcurrency is how many chunks are transcribed at once.
const DefaultConcurrency = 3

// Transcriber is a speech-to-text backend. Word times are relative to the chunk.
type Transcriber interface {
	Transcribe(ctx context.Context, chunkPath string) (*speech.ChunkTranscript, error)
}

type MergedTranscript struct {
	Text  string
	Words []speech.TimestampedWord
}

// TranscribeAll transcribes chunks with at most limit calls in flight and
// merges the results in chunk order with each chunk's offset applied.
// The first failure cancels the remaining work and is returned.
func TranscribeAll(ctx context.Context, t Transcriber, chunks []speech.ChunkInfo, limit int) (*MergedTranscript, error) {
	if len(chunks) == 0 {
		return &MergedTranscript{Words: []speech.TimestampedWord{}}, nil
	}
	if limit < 1 {
		limit = 1
	}
	workers := limit
	if workers > len(chunks) {
		workers = len(chunks)
	}

	results := make([]*speech.ChunkTranscript, len(chunks))
	var next atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				idx := int(next.Add(1) - 1)
				if idx >= len(chunks) {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := t.Transcribe(gctx, chunks[idx].Path)
				if err != nil {
					return fmt.Errorf("transcribe chunk %d: %w", idx, err)
				}
				if res == nil {
					res = &speech.ChunkTranscript{}
				}
				results[idx] = &speech.ChunkTranscript{
					Text:  strings.TrimSpace(res.Text),
					Words: speech.Shift(res.Words, chunks[idx].OffsetSeconds),
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &MergedTranscript{Words: []speech.TimestampedWord{}}
	texts := make([]string, 0, len(results))
	for _, r := range results {
		merged.Words = append(merged.Words, r.Words...)
		if r.Text != "" {
			texts = append(texts, r.Text)
		}
	}
	merged.Text = strings.Join(texts, " ")
	return merged, nil
}
