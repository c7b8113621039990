package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/yungbote/podium-backend/internal/domain/speech"
	"github.com/yungbote/podium-backend/internal/platform/localmedia"
	"github.com/yungbote/podium-backend/internal/platform/logger"
	"github.com/yungbote/podium-backend/internal/platform/scratch"
)

// MaxTranscriptionBytes is the per-request upload ceiling of the transcription API.
const MaxTranscriptionBytes int64 = 25 * 1024 * 1024

// Media is the subset of localmedia.Tools the preparation stages use.
type Media interface {
	Probe(ctx context.Context, path string) (*localmedia.ProbeResult, error)
	Transcode(ctx context.Context, inPath, outPath string, opts localmedia.AudioEncodeOptions) error
	ExtractSegment(ctx context.Context, inPath, outPath string, startSec, durSec float64, opts localmedia.AudioEncodeOptions) error
}

type PrepareConfig struct {
	MaxBytes         int64                         `yaml:"max_bytes"`
	NativeExtensions []string                      `yaml:"native_extensions"`
	Encoding         localmedia.AudioEncodeOptions `yaml:"-"`
}

func DefaultPrepareConfig() PrepareConfig {
	return PrepareConfig{
		MaxBytes:         MaxTranscriptionBytes,
		NativeExtensions: []string{"mp3", "mp4", "mpeg", "mpga", "m4a", "wav", "webm"},
		Encoding:         localmedia.DefaultSpeechEncoding(),
	}
}

// Prepared is a file ready for transcription.
type Prepared struct {
	Chunks []speech.ChunkInfo
	// AllTempPaths lists every scratch file Prepare created. The input path is never included.
	AllTempPaths []string
	// AnalysisPath is the single file the acoustic analyzer should decode.
	AnalysisPath string
	Transcoded   bool
}

type Preparer struct {
	log      *logger.Logger
	media    Media
	scratch  *scratch.Manager
	splitter *Splitter
	cfg      PrepareConfig
	native   map[string]struct{}
}

func NewPreparer(log *logger.Logger, media Media, sm *scratch.Manager, splitter *Splitter, cfg PrepareConfig) *Preparer {
	d := DefaultPrepareConfig()
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = d.MaxBytes
	}
	if len(cfg.NativeExtensions) == 0 {
		cfg.NativeExtensions = d.NativeExtensions
	}
	native := make(map[string]struct{}, len(cfg.NativeExtensions))
	for _, ext := range cfg.NativeExtensions {
		native[strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")] = struct{}{}
	}
	return &Preparer{
		log:      log.With("service", "Preparer"),
		media:    media,
		scratch:  sm,
		splitter: splitter,
		cfg:      cfg,
		native:   native,
	}
}

// IsNative reports whether the transcription API accepts path's extension as-is.
func (p *Preparer) IsNative(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	_, ok := p.native[ext]
	return ok
}

// Prepare decides whether localPath can be sent as-is. Otherwise it checks for
// an audio stream, transcodes to the speech codec and splits the result.
// On error every scratch file created here has already been removed.
func (p *Preparer) Prepare(ctx context.Context, localPath string) (out *Prepared, err error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}
	size := info.Size()

	if p.IsNative(localPath) && size <= p.cfg.MaxBytes {
		p.log.Debug("native format under size ceiling, skipping transcode", "path", filepath.Base(localPath), "size", humanize.Bytes(uint64(size)))
		return &Prepared{
			Chunks:       []speech.ChunkInfo{{Path: localPath, OffsetSeconds: 0}},
			AnalysisPath: localPath,
		}, nil
	}

	probe, err := p.media.Probe(ctx, localPath)
	if err != nil {
		return nil, err
	}
	if !probe.HasAudio {
		return nil, ErrNoAudioTrack
	}

	var created []string
	defer func() {
		if err != nil {
			if rmErr := scratch.Remove(created...); rmErr != nil {
				p.log.Warn("remove prepare scratch files failed", "error", rmErr)
			}
		}
	}()

	compressed := p.scratch.NewPath(".mp3")
	created = append(created, compressed)
	if err = p.media.Transcode(ctx, localPath, compressed, p.cfg.Encoding); err != nil {
		return nil, fmt.Errorf("transcode: %w", err)
	}
	if ci, statErr := os.Stat(compressed); statErr == nil {
		p.log.Info("transcoded source",
			"source_size", humanize.Bytes(uint64(size)),
			"compressed_size", humanize.Bytes(uint64(ci.Size())),
			"duration_sec", probe.DurationSeconds,
		)
	}

	chunks, err := p.splitter.Split(ctx, compressed)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	for _, c := range chunks {
		if c.Path != compressed {
			created = append(created, c.Path)
		}
	}
	return &Prepared{
		Chunks:       chunks,
		AllTempPaths: created,
		AnalysisPath: compressed,
		Transcoded:   true,
	}, nil
}
