package localmedia

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/podium-backend/internal/platform/ctxutil"
	"github.com/yungbote/podium-backend/internal/platform/envutil"
	"github.com/yungbote/podium-backend/internal/platform/logger"
)

// Tools wraps the ffmpeg and ffprobe binaries.
//
// REQUIRED BINARIES in the runtime image: ffmpeg, ffprobe.
//
// Calls are synchronous and meant for background jobs, not request handlers.
type Tools interface {
	AssertReady(ctx context.Context) error

	Probe(ctx context.Context, path string) (*ProbeResult, error)
	Transcode(ctx context.Context, inPath, outPath string, opts AudioEncodeOptions) error
	// ExtractSegment re-encodes [startSec, startSec+durSec) of inPath. durSec <= 0 runs to end of input.
	ExtractSegment(ctx context.Context, inPath, outPath string, startSec, durSec float64, opts AudioEncodeOptions) error
	DecodePCM(ctx context.Context, path string, sampleRate int) ([]float32, error)
}

type ProbeResult struct {
	HasAudio        bool
	HasVideo        bool
	DurationSeconds float64
	FormatName      string
	AudioCodec      string
}

// AudioEncodeOptions describes the normalized codec. Zero fields take the
// speech defaults: mono, 16 kHz, 32 kb/s MP3.
type AudioEncodeOptions struct {
	SampleRateHz int
	Channels     int
	BitrateKbps  int
	Codec        string
}

func DefaultSpeechEncoding() AudioEncodeOptions {
	return AudioEncodeOptions{SampleRateHz: 16000, Channels: 1, BitrateKbps: 32, Codec: "libmp3lame"}
}

func (o AudioEncodeOptions) withDefaults() AudioEncodeOptions {
	d := DefaultSpeechEncoding()
	if o.SampleRateHz <= 0 {
		o.SampleRateHz = d.SampleRateHz
	}
	if o.Channels <= 0 {
		o.Channels = d.Channels
	}
	if o.BitrateKbps <= 0 {
		o.BitrateKbps = d.BitrateKbps
	}
	if strings.TrimSpace(o.Codec) == "" {
		o.Codec = d.Codec
	}
	return o
}

func (o AudioEncodeOptions) args() []string {
	return []string{
		"-vn",
		"-ac", strconv.Itoa(o.Channels),
		"-ar", strconv.Itoa(o.SampleRateHz),
		"-c:a", o.Codec,
		"-b:a", fmt.Sprintf("%dk", o.BitrateKbps),
	}
}

// runner executes a binary and returns stdout. stderr is folded into the error.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s failed: %w; out=%s", filepath.Base(name), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

type tools struct {
	log *logger.Logger
	run runner

	ffmpegPath  string
	ffprobePath string

	probeTimeout   time.Duration
	defaultTimeout time.Duration
}

func New(log *logger.Logger) Tools {
	return &tools{
		log:            log.With("service", "MediaTools"),
		run:            execRunner,
		ffmpegPath:     envutil.String("FFMPEG_PATH", "ffmpeg"),
		ffprobePath:    envutil.String("FFPROBE_PATH", "ffprobe"),
		probeTimeout:   30 * time.Second,
		defaultTimeout: 10 * time.Minute,
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	return nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

func parseProbe(raw []byte) (*ProbeResult, error) {
	var p ffprobeOutput
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	res := &ProbeResult{FormatName: p.Format.FormatName}
	res.DurationSeconds, _ = strconv.ParseFloat(strings.TrimSpace(p.Format.Duration), 64)
	for _, s := range p.Streams {
		switch s.CodecType {
		case "audio":
			if !res.HasAudio {
				res.AudioCodec = s.CodecName
			}
			res.HasAudio = true
			if res.DurationSeconds <= 0 {
				res.DurationSeconds, _ = strconv.ParseFloat(strings.TrimSpace(s.Duration), 64)
			}
		case "video":
			res.HasVideo = true
		}
	}
	return res, nil
}

func (m *tools) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx = ctxutil.Default(ctx)
	if path == "" {
		return nil, fmt.Errorf("path required")
	}
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	out, err := m.run(ctx, m.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}
	return parseProbe(out)
}

func (m *tools) Transcode(ctx context.Context, inPath, outPath string, opts AudioEncodeOptions) error {
	return m.encode(ctx, inPath, outPath, nil, opts)
}

func (m *tools) ExtractSegment(ctx context.Context, inPath, outPath string, startSec, durSec float64, opts AudioEncodeOptions) error {
	var seek []string
	if startSec > 0 {
		seek = append(seek, "-ss", formatSeconds(startSec))
	}
	if durSec > 0 {
		seek = append(seek, "-t", formatSeconds(durSec))
	}
	return m.encode(ctx, inPath, outPath, seek, opts)
}

func (m *tools) encode(ctx context.Context, inPath, outPath string, inputArgs []string, opts AudioEncodeOptions) error {
	ctx = ctxutil.Default(ctx)
	if inPath == "" || outPath == "" {
		return fmt.Errorf("inPath and outPath required")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("mkdir outPath dir: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	args := []string{"-y", "-v", "error", "-nostdin"}
	args = append(args, inputArgs...)
	args = append(args, "-i", inPath)
	args = append(args, opts.withDefaults().args()...)
	args = append(args, outPath)

	started := time.Now()
	if _, err := m.run(ctx, m.ffmpegPath, args...); err != nil {
		return fmt.Errorf("ffmpeg encode %s: %w", filepath.Base(inPath), err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("audio output missing at %s", outPath)
	}
	m.log.Debug("ffmpeg encode done", "in", filepath.Base(inPath), "out", filepath.Base(outPath), "elapsed_ms", time.Since(started).Milliseconds())
	return nil
}

// DecodePCM decodes path to mono little-endian float32 samples at sampleRate.
func (m *tools) DecodePCM(ctx context.Context, path string, sampleRate int) ([]float32, error) {
	ctx = ctxutil.Default(ctx)
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	out, err := m.run(ctx, m.ffmpegPath,
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"pipe:1",
	)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", filepath.Base(path), err)
	}
	return decodeF32LE(out), nil
}

// decodeF32LE converts raw little-endian float32 bytes. A trailing partial
// sample is dropped.
func decodeF32LE(raw []byte) []float32 {
	n := len(raw) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
