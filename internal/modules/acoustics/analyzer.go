// Package acoustics measures loudness and pitch over fixed time windows of a
// mono PCM signal.
package acoustics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/yungbote/podium-backend/internal/domain/speech"
	"github.com/yungbote/podium-backend/internal/pkg/timewindow"
	"github.com/yungbote/podium-backend/internal/platform/logger"
)

// PCMDecoder turns a media file into mono float PCM at sampleRate.
type PCMDecoder interface {
	DecodePCM(ctx context.Context, path string, sampleRate int) ([]float32, error)
}

type Config struct {
	SampleRate   int           `yaml:"sample_rate"`
	Window       time.Duration `yaml:"window"`
	Frame        time.Duration `yaml:"frame"`
	Hop          time.Duration `yaml:"hop"`
	MinHz        float64       `yaml:"min_hz"`
	MaxHz        float64       `yaml:"max_hz"`
	YINThreshold float64       `yaml:"yin_threshold"`
}

func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		Window:       30 * time.Second,
		Frame:        30 * time.Millisecond,
		Hop:          10 * time.Millisecond,
		MinHz:        defaultMinHz,
		MaxHz:        defaultMaxHz,
		YINThreshold: defaultYINThreshold,
	}
}

type Result struct {
	Duration float64               `json:"duration"`
	Energy   []speech.EnergyWindow `json:"energy_windows"`
	Pitch    []speech.PitchWindow  `json:"pitch_windows"`
}

type Analyzer struct {
	log     *logger.Logger
	decoder PCMDecoder
	cfg     Config
}

func NewAnalyzer(log *logger.Logger, decoder PCMDecoder, cfg Config) *Analyzer {
	if cfg.SampleRate <= 0 {
		cfg = DefaultConfig()
	}
	return &Analyzer{log: log.With("service", "AcousticAnalyzer"), decoder: decoder, cfg: cfg}
}

// Analyze decodes path once and computes energy and pitch windows over it.
func (a *Analyzer) Analyze(ctx context.Context, path string) (*Result, error) {
	started := time.Now()
	samples, err := a.decoder.DecodePCM(ctx, path, a.cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("decode pcm: %w", err)
	}
	res := AnalyzeSamples(samples, a.cfg)
	a.log.Debug("acoustic analysis done",
		"samples", len(samples),
		"duration_sec", res.Duration,
		"windows", len(res.Energy),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return &res, nil
}

// AnalyzeSamples computes both window sets over the same time tiling.
func AnalyzeSamples(samples []float32, cfg Config) Result {
	if cfg.SampleRate <= 0 {
		cfg = DefaultConfig()
	}
	sr := float64(cfg.SampleRate)
	total := float64(len(samples)) / sr
	ws := timewindow.Tile(0, total, cfg.Window.Seconds())
	return Result{
		Duration: total,
		Energy:   energyWindows(samples, sr, ws),
		Pitch:    pitchWindows(samples, cfg, ws),
	}
}

func energyWindows(samples []float32, sr float64, ws []timewindow.Window) []speech.EnergyWindow {
	out := make([]speech.EnergyWindow, 0, len(ws))
	for _, w := range ws {
		from := int(math.Round(w.Start * sr))
		to := int(math.Round(w.End * sr))
		if w.Last || to > len(samples) {
			to = len(samples)
		}
		if from > to {
			from = to
		}
		out = append(out, speech.EnergyWindow{
			StartTime: round(w.Start, 2),
			EndTime:   round(w.End, 2),
			RMSDb:     round(rmsDb(samples[from:to]), 1),
		})
	}
	return out
}

func rmsDb(samples []float32) float64 {
	if len(samples) == 0 {
		return speech.SilenceFloorDb
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return speech.SilenceFloorDb
	}
	return math.Max(20*math.Log10(rms), speech.SilenceFloorDb)
}

type frameTally struct {
	frames int
	voiced []float64
}

func pitchWindows(samples []float32, cfg Config, ws []timewindow.Window) []speech.PitchWindow {
	sr := float64(cfg.SampleRate)
	frameLen := int(math.Round(cfg.Frame.Seconds() * sr))
	hop := int(math.Round(cfg.Hop.Seconds() * sr))
	if hop <= 0 {
		hop = 1
	}

	tallies := make([]frameTally, len(ws))
	if frameLen > 0 {
		for start := 0; start+frameLen <= len(samples); start += hop {
			center := (float64(start) + float64(frameLen)/2) / sr
			i := timewindow.Locate(ws, center)
			if i < 0 {
				continue
			}
			tallies[i].frames++
			hz, ok := detectPitchYIN(samples[start:start+frameLen], cfg.SampleRate, cfg.YINThreshold, cfg.MaxHz)
			if !ok || hz < cfg.MinHz || hz > cfg.MaxHz {
				continue
			}
			tallies[i].voiced = append(tallies[i].voiced, hz)
		}
	}

	out := make([]speech.PitchWindow, 0, len(ws))
	for i, w := range ws {
		pw := speech.PitchWindow{StartTime: round(w.Start, 2), EndTime: round(w.End, 2)}
		t := tallies[i]
		if t.frames == 0 || len(t.voiced) == 0 {
			out = append(out, pw)
			continue
		}
		semis := make([]float64, len(t.voiced))
		for k, hz := range t.voiced {
			semis[k] = semitones(hz)
		}
		median, _ := stats.Median(t.voiced)
		p10, _ := stats.PercentileNearestRank(semis, 10)
		p90, _ := stats.PercentileNearestRank(semis, 90)
		sd, _ := stats.StandardDeviationPopulation(semis)

		pw.MedianF0Hz = round(median, 1)
		pw.MedianF0Semitones = round(semitones(median), 2)
		pw.F0RangeSemitones = round(p90-p10, 2)
		pw.F0StddevSemitones = round(sd, 2)
		pw.VoicedFrameRatio = round(float64(len(t.voiced))/float64(t.frames), 3)
		out = append(out, pw)
	}
	return out
}

// semitones converts Hz to semitones relative to 1 Hz.
func semitones(hz float64) float64 {
	return 12 * math.Log2(hz)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
