// Package delivery derives speech-delivery metrics (fillers, pauses, pace,
// content segments, loudness and pitch rollups) from a timestamped transcript.
// Every function here is pure.
package delivery

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/yungbote/podium-backend/internal/domain/speech"
)

// EmptyAnalytics is the canonical result for transcripts with nothing to measure.
// The given words are kept as-is.
func EmptyAnalytics(words []speech.TimestampedWord) speech.DeliveryAnalytics {
	if words == nil {
		words = []speech.TimestampedWord{}
	}
	return speech.DeliveryAnalytics{
		Words:           words,
		Fillers:         []speech.FillerInstance{},
		Pauses:          []speech.PauseInstance{},
		PaceWindows:     []speech.PaceWindow{},
		ContentSegments: []speech.ContentSegment{},
		EnergyWindows:   []speech.EnergyWindow{},
		PitchWindows:    []speech.PitchWindow{},
		FillerBreakdown: map[string]int{},
	}
}

// Compute builds the analytics with DefaultConfig.
func Compute(words []speech.TimestampedWord, energy []speech.EnergyWindow, pitch []speech.PitchWindow) speech.DeliveryAnalytics {
	return ComputeWith(DefaultConfig(), words, energy, pitch)
}

// ComputeWith builds the analytics for words and optional acoustic windows.
// Words must be ascending by start time.
func ComputeWith(cfg Config, words []speech.TimestampedWord, energy []speech.EnergyWindow, pitch []speech.PitchWindow) speech.DeliveryAnalytics {
	cfg = cfg.withDefaults()
	_, total := span(words)
	if len(words) == 0 || total <= 0 {
		return EmptyAnalytics(words)
	}

	if energy == nil {
		energy = []speech.EnergyWindow{}
	}
	if pitch == nil {
		pitch = []speech.PitchWindow{}
	}

	fillers := DetectFillers(words, cfg)
	pauses := DetectPauses(words, cfg)
	pace := ComputePaceWindows(words, cfg)
	segments := ComputeContentSegments(words, cfg)
	minutes := total / 60

	out := speech.DeliveryAnalytics{
		Words:           words,
		Fillers:         fillers,
		Pauses:          pauses,
		PaceWindows:     pace,
		ContentSegments: segments,
		EnergyWindows:   energy,
		PitchWindows:    pitch,

		AverageWPM:    wordsPerMinute(len(words), total),
		TotalWords:    len(words),
		TotalDuration: round(total, 2),

		TotalFillerCount: len(fillers),
		FillersPerMinute: round(float64(len(fillers))/minutes, 2),
		FillerBreakdown:  fillerBreakdown(fillers),

		TotalPauseCount: len(pauses),
	}

	paceValues := make([]float64, len(pace))
	for i, p := range pace {
		paceValues[i] = float64(p.WPM)
	}
	out.PaceVariation = round(stddev(paceValues), 1)

	if len(pauses) > 0 {
		durations := make([]float64, len(pauses))
		for i, p := range pauses {
			durations[i] = p.Duration
		}
		out.AveragePauseDuration = round(mean(durations), 2)
		out.LongestPause = round(maxOf(durations), 2)
	}

	applyEnergyRollups(&out, energy)
	applyPitchRollups(&out, pitch)
	return out
}

func applyEnergyRollups(out *speech.DeliveryAnalytics, energy []speech.EnergyWindow) {
	if len(energy) == 0 {
		return
	}
	levels := make([]float64, len(energy))
	for i, e := range energy {
		levels[i] = e.RMSDb
	}
	out.AverageEnergyDb = round(mean(levels), 1)
	out.PeakEnergyDb = round(maxOf(levels), 1)
	out.EnergyVariation = round(stddev(levels), 1)
}

// applyPitchRollups averages pitch over voiced windows only; the voiced ratio
// averages every window.
func applyPitchRollups(out *speech.DeliveryAnalytics, pitch []speech.PitchWindow) {
	if len(pitch) == 0 {
		return
	}
	ratios := make([]float64, 0, len(pitch))
	var hz, ranges, semis []float64
	for _, p := range pitch {
		ratios = append(ratios, p.VoicedFrameRatio)
		if !p.Voiced() {
			continue
		}
		hz = append(hz, p.MedianF0Hz)
		ranges = append(ranges, p.F0RangeSemitones)
		semis = append(semis, p.MedianF0Semitones)
	}
	out.OverallVoicedRatio = round(mean(ratios), 3)
	if len(hz) == 0 {
		return
	}
	out.AveragePitchHz = round(mean(hz), 1)
	out.PitchRangeSemitones = round(mean(ranges), 2)
	out.PitchVariationSemitones = round(stddev(semis), 2)
}

func mean(v []float64) float64 {
	m, err := stats.Mean(v)
	if err != nil {
		return 0
	}
	return m
}

func stddev(v []float64) float64 {
	s, err := stats.StandardDeviationPopulation(v)
	if err != nil {
		return 0
	}
	return s
}

func maxOf(v []float64) float64 {
	m, err := stats.Max(v)
	if err != nil {
		return 0
	}
	return m
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
