package delivery

import (
	"math"
	"strings"

	"github.com/yungbote/podium-backend/internal/domain/speech"
	"github.com/yungbote/podium-backend/internal/pkg/timewindow"
)

// bucketWords assigns each word to the window containing its midpoint.
func bucketWords(words []speech.TimestampedWord, ws []timewindow.Window) [][]speech.TimestampedWord {
	out := make([][]speech.TimestampedWord, len(ws))
	for _, w := range words {
		if i := timewindow.Locate(ws, (w.Start+w.End)/2); i >= 0 {
			out[i] = append(out[i], w)
		}
	}
	return out
}

func wordsPerMinute(count int, seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(math.Round(float64(count) / (seconds / 60)))
}

// span returns the first start and the implied total duration of words.
func span(words []speech.TimestampedWord) (start, total float64) {
	if len(words) == 0 {
		return 0, 0
	}
	start = words[0].Start
	return start, words[len(words)-1].End - start
}

// ComputePaceWindows buckets words into cfg.PaceWindow-sized windows.
func ComputePaceWindows(words []speech.TimestampedWord, cfg Config) []speech.PaceWindow {
	cfg = cfg.withDefaults()
	start, total := span(words)
	ws := timewindow.Tile(start, total, cfg.PaceWindow.Seconds())
	buckets := bucketWords(words, ws)

	out := make([]speech.PaceWindow, 0, len(ws))
	for i, w := range ws {
		n := len(buckets[i])
		out = append(out, speech.PaceWindow{
			StartTime: round(w.Start, 2),
			EndTime:   round(w.End, 2),
			WPM:       wordsPerMinute(n, w.Duration()),
			WordCount: n,
		})
	}
	return out
}

// ComputeContentSegments buckets words into cfg.SegmentWindow-sized windows and
// labels each by its opening words.
func ComputeContentSegments(words []speech.TimestampedWord, cfg Config) []speech.ContentSegment {
	cfg = cfg.withDefaults()
	start, total := span(words)
	ws := timewindow.Tile(start, total, cfg.SegmentWindow.Seconds())
	buckets := bucketWords(words, ws)

	out := make([]speech.ContentSegment, 0, len(ws))
	for i, w := range ws {
		texts := make([]string, 0, len(buckets[i]))
		for _, word := range buckets[i] {
			texts = append(texts, word.Word)
		}
		out = append(out, speech.ContentSegment{
			StartTime:  round(w.Start, 2),
			EndTime:    round(w.End, 2),
			Text:       strings.Join(texts, " "),
			WPM:        wordsPerMinute(len(texts), w.Duration()),
			WordCount:  len(texts),
			TopicLabel: topicLabel(texts, cfg.TopicLabelWords),
		})
	}
	return out
}

func topicLabel(words []string, max int) string {
	if len(words) == 0 {
		return emptySegmentLabel
	}
	if len(words) <= max {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:max], " ") + "..."
}
