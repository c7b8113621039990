package delivery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/podium-backend/internal/domain/speech"
)

// Summary renders the headline metrics as short plain text for prompt building
// and report captions.
func Summary(a speech.DeliveryAnalytics) string {
	if a.TotalWords == 0 {
		return "No speech was detected in the recording."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d words over %s at an average of %d WPM (variation %.1f).",
		a.TotalWords, clock(a.TotalDuration), a.AverageWPM, a.PaceVariation)

	fmt.Fprintf(&b, " %s (%.2f per minute)", plural(a.TotalFillerCount, "filler"), a.FillersPerMinute)
	if top := topFillers(a.FillerBreakdown, 3); top != "" {
		b.WriteString(", mostly " + top)
	}
	b.WriteString(".")

	switch a.TotalPauseCount {
	case 0:
		b.WriteString(" No long pauses.")
	case 1:
		fmt.Fprintf(&b, " 1 long pause of %.1fs.", a.LongestPause)
	default:
		fmt.Fprintf(&b, " %s averaging %.1fs, longest %.1fs.",
			plural(a.TotalPauseCount, "long pause"), a.AveragePauseDuration, a.LongestPause)
	}
	if len(a.EnergyWindows) > 0 {
		fmt.Fprintf(&b, " Loudness averaged %.1f dB (peak %.1f dB, variation %.1f dB).",
			a.AverageEnergyDb, a.PeakEnergyDb, a.EnergyVariation)
	}
	if a.AveragePitchHz > 0 {
		fmt.Fprintf(&b, " Pitch averaged %.0f Hz with a %.1f semitone range and %.1f semitone variation.",
			a.AveragePitchHz, a.PitchRangeSemitones, a.PitchVariationSemitones)
	}
	return b.String()
}

func topFillers(breakdown map[string]int, n int) string {
	type kv struct {
		phrase string
		count  int
	}
	list := make([]kv, 0, len(breakdown))
	for p, c := range breakdown {
		list = append(list, kv{p, c})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].phrase < list[j].phrase
	})
	if len(list) > n {
		list = list[:n]
	}
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = fmt.Sprintf("%q x%d", e.phrase, e.count)
	}
	return strings.Join(parts, ", ")
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func clock(seconds float64) string {
	s := int(seconds + 0.5)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
