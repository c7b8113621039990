package delivery

import (
	"strings"

	"github.com/yungbote/podium-backend/internal/domain/speech"
)

// DetectPauses reports every gap between consecutive words that is at least
// cfg.PauseThreshold long.
func DetectPauses(words []speech.TimestampedWord, cfg Config) []speech.PauseInstance {
	cfg = cfg.withDefaults()
	out := []speech.PauseInstance{}
	threshold := cfg.PauseThreshold.Seconds()

	for i := 1; i < len(words); i++ {
		prev, cur := words[i-1], words[i]
		gap := cur.Start - prev.End
		if gap < threshold {
			continue
		}
		from := i - cfg.PauseContextWords
		if from < 0 {
			from = 0
		}
		ctx := make([]string, 0, i-from)
		for _, w := range words[from:i] {
			ctx = append(ctx, w.Word)
		}
		out = append(out, speech.PauseInstance{
			Start:            prev.End,
			End:              cur.Start,
			Duration:         round(gap, 3),
			PrecedingWord:    prev.Word,
			FollowingWord:    cur.Word,
			PrecedingContext: strings.Join(ctx, " "),
		})
	}
	return out
}
