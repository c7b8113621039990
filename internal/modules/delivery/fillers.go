package delivery

import (
	"sort"
	"strings"
	"unicode"

	"github.com/yungbote/podium-backend/internal/domain/speech"
)

// normalizeToken lowercases a word and strips punctuation, keeping inner apostrophes.
func normalizeToken(w string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'' || r == '’':
			return '\''
		default:
			return -1
		}
	}, w)
	return strings.Trim(s, "'")
}

type phrase struct {
	text   string
	tokens []string
}

func compilePhrases(raw []string) []phrase {
	out := make([]phrase, 0, len(raw))
	for _, p := range raw {
		var toks []string
		for _, f := range strings.Fields(p) {
			if t := normalizeToken(f); t != "" {
				toks = append(toks, t)
			}
		}
		if len(toks) == 0 {
			continue
		}
		out = append(out, phrase{text: strings.Join(toks, " "), tokens: toks})
	}
	return out
}

// DetectFillers finds filler phrases and words. Multi-word phrases are matched
// first and the words they consume are never matched again, so no word index
// appears in more than one instance.
func DetectFillers(words []speech.TimestampedWord, cfg Config) []speech.FillerInstance {
	cfg = cfg.withDefaults()
	out := []speech.FillerInstance{}
	if len(words) == 0 {
		return out
	}

	tokens := make([]string, len(words))
	for i, w := range words {
		tokens[i] = normalizeToken(w.Word)
	}
	consumed := make([]bool, len(words))
	maxGap := cfg.PhraseMaxGap.Seconds()

	phrases := compilePhrases(cfg.FillerPhrases)
	for i := 0; i < len(words); i++ {
		if consumed[i] {
			continue
		}
		for _, p := range phrases {
			if !matchPhrase(words, tokens, consumed, i, p.tokens, maxGap) {
				continue
			}
			idx := make([]int, len(p.tokens))
			for k := range p.tokens {
				idx[k] = i + k
				consumed[i+k] = true
			}
			out = append(out, speech.FillerInstance{
				Phrase:      p.text,
				Timestamp:   words[i].Start,
				WordIndices: idx,
			})
			i += len(p.tokens) - 1
			break
		}
	}

	single := make(map[string]struct{}, len(cfg.FillerWords))
	for _, w := range cfg.FillerWords {
		if t := normalizeToken(w); t != "" {
			single[t] = struct{}{}
		}
	}
	for i, tok := range tokens {
		if consumed[i] || tok == "" {
			continue
		}
		if _, ok := single[tok]; !ok {
			continue
		}
		consumed[i] = true
		out = append(out, speech.FillerInstance{
			Phrase:      tok,
			Timestamp:   words[i].Start,
			WordIndices: []int{i},
		})
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].Timestamp < out[b].Timestamp })
	return out
}

func matchPhrase(words []speech.TimestampedWord, tokens []string, consumed []bool, at int, want []string, maxGap float64) bool {
	if at+len(want) > len(words) {
		return false
	}
	for k, tok := range want {
		j := at + k
		if consumed[j] || tokens[j] != tok {
			return false
		}
		if k > 0 && words[j].Start-words[j-1].End > maxGap {
			return false
		}
	}
	return true
}

// fillerBreakdown counts instances per phrase.
func fillerBreakdown(fillers []speech.FillerInstance) map[string]int {
	out := make(map[string]int, len(fillers))
	for _, f := range fillers {
		out[f.Phrase]++
	}
	return out
}
