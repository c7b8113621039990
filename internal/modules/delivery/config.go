package delivery

import "time"

// Config holds the thresholds of the analytics engine. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// PauseThreshold is the minimum gap between two words reported as a pause.
	PauseThreshold time.Duration `yaml:"pause_threshold"`
	// PhraseMaxGap is the largest gap allowed between words of a multi-word filler.
	PhraseMaxGap time.Duration `yaml:"phrase_max_gap"`
	// PauseContextWords is how many words before a pause are kept as context.
	PauseContextWords int `yaml:"pause_context_words"`

	PaceWindow    time.Duration `yaml:"pace_window"`
	SegmentWindow time.Duration `yaml:"segment_window"`

	// TopicLabelWords caps the number of words used for a segment label.
	TopicLabelWords int `yaml:"topic_label_words"`

	FillerPhrases []string `yaml:"filler_phrases"`
	FillerWords   []string `yaml:"filler_words"`
}

const emptySegmentLabel = "(no speech)"

func DefaultConfig() Config {
	return Config{
		PauseThreshold:    1500 * time.Millisecond,
		PhraseMaxGap:      500 * time.Millisecond,
		PauseContextWords: 5,
		PaceWindow:        30 * time.Second,
		SegmentWindow:     120 * time.Second,
		TopicLabelWords:   8,
		FillerPhrases:     []string{"you know", "i mean", "kind of", "sort of"},
		FillerWords:       []string{"um", "uh", "like", "basically", "so", "right", "actually", "well", "literally"},
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PauseThreshold <= 0 {
		c.PauseThreshold = d.PauseThreshold
	}
	if c.PhraseMaxGap <= 0 {
		c.PhraseMaxGap = d.PhraseMaxGap
	}
	if c.PauseContextWords <= 0 {
		c.PauseContextWords = d.PauseContextWords
	}
	if c.PaceWindow <= 0 {
		c.PaceWindow = d.PaceWindow
	}
	if c.SegmentWindow <= 0 {
		c.SegmentWindow = d.SegmentWindow
	}
	if c.TopicLabelWords <= 0 {
		c.TopicLabelWords = d.TopicLabelWords
	}
	if len(c.FillerPhrases) == 0 {
		c.FillerPhrases = d.FillerPhrases
	}
	if len(c.FillerWords) == 0 {
		c.FillerWords = d.FillerWords
	}
	return c
}
