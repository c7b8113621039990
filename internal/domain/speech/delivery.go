package speech

type FillerInstance struct {
	Phrase      string  `json:"phrase"`
	Timestamp   float64 `json:"timestamp"`
	WordIndices []int   `json:"word_indices"`
}

type PauseInstance struct {
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Duration         float64 `json:"duration"`
	PrecedingWord    string  `json:"preceding_word"`
	FollowingWord    string  `json:"following_word"`
	PrecedingContext string  `json:"preceding_context"`
}

type PaceWindow struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	WPM       int     `json:"wpm"`
	WordCount int     `json:"word_count"`
}

type ContentSegment struct {
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Text       string  `json:"text"`
	WPM        int     `json:"wpm"`
	WordCount  int     `json:"word_count"`
	TopicLabel string  `json:"topic_label"`
}

// DeliveryAnalytics is the full metrics bundle for one recording.
// Values are never mutated after construction.
type DeliveryAnalytics struct {
	Words           []TimestampedWord `json:"words"`
	Fillers         []FillerInstance  `json:"fillers"`
	Pauses          []PauseInstance   `json:"pauses"`
	PaceWindows     []PaceWindow      `json:"pace_windows"`
	ContentSegments []ContentSegment  `json:"content_segments"`
	EnergyWindows   []EnergyWindow    `json:"energy_windows"`
	PitchWindows    []PitchWindow     `json:"pitch_windows"`

	AverageWPM    int     `json:"average_wpm"`
	PaceVariation float64 `json:"pace_variation"`
	TotalWords    int     `json:"total_words"`
	TotalDuration float64 `json:"total_duration"`

	TotalFillerCount int            `json:"total_filler_count"`
	FillersPerMinute float64        `json:"fillers_per_minute"`
	FillerBreakdown  map[string]int `json:"filler_breakdown"`

	TotalPauseCount      int     `json:"total_pause_count"`
	AveragePauseDuration float64 `json:"average_pause_duration"`
	LongestPause         float64 `json:"longest_pause"`

	AverageEnergyDb float64 `json:"average_energy_db"`
	PeakEnergyDb    float64 `json:"peak_energy_db"`
	EnergyVariation float64 `json:"energy_variation"`

	AveragePitchHz          float64 `json:"average_pitch_hz"`
	PitchRangeSemitones     float64 `json:"pitch_range_semitones"`
	PitchVariationSemitones float64 `json:"pitch_variation_semitones"`
	OverallVoicedRatio      float64 `json:"overall_voiced_ratio"`
}
