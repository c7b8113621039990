package speech

// TimestampedWord is one recognized word with absolute start/end times in seconds.
type TimestampedWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ChunkInfo is a transcribable audio file and its offset within the original recording.
type ChunkInfo struct {
	Path          string  `json:"path"`
	OffsetSeconds float64 `json:"offset_seconds"`
}

// ChunkTranscript is what a speech-to-text backend returns for one chunk.
// Word times are relative to the start of the chunk.
type ChunkTranscript struct {
	Text  string            `json:"text"`
	Words []TimestampedWord `json:"words"`
}

// Shift returns a copy of words with offset added to every start and end.
func Shift(words []TimestampedWord, offset float64) []TimestampedWord {
	out := make([]TimestampedWord, len(words))
	for i, w := range words {
		out[i] = TimestampedWord{Word: w.Word, Start: w.Start + offset, End: w.End + offset}
	}
	return out
}
