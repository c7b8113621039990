package speech

// SilenceFloorDb is the RMS level reported for windows with no signal at all.
const SilenceFloorDb = -96.0

type EnergyWindow struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	RMSDb     float64 `json:"rms_db"`
}

// PitchWindow summarizes F0 over one window. A window without voiced frames is all zero.
type PitchWindow struct {
	StartTime         float64 `json:"start_time"`
	EndTime           float64 `json:"end_time"`
	MedianF0Hz        float64 `json:"median_f0_hz"`
	MedianF0Semitones float64 `json:"median_f0_semitones"`
	F0RangeSemitones  float64 `json:"f0_range_semitones"`
	F0StddevSemitones float64 `json:"f0_stddev_semitones"`
	VoicedFrameRatio  float64 `json:"voiced_frame_ratio"`
}

func (p PitchWindow) Voiced() bool { return p.VoicedFrameRatio > 0 }
