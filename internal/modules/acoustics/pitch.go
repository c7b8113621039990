package acoustics

// DetectPitch estimates the fundamental frequency of frame with the YIN
// difference-function method. It returns false when no period clears the
// aperiodicity threshold, which is the case for silence and noise.
func DetectPitch(frame []float32, sampleRate int) (float64, bool) {
	return detectPitchYIN(frame, sampleRate, defaultYINThreshold, defaultMaxHz)
}

const (
	defaultYINThreshold = 0.15
	defaultMinHz        = 50.0
	defaultMaxHz        = 600.0
)

func detectPitchYIN(frame []float32, sampleRate int, threshold, maxHz float64) (float64, bool) {
	half := len(frame) / 2
	if sampleRate <= 0 || half < 3 {
		return 0, false
	}
	tauMin := int(float64(sampleRate) / maxHz)
	if tauMin < 2 {
		tauMin = 2
	}
	if tauMin >= half-1 {
		return 0, false
	}

	diff := make([]float64, half)
	for tau := 1; tau < half; tau++ {
		var sum float64
		for j := 0; j < half; j++ {
			d := float64(frame[j]) - float64(frame[j+tau])
			sum += d * d
		}
		diff[tau] = sum
	}

	// Cumulative mean normalized difference.
	cmnd := make([]float64, half)
	cmnd[0] = 1
	var running float64
	for tau := 1; tau < half; tau++ {
		running += diff[tau]
		if running == 0 {
			cmnd[tau] = 1
			continue
		}
		cmnd[tau] = diff[tau] * float64(tau) / running
	}

	tau := -1
	for t := tauMin; t < half; t++ {
		if cmnd[t] >= threshold {
			continue
		}
		for t+1 < half && cmnd[t+1] < cmnd[t] {
			t++
		}
		tau = t
		break
	}
	if tau < 0 {
		return 0, false
	}

	period := refineTau(cmnd, tau)
	if period <= 0 {
		return 0, false
	}
	return float64(sampleRate) / period, true
}

// refineTau places the minimum between samples with parabolic interpolation.
func refineTau(cmnd []float64, tau int) float64 {
	if tau <= 0 || tau >= len(cmnd)-1 {
		return float64(tau)
	}
	s0, s1, s2 := cmnd[tau-1], cmnd[tau], cmnd[tau+1]
	denom := 2 * (2*s1 - s2 - s0)
	if denom == 0 {
		return float64(tau)
	}
	return float64(tau) + (s2-s0)/denom
}
