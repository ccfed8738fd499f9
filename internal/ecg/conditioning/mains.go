package conditioning

import (
	"math"

	"github.com/mjibson/go-dsp/spectral"
	"github.com/mjibson/go-dsp/window"

	"github.com/banshee-data/ecg.report/internal/ecg/ecgstat"
)

// mainsRatio is how far the mains line must stand above the surrounding
// spectrum to count as interference.
const mainsRatio = 10.0

// DetectMains estimates the power spectrum of x with Welch's method and
// reports 50 or 60 Hz when that line dominates its neighbourhood (bins
// within 10 Hz, excluding the 2 Hz around the line). It returns false when
// neither does, or when the window is too short or fs too low to resolve
// the line.
func DetectMains(x []float64, fs float64) (float64, bool) {
	const nfft = 256
	if !(fs > 0) || len(x) < nfft {
		return 0, false
	}
	pxx, freqs := spectral.Pwelch(x, fs, &spectral.PwelchOptions{
		NFFT:     nfft,
		Noverlap: nfft / 2,
		Window:   window.Hann,
	})

	best, bestRatio := 0.0, mainsRatio
	for _, hz := range []float64{50, 60} {
		if hz+2 >= fs/2 {
			continue
		}
		var line float64
		var around []float64
		for i, f := range freqs {
			d := math.Abs(f - hz)
			switch {
			case d <= 1.5:
				line = math.Max(line, pxx[i])
			case d > 2 && d <= 10:
				around = append(around, pxx[i])
			}
		}
		if len(around) == 0 {
			continue
		}
		floor := ecgstat.Median(around)
		if !(floor > 0) {
			floor = math.SmallestNonzeroFloat64
		}
		if r := line / floor; r > bestRatio {
			best, bestRatio = hz, r
		}
	}
	return best, best > 0
}
