// Package rpeak locates R-peaks on Lead II with a Pan-Tompkins style
// pipeline and derives RR intervals and heart rate.
//
// The squared-derivative energy is searched three times with different
// refractory and threshold presets. The pass whose RR sequence is most
// consistent with the previous cycle wins; see Detect.
package rpeak

import (
	"cmp"
	"math"
	"slices"

	"github.com/banshee-data/ecg.report/internal/ecg/conditioning"
	"github.com/banshee-data/ecg.report/internal/ecg/ecgstat"
	"github.com/banshee-data/ecg.report/internal/optional"
)

// Physiological limits.
const (
	MinRRms = 200.0  // 300 bpm
	MaxRRms = 6000.0 // 10 bpm
	MinHR   = 10.0
	MaxHR   = 300.0

	// RefractorySeconds is the minimum spacing of accepted peaks.
	RefractorySeconds = 0.200
	// IntegrationSeconds is the moving-window integration width.
	IntegrationSeconds = 0.150
	// searchSeconds bounds the refinement from energy peak to R-peak.
	searchSeconds = 0.100
	// scoreTolerance is the score difference under which two passes tie.
	scoreTolerance = 0.02
)

// Pass names one detection preset.
type Pass int

const (
	PassNormal Pass = iota
	PassConservative
	PassTight
)

func (p Pass) String() string {
	switch p {
	case PassNormal:
		return "normal"
	case PassConservative:
		return "conservative"
	case PassTight:
		return "tight"
	}
	return "unknown"
}

type preset struct {
	pass     Pass
	distance float64 // seconds between peaks
	k        float64 // threshold = mean + k*std of the integrated energy
	minBPM   float64
	maxBPM   float64
}

// Ordered by preference when scores tie.
var presets = [...]preset{
	{pass: PassNormal, distance: 0.300, k: 0.3, minBPM: 60, maxBPM: 200},
	{pass: PassConservative, distance: 0.500, k: 0.5, minBPM: 10, maxBPM: 120},
	{pass: PassTight, distance: 0.200, k: 0.2, minBPM: 100, maxBPM: 300},
}

// Result is the output of one detection cycle.
type Result struct {
	// Peaks are strictly increasing sample indices into the input window.
	Peaks []int
	// RR holds the consecutive peak intervals in ms that lie within
	// [MinRRms, MaxRRms]; others are discarded as noise.
	RR []float64
	// HR is this cycle's rate, 60000 / median(RR), clamped to
	// [MinHR, MaxHR].
	HR optional.Value[float64]
	// SmoothedHR is the rolling median of recent cycle rates. It is only
	// present when HR is.
	SmoothedHR optional.Value[float64]
	Pass       Pass
}

type candidate struct {
	preset
	peaks []int
	rr    []float64
	score float64
	ok    bool
}

// Detect finds R-peaks in the conditioned Lead II window x sampled at fs.
// It returns the result and the history to pass to the next cycle; hist
// itself is not modified. When fewer than two peaks (or no valid RR) are
// found the returned history equals hist.
func Detect(x []float64, fs float64, hist History) (Result, History) {
	if !(fs > 0) || len(x) < 3 {
		return Result{Pass: PassNormal}, hist
	}
	energy := integratedEnergy(x, fs)
	polarity := dominantPolarity(x)

	var cands []candidate
	for _, p := range presets {
		peaks := pickPeaks(energy, p.k, int(math.Round(p.distance*fs)))
		peaks = refine(x, peaks, polarity, fs)
		c := candidate{preset: p, peaks: peaks, rr: rrIntervals(peaks, fs)}
		if len(c.rr) > 0 {
			hr := 60000 / ecgstat.Median(c.rr)
			c.ok = len(peaks) >= 2 && hr >= p.minBPM && hr <= p.maxBPM
			c.score = rrScore(c.rr, hist.medianRR)
		}
		cands = append(cands, c)
	}

	best := selectPass(cands)
	res := Result{Peaks: best.peaks, RR: best.rr, Pass: best.pass}
	if len(best.peaks) < 2 || len(best.rr) == 0 {
		return res, hist
	}

	medRR := ecgstat.Median(best.rr)
	hr := ecgstat.Clamp(60000/medRR, MinHR, MaxHR)
	next := hist.push(hr, medRR)
	smoothed, _ := next.SmoothedHR()
	res.HR = optional.Some(hr)
	res.SmoothedHR = optional.Some(smoothed)
	return res, next
}

// selectPass picks the plausible candidate with the lowest score; scores
// within scoreTolerance tie and the one with more peaks wins, then preset
// order. With no plausible candidate the normal pass is used.
func selectPass(cands []candidate) candidate {
	var best *candidate
	for i := range cands {
		c := &cands[i]
		if !c.ok {
			continue
		}
		switch {
		case best == nil:
			best = c
		case c.score < best.score-scoreTolerance:
			best = c
		case math.Abs(c.score-best.score) <= scoreTolerance && len(c.peaks) > len(best.peaks):
			best = c
		}
	}
	if best == nil {
		return cands[0]
	}
	return *best
}

// rrScore is the RMS deviation of rr from ref, relative to ref. Without a
// reference (first cycle) the sequence's own mean is used, which makes the
// score the plain coefficient of variation.
func rrScore(rr []float64, ref float64) float64 {
	if !(ref > 0) {
		ref, _ = ecgstat.MeanStd(rr)
	}
	s := 0.0
	for _, v := range rr {
		s += (v - ref) * (v - ref)
	}
	return math.Sqrt(s/float64(len(rr))) / ref
}

// integratedEnergy runs the Pan-Tompkins front end: 5-15 Hz band-pass,
// five-point derivative, squaring, and moving-window integration. All
// stages are centred so energy peaks line up with the QRS.
func integratedEnergy(x []float64, fs float64) []float64 {
	band := x
	if chain, err := conditioning.Design(conditioning.Spec{HighPassHz: 5, LowPassHz: 15}, fs); err == nil {
		band = chain.FiltFilt(x, int(fs/2))
	}

	n := len(band)
	sq := make([]float64, n)
	for i := 2; i < n-2; i++ {
		d := (-band[i-2] - 2*band[i-1] + 2*band[i+1] + band[i+2]) * fs / 8
		sq[i] = d * d
	}

	w := max(1, int(math.Round(IntegrationSeconds*fs)))
	prefix := make([]float64, n+1)
	for i, v := range sq {
		prefix[i+1] = prefix[i] + v
	}
	out := make([]float64, n)
	half := w / 2
	for i := range out {
		lo := max(0, i-half)
		hi := min(n, lo+w)
		out[i] = (prefix[hi] - prefix[lo]) / float64(w)
	}
	return out
}

// pickPeaks returns local maxima of e at or above mean + k*std, at least
// distance samples apart. Taller peaks claim their neighbourhood first.
func pickPeaks(e []float64, k float64, distance int) []int {
	mean, std := ecgstat.MeanStd(e)
	thr := mean + k*std
	var cand []int
	for i := 1; i < len(e)-1; i++ {
		if e[i] >= thr && e[i] > e[i-1] && e[i] >= e[i+1] {
			cand = append(cand, i)
		}
	}
	slices.SortStableFunc(cand, func(a, b int) int { return cmp.Compare(e[b], e[a]) })

	var kept []int
	for _, c := range cand {
		free := true
		for _, p := range kept {
			if abs(c-p) < distance {
				free = false
				break
			}
		}
		if free {
			kept = append(kept, c)
		}
	}
	slices.Sort(kept)
	return kept
}

// dominantPolarity returns -1 when the signal's largest excursion is
// negative, so inverted QRS complexes are still located at their apex.
func dominantPolarity(x []float64) float64 {
	med := ecgstat.Median(x)
	hi, lo := 0.0, 0.0
	for _, v := range x {
		hi = math.Max(hi, v-med)
		lo = math.Max(lo, med-v)
	}
	if lo > hi {
		return -1
	}
	return 1
}

// refine moves each energy peak to the signal apex within searchSeconds,
// then drops peaks that fall inside the refractory period of a larger one.
func refine(x []float64, peaks []int, polarity, fs float64) []int {
	radius := int(math.Round(searchSeconds * fs))
	out := make([]int, 0, len(peaks))
	for _, p := range peaks {
		lo, hi := max(0, p-radius), min(len(x)-1, p+radius)
		best := lo
		for i := lo; i <= hi; i++ {
			if polarity*x[i] > polarity*x[best] {
				best = i
			}
		}
		out = append(out, best)
	}
	slices.Sort(out)

	refractory := int(math.Round(RefractorySeconds * fs))
	dedup := out[:0]
	for _, p := range out {
		if n := len(dedup); n > 0 && p-dedup[n-1] < refractory {
			if polarity*x[p] > polarity*x[dedup[n-1]] {
				dedup[n-1] = p
			}
			continue
		}
		dedup = append(dedup, p)
	}
	return dedup
}

// rrIntervals converts peak spacing to ms and keeps values within the
// physiological bounds.
func rrIntervals(peaks []int, fs float64) []float64 {
	var rr []float64
	for i := 1; i < len(peaks); i++ {
		ms := float64(peaks[i]-peaks[i-1]) / fs * 1000
		if ms >= MinRRms && ms <= MaxRRms {
			rr = append(rr, ms)
		}
	}
	return rr
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
