// Package medianbeat builds a per-lead median beat: beats around each
// R-peak are aligned and combined point-wise by median, which suppresses
// ectopic and noisy beats while keeping the dominant morphology.
package medianbeat

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/banshee-data/ecg.report/internal/ecg"
	"github.com/banshee-data/ecg.report/internal/ecg/ecgstat"
	"github.com/banshee-data/ecg.report/internal/units"
)

const (
	// PreSeconds and PostSeconds bound each beat window around R.
	PreSeconds  = 0.400
	PostSeconds = 0.800

	// MinBeats is the minimum number of usable beats for a valid template.
	MinBeats = 8
	// MaxBeats caps the beats entering the median; the best are kept.
	MaxBeats = 12
	// MinQuality is the BeatQuality below which a beat is rejected.
	MinQuality = 0.3

	// The baseline is the flattest baselineSegment of the template in
	// either the TP interval, [-baselineFrom, -baselineTo] seconds before
	// R and cut short by the previous beat's T wave when RR is known, or
	// the PR segment [-prSegmentFrom, -prSegmentTo].
	baselineFrom    = 0.400
	baselineTo      = 0.100
	baselineSegment = 0.050
	prSegmentFrom   = 0.110
	prSegmentTo     = 0.045

	// qtEstimate is the Bazett-normal QT in seconds at an RR of 1 s,
	// used to place the end of the previous T wave.
	qtEstimate = 0.450

	qrsHalfWidth = 0.060
)

// Template is a median beat for one lead.
type Template struct {
	Samples    []float64
	R          int // index of the R-peak within Samples
	SampleRate float64
	Beats      int // beats that entered the median
	// Noise is the residual noise sd of the template, estimated from the
	// spread of the contributing beats around it.
	Noise float64
	// RR is the median spacing of the input peaks in ms, 0 when unknown.
	// Wave searches use it to stay clear of neighbouring beats.
	RR float64
}

// Index returns the sample index at offset seconds from R (unclamped).
func (t Template) Index(offset float64) int {
	return t.R + units.SecondsToSamples(offset, t.SampleRate)
}

// Clamp limits i to a valid sample index.
func (t Template) Clamp(i int) int {
	return min(max(i, 0), len(t.Samples)-1)
}

// Millis converts a sample count to milliseconds.
func (t Template) Millis(samples int) float64 {
	return units.SamplesToMs(samples, t.SampleRate)
}

// Build extracts a window around each peak in x, drops windows that would
// read outside x and beats scoring below MinQuality, and returns the
// point-wise median of the best MaxBeats. Fewer than MinBeats usable beats
// yields ecg.ErrInsufficientData.
func Build(x []float64, peaks []int, fs float64) (Template, error) {
	if !(fs > 0) {
		return Template{}, fmt.Errorf("%w: sampling rate %v", ecg.ErrInsufficientData, fs)
	}
	pre := units.SecondsToSamples(PreSeconds, fs)
	post := units.SecondsToSamples(PostSeconds, fs)

	type scored struct {
		beat    []float64
		quality float64
	}
	var beats []scored
	for _, p := range peaks {
		if p-pre < 0 || p+post > len(x) {
			continue
		}
		beat := x[p-pre : p+post]
		if q := BeatQuality(beat, pre, fs); q >= MinQuality {
			beats = append(beats, scored{beat: beat, quality: q})
		}
	}
	if len(beats) < MinBeats {
		return Template{}, fmt.Errorf("%w: %d usable beats, need %d", ecg.ErrInsufficientData, len(beats), MinBeats)
	}
	slices.SortStableFunc(beats, func(a, b scored) int { return cmp.Compare(b.quality, a.quality) })
	if len(beats) > MaxBeats {
		beats = beats[:MaxBeats]
	}

	n := pre + post
	t := Template{Samples: make([]float64, n), R: pre, SampleRate: fs, Beats: len(beats), RR: medianRR(peaks, fs)}
	col := make([]float64, len(beats))
	for i := 0; i < n; i++ {
		for k, b := range beats {
			col[k] = b.beat[i]
		}
		t.Samples[i] = ecgstat.Median(col)
	}

	resid := make([]float64, 0, n*len(beats))
	for _, b := range beats {
		for i, v := range b.beat {
			resid = append(resid, v-t.Samples[i])
		}
	}
	t.Noise = ecgstat.RobustSigma(resid) / math.Sqrt(float64(len(beats)))
	return t, nil
}

func medianRR(peaks []int, fs float64) float64 {
	var rr []float64
	for i := 1; i < len(peaks); i++ {
		if ms := float64(peaks[i]-peaks[i-1]) / fs * 1000; ms >= 200 && ms <= 6000 {
			rr = append(rr, ms)
		}
	}
	if len(rr) == 0 {
		return 0
	}
	return ecgstat.Median(rr)
}

// Baseline returns the isoelectric level of t: the median of the flattest
// 50 ms segment among the candidate windows. The TP window starts after
// the previous beat's expected T wave, so at high rates where T and P
// fuse it shrinks away and the PR segment supplies the reference.
func Baseline(t Template) float64 {
	seg := flattest(t)
	if len(seg) == 0 {
		return ecgstat.Median(t.Samples)
	}
	return ecgstat.Median(seg)
}

// BaselineNoise returns the robust sd of the samples in the baseline
// segment, floored by the template's residual noise.
func BaselineNoise(t Template) float64 {
	return math.Max(ecgstat.RobustSigma(flattest(t)), t.Noise)
}

// baselineWindows returns the candidate windows in seconds relative to R.
func baselineWindows(rrMs float64) [][2]float64 {
	tp := [2]float64{-baselineFrom, -baselineTo}
	if rrMs > 0 {
		rr := rrMs / 1000
		tp[0] = math.Max(tp[0], -rr+qtEstimate*math.Sqrt(rr))
	}
	return [][2]float64{tp, {-prSegmentFrom, -prSegmentTo}}
}

func flattest(t Template) []float64 {
	w := max(2, int(math.Round(baselineSegment*t.SampleRate)))
	best, bestRange := -1, math.Inf(1)
	for _, win := range baselineWindows(t.RR) {
		lo := t.Clamp(t.Index(win[0]))
		hi := t.Clamp(t.Index(win[1]))
		for s := lo; s+w <= hi; s++ {
			if r := ecgstat.PeakToPeak(t.Samples[s : s+w]); r < bestRange {
				best, bestRange = s, r
			}
		}
	}
	if best < 0 {
		return nil
	}
	return t.Samples[best : best+w]
}

// BeatQuality scores one beat window in [0, 1] from three components:
// signal-to-noise of the beat against the pre-R baseline, baseline
// stability between the start and end of the window, and the absence of
// artefact spikes outside the QRS. All three are relative to the range of
// the whole beat, so a lead whose QRS is small next to its P or T wave is
// not mistaken for an artefact. A beat with no QRS deflection scores 0.
func BeatQuality(beat []float64, r int, fs float64) float64 {
	if len(beat) == 0 || r < 0 || r >= len(beat) {
		return 0
	}
	at := func(sec float64) int {
		return min(max(r+int(math.Round(sec*fs)), 0), len(beat))
	}
	if !(ecgstat.PeakToPeak(beat[at(-qrsHalfWidth):at(qrsHalfWidth)]) > 0) {
		return 0
	}
	amp := ecgstat.PeakToPeak(beat)

	head := beat[at(-baselineFrom):at(-0.250)]
	tail := beat[at(PostSeconds-0.100):len(beat)]

	snr := 1.0
	if sigma := ecgstat.RobustSigma(head); sigma > 0 {
		snr = math.Min(1, amp/sigma/20)
	}

	stability := 1.0
	if len(head) > 0 && len(tail) > 0 {
		drift := math.Abs(ecgstat.Median(head) - ecgstat.Median(tail))
		stability = 1 - math.Min(1, drift/(0.5*amp))
	}

	med := ecgstat.Median(beat)
	outside := 0.0
	for i, v := range beat {
		if i >= at(-qrsHalfWidth) && i < at(qrsHalfWidth) {
			continue
		}
		outside = math.Max(outside, math.Abs(v-med))
	}
	artefact := ecgstat.Clamp((outside/amp-0.6)/0.4, 0, 1)

	return 0.4*snr + 0.3*stability + 0.3*(1-artefact)
}
