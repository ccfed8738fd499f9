// Package fiducial locates P, QRS and T wave boundaries on a median beat.
//
// Every threshold is relative to the template's own QRS amplitude or noise
// level, so detection does not depend on gain or calibration. A point that
// cannot be found is left empty; nothing is interpolated.
package fiducial

import (
	"math"

	"github.com/banshee-data/ecg.report/internal/ecg/ecgstat"
	"github.com/banshee-data/ecg.report/internal/ecg/medianbeat"
	"github.com/banshee-data/ecg.report/internal/optional"
)

// Detection parameters. Fractions are of the QRS peak-to-peak range
// within qrsHalfWidth of R.
const (
	qrsHalfWidth    = 0.060
	qrsFraction     = 0.05
	quietRun        = 0.016 // seconds below threshold that end a QRS
	slopeFraction   = 0.05  // of the maximum QRS slope, for J-point
	qrsOnsetLimit   = 0.150 // seconds before R
	qrsOffsetLimit  = 0.160 // seconds after R
	sNadirWindow    = 0.080
	pWindowFar      = 0.300 // seconds before QRS onset
	pWindowNear     = 0.040
	pFraction       = 0.03
	pBoundary       = 0.15  // of P peak amplitude
	tWindowNear     = 0.100 // seconds after J
	tWindowFar      = 0.500
	tFraction       = 0.05
	noiseMultiplier = 3.0
	// A local minimum of |c| below troughFraction of a wave's peak
	// separates it from a neighbouring wave fused onto it.
	troughFraction = 0.5
)

// Points are sample indices into the template. Present points satisfy
// POnset <= POffset <= QRSOnset <= QRSOffset <= TPeak <= TOffset.
type Points struct {
	POnset    optional.Value[int] `json:"p_onset"`
	POffset   optional.Value[int] `json:"p_offset"`
	QRSOnset  optional.Value[int] `json:"qrs_onset"`
	QRSOffset optional.Value[int] `json:"qrs_offset"` // J-point
	TPeak     optional.Value[int] `json:"t_peak"`
	TOffset   optional.Value[int] `json:"t_offset"`
}

func (p *Points) sequence() []*optional.Value[int] {
	return []*optional.Value[int]{&p.POnset, &p.POffset, &p.QRSOnset, &p.QRSOffset, &p.TPeak, &p.TOffset}
}

// Ordered reports whether the present points are in non-decreasing order.
func (p Points) Ordered() bool {
	last := math.MinInt
	for _, v := range p.sequence() {
		if i, ok := v.Get(); ok {
			if i < last {
				return false
			}
			last = i
		}
	}
	return true
}

// Complete reports whether every point was detected.
func (p Points) Complete() bool {
	for _, v := range p.sequence() {
		if !v.OK() {
			return false
		}
	}
	return true
}

// enforceOrder clears any point that precedes an earlier-named present
// point.
func (p *Points) enforceOrder() {
	last := math.MinInt
	for _, v := range p.sequence() {
		if i, ok := v.Get(); ok {
			if i < last {
				*v = optional.None[int]()
				continue
			}
			last = i
		}
	}
}

// detector carries the per-template working state.
type detector struct {
	c        []float64 // baseline-corrected template
	fs       float64
	r        int
	rr       float64 // ms, 0 when unknown
	qrsRange float64
	noise    float64
	quiet    int
}

func (d *detector) at(sec float64) int {
	return d.r + int(math.Round(sec*d.fs))
}

func (d *detector) clamp(i int) int {
	return min(max(i, 0), len(d.c)-1)
}

// Detect locates the fiducial points of t, with baseline as the
// isoelectric level (see medianbeat.Baseline).
func Detect(t medianbeat.Template, baseline float64) Points {
	var pts Points
	if len(t.Samples) == 0 || t.R <= 0 || t.R >= len(t.Samples)-1 || !(t.SampleRate > 0) {
		return pts
	}
	d := &detector{
		c:     make([]float64, len(t.Samples)),
		fs:    t.SampleRate,
		r:     t.R,
		rr:    t.RR,
		noise: medianbeat.BaselineNoise(t),
		quiet: max(2, int(math.Round(quietRun*t.SampleRate))),
	}
	for i, v := range t.Samples {
		d.c[i] = v - baseline
	}
	d.qrsRange = ecgstat.PeakToPeak(d.c[d.clamp(d.at(-qrsHalfWidth)):d.clamp(d.at(qrsHalfWidth))])
	if !(d.qrsRange > 0) {
		return pts
	}

	if on, ok := d.qrsOnset(); ok {
		pts.QRSOnset = optional.Some(on)
		if pOn, pOff, ok := d.pWave(on); ok {
			pts.POnset = optional.Some(pOn)
			pts.POffset = optional.Some(pOff)
		}
	}
	if j, ok := d.jPoint(); ok {
		pts.QRSOffset = optional.Some(j)
		if tp, toff, ok := d.tWave(j); ok {
			pts.TPeak = optional.Some(tp)
			if toff >= 0 {
				pts.TOffset = optional.Some(toff)
			}
		}
	}
	pts.enforceOrder()
	return pts
}

// qrsOnset scans back from R for the first run of quiet samples; the
// onset is the sample just after it.
func (d *detector) qrsOnset() (int, bool) {
	thr := qrsFraction * d.qrsRange
	limit := max(d.at(-qrsOnsetLimit), d.quiet-1)
	run := 0
	for i := d.r; i >= limit-d.quiet+1 && i >= 0; i-- {
		if math.Abs(d.c[i]) <= thr {
			run++
			if run == d.quiet {
				return i + d.quiet, true
			}
			continue
		}
		run = 0
	}
	return 0, false
}

// jPoint scans forward from the S nadir (or R when there is no S wave)
// for a run of samples that are near baseline or flat.
func (d *detector) jPoint() (int, bool) {
	thr := qrsFraction * d.qrsRange

	start := d.r
	end := d.clamp(d.at(sNadirWindow))
	for i := d.r; i <= end; i++ {
		if d.c[i] < d.c[start] {
			start = i
		}
	}
	if d.c[start] >= 0 {
		start = d.r
	}

	maxSlope := 0.0
	for i := d.clamp(d.at(-qrsHalfWidth)); i <= d.clamp(d.at(qrsHalfWidth)); i++ {
		maxSlope = math.Max(maxSlope, math.Abs(d.slope(i)))
	}
	slopeThr := slopeFraction * maxSlope

	limit := d.clamp(d.at(qrsOffsetLimit))
	run := 0
	for i := start + 1; i <= limit; i++ {
		if math.Abs(d.c[i]) <= thr || math.Abs(d.slope(i)) <= slopeThr {
			run++
			if run == d.quiet {
				return i - d.quiet + 1, true
			}
			continue
		}
		run = 0
	}
	return 0, false
}

func (d *detector) slope(i int) float64 {
	lo, hi := d.clamp(i-1), d.clamp(i+1)
	if hi == lo {
		return 0
	}
	return (d.c[hi] - d.c[lo]) * d.fs / float64(hi-lo)
}

// pWave looks for the largest deflection 300..40 ms before QRS onset and
// walks out to where it falls to pBoundary of its peak. The onset walk
// stays inside the search window: when the previous T wave runs into the
// P wave the onset is the trough between them, and without one the P wave
// is reported missing.
func (d *detector) pWave(qrsOn int) (int, int, bool) {
	lo := qrsOn - int(math.Round(pWindowFar*d.fs))
	if d.rr > 0 {
		lo = max(lo, d.r-int(math.Round(0.5*d.rr/1000*d.fs)))
	}
	lo = max(lo, 0)
	hi := qrsOn - int(math.Round(pWindowNear*d.fs))
	if hi <= lo {
		return 0, 0, false
	}

	peak := lo
	for i := lo; i <= hi; i++ {
		if math.Abs(d.c[i]) > math.Abs(d.c[peak]) {
			peak = i
		}
	}
	amp := math.Abs(d.c[peak])
	if amp < math.Max(pFraction*d.qrsRange, noiseMultiplier*d.noise) {
		return 0, 0, false
	}

	b := math.Max(pBoundary*amp, d.noise)
	on := peak
	for on > lo && math.Abs(d.c[on-1]) > b {
		on--
	}
	if on == lo && math.Abs(d.c[lo]) > b {
		if on = d.trough(lo, peak, troughFraction*amp); on < 0 {
			return 0, 0, false
		}
	}
	off := peak
	for off < qrsOn && math.Abs(d.c[off+1]) > b {
		off++
	}
	return on, off, true
}

// trough returns the deepest local minimum of |c| strictly inside
// (lo, hi) that is no larger than limit, or -1.
func (d *detector) trough(lo, hi int, limit float64) int {
	best := -1
	for i := lo + 1; i < hi; i++ {
		v := math.Abs(d.c[i])
		if v > limit || v > math.Abs(d.c[i-1]) || v >= math.Abs(d.c[i+1]) {
			continue
		}
		if best < 0 || v < math.Abs(d.c[best]) {
			best = i
		}
	}
	return best
}

// tWave finds the largest deflection 100..500 ms after J (bounded by the
// next beat when RR is known). The offset is the first sample after it
// that returns to the noise band or crosses baseline, or the trough where
// the next P wave rises out of the T wave's tail. The offset is -1 when
// the wave never settles in the template.
func (d *detector) tWave(j int) (int, int, bool) {
	lo := j + int(math.Round(tWindowNear*d.fs))
	hi := j + int(math.Round(tWindowFar*d.fs))
	if d.rr > 0 {
		hi = min(hi, d.r+int(math.Round(0.7*d.rr/1000*d.fs)))
	}
	hi = min(hi, len(d.c)-1)
	if hi <= lo {
		return 0, 0, false
	}

	peak := lo
	for i := lo; i <= hi; i++ {
		if math.Abs(d.c[i]) > math.Abs(d.c[peak]) {
			peak = i
		}
	}
	thr := math.Max(tFraction*d.qrsRange, noiseMultiplier*d.noise)
	if math.Abs(d.c[peak]) < thr || peak == lo || peak == hi {
		return 0, 0, false
	}

	band := math.Max(noiseMultiplier*d.noise, 0.5*thr)
	fused := troughFraction * math.Abs(d.c[peak])
	sign := math.Copysign(1, d.c[peak])
	for i := peak + 1; i < len(d.c); i++ {
		v := math.Abs(d.c[i])
		if v < band || sign*d.c[i] <= 0 {
			return peak, i, true
		}
		if i+1 < len(d.c) && v < fused && math.Abs(d.c[i+1]) > v {
			return peak, i, true
		}
	}
	return peak, -1, true
}
