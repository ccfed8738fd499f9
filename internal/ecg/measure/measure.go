// Package measure turns fiducial points on median beats into the clinical
// metrics snapshot: intervals, rate-corrected QT, ST deviation, and the
// frontal-plane P, QRS and T axes.
//
// Every value is range checked before it is published. A value outside its
// plausible range is treated as a failed measurement and left empty; only
// the ST deviation is clamped, which is the clinical convention.
package measure

import (
	"math"

	"github.com/banshee-data/ecg.report/internal/ecg/ecgstat"
	"github.com/banshee-data/ecg.report/internal/ecg/fiducial"
	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/ecg/medianbeat"
	"github.com/banshee-data/ecg.report/internal/optional"
)

// Range is an inclusive plausibility range.
type Range struct{ Min, Max float64 }

// Check returns v when it lies in r.
func (r Range) Check(v float64) optional.Value[float64] {
	if math.IsNaN(v) || v < r.Min || v > r.Max {
		return optional.None[float64]()
	}
	return optional.Some(v)
}

// Plausibility ranges.
var (
	HRRange  = Range{10, 300}  // bpm
	PRRange  = Range{80, 400}  // ms
	QRSRange = Range{40, 200}  // ms
	QTRange  = Range{200, 650} // ms
	QTcRange = Range{200, 700} // ms, Bazett and Fridericia
)

const (
	// STOffset is the ST measurement point after J, in seconds.
	STOffset = 0.060
	// STLimit is the clamp on the ST deviation, in mV.
	STLimit = 2.0
	// PWindowFraction is the leading share of the P wave integrated for
	// the P axis, which keeps the atrial repolarisation tail out.
	PWindowFraction = 0.6
)

// Minimum |Area_I| + |Area_aVF| (mV*s) for an axis to be reported.
const (
	PAxisMinEnergy   = 0.001
	QRSAxisMinEnergy = 0.0005
	TAxisMinEnergy   = 0.0005
)

// Snapshot is the clinical metrics record for one analysis cycle. Empty
// fields were not computed.
type Snapshot struct {
	HR        optional.Value[float64] `json:"hr_bpm"`
	PR        optional.Value[float64] `json:"pr_ms"`
	QRS       optional.Value[float64] `json:"qrs_ms"`
	QT        optional.Value[float64] `json:"qt_ms"`
	QTc       optional.Value[float64] `json:"qtc_ms"`
	QTcF      optional.Value[float64] `json:"qtcf_ms"`
	ST        optional.Value[float64] `json:"st_mv"`
	PAxis     optional.Value[float64] `json:"p_axis_deg"`
	QRSAxis   optional.Value[float64] `json:"qrs_axis_deg"`
	TAxis     optional.Value[float64] `json:"t_axis_deg"`
	QRSTAngle optional.Value[float64] `json:"qrs_t_angle_deg"`
	RV5       optional.Value[float64] `json:"rv5_mv"`
	SV1       optional.Value[float64] `json:"sv1_mv"`
}

// LeadBeat is the per-lead input: a median beat, its TP baseline, and the
// fiducials found on it.
type LeadBeat struct {
	Template medianbeat.Template
	Baseline float64
	Points   fiducial.Points
}

// Input to Compute. Beats holds only leads with a valid template. HR is
// the detector's smoothed rate.
type Input struct {
	HR    optional.Value[float64]
	Beats map[leads.Lead]LeadBeat
}

// IntervalLead is the lead whose fiducials define intervals and the axis
// integration windows.
const IntervalLead = leads.II

// Compute derives the snapshot from in.
func Compute(in Input) Snapshot {
	var s Snapshot
	if hr, ok := in.HR.Get(); ok {
		s.HR = HRRange.Check(hr)
	}

	primary, ok := in.Beats[IntervalLead]
	if !ok {
		return s
	}
	tpl, pts := primary.Template, primary.Points
	span := func(a, b optional.Value[int]) optional.Value[float64] {
		ia, okA := a.Get()
		ib, okB := b.Get()
		if !okA || !okB {
			return optional.None[float64]()
		}
		return optional.Some(tpl.Millis(ib - ia))
	}

	s.PR = validate(span(pts.POnset, pts.QRSOnset), PRRange)
	s.QRS = validate(span(pts.QRSOnset, pts.QRSOffset), QRSRange)
	s.QT = validate(span(pts.QRSOnset, pts.TOffset), QTRange)
	if qt, ok := s.QT.Get(); ok {
		if hr, ok := s.HR.Get(); ok {
			rr := 60000 / hr
			s.QTc = QTcRange.Check(QTcBazett(qt, rr))
			s.QTcF = QTcRange.Check(QTcFridericia(qt, rr))
		}
	}

	if j, ok := pts.QRSOffset.Get(); ok {
		if i := j + int(math.Round(STOffset*tpl.SampleRate)); i >= 0 && i < len(tpl.Samples) {
			s.ST = optional.Some(ecgstat.Clamp(tpl.Samples[i]-primary.Baseline, -STLimit, STLimit))
		}
	}

	s.PAxis, s.QRSAxis, s.TAxis = axes(in.Beats, pts)
	qrsAxis, okQ := s.QRSAxis.Get()
	tAxis, okT := s.TAxis.Get()
	if okQ && okT {
		s.QRSTAngle = optional.Some(QRSTAngle(qrsAxis, tAxis))
	}

	s.RV5, s.SV1 = voltages(in.Beats, pts)
	return s
}

func validate(v optional.Value[float64], r Range) optional.Value[float64] {
	if x, ok := v.Get(); ok {
		return r.Check(x)
	}
	return v
}

// QTcBazett returns QT / sqrt(RR), all in ms.
func QTcBazett(qtMs, rrMs float64) float64 {
	return qtMs / 1000 / math.Sqrt(rrMs/1000) * 1000
}

// QTcFridericia returns QT / cbrt(RR), all in ms.
func QTcFridericia(qtMs, rrMs float64) float64 {
	return qtMs / 1000 / math.Cbrt(rrMs/1000) * 1000
}

// window is an inclusive sample range on the aligned templates.
type window struct{ from, to int }

func axes(beats map[leads.Lead]LeadBeat, pts fiducial.Points) (p, qrs, t optional.Value[float64]) {
	leadI, okI := beats[leads.I]
	leadF, okF := beats[leads.AVF]
	if !okI || !okF {
		return
	}
	axis := func(w window, ok bool, minEnergy float64) optional.Value[float64] {
		if !ok {
			return optional.None[float64]()
		}
		return Axis(area(leadI, w), area(leadF, w), minEnergy)
	}

	pOn, ok1 := pts.POnset.Get()
	pOff, ok2 := pts.POffset.Get()
	pw := window{pOn, pOn + int(math.Round(PWindowFraction*float64(pOff-pOn)))}
	p = axis(pw, ok1 && ok2, PAxisMinEnergy)

	qOn, ok3 := pts.QRSOnset.Get()
	j, ok4 := pts.QRSOffset.Get()
	qrs = axis(window{qOn, j}, ok3 && ok4, QRSAxisMinEnergy)

	tOff, ok5 := pts.TOffset.Get()
	t = axis(window{j, tOff}, ok4 && ok5, TAxisMinEnergy)
	return
}

// area integrates the baseline-corrected template over w in mV*s.
func area(b LeadBeat, w window) float64 {
	from, to := b.Template.Clamp(w.from), b.Template.Clamp(w.to)
	if to <= from {
		return 0
	}
	seg := make([]float64, to-from+1)
	for i := range seg {
		seg[i] = b.Template.Samples[from+i] - b.Baseline
	}
	return ecgstat.Trapezoid(seg, 1/b.Template.SampleRate)
}

// Axis returns atan2(areaAVF, areaI) in degrees, normalised to
// (-180, 180], or nothing when |areaI| + |areaAVF| is below minEnergy.
func Axis(areaI, areaAVF, minEnergy float64) optional.Value[float64] {
	if math.Abs(areaI)+math.Abs(areaAVF) < minEnergy {
		return optional.None[float64]()
	}
	return optional.Some(NormalizeAxis(math.Atan2(areaAVF, areaI) * 180 / math.Pi))
}

// NormalizeAxis maps any angle in degrees into (-180, 180].
func NormalizeAxis(deg float64) float64 {
	deg = math.Mod(deg, 360)
	switch {
	case deg > 180:
		deg -= 360
	case deg <= -180:
		deg += 360
	}
	return deg
}

// QRSTAngle returns the absolute QRS-T difference folded into [0, 180].
func QRSTAngle(qrsAxis, tAxis float64) float64 {
	d := math.Abs(NormalizeAxis(qrsAxis) - NormalizeAxis(tAxis))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// voltages returns the R amplitude in V5 and the S amplitude in V1 within
// the QRS window of the interval lead. SV1 is reported as a negative
// deflection.
func voltages(beats map[leads.Lead]LeadBeat, pts fiducial.Points) (rv5, sv1 optional.Value[float64]) {
	on, ok1 := pts.QRSOnset.Get()
	j, ok2 := pts.QRSOffset.Get()
	if !ok1 || !ok2 || j <= on {
		return
	}
	extreme := func(l leads.Lead, pick func(a, b float64) float64) optional.Value[float64] {
		b, ok := beats[l]
		if !ok {
			return optional.None[float64]()
		}
		from, to := b.Template.Clamp(on), b.Template.Clamp(j)
		v := 0.0
		for i := from; i <= to; i++ {
			v = pick(v, b.Template.Samples[i]-b.Baseline)
		}
		return optional.Some(v)
	}
	return extreme(leads.V5, math.Max), extreme(leads.V1, math.Min)
}
