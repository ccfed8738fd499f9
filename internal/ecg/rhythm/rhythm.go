// Package rhythm classifies the cardiac rhythm of one analysis cycle from
// its RR intervals, heart rate and QRS width.
//
// Classification is an ordered rule table evaluated top to bottom; the
// first matching rule wins. It keeps no state between cycles.
package rhythm

import (
	"github.com/banshee-data/ecg.report/internal/ecg/ecgstat"
	"github.com/banshee-data/ecg.report/internal/optional"
)

// Rhythm is a classification variant.
type Rhythm string

const (
	NormalSinus            Rhythm = "Normal Sinus Rhythm"
	SinusBradycardia       Rhythm = "Sinus Bradycardia"
	SinusTachycardia       Rhythm = "Sinus Tachycardia"
	AtrialFibrillation     Rhythm = "Atrial Fibrillation"
	VentricularTachycardia Rhythm = "Ventricular Tachycardia"
	PVC                    Rhythm = "PVC Detected"
	UnspecifiedIrregular   Rhythm = "Unspecified Irregular Rhythm"
)

// Severity is the escalation hint attached to a rhythm.
type Severity string

const (
	SeverityNormal    Severity = "normal"
	SeverityCaution   Severity = "caution"
	SeverityUrgent    Severity = "urgent"
	SeverityEmergency Severity = "emergency"
)

// Rule thresholds.
const (
	AFibCV          = 0.15  // RR coefficient of variation
	VTRate          = 120.0 // bpm
	VTMaxRRStd      = 40.0  // ms
	VTMinQRS        = 120.0 // ms, applied only when QRS width is known
	PrematureRatio  = 0.8
	PauseRatio      = 1.2
	BradyRate       = 60.0
	TachyRate       = 100.0
	RegularRRStdMax = 120.0 // ms
)

// Features are the per-cycle inputs to the rules.
type Features struct {
	RR []float64 // ms
	// MeanRR, RRStd and CV summarise RR (population sd).
	MeanRR, RRStd, CV float64
	// MeanHR is 60000 / MeanRR.
	MeanHR float64
	QRS    optional.Value[float64] // ms
}

// NewFeatures summarises rr. ok is false when fewer than two intervals
// are available, which is too few to judge regularity.
func NewFeatures(rr []float64, qrs optional.Value[float64]) (Features, bool) {
	if len(rr) < 2 {
		return Features{}, false
	}
	mean, std := ecgstat.MeanStd(rr)
	if !(mean > 0) {
		return Features{}, false
	}
	return Features{
		RR:     rr,
		MeanRR: mean,
		RRStd:  std,
		CV:     std / mean,
		MeanHR: 60000 / mean,
		QRS:    qrs,
	}, true
}

func (f Features) regular() bool { return f.RRStd < RegularRRStdMax }

// Rule is one row of the classification table.
type Rule struct {
	Rhythm   Rhythm
	Severity Severity
	Match    func(Features) bool
}

// DefaultRules is the priority-ordered table. The fallback is not a rule;
// Classify applies it when nothing matches.
var DefaultRules = []Rule{
	{AtrialFibrillation, SeverityUrgent, isAFib},
	{VentricularTachycardia, SeverityEmergency, isVT},
	{PVC, SeverityCaution, hasPVC},
	{SinusBradycardia, SeverityCaution, func(f Features) bool { return f.MeanHR < BradyRate && f.regular() }},
	{SinusTachycardia, SeverityCaution, func(f Features) bool { return f.MeanHR > TachyRate && f.regular() }},
	{NormalSinus, SeverityNormal, func(f Features) bool {
		return f.MeanHR >= BradyRate && f.MeanHR <= TachyRate && f.regular()
	}},
}

// Fallback is the classification when no rule matches.
var Fallback = Rule{Rhythm: UnspecifiedIrregular, Severity: SeverityCaution}

func isAFib(f Features) bool { return f.CV > AFibCV }

// isVT flags a fast, regular rhythm. A QRS measured narrower than
// VTMinQRS is a supraventricular origin and does not match.
func isVT(f Features) bool {
	if f.MeanHR <= VTRate || f.RRStd >= VTMaxRRStd {
		return false
	}
	if qrs, ok := f.QRS.Get(); ok && qrs < VTMinQRS {
		return false
	}
	return true
}

// hasPVC looks for a premature interval immediately followed by a
// compensatory pause.
func hasPVC(f Features) bool {
	for i := 0; i+1 < len(f.RR); i++ {
		if f.RR[i] < PrematureRatio*f.MeanRR && f.RR[i+1] > PauseRatio*f.MeanRR {
			return true
		}
	}
	return false
}

// Classification is the result for one cycle.
type Classification struct {
	Rhythm   Rhythm   `json:"rhythm"`
	Severity Severity `json:"severity"`
	// Findings lists every matching rule in priority order, so secondary
	// findings (e.g. a PVC during an irregular rhythm) are not lost.
	Findings []Rhythm `json:"findings,omitempty"`
}

// Classify evaluates rules against f. An empty rules slice uses
// DefaultRules.
func Classify(f Features, rules ...Rule) Classification {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	var c Classification
	for _, r := range rules {
		if !r.Match(f) {
			continue
		}
		if c.Rhythm == "" {
			c.Rhythm, c.Severity = r.Rhythm, r.Severity
		}
		c.Findings = append(c.Findings, r.Rhythm)
	}
	if c.Rhythm == "" {
		c.Rhythm, c.Severity = Fallback.Rhythm, Fallback.Severity
	}
	return c
}

// ClassifyRR is NewFeatures followed by Classify.
func ClassifyRR(rr []float64, qrs optional.Value[float64]) optional.Value[Classification] {
	f, ok := NewFeatures(rr, qrs)
	if !ok {
		return optional.None[Classification]()
	}
	return optional.Some(Classify(f))
}

// Has reports whether r is among the findings.
func (c Classification) Has(r Rhythm) bool {
	for _, f := range c.Findings {
		if f == r {
			return true
		}
	}
	return false
}
