// Package report builds the JSON artifact saved for a recording from a
// pipeline result and checks it for internal consistency.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/banshee-data/ecg.report/internal/ecg"
	"github.com/banshee-data/ecg.report/internal/ecg/measure"
	"github.com/banshee-data/ecg.report/internal/ecg/medianbeat"
	"github.com/banshee-data/ecg.report/internal/ecg/pipeline"
	"github.com/banshee-data/ecg.report/internal/optional"
	"github.com/banshee-data/ecg.report/internal/version"
)

type num = optional.Value[float64]

// Artifact is the saved report. The measurement field names are fixed for
// compatibility with existing readers.
type Artifact struct {
	SessionID   string    `json:"session_id,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Version     string    `json:"version"`

	HR            num     `json:"HR_bpm"`
	PR            num     `json:"PR_ms"`
	QRS           num     `json:"QRS_ms"`
	QT            num     `json:"QT_ms"`
	QTc           num     `json:"QTc_ms"`
	QTcF          num     `json:"QTcF_ms"`
	ST            num     `json:"ST_mV"`
	Axes          [3]num  `json:"P_QRS_T_axes_deg"`
	QRSTAngle     num     `json:"QRS_T_angle_deg"`
	RV5SV1        [2]num  `json:"RV5_SV1_mV"`
	SokolowLyon   num     `json:"RV5_plus_SV1_mV"`
	MedianBeats   int     `json:"median_beats"`
	SampleRateHz  float64 `json:"sample_rate_hz"`
	WindowSeconds float64 `json:"window_seconds"`

	Rhythm   string   `json:"rhythm,omitempty"`
	Severity string   `json:"severity,omitempty"`
	Findings []string `json:"findings,omitempty"`
}

// FromResult builds the artifact for res.
func FromResult(res *pipeline.Result, sessionID string, at time.Time) Artifact {
	s := res.Snapshot
	a := Artifact{
		SessionID:    sessionID,
		GeneratedAt:  at.UTC(),
		Version:      version.Version,
		HR:           s.HR,
		PR:           s.PR,
		QRS:          s.QRS,
		QT:           s.QT,
		QTc:          s.QTc,
		QTcF:         s.QTcF,
		ST:           s.ST,
		Axes:         [3]num{s.PAxis, s.QRSAxis, s.TAxis},
		QRSTAngle:    s.QRSTAngle,
		RV5SV1:       [2]num{s.RV5, s.SV1},
		SokolowLyon:  SokolowLyon(s.RV5, s.SV1),
		SampleRateHz: res.SampleRate,
	}
	if res.SampleRate > 0 {
		a.WindowSeconds = float64(res.Samples) / res.SampleRate
	}
	if tpl, ok := res.Template(measure.IntervalLead); ok {
		a.MedianBeats = tpl.Beats
	}
	if c, ok := res.Rhythm.Get(); ok {
		a.Rhythm = string(c.Rhythm)
		a.Severity = string(c.Severity)
		for _, f := range c.Findings {
			a.Findings = append(a.Findings, string(f))
		}
	}
	return a
}

// SokolowLyon returns RV5 + |SV1| when both are known.
func SokolowLyon(rv5, sv1 num) num {
	r, ok1 := rv5.Get()
	s, ok2 := sv1.Get()
	if !ok1 || !ok2 {
		return optional.None[float64]()
	}
	return optional.Some(r + math.Abs(s))
}

// Tolerances used by Validate.
const (
	QTcTolerance     = 1.0   // ms
	VoltageTolerance = 0.001 // mV
)

// Validate cross-checks the derived fields of a. Every problem is reported;
// each wraps ecg.ErrOutOfRange.
func (a Artifact) Validate() error {
	var errs []error
	bad := func(format string, v ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ecg.ErrOutOfRange}, v...)...))
	}

	if qt, ok := a.QT.Get(); ok {
		if hr, ok := a.HR.Get(); ok && hr > 0 {
			rr := 60000 / hr
			if v, ok := a.QTc.Get(); ok && math.Abs(v-measure.QTcBazett(qt, rr)) >= QTcTolerance {
				bad("QTc %.1f ms does not match QT %.1f ms at %.1f bpm", v, qt, hr)
			}
			if v, ok := a.QTcF.Get(); ok && math.Abs(v-measure.QTcFridericia(qt, rr)) >= QTcTolerance {
				bad("QTcF %.1f ms does not match QT %.1f ms at %.1f bpm", v, qt, hr)
			}
		}
	}

	rv5, sv1 := a.RV5SV1[0], a.RV5SV1[1]
	if v, ok := rv5.Get(); ok && v < 0 {
		bad("RV5 %.3f mV is negative", v)
	}
	if v, ok := sv1.Get(); ok && v > 0 {
		bad("SV1 %.3f mV is positive", v)
	}
	if sum, ok := a.SokolowLyon.Get(); ok {
		if want, ok := SokolowLyon(rv5, sv1).Get(); !ok || math.Abs(sum-want) >= VoltageTolerance {
			bad("RV5+SV1 %.3f mV does not match its terms", sum)
		}
	}

	for i, name := range [3]string{"P", "QRS", "T"} {
		if v, ok := a.Axes[i].Get(); ok && (v <= -180 || v > 180) {
			bad("%s axis %.1f deg outside (-180, 180]", name, v)
		}
	}
	if a.Axes[1].OK() && a.MedianBeats < medianbeat.MinBeats {
		bad("median beat from %d beats, need %d", a.MedianBeats, medianbeat.MinBeats)
	}
	return errors.Join(errs...)
}

// Write encodes a as indented JSON.
func (a Artifact) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}
