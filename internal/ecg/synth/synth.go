// Package synth generates deterministic synthetic 12-lead ECG recordings.
// Each beat is a sum of Gaussian waves (P, Q, R, S, T) projected onto the
// frontal-plane leads from a configurable axis per wave. It is used by
// tests, by the serial simulator, and by the gen-synthetic tool.
package synth

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/ecg.report/internal/ecg/leads"
)

// Wave is one Gaussian component of a beat, positioned relative to the
// R-peak.
type Wave struct {
	Offset float64 // seconds from R
	Sigma  float64 // seconds
	Amp    float64 // mV along the wave's axis
}

// Params configures Generate. The zero value is not useful; start from
// DefaultParams.
type Params struct {
	SampleRate float64
	Duration   float64 // seconds
	HR         float64 // bpm, used when RR is empty
	// RR, when set, gives beat-to-beat intervals in ms and is cycled.
	RR []float64

	P, Q, R, S, T Wave
	// Frontal-plane axes in degrees.
	PAxis, QRSAxis, TAxis float64

	// Precordial R and S amplitude multipliers for V1..V6.
	PrecordialR [6]float64
	PrecordialS [6]float64

	Noise    float64 // white noise sd, mV
	Wander   float64 // 0.2 Hz baseline wander amplitude, mV
	MainsHz  float64
	MainsAmp float64
	Seed     uint64
}

// DefaultParams returns a clean 10 s sinus rhythm at 75 bpm, 250 Hz, with
// a QT near 350 ms and a 60 degree QRS axis.
func DefaultParams() Params {
	return Params{
		SampleRate:  250,
		Duration:    10,
		HR:          75,
		P:           Wave{Offset: -0.170, Sigma: 0.022, Amp: 0.15},
		Q:           Wave{Offset: -0.024, Sigma: 0.007, Amp: -0.10},
		R:           Wave{Offset: 0, Sigma: 0.009, Amp: 1.2},
		S:           Wave{Offset: 0.024, Sigma: 0.007, Amp: -0.25},
		T:           Wave{Offset: 0.220, Sigma: 0.040, Amp: 0.30},
		PAxis:       60,
		QRSAxis:     60,
		TAxis:       45,
		PrecordialR: [6]float64{0.2, 0.4, 0.7, 1.1, 1.3, 1.0},
		PrecordialS: [6]float64{3.6, 4.4, 2.8, 1.6, 0.8, 0.4},
		Seed:        1,
	}
}

// Recording is a generated multi-lead signal with its ground truth.
type Recording struct {
	SampleRate float64
	Samples    []leads.Sample
	// RPeaks are the true R-peak sample indices.
	RPeaks []int
}

// frontal lead angles (hexaxial reference system) for the measured limb
// leads; the rest follow from leads.Derive.
const (
	angleI  = 0.0
	angleII = 60.0
)

// Generate renders p into a Recording.
func Generate(p Params) Recording {
	fs := p.SampleRate
	n := int(math.Round(p.Duration * fs))
	rec := Recording{SampleRate: fs, Samples: make([]leads.Sample, n)}
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))

	// Beat times in seconds.
	var beats []float64
	t := 0.4
	for k := 0; t < p.Duration; k++ {
		beats = append(beats, t)
		rr := 60 / p.HR
		if len(p.RR) > 0 {
			rr = p.RR[k%len(p.RR)] / 1000
		}
		t += rr
	}
	for _, b := range beats {
		if i := int(math.Round(b * fs)); i < n {
			rec.RPeaks = append(rec.RPeaks, i)
		}
	}

	proj := func(axis, lead float64) float64 {
		return math.Cos((axis - lead) * math.Pi / 180)
	}

	for i := 0; i < n; i++ {
		ti := float64(i) / fs
		var pw, qrs, tw float64
		var rOnly, sOnly float64
		for k, b := range beats {
			dt := ti - b
			if dt < -0.5 || dt > 0.9 {
				continue
			}
			// QT follows the preceding interval so QTc stays constant.
			scale := 1.0
			switch {
			case k > 0:
				scale = math.Sqrt((b - beats[k-1]) / 0.8)
			case len(beats) > 1:
				scale = math.Sqrt((beats[1] - b) / 0.8)
			}
			pw += gauss(dt, p.P)
			q := gauss(dt, p.Q)
			r := gauss(dt, p.R)
			s := gauss(dt, p.S)
			qrs += q + r + s
			rOnly += r
			sOnly += q + s
			tw += gauss(dt, Wave{Offset: p.T.Offset * scale, Sigma: p.T.Sigma * scale, Amp: p.T.Amp})
		}

		wave := func(lead float64) float64 {
			return pw*proj(p.PAxis, lead) + qrs*proj(p.QRSAxis, lead) + tw*proj(p.TAxis, lead)
		}
		var f leads.Frame
		set := func(l leads.Lead, v float64) {
			for c, fl := range leads.FrameOrder {
				if fl == l {
					f[c] = v
				}
			}
		}
		set(leads.I, wave(angleI))
		set(leads.II, wave(angleII))
		for v := 0; v < 6; v++ {
			lead := leads.V1 + leads.Lead(v)
			set(lead, 0.5*pw+p.PrecordialR[v]*rOnly+p.PrecordialS[v]*sOnly+0.6*tw)
		}

		common := p.Wander * math.Sin(2*math.Pi*0.2*ti)
		if p.MainsAmp != 0 && p.MainsHz > 0 {
			common += p.MainsAmp * math.Sin(2*math.Pi*p.MainsHz*ti)
		}
		for c := range f {
			f[c] += common
			if p.Noise > 0 {
				f[c] += p.Noise * rng.NormFloat64()
			}
		}
		rec.Samples[i] = leads.Derive(f)
	}
	return rec
}

// Lead extracts one lead as a slice.
func (r Recording) Lead(l leads.Lead) []float64 {
	out := make([]float64, len(r.Samples))
	for i, s := range r.Samples {
		out[i] = s[l]
	}
	return out
}

// Window returns the whole recording as an analysis window.
func (r Recording) Window(want ...leads.Lead) leads.Window {
	if len(want) == 0 {
		want = leads.All[:]
	}
	w := leads.Window{SampleRate: r.SampleRate, Leads: make(map[leads.Lead][]float64, len(want))}
	for _, l := range want {
		w.Leads[l] = r.Lead(l)
	}
	return w
}

// Frames renders the recording as device frames in ADC counts.
func (r Recording) Frames(countsPerMV float64) []leads.Frame {
	out := make([]leads.Frame, len(r.Samples))
	for i, s := range r.Samples {
		f := s.Frame()
		for c := range f {
			f[c] = math.Round(f[c] * countsPerMV)
		}
		out[i] = f
	}
	return out
}

func gauss(t float64, w Wave) float64 {
	if w.Amp == 0 || w.Sigma <= 0 {
		return 0
	}
	z := (t - w.Offset) / w.Sigma
	return w.Amp * math.Exp(-0.5*z*z)
}
