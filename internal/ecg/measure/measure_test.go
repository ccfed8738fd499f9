package measure

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ecg.report/internal/ecg/conditioning"
	"github.com/banshee-data/ecg.report/internal/ecg/fiducial"
	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/ecg/medianbeat"
	"github.com/banshee-data/ecg.report/internal/ecg/synth"
	"github.com/banshee-data/ecg.report/internal/optional"
)

func beats(t *testing.T, p synth.Params) map[leads.Lead]LeadBeat {
	t.Helper()
	rec := synth.Generate(p)
	out := make(map[leads.Lead]LeadBeat)
	for _, l := range []leads.Lead{leads.I, leads.II, leads.AVF, leads.V1, leads.V5} {
		res := conditioning.Condition(rec.Lead(l), rec.SampleRate, conditioning.DefaultOptions())
		tpl, err := medianbeat.Build(res.Samples, rec.RPeaks, rec.SampleRate)
		require.NoError(t, err, "lead %s", l)
		base := medianbeat.Baseline(tpl)
		out[l] = LeadBeat{Template: tpl, Baseline: base, Points: fiducial.Detect(tpl, base)}
	}
	return out
}

// frontalAxis is the angle atan2(aVF, I) reports for a dipole at deg.
func frontalAxis(deg float64) float64 {
	r := deg * math.Pi / 180
	i := math.Cos(r)
	avf := (math.Cos(r-math.Pi/3) + math.Cos(r-2*math.Pi/3)) / 2
	return math.Atan2(avf, i) * 180 / math.Pi
}

func TestQTcFormulas(t *testing.T) {
	assert.InDelta(t, 406.7, QTcBazett(315, 600), 0.5)
	assert.InDelta(t, 373.6, QTcFridericia(315, 600), 0.5)
	// At 60 bpm the corrections are identity.
	assert.InDelta(t, 400, QTcBazett(400, 1000), 1e-9)
	assert.InDelta(t, 400, QTcFridericia(400, 1000), 1e-9)
}

func TestNormalizeAxis(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{0, 0},
		{180, 180},
		{-180, 180},
		{181, -179},
		{270, -90},
		{-270, 90},
		{540, 180},
		{-45, -45},
		{725, 5},
	}
	for _, tt := range tests {
		got := NormalizeAxis(tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, "NormalizeAxis(%v)", tt.in)
		assert.True(t, got > -180 && got <= 180)
	}
}

func TestQRSTAngle(t *testing.T) {
	tests := []struct{ qrs, t, want float64 }{
		{60, 45, 15},
		{45, 60, 15},
		{170, -170, 20},
		{-90, 90, 180},
		{0, 0, 0},
		{10, 100, 90},
	}
	for _, tt := range tests {
		got := QRSTAngle(tt.qrs, tt.t)
		assert.InDelta(t, tt.want, got, 1e-9, "QRSTAngle(%v, %v)", tt.qrs, tt.t)
		assert.True(t, got >= 0 && got <= 180)
	}
}

func TestAxis(t *testing.T) {
	got, ok := Axis(1, 0, 0.1).Get()
	require.True(t, ok)
	assert.Equal(t, 0.0, got)

	got, _ = Axis(-1, 0, 0.1).Get()
	assert.Equal(t, 180.0, got)

	got, _ = Axis(0, -1, 0.1).Get()
	assert.Equal(t, -90.0, got)

	assert.False(t, Axis(0.0001, 0.0002, PAxisMinEnergy).OK(), "below the energy gate")
	assert.True(t, Axis(0.0001, 0.0002, 0.0001).OK())
}

func TestRangeCheck(t *testing.T) {
	assert.True(t, QRSRange.Check(40).OK())
	assert.True(t, QRSRange.Check(200).OK())
	assert.False(t, QRSRange.Check(39.9).OK())
	assert.False(t, QRSRange.Check(250).OK())
	assert.False(t, QTRange.Check(math.NaN()).OK())
}

func TestCompute_Synthetic(t *testing.T) {
	b := beats(t, synth.DefaultParams())
	s := Compute(Input{HR: optional.Some(75.0), Beats: b})

	hr, _ := s.HR.Get()
	assert.Equal(t, 75.0, hr)

	for name, v := range map[string]optional.Value[float64]{
		"PR": s.PR, "QRS": s.QRS, "QT": s.QT, "QTc": s.QTc, "QTcF": s.QTcF, "ST": s.ST,
		"P axis": s.PAxis, "QRS axis": s.QRSAxis, "T axis": s.TAxis, "QRS-T": s.QRSTAngle,
		"RV5": s.RV5, "SV1": s.SV1,
	} {
		assert.True(t, v.OK(), "%s not computed", name)
	}

	qt, _ := s.QT.Get()
	qtc, _ := s.QTc.Get()
	assert.InDelta(t, QTcBazett(qt, 800), qtc, 1e-9)
	assert.True(t, qtc >= 350 && qtc <= 450, "QTc %v", qtc)

	st, _ := s.ST.Get()
	assert.InDelta(t, 0, st, 0.05)

	qrsAxis, _ := s.QRSAxis.Get()
	assert.InDelta(t, frontalAxis(60), qrsAxis, 3)
	tAxis, _ := s.TAxis.Get()
	assert.InDelta(t, frontalAxis(45), tAxis, 3)
	pAxis, _ := s.PAxis.Get()
	assert.InDelta(t, frontalAxis(60), pAxis, 5)
	angle, _ := s.QRSTAngle.Get()
	assert.InDelta(t, math.Abs(qrsAxis-tAxis), angle, 1e-9)

	rv5, _ := s.RV5.Get()
	sv1, _ := s.SV1.Get()
	assert.True(t, rv5 > 1.0 && rv5 < 1.8, "RV5 %v", rv5)
	assert.True(t, sv1 < -0.5 && sv1 > -1.1, "SV1 %v", sv1)
}

func TestCompute_RightAxisDeviation(t *testing.T) {
	p := synth.DefaultParams()
	p.QRSAxis = 120
	s := Compute(Input{HR: optional.Some(75.0), Beats: beats(t, p)})
	got, ok := s.QRSAxis.Get()
	require.True(t, ok)
	assert.InDelta(t, frontalAxis(120), got, 3)
	assert.Greater(t, got, 90.0)
}

func TestCompute_PEnergyGate(t *testing.T) {
	b := beats(t, synth.DefaultParams())
	pts := b[leads.II].Points
	pOn, ok1 := pts.POnset.Get()
	pOff, ok2 := pts.POffset.Get()
	require.True(t, ok1 && ok2)

	// Flatten the P wave in the axis leads only; lead II still detects it.
	for _, l := range []leads.Lead{leads.I, leads.AVF} {
		lb := b[l]
		samples := append([]float64(nil), lb.Template.Samples...)
		for i := pOn - 5; i <= pOff+5; i++ {
			samples[i] = lb.Baseline + 0.001*math.Sin(float64(i))
		}
		lb.Template.Samples = samples
		b[l] = lb
	}

	s := Compute(Input{HR: optional.Some(75.0), Beats: b})
	assert.True(t, s.PR.OK(), "P is still detected on lead II")
	assert.False(t, s.PAxis.OK(), "P axis gated")
	assert.True(t, s.QRSAxis.OK())
	assert.True(t, s.TAxis.OK())
	assert.True(t, s.QRSTAngle.OK())
}

func TestCompute_MissingFiducialsCascade(t *testing.T) {
	b := beats(t, synth.DefaultParams())
	lb := b[leads.II]
	lb.Points.TOffset = optional.None[int]()
	lb.Points.POnset = optional.None[int]()
	b[leads.II] = lb

	s := Compute(Input{HR: optional.Some(75.0), Beats: b})
	assert.False(t, s.QT.OK())
	assert.False(t, s.QTc.OK())
	assert.False(t, s.QTcF.OK())
	assert.False(t, s.PR.OK())
	assert.False(t, s.TAxis.OK())
	assert.False(t, s.PAxis.OK())
	assert.False(t, s.QRSTAngle.OK())
	assert.True(t, s.QRS.OK())
	assert.True(t, s.QRSAxis.OK())
}

func TestCompute_OutOfRangeDiscarded(t *testing.T) {
	tpl := medianbeat.Template{Samples: make([]float64, 300), R: 100, SampleRate: 250}
	pts := fiducial.Points{
		QRSOnset:  optional.Some(90),
		QRSOffset: optional.Some(160), // 280 ms
		TOffset:   optional.Some(299), // 836 ms
	}
	s := Compute(Input{
		HR:    optional.Some(400.0),
		Beats: map[leads.Lead]LeadBeat{leads.II: {Template: tpl, Points: pts}},
	})
	assert.False(t, s.HR.OK(), "HR above range")
	assert.False(t, s.QRS.OK())
	assert.False(t, s.QT.OK())
	assert.True(t, s.ST.OK())
	assert.False(t, s.QRSAxis.OK(), "no lead I or aVF")
}

func TestCompute_STClamp(t *testing.T) {
	tpl := medianbeat.Template{Samples: make([]float64, 300), R: 100, SampleRate: 250}
	for i := 110; i < 300; i++ {
		tpl.Samples[i] = 3.5
	}
	pts := fiducial.Points{QRSOnset: optional.Some(95), QRSOffset: optional.Some(110)}
	s := Compute(Input{Beats: map[leads.Lead]LeadBeat{leads.II: {Template: tpl, Points: pts}}})
	st, ok := s.ST.Get()
	require.True(t, ok)
	assert.Equal(t, STLimit, st)
	assert.False(t, s.QTc.OK(), "no HR, no QTc")
}

func TestCompute_NoPrimaryLead(t *testing.T) {
	s := Compute(Input{HR: optional.Some(72.0)})
	assert.True(t, s.HR.OK())
	assert.False(t, s.QRS.OK())
	assert.False(t, s.QRSAxis.OK())
}
