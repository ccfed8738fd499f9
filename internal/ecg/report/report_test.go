package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ecg.report/internal/ecg"
	"github.com/banshee-data/ecg.report/internal/ecg/measure"
	"github.com/banshee-data/ecg.report/internal/ecg/pipeline"
	"github.com/banshee-data/ecg.report/internal/ecg/rhythm"
	"github.com/banshee-data/ecg.report/internal/ecg/rpeak"
	"github.com/banshee-data/ecg.report/internal/ecg/synth"
	"github.com/banshee-data/ecg.report/internal/optional"
)

var when = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestArtifactFieldNames(t *testing.T) {
	a := Artifact{
		HR:     optional.Some(72.0),
		Axes:   [3]num{optional.None[float64](), optional.Some(45.0), optional.Some(30.0)},
		RV5SV1: [2]num{optional.Some(1.2), optional.Some(-0.8)},
	}
	b, err := json.Marshal(a)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &raw))
	for _, k := range []string{"HR_bpm", "PR_ms", "QRS_ms", "QT_ms", "QTc_ms", "QTcF_ms", "ST_mV", "P_QRS_T_axes_deg", "RV5_SV1_mV"} {
		assert.Contains(t, raw, k)
	}
	assert.Equal(t, "72", string(raw["HR_bpm"]))
	assert.Equal(t, "null", string(raw["PR_ms"]))
	assert.Equal(t, "[null,45,30]", string(raw["P_QRS_T_axes_deg"]))
	assert.Equal(t, "[1.2,-0.8]", string(raw["RV5_SV1_mV"]))

	var back Artifact
	require.NoError(t, json.Unmarshal(b, &back))
	if diff := cmp.Diff(a.Axes[1].Ptr(), back.Axes[1].Ptr()); diff != "" {
		t.Errorf("axes mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, back.PR.OK())
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, valid().Write(&buf))
	assert.Contains(t, buf.String(), "\n  \"HR_bpm\": 75,")

	var back Artifact
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.NoError(t, back.Validate())
}

func TestFromResult(t *testing.T) {
	rec := synth.Generate(synth.DefaultParams())
	res, _, err := pipeline.NewAnalyzer(pipeline.DefaultOptions()).Analyze(rec.Window(), rpeak.History{})
	require.NoError(t, err)

	a := FromResult(&res, "abc", when.In(time.FixedZone("x", 3600)))
	assert.Equal(t, "abc", a.SessionID)
	assert.Equal(t, when, a.GeneratedAt)
	assert.Equal(t, res.Snapshot.QTc, a.QTc)
	assert.Equal(t, res.Snapshot.QRSAxis, a.Axes[1])
	assert.Equal(t, res.Snapshot.SV1, a.RV5SV1[1])
	assert.Equal(t, 250.0, a.SampleRateHz)
	assert.InDelta(t, 10, a.WindowSeconds, 1e-9)
	assert.GreaterOrEqual(t, a.MedianBeats, 8)
	assert.Equal(t, string(rhythm.NormalSinus), a.Rhythm)
	assert.Equal(t, string(rhythm.SeverityNormal), a.Severity)

	sum, ok := a.SokolowLyon.Get()
	require.True(t, ok)
	rv5, _ := a.RV5SV1[0].Get()
	sv1, _ := a.RV5SV1[1].Get()
	assert.InDelta(t, rv5-sv1, sum, 1e-12)

	assert.NoError(t, a.Validate())
}

func TestFromResult_NotComputed(t *testing.T) {
	a := FromResult(&pipeline.Result{}, "", when)
	assert.False(t, a.HR.OK())
	assert.False(t, a.SokolowLyon.OK())
	assert.Empty(t, a.Rhythm)
	assert.Zero(t, a.WindowSeconds)
	assert.NoError(t, a.Validate())
}

func valid() Artifact {
	qt, hr := 380.0, 75.0
	return Artifact{
		HR:          optional.Some(hr),
		QT:          optional.Some(qt),
		QTc:         optional.Some(measure.QTcBazett(qt, 800)),
		QTcF:        optional.Some(measure.QTcFridericia(qt, 800)),
		Axes:        [3]num{optional.Some(55.0), optional.Some(60.0), optional.Some(40.0)},
		RV5SV1:      [2]num{optional.Some(1.3), optional.Some(-0.9)},
		SokolowLyon: optional.Some(2.2),
		MedianBeats: 12,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Artifact)
		want   string
	}{
		{"qtc", func(a *Artifact) { a.QTc = optional.Some(500.0) }, "QTc 500.0"},
		{"qtcf", func(a *Artifact) { a.QTcF = optional.Some(300.0) }, "QTcF 300.0"},
		{"rv5 sign", func(a *Artifact) { a.RV5SV1[0] = optional.Some(-0.1); a.SokolowLyon = optional.None[float64]() }, "RV5"},
		{"sv1 sign", func(a *Artifact) { a.RV5SV1[1] = optional.Some(0.2); a.SokolowLyon = optional.None[float64]() }, "SV1"},
		{"sum", func(a *Artifact) { a.SokolowLyon = optional.Some(2.5) }, "RV5+SV1"},
		{"axis", func(a *Artifact) { a.Axes[2] = optional.Some(-180.0) }, "T axis"},
		{"beats", func(a *Artifact) { a.MedianBeats = 5 }, "5 beats"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid()
			tt.mutate(&a)
			err := a.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ecg.ErrOutOfRange))
			assert.True(t, strings.Contains(err.Error(), tt.want), "got %v", err)
		})
	}
}
