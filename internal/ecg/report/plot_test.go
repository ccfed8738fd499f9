package report

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ecg.report/internal/ecg"
	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/ecg/measure"
	"github.com/banshee-data/ecg.report/internal/ecg/pipeline"
	"github.com/banshee-data/ecg.report/internal/ecg/rpeak"
	"github.com/banshee-data/ecg.report/internal/ecg/synth"
)

func TestWriteMedianBeatPNG(t *testing.T) {
	rec := synth.Generate(synth.DefaultParams())
	res, _, err := pipeline.NewAnalyzer(pipeline.DefaultOptions()).Analyze(rec.Window(), rpeak.History{})
	require.NoError(t, err)

	b, ok := res.Beats[leads.II]
	require.True(t, ok)

	var buf bytes.Buffer
	require.NoError(t, WriteMedianBeatPNG(&buf, b, leads.II))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")), "not a PNG")

	p, err := MedianBeatPlot(b, leads.II)
	require.NoError(t, err)
	assert.Contains(t, p.Title.Text, "Lead II")
}

func TestMedianBeatPlot_Empty(t *testing.T) {
	_, err := MedianBeatPlot(measure.LeadBeat{}, leads.V1)
	assert.True(t, errors.Is(err, ecg.ErrInsufficientData))
}
