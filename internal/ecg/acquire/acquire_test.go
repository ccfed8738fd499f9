package acquire

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ecg.report/internal/ecg"
	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/ecg/synth"
	"github.com/banshee-data/ecg.report/internal/monitoring"
	"github.com/banshee-data/ecg.report/internal/serialmux"
)

func quiet(t *testing.T) {
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

func TestIngest(t *testing.T) {
	quiet(t)
	buf := leads.NewBuffer(16, 500)
	a := New(serialmux.NewDisabledSerialMux(), buf, 0)

	// I=1 mV, II=3 mV, V1=-0.5 mV in device order I V4 V5 II V3 V6 V1 V2.
	require.NoError(t, a.Ingest("1000 0 0 3000 0 0 -500 0"))
	require.Error(t, a.Ingest("1 2 3"))
	require.Error(t, a.Ingest("a b c d e f g h"))

	assert.Equal(t, Stats{Frames: 1, Rejected: 2}, a.Stats())
	w := buf.Window(leads.I, leads.II, leads.III, leads.AVF, leads.V1)
	assert.Equal(t, []float64{1}, w.Leads[leads.I])
	assert.Equal(t, []float64{3}, w.Leads[leads.II])
	assert.Equal(t, []float64{2}, w.Leads[leads.III])
	assert.Equal(t, []float64{2.5}, w.Leads[leads.AVF])
	assert.Equal(t, []float64{-0.5}, w.Leads[leads.V1])
}

func TestRun(t *testing.T) {
	quiet(t)
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	defer mux.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	buf := leads.NewBuffer(1000, 250)
	a := New(mux, buf, 1000)
	done := make(chan error, 1)
	runCtx, stop := context.WithCancel(ctx)
	go func() { done <- a.Run(runCtx) }()

	require.Eventually(t, func() bool { return mux.Streaming() }, 2*time.Second, time.Millisecond)

	rec := synth.Generate(synth.DefaultParams())
	var sb strings.Builder
	for _, f := range rec.Frames(1000)[:100] {
		sb.WriteString(f.Format() + "\r\n")
	}
	port.AddReadData(sb.String())
	require.Eventually(t, func() bool { return buf.Len() == 100 }, 2*time.Second, time.Millisecond)

	stop()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, "1\r\n0\r\n", port.Written())
	assert.False(t, mux.Streaming())

	got := buf.Window(leads.II).Leads[leads.II]
	want := rec.Lead(leads.II)[:100]
	assert.InDeltaSlice(t, want, got, 0.001)
}

func TestRun_StartFails(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	port.WriteError = errors.New("unplugged")
	mux := serialmux.NewSerialMux(port)
	defer mux.Close()

	err := New(mux, leads.NewBuffer(10, 250), 1000).Run(context.Background())
	assert.Error(t, err)
}

func TestCSVRoundTrip(t *testing.T) {
	p := synth.DefaultParams()
	p.Duration = 1
	rec := synth.Generate(p)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rec.SampleRate, rec.Samples))

	w, err := ReadCSV(&buf, rec.SampleRate)
	require.NoError(t, err)
	require.NoError(t, w.Validate())
	assert.Len(t, w.Leads, leads.Count)
	assert.Equal(t, len(rec.Samples), w.Len())
	for _, l := range leads.All {
		assert.InDeltaSlice(t, rec.Lead(l), w.Leads[l], 1e-5, "lead %s", l)
	}
}

func TestReadCSV_Subset(t *testing.T) {
	w, err := ReadCSV(strings.NewReader("II, avf\n0.1,0.2\n0.3,0.4\n"), 500)
	require.NoError(t, err)
	assert.Equal(t, 500.0, w.SampleRate)
	assert.Equal(t, []float64{0.1, 0.3}, w.Leads[leads.II])
	assert.Equal(t, []float64{0.2, 0.4}, w.Leads[leads.AVF])
}

func TestReadCSV_Errors(t *testing.T) {
	for name, in := range map[string]string{
		"empty":        "",
		"unknown lead": "II,V7\n1,2\n",
		"duplicate":    "II,ii\n1,2\n",
		"bad number":   "II\nx\n",
		"short row":    "I,II\n1\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(in), 250)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ecg.ErrInvalidInput), "got %v", err)
		})
	}
}
