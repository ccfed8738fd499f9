// Package conditioning cleans raw lead samples for analysis: non-finite
// values are replaced, then a zero-phase band-pass (and optional mains
// notch) removes baseline wander and high-frequency noise.
//
// This filtering serves analysis only. Display smoothing is a separate
// concern of whatever renders the signal.
package conditioning

import (
	"fmt"
	"math"
	"strings"
)

// MainsMode selects how the power-line notch is applied.
type MainsMode string

const (
	MainsOff  MainsMode = "off"
	MainsAuto MainsMode = "auto"
	Mains50   MainsMode = "50"
	Mains60   MainsMode = "60"
)

// ParseMainsMode accepts "off", "auto", "50" or "60" (and "50hz"/"60hz").
func ParseMainsMode(s string) (MainsMode, error) {
	switch m := MainsMode(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "hz")); m {
	case MainsOff, MainsAuto, Mains50, Mains60:
		return m, nil
	case "":
		return MainsAuto, nil
	default:
		return "", fmt.Errorf("unknown mains mode %q", s)
	}
}

// Options configures Condition.
type Options struct {
	HighPassHz float64
	LowPassHz  float64
	Mains      MainsMode
	NotchQ     float64
	// PadSeconds is the reflection padding used by the zero-phase filter.
	PadSeconds float64
}

// DefaultOptions returns the analysis band 0.5-40 Hz with mains detection.
func DefaultOptions() Options {
	return Options{
		HighPassHz: 0.5,
		LowPassHz:  40,
		Mains:      MainsAuto,
		NotchQ:     30,
		PadSeconds: 1,
	}
}

// Result is the output of Condition. Samples always has the input length.
type Result struct {
	Samples []float64
	// NotchHz is the mains frequency removed, 0 when no notch ran.
	NotchHz float64
	// Degraded is set when the filter could not be designed; Samples are
	// then the sanitised input and Err says why.
	Degraded bool
	Err      error
}

// Sanitize returns a copy of x with every NaN or Inf replaced by the
// preceding finite sample, or zero when none precedes it.
func Sanitize(x []float64) []float64 {
	out := make([]float64, len(x))
	last := 0.0
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = last
			continue
		}
		out[i] = v
		last = v
	}
	return out
}

// Condition sanitises x and applies the analysis filter for sampling rate
// fs. It never fails: a filter that cannot be designed yields the
// sanitised signal with Degraded set.
func Condition(x []float64, fs float64, opts Options) Result {
	clean := Sanitize(x)

	spec := Spec{HighPassHz: opts.HighPassHz, LowPassHz: opts.LowPassHz, NotchQ: opts.NotchQ}
	switch opts.Mains {
	case Mains50:
		spec.NotchHz = 50
	case Mains60:
		spec.NotchHz = 60
	case MainsAuto:
		if hz, ok := DetectMains(clean, fs); ok {
			spec.NotchHz = hz
		}
	}

	chain, err := Design(spec, fs)
	if err != nil {
		return Result{Samples: clean, Degraded: true, Err: err}
	}
	pad := int(opts.PadSeconds * fs)
	return Result{Samples: chain.FiltFilt(clean, pad), NotchHz: spec.NotchHz}
}
