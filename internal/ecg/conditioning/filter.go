package conditioning

import (
	"fmt"
	"math"

	"github.com/banshee-data/ecg.report/internal/ecg"
)

// Butterworth section quality factors for a 4th-order response built from
// two 2nd-order sections.
var butterworth4Q = [2]float64{0.5411961001461970, 1.3065629648763766}

// biquad is one second-order IIR section, normalised so a0 = 1.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func newBiquad(b0, b1, b2, a0, a1, a2 float64) biquad {
	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

func lowPass(fc, fs, q float64) biquad {
	w0 := 2 * math.Pi * fc / fs
	cw, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	return newBiquad((1-cw)/2, 1-cw, (1-cw)/2, 1+alpha, -2*cw, 1-alpha)
}

func highPass(fc, fs, q float64) biquad {
	w0 := 2 * math.Pi * fc / fs
	cw, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	return newBiquad((1+cw)/2, -(1 + cw), (1+cw)/2, 1+alpha, -2*cw, 1-alpha)
}

func notch(f0, fs, q float64) biquad {
	w0 := 2 * math.Pi * f0 / fs
	cw, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	return newBiquad(1, -2*cw, 1, 1+alpha, -2*cw, 1-alpha)
}

// dcGain is H(z=1).
func (b biquad) dcGain() float64 {
	return (b.b0 + b.b1 + b.b2) / (1 + b.a1 + b.a2)
}

// Chain is a cascade of biquad sections.
type Chain struct {
	sections []biquad
}

// Len returns the number of second-order sections.
func (c *Chain) Len() int { return len(c.sections) }

// Spec describes a filter chain. A zero corner disables that stage.
type Spec struct {
	HighPassHz float64
	LowPassHz  float64
	NotchHz    float64
	NotchQ     float64
}

// Design builds the chain for sampling rate fs. Every corner must sit
// strictly between 0 Hz and Nyquist, and the band must not be empty;
// otherwise the error wraps ecg.ErrFilterDesign.
func Design(s Spec, fs float64) (*Chain, error) {
	if !(fs > 0) || math.IsInf(fs, 0) {
		return nil, fmt.Errorf("%w: sampling rate %v", ecg.ErrFilterDesign, fs)
	}
	nyq := fs / 2
	check := func(name string, f float64) error {
		if f < 0 || math.IsNaN(f) || f >= nyq {
			return fmt.Errorf("%w: %s %v Hz outside (0, %v) Hz", ecg.ErrFilterDesign, name, f, nyq)
		}
		return nil
	}
	for _, c := range []struct {
		name string
		f    float64
	}{{"high-pass", s.HighPassHz}, {"low-pass", s.LowPassHz}, {"notch", s.NotchHz}} {
		if err := check(c.name, c.f); err != nil {
			return nil, err
		}
	}
	if s.HighPassHz > 0 && s.LowPassHz > 0 && s.HighPassHz >= s.LowPassHz {
		return nil, fmt.Errorf("%w: empty band %v-%v Hz", ecg.ErrFilterDesign, s.HighPassHz, s.LowPassHz)
	}

	c := &Chain{}
	if s.HighPassHz > 0 {
		for _, q := range butterworth4Q {
			c.sections = append(c.sections, highPass(s.HighPassHz, fs, q))
		}
	}
	if s.LowPassHz > 0 {
		for _, q := range butterworth4Q {
			c.sections = append(c.sections, lowPass(s.LowPassHz, fs, q))
		}
	}
	if s.NotchHz > 0 {
		q := s.NotchQ
		if q <= 0 {
			q = 30
		}
		c.sections = append(c.sections, notch(s.NotchHz, fs, q))
	}
	return c, nil
}

// Filter runs x through the chain once (causal). The state starts at the
// steady state for a constant input of x[0], which keeps the start-up
// transient small.
func (c *Chain) Filter(x []float64) []float64 {
	y := make([]float64, len(x))
	copy(y, x)
	if len(x) == 0 {
		return y
	}
	for _, s := range c.sections {
		u := y[0]
		yss := s.dcGain() * u
		z1 := yss - s.b0*u
		z2 := s.b2*u - s.a2*yss
		for i, v := range y {
			out := s.b0*v + z1
			z1 = s.b1*v - s.a1*out + z2
			z2 = s.b2*v - s.a2*out
			y[i] = out
		}
	}
	return y
}

// FiltFilt applies the chain forward and backward for zero phase shift.
// The input is extended at both ends by odd reflection of padLen samples
// (clamped to len(x)-1) so edge transients fall outside the result.
func (c *Chain) FiltFilt(x []float64, padLen int) []float64 {
	n := len(x)
	if n == 0 || len(c.sections) == 0 {
		out := make([]float64, n)
		copy(out, x)
		return out
	}
	padLen = min(max(padLen, 0), n-1)

	ext := make([]float64, n+2*padLen)
	for i := 0; i < padLen; i++ {
		ext[i] = 2*x[0] - x[padLen-i]
		ext[padLen+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[padLen:], x)

	y := c.Filter(ext)
	reverse(y)
	y = c.Filter(y)
	reverse(y)
	return y[padLen : padLen+n]
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
