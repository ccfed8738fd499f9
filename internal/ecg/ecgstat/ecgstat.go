// Package ecgstat collects the small statistics the ECG stages share.
// Standard deviations are population (divide by n) throughout.
package ecgstat

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Median returns the median of x, averaging the middle pair for even
// lengths. It returns NaN for an empty slice and does not modify x.
func Median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return math.NaN()
	}
	s := slices.Clone(x)
	slices.Sort(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// MeanStd returns the mean and population standard deviation of x.
func MeanStd(x []float64) (mean, std float64) {
	if len(x) == 0 {
		return math.NaN(), math.NaN()
	}
	return stat.PopMeanStdDev(x, nil)
}

// CV returns the coefficient of variation std/mean, or NaN when the mean
// is not positive.
func CV(x []float64) float64 {
	m, s := MeanStd(x)
	if !(m > 0) {
		return math.NaN()
	}
	return s / m
}

// RobustSigma estimates the noise standard deviation as 1.4826 times the
// median absolute deviation.
func RobustSigma(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	med := Median(x)
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - med)
	}
	return 1.4826 * Median(dev)
}

// PeakToPeak returns max(x) - min(x), or 0 for an empty slice.
func PeakToPeak(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Max(x) - floats.Min(x)
}

// Trapezoid integrates samples x spaced dt apart with the trapezoidal
// rule. Fewer than two samples integrate to zero.
func Trapezoid(x []float64, dt float64) float64 {
	if len(x) < 2 {
		return 0
	}
	t := make([]float64, len(x))
	floats.Span(t, 0, dt*float64(len(x)-1))
	return integrate.Trapezoidal(t, x)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
