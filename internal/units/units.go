// Package units converts between sample counts and milliseconds, and
// between millivolts and the amplitude units an ECG is displayed in.
package units

import (
	"math"
	"strings"
)

// Amplitude unit constants
const (
	MV = "mV"
	UV = "uV"
	// MM is millimetres on paper at StandardGain.
	MM = "mm"
)

// StandardGain is the conventional paper gain, 10 mm per mV.
const StandardGain = 10.0

// ValidUnits contains all valid amplitude units.
var ValidUnits = []string{MV, UV, MM}

// IsValid reports whether unit is one of ValidUnits.
func IsValid(unit string) bool {
	for _, u := range ValidUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns the valid units for error messages.
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertAmplitude converts millivolts to the target unit. Unknown units
// leave the value in mV.
func ConvertAmplitude(mv float64, target string) float64 {
	switch target {
	case UV:
		return mv * 1000
	case MM:
		return mv * StandardGain
	default:
		return mv
	}
}

// CountsToMV converts a raw ADC reading to millivolts. A non-positive
// calibration leaves the reading unchanged.
func CountsToMV(counts, countsPerMV float64) float64 {
	if countsPerMV <= 0 {
		return counts
	}
	return counts / countsPerMV
}

// SamplesToMs converts a sample count at fs Hz to milliseconds.
func SamplesToMs(n int, fs float64) float64 {
	return float64(n) / fs * 1000
}

// SecondsToSamples converts a duration in seconds to the nearest whole
// number of samples at fs Hz.
func SecondsToSamples(sec, fs float64) int {
	return int(math.Round(sec * fs))
}
