package leads

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/ecg.report/internal/units"
)

// Channel order of the acquisition device. The device samples the eight
// independent leads; the four limb leads III, aVR, aVL and aVF are derived.
var FrameOrder = [FrameChannels]Lead{I, V4, V5, II, V3, V6, V1, V2}

// FrameChannels is the number of values in one device line.
const FrameChannels = 8

// Frame is one sample instant as read from the device, in FrameOrder.
type Frame [FrameChannels]float64

// Sample holds one value per standard lead.
type Sample [Count]float64

// ParseFrame parses a device line of eight whitespace separated integers.
func ParseFrame(line string) (Frame, error) {
	var f Frame
	fields := strings.Fields(line)
	if len(fields) != FrameChannels {
		return f, fmt.Errorf("expected %d values, got %d", FrameChannels, len(fields))
	}
	for i, s := range fields {
		v, err := strconv.Atoi(s)
		if err != nil {
			return f, fmt.Errorf("channel %d: %w", i, err)
		}
		f[i] = float64(v)
	}
	return f, nil
}

// Format renders the frame the way the device emits it.
func (f Frame) Format() string {
	parts := make([]string, FrameChannels)
	for i, v := range f {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, " ")
}

// Scale divides every channel by countsPerMV, converting ADC counts to mV.
func (f Frame) Scale(countsPerMV float64) Frame {
	if countsPerMV == 0 || countsPerMV == 1 {
		return f
	}
	for i := range f {
		f[i] = units.CountsToMV(f[i], countsPerMV)
	}
	return f
}

// Derive expands a device frame into all twelve leads using Einthoven's
// law and the Goldberger augmented leads:
//
//	III = II - I
//	aVR = -(I + II) / 2
//	aVL = (I - III) / 2
//	aVF = (II + III) / 2
func Derive(f Frame) Sample {
	var s Sample
	for i, l := range FrameOrder {
		s[l] = f[i]
	}
	s[III] = s[II] - s[I]
	s[AVR] = -(s[I] + s[II]) / 2
	s[AVL] = (s[I] - s[III]) / 2
	s[AVF] = (s[II] + s[III]) / 2
	return s
}

// Frame returns the device channels of s in FrameOrder, the inverse of
// Derive for the measured leads.
func (s Sample) Frame() Frame {
	var f Frame
	for i, l := range FrameOrder {
		f[i] = s[l]
	}
	return f
}
