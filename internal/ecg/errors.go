package ecg

import "errors"

// Data-quality conditions. These never escape pipeline.Analyze; they are
// reported per field as "not computed".
var (
	// ErrInsufficientData means the window is too short or holds too few
	// beats for the computation.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDetectionFailure means a fiducial search found nothing.
	ErrDetectionFailure = errors.New("detection failure")
	// ErrOutOfRange means a measurement fell outside its plausible range.
	ErrOutOfRange = errors.New("measurement out of range")
	// ErrFilterDesign means a conditioning filter could not be built for
	// the sampling rate; the signal passes through sanitised only.
	ErrFilterDesign = errors.New("filter design failed")
)

// ErrInvalidInput is the only error Analyze returns: a caller broke the
// contract (non-positive sampling rate, missing buffer).
var ErrInvalidInput = errors.New("invalid input")
