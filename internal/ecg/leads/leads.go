// Package leads defines the twelve standard ECG leads, the 8-channel frame
// the acquisition device emits, and the fixed-capacity sample buffers the
// analysis pipeline reads windows from.
package leads

import (
	"fmt"
	"strings"
)

// Lead identifies one of the twelve standard leads.
type Lead int

const (
	I Lead = iota
	II
	III
	AVR
	AVL
	AVF
	V1
	V2
	V3
	V4
	V5
	V6
)

// Count is the number of standard leads.
const Count = 12

// All lists the leads in standard display order.
var All = [Count]Lead{I, II, III, AVR, AVL, AVF, V1, V2, V3, V4, V5, V6}

var names = [Count]string{"I", "II", "III", "aVR", "aVL", "aVF", "V1", "V2", "V3", "V4", "V5", "V6"}

func (l Lead) String() string {
	if l < 0 || int(l) >= Count {
		return fmt.Sprintf("Lead(%d)", int(l))
	}
	return names[l]
}

// Valid reports whether l is one of the twelve standard leads.
func (l Lead) Valid() bool { return l >= 0 && int(l) < Count }

// Parse accepts lead names case-insensitively ("ii", "aVF", "avf").
func Parse(s string) (Lead, error) {
	s = strings.TrimSpace(s)
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return Lead(i), nil
		}
	}
	return 0, fmt.Errorf("unknown lead %q", s)
}

// MarshalText encodes the lead by name so leads can key JSON maps.
func (l Lead) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid lead %d", int(l))
	}
	return []byte(names[l]), nil
}

// UnmarshalText decodes a lead name.
func (l *Lead) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
