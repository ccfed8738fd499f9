package acquire

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/ecg.report/internal/ecg"
	"github.com/banshee-data/ecg.report/internal/ecg/leads"
)

// ReadCSV reads a recording with a header row of lead names and one column
// per lead, in millivolts. An optional leading "t" or "time" column is
// ignored.
func ReadCSV(r io.Reader, sampleRate float64) (leads.Window, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return leads.Window{}, fmt.Errorf("%w: read header: %v", ecg.ErrInvalidInput, err)
	}
	cols := make([]leads.Lead, len(header))
	skip := make([]bool, len(header))
	seen := make(map[leads.Lead]bool)
	for i, name := range header {
		name = strings.TrimSpace(name)
		if i == 0 && (strings.EqualFold(name, "t") || strings.EqualFold(name, "time")) {
			skip[i] = true
			continue
		}
		l, err := leads.Parse(name)
		if err != nil {
			return leads.Window{}, fmt.Errorf("%w: column %d: %v", ecg.ErrInvalidInput, i+1, err)
		}
		if seen[l] {
			return leads.Window{}, fmt.Errorf("%w: lead %s appears twice", ecg.ErrInvalidInput, l)
		}
		seen[l] = true
		cols[i] = l
	}

	w := leads.Window{SampleRate: sampleRate, Leads: make(map[leads.Lead][]float64, len(seen))}
	for l := range seen {
		w.Leads[l] = []float64{}
	}
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return leads.Window{}, fmt.Errorf("%w: row %d: %v", ecg.ErrInvalidInput, row, err)
		}
		for i, s := range rec {
			if skip[i] {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return leads.Window{}, fmt.Errorf("%w: row %d column %d: %v", ecg.ErrInvalidInput, row, i+1, err)
			}
			w.Leads[cols[i]] = append(w.Leads[cols[i]], v)
		}
	}
	return w, nil
}

// WriteCSV writes samples with a time column and all twelve leads.
func WriteCSV(wr io.Writer, sampleRate float64, samples []leads.Sample) error {
	cw := csv.NewWriter(wr)
	header := []string{"t"}
	for _, l := range leads.All {
		header = append(header, l.String())
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for i, s := range samples {
		rec[0] = strconv.FormatFloat(float64(i)/sampleRate, 'f', 4, 64)
		for j, v := range s {
			rec[j+1] = strconv.FormatFloat(v, 'f', 5, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
