package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/ecg.report/internal/ecg/acquire"
	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/fsutil"
)

func TestRun_Stdout(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run([]string{"-rate", "200", "-duration", "2"}, fsutil.NewMemoryFileSystem(), &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	w, err := acquire.ReadCSV(&stdout, 200)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if got := len(w.Leads); got != leads.Count {
		t.Errorf("got %d leads, want %d", got, leads.Count)
	}
	if got := w.Len(); got != 400 {
		t.Errorf("got %d samples, want 400", got)
	}
}

func TestRun_File(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	var stdout, stderr bytes.Buffer
	args := []string{"-rate", "250", "-duration", "3", "-rr", "800, 600", "-mains", "50", "-out", "rec.csv"}
	if err := run(args, fsys, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]string{"rec.csv"}, fsys.Names()); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}
	if !strings.Contains(stderr.String(), "wrote 750 samples") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRun_Deterministic(t *testing.T) {
	var a, b bytes.Buffer
	args := []string{"-duration", "1", "-noise", "0.05", "-seed", "7"}
	if err := run(args, fsutil.NewMemoryFileSystem(), &a, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	if err := run(args, fsutil.NewMemoryFileSystem(), &b, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("same seed produced different output")
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"zero rate", []string{"-rate", "0"}, "must be positive"},
		{"zero hr", []string{"-hr", "0"}, "-hr must be positive"},
		{"bad rr", []string{"-rr", "800,abc"}, "invalid -rr value"},
		{"negative rr", []string{"-rr", "-5"}, "-rr values must be positive"},
		{"escaping output", []string{"-out", "/proc/x.csv"}, "output /proc/x.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args, fsutil.NewMemoryFileSystem(), &bytes.Buffer{}, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}
