package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	if err := os.Mkdir(filepath.Join(base, "reports"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(base, "escape")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(base, "report.json"), false},
		{"new file in subdir", filepath.Join(base, "reports", "beat.png"), false},
		{"missing nested dirs", filepath.Join(base, "a", "b", "c.csv"), false},
		{"dot dot", filepath.Join(base, "..", "x.json"), true},
		{"absolute elsewhere", filepath.Join(outside, "x.json"), true},
		{"through symlink", filepath.Join(base, "escape", "x.json"), true},
		{"dir itself", base, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, base)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) err = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}

	if err := ValidatePathWithinDirectory("x", filepath.Join(base, "missing")); err == nil {
		t.Error("expected error for a safe dir that does not exist")
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	if err := ValidatePathWithinAllowedDirs(filepath.Join(b, "f"), []string{a, b}); err != nil {
		t.Errorf("path in second dir rejected: %v", err)
	}
	if err := ValidatePathWithinAllowedDirs(filepath.Join(b, "f"), []string{a}); err == nil {
		t.Error("path outside all dirs accepted")
	}
	if err := ValidatePathWithinAllowedDirs(filepath.Join(a, "f"), nil); err == nil {
		t.Error("empty allow list accepted")
	}
}

func TestValidateOutputPath(t *testing.T) {
	extra := t.TempDir()
	t.Setenv("ECG_OUTPUT_DIRS", extra)

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{
		filepath.Join(cwd, "report.json"),
		"report.json",
		filepath.Join(os.TempDir(), "ecg.png"),
		filepath.Join(extra, "x.csv"),
	} {
		if err := ValidateOutputPath(p); err != nil {
			t.Errorf("ValidateOutputPath(%q) = %v", p, err)
		}
	}
	if err := ValidateOutputPath("/etc/ecg-report.json"); err == nil && !strings.HasPrefix(cwd, "/etc") {
		t.Error("ValidateOutputPath accepted /etc")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                                     "unknown",
		"session-1.json":                       "session-1.json",
		"a b/c":                                "a_b_c",
		"../../etc/passwd":                     "etc_passwd",
		"___":                                  "unknown",
		"6f1c2a4e-9d1b-4a51-8c0b-6a9e2f0d1c3b": "6f1c2a4e-9d1b-4a51-8c0b-6a9e2f0d1c3b",
		"ü!!x":                                 "x",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
	if got := SanitizeFilename(strings.Repeat("a", 500)); len(got) != 128 {
		t.Errorf("long name length = %d, want 128", len(got))
	}
}
