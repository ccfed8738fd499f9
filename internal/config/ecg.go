package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/ecg.report/internal/ecg/conditioning"
	"github.com/banshee-data/ecg.report/internal/ecg/pipeline"
	"github.com/banshee-data/ecg.report/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/ecg.defaults.json"

// ECGConfig is the monitor configuration. Every field is a pointer so that
// keys absent from a file keep their defaults; the Get* accessors resolve
// them.
type ECGConfig struct {
	// Acquisition
	SampleRateHz  *float64               `json:"sample_rate_hz,omitempty"`
	CountsPerMV   *float64               `json:"counts_per_mv,omitempty"`
	BufferSeconds *float64               `json:"buffer_seconds,omitempty"`
	SerialPort    *string                `json:"serial_port,omitempty"`
	Serial        *serialmux.PortOptions `json:"serial,omitempty"`

	// Conditioning
	HighPassHz *float64 `json:"highpass_hz,omitempty"`
	LowPassHz  *float64 `json:"lowpass_hz,omitempty"`
	Mains      *string  `json:"mains,omitempty"` // off, auto, 50, 60
	NotchQ     *float64 `json:"notch_q,omitempty"`

	// Analysis cycle
	Tick             *string  `json:"tick,omitempty"` // duration string like "50ms"
	AnalyseEvery     *int     `json:"analyse_every,omitempty"`
	MinWindowSeconds *float64 `json:"min_window_seconds,omitempty"`
	Parallelism      *int     `json:"parallelism,omitempty"`

	// Persistence
	SnapshotInterval *string `json:"snapshot_interval,omitempty"` // duration string like "10s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultConfig returns a config with every field set to its default.
func DefaultConfig() *ECGConfig {
	return &ECGConfig{
		SampleRateHz:     ptrFloat64(500),
		CountsPerMV:      ptrFloat64(1000),
		BufferSeconds:    ptrFloat64(10),
		SerialPort:       ptrString(""),
		Serial:           &serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"},
		HighPassHz:       ptrFloat64(0.5),
		LowPassHz:        ptrFloat64(40),
		Mains:            ptrString(string(conditioning.MainsAuto)),
		NotchQ:           ptrFloat64(30),
		Tick:             ptrString("50ms"),
		AnalyseEvery:     ptrInt(20),
		MinWindowSeconds: ptrFloat64(4),
		Parallelism:      ptrInt(0),
		SnapshotInterval: ptrString("10s"),
	}
}

// LoadConfig loads an ECGConfig from a JSON file. Fields omitted from the
// file keep their defaults, so partial configs are safe.
func LoadConfig(path string) (*ECGConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ECGConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for tests and tools run from inside the repository.
func MustLoadDefaultConfig() *ECGConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/ecg/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks the values that are set.
func (c *ECGConfig) Validate() error {
	positive := map[string]*float64{
		"sample_rate_hz": c.SampleRateHz,
		"counts_per_mv":  c.CountsPerMV,
		"buffer_seconds": c.BufferSeconds,
		"notch_q":        c.NotchQ,
	}
	for name, v := range positive {
		if v != nil && !(*v > 0) {
			return fmt.Errorf("%s must be positive, got %v", name, *v)
		}
	}

	hp, lp := c.GetHighPassHz(), c.GetLowPassHz()
	if hp < 0 {
		return fmt.Errorf("highpass_hz must be non-negative, got %v", hp)
	}
	if lp <= hp {
		return fmt.Errorf("lowpass_hz %v must be above highpass_hz %v", lp, hp)
	}
	if c.SampleRateHz != nil && lp >= *c.SampleRateHz/2 {
		return fmt.Errorf("lowpass_hz %v must be below Nyquist (%v Hz)", lp, *c.SampleRateHz/2)
	}

	if c.Mains != nil {
		if _, err := conditioning.ParseMainsMode(*c.Mains); err != nil {
			return err
		}
	}

	for name, v := range map[string]*string{"tick": c.Tick, "snapshot_interval": c.SnapshotInterval} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.AnalyseEvery != nil && *c.AnalyseEvery < 1 {
		return fmt.Errorf("analyse_every must be at least 1, got %d", *c.AnalyseEvery)
	}
	if c.MinWindowSeconds != nil && *c.MinWindowSeconds < 0 {
		return fmt.Errorf("min_window_seconds must be non-negative, got %v", *c.MinWindowSeconds)
	}
	if c.BufferSeconds != nil && c.MinWindowSeconds != nil && *c.MinWindowSeconds > *c.BufferSeconds {
		return fmt.Errorf("min_window_seconds %v exceeds buffer_seconds %v", *c.MinWindowSeconds, *c.BufferSeconds)
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	return nil
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetSampleRateHz returns sample_rate_hz or the default 500 Hz.
func (c *ECGConfig) GetSampleRateHz() float64 { return floatOr(c.SampleRateHz, 500) }

// GetCountsPerMV returns counts_per_mv or the default 1000.
func (c *ECGConfig) GetCountsPerMV() float64 { return floatOr(c.CountsPerMV, 1000) }

// GetBufferSeconds returns buffer_seconds or the default 10 s.
func (c *ECGConfig) GetBufferSeconds() float64 { return floatOr(c.BufferSeconds, 10) }

// GetBufferSamples returns the per-lead buffer capacity.
func (c *ECGConfig) GetBufferSamples() int {
	return int(c.GetBufferSeconds() * c.GetSampleRateHz())
}

// GetSerialPort returns serial_port; empty means no device.
func (c *ECGConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetSerialOptions returns the serial settings or the defaults.
func (c *ECGConfig) GetSerialOptions() serialmux.PortOptions {
	if c.Serial == nil {
		return serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate}
	}
	return *c.Serial
}

// GetHighPassHz returns highpass_hz or the default 0.5 Hz.
func (c *ECGConfig) GetHighPassHz() float64 { return floatOr(c.HighPassHz, 0.5) }

// GetLowPassHz returns lowpass_hz or the default 40 Hz.
func (c *ECGConfig) GetLowPassHz() float64 { return floatOr(c.LowPassHz, 40) }

// GetNotchQ returns notch_q or the default 30.
func (c *ECGConfig) GetNotchQ() float64 { return floatOr(c.NotchQ, 30) }

// GetMains returns the mains mode, auto when unset or unparseable.
func (c *ECGConfig) GetMains() conditioning.MainsMode {
	if c.Mains == nil {
		return conditioning.MainsAuto
	}
	m, err := conditioning.ParseMainsMode(*c.Mains)
	if err != nil {
		return conditioning.MainsAuto
	}
	return m
}

// GetTick returns the host refresh period, 50 ms by default.
func (c *ECGConfig) GetTick() time.Duration { return durationOr(c.Tick, 50*time.Millisecond) }

// GetSnapshotInterval returns how often snapshots are persisted, 10 s by
// default.
func (c *ECGConfig) GetSnapshotInterval() time.Duration {
	return durationOr(c.SnapshotInterval, 10*time.Second)
}

// GetAnalyseEvery returns the number of ticks per analysis cycle.
func (c *ECGConfig) GetAnalyseEvery() int {
	if c.AnalyseEvery == nil || *c.AnalyseEvery < 1 {
		return 20
	}
	return *c.AnalyseEvery
}

// GetMinWindowSeconds returns min_window_seconds or the default 4 s.
func (c *ECGConfig) GetMinWindowSeconds() float64 { return floatOr(c.MinWindowSeconds, 4) }

// GetParallelism returns the per-lead worker bound, 0 meaning GOMAXPROCS.
func (c *ECGConfig) GetParallelism() int {
	if c.Parallelism == nil {
		return 0
	}
	return *c.Parallelism
}

// AnalyzerOptions maps the config onto the analysis pipeline.
func (c *ECGConfig) AnalyzerOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.Conditioning.HighPassHz = c.GetHighPassHz()
	opts.Conditioning.LowPassHz = c.GetLowPassHz()
	opts.Conditioning.Mains = c.GetMains()
	opts.Conditioning.NotchQ = c.GetNotchQ()
	opts.Parallelism = c.GetParallelism()
	return opts
}

// RunOptions maps the config onto the session loop.
func (c *ECGConfig) RunOptions() pipeline.RunOptions {
	return pipeline.RunOptions{
		Tick:       c.GetTick(),
		Every:      c.GetAnalyseEvery(),
		MinSeconds: c.GetMinWindowSeconds(),
	}
}
