// Command ecg-analyse runs the analysis pipeline once over a recorded CSV
// (one column per lead, header of lead names, millivolts) and writes the
// JSON report.
//
//	ecg-analyse [-rate 500] [-out report.json] [-plot beat.png] recording.csv
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/ecg.report/internal/config"
	"github.com/banshee-data/ecg.report/internal/ecg/acquire"
	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/ecg/pipeline"
	"github.com/banshee-data/ecg.report/internal/ecg/report"
	"github.com/banshee-data/ecg.report/internal/ecg/rpeak"
	"github.com/banshee-data/ecg.report/internal/fsutil"
	"github.com/banshee-data/ecg.report/internal/optional"
	"github.com/banshee-data/ecg.report/internal/security"
	"github.com/banshee-data/ecg.report/internal/units"
)

func main() {
	if err := run(os.Args[1:], fsutil.OSFileSystem{}, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("ecg-analyse: %v", err)
	}
}

type options struct {
	input    string
	rate     float64
	config   string
	out      string
	plot     string
	plotLead string
	summary  bool
	units    string
	now      func() time.Time
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	o := options{now: time.Now}
	fs := flag.NewFlagSet("ecg-analyse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Float64Var(&o.rate, "rate", 500, "Sampling rate of the recording in Hz")
	fs.StringVar(&o.config, "config", "", "JSON config with filter settings")
	fs.StringVar(&o.out, "out", "", "Write the JSON report here instead of stdout")
	fs.StringVar(&o.plot, "plot", "", "Write a median beat PNG here")
	fs.StringVar(&o.plotLead, "plot-lead", "II", "Lead drawn by -plot")
	fs.BoolVar(&o.summary, "summary", false, "Print a readable summary to stderr")
	fs.StringVar(&o.units, "units", units.MV, "Amplitude units for -summary ("+units.GetValidUnitsString()+")")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return o, fmt.Errorf("expected one input file, got %d", fs.NArg())
	}
	o.input = fs.Arg(0)
	if !(o.rate > 0) {
		return o, fmt.Errorf("-rate must be positive, got %v", o.rate)
	}
	if !units.IsValid(o.units) {
		return o, fmt.Errorf("invalid -units %q, want one of %s", o.units, units.GetValidUnitsString())
	}
	for _, p := range []string{o.out, o.plot} {
		if p == "" {
			continue
		}
		if err := security.ValidateOutputPath(p); err != nil {
			return o, fmt.Errorf("output %s: %w", p, err)
		}
	}
	return o, nil
}

func run(args []string, fsys fsutil.FileSystem, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	return analyse(o, fsys, stdout, stderr)
}

func analyse(o options, fsys fsutil.FileSystem, stdout, stderr io.Writer) error {
	cfg := config.DefaultConfig()
	if o.config != "" {
		var err error
		if cfg, err = config.LoadConfig(o.config); err != nil {
			return err
		}
	}

	in, err := fsys.Open(o.input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	w, err := acquire.ReadCSV(in, o.rate)
	in.Close()
	if err != nil {
		return err
	}

	res, _, err := pipeline.NewAnalyzer(cfg.AnalyzerOptions()).Analyze(w, rpeak.History{})
	if err != nil {
		return err
	}
	a := report.FromResult(&res, "", o.now())
	if err := a.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(stderr, "warning: %s\n", line)
		}
	}

	if o.out == "" {
		if err := a.Write(stdout); err != nil {
			return err
		}
	} else if err := writeFile(fsys, o.out, a.Write); err != nil {
		return err
	}

	if o.plot != "" {
		l, err := leads.Parse(o.plotLead)
		if err != nil {
			return err
		}
		b, ok := res.Beats[l]
		if !ok {
			return fmt.Errorf("no median beat for lead %s", l)
		}
		if err := writeFile(fsys, o.plot, func(w io.Writer) error {
			return report.WriteMedianBeatPNG(w, b, l)
		}); err != nil {
			return err
		}
	}

	if o.summary {
		printSummary(stderr, a, o.units)
	}
	return nil
}

func writeFile(fsys fsutil.FileSystem, path string, write func(io.Writer) error) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func printSummary(w io.Writer, a report.Artifact, unit string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(name string, v optional.Value[float64], suffix string, prec int) {
		if x, ok := v.Get(); ok {
			fmt.Fprintf(tw, "%s\t%.*f %s\n", name, prec, x, suffix)
		} else {
			fmt.Fprintf(tw, "%s\tn/a\n", name)
		}
	}
	amp := func(v optional.Value[float64]) optional.Value[float64] {
		if x, ok := v.Get(); ok {
			return optional.Some(units.ConvertAmplitude(x, unit))
		}
		return v
	}

	row("HR", a.HR, "bpm", 0)
	row("PR", a.PR, "ms", 0)
	row("QRS", a.QRS, "ms", 0)
	row("QT", a.QT, "ms", 0)
	row("QTc (Bazett)", a.QTc, "ms", 0)
	row("QTc (Fridericia)", a.QTcF, "ms", 0)
	row("ST", amp(a.ST), unit, 3)
	row("P axis", a.Axes[0], "deg", 0)
	row("QRS axis", a.Axes[1], "deg", 0)
	row("T axis", a.Axes[2], "deg", 0)
	row("QRS-T angle", a.QRSTAngle, "deg", 0)
	row("RV5", amp(a.RV5SV1[0]), unit, 3)
	row("SV1", amp(a.RV5SV1[1]), unit, 3)
	row("RV5+SV1", amp(a.SokolowLyon), unit, 3)
	fmt.Fprintf(tw, "Median beats\t%d\n", a.MedianBeats)
	if a.Rhythm != "" {
		fmt.Fprintf(tw, "Rhythm\t%s (%s)\n", a.Rhythm, a.Severity)
		for _, f := range a.Findings {
			fmt.Fprintf(tw, "\t- %s\n", f)
		}
	} else {
		fmt.Fprintf(tw, "Rhythm\tn/a\n")
	}
	tw.Flush()
}
