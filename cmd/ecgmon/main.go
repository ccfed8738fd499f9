// Command ecgmon acquires a 12-lead ECG from a serial device (or the
// built-in simulator), analyses it continuously and serves the results
// over HTTP while recording snapshots to sqlite.
//
//	ecgmon [flags]
//	ecgmon migrate <up|down|status|force N|help>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/ecg.report/internal/api"
	"github.com/banshee-data/ecg.report/internal/config"
	"github.com/banshee-data/ecg.report/internal/db"
	"github.com/banshee-data/ecg.report/internal/ecg/acquire"
	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/ecg/pipeline"
	"github.com/banshee-data/ecg.report/internal/ecg/synth"
	"github.com/banshee-data/ecg.report/internal/serialmux"
	"github.com/banshee-data/ecg.report/internal/timeutil"
	"github.com/banshee-data/ecg.report/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a JSON config file (defaults are used when empty)")
	dbPath      = flag.String("db", "ecg_data.db", "Path to the sqlite database")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	port        = flag.String("port", "", "Serial port, overrides serial_port from the config")
	simulate    = flag.Bool("simulate", false, "Stream a synthetic recording instead of opening a serial port")
	simHR       = flag.Float64("sim-hr", 72, "Simulator heart rate in bpm")
	simNoise    = flag.Float64("sim-noise", 0.02, "Simulator white noise in mV")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

const shutdownTimeout = 5 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("ecgmon", version.String())
		return
	}

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
				if errors.Is(err, db.ErrUsage) {
					db.PrintMigrateHelp(os.Stderr)
				}
				log.Fatalf("[migrate] %v", err)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", flag.Arg(0))
			flag.Usage()
			os.Exit(2)
		}
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port != "" {
		cfg.SerialPort = port
	}

	m, source, err := openMux(cfg, *simulate)
	if err != nil {
		log.Fatalf("failed to open device: %v", err)
	}
	defer m.Close()

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, m, source, database); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("ecgmon: %v", err)
	}
	log.Print("ecgmon stopped")
}

// loadConfig returns the file at path, or the defaults when path is empty.
func loadConfig(path string) (*config.ECGConfig, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openMux returns the device mux and a label recorded with the session.
func openMux(cfg *config.ECGConfig, sim bool) (serialmux.Mux, string, error) {
	if sim {
		p := synth.DefaultParams()
		p.SampleRate = cfg.GetSampleRateHz()
		p.HR = *simHR
		p.Noise = *simNoise
		p.Duration = 60
		p.MainsHz, p.MainsAmp = 50, 0.05
		log.Printf("[ecgmon] streaming synthetic sinus rhythm at %.0f bpm", p.HR)
		return serialmux.NewSimulatorSerialMux(p, cfg.GetCountsPerMV()), "simulator", nil
	}
	path := cfg.GetSerialPort()
	if path == "" {
		return nil, "", fmt.Errorf("no serial port configured (use -port or -simulate)")
	}
	m, err := serialmux.NewRealSerialMux(path, cfg.GetSerialOptions())
	if err != nil {
		return nil, "", err
	}
	log.Printf("[ecgmon] opened %s", path)
	return m, path, nil
}

// run wires acquisition, analysis, persistence and HTTP, and blocks until
// ctx is done or one of them fails.
func run(ctx context.Context, cfg *config.ECGConfig, m serialmux.Mux, source string, database *db.DB) error {
	clock := timeutil.RealClock{}
	fs := cfg.GetSampleRateHz()

	sess, err := database.CreateSession(ctx, source, fs, clock.Now())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	log.Printf("[ecgmon] session %s started", sess.ID)
	defer func() {
		if err := database.EndSession(context.Background(), sess.ID, clock.Now()); err != nil {
			log.Printf("[ecgmon] failed to end session %s: %v", sess.ID, err)
		}
	}()

	buf := leads.NewBuffer(cfg.GetBufferSamples(), fs)
	acq := acquire.New(m, buf, cfg.GetCountsPerMV())
	analysis := pipeline.NewSession(pipeline.NewAnalyzer(cfg.AnalyzerOptions()), buf)
	rec := newSnapshotRecorder(database, sess.ID, cfg.GetSnapshotInterval(), clock)
	analysis.OnResult(rec.Record)

	server := api.NewServer(m, database, analysis, sess.ID)
	server.SetPortPath(source)
	mux := server.ServeMux()
	m.AttachAdminRoutes(mux)
	if err := database.AttachAdminRoutes(mux); err != nil {
		return fmt.Errorf("attach db admin routes: %w", err)
	}
	httpServer := &http.Server{Addr: *listen, Handler: api.LoggingMiddleware(mux)}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := m.Monitor(ctx)
		log.Print("[ecgmon] monitor routine terminated")
		return err
	})
	g.Go(func() error {
		err := acq.Run(ctx)
		st := acq.Stats()
		log.Printf("[ecgmon] acquisition stopped: %d frames, %d rejected", st.Frames, st.Rejected)
		return err
	})
	g.Go(func() error {
		err := analysis.Run(ctx, clock, cfg.RunOptions())
		log.Printf("[ecgmon] analysis stopped after %d cycles, %d snapshots saved", analysis.Cycles(), rec.Saved())
		return err
	})
	g.Go(func() error {
		log.Printf("[ecgmon] HTTP server listening on %s", *listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[ecgmon] HTTP server shutdown: %v", err)
		}
		return nil
	})
	return g.Wait()
}
