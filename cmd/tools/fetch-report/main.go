// Command fetch-report downloads the current report from a running ecgmon,
// checks it, and saves it next to earlier downloads.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/ecg.report/internal/ecg/report"
	"github.com/banshee-data/ecg.report/internal/fsutil"
	"github.com/banshee-data/ecg.report/internal/httputil"
	"github.com/banshee-data/ecg.report/internal/security"
)

func main() {
	client := &http.Client{}
	if err := run(context.Background(), os.Args[1:], client, fsutil.OSFileSystem{}, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("fetch-report: %v", err)
	}
}

func run(ctx context.Context, args []string, c httputil.HTTPClient, fsys fsutil.FileSystem, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("fetch-report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	base := fs.String("url", "http://localhost:8080", "Base URL of the monitor")
	dir := fs.String("dir", "", "Save into this directory as ecg-report-<session>-<time>.json (stdout when empty)")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	strict := fs.Bool("strict", false, "Fail when the report does not pass validation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	var a report.Artifact
	url := strings.TrimRight(*base, "/") + "/api/report"
	if err := httputil.GetJSON(ctx, c, url, &a); err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	if err := a.Validate(); err != nil {
		if *strict {
			return fmt.Errorf("report failed validation: %w", err)
		}
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(stderr, "warning: %s\n", line)
		}
	}

	if *dir == "" {
		return a.Write(stdout)
	}
	name := security.SanitizeFilename(fmt.Sprintf("ecg-report-%s-%s", a.SessionID, a.GeneratedAt.UTC().Format("20060102T150405Z"))) + ".json"
	path := filepath.Join(*dir, name)
	if err := security.ValidateOutputPath(path); err != nil {
		return fmt.Errorf("output %s: %w", path, err)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if err := a.Write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stderr, "saved %s\n", path)
	return nil
}
