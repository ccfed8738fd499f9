package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/httputil"
	"github.com/banshee-data/ecg.report/internal/monitoring"
	"github.com/banshee-data/ecg.report/internal/serialmux"
)

// SerialProbeRequest is the body of POST /api/serial/probe.
type SerialProbeRequest struct {
	PortPath string `json:"port_path"`
	serialmux.PortOptions
	TimeoutSeconds int `json:"timeout_seconds"`
}

// SerialProbeResponse reports whether a port delivers ECG frames.
type SerialProbeResponse struct {
	Success     bool   `json:"success"`
	PortPath    string `json:"port_path"`
	BaudRate    int    `json:"baud_rate"`
	DurationMS  int64  `json:"duration_ms"`
	Lines       int    `json:"lines"`
	ValidFrames int    `json:"valid_frames"`
	SampleLine  string `json:"sample_line,omitempty"`
	Error       string `json:"error,omitempty"`
	Message     string `json:"message"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// SerialDeviceInfo describes a discovered serial device.
type SerialDeviceInfo struct {
	PortPath     string `json:"port_path"`
	FriendlyName string `json:"friendly_name"`
	InUse        bool   `json:"in_use"`
}

// probeFrames is how many valid frames end a successful probe early.
const probeFrames = 5

var (
	listSerialPorts = serialmux.ListPorts
	openProbePort   = func(path string, opts serialmux.PortOptions) (io.ReadWriteCloser, error) {
		mode, err := opts.SerialMode()
		if err != nil {
			return nil, err
		}
		return serial.Open(path, mode)
	}
)

// handleSerialPorts handles GET /api/serial/ports.
func (s *Server) handleSerialPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := listSerialPorts()
	if err != nil {
		monitoring.Logf("[api] enumerate serial ports: %v", err)
		httputil.InternalServerError(w, "failed to enumerate serial ports")
		return
	}
	devices := make([]SerialDeviceInfo, 0, len(ports))
	for _, p := range ports {
		devices = append(devices, SerialDeviceInfo{
			PortPath:     p,
			FriendlyName: friendlyName(p),
			InUse:        p == s.portPath,
		})
	}
	httputil.WriteJSONOK(w, devices)
}

// handleSerialProbe handles POST /api/serial/probe. It starts streaming on
// the port, counts parseable frames until the timeout, and stops streaming.
func (s *Server) handleSerialProbe(w http.ResponseWriter, r *http.Request) {
	var req SerialProbeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.PortPath == "" {
		httputil.BadRequest(w, "port_path is required")
		return
	}
	if req.PortPath == s.portPath {
		httputil.WriteJSONError(w, http.StatusConflict, "port is in use by the monitor")
		return
	}
	if !isValidPortPath(req.PortPath) {
		httputil.BadRequest(w, "invalid port path: must start with /dev/tty or /dev/serial")
		return
	}
	opts, err := req.PortOptions.Normalize()
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = 3
	}
	httputil.WriteJSONOK(w, s.probe(req.PortPath, opts, time.Duration(req.TimeoutSeconds)*time.Second))
}

func (s *Server) probe(portPath string, opts serialmux.PortOptions, timeout time.Duration) SerialProbeResponse {
	start := s.clock.Now()
	res := SerialProbeResponse{PortPath: portPath, BaudRate: opts.BaudRate}
	fail := func(err error, msg string) SerialProbeResponse {
		res.DurationMS = s.clock.Since(start).Milliseconds()
		res.Error = err.Error()
		res.Message = msg
		res.Suggestion = suggestionFor(err)
		return res
	}

	port, err := openProbePort(portPath, opts)
	if err != nil {
		return fail(err, "failed to open port")
	}
	defer port.Close()

	if _, err := io.WriteString(port, serialmux.CommandStart+"\r\n"); err != nil {
		return fail(err, "failed to start streaming")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(port)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	timer := s.clock.NewTimer(timeout)
	defer timer.Stop()
loop:
	for res.ValidFrames < probeFrames {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			res.Lines++
			if _, err := leads.ParseFrame(line); err == nil {
				res.ValidFrames++
				if res.SampleLine == "" {
					res.SampleLine = line
				}
			}
		case <-timer.C():
			break loop
		}
	}
	if _, err := io.WriteString(port, serialmux.CommandStop+"\r\n"); err != nil {
		monitoring.Logf("[api] probe %s: stop streaming: %v", portPath, err)
	}
	// Closing the port ends the reader; drain so it can exit.
	port.Close()
	for range lines {
	}

	res.DurationMS = s.clock.Since(start).Milliseconds()
	switch {
	case res.ValidFrames > 0:
		res.Success = true
		res.Message = fmt.Sprintf("received %d ECG frames", res.ValidFrames)
	case res.Lines > 0:
		res.Error = "no line parsed as an 8-channel frame"
		res.Message = "device answered with unexpected data"
		res.Suggestion = "Check the baud rate; garbled lines usually mean a rate mismatch."
	default:
		res.Error = "no response from device"
		res.Message = "serial port probe failed"
		res.Suggestion = fmt.Sprintf("Ensure the device is powered on. Supported baud rates: %v.", serialmux.SupportedBaudRates)
	}
	return res
}

func isValidPortPath(p string) bool {
	return strings.HasPrefix(p, "/dev/tty") || strings.HasPrefix(p, "/dev/serial")
}

func suggestionFor(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "permission denied"):
		return "Add the service user to the dialout group."
	case strings.Contains(msg, "no such file"):
		return "The device is not connected or the path is wrong."
	case strings.Contains(msg, "busy"):
		return "Another process is using the port."
	case strings.Contains(msg, "baud"):
		return fmt.Sprintf("Use one of %v.", serialmux.SupportedBaudRates)
	}
	return "Check the device connection and permissions."
}

func friendlyName(portPath string) string {
	name := path.Base(portPath)
	switch {
	case strings.HasPrefix(name, "ttyUSB"):
		return fmt.Sprintf("USB Serial Adapter (%s)", name)
	case strings.HasPrefix(name, "ttyACM"):
		return fmt.Sprintf("USB CDC Device (%s)", name)
	case strings.HasPrefix(name, "ttyAMA"):
		return fmt.Sprintf("Raspberry Pi Serial (%s)", name)
	}
	return name
}
