// Package serialmux multiplexes one serial acquisition device to many
// readers. Every line the device emits is fanned out to all subscribers;
// commands from any caller are serialised onto the port.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/ecg.report/internal/monitoring"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// SubscriberBuffer is the per-subscriber line backlog. A subscriber that
// falls further behind loses lines rather than stalling the device.
const SubscriberBuffer = 1024

// dropLogEvery throttles the log line for a lagging subscriber.
const dropLogEvery = 1000

// Mux is the behaviour shared by the real, simulated and disabled muxes.
type Mux interface {
	// Subscribe returns an id and a channel receiving every line read
	// from the device. The channel is closed on Unsubscribe or Close.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes command, CRLF terminated, to the device.
	SendCommand(string) error
	// StartStreaming and StopStreaming switch the device's sample output.
	StartStreaming() error
	StopStreaming() error
	// Monitor reads lines until ctx is done or the port fails.
	Monitor(context.Context) error
	Close() error
	// AttachAdminRoutes adds debug endpoints under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// SerialMux is a Mux over any SerialPorter.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      atomic.Bool
	streaming    atomic.Bool
	lines        atomic.Uint64
	dropped      monitoring.Sampler
}

var _ Mux = (*SerialMux[SerialPorter])(nil)

// NewSerialMux returns a mux over port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	s := &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
	s.dropped.Every = dropLogEvery
	return s
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, SubscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing.Load() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand sends a command to the serial port.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	command = strings.TrimRight(command, "\r\n") + lineEnding
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// StartStreaming asks the device to emit sample lines.
func (s *SerialMux[T]) StartStreaming() error {
	if err := s.SendCommand(CommandStart); err != nil {
		return fmt.Errorf("start streaming: %w", err)
	}
	s.streaming.Store(true)
	return nil
}

// StopStreaming asks the device to stop emitting sample lines.
func (s *SerialMux[T]) StopStreaming() error {
	if err := s.SendCommand(CommandStop); err != nil {
		return fmt.Errorf("stop streaming: %w", err)
	}
	s.streaming.Store(false)
	return nil
}

// Streaming reports whether the last streaming command was a start.
func (s *SerialMux[T]) Streaming() bool { return s.streaming.Load() }

// Stats returns the number of lines read and the number dropped because a
// subscriber was full.
func (s *SerialMux[T]) Stats() (lines, dropped uint64) {
	return s.lines.Load(), s.dropped.Count()
}

// Monitor monitors the serial port for lines and sends them to subscribers.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan runs in its own goroutine so the loop below can
	// still observe cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- strings.TrimRight(scan.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.closing.Load() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				return nil
			}
			if s.closing.Load() {
				return nil
			}
			if line == "" {
				continue
			}
			s.lines.Add(1)
			s.subscriberMu.Lock()
			for id, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					s.dropped.Logf("[serialmux] subscriber %s is behind, dropping lines", id)
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

// Close closes all subscriber channels and the port.
func (s *SerialMux[T]) Close() error {
	if s.closing.Swap(true) {
		return nil
	}

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

// AttachAdminRoutes adds serial debugging endpoints to mux at /debug/.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("serial streaming", func() any { return s.Streaming() })
	debug.KVFunc("serial lines read", func() any { return s.lines.Load() })
	debug.KVFunc("serial lines dropped", func() any { return s.dropped.Count() })

	// API endpoint to write a command to the serial port.
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	debug.HandleFunc("tail", "live tail of device lines (server-sent events)", func(w http.ResponseWriter, r *http.Request) {
		tail(s, w, r)
	})
}

// tail streams subscriber lines to w as server-sent events until the
// request ends or the mux closes.
func tail(m Mux, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := m.Subscribe()
	defer m.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case payload, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
