package serialmux

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for line")
	}
	return ""
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	for _, cmd := range []string{"1", "0\n", "0\r\n"} {
		if err := mux.SendCommand(cmd); err != nil {
			t.Fatalf("SendCommand(%q) error = %v", cmd, err)
		}
	}
	if got, want := port.Written(), "1\r\n0\r\n0\r\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}
}

func TestSerialMux_SendCommand_Errors(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	port.WriteError = errors.New("boom")
	if err := mux.SendCommand("1"); err == nil || err.Error() != "boom" {
		t.Errorf("SendCommand error = %v, want boom", err)
	}

	port.ShortWrite = true
	if err := mux.SendCommand("1"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("SendCommand error = %v, want ErrWriteFailed", err)
	}
}

func TestSerialMux_Streaming(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if mux.Streaming() {
		t.Fatal("streaming before start")
	}
	if err := mux.StartStreaming(); err != nil {
		t.Fatalf("StartStreaming() error = %v", err)
	}
	if !mux.Streaming() {
		t.Error("Streaming() = false after start")
	}
	if err := mux.StopStreaming(); err != nil {
		t.Fatalf("StopStreaming() error = %v", err)
	}
	if mux.Streaming() {
		t.Error("Streaming() = true after stop")
	}
	if got, want := port.Written(), "1\r\n0\r\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}

	port.WriteError = errors.New("unplugged")
	if err := mux.StartStreaming(); err == nil {
		t.Error("StartStreaming() error = nil, want write error")
	}
	if mux.Streaming() {
		t.Error("failed start must not mark streaming")
	}
}

func TestSerialMux_MonitorFansOut(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, a := mux.Subscribe()
	idB, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData("1 2 3 4 5 6 7 8\r\n\r\n9 10 11 12 13 14 15 16\n")
	for _, ch := range []chan string{a, b} {
		if got := receive(t, ch); got != "1 2 3 4 5 6 7 8" {
			t.Errorf("first line = %q", got)
		}
		if got := receive(t, ch); got != "9 10 11 12 13 14 15 16" {
			t.Errorf("second line = %q", got)
		}
	}

	mux.Unsubscribe(idB)
	if _, ok := <-b; ok {
		t.Error("unsubscribed channel still open")
	}
	mux.Unsubscribe("missing")

	if lines, dropped := mux.Stats(); lines != 2 || dropped != 0 {
		t.Errorf("Stats() = %d, %d, want 2, 0", lines, dropped)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestSerialMux_SlowSubscriberDropsLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	var sb strings.Builder
	for range SubscriberBuffer + 10 {
		sb.WriteString("0 0 0 0 0 0 0 0\n")
	}
	port.AddReadData(sb.String())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, dropped := mux.Stats(); dropped == 10 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	lines, dropped := mux.Stats()
	t.Fatalf("Stats() = %d, %d, want %d lines with 10 dropped", lines, dropped, SubscriberBuffer+10)
}

func TestSerialMux_Close(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel open after Close")
	}
	if !port.Closed {
		t.Error("port not closed")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor() error = %v, want nil after Close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after Close")
	}

	if err := mux.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, ch := mux.Subscribe(); ch != nil {
		if _, ok := <-ch; ok {
			t.Error("Subscribe after Close returned an open channel")
		}
	}
}

func TestSerialMux_AdminRoutes(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	defer mux.Close()

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	req := httptest.NewRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader("command=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("send-command-api status = %d, body %q", rec.Code, rec.Body.String())
	}
	if got := port.Written(); got != "1\r\n" {
		t.Errorf("written = %q, want %q", got, "1\r\n")
	}

	req = httptest.NewRequest(http.MethodGet, "/debug/send-command-api", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET send-command-api status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestTail(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	defer mux.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tail(mux, w, r)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET tail: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	if line, _ := r.ReadString('\n'); line != ": ping\n" {
		t.Fatalf("first line = %q, want ping", line)
	}
	r.ReadString('\n')

	port.AddReadData("1 1 1 1 1 1 1 1\n")
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if line != "data: 1 1 1 1 1 1 1 1\n" {
		t.Errorf("event = %q", line)
	}
}
