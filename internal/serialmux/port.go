package serialmux

import (
	"io"
)

// SerialPorter is the minimal interface the mux needs from a port. Real
// ports, the simulator and test ports all satisfy it.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// Device protocol. Commands are terminated with CRLF; the device answers
// with one line per sample instant once streaming.
const (
	CommandStart = "1"
	CommandStop  = "0"
	lineEnding   = "\r\n"
)
