package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/ecg/synth"
	"github.com/banshee-data/ecg.report/internal/timeutil"
)

// SimulatorPort is a SerialPorter that behaves like the acquisition board:
// after a start command it emits one frame line per sample period, looping
// a synthetic recording, until a stop command or Close.
type SimulatorPort struct {
	frames []leads.Frame
	period time.Duration
	clock  timeutil.Clock
	tick   time.Duration

	mu        sync.Mutex
	cond      *sync.Cond
	pending   bytes.Buffer
	cmd       bytes.Buffer
	streaming bool
	closed    bool
	next      int
	done      chan struct{}
}

var errPortClosed = errors.New("serial port closed")

// NewSimulatorPort returns a port streaming rec as ADC counts at
// countsPerMV. Frames are released in batches every tick of clock.
func NewSimulatorPort(rec synth.Recording, countsPerMV float64, clock timeutil.Clock, tick time.Duration) *SimulatorPort {
	p := &SimulatorPort{
		frames: rec.Frames(countsPerMV),
		period: time.Duration(float64(time.Second) / rec.SampleRate),
		clock:  clock,
		tick:   tick,
		done:   make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// NewSimulatorSerialMux returns a mux over a real-time simulator port.
func NewSimulatorSerialMux(p synth.Params, countsPerMV float64) *SerialMux[*SimulatorPort] {
	port := NewSimulatorPort(synth.Generate(p), countsPerMV, timeutil.RealClock{}, 50*time.Millisecond)
	return NewSerialMux(port)
}

func (p *SimulatorPort) run() {
	ticker := p.clock.NewTicker(p.tick)
	defer ticker.Stop()
	var owed time.Duration
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C():
		}
		owed += p.tick
		p.mu.Lock()
		if p.streaming && len(p.frames) > 0 {
			for ; owed >= p.period; owed -= p.period {
				p.pending.WriteString(p.frames[p.next].Format())
				p.pending.WriteString(lineEnding)
				p.next = (p.next + 1) % len(p.frames)
			}
			p.cond.Broadcast()
		} else {
			owed = 0
		}
		p.mu.Unlock()
	}
}

// Read blocks until frame data is available or the port is closed.
func (p *SimulatorPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return 0, io.EOF
	}
	return p.pending.Read(b)
}

// Write interprets start and stop commands; anything else is ignored, as
// the board does.
func (p *SimulatorPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	p.cmd.Write(b)
	for {
		line, err := p.cmd.ReadString('\n')
		if err != nil {
			// Keep the partial command for the next write.
			rest := line
			p.cmd.Reset()
			p.cmd.WriteString(rest)
			break
		}
		switch strings.TrimSpace(line) {
		case CommandStart:
			p.streaming = true
		case CommandStop:
			p.streaming = false
			p.pending.Reset()
		}
	}
	return len(b), nil
}

// Close stops the generator and unblocks readers.
func (p *SimulatorPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	p.cond.Broadcast()
	return nil
}

// Streaming reports whether a start command is in effect.
func (p *SimulatorPort) Streaming() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streaming
}
