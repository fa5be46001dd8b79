package serialmux

import (
	"io"
	"time"
)

// pipePort is a SerialPorter backed by an in-memory pipe; writes to the port
// are discarded.
type pipePort struct {
	*io.PipeReader
	w *io.PipeWriter
}

func (p *pipePort) Write(b []byte) (int, error) { return len(b), nil }

func (p *pipePort) Close() error {
	p.w.Close()
	return p.PipeReader.Close()
}

// NewMockFrameMux creates a FrameMux fed by next, which is called every
// interval to produce the next frame. It is used in dev mode in place of a
// real serial device. Returning nil from next ends the stream.
func NewMockFrameMux(frameLen int, interval time.Duration, next func() []byte) (*FrameMux[*pipePort], error) {
	r, w := io.Pipe()
	port := &pipePort{PipeReader: r, w: w}

	m, err := NewFrameMux(port, frameLen)
	if err != nil {
		return nil, err
	}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			frame := next()
			if frame == nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
		}
	}()

	return m, nil
}
