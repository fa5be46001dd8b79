package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// NewRealFrameMux opens the serial port at path with the given options and
// returns a FrameMux reading frameLen-byte frames from it.
func NewRealFrameMux(path string, opts PortOptions, frameLen int) (*FrameMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	m, err := NewFrameMux[serial.Port](port, frameLen)
	if err != nil {
		port.Close()
		return nil, err
	}
	return m, nil
}
