package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// Link defaults for the TSPV serial feed.
const (
	DefaultBaudRate = 19200
	defaultDataBits = 8
	defaultStopBits = 1
)

// parities maps every accepted spelling to its shorthand letter and the
// go.bug.st/serial constant.
var parities = map[string]struct {
	letter string
	mode   serial.Parity
}{
	"N": {"N", serial.NoParity}, "NONE": {"N", serial.NoParity},
	"E": {"E", serial.EvenParity}, "EVEN": {"E", serial.EvenParity},
	"O": {"O", serial.OddParity}, "ODD": {"O", serial.OddParity},
}

var stopBits = map[int]serial.StopBits{
	1: serial.OneStopBit,
	2: serial.TwoStopBits,
}

// PortOptions is the "serial" object of the relay config: how to open the
// port that carries TSPV frames. Zero fields take the 19200-8N1 defaults.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize fills in defaults and rejects settings the port cannot use. The
// returned Parity is always one of "N", "E" or "O".
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = defaultDataBits
	}
	if o.StopBits == 0 {
		o.StopBits = defaultStopBits
	}

	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}
	if _, ok := stopBits[o.StopBits]; !ok {
		return o, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}

	key := strings.ToUpper(strings.TrimSpace(o.Parity))
	if key == "" {
		key = "N"
	}
	p, ok := parities[key]
	if !ok {
		return o, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	o.Parity = p.letter
	return o, nil
}

// String renders the options as e.g. "19200-8N1".
func (o PortOptions) String() string {
	n, err := o.Normalize()
	if err != nil {
		return fmt.Sprintf("invalid(%v)", err)
	}
	return fmt.Sprintf("%d-%d%s%d", n.BaudRate, n.DataBits, n.Parity, n.StopBits)
}

// SerialMode returns the serial.Mode to open the port with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		Parity:   parities[n.Parity].mode,
		StopBits: stopBits[n.StopBits],
	}, nil
}
