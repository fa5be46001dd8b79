package network

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tspv.relay/internal/monitoring"
	"github.com/banshee-data/tspv.relay/internal/packet"
)

// FrameHandler accepts one raw telemetry frame. The frame is only valid for
// the duration of the call. processor.Intake implements it.
type FrameHandler interface {
	HandleFrame(ctx context.Context, frame []byte) error
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(ctx context.Context, frame []byte) error

func (f FrameHandlerFunc) HandleFrame(ctx context.Context, frame []byte) error {
	return f(ctx, frame)
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address string
	RcvBuf  int
	Handler FrameHandler
	// Factory defaults to RealUDPSocketFactory.
	Factory UDPSocketFactory
	// PollInterval bounds how long a read blocks before the context is
	// checked again. Defaults to 100ms.
	PollInterval time.Duration
}

// UDPListener receives telemetry datagrams and hands those of the right
// length to a FrameHandler.
type UDPListener struct {
	address      string
	rcvBuf       int
	handler      FrameHandler
	factory      UDPSocketFactory
	pollInterval time.Duration

	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	factory := config.Factory
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}
	poll := config.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &UDPListener{
		address:      config.Address,
		rcvBuf:       config.RcvBuf,
		handler:      config.Handler,
		factory:      factory,
		pollInterval: poll,
	}
}

// Start listens until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}

	monitoring.Logf("UDP listener started on %s", conn.LocalAddr())

	// larger than any valid datagram so oversized ones are seen and dropped
	buffer := make([]byte, 2048)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(l.pollInterval))
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("UDP read error: %w", err)
		}

		if n != packet.Length {
			l.dropped.Add(1)
			monitoring.Debugf("dropping %d byte datagram from %v", n, from)
			continue
		}
		l.received.Add(1)

		if err := l.handler.HandleFrame(ctx, buffer[:n]); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to handle frame from %v: %w", from, err)
		}
	}
}

// Counts returns the number of datagrams accepted and dropped for length.
func (l *UDPListener) Counts() (received, dropped uint64) {
	return l.received.Load(), l.dropped.Load()
}
