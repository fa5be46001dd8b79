// Serialmux reads fixed-length telemetry frames from a serial port and fans
// them out to any number of subscribers.
package serialmux

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/tspv.relay/internal/monitoring"
)

// ErrInvalidFrameLength is returned by NewFrameMux for non-positive lengths.
var ErrInvalidFrameLength = errors.New("serialmux: frame length must be positive")

// subscriberBuffer is the number of frames a slow subscriber may lag behind
// before frames are dropped for it.
const subscriberBuffer = 64

// FrameMux reads frames of a fixed length from a serial port and delivers a
// copy of each to every subscriber.
type FrameMux[T SerialPorter] struct {
	port         T
	frameLen     int
	subscribers  map[string]chan []byte
	subscriberMu sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// FrameMuxInterface defines the interface for the FrameMux type.
type FrameMuxInterface interface {
	// Subscribe creates a new channel receiving every frame read from the
	// port. The ID identifies the channel when unsubscribing.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes and closes a subscriber channel.
	Unsubscribe(string)
	// Monitor reads frames from the port until the context ends or the port
	// returns an error.
	Monitor(context.Context) error
	// Close closes all subscriber channels and the port.
	Close() error
	// Counts reports frames read and deliveries dropped.
	Counts() (frames, dropped uint64)
	// AttachAdminRoutes mounts debug endpoints under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// NewFrameMux creates a FrameMux reading frameLen-byte frames from port.
func NewFrameMux[T SerialPorter](port T, frameLen int) (*FrameMux[T], error) {
	if frameLen <= 0 {
		return nil, ErrInvalidFrameLength
	}
	return &FrameMux[T]{
		port:        port,
		frameLen:    frameLen,
		subscribers: make(map[string]chan []byte),
	}, nil
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *FrameMux[T]) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the frame mux.
func (s *FrameMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Monitor reads whole frames from the port and publishes them. A read that
// ends part way through a frame discards the partial frame.
func (s *FrameMux[T]) Monitor(ctx context.Context) error {
	frameChan := make(chan []byte)
	readErrChan := make(chan error, 1)

	// the blocking read does not interfere with the outer loop awaiting
	// frames and context cancellation.
	go func() {
		defer close(frameChan)
		for {
			buf := make([]byte, s.frameLen)
			if _, err := io.ReadFull(s.port, buf); err != nil {
				if errors.Is(err, io.ErrUnexpectedEOF) {
					monitoring.Logf("serial port closed mid-frame, discarding partial frame")
					err = io.EOF
				}
				if !errors.Is(err, io.EOF) {
					select {
					case readErrChan <- err:
					case <-ctx.Done():
					}
				}
				return
			}
			select {
			case frameChan <- buf:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			return fmt.Errorf("failed to read frame: %w", err)

		case frame, ok := <-frameChan:
			if !ok {
				// a read error may have been queued just before the close
				select {
				case err := <-readErrChan:
					return fmt.Errorf("failed to read frame: %w", err)
				default:
					return nil
				}
			}
			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			s.frames.Add(1)
			s.publish(frame)
		}
	}
}

func (s *FrameMux[T]) publish(frame []byte) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	n := 0
	for _, ch := range s.subscribers {
		// the first subscriber may keep the read buffer; the others get copies
		out := frame
		if n > 0 {
			out = append([]byte(nil), frame...)
		}
		n++
		select {
		case ch <- out:
		default:
			// subscriber is full, skip it so as not to block the read loop
			s.dropped.Add(1)
		}
	}
}

// Counts returns the number of frames read and the number of per-subscriber
// deliveries dropped because a subscriber was full.
func (s *FrameMux[T]) Counts() (frames, dropped uint64) {
	return s.frames.Load(), s.dropped.Load()
}

func (s *FrameMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

func (s *FrameMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("serial", "serial frame counters", func(w http.ResponseWriter, r *http.Request) {
		frames, dropped := s.Counts()
		fmt.Fprintf(w, "frame_length %d\nframes %d\ndropped %d\n", s.frameLen, frames, dropped)
	})

	// Server-Sent Events stream of frames as hex, for watching the link live.
	debug.HandleSilentFunc("serial-tail", func(w http.ResponseWriter, r *http.Request) {
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

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case frame, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", hex.EncodeToString(frame)); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
