package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/tspv.relay/internal/monitoring"
	"github.com/banshee-data/tspv.relay/internal/packet"
)

// Recovery protocol. A request is the two bytes {RequestTag, id}. The reply is
// either the raw packet or the two bytes {UnavailableTag, id}.
const (
	RequestTag     = 'R'
	UnavailableTag = 'N'
	requestLength  = 2
)

// Retriever mirrors processor.Retriever so the server can be backed by any
// history without importing the processor.
type Retriever interface {
	RetrieveOldPacket(id uint8) ([]byte, bool)
}

// UDPRetriever asks a gateway for packets it has already transmitted. Every
// failure, including a timeout, is reported as the packet being unavailable.
type UDPRetriever struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

// DialRetriever connects a UDPRetriever to the gateway recovery address.
func DialRetriever(addr string, timeout time.Duration) (*UDPRetriever, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial recovery address %s: %w", addr, err)
	}
	return NewUDPRetriever(conn, timeout), nil
}

// NewUDPRetriever wraps an already connected conn.
func NewUDPRetriever(conn net.Conn, timeout time.Duration) *UDPRetriever {
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return &UDPRetriever{conn: conn, timeout: timeout}
}

// RetrieveOldPacket sends one request and waits up to the timeout for the
// matching reply. Replies for other ids, left over from earlier timed-out
// requests, are skipped.
func (r *UDPRetriever) RetrieveOldPacket(id uint8) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.conn.SetDeadline(time.Now().Add(r.timeout)); err != nil {
		monitoring.Logf("recovery: failed to set deadline: %v", err)
		return nil, false
	}
	if _, err := r.conn.Write([]byte{RequestTag, id}); err != nil {
		monitoring.Logf("recovery: request for packet %d failed: %v", id, err)
		return nil, false
	}

	buf := make([]byte, 2048)
	for {
		n, err := r.conn.Read(buf)
		if err != nil {
			if !isTimeout(err) {
				monitoring.Logf("recovery: reading reply for packet %d failed: %v", id, err)
			}
			return nil, false
		}
		switch {
		case n == packet.Length && buf[1] == id:
			return append([]byte(nil), buf[:n]...), true
		case n == requestLength && buf[0] == UnavailableTag && buf[1] == id:
			return nil, false
		default:
			monitoring.Debugf("recovery: ignoring stale %d byte reply while waiting for %d", n, id)
		}
	}
}

// Close closes the connection to the gateway.
func (r *UDPRetriever) Close() error {
	return r.conn.Close()
}

// RecoveryServer answers recovery requests from a Retriever, typically a
// history.Ring on the gateway.
type RecoveryServer struct {
	socket    UDPSocket
	retriever Retriever
	poll      time.Duration
}

// NewRecoveryServer serves requests arriving on socket.
func NewRecoveryServer(socket UDPSocket, r Retriever) *RecoveryServer {
	return &RecoveryServer{socket: socket, retriever: r, poll: 100 * time.Millisecond}
}

// Serve answers requests until ctx is cancelled. Malformed requests are
// ignored.
func (s *RecoveryServer) Serve(ctx context.Context) error {
	buf := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.socket.SetReadDeadline(time.Now().Add(s.poll))
		n, from, err := s.socket.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("recovery server read error: %w", err)
		}
		if n != requestLength || buf[0] != RequestTag {
			monitoring.Debugf("recovery server: ignoring %d byte datagram from %v", n, from)
			continue
		}

		id := buf[1]
		reply := []byte{UnavailableTag, id}
		if raw, ok := s.retriever.RetrieveOldPacket(id); ok {
			reply = raw
		}
		if _, err := s.socket.WriteToUDP(reply, from); err != nil {
			monitoring.Logf("recovery server: reply to %v failed: %v", from, err)
		}
	}
}
