// Package history keeps the most recent raw packets of a stream so that a
// receiver can ask for re-delivery of ones it missed.
package history

import (
	"sync"

	"github.com/banshee-data/tspv.relay/internal/packet"
)

// Ring retains the last N packets in transmission order. Packets are keyed by
// their id; when an id is reused after the counter wraps, only the newest copy
// is served. Ring is safe for concurrent use.
type Ring struct {
	mu     sync.Mutex
	frames [][]byte
	next   int
	count  int
}

// NewRing creates a Ring holding up to size packets. size below 1 is treated
// as 1.
func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{frames: make([][]byte, size)}
}

// Store records a transmitted packet, evicting the oldest when full. Frames
// that are not exactly packet.Length bytes are ignored and Store returns false.
func (r *Ring) Store(frame []byte) bool {
	if len(frame) != packet.Length {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames[r.next] = append(r.frames[r.next][:0], frame...)
	r.next = (r.next + 1) % len(r.frames)
	if r.count < len(r.frames) {
		r.count++
	}
	return true
}

// RetrieveOldPacket returns a copy of the most recently stored packet with the
// given id.
func (r *Ring) RetrieveOldPacket(id uint8) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 1; i <= r.count; i++ {
		f := r.frames[(r.next-i+len(r.frames))%len(r.frames)]
		if f[1] == id {
			return append([]byte(nil), f...), true
		}
	}
	return nil, false
}

// Len returns the number of packets currently retained.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// IDs returns the retained packet ids, oldest first.
func (r *Ring) IDs() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uint8, 0, r.count)
	for i := r.count; i >= 1; i-- {
		ids = append(ids, r.frames[(r.next-i+len(r.frames))%len(r.frames)][1])
	}
	return ids
}
