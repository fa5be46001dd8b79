package history

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tspv.relay/internal/packet"
)

func frame(id uint8, version uint8) []byte {
	return packet.Encode(packet.Packet{Version: version, PacketID: id})
}

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing(4)
	for id := uint8(1); id <= 6; id++ {
		require.True(t, r.Store(frame(id, 0)))
	}

	assert.Equal(t, 4, r.Len())
	assert.Equal(t, []uint8{3, 4, 5, 6}, r.IDs())

	_, ok := r.RetrieveOldPacket(2)
	assert.False(t, ok)

	got, ok := r.RetrieveOldPacket(3)
	require.True(t, ok)
	assert.Equal(t, frame(3, 0), got)
}

func TestRing_ReturnsNewestCopyOfReusedID(t *testing.T) {
	r := NewRing(3)
	r.Store(frame(7, 1))
	r.Store(frame(8, 1))
	r.Store(frame(7, 2))

	got, ok := r.RetrieveOldPacket(7)
	require.True(t, ok)
	p, err := packet.Decode(got)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), p.Version)
}

func TestRing_RejectsWrongLength(t *testing.T) {
	r := NewRing(2)
	assert.False(t, r.Store(nil))
	assert.False(t, r.Store(make([]byte, packet.Length-1)))
	assert.Zero(t, r.Len())
	assert.Empty(t, r.IDs())
}

func TestRing_ReturnsCopies(t *testing.T) {
	r := NewRing(2)
	in := frame(5, 0)
	r.Store(in)
	in[0] = 0xFF

	out, ok := r.RetrieveOldPacket(5)
	require.True(t, ok)
	assert.Equal(t, byte(0), out[0])

	out[0] = 0xEE
	again, _ := r.RetrieveOldPacket(5)
	assert.Equal(t, byte(0), again[0])
}

func TestRing_MinimumSize(t *testing.T) {
	r := NewRing(0)
	r.Store(frame(1, 0))
	r.Store(frame(2, 0))
	assert.Equal(t, []uint8{2}, r.IDs())
}

func TestRing_Concurrent(t *testing.T) {
	r := NewRing(4)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Store(frame(uint8(i), uint8(g)))
				r.RetrieveOldPacket(uint8(i))
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 4, r.Len())
}
