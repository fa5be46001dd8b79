// Package sim generates synthetic TSPV telemetry for demos and the gateway
// simulator.
package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/banshee-data/tspv.relay/internal/packet"
)

// SyntheticGenerator produces a stream of packets with wrapping ids.
type SyntheticGenerator struct {
	lastID uint8
	epoch  uint32
	seq    uint64

	// Configuration
	Version    uint8
	Period     float64 // samples per sine cycle
	Amplitude  float64
	Noise      float64 // standard deviation of added noise
	StatusKeys uint8   // distinct status1 values cycled through

	rng *rand.Rand
}

// NewSyntheticGenerator creates a generator seeded with seed whose base
// epochs start at start.
func NewSyntheticGenerator(seed int64, start time.Time) *SyntheticGenerator {
	return &SyntheticGenerator{
		epoch:      uint32(start.Unix()),
		Version:    1,
		Period:     64,
		Amplitude:  10,
		Noise:      0.25,
		StatusKeys: 4,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Next returns the packet following the previous one. Ids run 1..255 and
// wrap to 1; base epoch advances one second per packet.
func (g *SyntheticGenerator) Next() packet.Packet {
	g.lastID = packet.NextID(g.lastID)
	p := packet.Packet{
		Version:   g.Version,
		PacketID:  g.lastID,
		BaseEpoch: g.epoch,
	}
	for slot := range p.TSPVs {
		p.TSPVs[slot] = g.sample(slot)
	}
	g.epoch++
	return p
}

func (g *SyntheticGenerator) sample(slot int) packet.TSPV {
	g.seq++
	phase := 2 * math.Pi * float64(g.seq) / g.Period
	v := g.Amplitude*math.Sin(phase) + g.rng.NormFloat64()*g.Noise
	keys := g.StatusKeys
	if keys == 0 {
		keys = 1
	}
	return packet.TSPV{
		Status1:      uint8(g.seq % uint64(keys)),
		Status2:      uint8(slot),
		TimeOffset:   int8(slot*2 - 1),
		PresentValue: float32(v),
	}
}

// Dropper decides which packets a lossy link loses.
type Dropper struct {
	rate float64
	rng  *rand.Rand
}

// NewDropper drops each packet independently with probability rate.
func NewDropper(rate float64, seed int64) *Dropper {
	return &Dropper{rate: math.Max(0, math.Min(1, rate)), rng: rand.New(rand.NewSource(seed))}
}

// Drop reports whether the next packet is lost.
func (d *Dropper) Drop() bool {
	return d.rate > 0 && d.rng.Float64() < d.rate
}
