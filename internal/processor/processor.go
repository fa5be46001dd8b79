// Package processor implements the TSPV intake state machine: decode, sequence
// gap detection, bounded recovery of missing packets, and dispatch of samples
// to a sink.
//
// A Processor is single-threaded. Callers with several producers should feed it
// through an Intake.
package processor

import (
	"fmt"

	"github.com/banshee-data/tspv.relay/internal/monitoring"
	"github.com/banshee-data/tspv.relay/internal/packet"
)

// DefaultHistoryWindow is the number of most recent packets the retrieval
// side is assumed to retain, including the packet that reveals a gap.
const DefaultHistoryWindow = 4

// MaxHistoryWindow bounds the window. Recovery runs inline, so every id in a
// gap costs one retrieval round trip before the next frame is handled: with a
// 50ms retrieval timeout a full window of unavailable ids stalls intake for
// (MaxHistoryWindow-1) * 50ms.
const MaxHistoryWindow = 16

// Retriever returns the raw bytes of a previously transmitted packet, or false
// when the packet is no longer available.
type Retriever interface {
	RetrieveOldPacket(id uint8) ([]byte, bool)
}

// Sink accepts decoded telemetry samples. It is fire-and-forget.
type Sink interface {
	PostSample(status1, status2 uint8, presentValue float32)
}

// SampleSink is an optional extension of Sink that also receives the absolute
// timestamp and packet context of each sample. When a Sink implements it,
// PostTimedSample is called instead of PostSample.
type SampleSink interface {
	Sink
	PostTimedSample(s Sample)
}

// Sample is one dispatched TSPV with its computed absolute time.
type Sample struct {
	PacketID     uint8
	Version      uint8
	Slot         int
	Status1      uint8
	Status2      uint8
	PresentValue float32
	Epoch        int64 // base_epoch + time_offset, seconds
	Recovered    bool
}

// Processor holds the sequencing state for a single packet stream.
type Processor struct {
	retriever Retriever
	sink      Sink
	window    int

	lastProcessedID uint8
	inRecovery      bool

	stats Stats
}

// Option configures a Processor.
type Option func(*Processor)

// WithHistoryWindow overrides DefaultHistoryWindow. Values below 1 are
// ignored and values above MaxHistoryWindow are clamped to it.
func WithHistoryWindow(n int) Option {
	return func(p *Processor) {
		if n >= 1 {
			p.window = min(n, MaxHistoryWindow)
		}
	}
}

// New creates a Processor. A nil retriever behaves as if no history exists.
func New(r Retriever, s Sink, opts ...Option) *Processor {
	if r == nil {
		r = NoHistory{}
	}
	if s == nil {
		s = DiscardSink{}
	}
	p := &Processor{
		retriever: r,
		sink:      s,
		window:    DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Receive is the intake entry point. Buffers that are nil or not exactly
// packet.Length bytes are dropped without touching state.
func (p *Processor) Receive(buf []byte) {
	if len(buf) != packet.Length {
		p.stats.Rejected++
		monitoring.Debugf("dropping frame of %d bytes", len(buf))
		return
	}

	pkt, err := packet.Decode(buf)
	if err != nil {
		p.stats.Rejected++
		return
	}
	p.stats.Received++

	if !p.inRecovery {
		if w, ok := DetectGap(p.lastProcessedID, pkt.PacketID); ok {
			p.stats.Gaps++
			monitoring.Logf("sequence gap: last=%d got=%d missing=%d", p.lastProcessedID, pkt.PacketID, w.Len())
			p.recover(w.Start, w.End)
		}
	}

	p.dispatch(pkt)
}

// Reset restores the initial state, e.g. after the link is re-established.
// Counters in Stats are kept.
func (p *Processor) Reset() {
	p.lastProcessedID = 0
	p.inRecovery = false
	p.stats.Resets++
}

// LastProcessedID returns the id of the most recently dispatched packet, or 0
// if none has been dispatched since the last reset.
func (p *Processor) LastProcessedID() uint8 {
	return p.lastProcessedID
}

// InRecovery reports whether a recovery cycle is replaying packets.
func (p *Processor) InRecovery() bool {
	return p.inRecovery
}

// HistoryWindow returns the configured history window size.
func (p *Processor) HistoryWindow() int {
	return p.window
}

// recover re-delivers the packets in [expected, received), oldest first,
// limited to what the history window can still hold. Replayed packets pass
// through Receive with gap detection suppressed.
func (p *Processor) recover(expected, received uint8) {
	if received < expected {
		panic(fmt.Sprintf("processor: recovery range inverted: expected=%d received=%d", expected, received))
	}

	w, lost := clamp(Window{Start: expected, End: received}, p.window)
	if lost > 0 {
		p.stats.Lost += uint64(lost)
		monitoring.Logf("sequence gap exceeds history window: %d packets before %d not recoverable", lost, w.Start)
	}

	p.inRecovery = true
	defer func() { p.inRecovery = false }()

	// int loop variable so End == 255 terminates
	for id := int(w.Start); id < int(w.End); id++ {
		p.stats.Requested++
		raw, ok := p.retriever.RetrieveOldPacket(uint8(id))
		if !ok {
			p.stats.Unavailable++
			monitoring.Debugf("packet %d unavailable from history", id)
			continue
		}
		p.stats.Recovered++
		p.Receive(raw)
	}
}

// dispatch posts both TSPV slots in order and records the packet as the most
// recently processed, even when that moves the counter backward.
func (p *Processor) dispatch(pkt packet.Packet) {
	timed, hasTimed := p.sink.(SampleSink)
	for slot, t := range pkt.TSPVs {
		epoch := pkt.Epoch(slot)
		if hasTimed {
			timed.PostTimedSample(Sample{
				PacketID:     pkt.PacketID,
				Version:      pkt.Version,
				Slot:         slot,
				Status1:      t.Status1,
				Status2:      t.Status2,
				PresentValue: t.PresentValue,
				Epoch:        epoch,
				Recovered:    p.inRecovery,
			})
			continue
		}
		p.sink.PostSample(t.Status1, t.Status2, t.PresentValue)
	}
	p.stats.Dispatched++
	p.lastProcessedID = pkt.PacketID
}

// NoHistory is a Retriever that never has any packet.
type NoHistory struct{}

func (NoHistory) RetrieveOldPacket(uint8) ([]byte, bool) { return nil, false }

// DiscardSink drops every sample.
type DiscardSink struct{}

func (DiscardSink) PostSample(uint8, uint8, float32) {}
