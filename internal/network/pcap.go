package network

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/tspv.relay/internal/monitoring"
	"github.com/banshee-data/tspv.relay/internal/packet"
)

// ReplayStats summarizes a pcap replay.
type ReplayStats struct {
	Packets   int // capture records read
	Matched   int // UDP datagrams sent to the filtered port
	Delivered int // datagrams of the right length passed to the handler
}

// ReplayPCAPFile replays the telemetry datagrams captured in a pcap file. Only
// UDP datagrams addressed to udpPort are considered.
func ReplayPCAPFile(ctx context.Context, path string, udpPort int, handler FrameHandler) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return ReplayPCAP(ctx, f, udpPort, handler)
}

// ReplayPCAP replays telemetry datagrams from a pcap stream. It is pure Go
// (pcapgo) and needs no libpcap.
func ReplayPCAP(ctx context.Context, r io.Reader, udpPort int, handler FrameHandler) (ReplayStats, error) {
	var stats ReplayStats

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("failed to read PCAP header: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		data, _, err := reader.ReadPacketData()
		if err == io.EOF {
			monitoring.Logf("PCAP replay complete: %d records, %d matched, %d delivered", stats.Packets, stats.Matched, stats.Delivered)
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read PCAP record %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		pkt := gopacket.NewPacket(data, reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || int(udp.DstPort) != udpPort {
			continue
		}
		stats.Matched++

		if len(udp.Payload) != packet.Length {
			continue
		}
		if err := handler.HandleFrame(ctx, udp.Payload); err != nil {
			return stats, fmt.Errorf("failed to handle PCAP record %d: %w", stats.Packets, err)
		}
		stats.Delivered++
	}
}
