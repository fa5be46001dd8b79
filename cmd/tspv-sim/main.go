// Command tspv-sim emulates a telemetry gateway: it sends synthetic packets
// over UDP, loses a fraction of them, and answers history requests for the
// packets it sent.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/tspv.relay/internal/history"
	"github.com/banshee-data/tspv.relay/internal/monitoring"
	"github.com/banshee-data/tspv.relay/internal/network"
	"github.com/banshee-data/tspv.relay/internal/packet"
	"github.com/banshee-data/tspv.relay/internal/sim"
)

var (
	target         = flag.String("target", "127.0.0.1:5600", "UDP address of the relay")
	recoveryListen = flag.String("recovery-listen", ":5601", "UDP address to serve history requests on (empty disables)")
	interval       = flag.Duration("interval", 100*time.Millisecond, "Time between packets")
	dropRate       = flag.Float64("drop", 0.05, "Probability that a packet is not sent")
	count          = flag.Int("count", 0, "Number of packets to generate (0 runs until interrupted)")
	window         = flag.Int("window", 4, "Number of most recent packets kept for recovery")
	seed           = flag.Int64("seed", 0, "Random seed (0 uses the current time)")
	debugLog       = flag.Bool("debug", false, "Enable debug logging")
)

// sender is the write side of the telemetry link.
type sender interface {
	Write(b []byte) (int, error)
}

type emitStats struct {
	generated, sent, dropped int
}

// emit generates packets every tick until count is reached (count <= 0 runs
// until ctx ends). Every packet is stored in ring; dropped ones are not sent.
func emit(ctx context.Context, gen *sim.SyntheticGenerator, drop *sim.Dropper, ring *history.Ring, out sender, tick <-chan time.Time, count int) (emitStats, error) {
	var st emitStats
	for count <= 0 || st.generated < count {
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-tick:
		}

		p := gen.Next()
		frame := packet.Encode(p)
		ring.Store(frame)
		st.generated++

		if drop.Drop() {
			st.dropped++
			monitoring.Debugf("dropping packet %d", p.PacketID)
			continue
		}
		if _, err := out.Write(frame); err != nil {
			return st, err
		}
		st.sent++
	}
	return st, nil
}

func main() {
	flag.Parse()
	monitoring.SetDebug(*debugLog)

	if *window < 1 {
		log.Fatalf("-window must be at least 1, got %d", *window)
	}
	if *interval <= 0 {
		log.Fatalf("-interval must be positive, got %s", *interval)
	}

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	gen := sim.NewSyntheticGenerator(s, time.Now())
	drop := sim.NewDropper(*dropRate, s+1)
	ring := history.NewRing(*window)

	conn, err := net.Dial("udp", *target)
	if err != nil {
		log.Fatalf("failed to dial %s: %v", *target, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()

	if *recoveryListen != "" {
		addr, err := net.ResolveUDPAddr("udp", *recoveryListen)
		if err != nil {
			log.Fatalf("invalid recovery address %q: %v", *recoveryListen, err)
		}
		socket, err := network.RealUDPSocketFactory{}.ListenUDP("udp", addr)
		if err != nil {
			log.Fatalf("failed to listen on %s: %v", *recoveryListen, err)
		}
		defer socket.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("serving history of %d packets on %s", *window, socket.LocalAddr())
			if err := network.NewRecoveryServer(socket, ring).Serve(serveCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("recovery server stopped: %v", err)
			}
		}()
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	log.Printf("sending to %s every %s with %.1f%% loss", *target, *interval, 100**dropRate)
	st, err := emit(ctx, gen, drop, ring, conn, ticker.C, *count)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("send failed: %v", err)
	}
	log.Printf("generated %d packets: sent %d, dropped %d, %d held for recovery", st.generated, st.sent, st.dropped, ring.Len())

	if *count > 0 && ctx.Err() == nil {
		// Give the relay a moment to recover the final gap.
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
	stopServe()
	wg.Wait()
}
