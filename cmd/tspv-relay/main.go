package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/tspv.relay/internal/api"
	"github.com/banshee-data/tspv.relay/internal/config"
	"github.com/banshee-data/tspv.relay/internal/db"
	"github.com/banshee-data/tspv.relay/internal/history"
	"github.com/banshee-data/tspv.relay/internal/monitoring"
	"github.com/banshee-data/tspv.relay/internal/network"
	"github.com/banshee-data/tspv.relay/internal/packet"
	"github.com/banshee-data/tspv.relay/internal/processor"
	"github.com/banshee-data/tspv.relay/internal/serialmux"
	"github.com/banshee-data/tspv.relay/internal/sim"
	"github.com/banshee-data/tspv.relay/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to JSON relay configuration (see "+config.ExampleConfigPath+")")
	listen        = flag.String("listen", "", "UDP address to receive telemetry on (default :5600)")
	serialPort    = flag.String("serial", "", "Serial device to read telemetry frames from")
	pcapFile      = flag.String("pcap", "", "Replay telemetry from a pcap capture instead of live input")
	pcapPort      = flag.Int("pcap-port", 5600, "UDP destination port selected from the pcap capture")
	recoveryAddr  = flag.String("recovery", "", "Gateway history endpoint for recovering missed packets (host:port)")
	dbFile        = flag.String("db", "", "SQLite database path (default tspv.db)")
	httpListen    = flag.String("http", "", "HTTP listen address for the status API (default :8080)")
	devMode       = flag.Bool("dev", false, "Run against a synthetic lossy source with local history")
	debugLog      = flag.Bool("debug", false, "Enable debug logging")
	showVersion   = flag.Bool("version", false, "Print version and exit")
	statsInterval = flag.Duration("stats-interval", 30*time.Second, "How often processor counters are logged and stored (0 disables)")
)

const devRingSize = 128

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("tspv-relay", version.String())
		return
	}

	ff := flagValues{
		listen:   *listen,
		serial:   *serialPort,
		pcap:     *pcapFile,
		pcapPort: *pcapPort,
		recovery: *recoveryAddr,
		db:       *dbFile,
		http:     *httpListen,
		dev:      *devMode,
		debug:    *debugLog,
	}

	var cfg *config.RelayConfig
	if *configFile != "" {
		var err error
		cfg, err = config.LoadRelayConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	s, err := resolveSettings(cfg, ff)
	if err != nil {
		log.Fatalf("invalid options: %v", err)
	}

	if flag.NArg() > 0 {
		if flag.Arg(0) != "migrate" {
			log.Fatalf("unknown command %q", flag.Arg(0))
		}
		if err := db.RunMigrateCommand(flag.Args()[1:], s.dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	monitoring.SetDebug(s.debug)
	log.Printf("tspv-relay %s", version.String())

	database, err := db.NewDB(s.dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	store := db.NewSampleStore(database)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var retriever processor.Retriever = processor.NoHistory{}
	var source serialmux.FrameMuxInterface
	switch {
	case s.transport == transportDev:
		// The ring also covers frames buffered between the source and the intake.
		ring := history.NewRing(devRingSize)
		retriever = ring
		source, err = newDevSource(ring, 0.1, 100*time.Millisecond)
		if err != nil {
			log.Fatalf("failed to create dev source: %v", err)
		}
		log.Printf("dev mode: synthetic source with 10%% loss, recovery window %d", s.historyWindow)
	case s.recoveryAddr != "":
		r, err := network.DialRetriever(s.recoveryAddr, s.recoveryTimeout)
		if err != nil {
			log.Fatalf("failed to dial recovery endpoint: %v", err)
		}
		defer r.Close()
		retriever = r
		log.Printf("recovering missed packets from %s (timeout %s)", s.recoveryAddr, s.recoveryTimeout)
	}
	if s.transport == transportSerial {
		source, err = serialmux.NewRealFrameMux(s.serialPort, s.serialOptions, packet.Length)
		if err != nil {
			log.Fatalf("failed to open serial source: %v", err)
		}
		log.Printf("reading frames from %s (%s)", s.serialPort, s.serialOptions)
	}
	if source != nil {
		defer source.Close()
	}

	proc := processor.New(retriever, store, processor.WithHistoryWindow(s.historyWindow))
	intake := processor.NewIntake(proc, s.intakeQueue)

	var udp *network.UDPListener
	var input inputCounter
	switch {
	case s.transport == transportUDP:
		udp = network.NewUDPListener(network.UDPListenerConfig{
			Address: s.listenUDP,
			RcvBuf:  1 << 20,
			Handler: intake,
		})
		input = udp
	case source != nil:
		input = source
	}

	// Create a wait group for the intake, input, stats and HTTP routines
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := intake.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("intake stopped: %v", err)
		}
		log.Print("intake routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runInput(ctx, s, udp, source, intake); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("input stopped: %v", err)
		}
		log.Print("input routine terminated")
	}()

	if *statsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logStats(ctx, intake, input, database, *statsInterval)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(intake, database).WithSinkFailures(store.Failures)
		if input != nil {
			srv.WithInputCounts(input.Counts)
		}
		mux := srv.ServeMux()
		if err := database.AttachAdminRoutes(mux, s.dbPath); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
		if source != nil {
			source.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    s.httpListen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("HTTP API listening on %s", s.httpListen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	// The intake has stopped, so the processor can be read directly.
	final := proc.Snapshot()
	if err := database.RecordDispatchLog(final); err != nil {
		log.Printf("failed to record final counters: %v", err)
	}
	log.Printf("Graceful shutdown complete: %s%s", formatSnapshot(final), formatInput(input))
}

// inputCounter is satisfied by the UDP listener and the frame muxes.
type inputCounter interface {
	Counts() (received, dropped uint64)
}

// runInput feeds frames from the selected transport into h until ctx ends.
// udp is the listener for transportUDP and already delivers to its handler.
func runInput(ctx context.Context, s settings, udp *network.UDPListener, source serialmux.FrameMuxInterface, h network.FrameHandler) error {
	switch s.transport {
	case transportUDP:
		log.Printf("listening for telemetry on udp %s", s.listenUDP)
		return udp.Start(ctx)

	case transportPCAP:
		stats, err := network.ReplayPCAPFile(ctx, s.pcapPath, s.pcapPort, h)
		if err != nil {
			return err
		}
		log.Printf("pcap replay finished: %d packets, %d to port %d, %d frames delivered",
			stats.Packets, stats.Matched, s.pcapPort, stats.Delivered)
		// Keep serving the API until shutdown so the results can be inspected.
		<-ctx.Done()
		return ctx.Err()

	case transportSerial, transportDev:
		return pumpFrames(ctx, source, h)
	}
	return fmt.Errorf("unknown transport %q", s.transport)
}

// pumpFrames runs the mux monitor and forwards every frame to h.
func pumpFrames(ctx context.Context, m serialmux.FrameMuxInterface, h network.FrameHandler) error {
	id, frames := m.Subscribe()
	defer m.Unsubscribe(id)

	monitorErr := make(chan error, 1)
	go func() { monitorErr <- m.Monitor(ctx) }()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return <-monitorErr
			}
			if err := h.HandleFrame(ctx, frame); err != nil {
				return err
			}
		case err := <-monitorErr:
			if err != nil {
				return err
			}
			if err := drainFrames(ctx, frames, h); err != nil {
				return err
			}
			log.Print("frame source reached end of stream")
			<-ctx.Done()
			return ctx.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drainFrames forwards frames already published before the source ended.
func drainFrames(ctx context.Context, frames <-chan []byte, h network.FrameHandler) error {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if err := h.HandleFrame(ctx, frame); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// recorder stores periodic processor counters.
type recorder interface {
	RecordDispatchLog(processor.Snapshot) error
}

// snapshotter is satisfied by processor.Intake.
type snapshotter interface {
	Snapshot(ctx context.Context) (processor.Snapshot, error)
}

// logStats logs and records processor counters every interval. input may be
// nil when the transport keeps no counters (pcap replay).
func logStats(ctx context.Context, src snapshotter, input inputCounter, rec recorder, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := src.Snapshot(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("failed to snapshot processor: %v", err)
				}
				continue
			}
			monitoring.Logf("processor: %s%s", formatSnapshot(snap), formatInput(input))
			if err := rec.RecordDispatchLog(snap); err != nil {
				log.Printf("failed to record counters: %v", err)
			}
		}
	}
}

func formatSnapshot(snap processor.Snapshot) string {
	st := snap.Stats
	return fmt.Sprintf("last=%d received=%d dispatched=%d rejected=%d gaps=%d recovered=%d/%d unavailable=%d lost=%d",
		snap.LastProcessedID, st.Received, st.Dispatched, st.Rejected, st.Gaps,
		st.Recovered, st.Requested, st.Unavailable, st.Lost)
}

func formatInput(input inputCounter) string {
	if input == nil {
		return ""
	}
	received, dropped := input.Counts()
	return fmt.Sprintf(" input=%d input_dropped=%d", received, dropped)
}

// newDevSource returns a synthetic frame source that loses a fraction of
// packets. Every generated frame, lost or not, is kept in ring so the relay
// can recover it.
func newDevSource(ring *history.Ring, lossRate float64, interval time.Duration) (serialmux.FrameMuxInterface, error) {
	now := time.Now()
	gen := sim.NewSyntheticGenerator(now.UnixNano(), now)
	drop := sim.NewDropper(lossRate, now.UnixNano()+1)
	next := func() []byte {
		for {
			frame := packet.Encode(gen.Next())
			ring.Store(frame)
			if !drop.Drop() {
				return frame
			}
		}
	}
	return serialmux.NewMockFrameMux(packet.Length, interval, next)
}
