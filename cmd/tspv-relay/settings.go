package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/tspv.relay/internal/config"
	"github.com/banshee-data/tspv.relay/internal/serialmux"
)

type transport string

const (
	transportUDP    transport = "udp"
	transportSerial transport = "serial"
	transportPCAP   transport = "pcap"
	transportDev    transport = "dev"
)

// flagValues holds the command line overrides. Empty values defer to the
// config file.
type flagValues struct {
	listen   string
	serial   string
	pcap     string
	pcapPort int
	recovery string
	db       string
	http     string
	dev      bool
	debug    bool
}

// settings is the resolved runtime configuration of the relay.
type settings struct {
	transport       transport
	listenUDP       string
	serialPort      string
	serialOptions   serialmux.PortOptions
	pcapPath        string
	pcapPort        int
	recoveryAddr    string
	recoveryTimeout time.Duration
	historyWindow   int
	intakeQueue     int
	dbPath          string
	httpListen      string
	debug           bool
}

var errTransports = errors.New("choose one of -listen, -serial, -pcap or -dev")

// resolveSettings layers flags over cfg. At most one transport may be named
// explicitly; with none, the relay listens on the configured UDP address.
func resolveSettings(cfg *config.RelayConfig, f flagValues) (settings, error) {
	if cfg == nil {
		cfg = &config.RelayConfig{}
	}
	s := settings{
		listenUDP:       cfg.GetListenUDP(),
		serialPort:      cfg.GetSerialPort(),
		serialOptions:   cfg.GetSerial(),
		pcapPath:        f.pcap,
		pcapPort:        f.pcapPort,
		recoveryAddr:    orDefault(f.recovery, cfg.GetRecoveryAddr()),
		recoveryTimeout: cfg.GetRecoveryTimeout(),
		historyWindow:   cfg.GetHistoryWindow(),
		intakeQueue:     cfg.GetIntakeQueue(),
		dbPath:          orDefault(f.db, cfg.GetDBPath()),
		httpListen:      orDefault(f.http, cfg.GetHTTPListen()),
		debug:           f.debug || cfg.GetDebug(),
	}

	named := 0
	for _, set := range []bool{f.listen != "", f.serial != "", f.pcap != "", f.dev} {
		if set {
			named++
		}
	}
	if named > 1 {
		return settings{}, errTransports
	}

	switch {
	case f.dev:
		s.transport = transportDev
	case f.pcap != "":
		s.transport = transportPCAP
	case f.serial != "":
		s.transport = transportSerial
		s.serialPort = f.serial
	case f.listen != "":
		s.transport = transportUDP
		s.listenUDP = f.listen
	case s.serialPort != "":
		s.transport = transportSerial
	default:
		s.transport = transportUDP
	}

	if s.transport == transportPCAP && (s.pcapPort <= 0 || s.pcapPort > 65535) {
		return settings{}, fmt.Errorf("invalid -pcap-port %d", s.pcapPort)
	}
	return s, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
