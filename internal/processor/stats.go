package processor

// Stats counts what a Processor has done since it was created.
type Stats struct {
	Received    uint64 `json:"received"`    // frames decoded, including replays
	Rejected    uint64 `json:"rejected"`    // frames dropped for length
	Dispatched  uint64 `json:"dispatched"`  // packets whose samples reached the sink
	Gaps        uint64 `json:"gaps"`        // sequence gaps detected
	Requested   uint64 `json:"requested"`   // history requests issued
	Recovered   uint64 `json:"recovered"`   // history requests that returned bytes
	Unavailable uint64 `json:"unavailable"` // history requests that returned nothing
	Lost        uint64 `json:"lost"`        // missing ids outside the history window
	Resets      uint64 `json:"resets"`
}

// Snapshot is a point-in-time view of a Processor.
type Snapshot struct {
	LastProcessedID uint8 `json:"last_processed_id"`
	InRecovery      bool  `json:"in_recovery"`
	HistoryWindow   int   `json:"history_window"`
	Stats           Stats `json:"stats"`
}

// Snapshot returns the current state and counters.
func (p *Processor) Snapshot() Snapshot {
	return Snapshot{
		LastProcessedID: p.lastProcessedID,
		InRecovery:      p.inRecovery,
		HistoryWindow:   p.window,
		Stats:           p.stats,
	}
}
