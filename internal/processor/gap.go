package processor

import "github.com/banshee-data/tspv.relay/internal/packet"

// Window is a half-open range [Start, End) of packet ids to re-deliver. End is
// the id of the packet that revealed the gap.
type Window struct {
	Start uint8
	End   uint8
}

// Len returns the number of ids in the window.
func (w Window) Len() int {
	return int(w.End) - int(w.Start)
}

// DetectGap decides whether packets are missing between last, the id of the
// most recently dispatched packet, and next, the id of a freshly decoded one.
//
// The difference is computed on the widened values, not mod 256. A wrap from
// 255 is only in order when next is 1; anything else after 255 is a gap
// starting at 1.
func DetectGap(last, next uint8) (Window, bool) {
	if next == packet.ReservedID {
		return Window{}, false
	}

	if delta := int(next) - int(last); delta > 1 {
		return Window{Start: last + 1, End: next}, true
	}

	if last == packet.MaxID && next != packet.FirstID {
		return Window{Start: packet.FirstID, End: next}, true
	}

	return Window{}, false
}

// clamp limits w to the ids a history of size window can still supply. The
// history includes the revealing packet, so at most window-1 ids precede it.
// It returns the clamped window and the number of ids dropped from its start.
func clamp(w Window, window int) (Window, int) {
	keep := window - 1
	if keep < 0 {
		keep = 0
	}
	if w.Len() <= keep {
		return w, 0
	}
	dropped := w.Len() - keep
	return Window{Start: w.End - uint8(keep), End: w.End}, dropped
}
