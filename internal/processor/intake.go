package processor

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	// ErrClosed is returned by Intake methods once Run has returned.
	ErrClosed = errors.New("processor: intake closed")
	// ErrAlreadyRunning is returned by Run on every call after the first.
	ErrAlreadyRunning = errors.New("processor: intake already started")
)

type command struct {
	frame    []byte
	reset    bool
	snapshot chan Snapshot
}

// Intake serializes access to a Processor from any number of goroutines.
// Frames, resets and snapshot requests are applied strictly in the order they
// were queued, one at a time, by the goroutine running Run.
type Intake struct {
	proc     *Processor
	commands chan command
	done     chan struct{}
	started  atomic.Bool
}

// NewIntake wraps p. queue is the number of frames that may be buffered
// before Submit blocks.
func NewIntake(p *Processor, queue int) *Intake {
	if queue < 0 {
		queue = 0
	}
	return &Intake{
		proc:     p,
		commands: make(chan command, queue),
		done:     make(chan struct{}),
	}
}

// Run applies queued commands until ctx is cancelled. An Intake runs once;
// later calls return ErrAlreadyRunning without touching the queue.
func (in *Intake) Run(ctx context.Context) error {
	if !in.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(in.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-in.commands:
			switch {
			case cmd.reset:
				in.proc.Reset()
				cmd.snapshot <- in.proc.Snapshot()
			case cmd.snapshot != nil:
				cmd.snapshot <- in.proc.Snapshot()
			default:
				in.proc.Receive(cmd.frame)
			}
		}
	}
}

// HandleFrame queues a copy of frame for processing. It satisfies the frame
// handler interfaces of the transports.
func (in *Intake) HandleFrame(ctx context.Context, frame []byte) error {
	var buf []byte
	if frame != nil {
		buf = append([]byte(nil), frame...)
	}
	return in.send(ctx, command{frame: buf})
}

// Reset queues a processor reset and waits for it to be applied.
func (in *Intake) Reset(ctx context.Context) (Snapshot, error) {
	return in.roundTrip(ctx, true)
}

// Snapshot returns the processor state as of all previously queued commands.
func (in *Intake) Snapshot(ctx context.Context) (Snapshot, error) {
	return in.roundTrip(ctx, false)
}

func (in *Intake) roundTrip(ctx context.Context, reset bool) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := in.send(ctx, command{reset: reset, snapshot: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-in.done:
		// Run may have taken the command just before exiting
		select {
		case s := <-reply:
			return s, nil
		default:
			return Snapshot{}, ErrClosed
		}
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (in *Intake) send(ctx context.Context, cmd command) error {
	select {
	case <-in.done:
		return ErrClosed
	default:
	}
	select {
	case in.commands <- cmd:
		return nil
	case <-in.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
