package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startIntake(t *testing.T, p *Processor) (*Intake, context.CancelFunc, <-chan error) {
	t.Helper()
	in := NewIntake(p, 8)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- in.Run(ctx) }()
	t.Cleanup(cancel)
	return in, cancel, errc
}

func TestIntake_AppliesCommandsInOrder(t *testing.T) {
	sink := &recordingSink{}
	in, _, _ := startIntake(t, New(newFakeHistory(), sink))
	ctx := context.Background()

	for _, id := range []uint8{1, 2, 3} {
		require.NoError(t, in.HandleFrame(ctx, frame(id)))
	}
	s, err := in.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), s.LastProcessedID)

	s, err = in.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), s.LastProcessedID)
	assert.Equal(t, uint64(1), s.Stats.Resets)

	require.NoError(t, in.HandleFrame(ctx, frame(1)))
	s, err = in.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), s.LastProcessedID)
	assert.Zero(t, s.Stats.Gaps)
}

func TestIntake_CopiesFrames(t *testing.T) {
	sink := &recordingSink{}
	in, _, _ := startIntake(t, New(nil, sink))
	ctx := context.Background()

	buf := frame(1)
	require.NoError(t, in.HandleFrame(ctx, buf))
	for i := range buf {
		buf[i] = 0
	}

	_, err := in.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, sink.samples, 2)
	assert.Equal(t, float32(1), sink.samples[0].PresentValue)
}

func TestIntake_ConcurrentProducers(t *testing.T) {
	sink := &recordingSink{}
	in, _, _ := startIntake(t, New(nil, sink))
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, in.HandleFrame(ctx, frame(0)))
			}
		}()
	}
	wg.Wait()

	s, err := in.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), s.Stats.Dispatched)
	assert.Len(t, sink.samples, 200)
}

func TestIntake_ClosedAfterRun(t *testing.T) {
	in, cancel, errc := startIntake(t, New(nil, nil))
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	ctx := context.Background()
	assert.ErrorIs(t, in.HandleFrame(ctx, frame(1)), ErrClosed)
	_, err := in.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIntake_RunOnlyOnce(t *testing.T) {
	in, cancel, errc := startIntake(t, New(nil, nil))

	// Wait until the first Run is serving.
	_, err := in.Snapshot(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, in.Run(context.Background()), ErrAlreadyRunning)

	_, err = in.Snapshot(context.Background())
	assert.NoError(t, err, "first Run keeps serving")

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.ErrorIs(t, in.Run(context.Background()), ErrAlreadyRunning, "no double close after exit")
}
