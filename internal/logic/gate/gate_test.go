package gate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/einoj/muskrat/internal/hw/gpio"
)

const buttonPin = 26

func newTestGate(t *testing.T) (*Gate, *gpio.MockDriver, *clock.Mock) {
	t.Helper()
	drv := gpio.NewMockDriver()
	mock := clock.NewMock()
	g, err := New(drv, buttonPin, WithClock(mock))
	require.NoError(t, err)
	return g, drv, mock
}

// tick advances the mock clock one poll period at a time.
func tick(mock *clock.Mock, n int) {
	for i := 0; i < n; i++ {
		mock.Add(DefaultPoll)
	}
}

func TestWait_ReturnsOnLatchedEdge(t *testing.T) {
	g, drv, _ := newTestGate(t)
	drv.TriggerEdge(buttonPin)
	require.NoError(t, g.Wait(context.Background()))
}

func TestWait_EdgeBeforeNewIsDiscarded(t *testing.T) {
	drv := gpio.NewMockDriver()
	require.NoError(t, drv.DetectEdge(buttonPin, gpio.RiseEdge))
	drv.TriggerEdge(buttonPin)

	g, err := New(drv, buttonPin, WithClock(clock.NewMock()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, g.Wait(ctx), context.Canceled)
}

func TestWait_SingleEdgeReleasesOneWaiter(t *testing.T) {
	g, drv, mock := newTestGate(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var released atomic.Int32
	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			err := g.Wait(ctx)
			if err == nil {
				released.Add(1)
			}
			done <- err
		}()
	}

	drv.TriggerEdge(buttonPin)
	require.Eventually(t, func() bool {
		tick(mock, 1)
		return released.Load() == 1
	}, time.Second, time.Millisecond)

	// No further edge: the second waiter stays blocked through many polls.
	tick(mock, 20)
	require.Equal(t, int32(1), released.Load())

	cancel()
	require.NoError(t, <-done)
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestWait_HeldButtonIsOneActivation(t *testing.T) {
	g, drv, mock := newTestGate(t)
	drv.SetInput(buttonPin, gpio.High) // pressed and held

	require.NoError(t, g.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Wait(ctx) }()
	tick(mock, 10)
	select {
	case err := <-done:
		t.Fatalf("held button released a second wait: %v", err)
	default:
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestWait_EveryPressCounts(t *testing.T) {
	g, drv, mock := newTestGate(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		done := make(chan error, 1)
		go func() { done <- g.Wait(ctx) }()
		drv.TriggerEdge(buttonPin)
		require.Eventually(t, func() bool {
			tick(mock, 1)
			select {
			case err := <-done:
				return err == nil
			default:
				return false
			}
		}, time.Second, time.Millisecond, "press %d", i)
	}
}

func TestWithPoll(t *testing.T) {
	drv := gpio.NewMockDriver()
	g, err := New(drv, buttonPin, WithPoll(20*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, 20*time.Millisecond, g.poll)

	g, err = New(drv, buttonPin, WithPoll(0))
	require.NoError(t, err)
	require.Equal(t, DefaultPoll, g.poll)
}
