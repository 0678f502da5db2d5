package sensor

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/einoj/muskrat/internal/debug"
)

// Strobe is the telemetry-only operating mode: emitters follow a fixed
// on/off cadence from the start of Run, one conversion pass is taken in
// every on window and published to the slot. It never steers.
type Strobe struct {
	array *Array
	slot  *Slot
	on    time.Duration
	off   time.Duration
	clock clock.Clock
}

// NewStrobe creates a strobe over an array. The strobe becomes the slot's writer.
func NewStrobe(a *Array, slot *Slot, on, off time.Duration, clk clock.Clock) *Strobe {
	if clk == nil {
		clk = clock.New()
	}
	return &Strobe{array: a, slot: slot, on: on, off: off, clock: clk}
}

// Run strobes until ctx is done or a peripheral fails. Emitters are off when it returns.
func (s *Strobe) Run(ctx context.Context) (err error) {
	debug.Info("Strobe telemetry: %v on / %v off", s.on, s.off)
	defer func() {
		if offErr := s.array.Emitters(false); offErr != nil && err == nil {
			err = offErr
		}
	}()

	for {
		if err := s.array.Emitters(true); err != nil {
			return err
		}
		// The window is measured from the switch-on, not from the end of the conversions.
		window := s.clock.Timer(s.on)
		f, err := s.array.Convert()
		if err != nil {
			window.Stop()
			return err
		}
		s.slot.Publish(f)
		if err := s.wait(ctx, window); err != nil {
			return err
		}

		if err := s.array.Emitters(false); err != nil {
			return err
		}
		if err := s.wait(ctx, s.clock.Timer(s.off)); err != nil {
			return err
		}
	}
}

func (s *Strobe) wait(ctx context.Context, t *clock.Timer) error {
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
