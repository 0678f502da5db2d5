// Package gate turns a push button into start/stop events: one rising
// edge on the button pin releases exactly one waiter.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/einoj/muskrat/internal/debug"
	"github.com/einoj/muskrat/internal/hw/gpio"
)

// DefaultPoll is how often the latched edge is checked.
const DefaultPoll = 5 * time.Millisecond

// Gate waits for button presses. The edge register is latched in the
// driver, so a press that happens between polls is not lost and a held
// button produces a single activation.
type Gate struct {
	gpio  gpio.Driver
	pin   int
	poll  time.Duration
	clock clock.Clock
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the clock driving the poll ticker.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithPoll sets the poll interval; non-positive values keep the default.
func WithPoll(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.poll = d
		}
	}
}

// New arms rising-edge detection on pin. Any edge latched before New is discarded.
func New(drv gpio.Driver, pin int, opts ...Option) (*Gate, error) {
	g := &Gate{gpio: drv, pin: pin, poll: DefaultPoll, clock: clock.New()}
	for _, opt := range opts {
		opt(g)
	}
	if err := drv.DetectEdge(pin, gpio.RiseEdge); err != nil {
		return nil, fmt.Errorf("arm button pin %d: %w", pin, err)
	}
	debug.Verbose("Start/stop gate armed on pin %d (poll %v)", pin, g.poll)
	return g, nil
}

// Wait blocks until one rising edge is observed and consumes it.
func (g *Gate) Wait(ctx context.Context) error {
	if hit, err := g.check(); err != nil || hit {
		return err
	}

	ticker := g.clock.Ticker(g.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if hit, err := g.check(); err != nil || hit {
				return err
			}
		}
	}
}

func (g *Gate) check() (bool, error) {
	hit, err := g.gpio.EdgeDetected(g.pin)
	if err != nil {
		return false, fmt.Errorf("button pin %d: %w", g.pin, err)
	}
	if hit {
		debug.Edge(g.pin)
	}
	return hit, nil
}
