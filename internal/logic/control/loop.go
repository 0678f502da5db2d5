// Package control holds the bang-bang steering policy and the loop that
// applies it: sample, decide, drive, repeat.
package control

import (
	"context"
	"fmt"

	"github.com/einoj/muskrat/internal/debug"
	"github.com/einoj/muskrat/internal/logic/sensor"
)

// Maneuver is one of the drive commands the policy can choose.
type Maneuver int

const (
	Forward Maneuver = iota
	TurnLeft
	TurnRight
)

func (m Maneuver) String() string {
	switch m {
	case Forward:
		return "forward"
	case TurnLeft:
		return "turn_left"
	case TurnRight:
		return "turn_right"
	default:
		return fmt.Sprintf("maneuver(%d)", int(m))
	}
}

// Decide maps a reading to a maneuver. Any nonzero value counts as seen;
// the left pair wins over the right pair, which wins over the front.
func Decide(r sensor.Reading) Maneuver {
	switch {
	case r.Left > 0:
		return TurnRight
	case r.Right > 0:
		return TurnLeft
	case r.Front > 0:
		return TurnRight
	default:
		return Forward
	}
}

// Sampler produces one strobed sample per call.
type Sampler interface {
	Sample() (sensor.Frame, error)
}

// Driver is the subset of the motor drive the loop commands.
type Driver interface {
	GoForward() error
	TurnLeft() error
	TurnRight() error
	Stop() error
}

// Loop runs the policy with no delay between iterations and no memory
// across them.
type Loop struct {
	sampler Sampler
	drive   Driver
	slot    *sensor.Slot
	last    Maneuver
	steps   uint64
}

// NewLoop creates a loop. slot may be nil; when set, every frame the
// loop samples is published to it.
func NewLoop(s Sampler, d Driver, slot *sensor.Slot) *Loop {
	return &Loop{sampler: s, drive: d, slot: slot, last: -1}
}

// Step takes one sample and issues exactly one drive command.
func (l *Loop) Step() (Maneuver, error) {
	f, err := l.sampler.Sample()
	if err != nil {
		return 0, fmt.Errorf("sample: %w", err)
	}
	if l.slot != nil {
		l.slot.Publish(f)
	}

	m := Decide(f.Reading)
	if err := l.apply(m); err != nil {
		return 0, fmt.Errorf("%s: %w", m, err)
	}
	if m != l.last {
		from := "none"
		if l.last >= 0 {
			from = l.last.String()
		}
		debug.Maneuver(from, m.String())
		l.last = m
	}
	l.steps++
	return m, nil
}

func (l *Loop) apply(m Maneuver) error {
	switch m {
	case TurnLeft:
		return l.drive.TurnLeft()
	case TurnRight:
		return l.drive.TurnRight()
	default:
		return l.drive.GoForward()
	}
}

// Steps returns the number of completed iterations.
func (l *Loop) Steps() uint64 {
	return l.steps
}

// Run repeats Step until ctx is done or a step fails. The drive is
// stopped before Run returns.
func (l *Loop) Run(ctx context.Context) (err error) {
	debug.Info("Control loop running")
	defer func() {
		if stopErr := l.drive.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
		debug.Info("Control loop stopped after %d steps", l.steps)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := l.Step(); err != nil {
			return err
		}
	}
}
