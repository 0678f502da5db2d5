package motion

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/einoj/muskrat/internal/debug"
	"github.com/einoj/muskrat/internal/hw/pwm"
)

// Side is one drive side: a timer owned exclusively by the Drive, with
// one channel per direction. Speed is the initial stored command; it is
// clamped but not applied until the first maneuver.
type Side struct {
	Timer   pwm.Timer
	Forward pwm.Channel
	Reverse pwm.Channel
	Speed   uint32
}

type side struct {
	Side
	name  string
	speed uint32 // stored command, always <= Timer.MaxDuty()
}

// drive sets one direction channel to duty. The opposite channel is
// zeroed first, so both channels of a side are never nonzero together.
func (s *side) drive(forward bool, duty uint32) error {
	on, off := s.Forward, s.Reverse
	if !forward {
		on, off = off, on
	}
	if err := s.Timer.SetDuty(off, 0); err != nil {
		return fmt.Errorf("%s side: %w", s.name, err)
	}
	if err := s.Timer.SetDuty(on, duty); err != nil {
		return fmt.Errorf("%s side: %w", s.name, err)
	}
	return nil
}

func (s *side) stop() error {
	if err := s.Timer.SetDuty(s.Forward, 0); err != nil {
		return fmt.Errorf("%s side: %w", s.name, err)
	}
	if err := s.Timer.SetDuty(s.Reverse, 0); err != nil {
		return fmt.Errorf("%s side: %w", s.name, err)
	}
	return nil
}

// Drive realizes maneuvers on a differential drive. It's the layer
// between steering logic and the PWM timers.
//
// Speeds are only changed by SetLeftSpeed and SetRightSpeed; maneuvers
// read them and choose which channel of each side carries them.
type Drive struct {
	mu    sync.Mutex
	left  side
	right side
}

// NewDrive takes ownership of both timers and zeroes all channels.
func NewDrive(left, right Side) (*Drive, error) {
	d := &Drive{
		left:  side{Side: left, name: "left", speed: clampDuty(left.Speed, left.Timer.MaxDuty())},
		right: side{Side: right, name: "right", speed: clampDuty(right.Speed, right.Timer.MaxDuty())},
	}
	if err := d.Stop(); err != nil {
		return nil, err
	}
	debug.Verbose("Drive: left max duty %d, right max duty %d", left.Timer.MaxDuty(), right.Timer.MaxDuty())
	return d, nil
}

func clampDuty(d, max uint32) uint32 {
	if d > max {
		return max
	}
	return d
}

// SetLeftSpeed stores d clamped to the left timer's max duty and applies
// it to the left forward channel.
func (d *Drive) SetLeftSpeed(duty uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.left.speed = clampDuty(duty, d.left.Timer.MaxDuty())
	return d.left.drive(true, d.left.speed)
}

// SetRightSpeed stores d clamped to the right timer's max duty and
// applies it to the right forward channel.
func (d *Drive) SetRightSpeed(duty uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.right.speed = clampDuty(duty, d.right.Timer.MaxDuty())
	return d.right.drive(true, d.right.speed)
}

// Speeds returns the stored left and right commands.
func (d *Drive) Speeds() (left, right uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.left.speed, d.right.speed
}

// GoForward drives both forward channels at their stored speed.
func (d *Drive) GoForward() error {
	return d.apply(true, true)
}

// GoBackward drives both reverse channels at their stored speed.
func (d *Drive) GoBackward() error {
	return d.apply(false, false)
}

// TurnLeft pivots: left side in reverse at the left speed, right side
// forward at the right speed.
func (d *Drive) TurnLeft() error {
	return d.apply(false, true)
}

// TurnRight pivots: left side forward at the left speed, right side in
// reverse at the right speed.
func (d *Drive) TurnRight() error {
	return d.apply(true, false)
}

func (d *Drive) apply(leftForward, rightForward bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.left.drive(leftForward, d.left.speed); err != nil {
		return err
	}
	return d.right.drive(rightForward, d.right.speed)
}

// Stop zeroes all four channels. Stored speeds are kept.
func (d *Drive) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.left.stop(); err != nil {
		return err
	}
	return d.right.stop()
}

// Close stops the motors and releases both timers.
func (d *Drive) Close() error {
	return multierr.Combine(d.Stop(), d.left.Timer.Close(), d.right.Timer.Close())
}
