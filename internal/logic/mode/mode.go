// Package mode runs exactly one operating mode of the robot. Modes own
// the peripherals for as long as they run and never overlap, so only one
// writer ever feeds the latest-reading slot.
package mode

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/einoj/muskrat/internal/config"
	"github.com/einoj/muskrat/internal/debug"
	"github.com/einoj/muskrat/internal/logic/control"
	"github.com/einoj/muskrat/internal/logic/sensor"
)

// RobotState is Idle while all motor duties are zero, Running otherwise.
type RobotState int32

const (
	Idle RobotState = iota
	Running
)

func (s RobotState) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Waiter blocks until a start/stop edge is consumed.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Drive is the motor surface the modes command.
type Drive interface {
	control.Driver
	GoBackward() error
}

// Strober runs the telemetry-only emitter cadence.
type Strober interface {
	Run(ctx context.Context) error
}

// Timing holds the durations the timed modes use.
type Timing struct {
	Toggle    time.Duration
	Calibrate time.Duration
	Interval  time.Duration
}

// Runner dispatches to one mode. Every field except clock is required
// by at least one mode; Run reports a missing one as an error.
type Runner struct {
	Sampler control.Sampler
	Strobe  Strober
	Drive   Drive
	Gate    Waiter
	Slot    *sensor.Slot
	Timing  Timing
	Clock   clock.Clock

	state atomic.Int32
}

// State returns whether the motors are currently commanded.
func (r *Runner) State() RobotState {
	return RobotState(r.state.Load())
}

func (r *Runner) setState(s RobotState) {
	if RobotState(r.state.Swap(int32(s))) != s {
		debug.Live("Robot %s", s)
	}
}

func (r *Runner) clock() clock.Clock {
	if r.Clock == nil {
		r.Clock = clock.New()
	}
	return r.Clock
}

// Run executes m until ctx is done or a peripheral fails. The motors are
// stopped before Run returns from any mode that drives them.
func (r *Runner) Run(ctx context.Context, m config.Mode) error {
	debug.Summary(fmt.Sprintf("Mode: %s", m))
	switch m {
	case config.ModeTelemetry:
		return r.Telemetry(ctx)
	case config.ModeToggle:
		return r.Toggle(ctx)
	case config.ModeFollow:
		return r.Follow(ctx)
	case config.ModeCalibrate:
		return r.Calibrate(ctx)
	default:
		return fmt.Errorf("unknown mode %q", m)
	}
}

// Telemetry strobes the emitters and publishes readings. The motors are never driven.
func (r *Runner) Telemetry(ctx context.Context) error {
	if r.Strobe == nil {
		return fmt.Errorf("telemetry mode: no strobe")
	}
	return r.Strobe.Run(ctx)
}

// Toggle waits for a press, drives forward then backward for the toggle
// duration each, stops, and waits again.
func (r *Runner) Toggle(ctx context.Context) (err error) {
	if r.Drive == nil || r.Gate == nil {
		return fmt.Errorf("toggle mode: drive and gate required")
	}
	defer r.halt(&err)

	for {
		debug.Live("Waiting for button (toggle %v)", r.Timing.Toggle)
		if err := r.Gate.Wait(ctx); err != nil {
			return err
		}
		r.setState(Running)
		if err := r.Drive.GoForward(); err != nil {
			return err
		}
		if err := r.sleep(ctx, r.Timing.Toggle); err != nil {
			return err
		}
		if err := r.Drive.GoBackward(); err != nil {
			return err
		}
		if err := r.sleep(ctx, r.Timing.Toggle); err != nil {
			return err
		}
		if err := r.Drive.Stop(); err != nil {
			return err
		}
		r.setState(Idle)
	}
}

// Follow waits for one press and then runs the control loop until ctx is done.
func (r *Runner) Follow(ctx context.Context) (err error) {
	if r.Sampler == nil || r.Drive == nil || r.Gate == nil {
		return fmt.Errorf("follow mode: sampler, drive and gate required")
	}
	defer r.halt(&err)

	debug.Live("Waiting for button to start line following")
	if err := r.Gate.Wait(ctx); err != nil {
		return err
	}
	r.setState(Running)
	return control.NewLoop(r.Sampler, r.Drive, r.Slot).Run(ctx)
}

// Calibrate waits for a press, drives forward open-loop for the calibrate
// duration while publishing a sample every interval, stops, and waits again.
func (r *Runner) Calibrate(ctx context.Context) (err error) {
	if r.Sampler == nil || r.Drive == nil || r.Gate == nil {
		return fmt.Errorf("calibrate mode: sampler, drive and gate required")
	}
	if r.Timing.Interval <= 0 {
		return fmt.Errorf("calibrate mode: interval must be positive")
	}
	defer r.halt(&err)

	for {
		debug.Live("Waiting for button (calibrate %v)", r.Timing.Calibrate)
		if err := r.Gate.Wait(ctx); err != nil {
			return err
		}
		r.setState(Running)
		if err := r.Drive.GoForward(); err != nil {
			return err
		}
		if err := r.sampleFor(ctx, r.Timing.Calibrate); err != nil {
			return err
		}
		if err := r.Drive.Stop(); err != nil {
			return err
		}
		r.setState(Idle)
	}
}

// sampleFor publishes one sample immediately and one per interval until d elapses.
func (r *Runner) sampleFor(ctx context.Context, d time.Duration) error {
	clk := r.clock()
	deadline := clk.Timer(d)
	defer deadline.Stop()
	ticker := clk.Ticker(r.Timing.Interval)
	defer ticker.Stop()

	for {
		f, err := r.Sampler.Sample()
		if err != nil {
			return fmt.Errorf("sample: %w", err)
		}
		if r.Slot != nil {
			r.Slot.Publish(f)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	t := r.clock().Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// halt zeroes the motors on the way out, keeping the first error.
func (r *Runner) halt(err *error) {
	if stopErr := r.Drive.Stop(); stopErr != nil && *err == nil {
		*err = stopErr
	}
	r.setState(Idle)
}
