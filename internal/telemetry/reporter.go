// Package telemetry reports the latest sensor frame at a fixed rate. It
// only reads the slot; nothing it does feeds back into steering.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/einoj/muskrat/internal/debug"
	"github.com/einoj/muskrat/internal/logic/sensor"
)

// DefaultInterval is 5 Hz.
const DefaultInterval = 200 * time.Millisecond

// Sink receives frames from the reporter.
type Sink interface {
	Report(f sensor.Frame) error
	Close() error
}

// Reporter polls a slot and forwards each new frame to its sinks.
type Reporter struct {
	slot     *sensor.Slot
	sinks    []Sink
	interval time.Duration
	clock    clock.Clock
	last     uint64
}

// NewReporter creates a reporter. A nil clock means wall time.
func NewReporter(slot *sensor.Slot, interval time.Duration, clk clock.Clock, sinks ...Sink) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Reporter{slot: slot, sinks: sinks, interval: interval, clock: clk}
}

// Run reports until ctx is done. Sink failures are logged and do not stop it.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Tick reports the latest frame if it has not been reported yet.
func (r *Reporter) Tick() {
	f, ok := r.slot.Latest()
	if !ok || f.Seq == r.last {
		return
	}
	r.last = f.Seq
	for _, s := range r.sinks {
		if err := s.Report(f); err != nil {
			debug.Error(fmt.Errorf("telemetry sink: %w", err))
		}
	}
}

// Close closes every sink.
func (r *Reporter) Close() error {
	var err error
	for _, s := range r.sinks {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// LogSink dumps the raw channels to the debug log.
type LogSink struct{}

func (LogSink) Report(f sensor.Frame) error {
	debug.Telemetry("#%d %s", f.Seq, f.Raw)
	return nil
}

func (LogSink) Close() error { return nil }
