package control

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/einoj/muskrat/internal/logic/sensor"
)

// scriptSampler returns readings in order, then cancels the context.
type scriptSampler struct {
	readings []sensor.Reading
	cancel   context.CancelFunc
	err      error
	n        int
}

func (s *scriptSampler) Sample() (sensor.Frame, error) {
	if s.n >= len(s.readings) {
		if s.cancel != nil {
			s.cancel()
		}
		if s.err != nil {
			return sensor.Frame{}, s.err
		}
		return sensor.Frame{Seq: uint64(s.n + 1)}, nil
	}
	r := s.readings[s.n]
	s.n++
	return sensor.Frame{Seq: uint64(s.n), Reading: r}, nil
}

// recordingDrive logs every command it receives.
type recordingDrive struct {
	calls []string
	fail  error
}

func (d *recordingDrive) record(name string) error {
	d.calls = append(d.calls, name)
	return d.fail
}

func (d *recordingDrive) GoForward() error { return d.record("forward") }
func (d *recordingDrive) TurnLeft() error  { return d.record("turn_left") }
func (d *recordingDrive) TurnRight() error { return d.record("turn_right") }
func (d *recordingDrive) Stop() error      { return d.record("stop") }

func TestDecide(t *testing.T) {
	cases := []struct {
		name string
		in   sensor.Reading
		want Maneuver
	}{
		{"all_zero", sensor.Reading{}, Forward},
		{"left_only", sensor.Reading{Left: 3}, TurnRight},
		{"right_only", sensor.Reading{Right: 3}, TurnLeft},
		{"front_only", sensor.Reading{Front: 3}, TurnRight},
		{"left_beats_right", sensor.Reading{Left: 1, Right: 900}, TurnRight},
		{"right_beats_front", sensor.Reading{Front: 7, Right: 7}, TurnLeft},
		{"left_beats_all", sensor.Reading{Front: 9, Left: 1, Right: 9}, TurnRight},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Decide(tc.in))
		})
	}
}

func TestDecide_MagnitudeIndependent(t *testing.T) {
	for _, v := range []uint16{1, 2, 512, 65535} {
		require.Equal(t, TurnRight, Decide(sensor.Reading{Left: v}), "left=%d", v)
		require.Equal(t, TurnLeft, Decide(sensor.Reading{Right: v}), "right=%d", v)
		require.Equal(t, TurnRight, Decide(sensor.Reading{Front: v}), "front=%d", v)
	}
}

func TestManeuver_String(t *testing.T) {
	require.Equal(t, "forward", Forward.String())
	require.Equal(t, "turn_left", TurnLeft.String())
	require.Equal(t, "turn_right", TurnRight.String())
	require.Equal(t, "maneuver(9)", Maneuver(9).String())
}

func TestStep_OneDriveCallPerStep(t *testing.T) {
	s := &scriptSampler{readings: []sensor.Reading{{}, {Left: 1}, {Right: 1}, {Front: 1}}}
	d := &recordingDrive{}
	var slot sensor.Slot
	l := NewLoop(s, d, &slot)

	for i := 1; i <= 4; i++ {
		_, err := l.Step()
		require.NoError(t, err)
		require.Len(t, d.calls, i)
		f, ok := slot.Latest()
		require.True(t, ok)
		require.Equal(t, uint64(i), f.Seq)
	}
	require.Equal(t, []string{"forward", "turn_right", "turn_left", "turn_right"}, d.calls)
	require.Equal(t, uint64(4), l.Steps())
}

func TestStep_NoHysteresis(t *testing.T) {
	s := &scriptSampler{readings: []sensor.Reading{{}, {Front: 5}, {}}}
	d := &recordingDrive{}
	l := NewLoop(s, d, nil)

	for _, want := range []Maneuver{Forward, TurnRight, Forward} {
		m, err := l.Step()
		require.NoError(t, err)
		require.Equal(t, want, m)
	}
}

func TestStep_SampleErrorIssuesNoCommand(t *testing.T) {
	s := &scriptSampler{err: errors.New("adc timeout")}
	d := &recordingDrive{}
	l := NewLoop(s, d, nil)

	_, err := l.Step()
	require.ErrorContains(t, err, "adc timeout")
	require.Empty(t, d.calls)
}

func TestRun_StopsDriveOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &scriptSampler{readings: []sensor.Reading{{Left: 1}, {Right: 1}}, cancel: cancel}
	d := &recordingDrive{}
	l := NewLoop(s, d, nil)

	err := l.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	// The third sample cancels; its step still completes before Run notices.
	require.Equal(t, []string{"turn_right", "turn_left", "forward", "stop"}, d.calls)
}

func TestRun_DriveErrorEndsLoop(t *testing.T) {
	s := &scriptSampler{readings: []sensor.Reading{{}}}
	d := &recordingDrive{fail: errors.New("pwm write")}
	l := NewLoop(s, d, nil)

	err := l.Run(context.Background())
	require.ErrorContains(t, err, "pwm write")
	require.Equal(t, []string{"forward", "stop"}, d.calls)
}
