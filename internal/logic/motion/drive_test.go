package motion

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/einoj/muskrat/internal/hw/pwm"
)

const (
	fwd pwm.Channel = 0
	rev pwm.Channel = 1
)

// guardTimer records duties and flags any instant at which both channels are nonzero.
type guardTimer struct {
	*pwm.MockTimer
	mu         sync.Mutex
	live       map[pwm.Channel]uint32
	violations int
}

func newGuardTimer(name string, max uint32) *guardTimer {
	return &guardTimer{MockTimer: pwm.NewMockTimer(name, max), live: map[pwm.Channel]uint32{}}
}

func (g *guardTimer) SetDuty(ch pwm.Channel, duty uint32) error {
	if err := g.MockTimer.SetDuty(ch, duty); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.live[ch] = duty
	if g.live[fwd] != 0 && g.live[rev] != 0 {
		g.violations++
	}
	return nil
}

func newTestDrive(t *testing.T, leftMax, rightMax uint32) (*Drive, *guardTimer, *guardTimer) {
	t.Helper()
	l := newGuardTimer("left", leftMax)
	r := newGuardTimer("right", rightMax)
	d, err := NewDrive(Side{Timer: l, Forward: fwd, Reverse: rev}, Side{Timer: r, Forward: fwd, Reverse: rev})
	require.NoError(t, err)
	return d, l, r
}

func TestDrive_StartsStopped(t *testing.T) {
	_, l, r := newTestDrive(t, 100000, 3199)
	for _, tm := range []*guardTimer{l, r} {
		require.Zero(t, tm.Duty(fwd))
		require.Zero(t, tm.Duty(rev))
	}
}

func TestDrive_InitialSpeedStoredNotApplied(t *testing.T) {
	l := newGuardTimer("left", 1000)
	r := newGuardTimer("right", 500)
	d, err := NewDrive(
		Side{Timer: l, Forward: fwd, Reverse: rev, Speed: 600},
		Side{Timer: r, Forward: fwd, Reverse: rev, Speed: 600},
	)
	require.NoError(t, err)

	ls, rs := d.Speeds()
	require.Equal(t, uint32(600), ls)
	require.Equal(t, uint32(500), rs, "clamped to the right timer")
	require.Zero(t, l.Duty(fwd))
	require.Zero(t, r.Duty(fwd))

	require.NoError(t, d.GoForward())
	require.Equal(t, uint32(600), l.Duty(fwd))
	require.Equal(t, uint32(500), r.Duty(fwd))
}

func TestDrive_SetLeftSpeedThenForward(t *testing.T) {
	const max = 3199
	for _, d := range []uint32{0, 1, 1000, max - 1, max} {
		drive, l, _ := newTestDrive(t, max, 100000)
		require.NoError(t, drive.SetLeftSpeed(d))
		require.NoError(t, drive.GoForward())
		require.Equal(t, d, l.Duty(fwd), "left forward duty for d=%d", d)
		require.Zero(t, l.Duty(rev), "left reverse duty for d=%d", d)
	}
}

func TestDrive_SetSpeedAppliesImmediately(t *testing.T) {
	drive, l, r := newTestDrive(t, 1000, 2000)
	require.NoError(t, drive.SetRightSpeed(1500))
	require.Equal(t, uint32(1500), r.Duty(fwd))
	require.Zero(t, r.Duty(rev))
	require.Zero(t, l.Duty(fwd), "left side is untouched")
}

func TestDrive_SpeedClampedPerTimer(t *testing.T) {
	drive, l, r := newTestDrive(t, 1000, 2000)
	require.NoError(t, drive.SetLeftSpeed(5000))
	require.NoError(t, drive.SetRightSpeed(5000))

	ls, rs := drive.Speeds()
	require.Equal(t, uint32(1000), ls)
	require.Equal(t, uint32(2000), rs)
	require.Equal(t, uint32(1000), l.Duty(fwd))
	require.Equal(t, uint32(2000), r.Duty(fwd))
}

func TestDrive_Maneuvers(t *testing.T) {
	cases := []struct {
		name       string
		run        func(*Drive) error
		lFwd, lRev uint32
		rFwd, rRev uint32
	}{
		{"forward", (*Drive).GoForward, 10, 0, 20, 0},
		{"backward", (*Drive).GoBackward, 0, 10, 0, 20},
		{"turn_left", (*Drive).TurnLeft, 0, 10, 20, 0},
		{"turn_right", (*Drive).TurnRight, 10, 0, 0, 20},
		{"stop", (*Drive).Stop, 0, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			drive, l, r := newTestDrive(t, 100, 100)
			require.NoError(t, drive.SetLeftSpeed(10))
			require.NoError(t, drive.SetRightSpeed(20))
			require.NoError(t, drive.TurnLeft()) // start from a different state
			require.NoError(t, tc.run(drive))

			require.Equal(t, tc.lFwd, l.Duty(fwd), "left forward")
			require.Equal(t, tc.lRev, l.Duty(rev), "left reverse")
			require.Equal(t, tc.rFwd, r.Duty(fwd), "right forward")
			require.Equal(t, tc.rRev, r.Duty(rev), "right reverse")
		})
	}
}

func TestDrive_TurnRightMirrorsTurnLeft(t *testing.T) {
	drive, l, r := newTestDrive(t, 100, 100)
	require.NoError(t, drive.SetLeftSpeed(10))
	require.NoError(t, drive.SetRightSpeed(20))

	require.NoError(t, drive.TurnLeft())
	leftTurn := [4]uint32{l.Duty(fwd), l.Duty(rev), r.Duty(fwd), r.Duty(rev)}
	require.NoError(t, drive.TurnRight())
	rightTurn := [4]uint32{l.Duty(fwd), l.Duty(rev), r.Duty(fwd), r.Duty(rev)}

	// Each side keeps its own speed; only the direction flips.
	require.Equal(t, [4]uint32{0, 10, 20, 0}, leftTurn)
	require.Equal(t, [4]uint32{10, 0, 0, 20}, rightTurn)
}

func TestDrive_ManeuversKeepSpeeds(t *testing.T) {
	drive, _, _ := newTestDrive(t, 100, 100)
	require.NoError(t, drive.SetLeftSpeed(33))
	require.NoError(t, drive.SetRightSpeed(44))
	for _, m := range []func() error{drive.GoForward, drive.TurnLeft, drive.TurnRight, drive.GoBackward, drive.Stop} {
		require.NoError(t, m())
	}
	ls, rs := drive.Speeds()
	require.Equal(t, uint32(33), ls)
	require.Equal(t, uint32(44), rs)
}

func TestDrive_NeverBothChannelsOn(t *testing.T) {
	drive, l, r := newTestDrive(t, 1000, 800)
	rng := rand.New(rand.NewSource(1))
	ops := []func() error{drive.GoForward, drive.GoBackward, drive.TurnLeft, drive.TurnRight, drive.Stop}

	for i := 0; i < 500; i++ {
		switch rng.Intn(7) {
		case 5:
			require.NoError(t, drive.SetLeftSpeed(uint32(rng.Intn(1200))))
		case 6:
			require.NoError(t, drive.SetRightSpeed(uint32(rng.Intn(1200))))
		default:
			require.NoError(t, ops[rng.Intn(len(ops))]())
		}
		for _, tm := range []*guardTimer{l, r} {
			require.False(t, tm.Duty(fwd) != 0 && tm.Duty(rev) != 0, "%s side has both channels on", tm.Name())
		}
	}
	require.Zero(t, l.violations, "left side had both channels on between writes")
	require.Zero(t, r.violations, "right side had both channels on between writes")
}

func TestDrive_CloseStops(t *testing.T) {
	drive, l, r := newTestDrive(t, 100, 100)
	require.NoError(t, drive.SetLeftSpeed(50))
	require.NoError(t, drive.SetRightSpeed(50))
	require.NoError(t, drive.GoForward())

	require.NoError(t, drive.Close())
	require.Zero(t, l.Duty(fwd))
	require.Zero(t, r.Duty(fwd))
}
