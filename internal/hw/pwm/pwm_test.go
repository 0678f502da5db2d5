package pwm

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeChip lays out a sysfs PWM chip with pre-exported lines under a temp root.
func fakeChip(t *testing.T, chip string, lines ...int) string {
	t.Helper()
	root := t.TempDir()
	chipPath := filepath.Join(root, chip)
	require.NoError(t, os.MkdirAll(chipPath, 0o755))
	for _, l := range lines {
		require.NoError(t, os.MkdirAll(filepath.Join(chipPath, "pwm"+strconv.Itoa(l)), 0o755))
	}
	return root
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}

func TestSysfsTimer_InitSetsPeriodAndEnables(t *testing.T) {
	root := fakeChip(t, "pwmchip0", 0, 1)

	tm, err := NewSysfsTimer(root, "left", Config{Chip: "pwmchip0", Channels: []Channel{0, 1}, FrequencyHz: 10000})
	require.NoError(t, err)

	require.Equal(t, uint32(100000), tm.MaxDuty())
	for _, line := range []string{"pwm0", "pwm1"} {
		require.Equal(t, "100000", readFile(t, filepath.Join(root, "pwmchip0", line, "period")))
		require.Equal(t, "0", readFile(t, filepath.Join(root, "pwmchip0", line, "duty_cycle")))
		require.Equal(t, "1", readFile(t, filepath.Join(root, "pwmchip0", line, "enable")))
	}
}

func TestSysfsTimer_SetDuty(t *testing.T) {
	root := fakeChip(t, "pwmchip2", 0, 1)
	tm, err := NewSysfsTimer(root, "right", Config{Chip: "pwmchip2", Channels: []Channel{0, 1}, FrequencyHz: 10000})
	require.NoError(t, err)

	require.NoError(t, tm.SetDuty(1, 42000))
	require.Equal(t, "42000", readFile(t, filepath.Join(root, "pwmchip2", "pwm1", "duty_cycle")))

	require.Error(t, tm.SetDuty(1, 100001), "duty above the period must be rejected")
}

func TestSysfsTimer_CloseZeroesAndDisables(t *testing.T) {
	root := fakeChip(t, "pwmchip0", 0, 1)
	tm, err := NewSysfsTimer(root, "left", Config{Chip: "pwmchip0", Channels: []Channel{0, 1}, FrequencyHz: 10000})
	require.NoError(t, err)
	require.NoError(t, tm.SetDuty(0, 5000))

	require.NoError(t, tm.Close())

	require.Equal(t, "0", readFile(t, filepath.Join(root, "pwmchip0", "pwm0", "duty_cycle")))
	require.Equal(t, "0", readFile(t, filepath.Join(root, "pwmchip0", "pwm0", "enable")))
}

func TestSysfsTimer_MissingChip(t *testing.T) {
	_, err := NewSysfsTimer(t.TempDir(), "left", Config{Chip: "pwmchip9", Channels: []Channel{0, 1}, FrequencyHz: 10000})
	require.Error(t, err)
}

func TestSysfsTimer_InvalidConfig(t *testing.T) {
	root := fakeChip(t, "pwmchip0", 0, 1)
	_, err := NewSysfsTimer(root, "left", Config{Chip: "pwmchip0", Channels: []Channel{0, 1}})
	require.Error(t, err, "zero frequency")
	_, err = NewSysfsTimer(root, "left", Config{Chip: "pwmchip0", FrequencyHz: 10000})
	require.Error(t, err, "no channels")
	_, err = NewSysfsTimer(root, "left", Config{Channels: []Channel{0}, FrequencyHz: 10000})
	require.Error(t, err, "no chip")
}

func TestMockTimer_RecordsWrites(t *testing.T) {
	m := NewMockTimer("left", 3199)
	require.NoError(t, m.SetDuty(0, 0))
	require.NoError(t, m.SetDuty(1, 3199))
	require.Error(t, m.SetDuty(1, 3200))

	require.Equal(t, uint32(3199), m.Duty(1))
	require.Equal(t, []Write{{Channel: 0, Duty: 0}, {Channel: 1, Duty: 3199}}, m.Writes())
}

func TestNewTimer_MockUsesCarrierPeriod(t *testing.T) {
	tm, err := NewTimer(true, "left", Config{FrequencyHz: 10000})
	require.NoError(t, err)
	require.Equal(t, uint32(100000), tm.MaxDuty())
	require.Equal(t, "left", tm.Name())
}
