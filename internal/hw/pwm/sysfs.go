package pwm

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/einoj/muskrat/internal/debug"
)

// DefaultSysfsRoot is where the kernel exposes PWM chips.
const DefaultSysfsRoot = "/sys/class/pwm"

// SysfsTimer is a Linux PWM chip driven through sysfs. Each channel is a
// pwmN line of the chip; all channels share the period set at init, and
// duty is written in nanoseconds of active time, so the max duty equals
// the period the kernel reports back.
type SysfsTimer struct {
	name     string
	chipPath string
	channels []Channel
	max      uint32

	mu sync.Mutex
}

// NewSysfsTimer exports the channels, sets the carrier period with zero
// duty and enables the outputs.
func NewSysfsTimer(root, name string, cfg Config) (*SysfsTimer, error) {
	if cfg.Chip == "" {
		return nil, fmt.Errorf("pwm %s: chip is required", name)
	}
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("pwm %s: no channels", name)
	}
	period := periodNs(cfg.FrequencyHz)
	if period == 0 {
		return nil, fmt.Errorf("pwm %s: invalid frequency %d Hz", name, cfg.FrequencyHz)
	}

	t := &SysfsTimer{
		name:     name,
		chipPath: filepath.Join(root, cfg.Chip),
		channels: cfg.Channels,
	}
	if _, err := os.Stat(t.chipPath); err != nil {
		return nil, fmt.Errorf("pwm %s: %w", name, err)
	}

	for _, ch := range cfg.Channels {
		if err := t.export(ch); err != nil {
			return nil, multierr.Append(err, t.Close())
		}
		// duty_cycle may never exceed period, so clear it before changing the period.
		if err := writeValue(t.lineFile(ch, "duty_cycle"), 0); err != nil {
			return nil, multierr.Append(fmt.Errorf("pwm %s ch%d: clear duty: %w", name, ch, err), t.Close())
		}
		if err := writeValue(t.lineFile(ch, "period"), uint64(period)); err != nil {
			return nil, multierr.Append(fmt.Errorf("pwm %s ch%d: set period: %w", name, ch, err), t.Close())
		}
		if err := writeValue(t.lineFile(ch, "enable"), 1); err != nil {
			return nil, multierr.Append(fmt.Errorf("pwm %s ch%d: enable: %w", name, ch, err), t.Close())
		}
	}

	// The kernel may round the period; the value read back is authoritative.
	reported, err := readValue(t.lineFile(cfg.Channels[0], "period"))
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("pwm %s: read period: %w", name, err), t.Close())
	}
	t.max = uint32(reported)

	debug.Info("PWM %s on %s: %d Hz, max duty %d", name, cfg.Chip, cfg.FrequencyHz, t.max)
	return t, nil
}

func (t *SysfsTimer) export(ch Channel) error {
	if _, err := os.Stat(t.linePath(ch)); err == nil {
		return nil // already exported
	}
	if err := writeValue(filepath.Join(t.chipPath, "export"), uint64(ch)); err != nil {
		return fmt.Errorf("pwm %s: export ch%d: %w", t.name, ch, err)
	}
	return nil
}

func (t *SysfsTimer) linePath(ch Channel) string {
	return filepath.Join(t.chipPath, fmt.Sprintf("pwm%d", ch))
}

func (t *SysfsTimer) lineFile(ch Channel, file string) string {
	return filepath.Join(t.linePath(ch), file)
}

func (t *SysfsTimer) Name() string    { return t.name }
func (t *SysfsTimer) MaxDuty() uint32 { return t.max }

func (t *SysfsTimer) SetDuty(ch Channel, duty uint32) error {
	if duty > t.max {
		return fmt.Errorf("pwm %s: duty %d exceeds max %d", t.name, duty, t.max)
	}
	debug.PWM(t.name, int(ch), duty)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := writeValue(t.lineFile(ch, "duty_cycle"), uint64(duty)); err != nil {
		return fmt.Errorf("pwm %s ch%d: set duty: %w", t.name, ch, err)
	}
	return nil
}

// Close zeroes, disables and unexports every channel.
func (t *SysfsTimer) Close() error {
	debug.Trace("PWM %s Close (sysfs)", t.name)
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	for _, ch := range t.channels {
		if _, statErr := os.Stat(t.linePath(ch)); statErr != nil {
			continue
		}
		err = multierr.Combine(err,
			writeValue(t.lineFile(ch, "duty_cycle"), 0),
			writeValue(t.lineFile(ch, "enable"), 0),
			writeValue(filepath.Join(t.chipPath, "unexport"), uint64(ch)),
		)
	}
	return err
}

func writeValue(path string, value uint64) error {
	// The file always exists in sysfs; the mode only matters if it does not.
	return os.WriteFile(path, []byte(strconv.FormatUint(value, 10)), 0o660)
}

func readValue(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}
