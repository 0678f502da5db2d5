package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EmitterCount and the detector channel count are fixed by the sensor board.
const (
	EmitterCount  = 6
	DetectorCount = 7
	ADCChannels   = 8 // MCP3008
	MaxBCMPin     = 27
)

// SPI0Pins are switched to SPI function by the converter (CE1, CE0, MISO, MOSI, SCLK).
var SPI0Pins = []int{7, 8, 9, 10, 11}

// Mode selects one operating mode. Modes are mutually exclusive.
type Mode string

const (
	ModeTelemetry Mode = "telemetry" // strobe emitters and dump readings, motors idle
	ModeToggle    Mode = "toggle"    // button toggles a fixed forward/reverse demo
	ModeFollow    Mode = "follow"    // button starts closed-loop line following
	ModeCalibrate Mode = "calibrate" // button starts an open-loop forward run with sampling
)

// Modes lists every valid mode in a stable order.
var Modes = []Mode{ModeTelemetry, ModeToggle, ModeFollow, ModeCalibrate}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q (want one of telemetry, toggle, follow, calibrate)", s)
}

// EmitterConfig lists the IR emitter enable lines (BCM numbering).
type EmitterConfig struct {
	Pins []int `yaml:"pins"`
}

// ButtonConfig describes the start/stop button input.
type ButtonConfig struct {
	Pin    int `yaml:"pin"`     // BCM pin, rising-edge sensitive
	PollMs int `yaml:"poll_ms"` // edge latch polling interval
}

// ADCConfig describes the SPI analog converter (MCP3008).
type ADCConfig struct {
	SPISpeedHz int `yaml:"spi_speed_hz"`
	ChipSelect int `yaml:"chip_select"` // CE0 or CE1
}

// DetectorConfig maps each photodiode to its converter channel.
type DetectorConfig struct {
	Front    int `yaml:"front"`
	FarLeft  int `yaml:"far_left"` // telemetry only
	Left1    int `yaml:"left1"`
	Left2    int `yaml:"left2"`
	FarRight int `yaml:"far_right"` // telemetry only
	Right1   int `yaml:"right1"`
	Right2   int `yaml:"right2"`
}

// Channels returns the converter channels in conversion order:
// front, far-left, left1, left2, far-right, right1, right2.
func (d DetectorConfig) Channels() [DetectorCount]int {
	return [DetectorCount]int{d.Front, d.FarLeft, d.Left1, d.Left2, d.FarRight, d.Right1, d.Right2}
}

// MotorConfig describes one drive side: a sysfs PWM chip with two channels.
type MotorConfig struct {
	Chip           string `yaml:"chip"`            // e.g. "pwmchip0"
	ForwardChannel int    `yaml:"forward_channel"` // sysfs pwmN index driving the side forward
	ReverseChannel int    `yaml:"reverse_channel"` // sysfs pwmN index driving the side in reverse
}

// DriveConfig holds carrier frequency and commanded speeds.
type DriveConfig struct {
	FrequencyHz       int     `yaml:"frequency_hz"`
	LeftSpeedPercent  float64 `yaml:"left_speed_percent"`  // of the left timer's max duty
	RightSpeedPercent float64 `yaml:"right_speed_percent"` // of the right timer's max duty
}

// TelemetryConfig holds diagnostic output timing.
type TelemetryConfig struct {
	IntervalMs  int `yaml:"interval_ms"`   // reporter period (5-10 Hz)
	StrobeOnMs  int `yaml:"strobe_on_ms"`  // emitter on window in telemetry mode
	StrobeOffMs int `yaml:"strobe_off_ms"` // emitter off window in telemetry mode
}

// MQTTConfig is optional. An empty broker disables the MQTT sink.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. "tcp://localhost:1883"
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	Mode                Mode `yaml:"mode"`
	DebugLevel          int  `yaml:"debug_level"`           // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockHardware        bool `yaml:"mock_hardware"`         // use mock peripherals (true=dev/test, false=real board)
	ToggleDurationMs    int  `yaml:"toggle_duration_ms"`    // each phase of the toggle demo
	CalibrateDurationMs int  `yaml:"calibrate_duration_ms"` // open-loop run length
}

// Config aggregates all application configuration.
type Config struct {
	Emitters   EmitterConfig   `yaml:"emitters"`
	Button     ButtonConfig    `yaml:"button"`
	ADC        ADCConfig       `yaml:"adc"`
	Detectors  DetectorConfig  `yaml:"detectors"`
	LeftMotor  MotorConfig     `yaml:"left_motor"`
	RightMotor MotorConfig     `yaml:"right_motor"`
	Drive      DriveConfig     `yaml:"drive"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	MQTT       MQTTConfig      `yaml:"mqtt"`
	Defaults   DefaultsConfig  `yaml:"defaults"`
}

// ValidateConfigPath rejects config paths outside a configs/ directory or without a .yaml extension.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return fmt.Errorf("config path must not traverse directories: %s", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must be in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	// Speeds are seeded before decoding so an explicit 0 survives and only
	// absent keys run at full duty.
	cfg := Config{Drive: DriveConfig{LeftSpeedPercent: 100, RightSpeedPercent: 100}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Defaults.Mode == "" {
		c.Defaults.Mode = ModeFollow
	}
	if c.Button.PollMs <= 0 {
		c.Button.PollMs = 5
	}
	if c.ADC.SPISpeedHz <= 0 {
		c.ADC.SPISpeedHz = 1_000_000
	}
	if c.Drive.FrequencyHz <= 0 {
		c.Drive.FrequencyHz = 10_000 // 10 kHz carrier
	}
	if c.Telemetry.IntervalMs <= 0 {
		c.Telemetry.IntervalMs = 200 // 5 Hz
	}
	if c.Telemetry.StrobeOnMs <= 0 {
		c.Telemetry.StrobeOnMs = 100
	}
	if c.Telemetry.StrobeOffMs <= 0 {
		c.Telemetry.StrobeOffMs = 100
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "muskrat"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "muskrat"
	}
	if c.Defaults.ToggleDurationMs <= 0 {
		c.Defaults.ToggleDurationMs = 500
	}
	if c.Defaults.CalibrateDurationMs <= 0 {
		c.Defaults.CalibrateDurationMs = 2000
	}
}

// Validate checks pin maps and ranges. It is called by Load after defaults are applied.
func (c *Config) Validate() error {
	if _, err := ParseMode(string(c.Defaults.Mode)); err != nil {
		return err
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}

	if len(c.Emitters.Pins) != EmitterCount {
		return fmt.Errorf("emitters.pins must list %d pins, got %d", EmitterCount, len(c.Emitters.Pins))
	}
	used := map[int]string{}
	if !c.Defaults.MockHardware {
		for _, pin := range SPI0Pins {
			used[pin] = "spi0"
		}
	}
	claim := func(pin int, name string) error {
		if pin < 0 || pin > MaxBCMPin {
			return fmt.Errorf("%s must be a BCM pin between 0 and %d, got %d", name, MaxBCMPin, pin)
		}
		if other, ok := used[pin]; ok {
			return fmt.Errorf("%s: pin %d already used by %s", name, pin, other)
		}
		used[pin] = name
		return nil
	}
	for i, pin := range c.Emitters.Pins {
		if err := claim(pin, fmt.Sprintf("emitters.pins[%d]", i)); err != nil {
			return err
		}
	}
	if err := claim(c.Button.Pin, "button.pin"); err != nil {
		return err
	}

	if c.ADC.ChipSelect != 0 && c.ADC.ChipSelect != 1 {
		return fmt.Errorf("adc.chip_select must be 0 or 1, got %d", c.ADC.ChipSelect)
	}
	seen := map[int]bool{}
	for _, ch := range c.Detectors.Channels() {
		if ch < 0 || ch >= ADCChannels {
			return fmt.Errorf("detector channel must be between 0 and %d, got %d", ADCChannels-1, ch)
		}
		if seen[ch] {
			return fmt.Errorf("detector channel %d assigned twice", ch)
		}
		seen[ch] = true
	}

	for name, m := range map[string]MotorConfig{"left_motor": c.LeftMotor, "right_motor": c.RightMotor} {
		if !c.Defaults.MockHardware && m.Chip == "" {
			return fmt.Errorf("%s.chip is required", name)
		}
		if m.ForwardChannel < 0 || m.ReverseChannel < 0 {
			return fmt.Errorf("%s channels must be >= 0", name)
		}
		if m.ForwardChannel == m.ReverseChannel {
			return fmt.Errorf("%s forward and reverse channel must differ, both %d", name, m.ForwardChannel)
		}
	}
	if !c.Defaults.MockHardware && c.LeftMotor.Chip == c.RightMotor.Chip {
		return fmt.Errorf("left_motor and right_motor must use different PWM chips, both %s", c.LeftMotor.Chip)
	}

	if c.Drive.LeftSpeedPercent < 0 || c.Drive.LeftSpeedPercent > 100 {
		return fmt.Errorf("left_speed_percent must be between 0 and 100, got %.2f", c.Drive.LeftSpeedPercent)
	}
	if c.Drive.RightSpeedPercent < 0 || c.Drive.RightSpeedPercent > 100 {
		return fmt.Errorf("right_speed_percent must be between 0 and 100, got %.2f", c.Drive.RightSpeedPercent)
	}
	return nil
}

// ButtonPoll returns the edge latch polling interval.
func (c *Config) ButtonPoll() time.Duration {
	return time.Duration(c.Button.PollMs) * time.Millisecond
}

// TelemetryInterval returns the reporter period.
func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.IntervalMs) * time.Millisecond
}

// StrobeOn returns the emitter on window of the telemetry mode.
func (c *Config) StrobeOn() time.Duration {
	return time.Duration(c.Telemetry.StrobeOnMs) * time.Millisecond
}

// StrobeOff returns the emitter off window of the telemetry mode.
func (c *Config) StrobeOff() time.Duration {
	return time.Duration(c.Telemetry.StrobeOffMs) * time.Millisecond
}

// ToggleDuration returns the length of each toggle demo phase.
func (c *Config) ToggleDuration() time.Duration {
	return time.Duration(c.Defaults.ToggleDurationMs) * time.Millisecond
}

// CalibrateDuration returns the length of an open-loop calibration run.
func (c *Config) CalibrateDuration() time.Duration {
	return time.Duration(c.Defaults.CalibrateDurationMs) * time.Millisecond
}

// SpeedDuty converts a speed percentage into a duty value for a timer with the given maximum.
func SpeedDuty(percent float64, maxDuty uint32) uint32 {
	if percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return maxDuty
	}
	return uint32(float64(maxDuty) * percent / 100.0)
}
