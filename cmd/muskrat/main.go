package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/einoj/muskrat/internal/config"
	"github.com/einoj/muskrat/internal/debug"
	"github.com/einoj/muskrat/internal/hw/adc"
	"github.com/einoj/muskrat/internal/hw/gpio"
	"github.com/einoj/muskrat/internal/hw/pwm"
	"github.com/einoj/muskrat/internal/logic/gate"
	"github.com/einoj/muskrat/internal/logic/mode"
	"github.com/einoj/muskrat/internal/logic/motion"
	"github.com/einoj/muskrat/internal/logic/sensor"
	"github.com/einoj/muskrat/internal/telemetry"
	"github.com/einoj/muskrat/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start status web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	modeName := flag.String("mode", "", "override operating mode (telemetry, toggle, follow, calibrate)")
	leftSpeed := flag.Float64("left_speed", 0, "override left speed in percent of max duty (0-100); 0 keeps the config value, set 0 in the config to stop a side")
	rightSpeed := flag.Float64("right_speed", 0, "override right speed in percent of max duty (0-100); 0 keeps the config value, set 0 in the config to stop a side")
	mock := flag.Bool("mock", false, "use mock peripherals regardless of config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	overrides := cliOverrides{Mode: *modeName, LeftSpeedPercent: *leftSpeed, RightSpeedPercent: *rightSpeed, Mock: *mock}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides)

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Mode", cfg.Defaults.Mode)

	bot, err := newRobot(cfg)
	if err != nil {
		log.Fatalf("init hardware failed: %v", err)
	}

	var srv *web.Server
	reporterSinks := []telemetry.Sink{telemetry.LogSink{}}
	if port := webPort.port(); port > 0 {
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		reporterSinks = append(reporterSinks, web.FrameSink{B: broadcaster})

		handlers := web.NewHandlers(broadcaster, bot.slot, func() string { return bot.runner.State().String() }, configView(cfg), nil)
		srv, err = web.NewServer(fmt.Sprintf(":%d", port), handlers)
		if err != nil {
			if closeErr := shutdown(nil, bot); closeErr != nil {
				log.Printf("shutdown: %v", closeErr)
			}
			log.Fatalf("init web server failed: %v", err)
		}
	}
	if cfg.MQTT.Broker != "" {
		sink, err := telemetry.NewMQTTSink(cfg.MQTT)
		if err != nil {
			// Telemetry is diagnostic only; the robot runs without it.
			debug.Error(fmt.Errorf("mqtt telemetry disabled: %w", err))
		} else {
			reporterSinks = append(reporterSinks, sink)
		}
	}
	reporter := telemetry.NewReporter(bot.slot, cfg.TelemetryInterval(), nil, reporterSinks...)

	runErr := run(ctx, cfg.Defaults.Mode, bot.runner, reporter, srv)
	debug.Section("Shutdown")
	if err := shutdown(reporter, bot); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if runErr != nil {
		log.Fatalf("%s mode failed: %v", cfg.Defaults.Mode, runErr)
	}
}

// shutdown closes telemetry (disconnecting MQTT) and then the hardware.
// Both are attempted and both failures are returned.
func shutdown(reporter, hardware io.Closer) error {
	var err error
	if reporter != nil {
		if closeErr := reporter.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close telemetry: %w", closeErr))
		}
	}
	if closeErr := hardware.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("close hardware: %w", closeErr))
	}
	return err
}

// run executes the mode alongside the reporter and the optional web server.
// Cancellation of ctx is a normal exit.
func run(ctx context.Context, m config.Mode, runner *mode.Runner, reporter *telemetry.Reporter, srv *web.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx, m) })
	g.Go(func() error { return reporter.Run(gctx) })
	if srv != nil {
		g.Go(func() error { return srv.Run(gctx) })
	}
	err := g.Wait()
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	return err
}

// robot owns every peripheral for the lifetime of the process.
type robot struct {
	gpio   gpio.Driver
	adc    adc.Converter
	array  *sensor.Array
	drive  *motion.Drive
	slot   *sensor.Slot
	runner *mode.Runner

	closed bool
}

// newRobot brings up the peripherals in dependency order. The GPIO
// memory map must be open before the converter claims the SPI pins.
func newRobot(cfg *config.Config) (*robot, error) {
	r := &robot{slot: &sensor.Slot{}}
	if err := r.init(cfg); err != nil {
		if closeErr := r.Close(); closeErr != nil {
			debug.Error(closeErr)
		}
		return nil, err
	}
	return r, nil
}

func (r *robot) init(cfg *config.Config) (err error) {
	mockHW := cfg.Defaults.MockHardware

	debug.Step(1, "Initializing GPIO driver")
	debug.Value("Mock hardware", mockHW)
	if r.gpio, err = gpio.NewDriver(mockHW); err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}

	debug.Step(2, "Initializing analog converter")
	if r.adc, err = adc.NewConverter(mockHW, adc.Config{
		SPISpeedHz: cfg.ADC.SPISpeedHz,
		ChipSelect: cfg.ADC.ChipSelect,
		Channels:   config.ADCChannels,
	}); err != nil {
		return fmt.Errorf("init converter: %w", err)
	}
	debug.PrintStruct("Converter config", cfg.ADC)

	debug.Step(3, "Initializing sensor array")
	if r.array, err = sensor.NewArray(r.gpio, cfg.Emitters.Pins, r.adc, cfg.Detectors.Channels()); err != nil {
		return fmt.Errorf("init sensor array: %w", err)
	}
	debug.PrintStruct("Detector channels", cfg.Detectors)

	debug.Step(4, "Initializing motor timers")
	left, err := newSide(mockHW, "left", cfg.LeftMotor, cfg.Drive.FrequencyHz, cfg.Drive.LeftSpeedPercent)
	if err != nil {
		return err
	}
	right, err := newSide(mockHW, "right", cfg.RightMotor, cfg.Drive.FrequencyHz, cfg.Drive.RightSpeedPercent)
	if err != nil {
		return multierr.Append(err, left.Timer.Close())
	}
	if r.drive, err = motion.NewDrive(left, right); err != nil {
		return multierr.Combine(fmt.Errorf("init drive: %w", err), left.Timer.Close(), right.Timer.Close())
	}
	ls, rs := r.drive.Speeds()
	debug.Info("Speeds: left=%d/%d right=%d/%d", ls, left.Timer.MaxDuty(), rs, right.Timer.MaxDuty())

	debug.Step(5, "Arming start/stop button")
	g, err := gate.New(r.gpio, cfg.Button.Pin, gate.WithPoll(cfg.ButtonPoll()))
	if err != nil {
		return fmt.Errorf("init gate: %w", err)
	}

	r.runner = &mode.Runner{
		Sampler: r.array,
		Strobe:  sensor.NewStrobe(r.array, r.slot, cfg.StrobeOn(), cfg.StrobeOff(), nil),
		Drive:   r.drive,
		Gate:    g,
		Slot:    r.slot,
		Timing: mode.Timing{
			Toggle:    cfg.ToggleDuration(),
			Calibrate: cfg.CalibrateDuration(),
			Interval:  cfg.TelemetryInterval(),
		},
	}
	return nil
}

// newSide opens one motor timer. The speed is converted against the
// max duty the timer reports once it is running.
func newSide(mockHW bool, name string, m config.MotorConfig, freqHz int, speedPercent float64) (motion.Side, error) {
	t, err := pwm.NewTimer(mockHW, name, pwm.Config{
		Chip:        m.Chip,
		Channels:    []pwm.Channel{pwm.Channel(m.ForwardChannel), pwm.Channel(m.ReverseChannel)},
		FrequencyHz: freqHz,
	})
	if err != nil {
		return motion.Side{}, fmt.Errorf("init %s timer: %w", name, err)
	}
	debug.Value(name+" max duty", t.MaxDuty())
	return motion.Side{
		Timer:   t,
		Forward: pwm.Channel(m.ForwardChannel),
		Reverse: pwm.Channel(m.ReverseChannel),
		Speed:   config.SpeedDuty(speedPercent, t.MaxDuty()),
	}, nil
}

// Close stops the motors and releases the peripherals. It is safe to call twice.
func (r *robot) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	if r.drive != nil {
		err = multierr.Append(err, r.drive.Close())
	}
	if r.array != nil {
		err = multierr.Append(err, r.array.Emitters(false))
	}
	if r.adc != nil {
		err = multierr.Append(err, r.adc.Close())
	}
	if r.gpio != nil {
		err = multierr.Append(err, r.gpio.Close())
	}
	return err
}

func configView(cfg *config.Config) web.ConfigView {
	return web.ConfigView{
		Mode:       string(cfg.Defaults.Mode),
		Emitters:   cfg.Emitters.Pins,
		ButtonPin:  cfg.Button.Pin,
		Detectors:  cfg.Detectors.Channels(),
		LeftChip:   cfg.LeftMotor.Chip,
		RightChip:  cfg.RightMotor.Chip,
		FreqHz:     cfg.Drive.FrequencyHz,
		LeftSpeed:  cfg.Drive.LeftSpeedPercent,
		RightSpeed: cfg.Drive.RightSpeedPercent,
	}
}

// cliOverrides holds command line values that replace config values.
// Zero values mean "use config".
type cliOverrides struct {
	Mode              string
	LeftSpeedPercent  float64
	RightSpeedPercent float64
	Mock              bool
}

// validateCLIOverrides checks that non-zero overrides are within valid ranges.
func validateCLIOverrides(o cliOverrides) error {
	if o.Mode != "" {
		if _, err := config.ParseMode(o.Mode); err != nil {
			return err
		}
	}
	for name, v := range map[string]float64{"left_speed": o.LeftSpeedPercent, "right_speed": o.RightSpeedPercent} {
		if v == 0 {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %g", name, v)
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero values are applied.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.Mode != "" {
		cfg.Defaults.Mode = config.Mode(o.Mode)
	}
	if o.LeftSpeedPercent > 0 {
		cfg.Drive.LeftSpeedPercent = o.LeftSpeedPercent
	}
	if o.RightSpeedPercent > 0 {
		cfg.Drive.RightSpeedPercent = o.RightSpeedPercent
	}
	if o.Mock {
		cfg.Defaults.MockHardware = true
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
