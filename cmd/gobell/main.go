package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cjeanneret/GoBell/internal/config"
	"github.com/cjeanneret/GoBell/internal/debug"
	"github.com/cjeanneret/GoBell/internal/hw/button"
	"github.com/cjeanneret/GoBell/internal/hw/camera"
	"github.com/cjeanneret/GoBell/internal/hw/gpio"
	"github.com/cjeanneret/GoBell/internal/logic/doorbell"
	"github.com/cjeanneret/GoBell/internal/logic/schedule"
	"github.com/cjeanneret/GoBell/internal/upload"
	"github.com/cjeanneret/GoBell/internal/web"
)

// Bounds for the -hold_ms override.
const (
	minHoldMs = 100
	maxHoldMs = 10 * 60 * 1000
)

// scheduleOff disables a configured schedule from the command line.
const scheduleOff = "off"

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	holdMs := flag.Int("hold_ms", 0, "override preview hold time in ms (100-600000)")
	sched := flag.String("schedule", "", `override periodic capture cron spec ("off" disables)`)
	flag.Parse()

	if err := validateCLIOverrides(*holdMs, *sched); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}

	// Secrets from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	applyOverrides(cfg, *holdMs, *sched)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize debug system
	var broadcaster *web.StatusBroadcaster
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	if debug.IsEnabled(debug.LevelVerbose) {
		// Upload sections are skipped: they carry credentials.
		debug.PrintStruct("GPIO", cfg.GPIO)
		debug.PrintStruct("Camera", cfg.Camera)
		debug.PrintStruct("Doorbell", cfg.Doorbell)
	}

	if err := run(ctx, cfg, webPort.port(), broadcaster); err != nil {
		log.Fatalf("gobell: %v", err)
	}
}

// run wires the doorbell and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, port int, broadcaster *web.StatusBroadcaster) error {
	// GPIO: failures disable the button and LED but never stop the doorbell.
	debug.Step(1, "Initializing GPIO driver")
	debug.Value("GPIO driver", cfg.GPIO.Driver)
	gpioDriver, err := gpio.NewDriver(cfg.GPIO.Driver)
	if err != nil {
		debug.Errorf("gpio", err)
		log.Printf("GPIO unavailable, doorbell button and LED disabled: %v", err)
		gpioDriver = nil
	}
	if gpioDriver != nil {
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
	}

	led, ledPort := newLED(gpioDriver, cfg.GPIO.LEDPin)
	if ledPort != nil {
		defer ledPort.Close()
	}

	debug.Step(2, "Initializing camera")
	cam, err := newCameraFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init camera failed: %w", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	svc := camera.NewService(cam, cfg.CaptureTimeout())
	defer svc.Close()

	debug.Step(3, "Initializing upload sink")
	sink, err := newSinkFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init upload sink failed: %w", err)
	}
	defer sink.Close()
	debug.Value("Upload sink", cfg.Upload.Sink)
	debug.Value("Upload path", cfg.Upload.Path)

	worker := upload.NewWorker(sink, upload.WorkerConfig{
		Path:           cfg.Upload.Path,
		QueueSize:      cfg.Upload.QueueSize,
		MaxAttempts:    cfg.Upload.Retry.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff(),
		MaxBackoff:     cfg.MaxBackoff(),
		Timeout:        cfg.UploadTimeout(),
	})

	debug.Step(4, "Starting doorbell pipeline")
	preview := web.NewPreview(broadcaster, web.StaticFS())
	pipeline := doorbell.NewPipeline(led, svc, worker, preview, doorbell.RealScheduler{}, doorbell.Config{
		PreviewHold: cfg.PreviewHold(),
	})
	debug.Value("Preview hold", cfg.PreviewHold())
	if broadcaster != nil {
		pipeline.OnTransition(func(_, to doorbell.State) {
			broadcaster.Publish(web.KindState, "live", to.String())
		})
		worker.OnResult(func(r upload.Result) {
			if r.Err != nil {
				broadcaster.Publish(web.KindUpload, "error", r.Err.Error())
				return
			}
			broadcaster.Publish(web.KindUpload, "info", r.Key)
		})
	}

	runCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); svc.Run(runCtx) }()
	go func() { defer wg.Done(); worker.Run(runCtx) }()
	go func() { defer wg.Done(); pipeline.Run(runCtx) }()
	defer func() {
		stop()
		wg.Wait()
	}()

	debug.Step(5, "Registering triggers")
	btn := startButton(gpioDriver, cfg, pipeline)
	if btn != nil {
		defer btn.Stop()
	}

	if cfg.Doorbell.Schedule != "" {
		periodic, err := schedule.NewPeriodic(cfg.Doorbell.Schedule, func() bool {
			return pipeline.Trigger(doorbell.SourceSchedule)
		})
		if err != nil {
			return err
		}
		periodic.Start()
		defer periodic.Stop()
	}

	debug.Summary("GoBell ready")

	if port > 0 {
		deps := web.Deps{
			Broadcaster:   broadcaster,
			Doorbell:      pipeline,
			Preview:       preview,
			LogPath:       cfg.Upload.Path,
			Uploads:       worker.Stats,
			ButtonEnabled: btn.Enabled,
			PressButton:   simulatedButton(gpioDriver, btn, cfg.GPIO.ButtonPin),
		}
		if l, ok := sink.(upload.Lister); ok {
			deps.Logs = l
		}
		srv := web.NewServer(fmt.Sprintf(":%d", port), deps)
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

// newLED opens the status LED as an output. It returns a nil Indicator when
// the LED is not wired or cannot be opened.
func newLED(d gpio.Driver, pin int) (doorbell.Indicator, *gpio.Port) {
	if d == nil || pin == config.PinDisabled {
		debug.Info("Status LED disabled")
		return nil, nil
	}
	port, err := gpio.Open(d, pin)
	if err == nil {
		err = port.SetDirection(gpio.Output)
	}
	if err != nil {
		debug.Errorf("led", err)
		log.Printf("status LED disabled: %v", err)
		return nil, nil
	}
	debug.Value("LED pin", pin)
	return port, port
}

// startButton registers the hardware doorbell button. On failure the button
// is disabled and the manual trigger remains available. The returned
// watcher may be nil.
func startButton(d gpio.Driver, cfg *config.Config, p *doorbell.Pipeline) *button.Watcher {
	if d == nil || cfg.GPIO.ButtonPin == config.PinDisabled {
		debug.Info("Doorbell button disabled")
		return nil
	}
	w := button.NewWatcher(d, cfg.GPIO.ButtonPin, cfg.DebounceInterval())
	if err := w.Start(func() { p.Trigger(doorbell.SourceButton) }); err != nil {
		debug.Errorf("button", err)
		log.Printf("doorbell button disabled, manual trigger still available: %v", err)
		return w
	}
	debug.Value("Button pin", cfg.GPIO.ButtonPin)
	return w
}

// simulatedButton returns a press injector for the web UI when the button
// is watched on the mock driver, nil otherwise.
func simulatedButton(d gpio.Driver, btn *button.Watcher, pin int) func() int {
	md, ok := d.(*gpio.MockDriver)
	if !ok || !btn.Enabled() {
		return nil
	}
	return func() int { return md.SimulateEdge(pin, gpio.FallingEdge) }
}

// validateCLIOverrides checks non-zero CLI overrides.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(holdMs int, sched string) error {
	if holdMs != 0 && (holdMs < minHoldMs || holdMs > maxHoldMs) {
		return fmt.Errorf("hold_ms must be between %d and %d, got %d", minHoldMs, maxHoldMs, holdMs)
	}
	if sched != "" && sched != scheduleOff {
		if err := schedule.Validate(sched); err != nil {
			return err
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, holdMs int, sched string) {
	if holdMs > 0 {
		cfg.Doorbell.PreviewHoldMs = holdMs
	}
	switch sched {
	case "":
	case scheduleOff:
		cfg.Doorbell.Schedule = ""
	default:
		cfg.Doorbell.Schedule = sched
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

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(cfg *config.Config) (camera.Camera, error) {
	switch cfg.Camera.Type {
	case camera.TypeMock:
		return camera.NewMock(cfg.Camera.Width, cfg.Camera.Height, cfg.MockDelay()), nil
	case camera.TypeGoCV:
		return camera.NewGoCV(
			cfg.Camera.Device,
			cfg.Camera.Width,
			cfg.Camera.Height,
			cfg.Camera.JPEGQuality,
			cfg.Camera.WarmupFrames,
		), nil
	case camera.TypeFFmpeg:
		return camera.NewFFmpeg(cfg.Camera.DevicePath, cfg.Camera.Width, cfg.Camera.Height), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

// newSinkFromConfig connects the configured log sink.
func newSinkFromConfig(ctx context.Context, cfg *config.Config) (upload.Sink, error) {
	u := cfg.Upload
	switch u.Sink {
	case upload.SinkMemory:
		return upload.NewMemorySink(u.Memory.MaxEntries), nil
	case upload.SinkRedis:
		return upload.NewRedisSink(ctx, upload.RedisConfig{
			Addr:     u.Redis.Addr,
			Password: u.Redis.Password,
			DB:       u.Redis.DB,
			Prefix:   u.Redis.Prefix,
			MaxLen:   u.Redis.MaxLen,
		})
	case upload.SinkMQTT:
		return upload.NewMQTTSink(upload.MQTTConfig{
			Broker:      u.MQTT.Broker,
			ClientID:    u.MQTT.ClientID,
			Username:    u.MQTT.Username,
			Password:    u.MQTT.Password,
			TopicPrefix: u.MQTT.TopicPrefix,
			QoS:         byte(u.MQTT.QoS),
		})
	case upload.SinkKafka:
		return upload.NewKafkaSink(upload.KafkaConfig{
			Brokers:     u.Kafka.Brokers,
			TopicPrefix: u.Kafka.TopicPrefix,
			ClientID:    u.Kafka.ClientID,
			Timeout:     cfg.UploadTimeout(),
		})
	case upload.SinkS3:
		return upload.NewS3Sink(ctx, upload.S3Config{
			Bucket:       u.S3.Bucket,
			Prefix:       u.S3.Prefix,
			Region:       u.S3.Region,
			Profile:      u.S3.Profile,
			Endpoint:     u.S3.Endpoint,
			UsePathStyle: u.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported upload sink: %s", u.Sink)
	}
}
