package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 1 << 20

// PinDisabled marks a GPIO line as not wired.
const PinDisabled = -1

// GPIOConfig selects the GPIO backend and the doorbell wiring.
// Pins are Linux GPIO numbers (BCM on Raspberry Pi). 0 means "use the board default".
type GPIOConfig struct {
	Driver     string `yaml:"driver"`      // "mock", "rpio" or "periph"
	Board      string `yaml:"board"`       // "rpi3", "imx6ul_pico", "imx7d_pico"
	ButtonPin  int    `yaml:"button_pin"`  // -1 = no button
	LEDPin     int    `yaml:"led_pin"`     // -1 = no LED
	DebounceMs int    `yaml:"debounce_ms"` // software debounce on top of edge detection, 0 = off
}

// CameraConfig describes the capture device.
type CameraConfig struct {
	Type         string `yaml:"type"`          // "mock", "gocv" or "ffmpeg"
	Device       int    `yaml:"device"`        // gocv device index
	DevicePath   string `yaml:"device_path"`   // ffmpeg V4L2 device, e.g. /dev/video0
	Width        int    `yaml:"width"`         // frame width in px
	Height       int    `yaml:"height"`        // frame height in px
	JPEGQuality  int    `yaml:"jpeg_quality"`  // 1-100
	WarmupFrames int    `yaml:"warmup_frames"` // frames discarded after opening (auto exposure)
	TimeoutMs    int    `yaml:"timeout_ms"`    // per-capture timeout
	MockDelayMs  int    `yaml:"mock_delay_ms"` // simulated exposure for the mock camera
}

// RetryConfig bounds upload retries.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts"` // 1 = no retry
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"` // prefer GOBELL_REDIS_PASSWORD
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	MaxLen   int64  `yaml:"max_len"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"` // host:port
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	TopicPrefix string   `yaml:"topic_prefix"`
	ClientID    string   `yaml:"client_id"`
}

type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Profile      string `yaml:"profile"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type MemoryConfig struct {
	MaxEntries int `yaml:"max_entries"` // 0 = unbounded
}

// UploadConfig selects the log sink and the upload worker tuning.
type UploadConfig struct {
	Sink      string       `yaml:"sink"` // "memory", "redis", "mqtt", "kafka", "s3"
	Path      string       `yaml:"path"` // log name, default "logs"
	QueueSize int          `yaml:"queue_size"`
	TimeoutMs int          `yaml:"timeout_ms"` // per attempt
	Retry     RetryConfig  `yaml:"retry"`
	Memory    MemoryConfig `yaml:"memory"`
	Redis     RedisConfig  `yaml:"redis"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
	Kafka     KafkaConfig  `yaml:"kafka"`
	S3        S3Config     `yaml:"s3"`
}

// DoorbellConfig holds pipeline behaviour.
type DoorbellConfig struct {
	PreviewHoldMs int    `yaml:"preview_hold_ms"` // how long the snapshot stays on screen
	Schedule      string `yaml:"schedule"`        // optional cron spec for periodic captures
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	GPIO     GPIOConfig     `yaml:"gpio"`
	Camera   CameraConfig   `yaml:"camera"`
	Upload   UploadConfig   `yaml:"upload"`
	Doorbell DoorbellConfig `yaml:"doorbell"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// boardPins holds default button and LED lines per board.
// On rpi3 and imx6ul_pico the historical wiring put both on one line;
// the LED moves to BCM5 on rpi3 and must be set explicitly on imx6ul_pico.
var boardPins = map[string]struct{ button, led int }{
	"rpi3":        {button: 6, led: 5},
	"imx6ul_pico": {button: 118, led: PinDisabled}, // GPIO4_IO22
	"imx7d_pico":  {button: 37, led: 174},          // GPIO2_IO05, GPIO6_IO14
}

// Load reads a YAML file, applies defaults and environment secrets, and
// returns the validated configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.GPIO.Driver == "" {
		c.GPIO.Driver = "mock"
	}
	if c.GPIO.ButtonPin == 0 || c.GPIO.LEDPin == 0 {
		pins, ok := boardPins[c.GPIO.Board]
		if !ok {
			return fmt.Errorf("gpio.board %q unknown: set gpio.button_pin and gpio.led_pin", c.GPIO.Board)
		}
		if c.GPIO.ButtonPin == 0 {
			c.GPIO.ButtonPin = pins.button
		}
		if c.GPIO.LEDPin == 0 {
			c.GPIO.LEDPin = pins.led
		}
	}

	if c.Camera.Type == "" {
		c.Camera.Type = "mock"
	}
	if c.Camera.Width <= 0 {
		c.Camera.Width = 640 // reasonable default
	}
	if c.Camera.Height <= 0 {
		c.Camera.Height = 480
	}
	if c.Camera.JPEGQuality == 0 {
		c.Camera.JPEGQuality = 85
	}
	if c.Camera.DevicePath == "" {
		c.Camera.DevicePath = "/dev/video0"
	}
	if c.Camera.TimeoutMs <= 0 {
		c.Camera.TimeoutMs = 10000
	}

	if c.Upload.Sink == "" {
		c.Upload.Sink = "memory"
	}
	if c.Upload.Path == "" {
		c.Upload.Path = "logs"
	}
	if c.Upload.QueueSize <= 0 {
		c.Upload.QueueSize = 4
	}
	if c.Upload.TimeoutMs <= 0 {
		c.Upload.TimeoutMs = 10000
	}
	if c.Upload.Retry.MaxAttempts <= 0 {
		c.Upload.Retry.MaxAttempts = 3
	}
	if c.Upload.Retry.InitialBackoffMs <= 0 {
		c.Upload.Retry.InitialBackoffMs = 500
	}
	if c.Upload.Retry.MaxBackoffMs <= 0 {
		c.Upload.Retry.MaxBackoffMs = 5000
	}
	if c.Upload.Memory.MaxEntries == 0 {
		c.Upload.Memory.MaxEntries = 100
	}
	if c.Upload.MQTT.ClientID == "" {
		c.Upload.MQTT.ClientID = "gobell"
	}
	if c.Upload.Kafka.ClientID == "" {
		c.Upload.Kafka.ClientID = "gobell"
	}

	if c.Doorbell.PreviewHoldMs <= 0 {
		c.Doorbell.PreviewHoldMs = 5000
	}
	return nil
}

// Validate checks ranges and required per-backend fields.
func (c *Config) Validate() error {
	switch c.GPIO.Driver {
	case "mock", "rpio", "periph":
	default:
		return fmt.Errorf("gpio.driver must be mock, rpio or periph, got %q", c.GPIO.Driver)
	}
	if c.GPIO.ButtonPin < PinDisabled || c.GPIO.LEDPin < PinDisabled {
		return fmt.Errorf("gpio pins must be >= -1")
	}
	if c.GPIO.ButtonPin != PinDisabled && c.GPIO.ButtonPin == c.GPIO.LEDPin {
		return fmt.Errorf("gpio.button_pin and gpio.led_pin must differ, both are %d", c.GPIO.ButtonPin)
	}
	if c.GPIO.DebounceMs < 0 {
		return fmt.Errorf("gpio.debounce_ms must be >= 0, got %d", c.GPIO.DebounceMs)
	}

	switch c.Camera.Type {
	case "mock", "gocv", "ffmpeg":
	default:
		return fmt.Errorf("unsupported camera type: %s", c.Camera.Type)
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		return fmt.Errorf("camera.jpeg_quality must be between 1 and 100, got %d", c.Camera.JPEGQuality)
	}

	switch c.Upload.Sink {
	case "memory":
	case "redis":
		if c.Upload.Redis.Addr == "" {
			return errors.New("upload.redis.addr is required")
		}
	case "mqtt":
		if c.Upload.MQTT.Broker == "" {
			return errors.New("upload.mqtt.broker is required")
		}
		if c.Upload.MQTT.QoS < 0 || c.Upload.MQTT.QoS > 2 {
			return fmt.Errorf("upload.mqtt.qos must be 0, 1 or 2, got %d", c.Upload.MQTT.QoS)
		}
	case "kafka":
		if len(c.Upload.Kafka.Brokers) == 0 {
			return errors.New("upload.kafka.brokers is required")
		}
	case "s3":
		if c.Upload.S3.Bucket == "" {
			return errors.New("upload.s3.bucket is required (or GOBELL_S3_BUCKET)")
		}
	default:
		return fmt.Errorf("unsupported upload sink: %s", c.Upload.Sink)
	}
	if c.Upload.Retry.MaxBackoffMs < c.Upload.Retry.InitialBackoffMs {
		return fmt.Errorf("upload.retry.max_backoff_ms (%d) must be >= initial_backoff_ms (%d)",
			c.Upload.Retry.MaxBackoffMs, c.Upload.Retry.InitialBackoffMs)
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// ApplyEnv overlays secrets from the environment. Empty variables are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Upload.Redis.Password, "GOBELL_REDIS_PASSWORD")
	set(&c.Upload.MQTT.Username, "GOBELL_MQTT_USERNAME")
	set(&c.Upload.MQTT.Password, "GOBELL_MQTT_PASSWORD")
	set(&c.Upload.S3.Bucket, "GOBELL_S3_BUCKET")
}

// ValidateConfigPath accepts only .yaml files directly inside a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// DebounceInterval returns the software debounce window.
func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.GPIO.DebounceMs) * time.Millisecond
}

// CaptureTimeout returns the per-capture timeout.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.TimeoutMs) * time.Millisecond
}

// MockDelay returns the simulated exposure of the mock camera.
func (c *Config) MockDelay() time.Duration {
	return time.Duration(c.Camera.MockDelayMs) * time.Millisecond
}

// UploadTimeout returns the timeout of a single upload attempt.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Upload.TimeoutMs) * time.Millisecond
}

// InitialBackoff returns the first retry delay.
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.Upload.Retry.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the retry delay cap.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Upload.Retry.MaxBackoffMs) * time.Millisecond
}

// PreviewHold returns how long a snapshot stays on the preview.
func (c *Config) PreviewHold() time.Duration {
	return time.Duration(c.Doorbell.PreviewHoldMs) * time.Millisecond
}
