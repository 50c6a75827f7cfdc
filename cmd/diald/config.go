package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the diald daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config. The file may be YAML (default) or TOML, chosen by
// extension; CLI flags and environment variables override individual fields.
type Config struct {
	// Dial input device
	Input InputConfig `yaml:"input" toml:"input"`

	// Haptic actuator
	Haptics HapticsConfig `yaml:"haptics" toml:"haptics"`

	// Engine thresholds
	Engine EngineFileConfig `yaml:"engine" toml:"engine"`

	// MQTT bridge (publisher + remote volume-set source)
	MQTT MQTTConfig `yaml:"mqtt" toml:"mqtt"`

	// IPC configuration (dialctl, scripts)
	IPC IPCConfig `yaml:"ipc" toml:"ipc"`

	// State websocket server
	StateWS StateWSConfig `yaml:"state_ws" toml:"state_ws"`

	// Logging
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

type InputConfig struct {
	Device           string `yaml:"device" toml:"device"`
	Grab             bool   `yaml:"grab" toml:"grab"`
	MaxTickMagnitude int32  `yaml:"max_tick_magnitude" toml:"max_tick_magnitude"`
}

type HapticsConfig struct {
	Device  string `yaml:"device" toml:"device"` // empty disables haptics
	RetryMS int    `yaml:"retry_ms" toml:"retry_ms"`
}

// EngineFileConfig is the user-facing engine configuration.
// It maps 1:1 to EngineConfig but uses file-friendly types (milliseconds).
type EngineFileConfig struct {
	UnitSize              int    `yaml:"unit_size" toml:"unit_size"`
	ConfirmThreshold      uint   `yaml:"confirm_threshold" toml:"confirm_threshold"`
	CancelThreshold       uint   `yaml:"cancel_threshold" toml:"cancel_threshold"`
	IdleTimeoutMS         int    `yaml:"idle_timeout_ms" toml:"idle_timeout_ms"`
	IdleCheckIntervalMS   int    `yaml:"idle_check_interval_ms" toml:"idle_check_interval_ms"`
	BacklashTimeoutPolicy string `yaml:"backlash_timeout_policy" toml:"backlash_timeout_policy"` // "drain" or "hold"
	InitialVolume         int    `yaml:"initial_volume" toml:"initial_volume"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Broker      string `yaml:"broker" toml:"broker"`
	ClientID    string `yaml:"client_id" toml:"client_id"` // empty: generated per run
	Username    string `yaml:"username" toml:"username"`
	Password    string `yaml:"password" toml:"password"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
	TimeoutMS   int    `yaml:"timeout_ms" toml:"timeout_ms"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path" toml:"socket_path"`
}

type StateWSConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Port    int    `yaml:"port" toml:"port"`
	Path    string `yaml:"path" toml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "text" or "json"
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Input: InputConfig{
			Device:           defaultDialDevice,
			MaxTickMagnitude: defaultMaxTickMagnitude,
		},
		Haptics: HapticsConfig{
			Device:  defaultHapticDevice,
			RetryMS: defaultHapticRetryMS,
		},
		Engine: EngineFileConfig{
			UnitSize:              defaultUnitSize,
			ConfirmThreshold:      defaultConfirmThreshold,
			CancelThreshold:       defaultCancelThreshold,
			IdleTimeoutMS:         defaultIdleTimeoutMS,
			IdleCheckIntervalMS:   defaultIdleCheckMS,
			BacklashTimeoutPolicy: string(BacklashTimeoutDrain),
			InitialVolume:         defaultInitialVolume,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Broker:      "tcp://127.0.0.1:1883",
			TopicPrefix: defaultMQTTPrefix,
			TimeoutMS:   defaultMQTTTimeoutMS,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		StateWS: StateWSConfig{
			Enabled: true,
			Port:    defaultStateWSPort,
			Path:    defaultStateWSPath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// configFormat picks the decoder from the file extension.
func configFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

// LoadConfigFile reads and parses a YAML or TOML config file on top of the
// defaults. Unknown fields are rejected in both formats.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	switch configFormat(path) {
	case "toml":
		if err := toml.NewDecoder(bytes.NewReader(b)).Strict(true).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config toml: %w", err)
		}

	default:
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)

		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config yaml: %w", err)
		}

		// Only whitespace/comments are allowed after the document.
		if err := dec.Decode(&struct{}{}); err == nil {
			return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
		}
	}

	return cfg, nil
}

// FlagOverrides holds CLI/env overrides. A nil pointer means "not set"; a
// non-nil pointer is applied even if it holds a zero value.
type FlagOverrides struct {
	Device           *string
	Grab             *bool
	MaxTickMagnitude *int32

	HapticDevice *string

	InitialVolume         *int
	BacklashTimeoutPolicy *string

	MQTTEnabled *bool
	MQTTBroker  *string

	IPCSocketPath *string

	StateWSEnabled *bool
	StateWSPort    *int

	LogLevel  *string
	LogFormat *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.Device != nil {
		cfg.Input.Device = *o.Device
	}
	if o.Grab != nil {
		cfg.Input.Grab = *o.Grab
	}
	if o.MaxTickMagnitude != nil {
		cfg.Input.MaxTickMagnitude = *o.MaxTickMagnitude
	}

	if o.HapticDevice != nil {
		cfg.Haptics.Device = *o.HapticDevice
	}

	if o.InitialVolume != nil {
		cfg.Engine.InitialVolume = *o.InitialVolume
	}
	if o.BacklashTimeoutPolicy != nil {
		cfg.Engine.BacklashTimeoutPolicy = *o.BacklashTimeoutPolicy
	}

	if o.MQTTEnabled != nil {
		cfg.MQTT.Enabled = *o.MQTTEnabled
	}
	if o.MQTTBroker != nil {
		cfg.MQTT.Broker = *o.MQTTBroker
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}

	if o.StateWSEnabled != nil {
		cfg.StateWS.Enabled = *o.StateWSEnabled
	}
	if o.StateWSPort != nil {
		cfg.StateWS.Port = *o.StateWSPort
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
}

// Validate checks config invariants and returns a user-friendly error.
// It is called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Input
	if c.Input.Device == "" {
		return errors.New("input.device must not be empty")
	}
	if c.Input.MaxTickMagnitude < 0 {
		return errors.New("input.max_tick_magnitude must be >= 0 (0 disables the limit)")
	}

	// Haptics
	if c.Haptics.RetryMS < 0 {
		return errors.New("haptics.retry_ms must be >= 0")
	}

	// Engine
	if c.Engine.UnitSize <= 0 {
		return errors.New("engine.unit_size must be > 0")
	}
	if c.Engine.ConfirmThreshold == 0 {
		return errors.New("engine.confirm_threshold must be > 0")
	}
	if c.Engine.CancelThreshold == 0 {
		return errors.New("engine.cancel_threshold must be > 0")
	}
	if c.Engine.IdleTimeoutMS <= 0 {
		return errors.New("engine.idle_timeout_ms must be > 0")
	}
	if c.Engine.IdleCheckIntervalMS <= 0 {
		return errors.New("engine.idle_check_interval_ms must be > 0")
	}
	if c.Engine.IdleCheckIntervalMS > c.Engine.IdleTimeoutMS {
		return errors.New("engine.idle_check_interval_ms must be <= engine.idle_timeout_ms")
	}
	if _, err := parseBacklashTimeoutPolicy(c.Engine.BacklashTimeoutPolicy); err != nil {
		return fmt.Errorf("engine.backlash_timeout_policy: %w", err)
	}
	if c.Engine.InitialVolume < minVolume || c.Engine.InitialVolume > maxVolume {
		return fmt.Errorf("engine.initial_volume must be between %d and %d", minVolume, maxVolume)
	}

	// MQTT
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.enabled is true but mqtt.broker is empty")
		}
		if c.MQTT.TopicPrefix == "" {
			return errors.New("mqtt.topic_prefix must not be empty")
		}
		if strings.ContainsAny(c.MQTT.TopicPrefix, "#+") {
			return errors.New("mqtt.topic_prefix must not contain wildcards")
		}
	}
	if c.MQTT.TimeoutMS <= 0 {
		return errors.New("mqtt.timeout_ms must be > 0")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// State websocket
	if c.StateWS.Enabled {
		if c.StateWS.Port <= 0 || c.StateWS.Port > 65535 {
			return errors.New("state_ws.port must be between 1 and 65535")
		}
		if !strings.HasPrefix(c.StateWS.Path, "/") {
			return errors.New("state_ws.path must start with /")
		}
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be %q or %q", "text", "json")
	}

	return nil
}

// ToEngineConfig converts file config into the reducer's config.
// Call only after Validate.
func (c *Config) ToEngineConfig() EngineConfig {
	policy, _ := parseBacklashTimeoutPolicy(c.Engine.BacklashTimeoutPolicy)
	return EngineConfig{
		UnitSize:         c.Engine.UnitSize,
		ConfirmThreshold: c.Engine.ConfirmThreshold,
		CancelThreshold:  c.Engine.CancelThreshold,
		IdleTimeout:      time.Duration(c.Engine.IdleTimeoutMS) * time.Millisecond,
		MaxTickMagnitude: c.Input.MaxTickMagnitude,
		BacklashTimeout:  policy,
	}
}

// IdleCheckInterval is the Tick cadence of the daemon loop.
func (c *Config) IdleCheckInterval() time.Duration {
	return time.Duration(c.Engine.IdleCheckIntervalMS) * time.Millisecond
}

// renderConfigTemplate serializes the defaults as a starting config file.
func renderConfigTemplate(format string) ([]byte, error) {
	cfg := DefaultConfig()
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return yaml.Marshal(cfg)
	case "toml":
		return toml.Marshal(cfg)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
