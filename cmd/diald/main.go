package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"
)

const version = "0.3.0"

// CLI is the kong command tree for diald.
type CLI struct {
	ConfigFile string           `name:"config" short:"c" help:"Config file (YAML, or TOML by .toml extension)." env:"DIALD_CONFIG" type:"path"`
	Version    kong.VersionFlag `help:"Print version and exit."`

	Run    RunCmd    `cmd:"" default:"withargs" help:"Run the dial daemon (default)."`
	Config ConfigCmd `cmd:"" help:"Configuration helpers."`
}

// RunCmd carries CLI/env overrides. Unset flags leave the config file value alone.
type RunCmd struct {
	Device          *string `help:"Dial evdev device." env:"DIALD_DEVICE" placeholder:"PATH"`
	Grab            *bool   `help:"Grab the dial device exclusively."`
	MaxTick         *int32  `name:"max-tick" help:"Ticks with a larger magnitude are treated as glitches (0 disables)."`
	HapticDevice    *string `name:"haptic-device" help:"hidraw node for haptics (empty disables)." env:"DIALD_HAPTIC_DEV" placeholder:"PATH"`
	InitialVolume   *int    `name:"initial-volume" help:"Volume at startup (0-100)."`
	BacklashTimeout *string `name:"backlash-timeout" help:"Inactivity timeout during backlash: drain|hold."`
	MQTT            *bool   `name:"mqtt" help:"Enable the MQTT bridge."`
	MQTTBroker      *string `name:"mqtt-broker" help:"MQTT broker URL." env:"DIALD_MQTT_BROKER" placeholder:"URL"`
	IPCSocket       *string `name:"ipc-socket" help:"Unix socket for dialctl." placeholder:"PATH"`
	StateWS         *bool   `name:"state-ws" help:"Enable the state websocket server."`
	StateWSPort     *int    `name:"state-ws-port" help:"State websocket port."`
	LogLevel        *string `name:"log-level" help:"error|warn|info|debug." env:"DIALD_LOG_LEVEL"`
	LogFormat       *string `name:"log-format" help:"text|json."`
}

func (r *RunCmd) overrides() FlagOverrides {
	return FlagOverrides{
		Device:                r.Device,
		Grab:                  r.Grab,
		MaxTickMagnitude:      r.MaxTick,
		HapticDevice:          r.HapticDevice,
		InitialVolume:         r.InitialVolume,
		BacklashTimeoutPolicy: r.BacklashTimeout,
		MQTTEnabled:           r.MQTT,
		MQTTBroker:            r.MQTTBroker,
		IPCSocketPath:         r.IPCSocket,
		StateWSEnabled:        r.StateWS,
		StateWSPort:           r.StateWSPort,
		LogLevel:              r.LogLevel,
		LogFormat:             r.LogFormat,
	}
}

// loadConfig layers defaults, the optional file and the overrides, then validates.
func loadConfig(path string, o FlagOverrides) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return Config{}, err
		}
	}
	o.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (r *RunCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.ConfigFile, r.overrides())
	if err != nil {
		return err
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(os.Stdout, level, cfg.Logging.Format)

	logger.Debug("starting diald", "version", version)
	logger.Debug("configuration",
		"device", cfg.Input.Device,
		"haptic_device", cfg.Haptics.Device,
		"unit_size", cfg.Engine.UnitSize,
		"confirm_threshold", cfg.Engine.ConfirmThreshold,
		"cancel_threshold", cfg.Engine.CancelThreshold,
		"idle_timeout_ms", cfg.Engine.IdleTimeoutMS,
		"backlash_timeout_policy", cfg.Engine.BacklashTimeoutPolicy,
		"mqtt", cfg.MQTT.Enabled,
		"state_ws", cfg.StateWS.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serve wires every collaborator around the daemon loop and blocks until
// ctx is canceled or a server fails.
func serve(ctx context.Context, cfg Config, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	events := make(chan Event, defaultEventQueueSize)
	clock := &SeqClock{}

	publishers := []Publisher{logPublisher{logger: logger}}

	if cfg.StateWS.Enabled {
		wsPub := newWSPublisher(defaultSinkQueue)
		srv := NewStateServer(logger, events, HubConfig{})
		publishers = append(publishers, wsPub)

		g.Go(func() error { srv.Hub().Run(ctx); return nil })
		g.Go(func() error { RunBroadcaster(ctx, srv.Hub(), wsPub.Broadcasts(), logger); return nil })
		g.Go(func() error { return runStateServer(ctx, cfg.StateWS, srv, logger) })
	}

	if cfg.MQTT.Enabled {
		bridge := newMQTTBridge(cfg.MQTT, events, logger)
		bridge.Start(ctx)
		publishers = append(publishers, bridge)
	}

	sinks := NewSinks(newHaptic(cfg.Haptics, logger), publishers, defaultSinkQueue, logger)
	g.Go(func() error { sinks.Run(ctx); return nil })

	input := newDialInput(cfg.Input, clock, logger)
	g.Go(func() error { input.Run(ctx, events); return nil })

	g.Go(func() error {
		if err := runIPCServer(ctx, cfg.IPC.SocketPath, events, clock, logger); err != nil {
			return fmt.Errorf("ipc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		runDaemon(ctx, events, sinks, NewDialState(cfg.Engine.InitialVolume), cfg.ToEngineConfig(), cfg.IdleCheckInterval(), logger)
		return nil
	})

	logger.Info("listening",
		"device", cfg.Input.Device,
		"ipc", cfg.IPC.SocketPath,
		"state_ws_port", cfg.StateWS.Port,
		"mqtt_broker", cfg.MQTT.Broker,
	)

	err := g.Wait()
	logger.Info("shut down", "last_seq", clock.Current())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ConfigCmd groups config-related subcommands.
type ConfigCmd struct {
	Init ConfigInitCmd `cmd:"" help:"Write a configuration template."`
}

// ConfigInitCmd writes DefaultConfig as YAML or TOML.
type ConfigInitCmd struct {
	Format string `help:"Output format." enum:"yaml,toml" default:"yaml"`
	Output string `short:"o" help:"Destination file (defaults to ./diald.<format>, '-' for stdout)."`
	Force  bool   `help:"Overwrite if the file already exists."`
}

func (c *ConfigInitCmd) Run() error {
	data, err := renderConfigTemplate(c.Format)
	if err != nil {
		return err
	}

	dest := c.Output
	if dest == "" {
		dest = "diald." + c.Format
	}
	if dest == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}

	if !c.Force {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s exists; use --force to overwrite", dest)
		}
	}
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", dest)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("diald"),
		kong.Description("Rotary dial daemon: turns encoder ticks into a stable 0-100 volume with backlash filtering and haptic feedback."),
		kong.UsageOnError(),
		kong.Vars{"version": "diald " + version},
	)
	ctx.FatalIfErrorf(ctx.Run())
}
