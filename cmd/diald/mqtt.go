package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ============================================================================
// MQTT bridge
// ============================================================================
// Publishes:
//   <prefix>/volume   retained, integer text
//   <prefix>/clicks   integer text
//   <prefix>/mode     idle|active|backlash
//   <prefix>/status   retained online/offline (last will)
// Subscribes:
//   <prefix>/volume/set   integer text or {"volume": N}
//
// QoS 0 throughout. Reconnection is paho's auto-reconnect; the subscription
// is renewed in the on-connect handler.
// ============================================================================

type mqttBridge struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
	events  chan<- Event
	logger  *slog.Logger
}

func mqttClientID(configured string) string {
	if configured != "" {
		return configured
	}
	return "diald-" + uuid.Must(uuid.NewV7()).String()
}

func newMQTTBridge(cfg MQTTConfig, events chan<- Event, logger *slog.Logger) *mqttBridge {
	b := &mqttBridge{
		prefix:  cfg.TopicPrefix,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		events:  events,
		logger:  logger.With("component", "mqtt"),
	}

	clientID := mqttClientID(cfg.ClientID)
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(b.timeout).
		SetOrderMatters(false).
		SetWill(b.topic("status"), "offline", 0, true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.logger.Warn("connection lost", "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = mqtt.NewClient(opts)
	b.logger.Info("mqtt configured", "broker", cfg.Broker, "client_id", clientID, "prefix", cfg.TopicPrefix)
	return b
}

func (b *mqttBridge) topic(suffix string) string {
	return b.prefix + "/" + suffix
}

// Start connects in the background and disconnects when ctx ends.
// With connect-retry enabled the first connection may complete later.
func (b *mqttBridge) Start(ctx context.Context) {
	tok := b.client.Connect()
	if tok.WaitTimeout(b.timeout) && tok.Error() != nil {
		b.logger.Warn("initial connect failed", "error", tok.Error())
	}

	go func() {
		<-ctx.Done()
		if b.client.IsConnectionOpen() {
			_ = b.publish("status", true, "offline")
		}
		b.client.Disconnect(250)
		b.logger.Info("mqtt disconnected")
	}()
}

func (b *mqttBridge) onConnect(c mqtt.Client) {
	b.logger.Info("connected")

	setTopic := b.topic("volume/set")
	tok := c.Subscribe(setTopic, 0, b.handleSet)
	if !tok.WaitTimeout(b.timeout) {
		b.logger.Warn("subscribe timed out", "topic", setTopic)
	} else if err := tok.Error(); err != nil {
		b.logger.Warn("subscribe failed", "topic", setTopic, "error", err)
	}

	if err := b.publish("status", true, "online"); err != nil {
		b.logger.Warn("status publish failed", "error", err)
	}
}

func (b *mqttBridge) handleSet(_ mqtt.Client, msg mqtt.Message) {
	// A retained set would be replayed on every reconnect.
	if msg.Retained() {
		b.logger.Debug("ignoring retained volume set", "topic", msg.Topic())
		return
	}

	v, err := parseVolumePayload(msg.Payload())
	if err != nil {
		b.logger.Warn("bad volume set payload", "topic", msg.Topic(), "error", err)
		return
	}

	select {
	case b.events <- RemoteSetVolume{Volume: v, Origin: "mqtt"}:
	default:
		b.logger.Warn("event queue full, dropping remote volume set", "volume", v)
	}
}

func (b *mqttBridge) publish(suffix string, retained bool, payload string) error {
	tok := b.client.Publish(b.topic(suffix), 0, retained, payload)
	if !tok.WaitTimeout(b.timeout) {
		return fmt.Errorf("publish %s: timed out after %s", b.topic(suffix), b.timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", b.topic(suffix), err)
	}
	return nil
}

func (b *mqttBridge) Name() string { return "mqtt" }

func (b *mqttBridge) PublishVolume(volume int) error {
	return b.publish("volume", true, strconv.Itoa(volume))
}

func (b *mqttBridge) PublishClicks(count uint64) error {
	return b.publish("clicks", false, strconv.FormatUint(count, 10))
}

func (b *mqttBridge) PublishMode(mode string) error {
	return b.publish("mode", false, mode)
}

var errEmptyPayload = errors.New("empty payload")

// parseVolumePayload accepts "55", "55.4" or {"volume": 55}. The value is not
// range-checked here; the engine clamps it.
func parseVolumePayload(payload []byte) (int, error) {
	p := bytes.TrimSpace(payload)
	if len(p) == 0 {
		return 0, errEmptyPayload
	}

	if p[0] == '{' {
		var body struct {
			Volume *float64 `json:"volume"`
		}
		if err := json.Unmarshal(p, &body); err != nil {
			return 0, fmt.Errorf("decode json payload: %w", err)
		}
		if body.Volume == nil {
			return 0, errors.New(`json payload has no "volume" field`)
		}
		return roundVolume(*body.Volume)
	}

	if n, err := strconv.Atoi(string(p)); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(string(p), 64)
	if err != nil {
		return 0, fmt.Errorf("parse volume %q: %w", p, err)
	}
	return roundVolume(f)
}

func roundVolume(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("volume %v is not a number", f)
	}
	f = clamp(math.Round(f), -1e9, 1e9)
	return int(f), nil
}
