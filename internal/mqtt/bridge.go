//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-go-converters/internal/coordinator"
	"zigbee-go-converters/internal/schedule"
	"zigbee-go-converters/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	Discovery   bool
}

// Converter is the coordinator surface the bridge drives.
type Converter interface {
	Events() *coordinator.EventBus
	Devices() *coordinator.DeviceManager
	Store() store.Store
	Context() context.Context

	SendIRCode(ctx context.Context, name, code string) (uint16, error)
	LearnIRCode(ctx context.Context, name string) error
	ReadSchedule(ctx context.Context, name string) (schedule.Schedule, error)
	WriteSchedule(ctx context.Context, name string, s schedule.Schedule) error
	ReadScheduleEnabled(ctx context.Context, name string) (bool, error)
	SetScheduleEnabled(ctx context.Context, name string, enabled bool) error
}

// publisher is the part of pahomqtt.Client used to publish.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Bridge connects the converters to MQTT in the zigbee2mqtt topic layout.
type Bridge struct {
	client    pahomqtt.Client
	pub       publisher
	conv      Converter
	prefix    string
	discovery bool
	logger    *slog.Logger
	unsub     func()
}

func newBridge(conv Converter, cfg Config, logger *slog.Logger) *Bridge {
	return &Bridge{
		conv:      conv,
		prefix:    cfg.TopicPrefix,
		discovery: cfg.Discovery,
		logger:    logger.With("component", "mqtt"),
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(conv Converter, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(conv, cfg, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("zigbee-go-converters").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			if b.discovery {
				b.publishAllDiscovery()
			}
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	b.pub = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to coordinator events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.conv.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event coordinator.Event) {
	if event.Device == "" {
		return
	}
	dev, ok := b.conv.Devices().Get(event.Device)
	if !ok {
		return
	}
	switch event.Type {
	case coordinator.EventLearnedIRCode, coordinator.EventIRCodeSent,
		coordinator.EventScheduleSettings, coordinator.EventSchedule:
		b.publishState(dev)
	case coordinator.EventIRTransferFailed:
		msg := "ir transfer failed"
		if data, ok := event.Data.(map[string]interface{}); ok {
			if s, ok := data["error"].(string); ok {
				msg = s
			}
		}
		b.publishError(dev, "ir_transfer", msg)
	}
}

// publishState publishes the stored device state to <prefix>/<device>.
func (b *Bridge) publishState(dev coordinator.Device) {
	state := map[string]any{}
	st, err := b.conv.Store().GetState(dev.Name)
	switch {
	case err == nil:
		for k, v := range st.Properties {
			state[k] = v
		}
		if !st.LastSeen.IsZero() {
			state["last_seen"] = st.LastSeen.Format(time.RFC3339)
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		b.logger.Error("load device state", "device", dev.Name, "err", err)
		return
	}
	b.publish(b.prefix+"/"+deviceTopicName(dev), mustJSON(state), true)
}

func (b *Bridge) publishError(dev coordinator.Device, key, msg string) {
	payload := mustJSON(map[string]string{"key": key, "error": msg})
	b.publish(b.prefix+"/"+deviceTopicName(dev)+"/error", payload, false)
}

func (b *Bridge) publishBridgeState(state string) {
	topic := b.prefix + "/bridge/state"
	b.publish(topic, []byte(state), true)
}

func (b *Bridge) publishAllDiscovery() {
	for _, dev := range b.conv.Devices().List() {
		for _, msg := range buildDiscovery(dev, b.prefix) {
			b.publish(msg.Topic, msg.Payload, true)
		}
		b.logger.Info("published HA discovery", "device", dev.Name)
	}
}

func (b *Bridge) subscribeCommands() {
	for _, dev := range b.conv.Devices().List() {
		dev := dev
		base := b.prefix + "/" + deviceTopicName(dev)
		b.client.Subscribe(base+"/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleSet(dev, msg.Payload())
		})
		b.client.Subscribe(base+"/get", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleGet(dev, msg.Payload())
		})
	}
}

// handleSet applies a <device>/set payload. Keys not supported by the
// device model are ignored.
func (b *Bridge) handleSet(dev coordinator.Device, payload []byte) {
	var cmd map[string]interface{}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "device", dev.Name, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.conv.Context(), 30*time.Second)
	defer cancel()

	switch dev.Model {
	case coordinator.ModelIRBlaster:
		if v, ok := cmd["ir_code_to_send"]; ok {
			code, _ := v.(string)
			if _, err := b.conv.SendIRCode(ctx, dev.Name, code); err != nil {
				b.fail(dev, "ir_code_to_send", err)
			}
		}
		if v, ok := cmd["learn_ir_code"]; ok && truthy(v) {
			if err := b.conv.LearnIRCode(ctx, dev.Name); err != nil {
				b.fail(dev, "learn_ir_code", err)
			}
		}
	case coordinator.ModelTRV:
		if v, ok := cmd["schedule_settings"]; ok {
			if err := b.setSchedule(ctx, dev, v); err != nil {
				b.fail(dev, "schedule_settings", err)
			}
		}
		if v, ok := cmd["schedule"]; ok {
			if err := b.conv.SetScheduleEnabled(ctx, dev.Name, truthy(v)); err != nil {
				b.fail(dev, "schedule", err)
			}
		}
	}
}

func (b *Bridge) setSchedule(ctx context.Context, dev coordinator.Device, v interface{}) error {
	var (
		s   schedule.Schedule
		err error
	)
	if str, ok := v.(string); ok {
		s, err = schedule.Parse(str)
	} else {
		s, err = schedule.FromValue(v)
	}
	if err != nil {
		return err
	}
	return b.conv.WriteSchedule(ctx, dev.Name, s)
}

// handleGet reads the requested attributes; results arrive as state updates.
func (b *Bridge) handleGet(dev coordinator.Device, payload []byte) {
	var req map[string]interface{}
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn("invalid get JSON", "device", dev.Name, "err", err)
		return
	}
	if dev.Model != coordinator.ModelTRV {
		return
	}

	ctx, cancel := context.WithTimeout(b.conv.Context(), 30*time.Second)
	defer cancel()

	if _, ok := req["schedule_settings"]; ok {
		if _, err := b.conv.ReadSchedule(ctx, dev.Name); err != nil {
			b.fail(dev, "schedule_settings", err)
		}
	}
	if _, ok := req["schedule"]; ok {
		if _, err := b.conv.ReadScheduleEnabled(ctx, dev.Name); err != nil {
			b.fail(dev, "schedule", err)
		}
	}
}

func (b *Bridge) fail(dev coordinator.Device, key string, err error) {
	var ve *schedule.ValidationError
	if errors.As(err, &ve) {
		b.logger.Warn("invalid value", "device", dev.Name, "key", key, "err", ve.Msg)
	} else {
		b.logger.Error("command failed", "device", dev.Name, "key", key, "err", err)
	}
	b.publishError(dev, key, err.Error())
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.pub.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// truthy accepts JSON true, non-zero numbers and "ON"/"true" strings.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToUpper(t) {
		case "ON", "TRUE", "1":
			return true
		}
	}
	return false
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
