// Package mqttbridge republishes discovered devices and driver data-point
// reads onto an MQTT topic tree. It holds no polling loop, no retry/backoff
// policy and no on-disk state: callers decide when and what to publish, the
// bridge only owns the broker connection and topic naming.
package mqttbridge

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/edgeflow/modbus-toolkit/pkg/discovery"
)

// Config describes how to reach the broker and how to shape topics.
type Config struct {
	BrokerURL      string
	TopicPrefix    string
	QoS            byte
	ClientID       string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = fmt.Sprintf("modbus-toolkit_%d", time.Now().UnixNano())
	}
	if c.QoS > 2 {
		c.QoS = 2
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "modbus"
	}
	return c
}

// Bridge owns one MQTT connection and republishes discovery/driver results
// onto it.
type Bridge struct {
	cfg    Config
	client mqtt.Client
	log    *zap.Logger
}

// New builds a Bridge. The broker connection is not opened until Connect.
func New(cfg Config, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{cfg: cfg.withDefaults(), log: log}
}

// Connect dials the configured broker. Reconnection policy beyond the
// client library's own auto-reconnect is out of scope.
func (b *Bridge) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.BrokerURL)
	opts.SetClientID(b.cfg.ClientID)
	opts.SetConnectTimeout(b.cfg.ConnectTimeout)
	opts.SetKeepAlive(b.cfg.KeepAlive)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		b.log.Warn("mqtt connection lost", zap.Error(err))
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("mqttbridge: connect failed: %w", token.Error())
	}
	return nil
}

// Close disconnects from the broker, if connected.
func (b *Bridge) Close() error {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
	return nil
}

// devicePayload is the JSON shape published for a discovered device.
type devicePayload struct {
	BaudRate     int    `json:"baud_rate"`
	Parity       string `json:"parity"`
	DataBits     int    `json:"data_bits"`
	StopBits     int    `json:"stop_bits"`
	SlaveID      byte   `json:"slave_id"`
	Present      bool   `json:"present"`
	SupportsFC43 bool   `json:"supports_fc43"`
	SupportsFC03 bool   `json:"supports_fc03"`
	Vendor       string `json:"vendor,omitempty"`
	ProductCode  string `json:"product_code,omitempty"`
	Model        string `json:"model,omitempty"`
	Revision     string `json:"revision,omitempty"`
}

func newDevicePayload(d discovery.Device) devicePayload {
	return devicePayload{
		BaudRate:     d.Combination.Serial.BaudRate,
		Parity:       string(d.Combination.Serial.Parity),
		DataBits:     d.Combination.Serial.DataBits,
		StopBits:     d.Combination.Serial.StopBits,
		SlaveID:      d.Combination.Slave,
		Present:      d.Identification.Present,
		SupportsFC43: d.Identification.SupportsFC43,
		SupportsFC03: d.Identification.SupportsFC03,
		Vendor:       d.Identification.Vendor,
		ProductCode:  d.Identification.ProductCode,
		Model:        d.Identification.Model,
		Revision:     d.Identification.Revision,
	}
}

func deviceTopic(prefix, busKey string, slaveID byte) string {
	return fmt.Sprintf("%s/%s/%d/identification", prefix, busKey, slaveID)
}

func dataPointTopic(prefix, busKey string, slaveID byte, pointID string) string {
	return fmt.Sprintf("%s/%s/%d/%s", prefix, busKey, slaveID, pointID)
}

// PublishDevice publishes one discovered device under
// <prefix>/<busKey>/<slaveID>/identification.
func (b *Bridge) PublishDevice(busKey string, d discovery.Device) error {
	topic := deviceTopic(b.cfg.TopicPrefix, busKey, d.Combination.Slave)
	return b.publish(topic, newDevicePayload(d))
}

// PublishDataPoint publishes one driver data-point read under
// <prefix>/<busKey>/<slaveID>/<pointID>.
func (b *Bridge) PublishDataPoint(busKey string, slaveID byte, pointID string, value interface{}) error {
	topic := dataPointTopic(b.cfg.TopicPrefix, busKey, slaveID, pointID)
	return b.publish(topic, map[string]interface{}{"value": value})
}

func (b *Bridge) publish(topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mqttbridge: marshal payload: %w", err)
	}
	token := b.client.Publish(topic, b.cfg.QoS, false, body)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("mqttbridge: publish %s: %w", topic, token.Error())
	}
	return nil
}
