package mqttbridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/modbus-toolkit/pkg/discovery"
	"github.com/edgeflow/modbus-toolkit/pkg/transport"
)

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.NotEmpty(t, cfg.ClientID)
	assert.Equal(t, "modbus", cfg.TopicPrefix)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 60*time.Second, cfg.KeepAlive)
}

func TestConfig_WithDefaults_ClampsQoS(t *testing.T) {
	cfg := Config{QoS: 9}.withDefaults()
	assert.EqualValues(t, 2, cfg.QoS)
}

func TestConfig_WithDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{TopicPrefix: "custom", ClientID: "fixed-id", QoS: 1}.withDefaults()
	assert.Equal(t, "custom", cfg.TopicPrefix)
	assert.Equal(t, "fixed-id", cfg.ClientID)
	assert.EqualValues(t, 1, cfg.QoS)
}

func TestDeviceTopic_ShapesBusKeySlaveID(t *testing.T) {
	topic := deviceTopic("modbus", "rtu(/dev/ttyUSB0,9600-none-8-1)", 17)
	assert.Equal(t, "modbus/rtu(/dev/ttyUSB0,9600-none-8-1)/17/identification", topic)
}

func TestDataPointTopic_ShapesPointID(t *testing.T) {
	topic := dataPointTopic("modbus", "tcp(10.0.0.5:502)", 3, "temperature")
	assert.Equal(t, "modbus/tcp(10.0.0.5:502)/3/temperature", topic)
}

func TestNewDevicePayload_CarriesIdentificationFields(t *testing.T) {
	d := discovery.Device{
		Combination: discovery.Combination{
			Serial: transport.SerialParams{BaudRate: 19200, Parity: transport.ParityEven, DataBits: 8, StopBits: 1},
			Slave:  52,
		},
		Identification: discovery.Identification{
			Present:      true,
			SupportsFC43: true,
			Vendor:       "Acme",
			ProductCode:  "AC-100",
			Revision:     "v1.0",
		},
	}

	payload := newDevicePayload(d)
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.EqualValues(t, 19200, decoded["baud_rate"])
	assert.Equal(t, "even", decoded["parity"])
	assert.EqualValues(t, 52, decoded["slave_id"])
	assert.Equal(t, true, decoded["present"])
	assert.Equal(t, "Acme", decoded["vendor"])
	assert.NotContains(t, decoded, "model")
}
