package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/glovelink/internal/link"
	"github.com/danmuck/glovelink/internal/protocol"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrMQTTConnect = errors.New("bridge: mqtt connect failed")
	ErrInvalidQoS  = errors.New("bridge: mqtt qos must be 0, 1 or 2")
	ErrNoBroker    = errors.New("bridge: mqtt broker url required")
)

const (
	mqttKeepAlive       = 30 * time.Second
	mqttPublishTimeout  = 2 * time.Second
	mqttDisconnectQuiet = 250
)

type MQTTConfig struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:         "tcp://127.0.0.1:1883",
		TopicPrefix:    "glovelink",
		ConnectTimeout: 10 * time.Second,
	}
}

func (c MQTTConfig) Validate() error {
	if strings.TrimSpace(c.Broker) == "" {
		return ErrNoBroker
	}
	if c.QoS > 2 {
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, c.QoS)
	}
	return nil
}

// Topics lays out the published topic tree under a prefix.
type Topics struct {
	Prefix string
}

func (t Topics) Status() string {
	return t.Prefix + "/status"
}

func (t Topics) Joints(side protocol.Laterality) string {
	return t.Prefix + "/hands/" + side.String() + "/joints"
}

func (t Topics) Raw(side protocol.Laterality) string {
	return t.Prefix + "/hands/" + side.String() + "/raw"
}

func (t Topics) DeviceInfo(device uint64) string {
	return t.Prefix + "/devices/" + strconv.FormatUint(device, 10) + "/info"
}

func mqttClientID(cfg MQTTConfig) string {
	if id := strings.TrimSpace(cfg.ClientID); id != "" {
		return id
	}
	return "glovelink-" + uuid.NewString()
}

func statusPayload(status, link string) []byte {
	b, _ := json.Marshal(map[string]string{
		"status": status,
		"link":   link,
		"ts":     time.Now().UTC().Format(time.RFC3339),
	})
	return b
}

func buildClientOptions(cfg MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(mqttClientID(cfg))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)
	opts.SetWill(Topics{Prefix: cfg.TopicPrefix}.Status(), string(statusPayload("offline", "")), 1, true)
	return opts
}

// MQTT publishes hand poses, device info and link state to a broker.
type MQTT struct {
	client  pahomqtt.Client
	cfg     MQTTConfig
	topics  Topics
	dropped atomic.Uint64
}

func ConnectMQTT(cfg MQTTConfig) (*MQTT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := buildClientOptions(cfg)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("bridge: mqtt connection lost")
	})
	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %s", ErrMQTTConnect, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMQTTConnect, err)
	}
	m := &MQTT{client: client, cfg: cfg, topics: Topics{Prefix: cfg.TopicPrefix}}
	m.client.Publish(m.topics.Status(), 1, true, statusPayload("online", ""))
	log.Info().Str("broker", cfg.Broker).Str("prefix", cfg.TopicPrefix).Msg("bridge: mqtt connected")
	return m, nil
}

// Listener returns callbacks that publish without waiting on the broker.
func (m *MQTT) Listener() link.Listener {
	return link.Listener{
		Joint: func(f protocol.JointFrame, side protocol.Laterality) {
			m.publish(m.topics.Joints(side), false, JointMessage(f, side, time.Now()))
		},
		Raw: func(f protocol.RawFrame, side protocol.Laterality) {
			m.publish(m.topics.Raw(side), false, RawMessage(f, side, time.Now()))
		},
		DeviceInfo: func(info protocol.DeviceInfo) {
			m.publish(m.topics.DeviceInfo(info.Device), true, DeviceInfoMessage(info, time.Now()))
		},
		State: func(_, to link.State) {
			if m.client.IsConnectionOpen() {
				m.client.Publish(m.topics.Status(), m.cfg.QoS, true, statusPayload("online", to.String()))
			}
		},
	}
}

func (m *MQTT) publish(topic string, retained bool, msg Message) {
	if !m.client.IsConnectionOpen() {
		m.dropped.Add(1)
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("bridge: mqtt encode failed")
		return
	}
	m.client.Publish(topic, m.cfg.QoS, retained, payload)
}

func (m *MQTT) Name() string {
	return "mqtt"
}

// MQTTStatus is reported on the plugins endpoint.
type MQTTStatus struct {
	Broker    string `json:"broker"`
	Prefix    string `json:"topic_prefix"`
	Connected bool   `json:"connected"`
	Dropped   uint64 `json:"dropped"`
}

// Status reports an error while the broker connection is down.
func (m *MQTT) Status() (any, error) {
	st := MQTTStatus{
		Broker:    m.cfg.Broker,
		Prefix:    m.cfg.TopicPrefix,
		Connected: m.client.IsConnectionOpen(),
		Dropped:   m.dropped.Load(),
	}
	if !st.Connected {
		return st, fmt.Errorf("%w: %s unreachable", ErrMQTTConnect, m.cfg.Broker)
	}
	return st, nil
}

// Dropped counts messages skipped while the broker was unreachable.
func (m *MQTT) Dropped() uint64 {
	return m.dropped.Load()
}

func (m *MQTT) Close() {
	if m.client.IsConnectionOpen() {
		token := m.client.Publish(m.topics.Status(), 1, true, statusPayload("offline", ""))
		token.WaitTimeout(mqttPublishTimeout)
	}
	m.client.Disconnect(mqttDisconnectQuiet)
}
