package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/glovelink/internal/protocol"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Apollo   ApolloConfig
	Log      LogConfig
	HTTP     HTTPConfig
	MQTT     MQTTConfig
	InfluxDB InfluxConfig
}

type ApolloConfig struct {
	Host              string
	Port              int
	ClientID          uint16
	PinchFilter       bool
	MeshPreset        string
	PollFast          time.Duration
	PollSlow          time.Duration
	SlowAfterAttempts int
	RequestTimeout    time.Duration
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	ReadBuffer        int
	SendQueue         int
}

type LogConfig struct {
	Level     string
	JSON      bool
	Timestamp bool
	NoColor   bool
}

type HTTPConfig struct {
	Enabled     bool
	Addr        string
	CorsOrigins []string
	// AuthToken, when set, is required as a bearer token on control routes.
	AuthToken string
}

type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         int
	Username    string
	Password    string
}

type InfluxConfig struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
}

func Default() Config {
	return Config{
		Apollo: ApolloConfig{
			Host:              "127.0.0.1",
			Port:              49010,
			ClientID:          protocol.DefaultClientID,
			PinchFilter:       false,
			MeshPreset:        protocol.DefaultMeshPreset,
			PollFast:          50 * time.Millisecond,
			PollSlow:          500 * time.Millisecond,
			SlowAfterAttempts: 60,
			RequestTimeout:    5 * time.Second,
			ConnectTimeout:    2 * time.Second,
			WriteTimeout:      2 * time.Second,
			ReadBuffer:        256,
			SendQueue:         256,
		},
		Log: LogConfig{
			Level:     "info",
			Timestamp: true,
		},
		HTTP: HTTPConfig{
			Enabled:     true,
			Addr:        "127.0.0.1:9050",
			CorsOrigins: []string{"http://localhost:3000"},
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://127.0.0.1:1883",
			TopicPrefix: "glovelink",
		},
		InfluxDB: InfluxConfig{
			URL:    "http://127.0.0.1:8086",
			Org:    "glovelink",
			Bucket: "gloves",
		},
	}
}

// Address is the glove server host:port.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Apollo.Host, c.Apollo.Port)
}

func Validate(cfg Config) error {
	a := cfg.Apollo
	if strings.TrimSpace(a.Host) == "" {
		return fmt.Errorf("%w: apollo.host is required", ErrInvalid)
	}
	if a.Port < 1 || a.Port > 65535 {
		return fmt.Errorf("%w: apollo.port %d out of range", ErrInvalid, a.Port)
	}
	if a.ClientID == 0 {
		return fmt.Errorf("%w: apollo.client_id must be non-zero", ErrInvalid)
	}
	if _, err := protocol.MeshPreset(a.MeshPreset); err != nil {
		return fmt.Errorf("%w: apollo.mesh_preset: %w", ErrInvalid, err)
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"poll_fast", a.PollFast},
		{"poll_slow", a.PollSlow},
		{"request_timeout", a.RequestTimeout},
		{"connect_timeout", a.ConnectTimeout},
		{"write_timeout", a.WriteTimeout},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%w: apollo.%s must be positive", ErrInvalid, d.name)
		}
	}
	if a.PollSlow < a.PollFast {
		return fmt.Errorf("%w: apollo.poll_slow below poll_fast", ErrInvalid)
	}
	if a.SlowAfterAttempts < 1 || a.ReadBuffer < 1 || a.SendQueue < 1 {
		return fmt.Errorf("%w: apollo counts must be positive", ErrInvalid)
	}
	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return fmt.Errorf("%w: http.addr is required when enabled", ErrInvalid)
	}
	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.Broker) == "" {
			return fmt.Errorf("%w: mqtt.broker is required when enabled", ErrInvalid)
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("%w: mqtt.qos %d out of range", ErrInvalid, cfg.MQTT.QoS)
		}
	}
	if cfg.InfluxDB.Enabled {
		if cfg.InfluxDB.URL == "" || cfg.InfluxDB.Org == "" || cfg.InfluxDB.Bucket == "" {
			return fmt.Errorf("%w: influxdb url, org and bucket are required when enabled", ErrInvalid)
		}
	}
	return nil
}
