package config

import (
	"fmt"

	"github.com/danmuck/glovelink/internal/bridge"
	"github.com/danmuck/glovelink/internal/link"
	"github.com/danmuck/glovelink/internal/logging"
	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/danmuck/glovelink/internal/protocol/session"
	"github.com/danmuck/glovelink/internal/transport"
)

func (c Config) Link() (link.Config, error) {
	mesh, err := protocol.MeshPreset(c.Apollo.MeshPreset)
	if err != nil {
		return link.Config{}, err
	}
	out := link.DefaultConfig()
	out.ClientID = c.Apollo.ClientID
	out.PinchFilter = c.Apollo.PinchFilter
	out.Mesh = mesh
	out.Poll = session.PollConfig{
		Fast:              c.Apollo.PollFast,
		Slow:              c.Apollo.PollSlow,
		SlowAfterAttempts: c.Apollo.SlowAfterAttempts,
	}
	out.RequestTimeout = c.Apollo.RequestTimeout
	return out, nil
}

func (c Config) Transport() transport.Config {
	out := transport.DefaultConfig(c.Address())
	out.ConnectTimeout = c.Apollo.ConnectTimeout
	out.WriteTimeout = c.Apollo.WriteTimeout
	out.ReadBuffer = c.Apollo.ReadBuffer
	out.SendQueue = c.Apollo.SendQueue
	return out
}

func (c Config) MQTTBridge() bridge.MQTTConfig {
	out := bridge.DefaultMQTTConfig()
	out.Broker = c.MQTT.Broker
	out.ClientID = c.MQTT.ClientID
	out.TopicPrefix = c.MQTT.TopicPrefix
	out.QoS = byte(c.MQTT.QoS)
	out.Username = c.MQTT.Username
	out.Password = c.MQTT.Password
	return out
}

func (c Config) InfluxBridge() bridge.InfluxConfig {
	out := bridge.DefaultInfluxConfig()
	out.URL = c.InfluxDB.URL
	out.Token = c.InfluxDB.Token
	out.Org = c.InfluxDB.Org
	out.Bucket = c.InfluxDB.Bucket
	return out
}

// Logging maps [log] onto a runtime logging profile. Environment overrides
// still win when applied afterwards.
func (c Config) Logging() (logging.Config, error) {
	out := logging.DefaultConfig(logging.ProfileRuntime)
	if c.Log.Level != "" {
		level, ok := logging.ParseLevel(c.Log.Level)
		if !ok {
			return logging.Config{}, fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
		}
		out.Level = level
	}
	out.JSON = c.Log.JSON
	out.Timestamp = c.Log.Timestamp
	out.NoColor = c.Log.NoColor
	return out, nil
}
