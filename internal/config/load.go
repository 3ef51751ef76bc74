package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	Apollo   fileApollo `toml:"apollo"`
	Log      fileLog    `toml:"log"`
	HTTP     fileHTTP   `toml:"http"`
	MQTT     fileMQTT   `toml:"mqtt"`
	InfluxDB fileInflux `toml:"influxdb"`
}

type fileApollo struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	ClientID          uint16 `toml:"client_id"`
	PinchFilter       bool   `toml:"pinch_filter"`
	MeshPreset        string `toml:"mesh_preset"`
	PollFast          string `toml:"poll_fast"`
	PollSlow          string `toml:"poll_slow"`
	SlowAfterAttempts int    `toml:"slow_after_attempts"`
	RequestTimeout    string `toml:"request_timeout"`
	ConnectTimeout    string `toml:"connect_timeout"`
	WriteTimeout      string `toml:"write_timeout"`
	ReadBuffer        int    `toml:"read_buffer"`
	SendQueue         int    `toml:"send_queue"`
}

type fileLog struct {
	Level     string `toml:"level"`
	JSON      bool   `toml:"json"`
	Timestamp bool   `toml:"timestamp"`
	NoColor   bool   `toml:"no_color"`
}

type fileHTTP struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	AuthToken   string   `toml:"auth_token"`
}

type fileMQTT struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	QoS         int    `toml:"qos"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
}

type fileInflux struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Token   string `toml:"token"`
	Org     string `toml:"org"`
	Bucket  string `toml:"bucket"`
}

// Load overlays the keys present in the TOML file at path onto Default and
// validates the result. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	if err := overlayApollo(meta, raw.Apollo, &cfg.Apollo); err != nil {
		return Config{}, err
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "json") {
		cfg.Log.JSON = raw.Log.JSON
	}
	if meta.IsDefined("log", "timestamp") {
		cfg.Log.Timestamp = raw.Log.Timestamp
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}

	if meta.IsDefined("http", "enabled") {
		cfg.HTTP.Enabled = raw.HTTP.Enabled
	}
	if meta.IsDefined("http", "addr") {
		cfg.HTTP.Addr = strings.TrimSpace(raw.HTTP.Addr)
	}
	if meta.IsDefined("http", "cors_origins") {
		cfg.HTTP.CorsOrigins = normalizeList(raw.HTTP.CorsOrigins)
	}
	if meta.IsDefined("http", "auth_token") {
		cfg.HTTP.AuthToken = strings.TrimSpace(raw.HTTP.AuthToken)
	}

	if meta.IsDefined("mqtt", "enabled") {
		cfg.MQTT.Enabled = raw.MQTT.Enabled
	}
	if meta.IsDefined("mqtt", "broker") {
		cfg.MQTT.Broker = strings.TrimSpace(raw.MQTT.Broker)
	}
	if meta.IsDefined("mqtt", "client_id") {
		cfg.MQTT.ClientID = strings.TrimSpace(raw.MQTT.ClientID)
	}
	if meta.IsDefined("mqtt", "topic_prefix") {
		cfg.MQTT.TopicPrefix = strings.Trim(strings.TrimSpace(raw.MQTT.TopicPrefix), "/")
	}
	if meta.IsDefined("mqtt", "qos") {
		cfg.MQTT.QoS = raw.MQTT.QoS
	}
	if meta.IsDefined("mqtt", "username") {
		cfg.MQTT.Username = raw.MQTT.Username
	}
	if meta.IsDefined("mqtt", "password") {
		cfg.MQTT.Password = raw.MQTT.Password
	}

	if meta.IsDefined("influxdb", "enabled") {
		cfg.InfluxDB.Enabled = raw.InfluxDB.Enabled
	}
	if meta.IsDefined("influxdb", "url") {
		cfg.InfluxDB.URL = strings.TrimSpace(raw.InfluxDB.URL)
	}
	if meta.IsDefined("influxdb", "token") {
		cfg.InfluxDB.Token = raw.InfluxDB.Token
	}
	if meta.IsDefined("influxdb", "org") {
		cfg.InfluxDB.Org = strings.TrimSpace(raw.InfluxDB.Org)
	}
	if meta.IsDefined("influxdb", "bucket") {
		cfg.InfluxDB.Bucket = strings.TrimSpace(raw.InfluxDB.Bucket)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func overlayApollo(meta toml.MetaData, raw fileApollo, cfg *ApolloConfig) error {
	if meta.IsDefined("apollo", "host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("apollo", "port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("apollo", "client_id") {
		cfg.ClientID = raw.ClientID
	}
	if meta.IsDefined("apollo", "pinch_filter") {
		cfg.PinchFilter = raw.PinchFilter
	}
	if meta.IsDefined("apollo", "mesh_preset") {
		cfg.MeshPreset = strings.TrimSpace(raw.MeshPreset)
	}
	if meta.IsDefined("apollo", "slow_after_attempts") {
		cfg.SlowAfterAttempts = raw.SlowAfterAttempts
	}
	if meta.IsDefined("apollo", "read_buffer") {
		cfg.ReadBuffer = raw.ReadBuffer
	}
	if meta.IsDefined("apollo", "send_queue") {
		cfg.SendQueue = raw.SendQueue
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"poll_fast", raw.PollFast, &cfg.PollFast},
		{"poll_slow", raw.PollSlow, &cfg.PollSlow},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("apollo", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse apollo.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
