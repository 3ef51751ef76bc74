package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

func toFile(cfg Config) fileConfig {
	a := cfg.Apollo
	return fileConfig{
		Apollo: fileApollo{
			Host:              a.Host,
			Port:              a.Port,
			ClientID:          a.ClientID,
			PinchFilter:       a.PinchFilter,
			MeshPreset:        a.MeshPreset,
			PollFast:          a.PollFast.String(),
			PollSlow:          a.PollSlow.String(),
			SlowAfterAttempts: a.SlowAfterAttempts,
			RequestTimeout:    a.RequestTimeout.String(),
			ConnectTimeout:    a.ConnectTimeout.String(),
			WriteTimeout:      a.WriteTimeout.String(),
			ReadBuffer:        a.ReadBuffer,
			SendQueue:         a.SendQueue,
		},
		Log: fileLog{
			Level:     cfg.Log.Level,
			JSON:      cfg.Log.JSON,
			Timestamp: cfg.Log.Timestamp,
			NoColor:   cfg.Log.NoColor,
		},
		HTTP: fileHTTP{
			Enabled:     cfg.HTTP.Enabled,
			Addr:        cfg.HTTP.Addr,
			CorsOrigins: cfg.HTTP.CorsOrigins,
			AuthToken:   cfg.HTTP.AuthToken,
		},
		MQTT: fileMQTT{
			Enabled:     cfg.MQTT.Enabled,
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
		},
		InfluxDB: fileInflux{
			Enabled: cfg.InfluxDB.Enabled,
			URL:     cfg.InfluxDB.URL,
			Token:   cfg.InfluxDB.Token,
			Org:     cfg.InfluxDB.Org,
			Bucket:  cfg.InfluxDB.Bucket,
		},
	}
}

// Template renders cfg as a TOML file that Load reads back unchanged.
func Template(cfg Config) (string, error) {
	out, err := toml.Marshal(toFile(cfg))
	if err != nil {
		return "", fmt.Errorf("config render failed: %w", err)
	}
	return string(out), nil
}

// WriteTemplate writes the default configuration to path.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template(Default())
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
