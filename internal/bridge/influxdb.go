package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/danmuck/glovelink/internal/link"
	"github.com/danmuck/glovelink/internal/protocol"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"
)

var (
	ErrInfluxConnect = errors.New("bridge: influxdb connect failed")
	ErrInfluxConfig  = errors.New("bridge: influxdb url, org and bucket required")
)

const (
	measurementDevice = "glove_device"
	measurementLink   = "glove_link"
)

type InfluxConfig struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
	PingTimeout   time.Duration
}

func DefaultInfluxConfig() InfluxConfig {
	return InfluxConfig{
		URL:           "http://127.0.0.1:8086",
		Org:           "glovelink",
		Bucket:        "gloves",
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		PingTimeout:   5 * time.Second,
	}
}

func (c InfluxConfig) Validate() error {
	if c.URL == "" || c.Org == "" || c.Bucket == "" {
		return ErrInfluxConfig
	}
	return nil
}

// Influx writes device telemetry as time series points. Writes are batched
// and never block the caller.
type Influx struct {
	client    influxdb2.Client
	writer    api.WriteAPI
	cfg       InfluxConfig
	points    atomic.Uint64
	writeErrs atomic.Uint64
}

func ConnectInflux(ctx context.Context, cfg InfluxConfig) (*Influx, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval / time.Millisecond))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrInfluxConnect, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrInfluxConnect)
	}

	i := &Influx{client: client, writer: client.WriteAPI(cfg.Org, cfg.Bucket), cfg: cfg}
	go func(errs <-chan error) {
		for err := range errs {
			i.writeErrs.Add(1)
			log.Warn().Err(err).Msg("bridge: influxdb write failed")
		}
	}(i.writer.Errors())
	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("bridge: influxdb connected")
	return i, nil
}

func devicePoint(info protocol.DeviceInfo, at time.Time) *write.Point {
	hand := "unknown"
	if side, ok := protocol.LateralityFromSide(info.Hand); ok {
		hand = side.String()
	}
	return write.NewPoint(
		measurementDevice,
		map[string]string{
			"device": strconv.FormatUint(info.Device, 10),
			"dongle": strconv.FormatUint(info.Dongle, 10),
			"hand":   hand,
		},
		map[string]interface{}{
			"battery_pct":           int64(info.Battery),
			"signal_attenuation_db": int64(info.Attenuation),
			"device_type":           int64(info.DeviceType),
		},
		at,
	)
}

func linkPoint(state link.State, at time.Time) *write.Point {
	return write.NewPoint(
		measurementLink,
		map[string]string{"state": state.String()},
		map[string]interface{}{"state_code": int64(state)},
		at,
	)
}

func (i *Influx) Listener() link.Listener {
	return link.Listener{
		DeviceInfo: func(info protocol.DeviceInfo) {
			i.write(devicePoint(info, time.Now()))
		},
		State: func(_, to link.State) {
			i.write(linkPoint(to, time.Now()))
		},
	}
}

func (i *Influx) write(p *write.Point) {
	i.points.Add(1)
	i.writer.WritePoint(p)
}

func (i *Influx) Name() string {
	return "influxdb"
}

// InfluxStatus is reported on the plugins endpoint.
type InfluxStatus struct {
	URL         string `json:"url"`
	Bucket      string `json:"bucket"`
	Points      uint64 `json:"points"`
	WriteErrors uint64 `json:"write_errors"`
}

func (i *Influx) Status() (any, error) {
	return InfluxStatus{
		URL:         i.cfg.URL,
		Bucket:      i.cfg.Bucket,
		Points:      i.points.Load(),
		WriteErrors: i.writeErrs.Load(),
	}, nil
}

func (i *Influx) Close() {
	i.writer.Flush()
	i.client.Close()
}
