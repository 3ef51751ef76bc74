package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/glovelink/internal/bridge"
	"github.com/danmuck/glovelink/internal/config"
	"github.com/danmuck/glovelink/internal/link"
	"github.com/danmuck/glovelink/internal/observability"
	"github.com/danmuck/glovelink/internal/plugins"
	"github.com/danmuck/glovelink/internal/server"
	"github.com/danmuck/glovelink/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the glove server and stream until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runLink(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a glovelink.toml (defaults apply when empty)")
	return cmd
}

// runLink owns every long-lived component for one process lifetime. It
// returns nil when ctx is cancelled.
func runLink(ctx context.Context, cfg config.Config) error {
	logCfg, err := cfg.Logging()
	if err != nil {
		return err
	}
	logger := observability.InitLogger("glovectl", logCfg)
	if logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	linkCfg, err := cfg.Link()
	if err != nil {
		return err
	}
	tr, err := transport.NewTCP(cfg.Transport())
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	l, err := link.New(linkCfg, tr)
	if err != nil {
		return err
	}
	tr.OnPacket(l.HandlePacket)
	tr.OnDisconnect(func(cause error) {
		logger.Warn().Err(cause).Str("server", tr.Address()).Msg("glovectl: server connection lost")
	})

	observability.RegisterMetrics()
	observability.RegisterTransportStats(tr.Stats)

	reg := plugins.NewRegistry()
	if cfg.MQTT.Enabled {
		m, err := bridge.ConnectMQTT(cfg.MQTTBridge())
		if err != nil {
			return err
		}
		defer m.Close()
		if err := reg.Register(m); err != nil {
			return err
		}
	}
	if cfg.InfluxDB.Enabled {
		db, err := bridge.ConnectInflux(ctx, cfg.InfluxBridge())
		if err != nil {
			return err
		}
		defer db.Close()
		if err := reg.Register(db); err != nil {
			return err
		}
	}
	var hub *server.Hub
	if cfg.HTTP.Enabled {
		hub = server.NewHub(0)
		if err := reg.Register(hub); err != nil {
			return err
		}
	}
	defer reg.Attach(l.Subscribe)()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := l.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.HTTP.Enabled {
		srv := server.New(server.Config{
			Addr:        cfg.HTTP.Addr,
			CorsOrigins: cfg.HTTP.CorsOrigins,
			AuthToken:   cfg.HTTP.AuthToken,
			Plugins:     reg,
		}, l, hub)
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	logger.Info().
		Str("server", cfg.Address()).
		Bool("http", cfg.HTTP.Enabled).
		Strs("plugins", reg.Names()).
		Msg("glovectl: running")
	err = g.Wait()
	logger.Info().Err(err).Msg("glovectl: stopped")
	return err
}
