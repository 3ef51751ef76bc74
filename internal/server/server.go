package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/glovelink/internal/auth"
	"github.com/danmuck/glovelink/internal/device"
	"github.com/danmuck/glovelink/internal/link"
	"github.com/danmuck/glovelink/internal/observability"
	"github.com/danmuck/glovelink/internal/plugins"
	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

const shutdownGrace = 3 * time.Second

// Controller is the slice of the link the HTTP surface needs.
type Controller interface {
	State() link.State
	Status() link.Status
	Devices() []device.Snapshot
	CanGetHandData(side protocol.Laterality) bool
	Vibrate(side protocol.Laterality, durationMillis, power uint16) int
}

type Config struct {
	Addr        string
	CorsOrigins []string
	// AuthToken guards control routes when non-empty.
	AuthToken string
	Plugins   *plugins.Registry
}

type Server struct {
	addr    string
	ctl     Controller
	hub     *Hub
	guard   auth.Validator
	plugins *plugins.Registry
	router  *gin.Engine
	started time.Time
}

// New builds the router. hub may be nil, which leaves /stream unregistered.
func New(cfg Config, ctl Controller, hub *Hub) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		addr:    cfg.Addr,
		ctl:     ctl,
		hub:     hub,
		plugins: cfg.Plugins,
		router:  r,
		started: time.Now(),
	}
	if token := strings.TrimSpace(cfg.AuthToken); token != "" {
		s.guard = auth.StaticToken{Token: token}
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// ListenAndServe serves until ctx is done, then drains for a short grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("server: http listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	if s.hub != nil {
		s.hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
