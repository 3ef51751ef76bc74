package server

import (
	"net/http"
	"time"

	"github.com/danmuck/glovelink/internal/auth"
	"github.com/danmuck/glovelink/internal/link"
	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultVibrateMillis = 200
	defaultVibratePower  = 65535
)

type vibrateRequest struct {
	DurationMillis *uint16 `json:"duration_ms"`
	Power          *uint16 `json:"power"`
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": Version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		state := s.ctl.State()
		status := http.StatusOK
		if state != link.Streaming {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready": state == link.Streaming,
			"state": state.String(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.ctl.Status())
	})

	r.GET("/devices", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"devices": s.ctl.Devices()})
	})

	r.GET("/hands/:side", func(c *gin.Context) {
		side, err := protocol.ParseLaterality(c.Param("side"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"side": side.String(), "available": s.ctl.CanGetHandData(side)})
	})

	r.GET("/plugins", func(c *gin.Context) {
		if s.plugins == nil {
			c.JSON(http.StatusOK, gin.H{"plugins": []any{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"plugins": s.plugins.Reports()})
	})

	r.POST("/vibrate/:side", s.requireToken(), s.handleVibrate)

	if s.hub != nil {
		r.GET("/stream", gin.WrapH(s.hub))
	}
}

// requireToken is a no-op unless the server was built with an auth token.
func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.guard == nil {
			c.Next()
			return
		}
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok || s.guard.Validate(token) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) handleVibrate(c *gin.Context) {
	side, err := protocol.ParseLaterality(c.Param("side"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req vibrateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	duration := uint16(defaultVibrateMillis)
	if req.DurationMillis != nil {
		duration = *req.DurationMillis
	}
	power := uint16(defaultVibratePower)
	if req.Power != nil {
		power = *req.Power
	}

	sent := s.ctl.Vibrate(side, duration, power)
	status := http.StatusAccepted
	if sent == 0 {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{
		"side":        side.String(),
		"sent":        sent,
		"duration_ms": duration,
		"power":       power,
	})
}
