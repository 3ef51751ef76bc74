package observability

import (
	"github.com/danmuck/glovelink/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs the runtime logger tagged with app. GLOVELINK_LOG_*
// variables win over cfg.
func InitLogger(app string, cfg logging.Config) zerolog.Logger {
	logging.ApplyEnvOverrides(&cfg)
	logger := logging.Apply(cfg).With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
