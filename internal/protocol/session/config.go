package session

import "time"

// PollConfig defines how often the link ticks.
type PollConfig struct {
	Fast              time.Duration
	Slow              time.Duration
	SlowAfterAttempts int
}

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	ReadBuffer     int
	SendQueue      int
	Poll           PollConfig
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		Fast:              50 * time.Millisecond,
		Slow:              500 * time.Millisecond,
		SlowAfterAttempts: 60,
	}
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 2 * time.Second,
		WriteTimeout:   2 * time.Second,
		RequestTimeout: 5 * time.Second,
		ReadBuffer:     256,
		SendQueue:      256,
		Poll:           DefaultPollConfig(),
	}
}

// NextPollDelay returns the tick interval after failedAttempts consecutive
// connection attempts that did not succeed.
func NextPollDelay(cfg PollConfig, failedAttempts int) time.Duration {
	if cfg.Slow <= 0 || cfg.SlowAfterAttempts <= 0 {
		return cfg.Fast
	}
	if failedAttempts >= cfg.SlowAfterAttempts {
		return cfg.Slow
	}
	return cfg.Fast
}
