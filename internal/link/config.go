package link

import (
	"math/rand"
	"time"

	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/danmuck/glovelink/internal/protocol/session"
)

type Config struct {
	ClientID       uint16
	PinchFilter    bool
	Mesh           protocol.MeshConfig
	Poll           session.PollConfig
	RequestTimeout time.Duration

	// Now and Rand default to the wall clock and a time-seeded source.
	Now  func() time.Time
	Rand *rand.Rand
}

func DefaultConfig() Config {
	mesh, _ := protocol.MeshPreset(protocol.DefaultMeshPreset)
	return Config{
		ClientID:       protocol.DefaultClientID,
		PinchFilter:    false,
		Mesh:           mesh,
		Poll:           session.DefaultPollConfig(),
		RequestTimeout: session.DefaultConfig().RequestTimeout,
	}
}
