package plugins

import "github.com/danmuck/glovelink/internal/link"

// Plugin is an optional consumer of link output, such as a broker or
// time series bridge.
type Plugin interface {
	Name() string
	// Status is reported as-is; an error marks the plugin unhealthy.
	Status() (any, error)
	Listener() link.Listener
}
