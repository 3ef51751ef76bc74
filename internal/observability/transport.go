package observability

import (
	"sync"

	"github.com/danmuck/glovelink/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
)

var registerTransportOnce sync.Once

// RegisterTransportStats exports the transport's own counters. Only the first
// call registers; later calls are ignored.
func RegisterTransportStats(stats func() transport.Stats) {
	registerTransportOnce.Do(func() {
		counter := func(name, help string, pick func(transport.Stats) uint64) prometheus.Collector {
			return prometheus.NewCounterFunc(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "transport",
					Name:      name,
					Help:      help,
				},
				func() float64 { return float64(pick(stats())) },
			)
		}
		prometheus.MustRegister(
			counter("bytes_sent_total", "Bytes written to the server.", func(s transport.Stats) uint64 { return s.BytesSent }),
			counter("bytes_received_total", "Bytes read from the server.", func(s transport.Stats) uint64 { return s.BytesReceived }),
			counter("frames_sent_total", "Frames written to the server.", func(s transport.Stats) uint64 { return s.FramesSent }),
			counter("frames_received_total", "Frames reassembled from the server.", func(s transport.Stats) uint64 { return s.FramesRecv }),
			counter("connects_total", "Established connections.", func(s transport.Stats) uint64 { return s.Connects }),
			counter("disconnects_total", "Closed connections.", func(s transport.Stats) uint64 { return s.Disconnects }),
			counter("dial_failures_total", "Failed connection attempts.", func(s transport.Stats) uint64 { return s.DialFailures }),
			counter("corrupt_frames_total", "Length prefixes outside the frame bounds.", func(s transport.Stats) uint64 { return s.CorruptFrames }),
			counter("dropped_total", "Payloads dropped before reaching the socket.", func(s transport.Stats) uint64 { return s.Dropped }),
		)
	})
}
