// Package apollotest runs an in-process glove server that speaks the client
// wire protocol over real TCP. It is scripted, not faithful: every request is
// answered immediately and filters only allocate fresh endpoints.
package apollotest

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/danmuck/glovelink/internal/protocol/frame"
	"github.com/danmuck/glovelink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

var ErrNoClient = errors.New("apollotest: no client connected")

// Glove is one emulated device.
type Glove struct {
	ID      uint64
	Side    int8
	Battery uint8
}

type Config struct {
	Dongles     []uint64
	Gloves      []Glove
	Echo        []byte
	FailGesture bool
}

// Server is the emulator. Its zero value is not usable; call Start.
type Server struct {
	ln     net.Listener
	limits frame.Limits
	wg     sync.WaitGroup

	mu        sync.Mutex
	cfg       Config
	conn      net.Conn
	session   uint64
	acked     bool
	streaming bool
	next      uint64
	endpoints map[uint64]uint64
	counts    map[uint16]int
	closed    bool

	writeMu sync.Mutex
}

// Start listens on a loopback port and stops with the test.
func Start(t *testing.T, cfg Config) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("apollotest listen: %v", err)
	}
	if len(cfg.Echo) == 0 {
		cfg.Echo = []byte("apollo-handshake")
	}
	s := &Server{
		ln:        ln,
		limits:    frame.DefaultLimits(),
		cfg:       cfg,
		next:      1 << 32,
		endpoints: make(map[uint64]uint64),
		counts:    make(map[uint16]int),
	}
	for _, g := range cfg.Gloves {
		s.endpoints[g.ID] = g.ID
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	_ = s.ln.Close()
	if conn != nil {
		_ = conn.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.conn = conn
		s.acked = false
		s.streaming = false
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		payload, err := frame.ReadFrame(reader, s.limits)
		if err != nil {
			return
		}
		req, err := protocol.DecodeRequest(payload)
		if err != nil {
			log.Debug().Err(err).Msg("apollotest: bad request")
			continue
		}
		for _, reply := range s.handle(req) {
			if err := s.write(conn, reply); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn net.Conn, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return frame.WriteFrame(conn, payload, s.limits)
}

func (s *Server) handle(req protocol.Request) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[req.Header.Kind]++
	tok := req.Header.Token
	sess := req.Header.Session

	switch req.Header.Kind {
	case schema.KindHandshake:
		s.session = sess
		s.acked = false
		return [][]byte{protocol.EncodeHandshakeEcho(sess, s.cfg.Echo)}
	case schema.KindHandshakeAck:
		s.acked = bytes.Equal(req.Echo, s.cfg.Echo)
		return nil
	case schema.KindListDongles:
		return s.list(schema.KindDongleList, tok, sess, s.cfg.Dongles)
	case schema.KindListDevices:
		var ids []uint64
		if s.hasDongle(req.ID) {
			for _, g := range s.cfg.Gloves {
				ids = append(ids, g.ID)
			}
		}
		return s.list(schema.KindDeviceList, tok, sess, ids)
	case schema.KindListSources:
		ids := make([]uint64, 0, len(s.endpoints))
		for ep := range s.endpoints {
			ids = append(ids, ep)
		}
		return s.list(schema.KindSourceList, tok, sess, ids)
	case schema.KindGetSourceInfo:
		g, ok := s.gloveAt(req.ID)
		if !ok {
			return [][]byte{protocol.EncodeFailure(tok, sess, "unknown source")}
		}
		p, err := protocol.EncodeSourceInfo(tok, sess, protocol.SourceInfo{
			Endpoint: req.ID, SourceType: 1, Device: g.ID, Side: g.Side,
		})
		if err != nil {
			return [][]byte{protocol.EncodeFailure(tok, sess, err.Error())}
		}
		return [][]byte{p}
	case schema.KindGetDeviceInfo:
		g, ok := s.glove(req.ID)
		if !ok {
			return [][]byte{protocol.EncodeFailure(tok, sess, "unknown device")}
		}
		var dongle uint64
		if len(s.cfg.Dongles) > 0 {
			dongle = s.cfg.Dongles[0]
		}
		return [][]byte{protocol.EncodeDeviceInfo(tok, sess, protocol.DeviceInfo{
			Device: g.ID, Dongle: dongle, Hand: g.Side, DeviceType: 1, Battery: g.Battery, Attenuation: 40,
		})}
	case schema.KindAddFilters:
		return [][]byte{s.addFilters(req)}
	case schema.KindAddStreams, schema.KindRemoveStreams, schema.KindSetStreamData, schema.KindSetStreamRaw:
		for _, ep := range append(req.IDs, req.ID) {
			if ep == 0 {
				continue
			}
			if _, ok := s.endpoints[ep]; !ok {
				return [][]byte{protocol.EncodeFailure(tok, sess, "unknown endpoint")}
			}
		}
		return [][]byte{protocol.EncodeSuccess(tok, sess, nil)}
	case schema.KindStartStreams:
		s.streaming = true
		return [][]byte{protocol.EncodeSuccess(tok, sess, nil)}
	case schema.KindStopStreams:
		s.streaming = false
		return [][]byte{protocol.EncodeSuccess(tok, sess, nil)}
	case schema.KindRemoveFilter, schema.KindVibrate:
		return [][]byte{protocol.EncodeSuccess(tok, sess, nil)}
	}
	return nil
}

func (s *Server) list(kind, tok uint16, sess uint64, ids []uint64) [][]byte {
	p, err := protocol.EncodeIDList(kind, tok, sess, ids)
	if err != nil {
		return nil
	}
	return [][]byte{p}
}

func (s *Server) addFilters(req protocol.Request) []byte {
	tok, sess := req.Header.Token, req.Header.Session
	if len(req.IDs) == 0 || len(req.Filters) == 0 {
		return protocol.EncodeFailure(tok, sess, "no sources or filters")
	}
	for _, desc := range req.Filters {
		f, err := protocol.ParseFilter(desc)
		if err != nil {
			return protocol.EncodeFailure(tok, sess, err.Error())
		}
		if f.Gesture != nil && s.cfg.FailGesture {
			return protocol.EncodeFailure(tok, sess, "gesture filter not licensed")
		}
	}
	var first uint64
	for _, src := range req.IDs {
		dev, ok := s.endpoints[src]
		if !ok {
			return protocol.EncodeFailure(tok, sess, "unknown source")
		}
		s.next++
		s.endpoints[s.next] = dev
		if first == 0 {
			first = s.next
		}
	}
	return protocol.EncodeEndpointSuccess(tok, sess, first)
}

func (s *Server) hasDongle(id uint64) bool {
	for _, d := range s.cfg.Dongles {
		if d == id {
			return true
		}
	}
	return false
}

func (s *Server) glove(id uint64) (Glove, bool) {
	for _, g := range s.cfg.Gloves {
		if g.ID == id {
			return g, true
		}
	}
	return Glove{}, false
}

func (s *Server) gloveAt(endpoint uint64) (Glove, bool) {
	dev, ok := s.endpoints[endpoint]
	if !ok {
		return Glove{}, false
	}
	return s.glove(dev)
}

// SetGloves replaces the attached gloves, as if they were plugged or unplugged.
func (s *Server) SetGloves(gloves []Glove) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Gloves = append([]Glove(nil), gloves...)
	for _, g := range gloves {
		if _, ok := s.endpoints[g.ID]; !ok {
			s.endpoints[g.ID] = g.ID
		}
	}
}

// Count is how many requests of kind the server has seen.
func (s *Server) Count(kind uint16) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[kind]
}

func (s *Server) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Acked reports whether the client returned the handshake echo unchanged.
func (s *Server) Acked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

func (s *Server) Session() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// PushJoint streams one joint frame for device in the current session.
func (s *Server) PushJoint(device uint64, f protocol.JointFrame) error {
	s.mu.Lock()
	conn, sess := s.conn, s.session
	s.mu.Unlock()
	if conn == nil {
		return ErrNoClient
	}
	f.Device = device
	return s.write(conn, protocol.EncodeJointData(sess, f))
}

// InjectRaw writes bytes to the client unframed, e.g. a corrupt length prefix.
func (s *Server) InjectRaw(b []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNoClient
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := conn.Write(b)
	return err
}
