package dsu

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dsumotion/internal/udp"
)

const (
	DefaultPort         = 26760
	DefaultPollInterval = 1 * time.Second

	recvBufferSize = 2048
)

type Config struct {
	// Port 0 binds an ephemeral port; DSU clients expect DefaultPort.
	Port          int
	PollInterval  time.Duration
	ClientTimeout time.Duration
}

// Status is a point-in-time view of the server for status pages.
type Status struct {
	Running  bool      `json:"running"`
	Port     int       `json:"port"`
	Peer     string    `json:"peer,omitempty"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithSessionHook registers fn to be called from the dispatch loop whenever
// a client session becomes active (true) or is dropped (false).
func WithSessionHook(fn func(active bool)) Option {
	return func(s *Server) { s.onSession = fn }
}

// PacketRecorder receives every controller data packet after it is sent.
type PacketRecorder interface {
	WritePacket(now time.Time, pkt []byte) error
}

// WithRecorder captures outbound motion packets, e.g. into a replay log.
func WithRecorder(r PacketRecorder) Option {
	return func(s *Server) { s.recorder = r }
}

// Server is the DSU dispatch loop: it owns the UDP socket and the client
// session, answers controller info requests and streams motion reports to
// the active client whenever a poll interval passes without a request.
type Server struct {
	cfg       Config
	log       *zap.Logger
	metrics   *Metrics
	onSession func(active bool)
	recorder  PacketRecorder
	now       func() time.Time // session clock
	listen    func(port int) (udp.Conn, error)

	sensors SensorBuffer

	running atomic.Bool

	mu   sync.Mutex // serializes Start/Stop; guards conn and done
	conn udp.Conn
	done chan struct{}

	statusMu sync.Mutex
	peer     netip.AddrPort
	seen     time.Time
}

func New(cfg Config, opts ...Option) *Server {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = DefaultClientTimeout
	}
	s := &Server{
		cfg: cfg,
		log: zap.NewNop(),
		now: time.Now,
		listen: func(port int) (udp.Conn, error) {
			conn, err := udp.Listen(port)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the socket and launches the dispatch loop. It is a no-op if
// the server is already running. A bind failure is returned and leaves the
// server stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return nil
	}
	// A loop that died on a socket failure may still be unwinding.
	if s.done != nil {
		<-s.done
	}

	conn, err := s.listen(s.cfg.Port)
	if err != nil {
		return fmt.Errorf("dsu: bind port %d: %w", s.cfg.Port, err)
	}
	s.conn = conn
	s.done = make(chan struct{})
	s.running.Store(true)
	s.metrics.setRunning(true)

	s.log.Info("dsu server started", zap.Stringer("addr", conn.LocalAddr()))
	go s.serve(conn, s.done)
	return nil
}

// Stop closes the socket, which unblocks the pending receive, and waits for
// the loop to exit. It is a no-op if the server is not running.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.done != nil {
		<-s.done
		s.done = nil
	}
	s.conn = nil
	s.log.Info("dsu server stopped")
}

func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// UpdateSensorData stores the latest motion sample. Safe to call from any
// goroutine at any rate.
func (s *Server) UpdateSensorData(accel, gyro [3]float32) {
	s.sensors.Update(accel, gyro)
}

// LocalAddr returns the bound socket address, or nil when stopped.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *Server) Status() Status {
	st := Status{Running: s.running.Load(), Port: s.cfg.Port}
	if addr, ok := s.LocalAddr().(*net.UDPAddr); ok {
		st.Port = addr.Port
	}
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.peer.IsValid() {
		st.Peer = s.peer.String()
		st.LastSeen = s.seen
	}
	return st
}

func (s *Server) serve(conn udp.Conn, done chan struct{}) {
	sess := NewSession(s.cfg.ClientTimeout)
	enc := NewEncoder()
	buf := make([]byte, recvBufferSize)

	defer func() {
		_ = conn.Close()
		if sess.Active() {
			s.setSession(sess, false, false)
		}
		if s.running.CompareAndSwap(true, false) {
			s.log.Warn("dsu server loop exited unexpectedly")
		}
		s.metrics.setRunning(false)
		close(done)
	}()

	for s.running.Load() {
		if sess.IsExpired(s.now()) {
			peer, _ := sess.Peer()
			s.log.Info("client timed out, awaiting new connection", zap.Stringer("peer", peer))
			sess.Clear()
			s.setSession(sess, false, true)
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.PollInterval)); err != nil {
			if s.running.Load() {
				s.log.Error("set read deadline", zap.Error(err))
			}
			return
		}

		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if udp.IsTimeout(err) {
				if peer, ok := sess.Peer(); ok {
					accel, gyro := s.sensors.Snapshot()
					s.send(conn, peer, MsgControllerData, enc.EncodeControllerData(accel, gyro))
				}
				continue
			}
			if s.running.Load() && !errors.Is(err, net.ErrClosed) {
				s.log.Error("udp receive failed", zap.Error(err))
			}
			return
		}

		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		prev, wasActive := sess.Peer()
		sess.Touch(from, s.now())
		switch {
		case !wasActive:
			s.log.Info("client connected", zap.Stringer("peer", from))
			s.setSession(sess, true, false)
		case prev != from:
			s.log.Info("client replaced", zap.Stringer("old", prev), zap.Stringer("new", from))
			s.setSession(sess, true, false)
		default:
			s.setPeer(sess)
		}

		s.handle(conn, from, buf[:n])
	}
}

func (s *Server) handle(conn udp.Conn, from netip.AddrPort, b []byte) {
	h, err := DecodeHeader(b)
	if err != nil {
		s.metrics.malformedPacket()
		s.log.Debug("dropping datagram", zap.Stringer("peer", from), zap.Int("len", len(b)), zap.Error(err))
		return
	}
	s.metrics.request(h.Type)

	switch h.Type {
	case MsgControllerInfo:
		s.log.Debug("controller info request", zap.Stringer("peer", from))
		s.send(conn, from, MsgControllerInfo, EncodeControllerInfo(0, true))
		for slot := 1; slot < NumSlots; slot++ {
			s.send(conn, from, MsgControllerInfo, EncodeControllerInfo(slot, false))
		}
	default:
		// Other request types are expected noise from clients.
	}
}

// send is best effort: failures are counted and logged, never retried.
func (s *Server) send(conn udp.Conn, to netip.AddrPort, msgType uint32, pkt []byte) {
	if _, err := conn.WriteToUDPAddrPort(pkt, to); err != nil {
		s.metrics.sendError()
		s.log.Debug("udp send failed", zap.Stringer("peer", to), zap.Error(err))
		return
	}
	s.metrics.sent(msgType)
	if s.recorder != nil && msgType == MsgControllerData {
		if err := s.recorder.WritePacket(time.Now(), pkt); err != nil {
			s.log.Debug("record packet failed", zap.Error(err))
		}
	}
}

func (s *Server) setSession(sess *Session, active, expired bool) {
	s.setPeer(sess)
	s.metrics.session(active, expired)
	if s.onSession != nil {
		s.onSession(active)
	}
}

func (s *Server) setPeer(sess *Session) {
	peer, _ := sess.Peer()
	s.statusMu.Lock()
	s.peer = peer
	s.seen = sess.LastSeen()
	s.statusMu.Unlock()
}
