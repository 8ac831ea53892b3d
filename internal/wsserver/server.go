// Package wsserver implements one listening endpoint's accept loop and
// per-connection worker lifecycle, per spec.md §4.2. Each endpoint (panel
// stream, control channel) gets its own Server; file transfers ride the
// control channel.
package wsserver

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/termweb/termweb-go/internal/logging"
	"github.com/termweb/termweb-go/internal/wsconn"
)

var log = logging.L("wsserver")

const (
	acceptReadTimeout   = 100 * time.Millisecond
	defaultWriteTimeout = time.Second
	shutdownDrainWait   = 3 * time.Second
)

// Callbacks are invoked by the per-connection worker loop. They must not
// block for long: on_message runs inline on the connection's own worker
// goroutine.
type Callbacks struct {
	OnConnect    func(conn *wsconn.Conn)
	OnMessage    func(conn *wsconn.Conn, payload []byte, isBinary bool)
	OnDisconnect func(conn *wsconn.Conn)
}

// Config controls accept-loop and per-connection behavior.
type Config struct {
	ConnCfg      wsconn.Config
	WriteTimeout time.Duration
}

// Server owns a single listening socket and the worker goroutines spawned
// for each accepted connection (spec.md §4.2).
type Server struct {
	ln        net.Listener
	cfg       Config
	callbacks Callbacks

	running atomic.Bool
	stopped atomic.Bool

	activeConns atomic.Int64
	stopOnce    sync.Once
	shutdownCh  chan struct{}
}

// New binds addr and returns a server ready to Serve.
func New(addr string, cfg Config, callbacks Callbacks) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	cfg.ConnCfg.WriteTimeout = cfg.WriteTimeout

	s := &Server{
		ln:         ln,
		cfg:        cfg,
		callbacks:  callbacks,
		shutdownCh: make(chan struct{}),
	}
	s.running.Store(true)
	return s, nil
}

// Addr returns the bound listen address, useful when addr was "host:0".
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve runs the accept loop until Stop is called. It blocks the calling
// goroutine, matching spec.md's "one thread each for HTTP server, control
// WS, panel WS" ownership model.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.stopped.Load() {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Warn("accept error", "error", err)
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(raw net.Conn) {
	if tcpConn, ok := raw.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetKeepAlive(true)
	}

	conn, err := wsconn.Accept(raw, s.cfg.ConnCfg)
	if err != nil {
		log.Debug("handshake failed", "error", err)
		raw.Close()
		return
	}

	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	if s.callbacks.OnConnect != nil {
		s.callbacks.OnConnect(conn)
	}

	s.workerLoop(conn)

	if s.callbacks.OnDisconnect != nil {
		s.callbacks.OnDisconnect(conn)
	}
	conn.Close()
}

// workerLoop repeatedly reads one frame at a time with a short read
// deadline so it can notice shutdown without a dedicated poll fd
// (spec.md §4.2's "two-fd poll" collapses to a blocking-read-with-timeout
// on a platform where every goroutine can check a channel cheaply between
// reads).
func (s *Server) workerLoop(conn *wsconn.Conn) {
	for {
		select {
		case <-s.shutdownCh:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(acceptReadTimeout))
		frame, err := conn.ReadFrame()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, wsconn.ErrPayloadTooLarge) || errors.Is(err, wsconn.ErrDecompressionFailed) {
				log.Debug("protocol error, closing connection", "error", err)
			}
			return
		}
		if !conn.IsOpen() {
			return
		}

		switch frame.Opcode {
		case wsconn.OpText:
			if s.callbacks.OnMessage != nil {
				s.callbacks.OnMessage(conn, frame.Payload, false)
			}
		case wsconn.OpBinary:
			if s.callbacks.OnMessage != nil {
				s.callbacks.OnMessage(conn, frame.Payload, true)
			}
		case wsconn.OpPing:
			_ = conn.SendPong(frame.Payload)
		case wsconn.OpClose:
			_ = conn.SendClose(1000, "")
			return
		}
	}
}

// Stop is idempotent: clears running, closes the listener to unblock
// Accept, signals all workers, and waits up to shutdownDrainWait for
// in-flight connections to finish (spec.md §4.2).
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		s.stopped.Store(true)
		close(s.shutdownCh)
		_ = s.ln.Close()

		deadline := time.Now().Add(shutdownDrainWait)
		for s.activeConns.Load() > 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
	})
}

// ActiveConnections reports the current in-flight worker count, exposed
// for tests and health reporting.
func (s *Server) ActiveConnections() int64 { return s.activeConns.Load() }
