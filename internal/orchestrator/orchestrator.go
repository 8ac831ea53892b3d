// Package orchestrator implements the server render loop, panel/control
// registries, and the WebSocket callbacks that feed them (spec.md §4.7).
// The invoking goroutine becomes the render loop; one goroutine each runs
// the HTTP, panel-WS, and control-WS accept loops.
package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/termweb/termweb-go/internal/control"
	"github.com/termweb/termweb-go/internal/logging"
	"github.com/termweb/termweb-go/internal/panel"
	"github.com/termweb/termweb-go/internal/surface"
	"github.com/termweb/termweb-go/internal/transfer"
	"github.com/termweb/termweb-go/internal/wsconn"
	"github.com/termweb/termweb-go/internal/wsserver"
)

var log = logging.L("orchestrator")

const (
	defaultRenderFPS   = 30
	surfaceSettleSleep = time.Millisecond
)

// SurfaceFactory creates a new Surface implementation for a panel. The
// orchestrator never constructs a concrete surface type itself, keeping
// the terminal emulator an injected external collaborator (spec.md §1).
type SurfaceFactory func() surface.Surface

// Config controls render-loop timing and panel defaults.
type Config struct {
	RenderFPS          int
	KeyframeIntervalMs int64
	DeflateLevel       int
	MaxInputBatch      int
	TransferChunkBytes int
}

func (c Config) normalized() Config {
	if c.RenderFPS <= 0 {
		c.RenderFPS = defaultRenderFPS
	}
	if c.DeflateLevel == 0 {
		c.DeflateLevel = 6
	}
	if c.MaxInputBatch <= 0 {
		c.MaxInputBatch = 256
	}
	if c.KeyframeIntervalMs <= 0 {
		c.KeyframeIntervalMs = 2000
	}
	if c.TransferChunkBytes <= 0 {
		c.TransferChunkBytes = 1 << 20
	}
	return c
}

type createRequest struct {
	conn   *wsconn.Conn
	width  uint16
	height uint16
	scale  float32
}

type destroyRequest struct {
	panelID uint32
}

type resizeRequest struct {
	panelID uint32
	width   uint16
	height  uint16
}

// Server holds the panel registry, the connection-to-panel bindings, the
// set of connected control clients, and the three pending-work queues the
// render loop drains each tick (spec.md §4.7).
type Server struct {
	cfg Config

	mu               sync.Mutex
	panels           map[uint32]*panel.Panel
	panelConnections map[*wsconn.Conn]uint32
	controlConns     []*wsconn.Conn
	nextPanelID      uint32

	pendingCreate  []createRequest
	pendingDestroy []destroyRequest
	pendingResize  []resizeRequest

	surfaceFactory SurfaceFactory
	transfers      *transfer.Manager

	running atomic.Bool
	nowMs   func() int64
}

// New constructs a Server. nowMs lets tests drive the render clock
// deterministically; pass nil in production to use wall-clock time.
// transferStateDir is where the file-transfer engine persists resumable
// session state (internal/config's TransferStateDir).
func New(cfg Config, surfaceFactory SurfaceFactory, nowMs func() int64, transferStateDir string) *Server {
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	normalized := cfg.normalized()
	return &Server{
		cfg:              normalized,
		panels:           make(map[uint32]*panel.Panel),
		panelConnections: make(map[*wsconn.Conn]uint32),
		surfaceFactory:   surfaceFactory,
		transfers:        transfer.NewManager(transferStateDir, normalized.TransferChunkBytes),
		nowMs:            nowMs,
	}
}

// PanelCallbacks returns the wsserver.Callbacks for the panel-WS endpoint
// (spec.md §4.7 "Panel WS callbacks").
func (s *Server) PanelCallbacks() wsserver.Callbacks {
	return wsserver.Callbacks{
		OnConnect:    func(conn *wsconn.Conn) {},
		OnMessage:    s.onPanelMessage,
		OnDisconnect: s.onPanelDisconnect,
	}
}

// ControlCallbacks returns the wsserver.Callbacks for the control-WS
// endpoint (spec.md §4.7 "Control WS callbacks").
func (s *Server) ControlCallbacks() wsserver.Callbacks {
	return wsserver.Callbacks{
		OnConnect:    s.onControlConnect,
		OnMessage:    s.onControlMessage,
		OnDisconnect: s.onControlDisconnect,
	}
}

func (s *Server) onPanelMessage(conn *wsconn.Conn, payload []byte, isBinary bool) {
	if !isBinary || len(payload) == 0 {
		return
	}

	s.mu.Lock()
	panelID, bound := s.panelConnections[conn]
	s.mu.Unlock()

	if bound {
		s.mu.Lock()
		p := s.panels[panelID]
		s.mu.Unlock()
		if p != nil {
			p.HandleMessage(payload)
		}
		return
	}

	switch payload[0] {
	case control.TagConnectPanel:
		req, err := control.ParseConnectPanel(payload[1:])
		if err != nil {
			log.Debug("malformed connect_panel", "error", err)
			return
		}
		s.mu.Lock()
		p, ok := s.panels[req.PanelID]
		if ok {
			s.panelConnections[conn] = req.PanelID
			conn.UserData = req.PanelID
		}
		s.mu.Unlock()
		if ok {
			p.SetConnection(conn)
		}

	case control.TagCreatePanel:
		req, err := control.ParseCreatePanel(payload[1:])
		if err != nil {
			log.Debug("malformed create_panel", "error", err)
			return
		}
		s.mu.Lock()
		s.pendingCreate = append(s.pendingCreate, createRequest{
			conn: conn, width: req.Width, height: req.Height, scale: req.Scale,
		})
		s.mu.Unlock()
	}
}

func (s *Server) onPanelDisconnect(conn *wsconn.Conn) {
	s.mu.Lock()
	panelID, ok := s.panelConnections[conn]
	if ok {
		delete(s.panelConnections, conn)
	}
	p := s.panels[panelID]
	s.mu.Unlock()

	if ok && p != nil {
		p.SetConnection(nil)
	}
}

func (s *Server) onControlConnect(conn *wsconn.Conn) {
	s.mu.Lock()
	s.controlConns = append(s.controlConns, conn)
	ids := make([]uint32, 0, len(s.panels))
	for id := range s.panels {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	conn.SendText(string(control.EncodePanelList(ids)))
}

func (s *Server) onControlDisconnect(conn *wsconn.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.controlConns {
		if c == conn {
			s.controlConns = append(s.controlConns[:i], s.controlConns[i+1:]...)
			break
		}
	}
}

func (s *Server) onControlMessage(conn *wsconn.Conn, payload []byte, isBinary bool) {
	if isBinary {
		// File-transfer wire messages (spec.md §4.8, tags 0x20-0x24) ride
		// the control channel's binary side; panel management rides JSON
		// text frames on the same connection.
		s.transfers.HandleMessage(conn, payload)
		return
	}
	msg, err := control.ParseControlMessage(payload)
	if err != nil {
		log.Debug("malformed control message", "error", err)
		return
	}

	switch msg.Type {
	case "create_panel":
		// Informational today: panels are created on panel-WS connect
		// (spec.md §4.7 "log and ignore").
		log.Debug("create_panel on control channel is informational, ignoring")

	case "close_panel":
		s.mu.Lock()
		s.pendingDestroy = append(s.pendingDestroy, destroyRequest{panelID: msg.PanelID})
		s.mu.Unlock()

	case "resize_panel":
		s.mu.Lock()
		s.pendingResize = append(s.pendingResize, resizeRequest{
			panelID: msg.PanelID, width: msg.Width, height: msg.Height,
		})
		s.mu.Unlock()

	case "view_action":
		s.mu.Lock()
		p := s.panels[msg.PanelID]
		s.mu.Unlock()
		if p != nil {
			// Enqueued onto the render thread rather than invoked here —
			// see DESIGN.md's decision on spec.md §9 Open Question 1.
			p.EnqueueAction(msg.Action)
		}
	}
}

// broadcastControl sends a JSON text frame to every connected control
// client (spec.md §4.7 "Broadcasts"). The connection list is copied under
// the server mutex; the sends happen after it is released.
func (s *Server) broadcastControl(data []byte) {
	s.mu.Lock()
	conns := append([]*wsconn.Conn(nil), s.controlConns...)
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.SendText(string(data))
	}
}

// Stop marks the render loop for exit; RunRenderLoop returns on its next
// iteration.
func (s *Server) Stop() { s.running.Store(false) }

// PanelCount reports the number of registered panels, for tests and
// health reporting.
func (s *Server) PanelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.panels)
}
