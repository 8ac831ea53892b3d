package orchestrator

import (
	"time"

	"github.com/termweb/termweb-go/internal/control"
	"github.com/termweb/termweb-go/internal/panel"
	"github.com/termweb/termweb-go/internal/wsconn"
)

// RunRenderLoop runs the single-threaded render loop at the configured
// frame rate until Stop is called (spec.md §4.7 "Render loop"). The
// invoking goroutine becomes the render thread for the lifetime of the
// call; every native surface mutation in the process happens here.
func (s *Server) RunRenderLoop() {
	s.running.Store(true)

	budget := time.Second / time.Duration(s.cfg.RenderFPS)

	for s.running.Load() {
		start := time.Now()
		s.renderTick()
		elapsed := time.Since(start)
		if remaining := budget - elapsed; remaining > 0 {
			time.Sleep(remaining)
		}
	}
}

// renderTick runs one iteration of the 8-step sequence (spec.md §4.7).
func (s *Server) renderTick() {
	s.drainPendingCreate()
	s.drainPendingDestroy()
	s.drainPendingResize()

	// Step 4: tick the shared terminal runtime once per loop. This
	// rewrite ticks per-panel surfaces individually (there is no single
	// shared runtime object in SPEC_FULL's surface-per-panel model).
	panels := s.snapshotPanels()
	for _, p := range panels {
		p.DrainActions()
	}

	maxBatch := s.cfg.MaxInputBatch
	for _, p := range panels {
		p.DrainInput(maxBatch)
	}

	for _, p := range panels {
		p.Tick()
		title, titleChanged, bell := p.PollTitleAndBell()
		if titleChanged {
			s.broadcastControl(control.EncodePanelTitle(p.ID, title))
		}
		if bell {
			s.broadcastControl(control.EncodePanelBell(p.ID))
		}
	}

	time.Sleep(surfaceSettleSleep)

	nowMs := s.nowMs()
	for _, p := range panels {
		if !p.IsStreaming() {
			continue
		}
		if !p.Capture() {
			continue
		}
		payload, _, err := p.PrepareFrame(nowMs)
		if err != nil {
			log.Debug("prepare_frame failed, dropping", "panel_id", p.ID, "error", err)
			continue
		}
		p.SendFrame(payload)
	}
}

func (s *Server) snapshotPanels() []*panel.Panel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*panel.Panel, 0, len(s.panels))
	for _, p := range s.panels {
		out = append(out, p)
	}
	return out
}

func (s *Server) drainPendingCreate() {
	s.mu.Lock()
	reqs := s.pendingCreate
	s.pendingCreate = nil
	s.mu.Unlock()

	for _, req := range reqs {
		id := s.nextID()
		surf := s.surfaceFactory()
		keyframeInterval := time.Duration(s.cfg.KeyframeIntervalMs) * time.Millisecond
		p, err := panel.New(id, surf, int(req.width), int(req.height), req.scale, s.cfg.DeflateLevel, keyframeInterval)
		if err != nil {
			log.Warn("create_panel failed", "error", err)
			_ = req.conn.SendClose(1011, "surface creation failed")
			continue
		}

		s.mu.Lock()
		s.panels[id] = p
		s.panelConnections[req.conn] = id
		req.conn.UserData = id
		s.mu.Unlock()

		p.SetConnection(req.conn)

		s.broadcastControl(control.EncodePanelCreated(id))
	}
}

func (s *Server) drainPendingDestroy() {
	s.mu.Lock()
	reqs := s.pendingDestroy
	s.pendingDestroy = nil
	s.mu.Unlock()

	for _, req := range reqs {
		s.mu.Lock()
		p, ok := s.panels[req.panelID]
		var toClose []*wsconn.Conn
		if ok {
			delete(s.panels, req.panelID)
			for conn, id := range s.panelConnections {
				if id == req.panelID {
					delete(s.panelConnections, conn)
					toClose = append(toClose, conn)
				}
			}
		}
		s.mu.Unlock()

		for _, conn := range toClose {
			_ = conn.SendClose(1000, "panel closed")
		}

		if !ok {
			continue
		}
		if err := p.Close(); err != nil {
			log.Debug("panel close error", "panel_id", req.panelID, "error", err)
		}
		s.broadcastControl(control.EncodePanelClosed(req.panelID))
	}
}

func (s *Server) drainPendingResize() {
	s.mu.Lock()
	reqs := s.pendingResize
	s.pendingResize = nil
	s.mu.Unlock()

	for _, req := range reqs {
		s.mu.Lock()
		p, ok := s.panels[req.panelID]
		s.mu.Unlock()
		if ok {
			p.ResizeInternal(int(req.width), int(req.height))
		}
	}
}

func (s *Server) nextID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPanelID++
	return s.nextPanelID
}
