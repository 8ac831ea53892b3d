package orchestrator

import (
	"encoding/binary"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/termweb/termweb-go/internal/surface"
	"github.com/termweb/termweb-go/internal/wsconn"
)

// handshakeConn performs a real RFC 6455 handshake over an in-memory
// net.Pipe via wsconn's exported Accept, then drains whatever the server
// side writes so server-side sends never block on an unbuffered pipe.
func handshakeConn(t *testing.T) *wsconn.Conn {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	done := make(chan struct{})
	var conn *wsconn.Conn
	var acceptErr error
	go func() {
		conn, acceptErr = wsconn.Accept(server, wsconn.DefaultConfig())
		close(done)
	}()

	req := "GET /panel HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"

	readDone := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		client.Read(buf) // handshake response
		close(readDone)
	}()
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	<-readDone
	<-done
	if acceptErr != nil {
		t.Fatalf("Accept: %v", acceptErr)
	}

	go func() {
		buf := make([]byte, 1<<16)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()

	return conn
}

// handshakeConnCapture is handshakeConn's variant that, instead of
// discarding server-sent frames, decodes each one and pushes its payload
// onto the returned channel — used to assert on broadcastControl content.
func handshakeConnCapture(t *testing.T) (*wsconn.Conn, chan []byte) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	done := make(chan struct{})
	var conn *wsconn.Conn
	var acceptErr error
	go func() {
		conn, acceptErr = wsconn.Accept(server, wsconn.DefaultConfig())
		close(done)
	}()

	req := "GET /control HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"

	readDone := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		client.Read(buf)
		close(readDone)
	}()
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	<-readDone
	<-done
	if acceptErr != nil {
		t.Fatalf("Accept: %v", acceptErr)
	}

	frames := make(chan []byte, 256)
	go func() {
		defer close(frames)
		header := make([]byte, 2)
		for {
			if _, err := readFullFrame(client, header); err != nil {
				return
			}
			length := int(header[1] & 0x7F)
			switch length {
			case 126:
				ext := make([]byte, 2)
				if _, err := readFullFrame(client, ext); err != nil {
					return
				}
				length = int(binary.BigEndian.Uint16(ext))
			case 127:
				ext := make([]byte, 8)
				if _, err := readFullFrame(client, ext); err != nil {
					return
				}
				length = int(binary.BigEndian.Uint64(ext))
			}
			payload := make([]byte, length)
			if length > 0 {
				if _, err := readFullFrame(client, payload); err != nil {
					return
				}
			}
			frames <- payload
		}
	}()

	return conn, frames
}

func readFullFrame(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func nextControlFrame(t *testing.T, frames <-chan []byte) string {
	t.Helper()
	select {
	case f := <-frames:
		return string(f)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control frame")
		return ""
	}
}

func TestConfigNormalizedFillsDefaults(t *testing.T) {
	cfg := Config{}.normalized()
	if cfg.RenderFPS != defaultRenderFPS {
		t.Errorf("RenderFPS = %d", cfg.RenderFPS)
	}
	if cfg.KeyframeIntervalMs != 2000 {
		t.Errorf("KeyframeIntervalMs = %d", cfg.KeyframeIntervalMs)
	}
	if cfg.MaxInputBatch != 256 {
		t.Errorf("MaxInputBatch = %d", cfg.MaxInputBatch)
	}
}

func TestNewServerStartsWithNoPanels(t *testing.T) {
	s := New(Config{}, func() surface.Surface { return surface.NewFake() }, nil, t.TempDir())
	if s.PanelCount() != 0 {
		t.Fatalf("PanelCount = %d, want 0", s.PanelCount())
	}
}

func TestDrainPendingCreateRegistersPanel(t *testing.T) {
	s := New(Config{}, func() surface.Surface { return surface.NewFake() }, nil, t.TempDir())

	s.mu.Lock()
	s.pendingCreate = append(s.pendingCreate, createRequest{
		conn: handshakeConn(t), width: 80, height: 24, scale: 1.0,
	})
	s.mu.Unlock()

	s.drainPendingCreate()

	if s.PanelCount() != 1 {
		t.Fatalf("PanelCount = %d, want 1", s.PanelCount())
	}
}

func TestDrainPendingDestroyRemovesPanel(t *testing.T) {
	s := New(Config{}, func() surface.Surface { return surface.NewFake() }, nil, t.TempDir())

	s.mu.Lock()
	s.pendingCreate = append(s.pendingCreate, createRequest{conn: handshakeConn(t), width: 80, height: 24, scale: 1})
	s.mu.Unlock()
	s.drainPendingCreate()

	s.mu.Lock()
	var id uint32
	for pid := range s.panels {
		id = pid
	}
	s.pendingDestroy = append(s.pendingDestroy, destroyRequest{panelID: id})
	s.mu.Unlock()
	s.drainPendingDestroy()

	if s.PanelCount() != 0 {
		t.Fatalf("PanelCount = %d, want 0 after destroy", s.PanelCount())
	}
}

func TestOnControlMessageViewActionIsEnqueuedNotAppliedSynchronously(t *testing.T) {
	fake := surface.NewFake()
	s := New(Config{}, func() surface.Surface { return fake }, nil, t.TempDir())

	s.mu.Lock()
	s.pendingCreate = append(s.pendingCreate, createRequest{conn: handshakeConn(t), width: 80, height: 24, scale: 1})
	s.mu.Unlock()
	s.drainPendingCreate()

	s.mu.Lock()
	var id uint32
	for pid := range s.panels {
		id = pid
	}
	p := s.panels[id]
	s.mu.Unlock()

	msg := []byte(`{"type":"view_action","panel_id":` + uitoa(id) + `,"action":"scroll_to_bottom"}`)
	s.onControlMessage(handshakeConn(t), msg, false)

	// Calling onControlMessage must not touch the surface directly — it
	// should only land in the panel's action queue for the render thread.
	if len(fake.Actions) != 0 {
		t.Fatalf("surface saw actions before DrainActions: %v", fake.Actions)
	}
	p.DrainActions()
	if len(fake.Actions) != 1 || fake.Actions[0] != "scroll_to_bottom" {
		t.Fatalf("Actions after DrainActions = %v, want [scroll_to_bottom]", fake.Actions)
	}
}

func uitoa(id uint32) string {
	if id == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	return string(buf[i:])
}

func TestRenderTickSendsFrameToStreamingPanel(t *testing.T) {
	fake := surface.NewFake()
	fake.SetFramebuffer(surface.Framebuffer{
		Pixels: make([]byte, 80*24*4), Width: 80, Height: 24, Stride: 80 * 4,
	})

	s := New(Config{RenderFPS: 30}, func() surface.Surface { return fake }, nil, t.TempDir())

	panelConn, frames := handshakeConnCapture(t)
	s.mu.Lock()
	s.pendingCreate = append(s.pendingCreate, createRequest{conn: panelConn, width: 80, height: 24, scale: 1})
	s.mu.Unlock()
	s.drainPendingCreate()

	s.renderTick()

	if !fake.IsCreated() {
		t.Fatal("expected surface to be created")
	}
	frame := nextControlFrame(t, frames)
	if len(frame) < 13 || frame[0] != 1 { // 13-byte pixel header, type 1 = keyframe
		t.Fatalf("expected a keyframe pixel frame on the panel connection, got %d bytes", len(frame))
	}
}

func TestRenderTickBroadcastsTitleAndBell(t *testing.T) {
	fake := surface.NewFake()
	fake.SetFramebuffer(surface.Framebuffer{
		Pixels: make([]byte, 80*24*4), Width: 80, Height: 24, Stride: 80 * 4,
	})

	s := New(Config{RenderFPS: 30}, func() surface.Surface { return fake }, nil, t.TempDir())

	s.mu.Lock()
	s.pendingCreate = append(s.pendingCreate, createRequest{conn: handshakeConn(t), width: 80, height: 24, scale: 1})
	s.mu.Unlock()
	s.drainPendingCreate()

	controlConn, frames := handshakeConnCapture(t)
	s.mu.Lock()
	s.controlConns = append(s.controlConns, controlConn)
	s.mu.Unlock()

	fake.SetTitle("new title")
	fake.RingBell()

	s.renderTick()

	first := nextControlFrame(t, frames)
	second := nextControlFrame(t, frames)
	combined := first + second
	if !strings.Contains(combined, `"type":"panel_title"`) || !strings.Contains(combined, "new title") {
		t.Errorf("expected a panel_title broadcast with the new title, got %q / %q", first, second)
	}
	if !strings.Contains(combined, `"type":"panel_bell"`) {
		t.Errorf("expected a panel_bell broadcast, got %q / %q", first, second)
	}
}

func TestRunRenderLoopStopsPromptly(t *testing.T) {
	s := New(Config{RenderFPS: 200}, func() surface.Surface { return surface.NewFake() }, nil, t.TempDir())

	done := make(chan struct{})
	go func() {
		s.RunRenderLoop()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunRenderLoop did not stop after Stop()")
	}
}
