// Package panel implements the per-session streaming state machine
// (spec.md §3 Panel, §4.6): a bound WebSocket connection, an input queue
// fed by worker goroutines and drained only by the render thread, and the
// capture/compress/send pipeline that turns a terminal surface into pixel
// frames.
package panel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/termweb/termweb-go/internal/control"
	"github.com/termweb/termweb-go/internal/framebuffer"
	"github.com/termweb/termweb-go/internal/logging"
	"github.com/termweb/termweb-go/internal/surface"
	"github.com/termweb/termweb-go/internal/wsconn"
)

var log = logging.L("panel")

const defaultMaxInputBatch = 256

// Panel is identified by a u32 id unique within the process (spec.md §3).
// Only the render thread touches Surface and FrameBuffer; worker
// goroutines reach the panel only through SetConnection, HandleMessage,
// EnqueueAction, and SendFrame.
type Panel struct {
	ID uint32

	mu sync.Mutex

	surface     surface.Surface
	frameBuffer *framebuffer.FrameBuffer

	logicalW, logicalH int
	scale              float32

	conn      *wsconn.Conn
	streaming atomic.Bool

	forceKeyframe bool
	inputQueue    []surface.InputEvent
	actionQueue   []string
}

// New constructs a panel bound to the given surface implementation, sized
// in logical units at the given scale. The panel starts with no
// connection and streaming=false (spec.md §3 invariant "connection=None
// => streaming=false").
func New(id uint32, surf surface.Surface, logicalW, logicalH int, scale float32, deflateLevel int, keyframeInterval time.Duration) (*Panel, error) {
	pixelW := int(float32(logicalW) * scale)
	pixelH := int(float32(logicalH) * scale)

	fb, err := framebuffer.New(pixelW, pixelH, deflateLevel)
	if err != nil {
		return nil, err
	}
	fb.SetKeyframeInterval(keyframeInterval)

	if err := surf.Create(logicalW, logicalH, scale); err != nil {
		return nil, err
	}

	return &Panel{
		ID:          id,
		surface:     surf,
		frameBuffer: fb,
		logicalW:    logicalW,
		logicalH:    logicalH,
		scale:       scale,
	}, nil
}

// SetConnection atomically binds or unbinds the panel's connection.
// Binding activates streaming and forces a keyframe; unbinding deactivates
// streaming. The panel itself is never destroyed here (spec.md §4.6
// set_connection).
func (p *Panel) SetConnection(conn *wsconn.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	if conn != nil {
		p.streaming.Store(true)
		p.mu.Lock()
		p.forceKeyframe = true
		p.frameBuffer.ForceKeyframe()
		p.mu.Unlock()
	} else {
		p.streaming.Store(false)
	}
}

// IsStreaming reports the streaming flag: set when a connection is bound
// or resume_stream arrives with one bound, cleared on unbind and on
// pause_stream even while the connection stays bound.
func (p *Panel) IsStreaming() bool { return p.streaming.Load() }

// HandleMessage parses a single client->panel binary message by leading
// tag byte (spec.md §4.6 handle_message). request_keyframe, pause_stream,
// and resume_stream apply synchronously as flag writes; everything else
// that produces an InputEvent is enqueued for the render thread. Tags
// 0x20/0x21 (connect_panel/create_panel) are handled by the orchestrator
// before a message ever reaches a bound panel.
func (p *Panel) HandleMessage(msg []byte) {
	if len(msg) == 0 {
		return
	}
	switch msg[0] {
	case control.TagRequestKeyframe:
		p.mu.Lock()
		p.frameBuffer.ForceKeyframe()
		p.mu.Unlock()
	case control.TagPauseStream:
		p.streaming.Store(false)
	case control.TagResumeStream:
		p.mu.Lock()
		hasConn := p.conn != nil
		p.mu.Unlock()
		if hasConn {
			p.streaming.Store(true)
		}
	default:
		event, err := control.ParseInputEvent(msg)
		if err != nil {
			log.Debug("dropping unparseable input message", "error", err, "tag", msg[0])
			return
		}
		p.enqueue(event)
	}
}

func (p *Panel) enqueue(event surface.InputEvent) {
	p.mu.Lock()
	p.inputQueue = append(p.inputQueue, event)
	p.mu.Unlock()
}

// DrainInput moves at most maxBatch queued events into a local buffer,
// removing them from the queue (any events beyond maxBatch stay queued for
// the next call), and replays them into the terminal surface in
// insertion order. Render-thread only (spec.md §4.6 drain_input).
func (p *Panel) DrainInput(maxBatch int) {
	if maxBatch <= 0 {
		maxBatch = defaultMaxInputBatch
	}

	p.mu.Lock()
	n := len(p.inputQueue)
	if n > maxBatch {
		n = maxBatch
	}
	batch := append([]surface.InputEvent(nil), p.inputQueue[:n]...)
	p.inputQueue = p.inputQueue[n:]
	p.mu.Unlock()

	for _, event := range batch {
		if event.Kind == surface.InputResize {
			p.ResizeInternal(int(event.Width), int(event.Height))
			continue
		}
		p.surface.Draw(event)
	}
}

// EnqueueAction queues a view_action by name for the render thread to
// apply. The control channel calls this instead of invoking the surface
// directly: per spec.md §9 Open Question 1, this rewrite enqueues
// view_action onto the render thread like every other surface operation
// rather than trusting an undocumented thread-safety claim.
func (p *Panel) EnqueueAction(name string) {
	p.mu.Lock()
	p.actionQueue = append(p.actionQueue, name)
	p.mu.Unlock()
}

// DrainActions applies all queued view_actions to the surface in
// insertion order. Render-thread only.
func (p *Panel) DrainActions() {
	p.mu.Lock()
	actions := p.actionQueue
	p.actionQueue = nil
	p.mu.Unlock()

	for _, name := range actions {
		p.surface.ApplyAction(name)
	}
}

// Tick advances the terminal surface by one render-loop iteration.
// Render-thread only.
func (p *Panel) Tick() { p.surface.Tick() }

// PollTitleAndBell reports the surface's current window title (with
// whether it changed since the last poll) and whether the bell rang
// since the last poll, for the render loop to broadcast as panel_title /
// panel_bell control messages (spec.md §4.7, §6). Render-thread only.
func (p *Panel) PollTitleAndBell() (title string, titleChanged bool, bell bool) {
	title, titleChanged = p.surface.QueryTitle()
	bell = p.surface.QueryBell()
	return title, titleChanged, bell
}

// Capture locks the surface's current framebuffer for read and copies it
// into the panel's FrameBuffer, converting BGRA to RGB (spec.md §4.6
// capture). Render-thread only. Returns false if the surface has not
// produced a framebuffer yet.
func (p *Panel) Capture() bool {
	fb, ok := p.surface.QueryFramebuffer()
	if !ok {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if fb.Width != 0 && fb.Height != 0 {
		w, h := p.frameBuffer.Dimensions()
		if w != fb.Width || h != fb.Height {
			p.frameBuffer.Resize(fb.Width, fb.Height)
		}
	}
	p.frameBuffer.CaptureBGRA(fb.Pixels, fb.Stride)
	return true
}

// PrepareFrame computes the keyframe decision, compresses, writes the
// wire header, swaps buffers, and increments sequence. Render-thread
// only (spec.md §4.6 prepare_frame). nowMs is the caller's render-loop
// clock, threaded in rather than read from time.Now() so tests can drive
// deterministic keyframe timing.
func (p *Panel) PrepareFrame(nowMs int64) (payload []byte, isKeyframe bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frameBuffer.PrepareFrame(nowMs)
}

// SendFrame acquires the panel mutex and, if the bound connection is
// open, sends bytes as a binary frame. Send failure does not destroy the
// panel (spec.md §4.6 send_frame).
func (p *Panel) SendFrame(bytes []byte) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil || !conn.IsOpen() {
		return
	}
	if err := conn.SendBinary(bytes); err != nil {
		log.Debug("send_frame failed, panel continues", "panel_id", p.ID, "error", err)
	}
}

// ResizeInternal resizes the native view/window, informs the surface of
// the new logical size, and forces a keyframe. The FrameBuffer itself is
// lazily resized on the next Capture call once the hardware framebuffer
// size actually changes (spec.md §4.6 resize_internal).
func (p *Panel) ResizeInternal(logicalW, logicalH int) {
	p.mu.Lock()
	p.logicalW, p.logicalH = logicalW, logicalH
	p.forceKeyframe = true
	p.frameBuffer.ForceKeyframe()
	p.mu.Unlock()

	if err := p.surface.SetSize(logicalW, logicalH); err != nil {
		log.Warn("surface resize failed", "panel_id", p.ID, "error", err)
	}
}

// LogicalSize returns the panel's current logical dimensions and scale.
func (p *Panel) LogicalSize() (width, height int, scale float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logicalW, p.logicalH, p.scale
}

// Close releases the panel's surface resources. Called on the render
// thread when a close_panel request drains (spec.md §3 Panel lifecycle).
func (p *Panel) Close() error {
	return p.surface.Close()
}
