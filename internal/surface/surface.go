// Package surface defines the boundary between the render loop and the
// headless terminal emulator that actually owns pixels and PTY state
// (spec.md §1 Non-goals: the emulator itself is an external collaborator,
// out of scope here). A Surface is created per panel, ticked once per
// render loop iteration, and is the only thing the render thread may
// touch natively.
package surface

import "errors"

// ErrCreationFailed is returned by Create when the native surface cannot
// be allocated (spec.md §7 SurfaceCreationFailed).
var ErrCreationFailed = errors.New("surface: creation failed")

// Framebuffer describes the surface's current pixel buffer, as reported
// by QueryFramebuffer. Absent means the surface has not rendered a frame
// yet (spec.md §4.7 "query framebuffer (skip if absent)").
type Framebuffer struct {
	Pixels []byte // BGRA
	Width  int
	Height int
	Stride int // bytes per row, may exceed Width*4
}

// Surface is the SPI the render thread drives. Every method except
// Create/Close is only ever invoked from the render thread, matching the
// invariant that native surface mutation is single-threaded (spec.md §3
// Panel, §4.7 "Thread ownership").
type Surface interface {
	// Create allocates the native terminal surface and view/window handles
	// at the given logical size and pixel scale.
	Create(width, height int, scale float32) error

	// SetSize resizes the native view/window and informs the terminal
	// runtime of the new logical size.
	SetSize(width, height int) error

	// Tick advances the terminal runtime by one render-loop iteration
	// (PTY reads, screen redraw, cursor blink, etc).
	Tick()

	// Draw replays a single input event into the terminal surface.
	Draw(event InputEvent)

	// FeedInput is an alias kept for callers that think in terms of
	// "feeding" raw input rather than "drawing" a structured event; it
	// has the same render-thread-only contract as Draw.
	FeedInput(event InputEvent)

	// QueryFramebuffer returns the surface's current pixel buffer, or
	// ok=false if the surface has not produced one yet.
	QueryFramebuffer() (fb Framebuffer, ok bool)

	// ApplyAction invokes a named view action (e.g. "scroll_to_bottom",
	// "select_all") on the terminal surface (spec.md §4.7 control
	// callback, §9 Open Question 1). No off-render-thread safety is
	// assumed: the orchestrator enqueues actions and the render thread
	// applies them through Panel.DrainActions — see internal/orchestrator
	// and DESIGN.md for that decision.
	ApplyAction(action string)

	// QueryTitle returns the terminal surface's current window title and
	// whether it has changed since the last QueryTitle call (spec.md §4.7,
	// §6 "panel_title" control broadcast). Render-thread only.
	QueryTitle() (title string, changed bool)

	// QueryBell reports whether the terminal bell has rung since the last
	// QueryBell call, consuming the pending flag (spec.md §6 "panel_bell"
	// control broadcast). Render-thread only.
	QueryBell() (rang bool)

	// Close releases the native surface and view/window handles.
	Close() error
}
