package surface

// InputEventKind tags which variant of InputEvent is populated (spec.md §3
// "InputEvent. A tagged variant").
type InputEventKind int

const (
	InputKey InputEventKind = iota
	InputText
	InputMousePos
	InputMouseButton
	InputMouseScroll
	InputResize
)

// Modifier bits per spec.md §4.6.
const (
	ModShift = 0x01
	ModCtrl  = 0x02
	ModAlt   = 0x04
	ModSuper = 0x08
)

// KeyAction distinguishes key down/up (and repeat, where the client sends
// it) for the Key variant.
type KeyAction byte

const (
	KeyActionDown KeyAction = iota
	KeyActionUp
	KeyActionRepeat
)

// MouseButtonState distinguishes button down/up for the MouseButton variant.
type MouseButtonState byte

const (
	MouseButtonDown MouseButtonState = iota
	MouseButtonUp
)

// InputEvent is a single queued input, preserved in insertion order from
// the WebSocket worker goroutine that parsed it through to the render
// thread that replays it (spec.md §3 "Ordering: insertion order is
// preserved").
type InputEvent struct {
	Kind InputEventKind

	// Key
	KeyAction  KeyAction
	Keycode    uint32
	Modifiers  uint8
	KeyText    string // optional UTF-8 text accompanying a key event

	// Text (raw UTF-8, <= 256 bytes per spec.md §3)
	Text []byte

	// MousePos / MouseButton / MouseScroll
	X, Y       int32
	MouseState MouseButtonState
	Button     uint8
	ScrollDX   int32
	ScrollDY   int32

	// Resize
	Width, Height uint16
}
