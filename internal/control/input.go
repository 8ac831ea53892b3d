// Package control parses the binary client->panel input protocol and the
// narrow JSON dialect used on the control channel (spec.md §4.6, §4.9,
// §6). Neither parser is a general-purpose codec: the binary side is a
// fixed tag-byte dispatch table, and the JSON side is a key-seeking
// reader, per spec.md's explicit design note that a full parser "adds
// nothing" here.
package control

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/termweb/termweb-go/internal/surface"
)

// Client->panel binary message tags (spec.md §6).
const (
	TagKeyInput        byte = 0x01
	TagMouseInput      byte = 0x02
	TagMouseMove       byte = 0x03
	TagMouseScroll     byte = 0x04
	TagTextInput       byte = 0x05
	TagResize          byte = 0x10
	TagRequestKeyframe byte = 0x11
	TagPauseStream     byte = 0x12
	TagResumeStream    byte = 0x13
	TagConnectPanel    byte = 0x20
	TagCreatePanel     byte = 0x21
)

// ErrShortMessage is returned when a binary message is too short for its tag.
var ErrShortMessage = errors.New("control: short message")

// ErrUnknownTag is returned for a leading tag byte not in the dispatch table.
var ErrUnknownTag = errors.New("control: unknown tag")

// ConnectPanelRequest is the parsed form of tag 0x20: [tag][id:u32 LE].
type ConnectPanelRequest struct {
	PanelID uint32
}

// CreatePanelRequest is the parsed form of tag 0x21: [tag][w:u16 LE][h:u16 LE][scale:f32 LE].
type CreatePanelRequest struct {
	Width  uint16
	Height uint16
	Scale  float32
}

// ParseConnectPanel parses a connect_panel message body (after the tag byte).
func ParseConnectPanel(body []byte) (ConnectPanelRequest, error) {
	if len(body) < 4 {
		return ConnectPanelRequest{}, ErrShortMessage
	}
	return ConnectPanelRequest{PanelID: binary.LittleEndian.Uint32(body)}, nil
}

// ParseCreatePanel parses a create_panel message body (after the tag byte).
func ParseCreatePanel(body []byte) (CreatePanelRequest, error) {
	if len(body) < 8 {
		return CreatePanelRequest{}, ErrShortMessage
	}
	w := binary.LittleEndian.Uint16(body[0:2])
	h := binary.LittleEndian.Uint16(body[2:4])
	scaleBits := binary.LittleEndian.Uint32(body[4:8])
	return CreatePanelRequest{Width: w, Height: h, Scale: math.Float32frombits(scaleBits)}, nil
}

// ParseInputEvent dispatches a client->panel binary message (including its
// leading tag byte) into a surface.InputEvent, for the tags that produce
// one (0x01-0x05, 0x10). Tags 0x11-0x13 and 0x20-0x21 are handled
// elsewhere (synchronous flag flips and connection-level binding,
// respectively — spec.md §4.6).
func ParseInputEvent(msg []byte) (surface.InputEvent, error) {
	if len(msg) < 1 {
		return surface.InputEvent{}, ErrShortMessage
	}
	tag := msg[0]
	body := msg[1:]

	switch tag {
	case TagKeyInput:
		// [tag][action:u8][keycode:u32 LE][mods:u8][text_len:u8][text...]
		if len(body) < 6 {
			return surface.InputEvent{}, ErrShortMessage
		}
		action := surface.KeyAction(body[0])
		keycode := binary.LittleEndian.Uint32(body[1:5])
		mods := body[5]
		var text string
		if len(body) >= 7 {
			textLen := int(body[6])
			if len(body) >= 7+textLen {
				text = string(body[7 : 7+textLen])
			}
		}
		return surface.InputEvent{
			Kind:      surface.InputKey,
			KeyAction: action,
			Keycode:   keycode,
			Modifiers: mods,
			KeyText:   text,
		}, nil

	case TagMouseInput:
		// [tag][state:u8][button:u8][mods:u8]
		if len(body) < 3 {
			return surface.InputEvent{}, ErrShortMessage
		}
		return surface.InputEvent{
			Kind:       surface.InputMouseButton,
			MouseState: surface.MouseButtonState(body[0]),
			Button:     body[1],
			Modifiers:  body[2],
		}, nil

	case TagMouseMove:
		// [tag][x:i32 LE][y:i32 LE][mods:u8]
		if len(body) < 9 {
			return surface.InputEvent{}, ErrShortMessage
		}
		return surface.InputEvent{
			Kind:      surface.InputMousePos,
			X:         int32(binary.LittleEndian.Uint32(body[0:4])),
			Y:         int32(binary.LittleEndian.Uint32(body[4:8])),
			Modifiers: body[8],
		}, nil

	case TagMouseScroll:
		// [tag][x:i32 LE][y:i32 LE][dx:i32 LE][dy:i32 LE]
		if len(body) < 16 {
			return surface.InputEvent{}, ErrShortMessage
		}
		return surface.InputEvent{
			Kind:     surface.InputMouseScroll,
			X:        int32(binary.LittleEndian.Uint32(body[0:4])),
			Y:        int32(binary.LittleEndian.Uint32(body[4:8])),
			ScrollDX: int32(binary.LittleEndian.Uint32(body[8:12])),
			ScrollDY: int32(binary.LittleEndian.Uint32(body[12:16])),
		}, nil

	case TagTextInput:
		// [tag][len:u16 LE][utf8 bytes, <=256]
		if len(body) < 2 {
			return surface.InputEvent{}, ErrShortMessage
		}
		n := int(binary.LittleEndian.Uint16(body[0:2]))
		if len(body) < 2+n {
			return surface.InputEvent{}, ErrShortMessage
		}
		text := append([]byte(nil), body[2:2+n]...)
		return surface.InputEvent{Kind: surface.InputText, Text: text}, nil

	case TagResize:
		// [tag][w:u16 LE][h:u16 LE]
		if len(body) < 4 {
			return surface.InputEvent{}, ErrShortMessage
		}
		return surface.InputEvent{
			Kind:   surface.InputResize,
			Width:  binary.LittleEndian.Uint16(body[0:2]),
			Height: binary.LittleEndian.Uint16(body[2:4]),
		}, nil

	default:
		return surface.InputEvent{}, ErrUnknownTag
	}
}
