package control

import (
	"bytes"
	"fmt"
	"strconv"
)

// ControlMessage is the decoded form of a client-initiated JSON control
// message (spec.md §3 ControlMessage, §6). Type selects which optional
// fields are populated.
type ControlMessage struct {
	Type    string
	PanelID uint32
	Width   uint16
	Height  uint16
	Action  string
}

// ParseControlMessage extracts the fields the server cares about from a
// client-initiated JSON control message using a minimal key-seeking
// reader rather than a general parser (spec.md §9 Design Notes: "a
// substring search for \"key\": + value reader is sufficient").
//
// This intentionally does not handle nested objects, arrays, or escaped
// quotes inside string values other than the ones the protocol actually
// sends — it is scoped to the flat, known-shape messages in spec.md §3.
func ParseControlMessage(data []byte) (ControlMessage, error) {
	typ, ok := findJSONString(data, "type")
	if !ok {
		return ControlMessage{}, fmt.Errorf("control: missing \"type\" key")
	}
	msg := ControlMessage{Type: typ}

	if v, ok := findJSONNumber(data, "panel_id"); ok {
		msg.PanelID = uint32(v)
	}
	if v, ok := findJSONNumber(data, "width"); ok {
		msg.Width = uint16(v)
	}
	if v, ok := findJSONNumber(data, "height"); ok {
		msg.Height = uint16(v)
	}
	if v, ok := findJSONString(data, "action"); ok {
		msg.Action = v
	}
	return msg, nil
}

// findJSONString locates `"key":"value"` (allowing arbitrary whitespace
// around the colon) and returns value verbatim: escape sequences are not
// decoded, and the value ends at the next '"' byte even if it is escaped.
func findJSONString(data []byte, key string) (string, bool) {
	idx := findKey(data, key)
	if idx < 0 {
		return "", false
	}
	rest := data[idx:]
	start := bytes.IndexByte(rest, '"')
	if start < 0 {
		return "", false
	}
	rest = rest[start+1:]
	end := bytes.IndexByte(rest, '"')
	if end < 0 {
		return "", false
	}
	return string(rest[:end]), true
}

// findJSONNumber locates `"key": <number>` and parses the number.
func findJSONNumber(data []byte, key string) (int64, bool) {
	idx := findKey(data, key)
	if idx < 0 {
		return 0, false
	}
	rest := data[idx:]
	i := 0
	for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t') {
		i++
	}
	start := i
	for i < len(rest) && (rest[i] == '-' || (rest[i] >= '0' && rest[i] <= '9')) {
		i++
	}
	if i == start {
		return 0, false
	}
	v, err := strconv.ParseInt(string(rest[start:i]), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// findKey returns the offset just past `"key":` (including any
// whitespace before the value), or -1 if not found.
func findKey(data []byte, key string) int {
	needle := []byte(`"` + key + `"`)
	idx := bytes.Index(data, needle)
	if idx < 0 {
		return -1
	}
	rest := data[idx+len(needle):]
	colon := bytes.IndexByte(rest, ':')
	if colon < 0 {
		return -1
	}
	return idx + len(needle) + colon + 1
}

// EncodePanelList builds the server->client panel_list message.
func EncodePanelList(panelIDs []uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"panel_list","panels":[`)
	for i, id := range panelIDs {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

// EncodePanelCreated builds the server->client panel_created message.
func EncodePanelCreated(panelID uint32) []byte {
	return []byte(fmt.Sprintf(`{"type":"panel_created","panel_id":%d}`, panelID))
}

// EncodePanelClosed builds the server->client panel_closed message.
func EncodePanelClosed(panelID uint32) []byte {
	return []byte(fmt.Sprintf(`{"type":"panel_closed","panel_id":%d}`, panelID))
}

// EncodePanelTitle builds the server->client panel_title message.
func EncodePanelTitle(panelID uint32, title string) []byte {
	return []byte(fmt.Sprintf(`{"type":"panel_title","panel_id":%d,"title":%s}`, panelID, jsonQuote(title)))
}

// EncodePanelBell builds the server->client panel_bell message.
func EncodePanelBell(panelID uint32) []byte {
	return []byte(fmt.Sprintf(`{"type":"panel_bell","panel_id":%d}`, panelID))
}

// jsonQuote escapes the handful of characters that can appear in a
// terminal window title and produce invalid JSON if left raw.
func jsonQuote(s string) string {
	var buf bytes.Buffer
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
	return buf.String()
}
