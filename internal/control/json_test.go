package control

import (
	"strings"
	"testing"
)

func TestParseControlMessageResizePanel(t *testing.T) {
	data := []byte(`{"type":"resize_panel","panel_id":7,"width":1024,"height":768}`)
	msg, err := ParseControlMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != "resize_panel" || msg.PanelID != 7 || msg.Width != 1024 || msg.Height != 768 {
		t.Errorf("msg = %+v", msg)
	}
}

func TestParseControlMessageViewAction(t *testing.T) {
	data := []byte(`{"type":"view_action","panel_id":3,"action":"scroll_to_bottom"}`)
	msg, err := ParseControlMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != "view_action" || msg.PanelID != 3 || msg.Action != "scroll_to_bottom" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestParseControlMessageWithWhitespace(t *testing.T) {
	data := []byte(`{ "type" : "close_panel" , "panel_id" : 9 }`)
	msg, err := ParseControlMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != "close_panel" || msg.PanelID != 9 {
		t.Errorf("msg = %+v", msg)
	}
}

func TestParseControlMessageMissingType(t *testing.T) {
	if _, err := ParseControlMessage([]byte(`{"panel_id":1}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestEncodePanelCreatedRoundtrips(t *testing.T) {
	data := EncodePanelCreated(5)
	msg, err := ParseControlMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != "panel_created" || msg.PanelID != 5 {
		t.Errorf("msg = %+v", msg)
	}
}

func TestEncodePanelListContainsAllIDs(t *testing.T) {
	data := EncodePanelList([]uint32{1, 2, 3})
	s := string(data)
	for _, want := range []string{"1", "2", "3"} {
		if !strings.Contains(s, want) {
			t.Errorf("panel_list %q missing id %s", s, want)
		}
	}
}

func TestEncodePanelTitleEscapesQuotes(t *testing.T) {
	data := EncodePanelTitle(1, `bash "quoted"`)
	if !strings.Contains(string(data), `\"quoted\"`) {
		t.Errorf("expected escaped quotes in %q", data)
	}
}
