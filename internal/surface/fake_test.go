package surface

import "testing"

func TestFakeRecordsEventsInOrder(t *testing.T) {
	f := NewFake()
	if err := f.Create(80, 24, 1.0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	events := []InputEvent{
		{Kind: InputKey, Keycode: 65},
		{Kind: InputText, Text: []byte("hi")},
		{Kind: InputMouseScroll, ScrollDY: -1},
	}
	for _, e := range events {
		f.Draw(e)
	}

	if len(f.Events) != len(events) {
		t.Fatalf("recorded %d events, want %d", len(f.Events), len(events))
	}
	for i, e := range events {
		if f.Events[i].Kind != e.Kind {
			t.Errorf("event %d kind = %v, want %v", i, f.Events[i].Kind, e.Kind)
		}
	}
}

func TestFakeQueryFramebufferAbsentUntilSet(t *testing.T) {
	f := NewFake()
	if _, ok := f.QueryFramebuffer(); ok {
		t.Fatal("expected no framebuffer before SetFramebuffer")
	}
	f.SetFramebuffer(Framebuffer{Width: 4, Height: 4, Stride: 16})
	fb, ok := f.QueryFramebuffer()
	if !ok {
		t.Fatal("expected framebuffer after SetFramebuffer")
	}
	if fb.Width != 4 || fb.Height != 4 {
		t.Errorf("framebuffer = %+v, want 4x4", fb)
	}
}

func TestFakeCreateAndClose(t *testing.T) {
	f := NewFake()
	if f.IsCreated() {
		t.Fatal("should not be created yet")
	}
	f.Create(100, 50, 2.0)
	if !f.IsCreated() {
		t.Fatal("expected created after Create")
	}
	w, h, scale := f.Size()
	if w != 100 || h != 50 || scale != 2.0 {
		t.Errorf("Size = %d,%d,%f want 100,50,2.0", w, h, scale)
	}
	f.Close()
	if !f.IsClosed() {
		t.Fatal("expected closed after Close")
	}
}

func TestFakeApplyActionRecordsName(t *testing.T) {
	f := NewFake()
	f.ApplyAction("scroll_to_bottom")
	f.ApplyAction("select_all")
	if len(f.Actions) != 2 || f.Actions[0] != "scroll_to_bottom" || f.Actions[1] != "select_all" {
		t.Errorf("Actions = %v", f.Actions)
	}
}

var _ Surface = (*Fake)(nil)
