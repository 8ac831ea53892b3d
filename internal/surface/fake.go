package surface

import "sync"

// Fake is a deterministic in-memory Surface used by panel and orchestrator
// tests in place of a real terminal emulator collaborator. It records
// every event it is asked to draw, in order, so tests can assert on
// replay ordering (spec.md §8 property 7).
type Fake struct {
	mu sync.Mutex

	width, height int
	scale         float32
	created       bool
	closed        bool

	fb      Framebuffer
	hasFB   bool
	Events  []InputEvent
	Actions []string // view_action names applied via ApplyAction

	title        string
	titleChanged bool
	bellPending  bool
}

// NewFake returns a Surface fake with no framebuffer until SetFramebuffer
// is called, mirroring a real surface's "no frame rendered yet" state.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Create(width, height int, scale float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.width, f.height, f.scale = width, height, scale
	f.created = true
	return nil
}

func (f *Fake) SetSize(width, height int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.width, f.height = width, height
	return nil
}

func (f *Fake) Tick() {}

func (f *Fake) Draw(event InputEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, event)
}

func (f *Fake) FeedInput(event InputEvent) { f.Draw(event) }

func (f *Fake) QueryFramebuffer() (Framebuffer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fb, f.hasFB
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// SetFramebuffer lets a test simulate the surface having rendered a frame.
func (f *Fake) SetFramebuffer(fb Framebuffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fb = fb
	f.hasFB = true
}

// ApplyAction records the applied view_action name in Actions, in call
// order.
func (f *Fake) ApplyAction(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Actions = append(f.Actions, name)
}

// Size returns the surface's current logical size and scale, for test
// assertions.
func (f *Fake) Size() (width, height int, scale float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.width, f.height, f.scale
}

// IsCreated reports whether Create has been called.
func (f *Fake) IsCreated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// IsClosed reports whether Close has been called.
func (f *Fake) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SetTitle lets a test simulate the terminal surface changing its window
// title, marking the change pending for the next QueryTitle call.
func (f *Fake) SetTitle(title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.title = title
	f.titleChanged = true
}

// QueryTitle returns the current title and whether it changed since the
// last call, consuming the pending flag.
func (f *Fake) QueryTitle() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := f.titleChanged
	f.titleChanged = false
	return f.title, changed
}

// RingBell lets a test simulate the terminal bell, marking it pending for
// the next QueryBell call.
func (f *Fake) RingBell() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bellPending = true
}

// QueryBell reports whether the bell rang since the last call, consuming
// the pending flag.
func (f *Fake) QueryBell() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	rang := f.bellPending
	f.bellPending = false
	return rang
}
