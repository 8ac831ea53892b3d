package evloop

// WakeSignal is a single-producer-or-multi / single-consumer coalescing
// wakeup. Multiple Notify calls before a Wait coalesce into one wakeup
// (spec.md §4.4).
type WakeSignal interface {
	// Notify performs a one-shot non-blocking wake. Safe to call from any
	// number of goroutines.
	Notify()
	// WaitTimeout blocks up to nanos nanoseconds for a pending notification, draining it
	// on return. Reports true if a notification was consumed, false on
	// timeout.
	WaitTimeout(nanos int64) bool
	// Close releases the underlying fd(s).
	Close() error
}

// NewWakeSignal creates a WakeSignal using the platform's cheapest
// primitive: a single eventfd on Linux, a nonblocking pipe elsewhere.
func NewWakeSignal() (WakeSignal, error) {
	return newPlatformWakeSignal()
}
