//go:build !linux

package transfer

// adviseSequential is a no-op on platforms without a portable madvise path.
func adviseSequential(data []byte) {}
