//go:build linux

package transfer

import "golang.org/x/sys/unix"

// adviseSequential hints the kernel that data will be read sequentially
// and once (spec.md §4.8 "advised SEQUENTIAL"). mmap-go does not expose
// madvise, so this mirrors the evloop package's build-tag platform split
// to reach unix.Madvise directly.
func adviseSequential(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
}
