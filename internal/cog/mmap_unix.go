//go:build unix

package cog

import (
	"os"
	"syscall"
)

// mapFile maps f read-only. The returned release func unmaps it; f may be
// closed as soon as mapFile returns.
func mapFile(f *os.File, size int) ([]byte, func() error, error) {
	data, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return syscall.Munmap(data) }, nil
}
