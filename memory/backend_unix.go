//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

type pageBackend struct {
	pageSize int
}

// NewPageBackend creates a Backend that maps anonymous private pages from the operating system
func NewPageBackend() Backend {
	return &pageBackend{pageSize: unix.Getpagesize()}
}

func (b *pageBackend) Granularity() int { return b.pageSize }

func (b *pageBackend) Map(size int) (unsafe.Pointer, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d bytes", size)
	}

	return unsafe.Pointer(&data[0]), nil
}

func (b *pageBackend) Unmap(ptr unsafe.Pointer, size int) error {
	err := unix.Munmap(unsafe.Slice((*byte)(ptr), size))
	if err != nil {
		return errors.Wrapf(err, "failed to unmap %d bytes at %p", size, ptr)
	}
	return nil
}
