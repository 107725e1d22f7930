//go:build windows

package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/windows"
)

type pageBackend struct{}

// NewPageBackend creates a Backend that commits pages with VirtualAlloc
func NewPageBackend() Backend {
	return &pageBackend{}
}

// Granularity is the VirtualAlloc allocation granularity
func (b *pageBackend) Granularity() int { return 64 * 1024 }

func (b *pageBackend) Map(size int) (unsafe.Pointer, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to commit %d bytes", size)
	}

	// VirtualAlloc memory is outside the Go heap, so the address is reinterpreted rather than converted
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr)), nil
}

func (b *pageBackend) Unmap(ptr unsafe.Pointer, size int) error {
	err := windows.VirtualFree(uintptr(ptr), 0, windows.MEM_RELEASE)
	if err != nil {
		return errors.Wrapf(err, "failed to release %d bytes at %p", size, ptr)
	}
	return nil
}
