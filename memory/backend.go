//go:generate mockgen -destination mocks/backend.go -package mocks github.com/vkngwrapper/offheap/memory Backend

package memory

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

// Backend is the source of raw regions for an Allocator.
//
// Map must return a region of at least size bytes that is zero-filled, is not managed by the Go
// garbage collector's moving or freeing logic, and remains valid until Unmap is called with the same
// pointer and size. Allocators only request sizes that are multiples of Granularity.
type Backend interface {
	// Granularity is the size in bytes that every mapped region is rounded up to. It must be a power of two.
	Granularity() int
	// Map obtains a fresh zero-filled region of size bytes
	Map(size int) (unsafe.Pointer, error)
	// Unmap returns a region previously obtained from Map
	Unmap(ptr unsafe.Pointer, size int) error
}

// HeapBackend is a Backend that serves regions from the Go heap. The regions are pinned in place by
// the backend until they are unmapped. It is used on platforms with no page-mapping backend and is
// convenient for tests that need to inspect memory after it was released.
type HeapBackend struct {
	lock    sync.Mutex
	regions *swiss.Map[uintptr, []byte]
}

var _ Backend = &HeapBackend{}

// NewHeapBackend creates a HeapBackend with no live regions
func NewHeapBackend() *HeapBackend {
	return &HeapBackend{
		regions: swiss.NewMap[uintptr, []byte](16),
	}
}

// Granularity returns 8, so regions stay aligned for any fixed-layout value
func (b *HeapBackend) Granularity() int { return 8 }

func (b *HeapBackend) Map(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, errors.Newf("cannot map a region of %d bytes", size)
	}

	// uint64 backing keeps the region 8-byte aligned
	backing := make([]uint64, (size+7)/8)
	data := unsafe.Slice((*byte)(unsafe.Pointer(&backing[0])), size)
	ptr := unsafe.Pointer(&data[0])

	b.lock.Lock()
	defer b.lock.Unlock()
	b.regions.Put(uintptr(ptr), data)

	return ptr, nil
}

func (b *HeapBackend) Unmap(ptr unsafe.Pointer, size int) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	data, ok := b.regions.Get(uintptr(ptr))
	if !ok {
		return errors.Newf("region at %p was not mapped by this backend", ptr)
	}
	if len(data) != size {
		return errors.Newf("region at %p is %d bytes, but %d bytes were unmapped", ptr, len(data), size)
	}

	b.regions.Delete(uintptr(ptr))
	return nil
}

// Count returns the number of regions currently mapped
func (b *HeapBackend) Count() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.regions.Count()
}
