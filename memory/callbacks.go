package memory

import "unsafe"

// AllocateMemoryCallback is called after the allocator maps a new region
type AllocateMemoryCallback func(
	allocator *Allocator,
	ptr unsafe.Pointer,
	size int,
	userData interface{},
)

// FreeMemoryCallback is called before the allocator unmaps a region
type FreeMemoryCallback func(
	allocator *Allocator,
	ptr unsafe.Pointer,
	size int,
	userData interface{},
)

// MemoryCallbackOptions lets consumers observe every region the allocator maps and unmaps
type MemoryCallbackOptions struct {
	Allocate AllocateMemoryCallback
	Free     FreeMemoryCallback
	UserData interface{}
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Allocator *Allocator
}

func (c *memoryCallbacks) Allocate(ptr unsafe.Pointer, size int) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Allocator, ptr, size, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) Free(ptr unsafe.Pointer, size int) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Allocator, ptr, size, c.Callbacks.UserData)
	}
}
