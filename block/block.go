package block

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/offheap/layout"
	"github.com/vkngwrapper/offheap/memory"
	"github.com/vkngwrapper/offheap/memutils"
)

// Ownership records whether a block is responsible for its region. It is either Owned or Foreign.
type Ownership interface {
	ownership()
}

// Owned blocks obtained their region from Allocator and must return it exactly once
type Owned struct {
	Allocator *memory.Allocator
}

// Foreign blocks alias memory that belongs to someone else. They never wipe or release it.
type Foreign struct{}

func (Owned) ownership()   {}
func (Foreign) ownership() {}

// MemoryBlock is a single raw region of memory plus the bookkeeping needed to read, write, copy,
// and release it. FixedBlock and HeaderedBlock are the two implementations.
type MemoryBlock interface {
	memutils.Validatable

	// Handle is the base address of the region, or nil if the block holds no memory
	Handle() unsafe.Pointer
	// BytesAllocated is the size of the region at Handle
	BytesAllocated() int
	// Ownership reports whether the block owns its region
	Ownership() Ownership
	// WrapsForeignMemory returns true if the block aliases memory it does not own
	WrapsForeignMemory() bool
	// BridgeAddress is the address a consumer of the block's value treats as the value itself
	BridgeAddress() unsafe.Pointer

	// Allocate wipes and releases the current region, if any, and replaces it with a fresh zero-filled
	// region of size bytes. A Foreign block becomes Owned: the memory it aliased is left untouched.
	Allocate(size int) error
	// Release frees an Owned region. It is a no-op for Foreign blocks and for blocks that were already
	// released.
	Release() error
	// SecureWipe overwrites the payload of an Owned block with zeroes
	SecureWipe()
	// SetValueFromBytes writes data into the payload
	SetValueFromBytes(data []byte) error
	// CopyTo copies this block's contents into target, which must be the same kind of block.
	// Sizes are checked before any bytes move.
	CopyTo(target MemoryBlock) error

	// EntireSpace returns a copy of the whole region
	EntireSpace() []byte
	// ValueSpace returns a copy of the payload
	ValueSpace() []byte
}

// New allocates an Owned block of the layout kind, size bytes long
func New(allocator *memory.Allocator, geometry layout.Geometry, kind layout.Kind, size int) (MemoryBlock, error) {
	if kind.Headered() {
		return NewHeadered(allocator, geometry, size)
	}
	return NewFixed(allocator, size)
}

// Wrap creates a Foreign block of the layout kind over size bytes at base. For headered kinds, base
// is the start of the sync slot, not the bridge address.
func Wrap(allocator *memory.Allocator, geometry layout.Geometry, kind layout.Kind, base unsafe.Pointer, size int) (MemoryBlock, error) {
	if kind.Headered() {
		return WrapHeadered(allocator, geometry, base, size)
	}
	return WrapFixed(allocator, base, size)
}

type blockBase struct {
	handle         unsafe.Pointer
	bytesAllocated int
	owner          Ownership

	// allocator is used for fresh regions, including when a Foreign block is re-allocated
	allocator *memory.Allocator
}

func (b *blockBase) Handle() unsafe.Pointer {
	return b.handle
}

func (b *blockBase) BytesAllocated() int {
	return b.bytesAllocated
}

func (b *blockBase) Ownership() Ownership {
	return b.owner
}

func (b *blockBase) WrapsForeignMemory() bool {
	_, foreign := b.owner.(Foreign)
	return foreign
}

func (b *blockBase) owns() bool {
	_, owned := b.owner.(Owned)
	return owned
}

func (b *blockBase) Release() error {
	switch owner := b.owner.(type) {
	case Owned:
		if b.handle == nil {
			return nil
		}

		err := owner.Allocator.Free(b.handle)
		b.handle = nil
		b.bytesAllocated = 0
		return err
	case Foreign:
		return nil
	default:
		panic(fmt.Sprintf("unknown block ownership %T", owner))
	}
}

// replace releases the current region and maps a new one. The caller is responsible for wiping first.
func (b *blockBase) replace(size int) error {
	if size < 0 {
		return errors.Wrapf(memutils.ErrInvalidSize, "cannot allocate a block of %d bytes", size)
	}
	if b.allocator == nil {
		return errors.New("block has no allocator to obtain memory from")
	}

	err := b.Release()
	if err != nil {
		return err
	}

	ptr, err := b.allocator.Allocate(size)
	if err != nil {
		return err
	}

	b.handle = ptr
	b.bytesAllocated = size
	b.owner = Owned{Allocator: b.allocator}
	return nil
}

func (b *blockBase) wrap(allocator *memory.Allocator, base unsafe.Pointer, size int) error {
	if size < 0 {
		return errors.Wrapf(memutils.ErrInvalidSize, "cannot wrap a block of %d bytes", size)
	}
	if base == nil && size > 0 {
		return errors.Newf("cannot wrap %d bytes at a nil address", size)
	}

	b.handle = base
	b.bytesAllocated = size
	b.owner = Foreign{}
	b.allocator = allocator
	return nil
}

func (b *blockBase) EntireSpace() []byte {
	return memutils.ReadBytes(b.handle, b.bytesAllocated)
}

func (b *blockBase) Validate() error {
	if b.bytesAllocated < 0 {
		return errors.Newf("block size is negative: %d", b.bytesAllocated)
	}
	if b.handle == nil && b.bytesAllocated > 0 {
		return errors.Newf("block claims %d bytes but holds no memory", b.bytesAllocated)
	}

	switch owner := b.owner.(type) {
	case Owned:
		if b.handle == nil {
			return nil
		}

		size, live := owner.Allocator.Size(b.handle)
		if !live {
			return errors.Newf("owned block at %p is not a live region", b.handle)
		}
		if size != b.bytesAllocated {
			return errors.Newf("owned block at %p records %d bytes but its region is %d bytes", b.handle, b.bytesAllocated, size)
		}
	case Foreign:
	default:
		return errors.AssertionFailedf("unknown block ownership %T", owner)
	}

	return nil
}
