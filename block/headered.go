package block

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/offheap/layout"
	"github.com/vkngwrapper/offheap/memory"
	"github.com/vkngwrapper/offheap/memutils"
)

// HeaderedBlock is a block that begins with an opaque sync slot and a type-tag slot, followed by the
// payload. The bridge address points at the type-tag slot. Slot sizes come from the block's geometry.
type HeaderedBlock struct {
	blockBase
	geometry layout.Geometry
}

var _ MemoryBlock = &HeaderedBlock{}

// NewHeadered allocates an Owned headered block of size bytes, header included
func NewHeadered(allocator *memory.Allocator, geometry layout.Geometry, size int) (*HeaderedBlock, error) {
	b := &HeaderedBlock{
		blockBase: blockBase{owner: Owned{Allocator: allocator}, allocator: allocator},
		geometry:  geometry,
	}
	err := b.Allocate(size)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// WrapHeadered creates a Foreign headered block over size bytes starting at base, which is the start
// of the sync slot. allocator may be nil if the block will never be re-allocated.
func WrapHeadered(allocator *memory.Allocator, geometry layout.Geometry, base unsafe.Pointer, size int) (*HeaderedBlock, error) {
	if size < geometry.HeaderSize() {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "cannot wrap a headered block of %d bytes: the header alone is %d bytes", size, geometry.HeaderSize())
	}

	b := &HeaderedBlock{geometry: geometry}
	err := b.wrap(allocator, base, size)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Geometry is the header layout this block was created with
func (b *HeaderedBlock) Geometry() layout.Geometry {
	return b.geometry
}

func (b *HeaderedBlock) BridgeAddress() unsafe.Pointer {
	if b.handle == nil {
		return nil
	}
	return unsafe.Add(b.handle, b.geometry.BridgeOffset())
}

// PayloadCapacity is the number of bytes available after the header
func (b *HeaderedBlock) PayloadCapacity() int {
	if b.bytesAllocated < b.geometry.HeaderSize() {
		return 0
	}
	return b.bytesAllocated - b.geometry.HeaderSize()
}

func (b *HeaderedBlock) payload() unsafe.Pointer {
	return unsafe.Add(b.handle, b.geometry.HeaderSize())
}

func (b *HeaderedBlock) Allocate(size int) error {
	if size < b.geometry.HeaderSize() {
		return errors.Wrapf(memutils.ErrInvalidSize, "cannot allocate a headered block of %d bytes: the header alone is %d bytes", size, b.geometry.HeaderSize())
	}

	if b.bytesAllocated > 0 {
		b.SecureWipe()
	}

	err := b.replace(size)
	if err != nil {
		return err
	}
	memutils.DebugValidate(b)
	return nil
}

func (b *HeaderedBlock) SecureWipe() {
	if !b.owns() || b.handle == nil {
		return
	}
	memutils.ZeroMemory(b.payload(), b.PayloadCapacity())
}

// TypeTag reads the type identity stored in the header
func (b *HeaderedBlock) TypeTag() uint32 {
	if b.handle == nil {
		return 0
	}
	return *(*uint32)(b.BridgeAddress())
}

// SetTypeTag stamps a type identity into the header
func (b *HeaderedBlock) SetTypeTag(tag uint32) {
	if b.handle == nil {
		return
	}
	*(*uint32)(b.BridgeAddress()) = tag
}

// SetValueFromBytes writes data to the payload, re-allocating first if it does not fit. Re-allocation
// discards the header, so the caller must restamp the type tag.
func (b *HeaderedBlock) SetValueFromBytes(data []byte) error {
	if len(data) > b.PayloadCapacity() {
		err := b.Allocate(len(data) + b.geometry.HeaderSize())
		if err != nil {
			return err
		}
	}

	memutils.WriteBytes(b.payload(), data)
	return nil
}

func (b *HeaderedBlock) headeredTarget(target MemoryBlock) (*HeaderedBlock, error) {
	headeredTarget, ok := target.(*HeaderedBlock)
	if !ok {
		return nil, errors.Wrapf(memutils.ErrLayoutMismatch, "cannot copy a headered block to %T", target)
	}
	if headeredTarget.geometry != b.geometry {
		return nil, errors.Wrap(memutils.ErrLayoutMismatch, "cannot copy between headered blocks with different header geometry")
	}
	return headeredTarget, nil
}

// resize gives target its own region of this block's size. A target that already owns a region of
// the right size is reused; Foreign targets are always re-allocated, so memory they wrap is never written.
func (b *HeaderedBlock) resize(target *HeaderedBlock) error {
	if target.owns() && target.bytesAllocated == b.bytesAllocated {
		return nil
	}
	return target.Allocate(b.bytesAllocated)
}

// CopyTo resizes target to this block's size and then copies everything from the bridge address
// onward. The target's sync slot is left alone. Copying onto a block with the same bridge address
// does nothing.
func (b *HeaderedBlock) CopyTo(target MemoryBlock) error {
	headeredTarget, err := b.headeredTarget(target)
	if err != nil {
		return err
	}
	if headeredTarget.BridgeAddress() == b.BridgeAddress() {
		return nil
	}

	err = b.resize(headeredTarget)
	if err != nil {
		return err
	}

	memutils.CopyMemory(headeredTarget.BridgeAddress(), b.BridgeAddress(), b.bytesAllocated-b.geometry.BridgeOffset())
	return nil
}

// CopyEntireSpace behaves like CopyTo but includes the sync slot
func (b *HeaderedBlock) CopyEntireSpace(target MemoryBlock) error {
	headeredTarget, err := b.headeredTarget(target)
	if err != nil {
		return err
	}
	if headeredTarget.handle == b.handle {
		return nil
	}

	err = b.resize(headeredTarget)
	if err != nil {
		return err
	}

	memutils.CopyMemory(headeredTarget.handle, b.handle, b.bytesAllocated)
	return nil
}

func (b *HeaderedBlock) ValueSpace() []byte {
	if b.handle == nil {
		return []byte{}
	}
	return memutils.ReadBytes(b.payload(), b.PayloadCapacity())
}

func (b *HeaderedBlock) Validate() error {
	err := b.blockBase.Validate()
	if err != nil {
		return err
	}

	if b.handle != nil && b.bytesAllocated < b.geometry.HeaderSize() {
		return errors.Newf("headered block of %d bytes cannot hold its %d byte header", b.bytesAllocated, b.geometry.HeaderSize())
	}
	return nil
}
