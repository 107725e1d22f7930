package block

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/offheap/memory"
	"github.com/vkngwrapper/offheap/memutils"
)

// FixedBlock is a block whose entire region is payload. Its bridge address is its base address.
type FixedBlock struct {
	blockBase
}

var _ MemoryBlock = &FixedBlock{}

// NewFixed allocates an Owned fixed block of size bytes
func NewFixed(allocator *memory.Allocator, size int) (*FixedBlock, error) {
	b := &FixedBlock{blockBase{owner: Owned{Allocator: allocator}, allocator: allocator}}
	err := b.replace(size)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// WrapFixed creates a Foreign fixed block over size bytes at ptr. allocator may be nil if the block
// will never be re-allocated.
func WrapFixed(allocator *memory.Allocator, ptr unsafe.Pointer, size int) (*FixedBlock, error) {
	b := &FixedBlock{}
	err := b.wrap(allocator, ptr, size)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *FixedBlock) BridgeAddress() unsafe.Pointer {
	return b.handle
}

func (b *FixedBlock) Allocate(size int) error {
	if size < 0 {
		return errors.Wrapf(memutils.ErrInvalidSize, "cannot allocate a fixed block of %d bytes", size)
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

func (b *FixedBlock) SecureWipe() {
	if !b.owns() {
		return
	}
	memutils.ZeroMemory(b.handle, b.bytesAllocated)
}

func (b *FixedBlock) SetValueFromBytes(data []byte) error {
	if len(data) > b.bytesAllocated {
		return errors.Wrapf(memutils.ErrSizeMismatch, "cannot write %d bytes into a fixed block of %d bytes", len(data), b.bytesAllocated)
	}

	memutils.WriteBytes(b.handle, data)
	return nil
}

func (b *FixedBlock) CopyTo(target MemoryBlock) error {
	fixedTarget, ok := target.(*FixedBlock)
	if !ok {
		return errors.Wrapf(memutils.ErrLayoutMismatch, "cannot copy a fixed block to %T", target)
	}

	if fixedTarget.bytesAllocated != b.bytesAllocated {
		return errors.Wrapf(memutils.ErrSizeMismatch, "cannot copy a fixed block of %d bytes to one of %d bytes", b.bytesAllocated, fixedTarget.bytesAllocated)
	}

	memutils.CopyMemory(fixedTarget.handle, b.handle, b.bytesAllocated)
	return nil
}

func (b *FixedBlock) ValueSpace() []byte {
	return b.EntireSpace()
}
