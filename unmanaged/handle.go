package unmanaged

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/offheap/block"
	"github.com/vkngwrapper/offheap/layout"
	"github.com/vkngwrapper/offheap/memutils"
	"github.com/vkngwrapper/offheap/registry"
	"golang.org/x/exp/slog"
)

type cachedValue[T any] struct {
	value T
}

// Handle is a typed value whose storage lives in a manually managed block. The handle exclusively
// owns its block, unless it was created over memory it does not own. It keeps an immutable cached
// copy of the last value read from the block, which is replaced after every change.
//
// A Handle must be disposed. Dispose wipes the payload before the block is released.
type Handle[T any] struct {
	heap        *Heap
	layout      layout.Layout[T]
	bridge      layout.Bridge[T]
	descriptor  layout.Descriptor
	elementType reflect.Type

	block  block.MemoryBlock
	cached *cachedValue[T]

	id       registry.ID
	dead     *atomic.Bool
	disposed bool
}

func newHandle[T any](heap *Heap, l layout.Layout[T]) (*Handle[T], error) {
	if heap == nil {
		heap = DefaultHeap()
	}
	if l == nil {
		return nil, errors.New("a layout is required")
	}

	d := l.Descriptor()
	err := d.Validate(heap.geometry)
	if err != nil {
		return nil, err
	}

	h := &Handle[T]{
		heap:        heap,
		layout:      l,
		descriptor:  d,
		elementType: reflect.TypeOf((*T)(nil)).Elem(),
		cached:      &cachedValue[T]{},
	}

	if d.Kind.Headered() {
		bridge, ok := l.(layout.Bridge[T])
		if !ok {
			return nil, errors.Wrapf(memutils.ErrNoBridge, "%s is headered", d)
		}
		h.bridge = bridge
		return h, nil
	}

	if !layout.PointerFree(h.elementType) {
		return nil, errors.Newf("%s contains pointers and cannot use a fixed layout", h.elementType)
	}
	if d.Size != int(h.elementType.Size()) {
		return nil, errors.Wrapf(memutils.ErrLayoutMismatch, "%s describes %d bytes but %s is %d bytes", d, d.Size, h.elementType, h.elementType.Size())
	}

	return h, nil
}

func (h *Handle[T]) record() registry.Record {
	return registry.Record{
		Type:   h.elementType,
		Base:   uintptr(h.block.Handle()),
		Bridge: uintptr(h.block.BridgeAddress()),
		Size:   h.block.BytesAllocated(),
		Owned:  !h.block.WrapsForeignMemory(),
		Dead:   h.dead,
	}
}

// track registers the handle once its block exists. The registry learns that the handle is gone
// when it is disposed or collected.
func (h *Handle[T]) track() {
	h.dead = &atomic.Bool{}
	h.id = h.heap.registry.Register(h.record())

	dead := h.dead
	runtime.SetFinalizer(h, func(*Handle[T]) {
		dead.Store(true)
	})
}

func (h *Handle[T]) moved() error {
	return h.heap.registry.Move(h.id, h.record())
}

func (h *Handle[T]) stampTypeTag() {
	headered, ok := h.block.(*block.HeaderedBlock)
	if ok {
		headered.SetTypeTag(h.descriptor.TypeTag)
	}
}

func (h *Handle[T]) read() (T, error) {
	if h.bridge != nil {
		return h.bridge.ObjectAt(h.block.BridgeAddress()), nil
	}
	return h.layout.Decode(memutils.Bytes(h.block.Handle(), h.descriptor.Size))
}

func (h *Handle[T]) refresh() error {
	value, err := h.read()
	if err != nil {
		return err
	}
	h.cached = &cachedValue[T]{value: value}
	return nil
}

// sourceBlock wraps the current storage of value so it can be copied into the handle's block
func (h *Handle[T]) sourceBlock(value *T) (block.MemoryBlock, error) {
	if h.bridge == nil {
		return block.WrapFixed(nil, unsafe.Pointer(value), h.descriptor.Size)
	}

	address := h.bridge.AddressOf(*value)
	if address == nil {
		return nil, errors.Newf("%s value has no address", h.descriptor)
	}

	size, err := layout.RequiredSizeAt(h.heap.geometry, h.descriptor, address)
	if err != nil {
		return nil, err
	}
	return block.WrapHeadered(nil, h.heap.geometry, unsafe.Add(address, -h.heap.geometry.BridgeOffset()), size)
}

func (h *Handle[T]) logDecision(msg string, address unsafe.Pointer, attrs ...slog.Attr) {
	attrs = append([]slog.Attr{
		slog.String("type", h.elementType.String()),
		slog.String("address", fmt.Sprintf("%p", address)),
		slog.Int("size", h.block.BytesAllocated()),
	}, attrs...)
	h.heap.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

// Set copies value into the handle's block and refreshes the cached value. Headered blocks are
// re-sized to fit value first.
func (h *Handle[T]) Set(value T) error {
	if h.disposed {
		return errors.Wrap(memutils.ErrDisposed, "cannot set a disposed handle")
	}

	source, err := h.sourceBlock(&value)
	if err != nil {
		return err
	}

	err = source.CopyTo(h.block)
	if err != nil {
		return err
	}
	runtime.KeepAlive(value)

	err = h.moved()
	if err != nil {
		return err
	}
	memutils.DebugValidate(h)

	return h.refresh()
}

// Get reads the value currently stored in the block. Fixed layouts produce a copy; headered layouts
// produce a value that lives in the block.
func (h *Handle[T]) Get() (T, error) {
	if h.disposed {
		var zero T
		return zero, errors.Wrap(memutils.ErrDisposed, "cannot get from a disposed handle")
	}
	return h.read()
}

// Value returns the cached value. It is the zero value after Dispose.
func (h *Handle[T]) Value() T {
	if h == nil || h.disposed {
		var zero T
		return zero
	}
	return h.cached.value
}

// Export returns a copy of the payload, without any header. CreateFromExport accepts it.
func (h *Handle[T]) Export() ([]byte, error) {
	if h.disposed {
		return nil, errors.Wrap(memutils.ErrDisposed, "cannot export a disposed handle")
	}
	return h.block.ValueSpace(), nil
}

// BridgeAddress is the address that identifies the handle's value. For headered layouts it points
// at the type tag, so a Bridge can reconstruct the value from it.
func (h *Handle[T]) BridgeAddress() (unsafe.Pointer, error) {
	if h.disposed {
		return nil, errors.Wrap(memutils.ErrDisposed, "a disposed handle has no address")
	}
	return h.block.BridgeAddress(), nil
}

// Size is the size of the handle's block. It is 0 after Dispose.
func (h *Handle[T]) Size() int {
	if h.disposed {
		return 0
	}
	return h.block.BytesAllocated()
}

// OwnsMemory returns true if the handle's block owns its region. Handles created over another
// handle's memory, or over foreign memory, do not.
func (h *Handle[T]) OwnsMemory() bool {
	return !h.disposed && !h.block.WrapsForeignMemory()
}

// Layout is the layout the handle was created with
func (h *Handle[T]) Layout() layout.Layout[T] {
	return h.layout
}

// Disposed returns true once Dispose has been called
func (h *Handle[T]) Disposed() bool {
	return h.disposed
}

// Dispose wipes the payload and releases the block. Disposing twice is a no-op.
func (h *Handle[T]) Dispose() error {
	if h.disposed {
		return nil
	}
	h.disposed = true
	runtime.SetFinalizer(h, nil)

	h.block.SecureWipe()
	err := h.block.Release()
	err = errors.CombineErrors(err, h.heap.registry.Release(h.id))
	h.cached = &cachedValue[T]{}

	return err
}

func (h *Handle[T]) String() string {
	return fmt.Sprint(h.Value())
}

// Equal compares the cached value with value. Types with an Equal(T) bool method are compared with it.
func (h *Handle[T]) Equal(value T) bool {
	cached := h.Value()
	if equaler, ok := any(cached).(interface{ Equal(T) bool }); ok {
		return equaler.Equal(value)
	}
	return reflect.DeepEqual(cached, value)
}

// Hash hashes the bytes of the cached value. Headered values hash everything from their type tag to
// the end of their storage, so values that are Equal hash alike.
func (h *Handle[T]) Hash() uint64 {
	cached := h.Value()

	if h.bridge == nil {
		return h.heap.hasher.Hash(string(memutils.Bytes(unsafe.Pointer(&cached), h.descriptor.Size)))
	}

	address := h.bridge.AddressOf(cached)
	if address == nil {
		return h.heap.hasher.Hash("")
	}

	size, err := layout.RequiredSizeAt(h.heap.geometry, h.descriptor, address)
	if err != nil {
		return h.heap.hasher.Hash("")
	}
	return h.heap.hasher.Hash(string(memutils.Bytes(address, size-h.heap.geometry.BridgeOffset())))
}

// Validate checks the handle's block and its registry record
func (h *Handle[T]) Validate() error {
	if h.disposed {
		return nil
	}

	err := h.block.Validate()
	if err != nil {
		return err
	}

	record, ok := h.heap.registry.Get(h.id)
	if !ok {
		return errors.Newf("handle %s is not registered", h.id)
	}
	if record.Bridge != uintptr(h.block.BridgeAddress()) || record.Size != h.block.BytesAllocated() {
		return errors.Newf("registry record for handle %s is out of date", h.id)
	}
	return nil
}
