package unmanaged

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/offheap/block"
	"github.com/vkngwrapper/offheap/layout"
	"github.com/vkngwrapper/offheap/memutils"
	"golang.org/x/exp/slog"
)

func (h *Handle[T]) abandon(err error) error {
	h.block.SecureWipe()
	return errors.CombineErrors(err, h.block.Release())
}

// New creates a handle holding an empty value: a zeroed fixed value, or an empty headered container.
// The cached value is the zero T. A nil heap means DefaultHeap.
func New[T any](heap *Heap, l layout.Layout[T]) (*Handle[T], error) {
	h, err := newHandle[T](heap, l)
	if err != nil {
		return nil, err
	}

	size, err := layout.RequiredSize(h.heap.geometry, h.descriptor, 0)
	if err != nil {
		return nil, err
	}

	h.block, err = block.New(h.heap.allocator, h.heap.geometry, h.descriptor.Kind, size)
	if err != nil {
		return nil, err
	}
	h.stampTypeTag()

	h.track()
	return h, nil
}

// NewWithValue creates a handle and sets it to a copy of value
func NewWithValue[T any](heap *Heap, l layout.Layout[T], value T) (*Handle[T], error) {
	h, err := New[T](heap, l)
	if err != nil {
		return nil, err
	}

	err = h.Set(value)
	if err != nil {
		return nil, errors.CombineErrors(err, h.Dispose())
	}

	return h, nil
}

// CreateFromExport creates a handle from the payload bytes produced by Export. Headered blocks get
// a fresh header stamped with the layout's type tag; no type information is read from data.
func CreateFromExport[T any](heap *Heap, l layout.Layout[T], data []byte) (*Handle[T], error) {
	h, err := newHandle[T](heap, l)
	if err != nil {
		return nil, err
	}

	size := len(data)
	if h.bridge == nil {
		if len(data) != h.descriptor.Size {
			return nil, errors.Wrapf(memutils.ErrSizeMismatch, "%s is %d bytes, but %d bytes were provided", h.descriptor, h.descriptor.Size, len(data))
		}
	} else {
		size += h.heap.geometry.HeaderSize()

		// the payload supplies the element count, so it has to agree with the payload length
		required, err := layout.RequiredSizeOfPayload(h.heap.geometry, h.descriptor, data)
		if err != nil {
			return nil, err
		}
		if required > size {
			return nil, errors.Wrapf(memutils.ErrSizeMismatch,
				"exported %s describes %d bytes, but only %d were provided", h.descriptor, required, size)
		}
	}

	h.block, err = block.New(h.heap.allocator, h.heap.geometry, h.descriptor.Kind, size)
	if err != nil {
		return nil, err
	}

	err = h.block.SetValueFromBytes(data)
	if err != nil {
		return nil, h.abandon(err)
	}
	h.stampTypeTag()

	err = h.refresh()
	if err != nil {
		return nil, h.abandon(err)
	}
	h.track()
	return h, nil
}

// FromPointer creates a handle over the value at address, without taking ownership of it. For headered
// layouts, address is a bridge address. If address is the bridge address of a live handle of the same
// element type in this heap's registry, the new handle aliases that handle's whole block.
func FromPointer[T any](heap *Heap, l layout.Layout[T], address unsafe.Pointer) (*Handle[T], error) {
	if address == nil {
		return nil, errors.New("cannot create a handle from a nil address")
	}

	h, err := newHandle[T](heap, l)
	if err != nil {
		return nil, err
	}

	if pruned := h.heap.registry.Prune(); pruned > 0 {
		h.heap.logger.Debug("pruned collected handles", slog.Int("count", pruned))
	}

	geometry := h.heap.geometry
	base := address
	size := h.descriptor.Size
	if h.bridge != nil {
		base = unsafe.Add(address, -geometry.BridgeOffset())
		size, err = layout.RequiredSizeAt(geometry, h.descriptor, address)
		if err != nil {
			return nil, err
		}
	}

	h.block, err = block.Wrap(h.heap.allocator, geometry, h.descriptor.Kind, base, size)
	if err != nil {
		return nil, err
	}

	record, found := h.heap.registry.Lookup(h.elementType, uintptr(address))
	if found {
		aliasBase := unsafe.Add(address, -int(record.Bridge-record.Base))
		h.block, err = block.Wrap(h.heap.allocator, geometry, h.descriptor.Kind, aliasBase, record.Size)
		if err != nil {
			return nil, err
		}
		h.logDecision("aliasing live handle", address, slog.Bool("ownerIsOwned", record.Owned))
	} else {
		h.logDecision("wrapping foreign memory", address)
	}

	err = h.refresh()
	if err != nil {
		return nil, err
	}
	h.track()
	return h, nil
}

// FromValue creates a handle from value. Fixed layouts copy value into a new block; headered layouts
// wrap value where it lives, as FromPointer does.
func FromValue[T any](heap *Heap, l layout.Layout[T], value T) (*Handle[T], error) {
	bridge, headered := l.(layout.Bridge[T])
	if !headered || !l.Descriptor().Kind.Headered() {
		return NewWithValue[T](heap, l, value)
	}

	return FromPointer[T](heap, l, bridge.AddressOf(value))
}

// ToValue returns the cached value of h, or the zero T if h is nil or disposed
func ToValue[T any](h *Handle[T]) T {
	return h.Value()
}
