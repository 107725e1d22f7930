package host

import (
	"reflect"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/offheap/layout"
	"github.com/vkngwrapper/offheap/memutils"
)

// TypeTable assigns a stable uint32 tag to every type that is stored in a headered block. Tag 0 is
// never assigned and marks an untagged header.
type TypeTable struct {
	mutex  sync.Mutex
	tags   *swiss.Map[reflect.Type, uint32]
	types  *swiss.Map[uint32, reflect.Type]
	latest uint32
}

// NewTypeTable creates an empty TypeTable
func NewTypeTable() *TypeTable {
	return &TypeTable{
		tags:  swiss.NewMap[reflect.Type, uint32](16),
		types: swiss.NewMap[uint32, reflect.Type](16),
	}
}

// Tag returns the tag for typ, assigning one if necessary
func (t *TypeTable) Tag(typ reflect.Type) uint32 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	tag, ok := t.tags.Get(typ)
	if ok {
		return tag
	}

	t.latest++
	t.tags.Put(typ, t.latest)
	t.types.Put(t.latest, typ)
	return t.latest
}

// Type returns the type a tag was assigned to
func (t *TypeTable) Type(tag uint32) (reflect.Type, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.types.Get(tag)
}

// Host lays out strings, arrays, and boxes in Go memory with the same header geometry that headered
// blocks use, so that a value and a block holding it are interchangeable through their bridge addresses.
type Host struct {
	geometry layout.Geometry
	types    *TypeTable
}

// Default uses layout.DefaultGeometry
var Default = &Host{geometry: layout.DefaultGeometry, types: NewTypeTable()}

// New creates a Host with its own geometry and type table
func New(geometry layout.Geometry) (*Host, error) {
	err := geometry.Validate()
	if err != nil {
		return nil, err
	}
	if geometry.CharSize != 2 {
		return nil, errors.Newf("host strings are UTF-16, so the character size must be 2, but was %d", geometry.CharSize)
	}

	return &Host{geometry: geometry, types: NewTypeTable()}, nil
}

// Geometry is the header layout of this host's values
func (h *Host) Geometry() layout.Geometry {
	return h.geometry
}

// Types is this host's type table
func (h *Host) Types() *TypeTable {
	return h.types
}

// TypeAt reads the tag at a bridge address and returns the type it identifies
func (h *Host) TypeAt(bridge unsafe.Pointer) (reflect.Type, bool) {
	if bridge == nil {
		return nil, false
	}
	return h.types.Type(*(*uint32)(bridge))
}

func (h *Host) descriptor(typ reflect.Type, kind layout.Kind, size, elementSize int) layout.Descriptor {
	return layout.Descriptor{
		Name:        typ.String(),
		Kind:        kind,
		Size:        size,
		ElementSize: elementSize,
		TypeTag:     h.types.Tag(typ),
	}
}

// allocate creates a zeroed, 8-byte aligned headered value of size bytes in Go memory and returns its
// bridge address. The bridge address keeps the memory alive.
func (h *Host) allocate(tag uint32, size int) unsafe.Pointer {
	words := make([]uint64, (size+7)/8)
	bridge := unsafe.Add(unsafe.Pointer(&words[0]), h.geometry.BridgeOffset())
	*(*uint32)(bridge) = tag
	return bridge
}

// decode lays out an exported payload as a new value and returns its bridge address
func (h *Host) decode(d layout.Descriptor, payload []byte) (unsafe.Pointer, error) {
	required, err := layout.RequiredSizeOfPayload(h.geometry, d, payload)
	if err != nil {
		return nil, err
	}

	size := len(payload) + h.geometry.HeaderSize()
	if required > size {
		return nil, errors.Wrapf(memutils.ErrSizeMismatch, "%s needs %d bytes, but the payload fills only %d", d, required, size)
	}

	bridge := h.allocate(d.TypeTag, size)
	memutils.WriteBytes(h.payload(bridge), payload)
	return bridge, nil
}

func (h *Host) setLength(bridge unsafe.Pointer, length int) {
	*(*int32)(unsafe.Add(bridge, h.geometry.LengthOffset)) = int32(length)
}

// elements is the address of the first element of a value array or string
func (h *Host) elements(bridge unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(bridge, h.geometry.ValueArrayOverhead-h.geometry.BridgeOffset())
}

// payload is the address of the first byte after the header
func (h *Host) payload(bridge unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(bridge, h.geometry.HeaderSize()-h.geometry.BridgeOffset())
}
