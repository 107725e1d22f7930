package host

import (
	"bytes"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/vkngwrapper/offheap/layout"
	"github.com/vkngwrapper/offheap/memutils"
)

func mustBePointerFree[E any]() reflect.Type {
	typ := reflect.TypeOf((*E)(nil)).Elem()
	if !layout.PointerFree(typ) {
		panic(fmt.Sprintf("element type %s contains pointers and cannot be stored in a host value", typ))
	}
	return typ
}

// Array is a length-prefixed array of pointer-free elements. The zero Array is empty and has no address.
// Elements are copied in and out, so they need not be aligned.
type Array[E any] struct {
	bridge unsafe.Pointer
	host   *Host
}

// NewArray lays out values as a host array
func NewArray[E any](h *Host, values []E) Array[E] {
	l := ArrayLayoutOf[E](h)
	d := l.Descriptor()

	size, _ := layout.RequiredSize(h.geometry, d, len(values))
	bridge := h.allocate(d.TypeTag, size)
	h.setLength(bridge, len(values))
	if len(values) > 0 {
		memutils.CopyMemory(h.elements(bridge), unsafe.Pointer(&values[0]), len(values)*d.ElementSize)
	}

	return Array[E]{bridge: bridge, host: h}
}

func (a Array[E]) elementSize() int {
	var zero E
	return int(unsafe.Sizeof(zero))
}

// Len is the number of elements in the array
func (a Array[E]) Len() int {
	if a.bridge == nil {
		return 0
	}
	return layout.ElementCount(a.host.geometry, a.bridge)
}

func (a Array[E]) element(index int) unsafe.Pointer {
	if index < 0 || index >= a.Len() {
		panic(fmt.Sprintf("index %d out of range [0:%d]", index, a.Len()))
	}
	return unsafe.Add(a.host.elements(a.bridge), index*a.elementSize())
}

// At returns a copy of the element at index
func (a Array[E]) At(index int) E {
	var value E
	memutils.CopyMemory(unsafe.Pointer(&value), a.element(index), a.elementSize())
	return value
}

// Put overwrites the element at index
func (a Array[E]) Put(index int, value E) {
	memutils.CopyMemory(a.element(index), unsafe.Pointer(&value), a.elementSize())
}

// Slice returns a copy of every element
func (a Array[E]) Slice() []E {
	values := make([]E, a.Len())
	if len(values) > 0 {
		memutils.CopyMemory(unsafe.Pointer(&values[0]), a.host.elements(a.bridge), len(values)*a.elementSize())
	}
	return values
}

func (a Array[E]) rawBytes() []byte {
	if a.bridge == nil {
		return nil
	}
	return memutils.ReadBytes(a.host.elements(a.bridge), a.Len()*a.elementSize())
}

// Address is the array's bridge address
func (a Array[E]) Address() unsafe.Pointer {
	return a.bridge
}

// Equal compares the length and element bytes of two arrays
func (a Array[E]) Equal(other Array[E]) bool {
	if a.bridge == other.bridge {
		return true
	}
	return a.Len() == other.Len() && bytes.Equal(a.rawBytes(), other.rawBytes())
}

func (a Array[E]) String() string {
	return fmt.Sprint(a.Slice())
}

// ArrayLayout is the layout.Bridge for Array[E]
type ArrayLayout[E any] struct {
	host       *Host
	descriptor layout.Descriptor
}

var _ layout.Bridge[Array[int32]] = &ArrayLayout[int32]{}

// ArrayLayoutOf returns the layout of this host's arrays of E. It panics if E contains pointers.
func ArrayLayoutOf[E any](h *Host) *ArrayLayout[E] {
	elementType := mustBePointerFree[E]()
	return &ArrayLayout[E]{
		host:       h,
		descriptor: h.descriptor(reflect.TypeOf(Array[E]{}), layout.KindValueArray, 0, int(elementType.Size())),
	}
}

func (l *ArrayLayout[E]) Descriptor() layout.Descriptor { return l.descriptor }

func (l *ArrayLayout[E]) AddressOf(value Array[E]) unsafe.Pointer {
	return value.bridge
}

func (l *ArrayLayout[E]) ObjectAt(address unsafe.Pointer) Array[E] {
	return Array[E]{bridge: address, host: l.host}
}

func (l *ArrayLayout[E]) Decode(data []byte) (Array[E], error) {
	bridge, err := l.host.decode(l.descriptor, data)
	if err != nil {
		return Array[E]{}, err
	}
	return Array[E]{bridge: bridge, host: l.host}, nil
}
