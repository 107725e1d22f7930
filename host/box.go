package host

import (
	"bytes"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/vkngwrapper/offheap/layout"
	"github.com/vkngwrapper/offheap/memutils"
)

// Box is a headered object holding a single pointer-free value. The zero Box has no address.
type Box[E any] struct {
	bridge unsafe.Pointer
	host   *Host
}

// NewBox lays out value as a host object
func NewBox[E any](h *Host, value E) Box[E] {
	d := BoxLayoutOf[E](h).Descriptor()

	box := Box[E]{bridge: h.allocate(d.TypeTag, d.Size), host: h}
	box.Put(value)
	return box
}

func (b Box[E]) size() int {
	var zero E
	return int(unsafe.Sizeof(zero))
}

// Get returns a copy of the boxed value
func (b Box[E]) Get() E {
	var value E
	if b.bridge != nil {
		memutils.CopyMemory(unsafe.Pointer(&value), b.host.payload(b.bridge), b.size())
	}
	return value
}

// Put overwrites the boxed value
func (b Box[E]) Put(value E) {
	if b.bridge == nil {
		panic("cannot write to a Box with no address")
	}
	memutils.CopyMemory(b.host.payload(b.bridge), unsafe.Pointer(&value), b.size())
}

// Address is the box's bridge address
func (b Box[E]) Address() unsafe.Pointer {
	return b.bridge
}

// Equal compares the bytes of two boxed values
func (b Box[E]) Equal(other Box[E]) bool {
	if b.bridge == other.bridge {
		return true
	}
	if b.bridge == nil || other.bridge == nil {
		return false
	}
	return bytes.Equal(
		memutils.Bytes(b.host.payload(b.bridge), b.size()),
		memutils.Bytes(other.host.payload(other.bridge), other.size()),
	)
}

func (b Box[E]) String() string {
	return fmt.Sprintf("Box(%v)", b.Get())
}

// BoxLayout is the layout.Bridge for Box[E]
type BoxLayout[E any] struct {
	host       *Host
	descriptor layout.Descriptor
}

var _ layout.Bridge[Box[int64]] = &BoxLayout[int64]{}

// BoxLayoutOf returns the layout of this host's boxes of E. It panics if E contains pointers.
func BoxLayoutOf[E any](h *Host) *BoxLayout[E] {
	valueType := mustBePointerFree[E]()
	return &BoxLayout[E]{
		host:       h,
		descriptor: h.descriptor(reflect.TypeOf(Box[E]{}), layout.KindObject, h.geometry.HeaderSize()+int(valueType.Size()), 0),
	}
}

func (l *BoxLayout[E]) Descriptor() layout.Descriptor { return l.descriptor }

func (l *BoxLayout[E]) AddressOf(value Box[E]) unsafe.Pointer {
	return value.bridge
}

func (l *BoxLayout[E]) ObjectAt(address unsafe.Pointer) Box[E] {
	return Box[E]{bridge: address, host: l.host}
}

func (l *BoxLayout[E]) Decode(data []byte) (Box[E], error) {
	bridge, err := l.host.decode(l.descriptor, data)
	if err != nil {
		return Box[E]{}, err
	}
	return Box[E]{bridge: bridge, host: l.host}, nil
}
