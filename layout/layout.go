package layout

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Descriptor is the information the sizer and the block model need about a type
type Descriptor struct {
	// Name is used in diagnostics only
	Name string
	// Kind selects the block layout and sizing rule
	Kind Kind
	// Size is the natural storage size of a KindFixed type, or the base size, header included,
	// of a KindObject type
	Size int
	// ElementSize is the size of a single element of a KindValueArray or KindRefArray type
	ElementSize int
	// TypeTag is the identity stamped into the type-tag slot of headered blocks
	TypeTag uint32
}

// Validate checks that the descriptor is usable with the provided geometry
func (d Descriptor) Validate(g Geometry) error {
	switch d.Kind {
	case KindFixed:
		if d.Size < 0 {
			return errors.Newf("%s: fixed size must not be negative, but was %d", d.Name, d.Size)
		}
	case KindValueArray, KindRefArray:
		if d.ElementSize <= 0 {
			return errors.Newf("%s: element size must be positive, but was %d", d.Name, d.ElementSize)
		}
	case KindString:
	case KindObject:
		if d.Size < g.HeaderSize() {
			return errors.Newf("%s: object size %d is smaller than the %d byte header", d.Name, d.Size, g.HeaderSize())
		}
	default:
		return errors.Newf("%s: unknown layout kind %d", d.Name, uint32(d.Kind))
	}

	return nil
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.Name, d.Kind)
}

// Layout describes how values of type T are laid out in a memory block
type Layout[T any] interface {
	Descriptor() Descriptor
	// Decode materializes a T from the payload bytes of a block: the whole block for fixed layouts,
	// everything after the header for headered ones
	Decode(data []byte) (T, error)
}

// Bridge is the layout of a headered type. It converts between a live value and its bridge
// address: the address of the value's type-tag slot.
type Bridge[T any] interface {
	Layout[T]
	// AddressOf returns the bridge address of a live value. The address is only guaranteed to be
	// valid at the instant of the call.
	AddressOf(value T) unsafe.Pointer
	// ObjectAt reconstructs a live value from a bridge address previously obtained from AddressOf
	// or from a headered block
	ObjectAt(address unsafe.Pointer) T
}

// FixedLayout is the layout of a plain value type. The value's raw bytes are the block's entire payload.
type FixedLayout[T any] struct {
	descriptor Descriptor
}

var _ Layout[int32] = &FixedLayout[int32]{}

// Fixed creates the layout for the pointer-free type T. It panics if T contains pointers, since
// memory outside the Go heap is invisible to the garbage collector.
func Fixed[T any]() *FixedLayout[T] {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	if !PointerFree(t) {
		panic(fmt.Sprintf("type %s contains pointers and cannot use a fixed layout", t))
	}

	return &FixedLayout[T]{
		descriptor: Descriptor{
			Name: t.String(),
			Kind: KindFixed,
			Size: int(unsafe.Sizeof(zero)),
		},
	}
}

func (l *FixedLayout[T]) Descriptor() Descriptor { return l.descriptor }

// Encode returns a copy of the raw bytes of value
func (l *FixedLayout[T]) Encode(value T) []byte {
	out := make([]byte, l.descriptor.Size)
	if l.descriptor.Size > 0 {
		copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&value)), l.descriptor.Size))
	}
	return out
}

// Decode materializes a T from its raw bytes. data must hold at least Size bytes.
func (l *FixedLayout[T]) Decode(data []byte) (T, error) {
	var value T
	if len(data) < l.descriptor.Size {
		return value, errors.Newf("%s needs %d bytes, but only %d were provided", l.descriptor.Name, l.descriptor.Size, len(data))
	}
	if l.descriptor.Size > 0 {
		copy(unsafe.Slice((*byte)(unsafe.Pointer(&value)), l.descriptor.Size), data)
	}
	return value, nil
}

// PointerFree returns true if values of t contain no pointers the garbage collector would need to trace
func PointerFree(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return t.Len() == 0 || PointerFree(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !PointerFree(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
