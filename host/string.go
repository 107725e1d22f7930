package host

import (
	"reflect"
	"unicode/utf16"
	"unsafe"

	"github.com/vkngwrapper/offheap/layout"
	"github.com/vkngwrapper/offheap/memutils"
	"golang.org/x/exp/slices"
)

// String is a length-prefixed UTF-16 string. The zero String is empty and has no address.
type String struct {
	bridge unsafe.Pointer
	host   *Host
}

// NewString lays out s as a host string
func NewString(h *Host, s string) String {
	chars := utf16.Encode([]rune(s))
	d := h.StringLayout().Descriptor()

	size, _ := layout.RequiredSize(h.geometry, d, len(chars))
	bridge := h.allocate(d.TypeTag, size)
	h.setLength(bridge, len(chars))
	if len(chars) > 0 {
		memutils.CopyMemory(h.elements(bridge), unsafe.Pointer(&chars[0]), len(chars)*h.geometry.CharSize)
	}

	return String{bridge: bridge, host: h}
}

// Len is the number of UTF-16 code units in the string
func (s String) Len() int {
	if s.bridge == nil {
		return 0
	}
	return layout.ElementCount(s.host.geometry, s.bridge)
}

// Chars returns a copy of the string's UTF-16 code units
func (s String) Chars() []uint16 {
	chars := make([]uint16, s.Len())
	if len(chars) > 0 {
		memutils.CopyMemory(unsafe.Pointer(&chars[0]), s.host.elements(s.bridge), len(chars)*s.host.geometry.CharSize)
	}
	return chars
}

func (s String) String() string {
	return string(utf16.Decode(s.Chars()))
}

// Address is the string's bridge address
func (s String) Address() unsafe.Pointer {
	return s.bridge
}

// Equal compares the contents of two strings
func (s String) Equal(other String) bool {
	if s.bridge == other.bridge {
		return true
	}
	return slices.Equal(s.Chars(), other.Chars())
}

// StringLayout is the layout.Bridge for String
type StringLayout struct {
	host       *Host
	descriptor layout.Descriptor
}

var _ layout.Bridge[String] = &StringLayout{}

// StringLayout returns the layout of this host's strings
func (h *Host) StringLayout() *StringLayout {
	return &StringLayout{
		host:       h,
		descriptor: h.descriptor(reflect.TypeOf(String{}), layout.KindString, 0, h.geometry.CharSize),
	}
}

func (l *StringLayout) Descriptor() layout.Descriptor { return l.descriptor }

func (l *StringLayout) AddressOf(value String) unsafe.Pointer {
	return value.bridge
}

func (l *StringLayout) ObjectAt(address unsafe.Pointer) String {
	return String{bridge: address, host: l.host}
}

func (l *StringLayout) Decode(data []byte) (String, error) {
	bridge, err := l.host.decode(l.descriptor, data)
	if err != nil {
		return String{}, err
	}
	return String{bridge: bridge, host: l.host}, nil
}
