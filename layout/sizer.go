package layout

import (
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/offheap/memutils"
)

// RequiredSize computes the number of bytes a block needs to hold a value described by d. count is
// the element count of variable-length kinds and is ignored for the others. Fresh, empty containers
// use a count of 0.
func RequiredSize(g Geometry, d Descriptor, count int) (int, error) {
	if count < 0 {
		return 0, errors.Wrapf(memutils.ErrInvalidSize, "%s: element count %d is negative", d.Name, count)
	}

	switch d.Kind {
	case KindFixed, KindObject:
		return d.Size, nil
	case KindValueArray:
		return g.ValueArrayOverhead + count*d.ElementSize, nil
	case KindString:
		return g.ValueArrayOverhead + count*g.CharSize, nil
	case KindRefArray:
		return g.RefArrayOverhead + count*d.ElementSize, nil
	}

	return 0, errors.Newf("%s: unknown layout kind %d", d.Name, uint32(d.Kind))
}

// ElementCount reads the element count stored at LengthOffset past a bridge address
func ElementCount(g Geometry, bridge unsafe.Pointer) int {
	return int(*(*int32)(unsafe.Add(bridge, g.LengthOffset)))
}

// RequiredSizeAt computes the size of the block holding the value whose bridge address is bridge.
// Variable-length kinds read their element count from the header at that address; this is the only
// place the header geometry of memory outside this module is trusted.
func RequiredSizeAt(g Geometry, d Descriptor, bridge unsafe.Pointer) (int, error) {
	if bridge == nil {
		return 0, errors.Newf("%s: cannot size a value at a nil address", d.Name)
	}

	if !d.Kind.Variable() {
		return RequiredSize(g, d, 0)
	}

	return RequiredSize(g, d, ElementCount(g, bridge))
}

// RequiredSizeOfPayload computes the size of the block that an exported payload describes. For
// headered kinds payload is everything after the header, and variable-length kinds read their element
// count from it. A payload too short to hold the element count is an ErrSizeMismatch.
func RequiredSizeOfPayload(g Geometry, d Descriptor, payload []byte) (int, error) {
	if !d.Kind.Variable() {
		return RequiredSize(g, d, 0)
	}

	end := g.LengthEnd()
	if len(payload) < end {
		return 0, errors.Wrapf(memutils.ErrSizeMismatch, "%s: payload of %d bytes ends before the element count at byte %d", d.Name, len(payload), end)
	}

	count := int32(binary.NativeEndian.Uint32(payload[end-4 : end]))
	return RequiredSize(g, d, int(count))
}
