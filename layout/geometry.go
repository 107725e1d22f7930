package layout

import (
	"github.com/cockroachdb/errors"
)

// Geometry describes the header layout that the host runtime expects of headered values. Block
// logic reads every offset from here, so a platform integration can supply its own header shape.
type Geometry struct {
	// SyncSlotSize is the size of the opaque slot at the very beginning of a headered block
	SyncSlotSize int
	// TypeTagSize is the size of the type identity slot that follows the sync slot. The bridge
	// address of a headered block points at this slot.
	TypeTagSize int
	// LengthOffset is the offset from the bridge address at which variable-length values store
	// their element count as an int32
	LengthOffset int
	// ValueArrayOverhead is the size of an empty array of fixed-size elements or an empty string
	ValueArrayOverhead int
	// RefArrayOverhead is the size of an empty array of references
	RefArrayOverhead int
	// CharSize is the size in bytes of one string character
	CharSize int
}

// DefaultGeometry is a 4-byte sync slot, a 4-byte type tag and a 4-byte length
var DefaultGeometry = Geometry{
	SyncSlotSize:       4,
	TypeTagSize:        4,
	LengthOffset:       4,
	ValueArrayOverhead: 12,
	RefArrayOverhead:   16,
	CharSize:           2,
}

// HeaderSize is the number of bytes before the payload of a headered block
func (g Geometry) HeaderSize() int {
	return g.SyncSlotSize + g.TypeTagSize
}

// BridgeOffset is the offset from the base of a headered block to its bridge address
func (g Geometry) BridgeOffset() int {
	return g.SyncSlotSize
}

// LengthEnd is the number of payload bytes, counted from the end of the header, that a
// variable-length value needs to hold its element count
func (g Geometry) LengthEnd() int {
	return g.LengthOffset + 4 - g.TypeTagSize
}

// Validate checks that the geometry describes a consistent header
func (g Geometry) Validate() error {
	if g.SyncSlotSize < 0 {
		return errors.Newf("sync slot size must not be negative, but was %d", g.SyncSlotSize)
	}
	if g.TypeTagSize != 4 {
		return errors.Newf("type tag size must be 4, but was %d", g.TypeTagSize)
	}
	if g.LengthOffset < g.TypeTagSize {
		return errors.Newf("length offset %d overlaps the type tag slot", g.LengthOffset)
	}
	lengthEnd := g.SyncSlotSize + g.LengthOffset + 4
	if g.ValueArrayOverhead < lengthEnd {
		return errors.Newf("value array overhead %d is too small to hold the length field ending at %d", g.ValueArrayOverhead, lengthEnd)
	}
	if g.RefArrayOverhead < g.ValueArrayOverhead {
		return errors.Newf("reference array overhead %d is smaller than value array overhead %d", g.RefArrayOverhead, g.ValueArrayOverhead)
	}
	if g.CharSize <= 0 {
		return errors.Newf("character size must be positive, but was %d", g.CharSize)
	}
	return nil
}
