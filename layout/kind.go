package layout

// Kind identifies how a type is represented in a memory block
type Kind uint32

const (
	// KindFixed types are plain, pointer-free values. The whole block is payload.
	KindFixed Kind = iota
	// KindValueArray types are arrays of fixed-size elements stored inline after a headered length
	KindValueArray
	// KindRefArray types are arrays of references, which carry an extra element-type slot in their header
	KindRefArray
	// KindString types are arrays of CharSize-byte characters
	KindString
	// KindObject types are headered values with a constant base size
	KindObject
)

var kindMapping = make(map[Kind]string)

func init() {
	kindMapping[KindFixed] = "KindFixed"
	kindMapping[KindValueArray] = "KindValueArray"
	kindMapping[KindRefArray] = "KindRefArray"
	kindMapping[KindString] = "KindString"
	kindMapping[KindObject] = "KindObject"
}

func (k Kind) String() string {
	return kindMapping[k]
}

// Headered returns true if values of this kind are stored behind a sync slot and type-tag slot
func (k Kind) Headered() bool {
	return k != KindFixed
}

// Variable returns true if the size of values of this kind depends on an element count
func (k Kind) Variable() bool {
	return k == KindValueArray || k == KindRefArray || k == KindString
}
