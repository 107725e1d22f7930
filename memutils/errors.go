package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

var (
	// ErrLayoutMismatch is returned when a copy or set is attempted between blocks of different layout kinds
	ErrLayoutMismatch = errors.New("memory blocks have incompatible layouts")
	// ErrSizeMismatch is returned when a fixed-layout payload does not fit its destination, or when two
	// fixed-layout blocks of different sizes are copied
	ErrSizeMismatch = errors.New("memory block sizes do not match")
	// ErrInvalidSize is returned when a requested allocation size is not valid for the block layout
	ErrInvalidSize = errors.New("invalid allocation size")
	// ErrDisposed is returned when a handle is used after it has been disposed
	ErrDisposed = errors.New("handle has been disposed")
	// ErrOutOfMemory is returned when an allocation would exceed the allocator's memory limit
	ErrOutOfMemory = errors.New("out of memory")
	// ErrNoBridge is returned when a headered type is used with a layout that cannot convert between
	// values and bridge addresses
	ErrNoBridge = errors.New("layout does not provide an address bridge")
)
