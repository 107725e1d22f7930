package memutils

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uintptr
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// Bytes views size bytes at ptr as a byte slice. The slice aliases the memory at ptr.
func Bytes(ptr unsafe.Pointer, size int) []byte {
	if ptr == nil || size <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(ptr), size)
}

// ReadBytes copies size bytes out of the memory at ptr
func ReadBytes(ptr unsafe.Pointer, size int) []byte {
	out := make([]byte, size)
	copy(out, Bytes(ptr, size))
	return out
}

// WriteBytes copies data into the memory at ptr
func WriteBytes(ptr unsafe.Pointer, data []byte) {
	copy(Bytes(ptr, len(data)), data)
}

// CopyMemory copies size bytes from src to dest. Overlapping regions are handled like memmove.
func CopyMemory(dest, src unsafe.Pointer, size int) {
	copy(Bytes(dest, size), Bytes(src, size))
}

// ZeroMemory overwrites size bytes at ptr with zeroes
func ZeroMemory(ptr unsafe.Pointer, size int) {
	target := Bytes(ptr, size)
	for i := range target {
		target[i] = 0
	}
}

// IsZero returns true if every byte in data is zero
func IsZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
